/**
 * @description
 * Scheduled job implementations: payment retry and scheduled-payment sweeps,
 * notification redelivery, and the demande/pool expiry passes.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/kousaila502/e-social-assistance/internal/domain"
)

// sweepBatchSize caps how many rows one cron tick works through.
const sweepBatchSize = 100

// PaymentSweeper runs the due-payment sweeps.
type PaymentSweeper interface {
	RunDuePaymentRetries(ctx context.Context, limit int) (int, error)
	RunDueScheduledPayments(ctx context.Context, limit int) (int, error)
}

// NotificationRedeliverer re-runs delivery for failed notifications.
type NotificationRedeliverer interface {
	RunDueNotificationRetries(ctx context.Context, limit int) (int, error)
}

// ExpiryStore is the subset of the repository the expiry jobs touch.
type ExpiryStore interface {
	ExpireStaleDemandes(ctx context.Context, submittedBefore time.Time, limit int) ([]domain.Demande, error)
	ExpirePoolsBeforeFiscalYear(ctx context.Context, fiscalYear int) (int64, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	payments      PaymentSweeper
	notifications NotificationRedeliverer
	store         ExpiryStore
	expiryDays    int
	logger        *slog.Logger
}

// NewJobs creates a new Jobs runner. expiryDays is how long a demande may sit
// in submitted or pending_docs before it expires.
func NewJobs(payments PaymentSweeper, notifications NotificationRedeliverer, store ExpiryStore, expiryDays int, logger *slog.Logger) *Jobs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{
		payments:      payments,
		notifications: notifications,
		store:         store,
		expiryDays:    expiryDays,
		logger:        logger,
	}
}

// ProcessPaymentRetries re-processes failed payments whose backoff has passed.
func (j *Jobs) ProcessPaymentRetries() {
	ctx := context.Background()

	completed, err := j.payments.RunDuePaymentRetries(ctx, sweepBatchSize)
	if err != nil {
		j.logger.Error("payment retry sweep failed", "error", err)
		return
	}
	if completed > 0 {
		j.logger.Info("payment retry sweep finished", "completed", completed)
	}
}

// ProcessScheduledPayments disburses payments whose scheduled date arrived.
func (j *Jobs) ProcessScheduledPayments() {
	ctx := context.Background()

	completed, err := j.payments.RunDueScheduledPayments(ctx, sweepBatchSize)
	if err != nil {
		j.logger.Error("scheduled payment sweep failed", "error", err)
		return
	}
	if completed > 0 {
		j.logger.Info("scheduled payment sweep finished", "completed", completed)
	}
}

// RedeliverNotifications re-runs delivery for failed notifications.
func (j *Jobs) RedeliverNotifications() {
	ctx := context.Background()

	redelivered, err := j.notifications.RunDueNotificationRetries(ctx, sweepBatchSize)
	if err != nil {
		j.logger.Error("notification redelivery sweep failed", "error", err)
		return
	}
	if redelivered > 0 {
		j.logger.Info("notification redelivery sweep finished", "redelivered", redelivered)
	}
}

// ExpireStaleDemandes expires demandes waiting on review or documents past
// the configured deadline.
func (j *Jobs) ExpireStaleDemandes() {
	ctx := context.Background()
	cutoff := time.Now().UTC().AddDate(0, 0, -j.expiryDays)

	expired, err := j.store.ExpireStaleDemandes(ctx, cutoff, sweepBatchSize)
	if err != nil {
		j.logger.Error("demande expiry sweep failed", "error", err)
		return
	}
	if len(expired) > 0 {
		j.logger.Info("demande expiry sweep finished", "expired", len(expired), "cutoff", cutoff)
	}
}

// ExpireBudgetPools expires pools left over from previous fiscal years.
func (j *Jobs) ExpireBudgetPools() {
	ctx := context.Background()
	fiscalYear := time.Now().UTC().Year()

	expired, err := j.store.ExpirePoolsBeforeFiscalYear(ctx, fiscalYear)
	if err != nil {
		j.logger.Error("pool expiry sweep failed", "error", err)
		return
	}
	if expired > 0 {
		j.logger.Info("pool expiry sweep finished", "expired", expired, "fiscal_year", fiscalYear)
	}
}
