/**
 * @description
 * Cron scheduler setup for the workflow's recurring sweeps.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/kousaila502/e-social-assistance/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.PaymentRetrySchedule, s.jobs.ProcessPaymentRetries); err != nil {
		s.logger.Error("failed to schedule payment retry sweep", "error", err)
	} else {
		s.logger.Info("scheduled payment retry sweep", "schedule", s.config.PaymentRetrySchedule)
	}

	if _, err := s.cron.AddFunc(s.config.ScheduledPaymentSchedule, s.jobs.ProcessScheduledPayments); err != nil {
		s.logger.Error("failed to schedule scheduled-payment sweep", "error", err)
	} else {
		s.logger.Info("scheduled scheduled-payment sweep", "schedule", s.config.ScheduledPaymentSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.NotificationRetrySched, s.jobs.RedeliverNotifications); err != nil {
		s.logger.Error("failed to schedule notification redelivery sweep", "error", err)
	} else {
		s.logger.Info("scheduled notification redelivery sweep", "schedule", s.config.NotificationRetrySched)
	}

	if _, err := s.cron.AddFunc(s.config.DemandeExpirySchedule, s.jobs.ExpireStaleDemandes); err != nil {
		s.logger.Error("failed to schedule demande expiry sweep", "error", err)
	} else {
		s.logger.Info("scheduled demande expiry sweep", "schedule", s.config.DemandeExpirySchedule)
	}

	if _, err := s.cron.AddFunc(s.config.PoolExpirySchedule, s.jobs.ExpireBudgetPools); err != nil {
		s.logger.Error("failed to schedule pool expiry sweep", "error", err)
	} else {
		s.logger.Info("scheduled pool expiry sweep", "schedule", s.config.PoolExpirySchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
