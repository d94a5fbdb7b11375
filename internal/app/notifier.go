/**
 * @description
 * This file implements the notification consumer. It binds to the workflow
 * routing keys on the topic exchange, materializes Notification rows from
 * event payloads, and fans each row out over its enabled channels (the row
 * itself is the in-app delivery; email, sms and push go through gateway
 * clients). A failed fan-out arms an exponential backoff and is picked up
 * again by the scheduled redelivery sweep.
 *
 * Handlers return true to ack and false to requeue, so a transient database
 * or gateway outage replays the event instead of losing it. Malformed
 * payloads are acknowledged and dropped.
 *
 * @dependencies
 * - internal/store: Notification persistence and audience resolution.
 * - pkg/mailclient, pkg/smsclient, pkg/pushclient: Delivery gateways.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/kousaila502/e-social-assistance/internal/metrics"
	"github.com/kousaila502/e-social-assistance/internal/store"
	"github.com/kousaila502/e-social-assistance/pkg/mailclient"
	"github.com/kousaila502/e-social-assistance/pkg/pushclient"
	"github.com/kousaila502/e-social-assistance/pkg/smsclient"
)

// consumeTimeout bounds the processing of a single consumed event.
const consumeTimeout = 15 * time.Second

// NotificationConsumer turns workflow events into notifications.
type NotificationConsumer struct {
	repo   store.Repository
	mail   *mailclient.Client
	sms    *smsclient.Client
	push   *pushclient.Client
	logger *slog.Logger
}

// NewNotificationConsumer creates a consumer over the given repository and
// delivery clients. Nil clients disable their channel with a recorded error
// instead of a crash.
func NewNotificationConsumer(repo store.Repository, mail *mailclient.Client, sms *smsclient.Client, push *pushclient.Client, logger *slog.Logger) *NotificationConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationConsumer{
		repo:   repo,
		mail:   mail,
		sms:    sms,
		push:   push,
		logger: logger,
	}
}

// Bindings returns the routing-key handler map to register on the queue.
func (c *NotificationConsumer) Bindings() map[string]func([]byte) bool {
	return map[string]func([]byte) bool{
		domain.RKDemandeSubmitted:      c.demandeHandler(domain.RKDemandeSubmitted),
		domain.RKDemandeAssigned:       c.demandeHandler(domain.RKDemandeAssigned),
		domain.RKDemandeReviewed:       c.demandeHandler(domain.RKDemandeReviewed),
		domain.RKDemandeDocsRequested:  c.demandeHandler(domain.RKDemandeDocsRequested),
		domain.RKDemandeCancelled:      c.demandeHandler(domain.RKDemandeCancelled),
		domain.RKDemandeExpired:        c.demandeHandler(domain.RKDemandeExpired),
		domain.RKPaymentCreated:        c.paymentHandler(domain.RKPaymentCreated),
		domain.RKPaymentCompleted:      c.paymentHandler(domain.RKPaymentCompleted),
		domain.RKPaymentFailed:         c.paymentHandler(domain.RKPaymentFailed),
		domain.RKPaymentCancelled:      c.paymentHandler(domain.RKPaymentCancelled),
		domain.RKPoolDepleted:          c.poolHandler(domain.RKPoolDepleted),
		domain.RKPoolTransferred:       c.poolHandler(domain.RKPoolTransferred),
		domain.RKAnnouncementPublished: c.handleAnnouncementPublished,
	}
}

func (c *NotificationConsumer) demandeHandler(routingKey string) func([]byte) bool {
	return func(body []byte) bool {
		var event domain.DemandeEvent
		if err := json.Unmarshal(body, &event); err != nil {
			c.logger.Error("failed to unmarshal demande event; dropping", "routing_key", routingKey, "error", err)
			return true
		}
		if event.DemandeID == uuid.Nil || event.ApplicantID == uuid.Nil {
			c.logger.Error("demande event missing ids; dropping", "routing_key", routingKey)
			return true
		}

		ctx, cancel := context.WithTimeout(context.Background(), consumeTimeout)
		defer cancel()

		if err := c.processDemandeEvent(ctx, routingKey, event); err != nil {
			c.logger.Error("failed to process demande event", "routing_key", routingKey, "demande_id", event.DemandeID, "error", err)
			return false
		}
		return true
	}
}

func (c *NotificationConsumer) paymentHandler(routingKey string) func([]byte) bool {
	return func(body []byte) bool {
		var event domain.PaymentEvent
		if err := json.Unmarshal(body, &event); err != nil {
			c.logger.Error("failed to unmarshal payment event; dropping", "routing_key", routingKey, "error", err)
			return true
		}
		if event.PaymentID == uuid.Nil {
			c.logger.Error("payment event missing payment id; dropping", "routing_key", routingKey)
			return true
		}

		ctx, cancel := context.WithTimeout(context.Background(), consumeTimeout)
		defer cancel()

		if err := c.processPaymentEvent(ctx, routingKey, event); err != nil {
			c.logger.Error("failed to process payment event", "routing_key", routingKey, "payment_id", event.PaymentID, "error", err)
			return false
		}
		return true
	}
}

func (c *NotificationConsumer) poolHandler(routingKey string) func([]byte) bool {
	return func(body []byte) bool {
		var event domain.PoolEvent
		if err := json.Unmarshal(body, &event); err != nil {
			c.logger.Error("failed to unmarshal pool event; dropping", "routing_key", routingKey, "error", err)
			return true
		}
		if event.PoolID == uuid.Nil {
			c.logger.Error("pool event missing pool id; dropping", "routing_key", routingKey)
			return true
		}

		ctx, cancel := context.WithTimeout(context.Background(), consumeTimeout)
		defer cancel()

		if err := c.processPoolEvent(ctx, routingKey, event); err != nil {
			c.logger.Error("failed to process pool event", "routing_key", routingKey, "pool_id", event.PoolID, "error", err)
			return false
		}
		return true
	}
}

func (c *NotificationConsumer) handleAnnouncementPublished(body []byte) bool {
	var event domain.AnnouncementEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error("failed to unmarshal announcement event; dropping", "error", err)
		return true
	}
	if event.AnnouncementID == uuid.Nil {
		c.logger.Error("announcement event missing id; dropping")
		return true
	}

	// Audience fan-out can touch many rows; give it more room than the
	// single-recipient handlers.
	ctx, cancel := context.WithTimeout(context.Background(), 4*consumeTimeout)
	defer cancel()

	if err := c.processAnnouncementEvent(ctx, event); err != nil {
		c.logger.Error("failed to process announcement event", "announcement_id", event.AnnouncementID, "error", err)
		return false
	}
	return true
}

func (c *NotificationConsumer) processDemandeEvent(ctx context.Context, routingKey string, event domain.DemandeEvent) error {
	switch routingKey {
	case domain.RKDemandeSubmitted:
		return c.notify(ctx, &domain.Notification{
			RecipientID: event.ApplicantID,
			Kind:        domain.KindDemandeSubmitted,
			Title:       "Demande received",
			Message:     fmt.Sprintf("Your demande %s has been received and is awaiting review.", event.Reference),
			DemandeID:   &event.DemandeID,
		}, domain.ChannelInApp)

	case domain.RKDemandeAssigned:
		if event.AssigneeID == nil {
			c.logger.Warn("assignment event without assignee; dropping", "demande_id", event.DemandeID)
			return nil
		}
		return c.notify(ctx, &domain.Notification{
			RecipientID: *event.AssigneeID,
			Kind:        domain.KindDemandeAssigned,
			Title:       "Demande assigned to you",
			Message:     fmt.Sprintf("Demande %s has been assigned to you for review.", event.Reference),
			DemandeID:   &event.DemandeID,
		}, domain.ChannelInApp, domain.ChannelPush)

	case domain.RKDemandeReviewed:
		title := "Demande reviewed"
		message := fmt.Sprintf("Your demande %s has been reviewed.", event.Reference)
		switch event.Status {
		case domain.DemandeStatusApproved:
			title = "Demande approved"
			if event.Amount != nil {
				message = fmt.Sprintf("Your demande %s has been approved for %s.", event.Reference, formatAmount(*event.Amount))
			} else {
				message = fmt.Sprintf("Your demande %s has been approved.", event.Reference)
			}
		case domain.DemandeStatusRejected:
			title = "Demande rejected"
			message = fmt.Sprintf("Your demande %s has been rejected.", event.Reference)
			if event.Motif != nil && *event.Motif != "" {
				message += " Reason: " + *event.Motif
			}
		}
		return c.notify(ctx, &domain.Notification{
			RecipientID: event.ApplicantID,
			Kind:        domain.KindDemandeReviewed,
			Title:       title,
			Message:     message,
			DemandeID:   &event.DemandeID,
		}, domain.ChannelInApp, domain.ChannelEmail, domain.ChannelPush)

	case domain.RKDemandeDocsRequested:
		message := fmt.Sprintf("Your demande %s needs additional documents before review can continue.", event.Reference)
		if event.Motif != nil && *event.Motif != "" {
			message += " " + *event.Motif
		}
		return c.notify(ctx, &domain.Notification{
			RecipientID: event.ApplicantID,
			Kind:        domain.KindDemandeDocsNeeded,
			Title:       "Additional documents required",
			Message:     message,
			DemandeID:   &event.DemandeID,
		}, domain.ChannelInApp, domain.ChannelEmail)

	case domain.RKDemandeCancelled:
		message := fmt.Sprintf("Your demande %s has been cancelled.", event.Reference)
		if event.Motif != nil && *event.Motif != "" {
			message += " Reason: " + *event.Motif
		}
		return c.notify(ctx, &domain.Notification{
			RecipientID: event.ApplicantID,
			Kind:        domain.KindDemandeCancelled,
			Title:       "Demande cancelled",
			Message:     message,
			DemandeID:   &event.DemandeID,
		}, domain.ChannelInApp)

	case domain.RKDemandeExpired:
		return c.notify(ctx, &domain.Notification{
			RecipientID: event.ApplicantID,
			Kind:        domain.KindDemandeExpired,
			Title:       "Demande expired",
			Message:     fmt.Sprintf("Your demande %s has expired after a long period of inactivity. You may submit a new demande at any time.", event.Reference),
			DemandeID:   &event.DemandeID,
		}, domain.ChannelInApp, domain.ChannelEmail)

	default:
		c.logger.Warn("unhandled demande routing key; dropping", "routing_key", routingKey)
		return nil
	}
}

func (c *NotificationConsumer) processPaymentEvent(ctx context.Context, routingKey string, event domain.PaymentEvent) error {
	switch routingKey {
	case domain.RKPaymentCreated:
		return c.notify(ctx, &domain.Notification{
			RecipientID: event.RecipientID,
			Kind:        domain.KindPaymentCreated,
			Title:       "Payment allocated",
			Message:     fmt.Sprintf("A payment of %s has been allocated for your demande and will be disbursed shortly.", formatAmount(event.Amount)),
			DemandeID:   &event.DemandeID,
			PaymentID:   &event.PaymentID,
		}, domain.ChannelInApp)

	case domain.RKPaymentCompleted:
		return c.notify(ctx, &domain.Notification{
			RecipientID: event.RecipientID,
			Kind:        domain.KindPaymentCompleted,
			Title:       "Payment completed",
			Message:     fmt.Sprintf("Your payment of %s has been disbursed.", formatAmount(event.Amount)),
			DemandeID:   &event.DemandeID,
			PaymentID:   &event.PaymentID,
		}, domain.ChannelInApp, domain.ChannelEmail, domain.ChannelSMS)

	case domain.RKPaymentFailed:
		message := fmt.Sprintf("Payment of %s could not be disbursed (attempt %d).", formatAmount(event.Amount), event.RetryCount)
		if event.FailureReason != nil && *event.FailureReason != "" {
			message += " " + *event.FailureReason
		}
		return c.notifyRole(ctx, domain.RoleFinanceManager, &domain.Notification{
			Kind:      domain.KindPaymentFailed,
			Title:     "Payment failed",
			Message:   message,
			DemandeID: &event.DemandeID,
			PaymentID: &event.PaymentID,
			PoolID:    &event.PoolID,
		}, domain.ChannelInApp)

	case domain.RKPaymentCancelled:
		message := fmt.Sprintf("A payment of %s for your demande has been cancelled.", formatAmount(event.Amount))
		if event.FailureReason != nil && *event.FailureReason != "" {
			message += " Reason: " + *event.FailureReason
		}
		return c.notify(ctx, &domain.Notification{
			RecipientID: event.RecipientID,
			Kind:        domain.KindPaymentCancelled,
			Title:       "Payment cancelled",
			Message:     message,
			DemandeID:   &event.DemandeID,
			PaymentID:   &event.PaymentID,
		}, domain.ChannelInApp)

	default:
		c.logger.Warn("unhandled payment routing key; dropping", "routing_key", routingKey)
		return nil
	}
}

func (c *NotificationConsumer) processPoolEvent(ctx context.Context, routingKey string, event domain.PoolEvent) error {
	pool, err := c.repo.FindBudgetPoolByID(ctx, event.PoolID)
	if err != nil {
		if errors.Is(err, store.ErrBudgetPoolNotFound) {
			c.logger.Warn("pool event for unknown pool; dropping", "pool_id", event.PoolID)
			return nil
		}
		return fmt.Errorf("load pool: %w", err)
	}

	switch routingKey {
	case domain.RKPoolDepleted:
		return c.notifyRole(ctx, domain.RoleFinanceManager, &domain.Notification{
			Kind:    domain.KindPoolDepleted,
			Title:   "Budget pool depleted",
			Message: fmt.Sprintf("Budget pool %q (%s, %d) has no remaining funds. New allocations will be rejected until it is refilled.", pool.Name, pool.Department, pool.FiscalYear),
			PoolID:  &event.PoolID,
		}, domain.ChannelInApp, domain.ChannelEmail)

	case domain.RKPoolTransferred:
		destName := "another pool"
		if event.DestinationPoolID != nil {
			if dest, err := c.repo.FindBudgetPoolByID(ctx, *event.DestinationPoolID); err == nil {
				destName = fmt.Sprintf("%q", dest.Name)
			}
		}
		return c.notifyRole(ctx, domain.RoleFinanceManager, &domain.Notification{
			Kind:    domain.KindPoolTransferred,
			Title:   "Budget transferred",
			Message: fmt.Sprintf("%s was transferred from pool %q to %s. The source pool has %s remaining.", formatAmount(event.Amount), pool.Name, destName, formatAmount(event.Remaining)),
			PoolID:  &event.PoolID,
		}, domain.ChannelInApp)

	default:
		c.logger.Warn("unhandled pool routing key; dropping", "routing_key", routingKey)
		return nil
	}
}

func (c *NotificationConsumer) processAnnouncementEvent(ctx context.Context, event domain.AnnouncementEvent) error {
	announcement, err := c.repo.FindAnnouncementByID(ctx, event.AnnouncementID)
	if err != nil {
		if errors.Is(err, store.ErrAnnouncementNotFound) {
			c.logger.Warn("announcement event for unknown announcement; dropping", "announcement_id", event.AnnouncementID)
			return nil
		}
		return fmt.Errorf("load announcement: %w", err)
	}

	recipients, err := c.repo.FindAudienceRecipientIDs(ctx, event.Audience, event.AudienceWilaya, event.AudienceRole)
	if err != nil {
		return fmt.Errorf("resolve audience: %w", err)
	}

	for _, recipientID := range recipients {
		err := c.notify(ctx, &domain.Notification{
			RecipientID:    recipientID,
			Kind:           domain.KindAnnouncement,
			Title:          announcement.Title,
			Message:        truncateMessage(announcement.Body, 500),
			AnnouncementID: &announcement.ID,
		}, domain.ChannelInApp, domain.ChannelPush)
		if err != nil {
			return fmt.Errorf("fan out to %s: %w", recipientID, err)
		}
	}
	return nil
}

// notifyRole fans one notification out to every active user holding the role.
func (c *NotificationConsumer) notifyRole(ctx context.Context, role domain.Role, template *domain.Notification, channels ...domain.Channel) error {
	recipients, err := c.repo.FindAudienceRecipientIDs(ctx, domain.AudienceRole, nil, &role)
	if err != nil {
		return fmt.Errorf("resolve %s audience: %w", role, err)
	}
	for _, recipientID := range recipients {
		n := *template
		n.RecipientID = recipientID
		if err := c.notify(ctx, &n, channels...); err != nil {
			return fmt.Errorf("fan out to %s: %w", recipientID, err)
		}
	}
	return nil
}

// notify materializes one notification row with its channel set and runs the
// first dispatch round. Channels the recipient cannot receive are dropped up
// front so they never burn retries.
func (c *NotificationConsumer) notify(ctx context.Context, notification *domain.Notification, channels ...domain.Channel) error {
	recipient, err := c.repo.FindUserByID(ctx, notification.RecipientID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			c.logger.Warn("notification recipient no longer exists; dropping", "recipient_id", notification.RecipientID)
			return nil
		}
		return fmt.Errorf("load recipient: %w", err)
	}

	selected := make([]domain.NotificationChannel, 0, len(channels))
	for _, ch := range channels {
		if ch == domain.ChannelSMS && (recipient.Phone == nil || *recipient.Phone == "") {
			continue
		}
		selected = append(selected, domain.NotificationChannel{Channel: ch, Enabled: true})
	}

	notification.ID = uuid.New()
	notification.Status = domain.NotificationStatusPending
	notification.MaxRetries = domain.NotificationMaxRetries
	if err := c.repo.CreateNotificationWithChannels(ctx, notification, selected); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	if _, err := c.dispatch(ctx, notification, recipient); err != nil {
		// The row exists; a dispatch bookkeeping error must not replay the
		// event and create a duplicate.
		c.logger.Error("dispatch bookkeeping failed", "notification_id", notification.ID, "error", err)
	}
	return nil
}

// dispatch runs one delivery round over the channels that have not been
// delivered yet, then records the aggregate outcome and returns it. Gateway
// channels count as sent once accepted; a round where only in-app rows were
// involved counts as delivered outright.
func (c *NotificationConsumer) dispatch(ctx context.Context, notification *domain.Notification, recipient *domain.User) (domain.NotificationStatus, error) {
	failures := 0
	gatewayChannels := false

	for _, ch := range notification.Channels {
		if !ch.Enabled || ch.Delivered {
			continue
		}
		if ch.Channel != domain.ChannelInApp {
			gatewayChannels = true
		}

		deliverErr := c.deliverChannel(ctx, notification, recipient, ch.Channel)
		metrics.RecordChannelDelivery(string(ch.Channel), deliverErr == nil)
		var attemptErr *string
		if deliverErr != nil {
			failures++
			msg := deliverErr.Error()
			attemptErr = &msg
			c.logger.Warn("channel delivery failed",
				"notification_id", notification.ID,
				"channel", ch.Channel,
				"error", deliverErr)
		}
		if err := c.repo.RecordChannelAttempt(ctx, notification.ID, ch.Channel, deliverErr == nil, attemptErr); err != nil {
			return "", fmt.Errorf("record %s attempt: %w", ch.Channel, err)
		}
	}

	status := domain.NotificationStatusDelivered
	var retryAfter *time.Time
	switch {
	case failures > 0:
		status = domain.NotificationStatusFailed
		if notification.RetryCount+1 < notification.MaxRetries {
			at := time.Now().UTC().Add(domain.RetryBackoff(notification.RetryCount + 1))
			retryAfter = &at
		}
	case gatewayChannels:
		status = domain.NotificationStatusSent
	}

	if err := c.repo.FinalizeNotificationDispatch(ctx, notification.ID, status, retryAfter); err != nil {
		return "", fmt.Errorf("finalize dispatch: %w", err)
	}
	return status, nil
}

func (c *NotificationConsumer) deliverChannel(ctx context.Context, notification *domain.Notification, recipient *domain.User, channel domain.Channel) error {
	switch channel {
	case domain.ChannelInApp:
		// The notification row itself is the in-app delivery.
		return nil
	case domain.ChannelEmail:
		if c.mail == nil {
			return fmt.Errorf("mail client not configured")
		}
		return c.mail.Send(ctx, mailclient.Message{
			To:      recipient.Email,
			Subject: notification.Title,
			Body:    notification.Message,
		})
	case domain.ChannelSMS:
		if c.sms == nil {
			return fmt.Errorf("sms client not configured")
		}
		if recipient.Phone == nil || *recipient.Phone == "" {
			return fmt.Errorf("recipient has no phone number")
		}
		return c.sms.Send(ctx, smsclient.Message{
			To:   *recipient.Phone,
			Body: notification.Title + ": " + notification.Message,
		})
	case domain.ChannelPush:
		if c.push == nil {
			return fmt.Errorf("push client not configured")
		}
		return c.push.Send(ctx, pushclient.Message{
			RecipientID: recipient.ID.String(),
			Title:       notification.Title,
			Body:        notification.Message,
		})
	default:
		return fmt.Errorf("unknown channel %q", channel)
	}
}

// RunDueNotificationRetries re-runs delivery for failed notifications whose
// backoff window has passed. Returns how many reached a non-failed state.
func (c *NotificationConsumer) RunDueNotificationRetries(ctx context.Context, limit int) (int, error) {
	due, err := c.repo.FindDueNotificationRetries(ctx, time.Now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("find due notification retries: %w", err)
	}

	redelivered := 0
	for i := range due {
		// Refetch to pick up the channel rows and any concurrent change.
		notification, err := c.repo.FindNotificationByID(ctx, due[i].ID)
		if err != nil {
			if errors.Is(err, store.ErrNotificationNotFound) {
				continue
			}
			c.logger.Warn("failed to load notification for redelivery", "notification_id", due[i].ID, "error", err)
			continue
		}
		if !notification.CanRetryDelivery(time.Now().UTC()) {
			continue
		}

		recipient, err := c.repo.FindUserByID(ctx, notification.RecipientID)
		if err != nil {
			c.logger.Warn("failed to load recipient for redelivery", "notification_id", notification.ID, "error", err)
			continue
		}

		status, err := c.dispatch(ctx, notification, recipient)
		if err != nil {
			c.logger.Warn("redelivery dispatch failed", "notification_id", notification.ID, "error", err)
			continue
		}
		if status != domain.NotificationStatusFailed {
			redelivered++
		}
	}
	return redelivered, nil
}

// formatAmount renders a centime amount as dinars for message text.
func formatAmount(centimes int64) string {
	return fmt.Sprintf("%d.%02d DZD", centimes/100, centimes%100)
}

func truncateMessage(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
