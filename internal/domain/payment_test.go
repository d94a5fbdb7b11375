package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRetryBackoffDoublesPerAttempt(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		want       time.Duration
	}{
		{name: "first failure waits one minute", retryCount: 0, want: 1 * time.Minute},
		{name: "second failure waits two minutes", retryCount: 1, want: 2 * time.Minute},
		{name: "third failure waits four minutes", retryCount: 2, want: 4 * time.Minute},
		{name: "fourth failure waits eight minutes", retryCount: 3, want: 8 * time.Minute},
		{name: "negative counts clamp to the floor", retryCount: -4, want: 1 * time.Minute},
		{name: "large counts cap the shift", retryCount: 40, want: 1024 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RetryBackoff(tt.retryCount)
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestPaymentCanRetry(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name    string
		payment Payment
		wantErr error
	}{
		{
			name:    "pending payments are not retryable",
			payment: Payment{ID: uuid.New(), Status: PaymentStatusPending, MaxRetries: DefaultMaxRetries},
			wantErr: ErrInvalidState,
		},
		{
			name:    "completed payments are not retryable",
			payment: Payment{ID: uuid.New(), Status: PaymentStatusCompleted, MaxRetries: DefaultMaxRetries},
			wantErr: ErrInvalidState,
		},
		{
			name:    "exhausted attempts stop retries",
			payment: Payment{ID: uuid.New(), Status: PaymentStatusFailed, RetryCount: 3, MaxRetries: 3, RetryAfter: &past},
			wantErr: ErrRetriesExhausted,
		},
		{
			name:    "backoff window still open",
			payment: Payment{ID: uuid.New(), Status: PaymentStatusFailed, RetryCount: 1, MaxRetries: 3, RetryAfter: &future},
			wantErr: ErrRetryNotDue,
		},
		{
			name:    "due once the backoff window passed",
			payment: Payment{ID: uuid.New(), Status: PaymentStatusFailed, RetryCount: 1, MaxRetries: 3, RetryAfter: &past},
		},
		{
			name:    "failed payment without a recorded window is due",
			payment: Payment{ID: uuid.New(), Status: PaymentStatusFailed, RetryCount: 0, MaxRetries: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payment.CanRetry(now)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected retry to be admissible, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPaymentStatusTransitions(t *testing.T) {
	if !PaymentStatusFailed.CanTransitionTo(PaymentStatusProcessing) {
		t.Fatal("expected failed payments to re-enter processing on retry")
	}
	if PaymentStatusPending.CanTransitionTo(PaymentStatusCompleted) {
		t.Fatal("expected pending payments to complete only through processing")
	}
	for _, terminal := range []PaymentStatus{PaymentStatusCompleted, PaymentStatusCancelled} {
		for _, target := range []PaymentStatus{
			PaymentStatusPending, PaymentStatusScheduled, PaymentStatusProcessing,
			PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled,
		} {
			if terminal.CanTransitionTo(target) {
				t.Fatalf("expected %s to be terminal, but it can move to %s", terminal, target)
			}
		}
	}
}
