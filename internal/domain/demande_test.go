package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDemandeStatusTerminalStatesHaveNoExits(t *testing.T) {
	all := []DemandeStatus{
		DemandeStatusDraft, DemandeStatusSubmitted, DemandeStatusUnderReview,
		DemandeStatusPendingDocs, DemandeStatusApproved, DemandeStatusRejected,
		DemandeStatusCancelled, DemandeStatusExpired, DemandeStatusPartiallyPaid,
		DemandeStatusPaid,
	}

	for _, terminal := range []DemandeStatus{DemandeStatusPaid, DemandeStatusRejected, DemandeStatusCancelled, DemandeStatusExpired} {
		if !terminal.IsTerminal() {
			t.Fatalf("expected %s to be terminal", terminal)
		}
		for _, target := range all {
			if terminal.CanTransitionTo(target) {
				t.Fatalf("expected no exits from %s, but it can move to %s", terminal, target)
			}
		}
	}
}

func TestDemandeStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from DemandeStatus
		to   DemandeStatus
		want bool
	}{
		{name: "draft submits", from: DemandeStatusDraft, to: DemandeStatusSubmitted, want: true},
		{name: "draft cancels", from: DemandeStatusDraft, to: DemandeStatusCancelled, want: true},
		{name: "draft cannot be approved", from: DemandeStatusDraft, to: DemandeStatusApproved, want: false},
		{name: "submitted cannot jump to paid", from: DemandeStatusSubmitted, to: DemandeStatusPaid, want: false},
		{name: "submitted expires", from: DemandeStatusSubmitted, to: DemandeStatusExpired, want: true},
		{name: "pending docs resubmits", from: DemandeStatusPendingDocs, to: DemandeStatusSubmitted, want: true},
		{name: "approved pays partially", from: DemandeStatusApproved, to: DemandeStatusPartiallyPaid, want: true},
		{name: "partially paid settles", from: DemandeStatusPartiallyPaid, to: DemandeStatusPaid, want: true},
		{name: "under review cannot expire", from: DemandeStatusUnderReview, to: DemandeStatusExpired, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Fatalf("expected %s -> %s to be %v, got %v", tt.from, tt.to, tt.want, got)
			}
		})
	}
}

func TestDemandeStatusReviewable(t *testing.T) {
	reviewable := map[DemandeStatus]bool{
		DemandeStatusSubmitted:   true,
		DemandeStatusUnderReview: true,
		DemandeStatusPendingDocs: true,
	}
	for _, s := range []DemandeStatus{
		DemandeStatusDraft, DemandeStatusSubmitted, DemandeStatusUnderReview,
		DemandeStatusPendingDocs, DemandeStatusApproved, DemandeStatusRejected,
		DemandeStatusCancelled, DemandeStatusExpired, DemandeStatusPartiallyPaid,
		DemandeStatusPaid,
	} {
		if got := s.Reviewable(); got != reviewable[s] {
			t.Fatalf("expected Reviewable(%s) to be %v, got %v", s, reviewable[s], got)
		}
	}
}

func TestNewDemandeReference(t *testing.T) {
	id := uuid.MustParse("1a2b3c4d-0000-4000-8000-000000000000")
	createdAt := time.Date(2025, 7, 1, 9, 30, 0, 0, time.UTC)

	got := NewDemandeReference(id, createdAt)
	if got != "DEM-2025-1A2B3C4D" {
		t.Fatalf("expected DEM-2025-1A2B3C4D, got %q", got)
	}
	if strings.Contains(got, "-0000") {
		t.Fatalf("expected reference to use only the first eight hex digits, got %q", got)
	}
}

func TestDemandeRemainingDue(t *testing.T) {
	approved := int64(400000)
	tests := []struct {
		name    string
		demande Demande
		want    int64
	}{
		{name: "nothing due before approval", demande: Demande{RequestedAmount: 400000}, want: 0},
		{name: "full amount due after approval", demande: Demande{ApprovedAmount: &approved}, want: 400000},
		{name: "partial payment reduces the balance", demande: Demande{ApprovedAmount: &approved, PaidAmount: 150000}, want: 250000},
		{name: "overpayment clamps to zero", demande: Demande{ApprovedAmount: &approved, PaidAmount: 500000}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.demande.RemainingDue(); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
