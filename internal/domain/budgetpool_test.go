package domain

import "testing"

func TestPoolStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from PoolStatus
		to   PoolStatus
		want bool
	}{
		{name: "draft activates", from: PoolStatusDraft, to: PoolStatusActive, want: true},
		{name: "active freezes", from: PoolStatusActive, to: PoolStatusFrozen, want: true},
		{name: "active depletes", from: PoolStatusActive, to: PoolStatusDepleted, want: true},
		{name: "frozen thaws", from: PoolStatusFrozen, to: PoolStatusActive, want: true},
		{name: "depleted refills to active", from: PoolStatusDepleted, to: PoolStatusActive, want: true},
		{name: "draft cannot freeze", from: PoolStatusDraft, to: PoolStatusFrozen, want: false},
		{name: "expired is terminal", from: PoolStatusExpired, to: PoolStatusActive, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Fatalf("expected %s -> %s to be %v, got %v", tt.from, tt.to, tt.want, got)
			}
		})
	}
}

func TestBudgetPoolAccounting(t *testing.T) {
	pool := BudgetPool{
		TotalAmount: 1000000,
		Remaining:   600000,
		Reserved:    150000,
	}

	if got := pool.Disbursed(); got != 250000 {
		t.Fatalf("expected 250000 disbursed, got %d", got)
	}
	if got := pool.Utilization(); got != 0.4 {
		t.Fatalf("expected 0.4 utilization, got %v", got)
	}

	empty := BudgetPool{}
	if got := empty.Utilization(); got != 0 {
		t.Fatalf("expected zero utilization on an empty pool, got %v", got)
	}
}
