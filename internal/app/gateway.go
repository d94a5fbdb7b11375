/**
 * @description
 * PaymentGateway is the seam between the workflow and the actual payment
 * rail (treasury bank transfer, check printing, cash desk). The workflow
 * only ever calls Disburse; everything else (claiming, settling, retry
 * backoff) stays on our side of the seam.
 *
 * The simulated gateway ships for environments without a rail. It can be
 * given a failure rate so the retry machinery gets exercised end to end.
 */

package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/kousaila502/e-social-assistance/internal/domain"
)

// PaymentGateway executes a disbursement on the external payment rail.
// A nil error means the money moved; any error is a rail-side failure the
// workflow records and retries.
type PaymentGateway interface {
	Disburse(ctx context.Context, payment *domain.Payment) error
}

// SimulatedGateway pretends to disburse. With FailureRate zero it always
// succeeds; with a positive rate it fails that fraction of calls.
type SimulatedGateway struct {
	// FailureRate in [0, 1]; fraction of disbursements that fail.
	FailureRate float64
	// Latency is slept before answering, to mimic a slow rail.
	Latency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedGateway(failureRate float64, latency time.Duration) *SimulatedGateway {
	return &SimulatedGateway{
		FailureRate: failureRate,
		Latency:     latency,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *SimulatedGateway) Disburse(ctx context.Context, payment *domain.Payment) error {
	if g.Latency > 0 {
		select {
		case <-time.After(g.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if g.FailureRate > 0 {
		g.mu.Lock()
		roll := g.rng.Float64()
		g.mu.Unlock()
		if roll < g.FailureRate {
			return fmt.Errorf("simulated rail rejection for payment %s", payment.ID)
		}
	}
	return nil
}
