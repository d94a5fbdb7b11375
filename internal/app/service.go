/**
 * @description
 * This file contains the core Service struct for the assistance workflow.
 * The `Service` orchestrates every use case: citizen registration and
 * demande intake, staff review, budget allocation, payment disbursement
 * and the notification feed. Business rules and authorization decisions
 * live here; HTTP handlers only decode, call and encode.
 *
 * Key features:
 * - Single struct, one method file per aggregate (demandes, budget,
 *   payments, notifications, announcements, users, auth).
 * - Every operation takes a domain.Actor and enforces roles centrally,
 *   so no route can reach a mutation the caller's role does not permit.
 * - Multi-entity mutations delegate to single-transaction repository
 *   methods; the service never stitches two writes together itself.
 *
 * @dependencies
 * - internal/domain, internal/store: domain models and data access.
 * - log/slog: structured logging.
 */

package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/kousaila502/e-social-assistance/internal/store"
	"github.com/kousaila502/e-social-assistance/pkg/filestore"
)

const (
	// DefaultPageLimit applies when a list request does not set a limit.
	DefaultPageLimit = 20
	// MaxPageLimit caps how many rows a single page may return.
	MaxPageLimit = 100
)

// Service provides the core business logic for the assistance workflow.
type Service struct {
	repo      store.Repository
	analytics *store.AnalyticsCache
	gateway   PaymentGateway
	files     *filestore.Store
	logger    *slog.Logger
	jwtSecret []byte
	jwtTTL    time.Duration
}

// NewService creates a new workflow service instance.
func NewService(
	repo store.Repository,
	analytics *store.AnalyticsCache,
	gateway PaymentGateway,
	files *filestore.Store,
	logger *slog.Logger,
	jwtSecret string,
	jwtTTL time.Duration,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if jwtTTL <= 0 {
		jwtTTL = 24 * time.Hour
	}
	return &Service{
		repo:      repo,
		analytics: analytics,
		gateway:   gateway,
		files:     files,
		logger:    logger,
		jwtSecret: []byte(jwtSecret),
		jwtTTL:    jwtTTL,
	}
}

// requireRole returns an authorization error unless the actor holds one of
// the given roles.
func requireRole(actor domain.Actor, roles ...domain.Role) error {
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return fmt.Errorf("role %s: %w", actor.Role, domain.ErrAuthorization)
}

// requireStaff returns an authorization error unless the actor holds a
// back-office role.
func requireStaff(actor domain.Actor) error {
	if actor.IsStaff() {
		return nil
	}
	return fmt.Errorf("role %s: %w", actor.Role, domain.ErrAuthorization)
}

// clampLimit normalizes a page limit into [1, MaxPageLimit].
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// clampOffset normalizes a page offset to be non-negative.
func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
