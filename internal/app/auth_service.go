/**
 * @description
 * Authentication use cases: citizen self-registration, credential login
 * and admin-created staff accounts. Tokens are HS256 JWTs carrying the
 * user id and role; the API middleware validates them and builds the
 * domain.Actor every other operation receives.
 *
 * @notes
 * - Login failures are deliberately indistinct: a wrong password and an
 *   unknown email both return ErrAuthentication.
 * - Passwords are stored as bcrypt hashes and never logged.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/kousaila502/e-social-assistance/internal/store"
)

// TokenIssuer is the iss claim stamped on every token this service signs.
const TokenIssuer = "assistance-api"

const minPasswordLength = 8

// Register creates a citizen account and signs them in.
func (s *Service) Register(ctx context.Context, req domain.RegisterUserRequest) (*domain.LoginResponse, error) {
	// 1. Validate input.
	fields := map[string]string{}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		fields["email"] = "a valid email address is required"
	}
	if len(req.Password) < minPasswordLength {
		fields["password"] = fmt.Sprintf("must be at least %d characters", minPasswordLength)
	}
	if strings.TrimSpace(req.FullName) == "" {
		fields["full_name"] = "is required"
	}
	if req.HouseholdSize != nil && *req.HouseholdSize < 1 {
		fields["household_size"] = "must be at least 1"
	}
	if req.MonthlyIncome != nil && *req.MonthlyIncome < 0 {
		fields["monthly_income"] = "cannot be negative"
	}
	if len(fields) > 0 {
		return nil, &domain.ValidationError{Fields: fields}
	}

	// 2. Hash the password.
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	// 3. Persist the account. Citizens always start with the user role.
	user := &domain.User{
		ID:            uuid.New(),
		Email:         email,
		PasswordHash:  string(hash),
		FullName:      strings.TrimSpace(req.FullName),
		Phone:         req.Phone,
		Role:          domain.RoleUser,
		Wilaya:        req.Wilaya,
		HouseholdSize: req.HouseholdSize,
		MonthlyIncome: req.MonthlyIncome,
		IsActive:      true,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, domain.NewValidationError("email", "already registered")
		}
		return nil, err
	}
	s.logger.Info("user registered", "user_id", user.ID, "role", user.Role)

	// 4. Sign them in immediately.
	return s.buildLoginResponse(user)
}

// CreateStaff creates a back-office account. Admin only.
func (s *Service) CreateStaff(ctx context.Context, actor domain.Actor, req domain.CreateStaffRequest) (*domain.User, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return nil, err
	}

	fields := map[string]string{}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		fields["email"] = "a valid email address is required"
	}
	if len(req.Password) < minPasswordLength {
		fields["password"] = fmt.Sprintf("must be at least %d characters", minPasswordLength)
	}
	if strings.TrimSpace(req.FullName) == "" {
		fields["full_name"] = "is required"
	}
	switch req.Role {
	case domain.RoleAdmin, domain.RoleCaseWorker, domain.RoleFinanceManager:
	default:
		fields["role"] = "must be admin, case_worker or finance_manager"
	}
	if len(fields) > 0 {
		return nil, &domain.ValidationError{Fields: fields}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(req.FullName),
		Role:         req.Role,
		IsActive:     true,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, domain.NewValidationError("email", "already registered")
		}
		return nil, err
	}
	s.logger.Info("staff account created", "user_id", user.ID, "role", user.Role, "created_by", actor.ID)
	return user, nil
}

// Login authenticates credentials and returns a signed token.
func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, domain.ErrAuthentication
	}

	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, domain.ErrAuthentication
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, domain.ErrAuthentication
	}
	if !user.IsActive {
		return nil, fmt.Errorf("account disabled: %w", domain.ErrAuthentication)
	}

	if err := s.repo.RecordUserLogin(ctx, user.ID); err != nil {
		s.logger.Warn("recording login timestamp failed", "user_id", user.ID, "error", err)
	}
	return s.buildLoginResponse(user)
}

func (s *Service) buildLoginResponse(user *domain.User) (*domain.LoginResponse, error) {
	token, expiresAt, err := s.issueToken(user)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}
	return &domain.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	}, nil
}

func (s *Service) issueToken(user *domain.User) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.jwtTTL)
	claims := jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": string(user.Role),
		"exp":  expiresAt.Unix(),
		"iat":  now.Unix(),
		"iss":  TokenIssuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
