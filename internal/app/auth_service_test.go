package app

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/kousaila502/e-social-assistance/internal/store"
)

type authRepoStub struct {
	store.Repository

	usersByEmail map[string]*domain.User
	createErr    error
	created      *domain.User
}

func (s *authRepoStub) CreateUser(ctx context.Context, user *domain.User) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = user
	if s.usersByEmail == nil {
		s.usersByEmail = make(map[string]*domain.User)
	}
	s.usersByEmail[user.Email] = user
	return nil
}

func (s *authRepoStub) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, ok := s.usersByEmail[email]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	u := *user
	return &u, nil
}

func (s *authRepoStub) RecordUserLogin(ctx context.Context, userID uuid.UUID) error {
	return nil
}

func TestRegisterAndLoginRoundTrip(t *testing.T) {
	repo := &authRepoStub{}
	svc := newTestService(repo)

	resp, err := svc.Register(context.Background(), domain.RegisterUserRequest{
		Email:    "Amina@Example.DZ",
		Password: "correct-horse",
		FullName: "Amina Benali",
	})
	if err != nil {
		t.Fatalf("expected registration to succeed, got %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a signed token")
	}
	if resp.User.Role != domain.RoleUser {
		t.Fatalf("expected self-registration to yield the user role, got %s", resp.User.Role)
	}
	if repo.created.Email != "amina@example.dz" {
		t.Fatalf("expected the email to be normalized, got %q", repo.created.Email)
	}
	if repo.created.PasswordHash == "correct-horse" {
		t.Fatal("expected the password to be hashed, not stored")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(repo.created.PasswordHash), []byte("correct-horse")); err != nil {
		t.Fatalf("expected the stored hash to match the password, got %v", err)
	}

	// The token must carry the subject and role the middleware rebuilds
	// the actor from.
	parsed, err := jwt.Parse(resp.Token, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		t.Fatalf("expected a valid HS256 token, got %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["sub"] != repo.created.ID.String() {
		t.Fatalf("expected sub=%s, got %v", repo.created.ID, claims["sub"])
	}
	if claims["role"] != string(domain.RoleUser) {
		t.Fatalf("expected role=user, got %v", claims["role"])
	}
	if claims["iss"] != TokenIssuer {
		t.Fatalf("expected iss=%s, got %v", TokenIssuer, claims["iss"])
	}

	login, err := svc.Login(context.Background(), domain.LoginRequest{
		Email:    "amina@example.dz",
		Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("expected the login to succeed, got %v", err)
	}
	if login.User.ID != repo.created.ID {
		t.Fatal("expected the login to return the registered account")
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	repo := &authRepoStub{}
	svc := newTestService(repo)

	_, err := svc.Register(context.Background(), domain.RegisterUserRequest{
		Email:    "not-an-email",
		Password: "short",
	})

	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	for _, field := range []string{"email", "password", "full_name"} {
		if _, ok := ve.Fields[field]; !ok {
			t.Fatalf("expected a violation on %s, got %v", field, ve.Fields)
		}
	}
	if repo.created != nil {
		t.Fatal("expected no account to be created")
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	repo := &authRepoStub{createErr: store.ErrDuplicateEmail}
	svc := newTestService(repo)

	_, err := svc.Register(context.Background(), domain.RegisterUserRequest{
		Email:    "amina@example.dz",
		Password: "correct-horse",
		FullName: "Amina Benali",
	})

	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if _, ok := ve.Fields["email"]; !ok {
		t.Fatalf("expected the violation to be on email, got %v", ve.Fields)
	}
}

func TestLoginFailuresAreIndistinct(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash fixture: %v", err)
	}
	repo := &authRepoStub{usersByEmail: map[string]*domain.User{
		"amina@example.dz": {
			ID:           uuid.New(),
			Email:        "amina@example.dz",
			PasswordHash: string(hash),
			Role:         domain.RoleUser,
			IsActive:     true,
		},
	}}
	svc := newTestService(repo)

	tests := []struct {
		name string
		req  domain.LoginRequest
	}{
		{name: "unknown email", req: domain.LoginRequest{Email: "nobody@example.dz", Password: "correct-horse"}},
		{name: "wrong password", req: domain.LoginRequest{Email: "amina@example.dz", Password: "wrong-horse"}},
		{name: "empty credentials", req: domain.LoginRequest{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tt.req)
			if !errors.Is(err, domain.ErrAuthentication) {
				t.Fatalf("expected the generic authentication error, got %v", err)
			}
		})
	}
}

func TestLoginRejectsDisabledAccount(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash fixture: %v", err)
	}
	repo := &authRepoStub{usersByEmail: map[string]*domain.User{
		"amina@example.dz": {
			ID:           uuid.New(),
			Email:        "amina@example.dz",
			PasswordHash: string(hash),
			Role:         domain.RoleUser,
			IsActive:     false,
		},
	}}
	svc := newTestService(repo)

	_, err = svc.Login(context.Background(), domain.LoginRequest{
		Email:    "amina@example.dz",
		Password: "correct-horse",
	})
	if !errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("expected authentication to fail for a disabled account, got %v", err)
	}
}

func TestCreateStaffRequiresAdmin(t *testing.T) {
	repo := &authRepoStub{}
	svc := newTestService(repo)

	caseWorker := domain.Actor{ID: uuid.New(), Role: domain.RoleCaseWorker}
	_, err := svc.CreateStaff(context.Background(), caseWorker, domain.CreateStaffRequest{
		Email:    "colleague@example.dz",
		Password: "correct-horse",
		FullName: "New Colleague",
		Role:     domain.RoleCaseWorker,
	})
	if !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if repo.created != nil {
		t.Fatal("expected no account to be created")
	}
}

func TestCreateStaffRejectsCitizenRole(t *testing.T) {
	repo := &authRepoStub{}
	svc := newTestService(repo)

	admin := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}
	_, err := svc.CreateStaff(context.Background(), admin, domain.CreateStaffRequest{
		Email:    "colleague@example.dz",
		Password: "correct-horse",
		FullName: "New Colleague",
		Role:     domain.RoleUser,
	})

	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if _, ok := ve.Fields["role"]; !ok {
		t.Fatalf("expected the violation to be on role, got %v", ve.Fields)
	}
}
