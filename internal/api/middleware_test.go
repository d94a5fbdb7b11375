package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kousaila502/e-social-assistance/internal/app"
	"github.com/kousaila502/e-social-assistance/internal/domain"
)

var testSecret = []byte("test-secret")

func signTestToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func validClaims(actorID uuid.UUID, role domain.Role) jwt.MapClaims {
	now := time.Now().UTC()
	return jwt.MapClaims{
		"sub":  actorID.String(),
		"role": string(role),
		"exp":  now.Add(time.Hour).Unix(),
		"iat":  now.Unix(),
		"iss":  app.TokenIssuer,
	}
}

func runAuthMiddleware(t *testing.T, authorization string) (*httptest.ResponseRecorder, *domain.Actor) {
	t.Helper()

	var captured *domain.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, ok := ActorFromContext(r.Context()); ok {
			captured = &actor
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	AuthMiddleware(testSecret)(next).ServeHTTP(rec, req)
	return rec, captured
}

func TestAuthMiddlewareInjectsActor(t *testing.T) {
	actorID := uuid.New()
	token := signTestToken(t, testSecret, validClaims(actorID, domain.RoleCaseWorker))

	rec, actor := runAuthMiddleware(t, "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if actor == nil {
		t.Fatal("expected the actor to be injected into the context")
	}
	if actor.ID != actorID || actor.Role != domain.RoleCaseWorker {
		t.Fatalf("expected actor %s/%s, got %s/%s", actorID, domain.RoleCaseWorker, actor.ID, actor.Role)
	}
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	rec, actor := runAuthMiddleware(t, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if actor != nil {
		t.Fatal("expected no actor without a token")
	}
}

func TestAuthMiddlewareRejectsMalformedHeader(t *testing.T) {
	token := signTestToken(t, testSecret, validClaims(uuid.New(), domain.RoleUser))
	rec, _ := runAuthMiddleware(t, "Token "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a non-bearer header, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsWrongSignature(t *testing.T) {
	token := signTestToken(t, []byte("some-other-secret"), validClaims(uuid.New(), domain.RoleUser))
	rec, _ := runAuthMiddleware(t, "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a forged token, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsExpiredToken(t *testing.T) {
	claims := validClaims(uuid.New(), domain.RoleUser)
	claims["exp"] = time.Now().UTC().Add(-time.Hour).Unix()
	token := signTestToken(t, testSecret, claims)

	rec, _ := runAuthMiddleware(t, "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an expired token, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsUnknownRole(t *testing.T) {
	claims := validClaims(uuid.New(), domain.Role("superhero"))
	token := signTestToken(t, testSecret, claims)

	rec, _ := runAuthMiddleware(t, "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an unknown role, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsWrongIssuer(t *testing.T) {
	claims := validClaims(uuid.New(), domain.RoleUser)
	claims["iss"] = "someone-else"
	token := signTestToken(t, testSecret, claims)

	rec, _ := runAuthMiddleware(t, "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a foreign issuer, got %d", rec.Code)
	}
}
