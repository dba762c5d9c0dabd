package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/a-essam23/taskpulse/internal/auth"
	"github.com/a-essam23/taskpulse/internal/storage"
	"github.com/a-essam23/taskpulse/pkg/state"
	"github.com/golang-jwt/jwt/v5"
)

const secret = "test-secret"

func newVerifier(t *testing.T) *auth.JWTVerifier {
	t.Helper()
	users := storage.NewMemoryStore()
	if err := users.PutUser(storage.User{ID: "1", Email: "a@x.com"}); err != nil {
		t.Fatal(err)
	}
	if err := users.PutUser(storage.User{ID: "2", Email: "admin@x.com", IsStaff: true}); err != nil {
		t.Fatal(err)
	}
	return auth.NewJWTVerifier(secret, users)
}

func TestVerifyResolvesIdentityAndRole(t *testing.T) {
	v := newVerifier(t)

	tests := []struct {
		userID string
		email  string
		role   state.Role
	}{
		{"1", "a@x.com", state.RoleRegular},
		{"2", "admin@x.com", state.RoleAdmin},
	}
	for _, tt := range tests {
		token, err := v.Issue(tt.userID, time.Hour)
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		ident, err := v.Verify(context.Background(), token)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if ident.UserID != tt.userID || ident.Email != tt.email || ident.Role != tt.role {
			t.Errorf("unexpected identity %+v", ident)
		}
	}
}

func TestVerifyRejectsBadCredentials(t *testing.T) {
	v := newVerifier(t)
	// Issue treats a non-positive ttl as no expiry, so build an expired token by hand.
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: "1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte(secret))
	wrongKey, _ := auth.NewJWTVerifier("other", storage.NewMemoryStore()).Issue("1", time.Hour)
	unknownUser, _ := v.Issue("404", time.Hour)
	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, auth.Claims{UserID: "1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"missing":      "",
		"malformed":    "not-a-jwt",
		"expired":      expired,
		"wrong key":    wrongKey,
		"unknown user": unknownUser,
		"alg none":     noneAlg,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			ident, err := v.Verify(context.Background(), token)
			if !errors.Is(err, state.ErrUnauthenticated) {
				t.Errorf("expected ErrUnauthenticated, got %v", err)
			}
			if ident != nil {
				t.Errorf("expected no identity, got %+v", ident)
			}
		})
	}
}

func TestVerifyAcceptsSubjectFallback(t *testing.T) {
	v := newVerifier(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "1"}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	ident, err := v.Verify(context.Background(), token)
	if err != nil || ident.UserID != "1" {
		t.Errorf("expected subject fallback to resolve user 1, got %+v, %v", ident, err)
	}
}

func TestIssueRequiresUser(t *testing.T) {
	v := newVerifier(t)
	if _, err := v.Issue(" ", time.Hour); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestVerifyAcceptsNumericUserID(t *testing.T) {
	users := storage.NewMemoryStore()
	if err := users.PutUser(storage.User{ID: "7", Email: "g@x.com"}); err != nil {
		t.Fatal(err)
	}
	v := auth.NewJWTVerifier(secret, users)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"token_type": "access",
		"exp":        time.Now().Add(time.Hour).Unix(),
		"iat":        time.Now().Unix(),
		"jti":        "4f1c2a9e0b7d4e35",
		"user_id":    7,
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	ident, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ident.UserID != "7" || ident.Email != "g@x.com" {
		t.Errorf("unexpected identity %+v", ident)
	}

	bogus, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": true}).SignedString([]byte(secret))
	if _, err := v.Verify(context.Background(), bogus); !errors.Is(err, state.ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated for a boolean user_id, got %v", err)
	}
}
