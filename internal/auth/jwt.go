// Package auth verifies bearer credentials and resolves them to identities.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/a-essam23/taskpulse/internal/storage"
	"github.com/a-essam23/taskpulse/pkg/state"
	"github.com/golang-jwt/jwt/v5"
)

// Verifier resolves an opaque credential to an identity. Any failure to do so wraps
// state.ErrUnauthenticated.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*state.Identity, error)
}

// Claims mirrors the access tokens issued by the account service: the user id is carried in
// user_id, with sub accepted as a fallback. Other claims (token_type, jti) are ignored.
type Claims struct {
	UserID ClaimID `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// ClaimID is a user id that may be encoded as a JSON string or a JSON number. Integer
// primary keys arrive as numbers.
type ClaimID string

func (id *ClaimID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ClaimID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user_id must be a string or a number: %w", err)
	}
	*id = ClaimID(n.String())
	return nil
}

func (c *Claims) userID() string {
	if id := strings.TrimSpace(string(c.UserID)); id != "" {
		return id
	}
	return strings.TrimSpace(c.Subject)
}

// JWTVerifier validates HS256 tokens and loads the user they name from the directory.
type JWTVerifier struct {
	secret []byte
	users  storage.UserDirectory
}

var _ Verifier = (*JWTVerifier)(nil)

func NewJWTVerifier(secret string, users storage.UserDirectory) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), users: users}
}

func (v *JWTVerifier) Verify(ctx context.Context, credential string) (*state.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, fmt.Errorf("missing credential: %w", state.ErrUnauthenticated)
	}

	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %v: %w", err, state.ErrUnauthenticated)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.userID() == "" {
		return nil, fmt.Errorf("invalid token claims: %w", state.ErrUnauthenticated)
	}

	user, err := v.users.GetUser(ctx, claims.userID())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("token names unknown user: %w", state.ErrUnauthenticated)
	}
	if err != nil {
		// The directory being down is not the client's fault, but without it we cannot
		// establish who they are.
		return nil, fmt.Errorf("resolve user: %v: %w", err, state.ErrUnauthenticated)
	}

	role := state.RoleRegular
	if user.IsStaff {
		role = state.RoleAdmin
	}
	return &state.Identity{UserID: user.ID, Email: user.Email, Role: role}, nil
}

// Issue signs a token for the user. A non-positive ttl yields a token without expiry.
func (v *JWTVerifier) Issue(userID string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("signing secret is empty")
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id required")
	}
	now := time.Now()
	claims := Claims{
		UserID: ClaimID(userID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
