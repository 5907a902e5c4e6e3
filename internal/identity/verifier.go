// Package identity turns bearer credentials into verified identities.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mobidoc/pkg/interfaces"
	"mobidoc/pkg/types"
)

// TokenKind distinguishes short-lived access tokens from refresh tokens.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

var _ interfaces.IdentityVerifier = (*Verifier)(nil)

// Claims is the token payload shared with the auth service.
type Claims struct {
	UserID string     `json:"userId"`
	Role   types.Role `json:"role"`
	Type   TokenKind  `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens signed with the shared secret.
type Verifier struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewVerifier returns a verifier for the shared secret.
func NewVerifier(secret string, accessTTL, refreshTTL time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}
	return &Verifier{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// Verify checks signature, algorithm and expiry and resolves the identity.
// Refresh tokens are not accepted as access credentials.
func (v *Verifier) Verify(token string) (types.Identity, error) {
	if token == "" {
		return types.Identity{}, types.ErrMissingCredential
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) {
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", types.ErrInvalidCredential, err)
	}
	if !parsed.Valid {
		return types.Identity{}, types.ErrInvalidCredential
	}

	switch {
	case claims.Type == TokenRefresh:
		return types.Identity{}, fmt.Errorf("%w: refresh token used as access token", types.ErrInvalidCredential)
	case claims.UserID == "":
		return types.Identity{}, fmt.Errorf("%w: missing userId claim", types.ErrInvalidCredential)
	case !types.IsValidRole(claims.Role):
		return types.Identity{}, fmt.Errorf("%w: unknown role %q", types.ErrInvalidCredential, claims.Role)
	}

	return types.Identity{UserID: claims.UserID, Role: claims.Role}, nil
}

// Issue signs a token for a user. The auth service owns issuance in
// production; this serves the seed command and tests.
func (v *Verifier) Issue(userID string, role types.Role, kind TokenKind) (string, time.Time, error) {
	ttl := v.accessTTL
	if kind == TokenRefresh {
		ttl = v.refreshTTL
	}
	now := v.now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		UserID: userID,
		Role:   role,
		Type:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
