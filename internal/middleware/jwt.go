package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/estatedesk/crm/internal/access"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// principalClaims is the token payload naming a principal.
type principalClaims struct {
	Role     string  `json:"role"`
	BrokerID *string `json:"broker_id,omitempty"`
	TeamID   *string `json:"team_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator verifies HS256 tokens and resolves them to principals.
type JWTValidator struct {
	secret []byte
	issuer string
}

// NewJWTValidator creates a validator for tokens signed with secret by issuer.
func NewJWTValidator(secret, issuer string) (*JWTValidator, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}

	return &JWTValidator{secret: []byte(secret), issuer: issuer}, nil
}

// Validate verifies the token signature, expiry and issuer and returns the
// principal it names. The role claim must be a known role.
func (v *JWTValidator) Validate(_ context.Context, tokenString string) (access.Principal, error) {
	var claims principalClaims

	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return access.Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return access.Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	role, err := access.ParseRole(claims.Role)
	if err != nil {
		return access.Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return access.Principal{
		ID:       claims.Subject,
		Role:     role,
		BrokerID: nonEmpty(claims.BrokerID),
		TeamID:   nonEmpty(claims.TeamID),
	}, nil
}

// Issue signs a token for p valid for ttl.
func (v *JWTValidator) Issue(p access.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := principalClaims{
		Role:     string(p.Role),
		BrokerID: p.BrokerID,
		TeamID:   p.TeamID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	return signed, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}

	return s
}
