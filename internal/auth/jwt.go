package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrMissingToken is returned when no bearer token was presented
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned for malformed, mis-signed or unacceptable tokens
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a token has expired
	ErrExpiredToken = errors.New("token has expired")
)

// Claims are the caller claims carried by chat application access tokens.
// The user id is the standard subject.
type Claims struct {
	Role        string `json:"role,omitempty"`
	IsAnonymous bool   `json:"is_anonymous,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the caller's user id
func (c *Claims) UserID() string {
	return c.Subject
}

// VerifierConfig configures token verification. Issuer and Audience are
// only checked when set.
type VerifierConfig struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier checks HS256 access tokens shared with the chat application
type Verifier struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewVerifier creates a verifier for cfg
func NewVerifier(cfg VerifierConfig) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Verifier{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		parser: jwt.NewParser(opts...),
	}
}

// Verify returns the claims of a signed-in user's token. Anonymous tokens
// and tokens without a subject are rejected.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, ErrInvalidToken
	case claims.IsAnonymous || claims.Subject == "":
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Issue signs a token for userID valid for ttl. The service never issues
// tokens itself; this serves tests and local tooling.
func (v *Verifier) Issue(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
