package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_Issue(t *testing.T) {
	v := NewVerifier(VerifierConfig{Secret: "test-secret", Issuer: "chat"})

	token, err := v.Issue("user123", "authenticated", 15*time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user123", claims.UserID())
	assert.Equal(t, "authenticated", claims.Role)
	assert.Equal(t, "chat", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func TestVerifier_Verify(t *testing.T) {
	secret := []byte("test-secret")
	v := NewVerifier(VerifierConfig{Secret: string(secret), Audience: "artifacts"})

	sign := func(t *testing.T, method jwt.SigningMethod, key any, claims *Claims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	registered := func(sub string, exp time.Duration, aud ...string) jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   sub,
			Audience:  aud,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(exp)),
		}
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"valid", sign(t, jwt.SigningMethodHS256, secret, &Claims{RegisteredClaims: registered("user123", time.Minute, "artifacts")}), nil},
		{"missing", "", ErrMissingToken},
		{"garbage", "not.a.token", ErrInvalidToken},
		{"expired", sign(t, jwt.SigningMethodHS256, secret, &Claims{RegisteredClaims: registered("user123", -time.Minute, "artifacts")}), ErrExpiredToken},
		{"anonymous", sign(t, jwt.SigningMethodHS256, secret, &Claims{IsAnonymous: true, RegisteredClaims: registered("anon-1", time.Minute, "artifacts")}), ErrInvalidToken},
		{"no subject", sign(t, jwt.SigningMethodHS256, secret, &Claims{RegisteredClaims: registered("", time.Minute, "artifacts")}), ErrInvalidToken},
		{"wrong audience", sign(t, jwt.SigningMethodHS256, secret, &Claims{RegisteredClaims: registered("user123", time.Minute, "billing")}), ErrInvalidToken},
		{"no expiry", sign(t, jwt.SigningMethodHS256, secret, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user123", Audience: []string{"artifacts"}}}), ErrInvalidToken},
		{"wrong key", sign(t, jwt.SigningMethodHS256, []byte("other"), &Claims{RegisteredClaims: registered("user123", time.Minute, "artifacts")}), ErrInvalidToken},
		{"wrong algorithm", sign(t, jwt.SigningMethodHS512, secret, &Claims{RegisteredClaims: registered("user123", time.Minute, "artifacts")}), ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Verify(tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "user123", claims.UserID())
		})
	}
}

func TestVerifier_Leeway(t *testing.T) {
	strict := NewVerifier(VerifierConfig{Secret: "s"})
	lenient := NewVerifier(VerifierConfig{Secret: "s", Leeway: time.Minute})

	token, err := strict.Issue("user123", "", -10*time.Second)
	require.NoError(t, err)

	_, err = strict.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)

	claims, err := lenient.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user123", claims.UserID())
}
