package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yigit/chathub/internal/app/models"
	"github.com/yigit/chathub/internal/pkg/apperrors"
)

func newTestService(exp time.Duration) *JWTService {
	return NewJWTService(JWTConfig{
		SecretKey:      "test-secret",
		AccessTokenExp: exp,
		TokenIssuer:    "chathub.test",
	})
}

func TestGenerateAndValidate(t *testing.T) {
	svc := newTestService(time.Hour)

	token, err := svc.GenerateAccessToken(&models.Profile{ID: 42, Username: "alice"})
	require.NoError(t, err)

	claims, err := svc.ValidateAndExtractClaims(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.ProfileID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "42", claims.Subject)
}

func TestValidateToken_Errors(t *testing.T) {
	svc := newTestService(time.Hour)
	valid, err := svc.GenerateAccessToken(&models.Profile{ID: 1, Username: "a"})
	require.NoError(t, err)

	expired, err := newTestService(-time.Minute).GenerateAccessToken(&models.Profile{ID: 1, Username: "a"})
	require.NoError(t, err)

	otherIssuer, err := NewJWTService(JWTConfig{SecretKey: "test-secret", TokenIssuer: "elsewhere"}).
		GenerateAccessToken(&models.Profile{ID: 1, Username: "a"})
	require.NoError(t, err)

	otherSecret, err := NewJWTService(JWTConfig{SecretKey: "nope", TokenIssuer: "chathub.test"}).
		GenerateAccessToken(&models.Profile{ID: 1, Username: "a"})
	require.NoError(t, err)

	noProfile, err := svc.GenerateAccessToken(&models.Profile{ID: 0, Username: "ghost"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", apperrors.ErrTokenInvalid},
		{"malformed", "not-a-token", apperrors.ErrInvalidFormat},
		{"expired", expired, apperrors.ErrTokenExpired},
		{"wrong issuer", otherIssuer, apperrors.ErrTokenInvalid},
		{"wrong secret", otherSecret, apperrors.ErrTokenInvalid},
		{"missing profile id", noProfile, apperrors.ErrTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAndExtractClaims(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = svc.ValidateAndExtractClaims(valid)
	assert.NoError(t, err)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"bearer prefix", "Bearer a.b.c", "a.b.c", false},
		{"raw token", "a.b.c", "a.b.c", false},
		{"quoted", `"Bearer a.b.c"`, "a.b.c", false},
		{"empty", "", "", true},
		{"not a jwt", "Bearer abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBearerToken(tt.header)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrInvalidFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
