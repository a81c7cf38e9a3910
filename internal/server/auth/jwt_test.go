package auth

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("access-secret")

func TestGetUserIDFromToken_RoundTrip(t *testing.T) {
	tok, err := GenerateToken("user-1", secret, time.Hour)
	require.NoError(t, err)

	userID, err := GetUserIDFromToken(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestGetUserIDFromToken_Rejects(t *testing.T) {
	sign := func(t *testing.T, m jwt.SigningMethod, claims Claims, key []byte) string {
		t.Helper()
		s, err := jwt.NewWithClaims(m, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	tests := []struct {
		name  string
		token func(t *testing.T) string
		want  error
	}{
		{
			name: "expired",
			token: func(t *testing.T) string {
				tok, err := GenerateToken("user-1", secret, -time.Second)
				require.NoError(t, err)
				return tok
			},
			want: common.ErrTokenExpired,
		},
		{
			name: "signed with another secret",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS256, Claims{RegisteredClaims: valid, UserID: "user-1"}, []byte("other"))
			},
			want: common.ErrInvalidToken,
		},
		{
			name: "other algorithm",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS512, Claims{RegisteredClaims: valid, UserID: "user-1"}, secret)
			},
			want: common.ErrInvalidToken,
		},
		{
			name: "no user",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS256, Claims{RegisteredClaims: valid}, secret)
			},
			want: common.ErrInvalidToken,
		},
		{
			name:  "garbage",
			token: func(t *testing.T) string { return "not.a.jwt" },
			want:  common.ErrInvalidToken,
		},
		{
			name:  "empty",
			token: func(t *testing.T) string { return "" },
			want:  common.ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := GetUserIDFromToken(tt.token(t), secret)
			require.ErrorIs(t, err, tt.want)
			assert.Empty(t, userID)
		})
	}
}
