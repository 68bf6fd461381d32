package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret"
	testIssuer = "i5e.identity"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestParseValidToken(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testIssuer,
		"scopes": []string{ScopeActivitiesRead, ScopeActivitiesWrite},
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	claims, err := Parse(signed, Config{Secret: testSecret, Issuer: testIssuer})
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.True(t, claims.HasScope(ScopeActivitiesRead))
	require.False(t, claims.HasScope(ScopeReconcileAdmin))
}

func TestParseSpaceSeparatedScopes(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testIssuer,
		"scopes": ScopeActivitiesRead + " " + ScopeReconcileAdmin,
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	claims, err := Parse(signed, Config{Secret: testSecret, Issuer: testIssuer})
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopeReconcileAdmin))
}

func TestParseRejectsMissingSubject(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(signed, Config{Secret: testSecret, Issuer: testIssuer})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsMissingExpiration(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testIssuer,
		"scopes": []string{ScopeActivitiesRead},
	})

	claims, err := Parse(signed, Config{Secret: testSecret, Issuer: testIssuer})
	require.ErrorIs(t, err, ErrInvalidToken)
	require.Nil(t, claims)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := Parse(signed, Config{Secret: testSecret, Issuer: testIssuer})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsEmptyToken(t *testing.T) {
	_, err := Parse("  ", Config{Secret: testSecret, Issuer: testIssuer})
	require.ErrorIs(t, err, ErrMissingToken)
}
