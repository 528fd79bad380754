package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerifyRoundTrip(t *testing.T) {
	mgr := NewJWTManager("test-secret", time.Minute)

	token, err := mgr.Generate("client-1", "alice", "viewer")
	require.NoError(t, err)

	claims, err := mgr.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "client-1", claims.UserID)
	require.Equal(t, "alice", claims.Username)
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	mgr := NewJWTManager("secret-a", time.Minute)
	other := NewJWTManager("secret-b", time.Minute)

	token, err := mgr.Generate("client-1", "alice", "viewer")
	require.NoError(t, err)

	_, err = other.Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	mgr := NewJWTManager("test-secret", -time.Minute)

	token, err := mgr.Generate("client-1", "alice", "viewer")
	require.NoError(t, err)

	_, err = mgr.Verify(token)
	require.Error(t, err)
}

func TestExtractBearerToken(t *testing.T) {
	tok, err := ExtractBearerToken("Bearer abc123")
	require.NoError(t, err)
	require.Equal(t, "abc123", tok)

	_, err = ExtractBearerToken("Basic abc123")
	require.Error(t, err)

	_, err = ExtractBearerToken("Bearer ")
	require.Error(t, err)
}
