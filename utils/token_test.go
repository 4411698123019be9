package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)

	token, expiresAt, err := m.GenerateToken(42)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := m.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
}

func TestTokenManager_Rejects(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)
	token, _, err := m.GenerateToken(1)
	require.NoError(t, err)

	_, err = NewTokenManager("other", time.Hour).ParseToken(token)
	assert.Error(t, err, "wrong secret")

	_, err = m.ParseToken("not-a-token")
	assert.Error(t, err)

	expired := NewTokenManager("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.GenerateToken(1)
	require.NoError(t, err)
	_, err = m.ParseToken(old)
	assert.Error(t, err, "expired")
}
