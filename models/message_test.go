package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagePayload_CreatedAtRoundTrip(t *testing.T) {
	created := time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.FixedZone("WIB", 7*3600))
	avatar := "https://example.test/a.png"
	msg := Message{
		ID:        7,
		RoomID:    1,
		UserID:    42,
		Username:  "anon",
		Avatar:    &avatar,
		Content:   "hello",
		Type:      MessageTypeText,
		CreatedAt: created,
	}

	p := msg.Payload()
	assert.Equal(t, "2025-03-14T02:26:53.589793238Z", p.CreatedAt)

	parsed, err := p.CreatedTime()
	require.NoError(t, err)
	assert.True(t, parsed.Equal(created), "parsed %s, want %s", parsed, created)
	assert.Equal(t, uint(7), p.ID)
	assert.Equal(t, &avatar, p.Avatar)
}

func TestMessageType_Valid(t *testing.T) {
	assert.True(t, MessageTypeText.Valid())
	assert.True(t, MessageTypeSystem.Valid())
	assert.False(t, MessageType("IMAGE").Valid())
	assert.False(t, MessageType("").Valid())
}
