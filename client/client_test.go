package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/CUknot/chatroom_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"message": "Success", "data": data})
}

func TestClientCallsProcedures(t *testing.T) {
	var (
		mu      sync.Mutex
		gotKey  string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		gotKey = r.Header.Get("x-api-key")
		gotBody = body
		mu.Unlock()

		switch r.URL.Path {
		case "/rpc/chat/joinPublicRoom":
			envelope(w, map[string]bool{"success": true})
		case "/rpc/chat/getChatHistory":
			envelope(w, []models.MessagePayload{{ID: 1, Content: "a"}, {ID: 2, Content: "b"}})
		case "/rpc/chat/sendMessage":
			envelope(w, models.MessagePayload{ID: 3, Content: body["content"].(string)})
		case "/rpc/chat/getPublicRoom":
			envelope(w, []Room{{ID: 1, Name: "General", OnlineCount: 2}})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"code":"NOT_FOUND","status":404,"message":"procedure not found"}`)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "secret")
	ctx := context.Background()
	who := Identity{UserID: 7, Username: "anon"}

	last := func() (string, map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		return gotKey, gotBody
	}

	ok, err := c.JoinRoom(ctx, 1, who)
	require.NoError(t, err)
	assert.True(t, ok)
	key, body := last()
	assert.Equal(t, "secret", key)
	assert.EqualValues(t, 1, body["roomId"])
	assert.Equal(t, "anon", body["username"])

	history, err := c.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "b", history[1].Content)

	sent, err := c.SendMessage(ctx, 1, who, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", sent.Content)
	_, body = last()
	assert.Equal(t, string(models.MessageTypeText), body["type"])

	rooms, err := c.PublicRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, 2, rooms[0].OnlineCount)

	err = c.LeaveRoom(ctx, 1, 7)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, "NOT_FOUND", httpErr.Code)
	assert.Equal(t, "procedure not found", httpErr.Message)
}

func TestIsStatus(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &HTTPError{StatusCode: http.StatusConflict, Message: "taken"})
	assert.True(t, IsStatus(err, http.StatusConflict))
	assert.False(t, IsStatus(err, http.StatusNotFound))
	assert.False(t, IsStatus(errors.New("plain"), http.StatusConflict))
	assert.Equal(t, "HTTP 409: taken", (&HTTPError{StatusCode: 409, Message: "taken"}).Error())
}

func TestStreamDecodesEvents(t *testing.T) {
	release := make(chan struct{})
	cursors := make(chan any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		cursors <- body["lastMessageId"]

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, "event:ping\ndata:\n\n")
		_, _ = io.WriteString(w, ": comment\n\n")
		_, _ = io.WriteString(w, "id:5\nevent:message\ndata:{\"id\":5,\"roomId\":1,\"content\":\"hi\"}\n\n")
		flusher.Flush()
		<-release
		_, _ = io.WriteString(w, "id: 6\r\ndata: {\"id\":6,\"roomId\":1,\"content\":\"there\"}\r\n\r\n")
		flusher.Flush()
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	cursor := uint(4)
	stream, err := c.Stream(context.Background(), 1, Identity{UserID: 7, Username: "anon"}, &cursor)
	require.NoError(t, err)
	defer stream.Close()

	m, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, uint(5), m.ID)
	assert.Equal(t, "hi", m.Content)
	assert.EqualValues(t, 4, <-cursors)

	close(release)
	m, err = stream.Next()
	require.NoError(t, err)
	assert.Equal(t, uint(6), m.ID)

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":"NOT_FOUND","status":404,"message":"room 9 not found"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "secret").Stream(context.Background(), 9, Identity{UserID: 1, Username: "anon"}, nil)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
}
