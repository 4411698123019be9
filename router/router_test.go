package router_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CUknot/chatroom_backend/config"
	"github.com/CUknot/chatroom_backend/event"
	"github.com/CUknot/chatroom_backend/middleware"
	"github.com/CUknot/chatroom_backend/models"
	"github.com/CUknot/chatroom_backend/presence"
	"github.com/CUknot/chatroom_backend/repository"
	"github.com/CUknot/chatroom_backend/router"
	"github.com/CUknot/chatroom_backend/services"
	"github.com/CUknot/chatroom_backend/testutil"
	"github.com/CUknot/chatroom_backend/utils"
	"github.com/CUknot/chatroom_backend/websocket"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const apiKey = "test-key"

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type rpcError struct {
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

type app struct {
	engine *gin.Engine
	room   models.Room
}

func setup(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	room := testutil.CreateRoom(t, db, models.Room{Name: "General"})
	testutil.CreateRoom(t, db, models.Room{Name: "Secret", IsPrivate: true})

	bus := event.NewBus(16)
	t.Cleanup(bus.Close)
	registry := presence.NewRegistry(bus.PublishCount)

	chat := services.NewChatService(repository.NewMessageRepository(db), repository.NewRoomRepository(db), registry, bus)
	posts := services.NewPostService(repository.NewPostRepository(db))
	auth := services.NewAuthService(repository.NewUserRepository(db), utils.NewTokenManager("secret", time.Hour))

	cfg := config.Config{Env: "test", APIKey: apiKey}
	engine := router.SetupRouter(router.Deps{
		Config:      cfg,
		Chat:        chat,
		Posts:       posts,
		Auth:        auth,
		Bus:         bus,
		Hub:         websocket.NewHub(),
		RateLimiter: middleware.NewRateLimiter(middleware.Limits{Rate: rate.Inf, Burst: 1, Idle: time.Minute}),
	})
	return &app{engine: engine, room: room}
}

func (a *app) call(t *testing.T, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) (string, T) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	var data T
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return env.Message, data
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) rpcError {
	t.Helper()
	var e rpcError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e), w.Body.String())
	return e
}

func TestHealthCheckIsPublic(t *testing.T) {
	a := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/rpc/healthCheck", nil)
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	msg, data := decode[string](t, w)
	assert.Equal(t, "OK", msg)
	assert.Equal(t, "OK", data)
}

func TestProceduresRequireAPIKey(t *testing.T) {
	a := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/rpc/chat/getPublicRoom", nil)
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, "UNAUTHORIZED", e.Code)
	assert.Equal(t, http.StatusUnauthorized, e.Status)
}

func TestUnknownProcedure(t *testing.T) {
	a := setup(t)

	w := a.call(t, "/rpc/chat/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, w).Code)
}

func TestSendAndHistory(t *testing.T) {
	a := setup(t)

	for _, content := range []string{"first", "second"} {
		w := a.call(t, "/rpc/chat/sendMessage", map[string]any{
			"roomId": a.room.ID, "userId": 1, "username": "alice", "content": content,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		msg, sent := decode[models.MessagePayload](t, w)
		assert.Equal(t, "Success, send message", msg)
		assert.Equal(t, content, sent.Content)
		assert.Equal(t, models.MessageTypeText, sent.Type)
		_, err := sent.CreatedTime()
		assert.NoError(t, err)
	}

	w := a.call(t, "/rpc/chat/getChatHistory", map[string]any{"id": a.room.ID})
	require.Equal(t, http.StatusOK, w.Code)
	_, history := decode[[]models.MessagePayload](t, w)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[1].Content)
}

func TestSendMessageErrors(t *testing.T) {
	a := setup(t)

	w := a.call(t, "/rpc/chat/sendMessage", map[string]any{
		"roomId": 9999, "userId": 1, "username": "alice", "content": "hi",
	})
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, w).Code)

	w = a.call(t, "/rpc/chat/sendMessage", map[string]any{"roomId": a.room.ID})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "BAD_REQUEST", decodeError(t, w).Code)

	w = a.call(t, "/rpc/chat/sendMessage", map[string]any{
		"roomId": a.room.ID, "userId": 1, "username": "alice", "content": "   ",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLobby(t *testing.T) {
	a := setup(t)

	w := a.call(t, "/rpc/chat/joinPublicRoom", map[string]any{"roomId": 9999, "userId": 1, "username": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	_, missing := decode[services.JoinResult](t, w)
	assert.False(t, missing.Success)

	w = a.call(t, "/rpc/chat/joinPublicRoom", map[string]any{"roomId": a.room.ID, "userId": 1, "username": "alice"})
	_, joined := decode[services.JoinResult](t, w)
	assert.True(t, joined.Success)

	w = a.call(t, "/rpc/chat/getPublicRoom", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, rooms := decode[[]services.PublicRoom](t, w)
	require.Len(t, rooms, 1)
	assert.Equal(t, "General", rooms[0].Name)
	assert.Equal(t, 1, rooms[0].OnlineCount)
	assert.Nil(t, rooms[0].LastMessage)

	w = a.call(t, "/rpc/chat/getOnlineUsers", map[string]any{"id": a.room.ID})
	_, members := decode[[]presence.Entry](t, w)
	require.Len(t, members, 1)
	assert.Equal(t, "alice", members[0].Username)

	w = a.call(t, "/rpc/chat/leavePublicRoom", map[string]any{"roomId": a.room.ID, "userId": 1})
	_, left := decode[services.JoinResult](t, w)
	assert.True(t, left.Success)

	w = a.call(t, "/rpc/chat/getPublicRoom", nil)
	_, rooms = decode[[]services.PublicRoom](t, w)
	assert.Equal(t, 0, rooms[0].OnlineCount)
}

func TestPosts(t *testing.T) {
	a := setup(t)

	w := a.call(t, "/rpc/post/createPost", map[string]any{"title": "Hello", "content": "World", "published": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, created := decode[models.Post](t, w)
	assert.NotZero(t, created.ID)

	w = a.call(t, "/rpc/post/updatePost", map[string]any{"id": created.ID, "title": "Hello again", "content": "World"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, updated := decode[models.Post](t, w)
	assert.Equal(t, "Hello again", updated.Title)
	assert.False(t, updated.Published)

	w = a.call(t, "/rpc/post/listPost", nil)
	_, list := decode[[]models.Post](t, w)
	assert.Len(t, list, 1)

	w = a.call(t, "/rpc/post/deletePost", map[string]any{"id": created.ID})
	require.Equal(t, http.StatusOK, w.Code)

	w = a.call(t, "/rpc/post/getPost", map[string]any{"id": created.ID})
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, w).Code)
}

func TestAuthAndSession(t *testing.T) {
	a := setup(t)

	w := a.call(t, "/rpc/getSession", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"session":null,"user":null}`, string(mustEnvelope(t, w).Data))

	creds := map[string]any{"username": "alice", "email": "alice@example.com", "password": "hunter22"}
	w = a.call(t, "/rpc/auth/register", creds)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.call(t, "/rpc/auth/register", creds)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", decodeError(t, w).Code)

	w = a.call(t, "/rpc/auth/login", map[string]any{"email": "alice@example.com", "password": "wrong-pass"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.call(t, "/rpc/auth/login", map[string]any{"email": "alice@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusOK, w.Code)
	_, result := decode[services.AuthResult](t, w)
	require.NotEmpty(t, result.Token)

	w = a.call(t, "/rpc/getSession", nil, "Authorization", "Bearer "+result.Token)
	require.Equal(t, http.StatusOK, w.Code)
	var session struct {
		Session *services.Session `json:"session"`
		User    *models.User      `json:"user"`
	}
	require.NoError(t, json.Unmarshal(mustEnvelope(t, w).Data, &session))
	require.NotNil(t, session.User)
	assert.Equal(t, "alice", session.User.Username)
	assert.Equal(t, result.User.ID, session.Session.UserID)
}

func mustEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestMetricsEndpoint(t *testing.T) {
	a := setup(t)

	a.call(t, "/rpc/chat/sendMessage", map[string]any{
		"roomId": a.room.ID, "userId": 1, "username": "alice", "content": "count me",
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chat_messages_sent_total")
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

type sseEvent struct {
	id    string
	event string
	data  string
}

// readEvent reads one server-sent event, skipping pings.
func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if ev.event == "ping" || (ev.event == "" && ev.data == "") {
				ev = sseEvent{}
				continue
			}
			return ev
		}
		field, value, _ := strings.Cut(line, ":")
		switch field {
		case "id":
			ev.id = value
		case "event":
			ev.event = value
		case "data":
			ev.data += value
		}
	}
}

func openStream(t *testing.T, srv *httptest.Server, body map[string]any, headers ...string) (*bufio.Reader, context.CancelFunc) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/rpc/chat/streamMessage", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		cancel()
		t.Fatalf("stream status %d: %s", resp.StatusCode, b)
	}
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	return bufio.NewReader(resp.Body), cancel
}

func TestStreamMessageOverSSE(t *testing.T) {
	a := setup(t)
	srv := httptest.NewServer(a.engine)
	defer srv.Close()

	first := a.call(t, "/rpc/chat/sendMessage", map[string]any{
		"roomId": a.room.ID, "userId": 1, "username": "alice", "content": "before",
	})
	_, before := decode[models.MessagePayload](t, first)
	a.call(t, "/rpc/chat/sendMessage", map[string]any{
		"roomId": a.room.ID, "userId": 1, "username": "alice", "content": "missed",
	})

	stream, cancel := openStream(t, srv, map[string]any{
		"roomId": a.room.ID, "userId": 2, "username": "bob", "lastMessageId": before.ID,
	})
	defer cancel()

	ev := readEvent(t, stream)
	assert.Equal(t, "message", ev.event)
	var missed models.MessagePayload
	require.NoError(t, json.Unmarshal([]byte(ev.data), &missed))
	assert.Equal(t, "missed", missed.Content)
	assert.Equal(t, ev.id, jsonID(missed.ID))

	w := a.call(t, "/rpc/chat/sendMessage", map[string]any{
		"roomId": a.room.ID, "userId": 1, "username": "alice", "content": "live",
	})
	require.Equal(t, http.StatusOK, w.Code)

	ev = readEvent(t, stream)
	var live models.MessagePayload
	require.NoError(t, json.Unmarshal([]byte(ev.data), &live))
	assert.Equal(t, "live", live.Content)
}

func TestStreamHonoursLastEventID(t *testing.T) {
	a := setup(t)
	srv := httptest.NewServer(a.engine)
	defer srv.Close()

	w := a.call(t, "/rpc/chat/sendMessage", map[string]any{
		"roomId": a.room.ID, "userId": 1, "username": "alice", "content": "seen",
	})
	_, seen := decode[models.MessagePayload](t, w)
	a.call(t, "/rpc/chat/sendMessage", map[string]any{
		"roomId": a.room.ID, "userId": 1, "username": "alice", "content": "unseen",
	})

	stream, cancel := openStream(t, srv, map[string]any{
		"roomId": a.room.ID, "userId": 2, "username": "bob",
	}, "Last-Event-ID", jsonID(seen.ID))
	defer cancel()

	var got models.MessagePayload
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, stream).data), &got))
	assert.Equal(t, "unseen", got.Content)
}

func TestStreamUnknownRoom(t *testing.T) {
	a := setup(t)

	w := a.call(t, "/rpc/chat/streamMessage", map[string]any{"roomId": 9999, "userId": 2, "username": "bob"})
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, w).Code)
}

func jsonID(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}
