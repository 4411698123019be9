package repository

import (
	"context"
	"testing"
	"time"

	"github.com/CUknot/chatroom_backend/models"
	"github.com/CUknot/chatroom_backend/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock returns the same instant every time, forcing id tie-breaks.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMessageRepository_HistoryAscending(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	room := testutil.CreateRoom(t, db, models.Room{Name: "general"})
	repo := NewMessageRepository(db)

	for _, content := range []string{"one", "two", "three"} {
		require.NoError(t, repo.Create(ctx, &models.Message{RoomID: room.ID, UserID: 1, Username: "a", Content: content}))
	}

	history, err := repo.ListByRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "three", history[2].Content)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt))
		assert.Greater(t, history[i].ID, history[i-1].ID)
	}
	assert.Equal(t, models.MessageTypeText, history[0].Type)
}

func TestMessageRepository_CreatedAtIsServerAssigned(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	room := testutil.CreateRoom(t, db, models.Room{Name: "general"})
	repo := NewMessageRepository(db)
	now := time.Date(2025, 1, 2, 3, 4, 5, 123456789, time.UTC)
	repo.now = fixedClock(now)

	m := models.Message{RoomID: room.ID, Content: "x", CreatedAt: time.Unix(0, 0)}
	require.NoError(t, repo.Create(ctx, &m))
	assert.True(t, m.CreatedAt.Equal(now.Truncate(time.Microsecond)))

	history, err := repo.ListByRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, m.Payload().CreatedAt, history[0].Payload().CreatedAt)
}

func TestMessageRepository_ListAfter(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	room := testutil.CreateRoom(t, db, models.Room{Name: "general"})
	other := testutil.CreateRoom(t, db, models.Room{Name: "other"})
	repo := NewMessageRepository(db)
	repo.now = fixedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	var ids []uint
	for i := 0; i < 5; i++ {
		m := models.Message{RoomID: room.ID, Content: "m"}
		require.NoError(t, repo.Create(ctx, &m))
		ids = append(ids, m.ID)
	}
	require.NoError(t, repo.Create(ctx, &models.Message{RoomID: other.ID, Content: "elsewhere"}))

	after, err := repo.ListAfter(ctx, room.ID, ids[1])
	require.NoError(t, err)
	require.Len(t, after, 3, "same timestamp falls back to id ordering")
	assert.Equal(t, ids[2], after[0].ID)
	assert.Equal(t, ids[4], after[2].ID)

	none, err := repo.ListAfter(ctx, room.ID, ids[4])
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := repo.ListAfter(ctx, room.ID, 424242)
	require.NoError(t, err)
	assert.Len(t, all, 5, "a vanished cursor replays the whole history")
}

func TestMessageRepository_Latest(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	room := testutil.CreateRoom(t, db, models.Room{Name: "general"})
	repo := NewMessageRepository(db)

	latest, err := repo.Latest(ctx, room.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, repo.Create(ctx, &models.Message{RoomID: room.ID, Content: "first"}))
	require.NoError(t, repo.Create(ctx, &models.Message{RoomID: room.ID, Content: "second"}))

	latest, err = repo.Latest(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "second", latest.Content)
}

func TestRoomRepository(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	pub := testutil.CreateRoom(t, db, models.Room{Name: "public"})
	testutil.CreateRoom(t, db, models.Room{Name: "secret", IsPrivate: true})
	repo := NewRoomRepository(db)

	got, err := repo.Get(ctx, pub.ID)
	require.NoError(t, err)
	assert.Equal(t, "public", got.Name)

	_, err = repo.Get(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	rooms, err := repo.ListPublic(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, pub.ID, rooms[0].ID)
}

func TestPostRepository_CRUD(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewPostRepository(db)

	post := models.Post{Title: "hello", Content: "world"}
	require.NoError(t, repo.Create(ctx, &post))
	require.NotZero(t, post.ID)

	updated, err := repo.Update(ctx, models.Post{ID: post.ID, Title: "hello again", Content: "world", Published: true})
	require.NoError(t, err)
	assert.Equal(t, "hello again", updated.Title)
	assert.True(t, updated.Published)

	posts, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, posts, 1)

	deleted, err := repo.Delete(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello again", deleted.Title)

	_, err = repo.Get(ctx, post.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Update(ctx, models.Post{ID: post.ID})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Delete(ctx, post.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepository(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewUserRepository(db)

	user := models.User{Username: "alice", Email: "alice@example.test", Password: "secret1"}
	require.NoError(t, repo.Create(ctx, &user))
	assert.NotEqual(t, "secret1", user.Password, "password is stored hashed")

	taken, err := repo.Taken(ctx, "alice", "other@example.test")
	require.NoError(t, err)
	assert.True(t, taken)
	taken, err = repo.Taken(ctx, "bob", "bob@example.test")
	require.NoError(t, err)
	assert.False(t, taken)

	found, err := repo.FindByEmail(ctx, "alice@example.test")
	require.NoError(t, err)
	assert.NoError(t, found.ValidatePassword("secret1"))

	_, err = repo.FindByID(ctx, 777)
	assert.ErrorIs(t, err, ErrNotFound)
}
