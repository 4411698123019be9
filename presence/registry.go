// Package presence tracks which anonymous users are attached to which room.
//
// The registry lives in process memory only; a restart starts it empty while
// persisted messages survive.
package presence

import (
	"sort"
	"sync"
	"time"
)

// Entry is the metadata of one user present in one room.
type Entry struct {
	RoomID   uint      `json:"roomId"`
	UserID   uint      `json:"userId"`
	Username string    `json:"username"`
	Avatar   *string   `json:"avatar,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
}

// RoomCount is the user-count event emitted after every mutation.
type RoomCount struct {
	RoomID uint `json:"roomId"`
	Count  int  `json:"count"`
}

// Registry maps room -> user -> Entry. A user may be present in several
// rooms at once; leaving one room never touches the others.
type Registry struct {
	mu     sync.Mutex
	rooms  map[uint]map[uint]Entry
	notify func(RoomCount)
	now    func() time.Time
}

// NewRegistry returns an empty registry. notify receives the room's new
// cardinality after each Join and Leave and may be nil.
func NewRegistry(notify func(RoomCount)) *Registry {
	return &Registry{
		rooms:  make(map[uint]map[uint]Entry),
		notify: notify,
		now:    time.Now,
	}
}

// Join adds the user to the room and refreshes its metadata. Joining twice
// is a no-op apart from the metadata refresh and the count event.
func (r *Registry) Join(roomID, userID uint, username string, avatar *string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.rooms[roomID]
	if !ok {
		users = make(map[uint]Entry)
		r.rooms[roomID] = users
	}

	joinedAt := r.now()
	if prev, ok := users[userID]; ok {
		joinedAt = prev.JoinedAt
	}
	users[userID] = Entry{
		RoomID:   roomID,
		UserID:   userID,
		Username: username,
		Avatar:   avatar,
		JoinedAt: joinedAt,
	}

	r.emitLocked(roomID, len(users))
}

// Leave removes the user from the room and returns the removed entry. The
// room's set is dropped once it is empty.
func (r *Registry) Leave(roomID, userID uint) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		entry Entry
		found bool
		count int
	)
	if users, ok := r.rooms[roomID]; ok {
		entry, found = users[userID]
		delete(users, userID)
		count = len(users)
		if count == 0 {
			delete(r.rooms, roomID)
		}
	}

	r.emitLocked(roomID, count)
	return entry, found
}

// CountOnline returns the number of users in the room.
func (r *Registry) CountOnline(roomID uint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomID])
}

// lookup returns the entry for a user in a room.
func (r *Registry) lookup(roomID, userID uint) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[roomID][userID]
	return e, ok
}

// Members returns the room's entries, oldest join first.
func (r *Registry) Members(roomID uint) []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.rooms[roomID]))
	for _, e := range r.rooms[roomID] {
		out = append(out, e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Rooms returns the number of rooms with at least one user.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// emitLocked runs under r.mu so counts reach notify in mutation order.
func (r *Registry) emitLocked(roomID uint, count int) {
	if r.notify != nil {
		r.notify(RoomCount{RoomID: roomID, Count: count})
	}
}
