package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/CUknot/chatroom_backend/models"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// MaxAttempts is how many reconnects are scheduled after consecutive
// failures before the loop gives up.
const MaxAttempts = 5

const (
	ErrRoomNotFound   = "room not found"
	ErrConnectionLost = "connection lost"
	ErrNoNetwork      = "no network"
	ErrHistory        = "failed to load history"
)

// Transport is what a StreamLoop needs from the API. *Client implements it.
type Transport interface {
	JoinRoom(ctx context.Context, roomID uint, who Identity) (bool, error)
	History(ctx context.Context, roomID uint) ([]models.MessagePayload, error)
	Stream(ctx context.Context, roomID uint, who Identity, lastMessageID *uint) (MessageStream, error)
}

type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateStreaming    State = "streaming"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateStopped      State = "stopped"
)

// Snapshot is the loop's observable state.
type Snapshot struct {
	State     State
	Connected bool
	Messages  []models.MessagePayload
	Cursor    uint
	Attempts  int
	Error     string
}

// AfterFunc schedules fn after d and returns a function that cancels it,
// like time.AfterFunc.
type AfterFunc func(d time.Duration, fn func()) (stop func() bool)

func realAfter(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// DefaultMaxDelay caps the reconnect delay.
const DefaultMaxDelay = 10 * time.Second

// NewBackOff returns the reconnect delay policy: 1s doubling up to 10s.
func NewBackOff() backoff.BackOff {
	return NewBackOffMax(DefaultMaxDelay)
}

// NewBackOffMax is NewBackOff with a different cap. A non-positive limit
// keeps the default.
func NewBackOffMax(limit time.Duration) backoff.BackOff {
	if limit <= 0 {
		limit = DefaultMaxDelay
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     time.Second,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         limit,
	}
	b.Reset()
	return b
}

type LoopOption func(*StreamLoop)

// WithBackOff replaces the reconnect delay policy. b is reset when the loop
// starts, so the loops of a Switcher may share it.
func WithBackOff(b backoff.BackOff) LoopOption {
	return func(l *StreamLoop) { l.backoff = b }
}

// WithAfter replaces the timer source used for reconnect delays.
func WithAfter(after AfterFunc) LoopOption {
	return func(l *StreamLoop) { l.after = after }
}

// WithOnMessage is called from the loop goroutine for every message newly
// added to the local list. fn must not block or call Stop directly, since
// Stop waits for the loop goroutine; use go l.Stop() instead.
func WithOnMessage(fn func(models.MessagePayload)) LoopOption {
	return func(l *StreamLoop) { l.onMessage = fn }
}

// WithOnChange is called from the loop goroutine after every state change.
// The restrictions of WithOnMessage apply.
func WithOnChange(fn func(Snapshot)) LoopOption {
	return func(l *StreamLoop) { l.onChange = fn }
}

// Loop inputs. Results of asynchronous work carry the generation they were
// started in and are ignored once it is superseded.
type (
	joinDone struct {
		gen uint64
		ok  bool
		err error
	}
	historyDone struct {
		gen      uint64
		messages []models.MessagePayload
		err      error
	}
	streamOpened struct {
		gen    uint64
		stream MessageStream
		err    error
	}
	streamItem struct {
		gen uint64
		msg models.MessagePayload
	}
	streamEnded struct {
		gen uint64
		err error
	}
	timerFired struct{ gen uint64 }
	visibility struct{ visible bool }
	network    struct{ online bool }
	reconnect  struct{}
	stop       struct{}
)

// StreamLoop keeps one room's stream open: it joins, loads history, streams
// and reconnects with backoff. All state is owned by one goroutine.
type StreamLoop struct {
	transport Transport
	roomID    uint
	who       Identity
	backoff   backoff.BackOff
	after     AfterFunc
	onMessage func(models.MessagePayload)
	onChange  func(Snapshot)

	events    chan any
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	mu       sync.RWMutex
	snapshot Snapshot

	// owned by run
	state     State
	connected bool
	visible   bool
	online    bool
	roomGone  bool
	messages  []models.MessagePayload
	seen      map[uint]struct{}
	cursor    uint
	attempts  int
	errMsg    string
	gen       uint64
	opening   bool
	stream    MessageStream
	timerGen  uint64
	timerStop func() bool
}

func NewStreamLoop(t Transport, roomID uint, who Identity, opts ...LoopOption) *StreamLoop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &StreamLoop{
		transport: t,
		roomID:    roomID,
		who:       who,
		backoff:   NewBackOff(),
		after:     realAfter,
		events:    make(chan any, 64),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
		visible:   true,
		online:    true,
		seen:      make(map[uint]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.snapshot = Snapshot{State: StateIdle}
	return l
}

// RoomID returns the room this loop streams.
func (l *StreamLoop) RoomID() uint { return l.roomID }

// Start begins initializing in a new goroutine. Later calls do nothing.
func (l *StreamLoop) Start() {
	l.startOnce.Do(func() { go l.run() })
}

// Stop closes the stream and waits for the loop to exit. Stopped is terminal.
func (l *StreamLoop) Stop() {
	started := true
	l.startOnce.Do(func() {
		started = false
		close(l.done)
	})
	if !started {
		l.cancel()
		l.mu.Lock()
		l.snapshot.State = StateStopped
		l.mu.Unlock()
		return
	}
	l.stopOnce.Do(func() { l.post(stop{}) })
	<-l.done
}

// SetVisible reports whether the host view is visible.
func (l *StreamLoop) SetVisible(visible bool) { l.post(visibility{visible: visible}) }

// SetOnline reports network availability.
func (l *StreamLoop) SetOnline(online bool) { l.post(network{online: online}) }

// Reconnect retries now with a fresh attempt budget when disconnected.
func (l *StreamLoop) Reconnect() { l.post(reconnect{}) }

// Done is closed once the loop has stopped.
func (l *StreamLoop) Done() <-chan struct{} { return l.done }

// Snapshot returns a copy of the loop's state.
func (l *StreamLoop) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.snapshot
	s.Messages = append([]models.MessagePayload(nil), l.snapshot.Messages...)
	return s
}

func (l *StreamLoop) post(ev any) {
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

func (l *StreamLoop) run() {
	defer close(l.done)
	defer l.cancel()

	l.resetAttempts()
	l.initialize()
	l.publish()

	for ev := range l.events {
		if l.handle(ev) {
			l.publish()
			return
		}
		l.publish()
	}
}

// handle applies one input and reports whether the loop is finished.
func (l *StreamLoop) handle(ev any) bool {
	switch ev := ev.(type) {
	case joinDone:
		if ev.gen != l.gen {
			return false
		}
		switch {
		case ev.err == nil && !ev.ok, IsStatus(ev.err, http.StatusNotFound):
			l.fail(ErrRoomNotFound, true)
			return false
		case ev.err != nil:
			log.Warn().Err(ev.err).Uint("room_id", l.roomID).Msg("join room failed")
		}
		l.loadHistory()

	case historyDone:
		if ev.gen != l.gen {
			return false
		}
		if ev.err != nil {
			log.Warn().Err(ev.err).Uint("room_id", l.roomID).Msg("load history failed")
			l.errMsg = ErrHistory
		} else {
			l.replaceHistory(ev.messages)
		}
		l.openStream()

	case streamOpened:
		if ev.gen != l.gen {
			if ev.stream != nil {
				l.closeQuietly(ev.stream)
			}
			return false
		}
		l.opening = false
		if ev.err != nil {
			l.streamFailed(ev.err)
			return false
		}
		l.stream = ev.stream
		l.state = StateStreaming
		l.connected = true
		l.attempts = 0
		l.backoff.Reset()
		if l.online {
			l.errMsg = ""
		}
		go l.read(ev.gen, ev.stream)

	case streamItem:
		if ev.gen != l.gen {
			return false
		}
		l.append(ev.msg)

	case streamEnded:
		if ev.gen != l.gen {
			return false
		}
		l.dropStream()
		l.streamFailed(ev.err)

	case timerFired:
		if ev.gen != l.timerGen || l.timerStop == nil {
			return false
		}
		l.timerStop = nil
		if l.visible && l.online {
			l.openStream()
		}

	case visibility:
		if ev.visible == l.visible {
			return false
		}
		l.visible = ev.visible
		if !ev.visible {
			l.invalidate()
			l.cancelTimer()
			l.connected = false
			if l.state != StateFailed {
				l.state = StateIdle
			}
			return false
		}
		if l.roomGone {
			return false
		}
		l.resetAttempts()
		l.state = StateInitializing
		l.loadHistory()

	case network:
		l.online = ev.online
		if !ev.online {
			l.connected = false
			l.errMsg = ErrNoNetwork
			return false
		}
		if l.roomGone || !l.visible {
			return false
		}
		l.resetAttempts()
		l.cancelTimer()
		l.errMsg = ""
		switch {
		case l.stream != nil:
			// The stream survived the outage.
			l.connected = true
			l.state = StateStreaming
		case !l.opening:
			l.openStream()
		}

	case reconnect:
		if l.connected || l.roomGone || l.stream != nil || l.opening {
			return false
		}
		l.resetAttempts()
		l.cancelTimer()
		l.errMsg = ""
		l.state = StateReconnecting
		l.openStream()

	case stop:
		l.invalidate()
		l.cancelTimer()
		l.connected = false
		l.state = StateStopped
		return true
	}
	return false
}

func (l *StreamLoop) initialize() {
	l.state = StateInitializing
	l.gen++
	gen := l.gen
	go func() {
		ok, err := l.transport.JoinRoom(l.ctx, l.roomID, l.who)
		l.post(joinDone{gen: gen, ok: ok, err: err})
	}()
}

func (l *StreamLoop) loadHistory() {
	l.gen++
	gen := l.gen
	go func() {
		messages, err := l.transport.History(l.ctx, l.roomID)
		l.post(historyDone{gen: gen, messages: messages, err: err})
	}()
}

func (l *StreamLoop) openStream() {
	if !l.visible || l.opening || l.stream != nil {
		return
	}
	l.gen++
	l.opening = true
	gen := l.gen

	var cursor *uint
	if l.cursor != 0 {
		c := l.cursor
		cursor = &c
	}
	go func() {
		s, err := l.transport.Stream(l.ctx, l.roomID, l.who, cursor)
		l.post(streamOpened{gen: gen, stream: s, err: err})
	}()
}

func (l *StreamLoop) read(gen uint64, s MessageStream) {
	for {
		m, err := s.Next()
		if err != nil {
			l.post(streamEnded{gen: gen, err: err})
			return
		}
		l.post(streamItem{gen: gen, msg: m})
	}
}

// streamFailed decides what follows a failed open or an ended stream.
func (l *StreamLoop) streamFailed(err error) {
	l.connected = false
	if IsStatus(err, http.StatusNotFound) {
		l.fail(ErrRoomNotFound, true)
		return
	}
	if !l.online {
		l.state = StateReconnecting
		l.errMsg = ErrNoNetwork
		return
	}
	if !l.visible {
		return
	}

	if errors.Is(err, io.EOF) {
		log.Info().Uint("room_id", l.roomID).Msg("stream ended by server")
	} else {
		log.Warn().Err(err).Uint("room_id", l.roomID).Int("attempt", l.attempts).Msg("stream failed")
	}

	if l.attempts >= MaxAttempts {
		l.fail(ErrConnectionLost, false)
		return
	}
	l.attempts++
	l.state = StateReconnecting
	l.errMsg = ErrConnectionLost
	l.schedule(l.backoff.NextBackOff())
}

func (l *StreamLoop) fail(msg string, roomGone bool) {
	l.invalidate()
	l.cancelTimer()
	l.state = StateFailed
	l.connected = false
	l.errMsg = msg
	l.roomGone = l.roomGone || roomGone
}

func (l *StreamLoop) schedule(d time.Duration) {
	l.cancelTimer()
	l.timerGen++
	gen := l.timerGen
	l.timerStop = l.after(d, func() { l.post(timerFired{gen: gen}) })
}

func (l *StreamLoop) cancelTimer() {
	if l.timerStop != nil {
		l.timerStop()
		l.timerStop = nil
	}
	l.timerGen++
}

func (l *StreamLoop) resetAttempts() {
	l.attempts = 0
	l.backoff.Reset()
}

// invalidate supersedes in-flight work and closes the open stream.
func (l *StreamLoop) invalidate() {
	l.gen++
	l.opening = false
	l.dropStream()
}

func (l *StreamLoop) dropStream() {
	if l.stream == nil {
		return
	}
	l.closeQuietly(l.stream)
	l.stream = nil
}

func (l *StreamLoop) closeQuietly(s MessageStream) {
	if err := s.Close(); err != nil {
		log.Warn().Err(err).Uint("room_id", l.roomID).Msg("failed to close stream")
	}
}

func (l *StreamLoop) replaceHistory(messages []models.MessagePayload) {
	l.messages = l.messages[:0]
	seen := make(map[uint]struct{}, len(messages))
	for _, m := range messages {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		l.messages = append(l.messages, m)
		if _, known := l.seen[m.ID]; !known && l.onMessage != nil {
			l.onMessage(m)
		}
	}
	l.seen = seen
	l.cursor = 0
	if len(l.messages) > 0 {
		l.cursor = l.messages[len(l.messages)-1].ID
	}
}

// append adds m unless its id is already present.
func (l *StreamLoop) append(m models.MessagePayload) {
	if _, dup := l.seen[m.ID]; dup {
		return
	}
	l.seen[m.ID] = struct{}{}
	l.messages = append(l.messages, m)
	l.cursor = m.ID
	if l.onMessage != nil {
		l.onMessage(m)
	}
}

func (l *StreamLoop) publish() {
	s := Snapshot{
		State:     l.state,
		Connected: l.connected,
		Messages:  append([]models.MessagePayload(nil), l.messages...),
		Cursor:    l.cursor,
		Attempts:  l.attempts,
		Error:     l.errMsg,
	}
	l.mu.Lock()
	l.snapshot = s
	l.mu.Unlock()
	if l.onChange != nil {
		l.onChange(s)
	}
}
