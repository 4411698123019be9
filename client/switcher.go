package client

import "sync"

// Switcher owns the stream loop of the room currently on screen. Opening a
// room stops the previous loop first, so at most one stream is open.
type Switcher struct {
	mu        sync.Mutex
	transport Transport
	who       Identity
	opts      []LoopOption
	current   *StreamLoop
}

func NewSwitcher(t Transport, who Identity, opts ...LoopOption) *Switcher {
	return &Switcher{transport: t, who: who, opts: opts}
}

// Open stops the current loop, waits for it to exit and starts one for roomID.
func (s *Switcher) Open(roomID uint) *StreamLoop {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.Stop()
	}
	l := NewStreamLoop(s.transport, roomID, s.who, s.opts...)
	l.Start()
	s.current = l
	return l
}

// Current returns the open loop, or nil.
func (s *Switcher) Current() *StreamLoop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close stops the current loop.
func (s *Switcher) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Stop()
		s.current = nil
	}
}
