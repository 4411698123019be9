package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/CUknot/chatroom_backend/models"
)

// MessageStream is an open room subscription.
type MessageStream interface {
	// Next blocks until the next message. It returns io.EOF when the server
	// ended the stream.
	Next() (models.MessagePayload, error)
	Close() error
}

type sseEvent struct {
	id    string
	event string
	data  string
}

// eventStream decodes a text/event-stream body incrementally.
type eventStream struct {
	body   io.ReadCloser
	r      *bufio.Reader
	cancel context.CancelFunc
}

func (s *eventStream) Next() (models.MessagePayload, error) {
	for {
		ev, err := s.readEvent()
		if err != nil {
			return models.MessagePayload{}, err
		}
		if ev.event != "message" {
			continue
		}
		var m models.MessagePayload
		if err := json.Unmarshal([]byte(ev.data), &m); err != nil {
			return models.MessagePayload{}, fmt.Errorf("decode event %s: %w", ev.id, err)
		}
		return m, nil
	}
}

func (s *eventStream) readEvent() (sseEvent, error) {
	var (
		ev      sseEvent
		data    []string
		started bool
	)
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return sseEvent{}, io.EOF
			}
			return sseEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !started {
				continue
			}
			ev.data = strings.Join(data, "\n")
			if ev.event == "" {
				ev.event = "message"
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		started = true
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			ev.id = value
		case "event":
			ev.event = value
		case "data":
			data = append(data, value)
		}
	}
}

func (s *eventStream) Close() error {
	s.cancel()
	return s.body.Close()
}
