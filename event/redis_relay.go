package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CUknot/chatroom_backend/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultRelayChannel is the Redis pub/sub channel shared by all instances.
const DefaultRelayChannel = "chatroom:events"

const (
	relayQueue   = 256
	relayTimeout = 2 * time.Second
)

// envelope is the relay wire format. Origin identifies the publishing
// instance so it can ignore its own echoes.
type envelope struct {
	Origin  string          `json:"origin"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay mirrors message and user events between server instances.
// Presence counts are per instance and are not relayed.
type RedisRelay struct {
	client  *redis.Client
	bus     *Bus
	channel string
	origin  string
	out     chan []byte
}

// NewRedisRelay hooks the relay into bus. Nothing leaves the process until
// Run is started.
func NewRedisRelay(client *redis.Client, bus *Bus, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	r := &RedisRelay{
		client:  client,
		bus:     bus,
		channel: channel,
		origin:  uuid.NewString(),
		out:     make(chan []byte, relayQueue),
	}

	bus.Messages.OnPublish(func(m models.MessagePayload) { r.enqueue(KindMessage, m) })
	bus.UserJoined.OnPublish(func(e UserEvent) { r.enqueue(KindUserJoined, e) })
	bus.UserLeft.OnPublish(func(e UserEvent) { r.enqueue(KindUserLeft, e) })
	return r
}

// Origin returns this instance's relay id.
func (r *RedisRelay) Origin() string {
	return r.origin
}

func (r *RedisRelay) enqueue(kind string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("relay marshal payload")
		return
	}
	data, err := json.Marshal(envelope{Origin: r.origin, Kind: kind, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("relay marshal envelope")
		return
	}
	select {
	case r.out <- data:
	default:
		log.Warn().Str("kind", kind).Msg("relay queue full, event not mirrored")
	}
}

// Run publishes queued local events and delivers remote ones until ctx is
// done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	log.Info().Str("channel", r.channel).Str("origin", r.origin).Msg("redis relay started")

	in := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("channel", r.channel).Msg("redis relay stopped")
			return nil
		case data := <-r.out:
			pctx, cancel := context.WithTimeout(ctx, relayTimeout)
			if err := r.client.Publish(pctx, r.channel, data).Err(); err != nil {
				log.Warn().Err(err).Msg("relay publish")
			}
			cancel()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			if err := r.handle([]byte(msg.Payload)); err != nil {
				log.Warn().Err(err).Msg("relay drop malformed envelope")
			}
		}
	}
}

// handle delivers a remote envelope to local subscribers. Events from this
// instance are ignored.
func (r *RedisRelay) handle(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Origin == r.origin {
		return nil
	}

	switch env.Kind {
	case KindMessage:
		var m models.MessagePayload
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		r.bus.Messages.Deliver(m)
	case KindUserJoined, KindUserLeft:
		var e UserEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		if env.Kind == KindUserJoined {
			r.bus.UserJoined.Deliver(e)
		} else {
			r.bus.UserLeft.Deliver(e)
		}
	default:
		return fmt.Errorf("unknown kind %q", env.Kind)
	}
	return nil
}
