package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func waitClosed[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel was not closed")
		}
	}
}

func TestTopic_PublishReachesEverySubscriber(t *testing.T) {
	topic := NewTopic[int]("test", 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := topic.Subscribe(ctx)
	b := topic.Subscribe(ctx)
	require.Equal(t, 2, topic.Subscribers())

	topic.Publish(7)
	assert.Equal(t, 7, receive(t, a))
	assert.Equal(t, 7, receive(t, b))
}

func TestTopic_CancelClosesAndReleases(t *testing.T) {
	topic := NewTopic[int]("test", 4)
	ctx, cancel := context.WithCancel(context.Background())

	ch := topic.Subscribe(ctx)
	cancel()
	waitClosed(t, ch)

	assert.Eventually(t, func() bool { return topic.Subscribers() == 0 }, time.Second, time.Millisecond)
	topic.Publish(1)
}

func TestTopic_FullQueueDropsNewestForThatSubscriberOnly(t *testing.T) {
	topic := NewTopic[int]("test", 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slow := topic.Subscribe(ctx)
	fast := topic.Subscribe(ctx)

	for i := 1; i <= 3; i++ {
		topic.Publish(i)
		assert.Equal(t, i, receive(t, fast))
	}

	assert.Equal(t, 1, receive(t, slow))
	assert.Equal(t, 2, receive(t, slow))
	select {
	case v := <-slow:
		t.Fatalf("expected third event to be dropped, got %d", v)
	default:
	}
}

func TestTopic_HooksRunOnPublishNotDeliver(t *testing.T) {
	topic := NewTopic[string]("test", 4)
	var seen []string
	topic.OnPublish(func(s string) { seen = append(seen, s) })

	topic.Publish("local")
	topic.Deliver("remote")

	assert.Equal(t, []string{"local"}, seen)
}

func TestTopic_Close(t *testing.T) {
	topic := NewTopic[int]("test", 4)
	ctx := context.Background()

	ch := topic.Subscribe(ctx)
	topic.Close()
	waitClosed(t, ch)

	late := topic.Subscribe(ctx)
	waitClosed(t, late)
	assert.Equal(t, 0, topic.Subscribers())
	topic.Close()
}

func TestTopic_CancelDuringBroadcast(t *testing.T) {
	topic := NewTopic[int]("test", 1)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		topic.Subscribe(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			cancel()
		}()
	}
	for i := 0; i < 100; i++ {
		topic.Publish(i)
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return topic.Subscribers() == 0 }, time.Second, time.Millisecond)
}

func TestBus_Kinds(t *testing.T) {
	bus := NewBus(0)
	assert.Equal(t, KindMessage, bus.Messages.Kind())
	assert.Equal(t, KindUserJoined, bus.UserJoined.Kind())
	assert.Equal(t, KindUserLeft, bus.UserLeft.Kind())
	assert.Equal(t, KindUserCount, bus.UserCount.Kind())
	bus.Close()
}
