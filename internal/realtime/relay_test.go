package realtime_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/realtime"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]realtime.Event
	got    chan struct{}
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(map[string][]realtime.Event), got: make(chan struct{}, 16)}
}

func (p *recordingPublisher) Publish(_ context.Context, userID string, ev realtime.Event) error {
	p.mu.Lock()
	p.events[userID] = append(p.events[userID], ev)
	p.mu.Unlock()
	p.got <- struct{}{}
	return nil
}

func TestRedisRelay_ForwardsToLocalPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	relay := realtime.NewRedisRelay(rdb, "", zap.NewNop())
	local := newRecordingPublisher()

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, local, ready) }()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("relay never subscribed")
	}

	payload := map[string]string{"id": "n1", "title": "hi"}
	if err := relay.Publish(ctx, "u1", realtime.Event{Name: realtime.EventNotification, Data: payload}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-local.got:
	case <-time.After(2 * time.Second):
		t.Fatal("relayed event never arrived")
	}

	local.mu.Lock()
	evs := local.events["u1"]
	local.mu.Unlock()
	if len(evs) != 1 || evs[0].Name != realtime.EventNotification {
		t.Fatalf("unexpected events %+v", evs)
	}
	raw, err := json.Marshal(evs[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got["id"] != "n1" || got["title"] != "hi" {
		t.Fatalf("payload mangled: %v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop on cancel")
	}
}

func TestRedisRelay_PublishUnreachable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { rdb.Close() })

	relay := realtime.NewRedisRelay(rdb, "custom", zap.NewNop())
	if err := relay.Publish(context.Background(), "u1", realtime.Event{Name: "x"}); err == nil {
		t.Fatal("expected publish to fail without redis")
	}
}
