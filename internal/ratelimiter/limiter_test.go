package ratelimiter_test

import (
	"context"
	"testing"
	"time"

	"github.com/notifyhub/collab-notify/internal/ratelimiter"
)

func TestQueueLimiters_UnlimitedQueue(t *testing.T) {
	l := ratelimiter.New().Limit("email", 1, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx, "in-app"); err != nil {
			t.Fatalf("in-app should never wait: %v", err)
		}
	}
}

func TestQueueLimiters_BlocksAfterBurst(t *testing.T) {
	l := ratelimiter.New().Limit("email", 2, time.Hour)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Wait(ctx, "email"); err != nil {
			t.Fatalf("token %d: %v", i+1, err)
		}
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(short, "email"); err == nil {
		t.Fatal("third send inside the window should have been throttled")
	}
}

func TestQueueLimiters_ZeroDisables(t *testing.T) {
	l := ratelimiter.New().Limit("email", 1, time.Hour).Limit("email", 0, time.Hour)
	for i := 0; i < 5; i++ {
		if err := l.Wait(context.Background(), "email"); err != nil {
			t.Fatal(err)
		}
	}
}
