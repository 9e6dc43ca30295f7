package presence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/notifyhub/collab-notify/internal/presence"
)

func newRedisSessions(t *testing.T, ttl time.Duration) (*presence.RedisSessions, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return presence.NewRedisSessions(rdb, ttl), mr
}

func TestRedisSessions(t *testing.T) {
	ctx := context.Background()
	sessions, mr := newRedisSessions(t, time.Hour)

	present, err := sessions.IsPresent(ctx, "u-1")
	if err != nil || present {
		t.Fatalf("expected absent, got %v %v", present, err)
	}

	if err := sessions.Touch(ctx, "u-1", `{"email":"a@b.c"}`); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if ttl := mr.TTL(presence.SessionKey("u-1")); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", ttl)
	}
	if present, _ := sessions.IsPresent(ctx, "u-1"); !present {
		t.Fatal("expected present after touch")
	}

	mr.FastForward(2 * time.Hour)
	if present, _ := sessions.IsPresent(ctx, "u-1"); present {
		t.Fatal("session should expire after ttl")
	}

	_ = sessions.Touch(ctx, "u-1", "")
	if err := sessions.Remove(ctx, "u-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if present, _ := sessions.IsPresent(ctx, "u-1"); present {
		t.Fatal("expected absent after remove")
	}
}

func TestRedisSessions_KeyLayout(t *testing.T) {
	sessions, mr := newRedisSessions(t, 0)
	_ = sessions.Touch(context.Background(), "42", "payload")

	got, err := mr.Get("user:session:42")
	if err != nil || got != "payload" {
		t.Fatalf("unexpected key contents %q, %v", got, err)
	}
	if ttl := mr.TTL("user:session:42"); ttl != presence.DefaultSessionTTL {
		t.Fatalf("expected default ttl, got %s", ttl)
	}
}

func TestRedisSessions_Unavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()
	sessions := presence.NewRedisSessions(rdb, time.Hour)

	if _, err := sessions.IsPresent(context.Background(), "u-1"); err == nil {
		t.Fatal("expected an error when redis is down")
	}
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := presence.NewMemory(time.Minute).WithClock(func() time.Time { return now })

	_ = m.Touch(ctx, "u-1", "")
	if present, _ := m.IsPresent(ctx, "u-1"); !present {
		t.Fatal("expected present")
	}

	now = now.Add(time.Minute)
	if present, _ := m.IsPresent(ctx, "u-1"); present {
		t.Fatal("expected expired")
	}
}

func TestRequireAll(t *testing.T) {
	ctx := context.Background()
	yes := presence.OracleFunc(func(context.Context, string) (bool, error) { return true, nil })
	no := presence.OracleFunc(func(context.Context, string) (bool, error) { return false, nil })
	broken := presence.OracleFunc(func(context.Context, string) (bool, error) { return false, errors.New("boom") })

	tests := []struct {
		name    string
		oracles []presence.Oracle
		want    bool
		wantErr bool
	}{
		{"all present", []presence.Oracle{yes, yes}, true, false},
		{"one absent", []presence.Oracle{yes, no}, false, false},
		{"absent short-circuits error", []presence.Oracle{no, broken}, false, false},
		{"error", []presence.Oracle{yes, broken}, false, true},
		{"no oracles", nil, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := presence.RequireAll(tc.oracles...).IsPresent(ctx, "u")
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}
