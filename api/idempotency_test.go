package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return NewRedisDeduper(client, time.Minute), m
}

func TestRedisDeduperAdd(t *testing.T) {
	deduper, m := newTestDeduper(t)
	ctx := context.Background()

	added, err := deduper.Add(ctx, "app1", "k1")
	if err != nil || !added {
		t.Fatalf("expected first add to succeed, got %v %v", added, err)
	}
	added, err = deduper.Add(ctx, "app1", "k1")
	if err != nil || added {
		t.Fatalf("expected duplicate, got %v %v", added, err)
	}
	added, err = deduper.Add(ctx, "app2", "k1")
	if err != nil || !added {
		t.Fatalf("keys are scoped per app, got %v %v", added, err)
	}

	if ttl := m.TTL("idem:app1:k1"); ttl != time.Minute {
		t.Fatalf("unexpected ttl: %v", ttl)
	}
	m.FastForward(2 * time.Minute)
	added, err = deduper.Add(ctx, "app1", "k1")
	if err != nil || !added {
		t.Fatalf("expected expired key to be accepted again, got %v %v", added, err)
	}
}

func TestRedisDeduperRemove(t *testing.T) {
	deduper, _ := newTestDeduper(t)
	ctx := context.Background()

	if _, err := deduper.Add(ctx, "app1", "k1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := deduper.Remove(ctx, "app1", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	added, err := deduper.Add(ctx, "app1", "k1")
	if err != nil || !added {
		t.Fatalf("expected removed key to be accepted again, got %v %v", added, err)
	}
}

func TestRedisDeduperUnavailable(t *testing.T) {
	deduper, m := newTestDeduper(t)
	m.Close()
	if _, err := deduper.Add(context.Background(), "app1", "k1"); err == nil {
		t.Fatal("expected error when redis is down")
	}
}
