package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderSetNXClaims(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	ok, err := p.SetNX(ctx, "claim", []byte("1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first claim must win: ok=%v err=%v", ok, err)
	}
	ok, err = p.SetNX(ctx, "claim", []byte("2"), time.Minute)
	if err != nil || ok {
		t.Fatalf("second claim must lose: ok=%v err=%v", ok, err)
	}

	if err := p.Del(ctx, "claim"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if ok, _ = p.SetNX(ctx, "claim", []byte("3"), time.Minute); !ok {
		t.Fatalf("claim must succeed after release")
	}
}

func TestMemoryProviderTTLExpiry(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	if err := p.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := p.Get(ctx, "k"); err != nil || string(got) != "v" {
		t.Fatalf("expected live value, got %q err=%v", got, err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss after expiry, got %v", err)
	}
}
