package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisTokenStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisTokenStore(mr.Addr(), "", "test:token", time.Hour)
	if err != nil {
		t.Fatalf("new token store: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	token, err := s.Load(ctx)
	if err != nil || token != "" {
		t.Fatalf("expected empty token, got %q err=%v", token, err)
	}
	if err := s.Save(ctx, "tok-1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL("test:token"); ttl != time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	token, err = s.Load(ctx)
	if err != nil || token != "tok-1" {
		t.Fatalf("expected tok-1, got %q err=%v", token, err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("second clear should be a no-op: %v", err)
	}
	token, _ = s.Load(ctx)
	if token != "" {
		t.Fatalf("token should be cleared, got %q", token)
	}
}

func TestRedisTokenStoreRequiresAddr(t *testing.T) {
	if s, err := NewRedisTokenStore("", "", "", 0); err == nil || s != nil {
		t.Fatalf("expected constructor error for empty redis addr")
	}
}

func TestRedisTokenStoreLoadFailsWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisTokenStore(mr.Addr(), "", "test:token", 0)
	if err != nil {
		t.Fatalf("new token store: %v", err)
	}
	defer s.Close()
	mr.Close()
	if _, err := s.Load(context.Background()); err == nil {
		t.Fatalf("expected load error when redis is unavailable")
	}
}

func TestMemoryTokenStore(t *testing.T) {
	s := NewMemoryTokenStore()
	ctx := context.Background()
	_ = s.Save(ctx, "abc")
	if tok, _ := s.Load(ctx); tok != "abc" {
		t.Fatalf("unexpected token %q", tok)
	}
	_ = s.Clear(ctx)
	if tok, _ := s.Load(ctx); tok != "" {
		t.Fatalf("token should be cleared")
	}
}
