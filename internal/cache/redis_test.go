package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisStore(mr.Addr(), "", 0, "descriptions/")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	s, _ := newTestRedisStore(t)
	exerciseStore(t, s)
}

func TestRedisStore_ObjectLayout(t *testing.T) {
	s, mr := newTestRedisStore(t)
	if err := s.Set(context.Background(), "日光_栃木", testRecord("説明")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !mr.Exists("descriptions/日光_栃木.json") {
		t.Errorf("object not stored at descriptions/日光_栃木.json; keys = %v", mr.Keys())
	}
	if ttl := mr.TTL("descriptions/日光_栃木.json"); ttl != 0 {
		t.Errorf("object TTL = %v, want none", ttl)
	}
}

func TestRedisStore_GlobCharactersMatchLiterally(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()
	if err := s.Set(ctx, "axb", testRecord("x")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	for _, key := range []string{"a*b", "a?b", "a[x]b"} {
		if _, ok, err := s.Get(ctx, key); err != nil || ok {
			t.Errorf("Get(%q) = (ok=%v, err=%v), want miss", key, ok, err)
		}
	}

	if err := s.Set(ctx, "a*b", testRecord("star")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := s.Get(ctx, "a*b")
	if err != nil || !ok || got.Info.Extract != "star" {
		t.Errorf("Get(a*b) = (%q, ok=%v, err=%v), want star", got.Info.Extract, ok, err)
	}
}

func TestRedisStore_CorruptObject(t *testing.T) {
	s, mr := newTestRedisStore(t)
	if err := mr.Set("descriptions/broken.json", "{not json"); err != nil {
		t.Fatalf("miniredis Set() error = %v", err)
	}
	if _, _, err := s.Get(context.Background(), "broken"); !errors.Is(err, ErrCacheUnavailable) {
		t.Errorf("Get() error = %v, want ErrCacheUnavailable", err)
	}
}

func TestRedisStore_Unreachable(t *testing.T) {
	s, mr := newTestRedisStore(t)
	mr.Close()

	ctx := context.Background()
	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, ErrCacheUnavailable) {
		t.Errorf("Get() error = %v, want ErrCacheUnavailable", err)
	}
	if err := s.Set(ctx, "k", testRecord("x")); !errors.Is(err, ErrCacheUnavailable) {
		t.Errorf("Set() error = %v, want ErrCacheUnavailable", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, ErrCacheUnavailable) {
		t.Errorf("Ping() error = %v, want ErrCacheUnavailable", err)
	}
}

func TestEscapeGlob(t *testing.T) {
	tests := map[string]string{
		"plain":   "plain",
		"a*b":     `a\*b`,
		"a?b":     `a\?b`,
		"[x]":     `\[x\]`,
		`back\sl`: `back\\sl`,
	}
	for in, want := range tests {
		if got := escapeGlob(in); got != want {
			t.Errorf("escapeGlob(%q) = %q, want %q", in, got, want)
		}
	}
}
