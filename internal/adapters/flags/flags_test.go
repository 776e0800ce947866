package flags

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mikey-austin/montage_panel/internal/ports"
)

func exerciseStore(t *testing.T, store ports.FlagStore) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "previous_playlist_id"); err != nil || ok {
		t.Fatalf("expected empty store, ok=%v err=%v", ok, err)
	}
	if err := store.Put(ctx, "previous_playlist_id", "P1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, ok, err := store.Get(ctx, "previous_playlist_id")
	if err != nil || !ok || value != "P1" {
		t.Fatalf("unexpected get: %q %v %v", value, ok, err)
	}
	if err := store.Clear(ctx, "previous_playlist_id"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "previous_playlist_id"); ok {
		t.Fatalf("expected cleared flag")
	}
	if err := store.Clear(ctx, "missing"); err != nil {
		t.Fatalf("clear missing: %v", err)
	}
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "flags.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	exerciseStore(t, store)
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "flags.json")
	first, _ := NewFileStore(path)
	if err := first.Put(context.Background(), "k", "v"); err != nil {
		t.Fatalf("put: %v", err)
	}
	second, _ := NewFileStore(path)
	if value, ok, _ := second.Get(context.Background(), "k"); !ok || value != "v" {
		t.Fatalf("flag not persisted")
	}
}

func TestDefaultPathUsesXDGState(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("default path: %v", err)
	}
	if path != filepath.Join(dir, "mp", "flags.json") {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, "test:")
	defer store.Close()

	exerciseStore(t, store)

	if err := store.Put(context.Background(), "k", "v"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got, err := mr.Get("test:k"); err != nil || got != "v" {
		t.Fatalf("expected prefixed key, got %q %v", got, err)
	}
}

func TestNewRedisStorePings(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	addr := mr.Addr()
	store, err := NewRedisStore(context.Background(), RedisConfig{Addr: addr})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	store.Close()
	mr.Close()

	if _, err := NewRedisStore(context.Background(), RedisConfig{Addr: addr}); err == nil {
		t.Fatalf("expected connection failure")
	}
}
