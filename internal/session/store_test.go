package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func sampleSession() Session {
	return Session{
		SubjectID:    "u1",
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.bin")
	fs, err := NewFileStore(path, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, ok, err := fs.Load(ctx); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	want := sampleSession()
	if err := fs.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := fs.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("round trip changed session: %#v vs %#v", got, want)
	}

	if err := fs.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if err := fs.Clear(ctx); err != nil {
		t.Fatal(err) // clearing twice is fine
	}
	if _, ok, _ := fs.Load(ctx); ok {
		t.Fatal("session survived clear")
	}
}

func TestFileStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.bin")
	fs, _ := NewFileStore(path, "right")
	ctx := context.Background()
	if err := fs.Save(ctx, sampleSession()); err != nil {
		t.Fatal(err)
	}

	other, _ := NewFileStore(path, "wrong")
	if _, _, err := other.Load(ctx); err == nil {
		t.Fatal("expected unseal failure with wrong passphrase")
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rs := NewRedisStoreWithClient(client, "device-1")
	defer rs.Close()

	ctx := context.Background()
	if _, ok, err := rs.Load(ctx); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	want := sampleSession()
	if err := rs.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := rs.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("round trip changed session: %#v vs %#v", got, want)
	}

	if err := rs.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := rs.Load(ctx); ok {
		t.Fatal("session survived clear")
	}
}
