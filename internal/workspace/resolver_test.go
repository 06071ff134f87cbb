package workspace

import (
	"context"
	"errors"
	"testing"
	"time"

	"roomledger.org/internal/docstore"
)

func seedProfile(t *testing.T, m *docstore.Memory, uid, wid string) {
	t.Helper()
	fields := map[string]any{"email": uid + "@flat.example", "fullName": "User " + uid, "displayName": uid}
	if wid != "" {
		fields[FieldCurrentWorkspace] = wid
	}
	if _, err := m.Create(context.Background(), docstore.Name(ProfilesCollection, uid), fields); err != nil {
		t.Fatal(err)
	}
}

func seedMembership(t *testing.T, m *docstore.Memory, wid, uid string, joined time.Time) {
	t.Helper()
	mem := Membership{WorkspaceID: wid, UserID: uid, Role: RoleMember, JoinedAt: joined}
	if _, err := m.Create(context.Background(), MembershipName(wid, uid), mem.Fields()); err != nil {
		t.Fatal(err)
	}
}

func TestResolveUsesCachedPointer(t *testing.T) {
	m := docstore.NewMemory()
	seedProfile(t, m, "u1", "w9")

	r := NewResolver(m)
	wid, err := r.Resolve(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if wid != "w9" {
		t.Fatalf("expected cached pointer w9, got %q", wid)
	}
}

func TestResolveSelfHealsFromMembership(t *testing.T) {
	m := docstore.NewMemory()
	ctx := context.Background()
	seedProfile(t, m, "uA", "")
	seedMembership(t, m, "w1", "uA", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	r := NewResolver(m)
	wid, err := r.Resolve(ctx, "uA")
	if err != nil {
		t.Fatal(err)
	}
	if wid != "w1" {
		t.Fatalf("expected w1, got %q", wid)
	}
	// The pointer must now be repaired in the profile document.
	doc, err := m.Get(ctx, docstore.Name(ProfilesCollection, "uA"))
	if err != nil {
		t.Fatal(err)
	}
	if ProfileFromDoc(doc).CurrentWorkspaceID != "w1" {
		t.Fatalf("pointer not healed: %#v", doc.Fields)
	}
}

func TestResolvePicksMostRecentMembership(t *testing.T) {
	m := docstore.NewMemory()
	seedProfile(t, m, "uA", "")
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedMembership(t, m, "wOld", "uA", base)
	seedMembership(t, m, "wNew", "uA", base.Add(48*time.Hour))

	r := NewResolver(m)
	wid, err := r.Resolve(context.Background(), "uA")
	if err != nil {
		t.Fatal(err)
	}
	if wid != "wNew" {
		t.Fatalf("expected most recent membership wNew, got %q", wid)
	}
}

func TestResolveNoWorkspace(t *testing.T) {
	m := docstore.NewMemory()
	seedProfile(t, m, "uLonely", "")
	r := NewResolver(m)
	if _, err := r.Resolve(context.Background(), "uLonely"); !errors.Is(err, ErrNoWorkspaceForUser) {
		t.Fatalf("expected ErrNoWorkspaceForUser, got %v", err)
	}
}

// denyingStore rejects the first n updates with PermissionDenied, modelling
// the backend's authorization race right after a membership write.
type denyingStore struct {
	docstore.Store
	remaining int
	attempts  int
}

func (d *denyingStore) Update(ctx context.Context, name string, fields map[string]any, mask []string) (docstore.Document, error) {
	d.attempts++
	if d.remaining > 0 {
		d.remaining--
		return docstore.Document{}, docstore.ErrPermissionDenied
	}
	return d.Store.Update(ctx, name, fields, mask)
}

func TestEnsureMatchesRetriesPermissionDenied(t *testing.T) {
	m := docstore.NewMemory()
	seedProfile(t, m, "u1", "")
	ds := &denyingStore{Store: m, remaining: 3}
	r := NewResolver(ds)
	r.sleep = func(time.Duration) {}

	if err := r.EnsureMatches(context.Background(), "u1", "w5"); err != nil {
		t.Fatal(err)
	}
	if ds.attempts != 4 {
		t.Fatalf("expected 4 update attempts, got %d", ds.attempts)
	}
	doc, _ := m.Get(context.Background(), docstore.Name(ProfilesCollection, "u1"))
	if ProfileFromDoc(doc).CurrentWorkspaceID != "w5" {
		t.Fatalf("pointer not written: %#v", doc.Fields)
	}
}

func TestEnsureMatchesExhaustsRetries(t *testing.T) {
	m := docstore.NewMemory()
	seedProfile(t, m, "u1", "")
	ds := &denyingStore{Store: m, remaining: 100}
	r := NewResolver(ds)
	r.sleep = func(time.Duration) {}

	err := r.EnsureMatches(context.Background(), "u1", "w5")
	if !errors.Is(err, ErrContextSyncFailed) {
		t.Fatalf("expected ErrContextSyncFailed, got %v", err)
	}
	if ds.attempts != syncAttempts {
		t.Fatalf("expected %d attempts, got %d", syncAttempts, ds.attempts)
	}
}

func TestEnsureMatchesAlreadyCorrectIsNoop(t *testing.T) {
	m := docstore.NewMemory()
	seedProfile(t, m, "u1", "w5")
	ds := &denyingStore{Store: m, remaining: 100} // any update would fail
	r := NewResolver(ds)
	r.sleep = func(time.Duration) {}

	if err := r.EnsureMatches(context.Background(), "u1", "w5"); err != nil {
		t.Fatal(err)
	}
	if ds.attempts != 0 {
		t.Fatalf("matching pointer must not be rewritten, got %d attempts", ds.attempts)
	}
}

func TestEnsureMatchesOtherErrorsNotRetried(t *testing.T) {
	m := docstore.NewMemory()
	// No profile document at all: update fails NotFound, which must surface
	// unchanged and without retries.
	r := NewResolver(m)
	r.sleep = func(d time.Duration) { t.Fatalf("unexpected backoff sleep %v", d) }
	if err := r.EnsureMatches(context.Background(), "ghost", "w1"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
