package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roomledger.org/internal/docstore"
	"roomledger.org/internal/obs"
)

const (
	syncAttempts = 5
	syncBackoff  = 150 * time.Millisecond
)

// Resolver produces the single authoritative workspace id for a session and
// repairs the cached profile pointer when it is absent or stale. The
// pointer/membership pair is an intentional denormalization; this is the one
// place that reconciles it.
type Resolver struct {
	store docstore.Store
	sleep func(time.Duration)
}

// NewResolver constructs a Resolver over a document store.
func NewResolver(store docstore.Store) *Resolver {
	return &Resolver{store: store, sleep: time.Sleep}
}

// WithSleep overrides the retry backoff sleeper (useful for tests).
func (r *Resolver) WithSleep(fn func(time.Duration)) *Resolver {
	if fn != nil {
		r.sleep = fn
	}
	return r
}

// Resolve returns the workspace id the user operates in. The cached profile
// pointer wins when present; otherwise the most recent Membership is taken
// as truth and written back into the profile (self-heal).
func (r *Resolver) Resolve(ctx context.Context, uid string) (string, error) {
	doc, err := r.store.Get(ctx, docstore.Name(ProfilesCollection, uid))
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return "", err
	}
	if err == nil {
		if wid := ProfileFromDoc(doc).CurrentWorkspaceID; wid != "" {
			return wid, nil
		}
	}

	q := docstore.Query{
		Collection: MembersCollection,
		OrderBy:    FieldJoinedAt,
		Descending: true,
		Limit:      1,
	}.Where(FieldUserID, docstore.OpEqual, uid)
	docs, err := r.store.RunQuery(ctx, q)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", ErrNoWorkspaceForUser
	}
	wid := MembershipFromDoc(docs[0]).WorkspaceID
	if wid == "" {
		return "", ErrNoWorkspaceForUser
	}
	if err := r.writePointer(ctx, uid, wid); err != nil {
		return "", err
	}
	return wid, nil
}

// EnsureMatches idempotently writes expectedWorkspaceID into the cached
// pointer so that subsequent authorization checks against it succeed. Call
// it before any operation whose authorization rule reads the pointer.
func (r *Resolver) EnsureMatches(ctx context.Context, uid, expectedWorkspaceID string) error {
	doc, err := r.store.Get(ctx, docstore.Name(ProfilesCollection, uid))
	if err == nil && ProfileFromDoc(doc).CurrentWorkspaceID == expectedWorkspaceID {
		return nil
	}
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	return r.writePointer(ctx, uid, expectedWorkspaceID)
}

// ClearPointer empties the cached pointer, used when leaving a workspace.
func (r *Resolver) ClearPointer(ctx context.Context, uid string) error {
	name := docstore.Name(ProfilesCollection, uid)
	_, err := r.store.Update(ctx, name,
		map[string]any{FieldCurrentWorkspace: nil},
		[]string{FieldCurrentWorkspace})
	return err
}

// writePointer updates the profile pointer, retrying on PermissionDenied: a
// write racing a just-created Membership can be rejected until the backend's
// authorization check sees the new record. Retries are bounded with linear
// backoff; only PermissionDenied retries, everything else surfaces as-is.
func (r *Resolver) writePointer(ctx context.Context, uid, wid string) error {
	name := docstore.Name(ProfilesCollection, uid)
	var lastErr error
	for attempt := 1; attempt <= syncAttempts; attempt++ {
		_, err := r.store.Update(ctx, name,
			map[string]any{FieldCurrentWorkspace: wid},
			[]string{FieldCurrentWorkspace})
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrPermissionDenied) {
			return err
		}
		lastErr = err
		obs.LogOp(map[string]any{
			"ts":      time.Now().UTC().Format(time.RFC3339Nano),
			"level":   "warn",
			"msg":     "workspace pointer write rejected, retrying",
			"attempt": attempt,
			"user_id": uid,
		})
		if attempt < syncAttempts {
			r.sleep(time.Duration(attempt) * syncBackoff)
		}
	}
	return fmt.Errorf("%w: %v", ErrContextSyncFailed, lastErr)
}
