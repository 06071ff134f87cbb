package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roomledger.org/internal/audit"
	"roomledger.org/internal/docstore"
	"roomledger.org/internal/ids"
)

// Service implements the membership flows around the Resolver: joining by
// invite code, leaving, and listing members.
type Service struct {
	store    docstore.Store
	resolver *Resolver
	now      func() time.Time
}

// NewService constructs the workspace service.
func NewService(store docstore.Store, resolver *Resolver) *Service {
	return &Service{store: store, resolver: resolver, now: time.Now}
}

// WithClock overrides the time source (useful for tests).
func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Resolver exposes the underlying resolver for callers that only repair.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Profile reads a user profile.
func (s *Service) Profile(ctx context.Context, uid string) (UserProfile, error) {
	doc, err := s.store.Get(ctx, docstore.Name(ProfilesCollection, uid))
	if err != nil {
		return UserProfile{}, err
	}
	return ProfileFromDoc(doc), nil
}

// CreateProfile registers the profile document at sign-up; the workspace
// pointer always starts empty.
func (s *Service) CreateProfile(ctx context.Context, p UserProfile) error {
	p.CurrentWorkspaceID = ""
	_, err := s.store.Create(ctx, docstore.Name(ProfilesCollection, p.ID), p.Fields())
	return err
}

// Get reads a workspace by id.
func (s *Service) Get(ctx context.Context, workspaceID string) (Workspace, error) {
	doc, err := s.store.Get(ctx, docstore.Name(WorkspacesCollection, workspaceID))
	if err != nil {
		return Workspace{}, err
	}
	return WorkspaceFromDoc(doc), nil
}

// JoinByCode resolves an invite code, creates the Membership, and repairs
// the cached pointer so follow-up reads are authorized immediately. Joining
// a workspace the user is already in is a no-op.
func (s *Service) JoinByCode(ctx context.Context, uid, code string) (Workspace, error) {
	code = NormalizeCode(code)
	codeDoc, err := s.store.Get(ctx, docstore.Name(CodesCollection, code))
	if err != nil {
		return Workspace{}, err // NotFound means the code is simply wrong
	}
	invite := InviteCodeFromDoc(codeDoc)
	if invite.WorkspaceID == "" {
		return Workspace{}, fmt.Errorf("%w: invite %s has no workspace", docstore.ErrUnknown, code)
	}

	ws, err := s.Get(ctx, invite.WorkspaceID)
	if err != nil {
		return Workspace{}, err
	}

	m := Membership{
		WorkspaceID: invite.WorkspaceID,
		UserID:      uid,
		Role:        RoleMember,
		JoinedAt:    s.now().UTC(),
	}
	_, err = s.store.Create(ctx, MembershipName(invite.WorkspaceID, uid), m.Fields())
	if err != nil && !errors.Is(err, docstore.ErrConflict) {
		return Workspace{}, err
	}
	alreadyMember := errors.Is(err, docstore.ErrConflict)

	if err := s.resolver.EnsureMatches(ctx, uid, invite.WorkspaceID); err != nil {
		return Workspace{}, err
	}
	if !alreadyMember {
		s.appendAction(ctx, invite.WorkspaceID, "member_joined", uid, nil)
		_ = audit.LogEvent(ctx, "workspace.join", map[string]any{
			"workspace_id": invite.WorkspaceID,
			"user_id":      uid,
		})
	}
	return ws, nil
}

// Leave removes the user's Membership and clears the cached pointer.
func (s *Service) Leave(ctx context.Context, uid string) error {
	wid, err := s.resolver.Resolve(ctx, uid)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, MembershipName(wid, uid)); err != nil {
		return err
	}
	if err := s.resolver.ClearPointer(ctx, uid); err != nil {
		return err
	}
	s.appendAction(ctx, wid, "member_left", uid, nil)
	_ = audit.LogEvent(ctx, "workspace.leave", map[string]any{
		"workspace_id": wid,
		"user_id":      uid,
	})
	return nil
}

// Members lists the workspace's memberships ordered by join time.
func (s *Service) Members(ctx context.Context, workspaceID string) ([]Membership, error) {
	q := docstore.Query{
		Collection: MembersCollection,
		OrderBy:    FieldJoinedAt,
	}.Where(FieldWorkspaceID, docstore.OpEqual, workspaceID)
	docs, err := s.store.RunQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]Membership, 0, len(docs))
	for _, d := range docs {
		out = append(out, MembershipFromDoc(d))
	}
	return out, nil
}

// appendAction records a membership event in the append-only action log.
// Action writes are best-effort: a failed audit record never fails the
// operation it describes.
func (s *Service) appendAction(ctx context.Context, wid, actionType, actorID string, payload map[string]any) {
	fields := map[string]any{
		FieldWorkspaceID: wid,
		"type":           actionType,
		"actorId":        actorID,
		"createdAt":      s.now().UTC(),
	}
	for k, v := range payload {
		fields[k] = v
	}
	_, _ = s.store.Create(ctx, docstore.Name(ActionsCollection, ids.New()), fields)
}
