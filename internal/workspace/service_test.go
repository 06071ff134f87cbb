package workspace

import (
	"context"
	"errors"
	"testing"
	"time"

	"roomledger.org/internal/docstore"
)

func newTestService(t *testing.T) (*Service, *docstore.Memory) {
	t.Helper()
	m := docstore.NewMemory()
	svc := NewService(m, NewResolver(m))
	return svc, m
}

func seedWorkspaceWithCode(t *testing.T, m *docstore.Memory, wid, name, code string) {
	t.Helper()
	ctx := context.Background()
	_, err := m.Create(ctx, docstore.Name(WorkspacesCollection, wid), map[string]any{
		"name": name, "inviteCode": code, "createdAt": time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.Create(ctx, docstore.Name(CodesCollection, code), map[string]any{
		FieldWorkspaceID: wid, "workspaceName": name, "createdAt": time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestJoinByCode(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	seedProfile(t, m, "u2", "")
	seedWorkspaceWithCode(t, m, "w1", "Flat 4", "AB23CD")

	ws, err := svc.JoinByCode(ctx, "u2", "ab23cd") // codes are case-insensitive
	if err != nil {
		t.Fatal(err)
	}
	if ws.ID != "w1" || ws.Name != "Flat 4" {
		t.Fatalf("unexpected workspace: %#v", ws)
	}

	doc, err := m.Get(ctx, MembershipName("w1", "u2"))
	if err != nil {
		t.Fatalf("membership not created: %v", err)
	}
	mem := MembershipFromDoc(doc)
	if mem.Role != RoleMember || mem.WorkspaceID != "w1" || mem.UserID != "u2" {
		t.Fatalf("unexpected membership: %#v", mem)
	}

	p, err := svc.Profile(ctx, "u2")
	if err != nil {
		t.Fatal(err)
	}
	if p.CurrentWorkspaceID != "w1" {
		t.Fatalf("pointer not repaired after join: %#v", p)
	}

	// An action record was appended.
	actions, err := m.RunQuery(ctx, docstore.Query{Collection: ActionsCollection})
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || actions[0].Fields["type"] != "member_joined" {
		t.Fatalf("expected member_joined action, got %#v", actions)
	}
}

func TestJoinByCodeUnknownCode(t *testing.T) {
	svc, m := newTestService(t)
	seedProfile(t, m, "u2", "")
	if _, err := svc.JoinByCode(context.Background(), "u2", "ZZZZZZ"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown code, got %v", err)
	}
}

func TestJoinByCodeAlreadyMemberIsIdempotent(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	seedProfile(t, m, "u2", "")
	seedWorkspaceWithCode(t, m, "w1", "Flat 4", "AB23CD")

	if _, err := svc.JoinByCode(ctx, "u2", "AB23CD"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.JoinByCode(ctx, "u2", "AB23CD"); err != nil {
		t.Fatalf("second join must be a no-op, got %v", err)
	}
	actions, _ := m.RunQuery(ctx, docstore.Query{Collection: ActionsCollection})
	if len(actions) != 1 {
		t.Fatalf("re-join must not append another action, got %d", len(actions))
	}
}

func TestLeaveClearsMembershipAndPointer(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	seedProfile(t, m, "u2", "")
	seedWorkspaceWithCode(t, m, "w1", "Flat 4", "AB23CD")
	if _, err := svc.JoinByCode(ctx, "u2", "AB23CD"); err != nil {
		t.Fatal(err)
	}

	if err := svc.Leave(ctx, "u2"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, MembershipName("w1", "u2")); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("membership not deleted: %v", err)
	}
	p, _ := svc.Profile(ctx, "u2")
	if p.CurrentWorkspaceID != "" {
		t.Fatalf("pointer not cleared: %#v", p)
	}
}

func TestMembersOrderedByJoin(t *testing.T) {
	svc, m := newTestService(t)
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	seedMembership(t, m, "w1", "late", base.Add(time.Hour))
	seedMembership(t, m, "w1", "early", base)
	seedMembership(t, m, "other", "someone", base)

	members, err := svc.Members(context.Background(), "w1")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 || members[0].UserID != "early" || members[1].UserID != "late" {
		t.Fatalf("unexpected members: %#v", members)
	}
}

func TestCreateProfileStartsWithoutWorkspace(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()
	err := svc.CreateProfile(ctx, UserProfile{
		ID: "u9", Email: "u9@flat.example", FullName: "User Nine",
		DisplayName: "Nine", CurrentWorkspaceID: "should-be-ignored",
	})
	if err != nil {
		t.Fatal(err)
	}
	doc, _ := m.Get(ctx, docstore.Name(ProfilesCollection, "u9"))
	if ProfileFromDoc(doc).CurrentWorkspaceID != "" {
		t.Fatalf("new profile must start with no workspace: %#v", doc.Fields)
	}
}
