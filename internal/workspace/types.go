// Package workspace models the apartment a session operates in: the user
// profile with its cached workspace pointer, the authoritative membership
// records, invite codes, and the resolver that keeps pointer and membership
// consistent.
package workspace

import (
	"errors"
	"strings"
	"time"

	"roomledger.org/internal/codec"
	"roomledger.org/internal/docstore"
)

// Collections and field names shared with the backend's authorization rules.
const (
	ProfilesCollection   = "profiles"
	WorkspacesCollection = "workspaces"
	MembersCollection    = "members"
	CodesCollection      = "codes"
	ActionsCollection    = "actions"

	FieldCurrentWorkspace = "currentWorkspaceId"
	FieldWorkspaceID      = "workspaceId"
	FieldUserID           = "userId"
	FieldJoinedAt         = "joinedAt"
)

var (
	// ErrNoWorkspaceForUser is an ordinary domain outcome: the user simply
	// is not in any apartment yet.
	ErrNoWorkspaceForUser = errors.New("workspace: user has no workspace")

	// ErrContextSyncFailed means the cached workspace pointer could not be
	// repaired after bounded retries.
	ErrContextSyncFailed = errors.New("workspace: context sync failed")
)

// UserProfile mirrors the profile document. CurrentWorkspaceID is a cache
// of the authoritative Membership relation and may be empty or stale.
type UserProfile struct {
	ID                 string
	Email              string
	FullName           string
	DisplayName        string
	Phone              string
	CurrentWorkspaceID string
}

// Workspace is a shared apartment.
type Workspace struct {
	ID          string
	Name        string
	Description string
	InviteCode  string
	CreatedAt   time.Time
}

// Membership is the authoritative record that a user belongs to a
// workspace. Its document id is workspaceId + "_" + userId.
type Membership struct {
	WorkspaceID string
	UserID      string
	Role        string
	JoinedAt    time.Time
}

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// MembershipName builds the composite document name.
func MembershipName(workspaceID, userID string) string {
	return docstore.Name(MembersCollection, workspaceID+"_"+userID)
}

// InviteCode resolves a human-readable code to its workspace.
type InviteCode struct {
	Code          string
	WorkspaceID   string
	WorkspaceName string
	CreatedAt     time.Time
}

// NormalizeCode uppercases and trims a user-typed invite code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Decoders ---------------------------------------------------------------

func ProfileFromDoc(d docstore.Document) UserProfile {
	p := UserProfile{ID: d.ID()}
	p.Email, _ = codec.GetString(d.Fields, "email")
	p.FullName, _ = codec.GetString(d.Fields, "fullName")
	p.DisplayName, _ = codec.GetString(d.Fields, "displayName")
	p.Phone, _ = codec.GetString(d.Fields, "phone")
	p.CurrentWorkspaceID, _ = codec.GetString(d.Fields, FieldCurrentWorkspace)
	return p
}

func (p UserProfile) Fields() map[string]any {
	f := map[string]any{
		"email":       p.Email,
		"fullName":    p.FullName,
		"displayName": p.DisplayName,
	}
	if p.Phone != "" {
		f["phone"] = p.Phone
	}
	if p.CurrentWorkspaceID != "" {
		f[FieldCurrentWorkspace] = p.CurrentWorkspaceID
	} else {
		f[FieldCurrentWorkspace] = nil
	}
	return f
}

func WorkspaceFromDoc(d docstore.Document) Workspace {
	w := Workspace{ID: d.ID()}
	w.Name, _ = codec.GetString(d.Fields, "name")
	w.Description, _ = codec.GetString(d.Fields, "description")
	w.InviteCode, _ = codec.GetString(d.Fields, "inviteCode")
	w.CreatedAt, _ = codec.GetTime(d.Fields, "createdAt")
	return w
}

func MembershipFromDoc(d docstore.Document) Membership {
	m := Membership{}
	m.WorkspaceID, _ = codec.GetString(d.Fields, FieldWorkspaceID)
	m.UserID, _ = codec.GetString(d.Fields, FieldUserID)
	m.Role, _ = codec.GetString(d.Fields, "role")
	m.JoinedAt, _ = codec.GetTime(d.Fields, FieldJoinedAt)
	return m
}

func (m Membership) Fields() map[string]any {
	return map[string]any{
		FieldWorkspaceID: m.WorkspaceID,
		FieldUserID:      m.UserID,
		"role":           m.Role,
		FieldJoinedAt:    m.JoinedAt,
	}
}

func InviteCodeFromDoc(d docstore.Document) InviteCode {
	c := InviteCode{Code: d.ID()}
	c.WorkspaceID, _ = codec.GetString(d.Fields, FieldWorkspaceID)
	c.WorkspaceName, _ = codec.GetString(d.Fields, "workspaceName")
	c.CreatedAt, _ = codec.GetTime(d.Fields, "createdAt")
	return c
}
