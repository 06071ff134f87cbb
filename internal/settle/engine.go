package settle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"roomledger.org/internal/audit"
	"roomledger.org/internal/docstore"
	"roomledger.org/internal/ids"
	"roomledger.org/internal/obs"
	"roomledger.org/internal/workspace"
)

// defaultCodeAttempts bounds invite-code generation. The code space is
// large enough that more than a couple of collisions in a row means the
// generator is broken, not unlucky.
const defaultCodeAttempts = 12

// MemberLister provides the member set a recompute fans balances out to.
// workspace.Service satisfies it.
type MemberLister interface {
	Members(ctx context.Context, workspaceID string) ([]workspace.Membership, error)
}

// Engine owns the debt lifecycle and keeps derived balances consistent
// with the open-debt set.
type Engine struct {
	store        docstore.Store
	members      MemberLister
	resolver     *workspace.Resolver
	now          func() time.Time
	newCode      func() string
	codeAttempts int
}

func NewEngine(store docstore.Store, members MemberLister, resolver *workspace.Resolver) *Engine {
	return &Engine{
		store:        store,
		members:      members,
		resolver:     resolver,
		now:          time.Now,
		newCode:      ids.NewInviteCode,
		codeAttempts: defaultCodeAttempts,
	}
}

// WithClock replaces the time source. Tests use it for deterministic stamps.
func (e *Engine) WithClock(fn func() time.Time) *Engine {
	if fn != nil {
		e.now = fn
	}
	return e
}

// WithCodeGenerator replaces the invite-code source.
func (e *Engine) WithCodeGenerator(fn func() string) *Engine {
	if fn != nil {
		e.newCode = fn
	}
	return e
}

// CreateWorkspace creates the workspace document, claims a unique invite
// code for it, and enrolls the founder as owner. The steps live in separate
// documents, so any failure after the first write compensates by deleting
// what was already created: a caller who gets an error never leaves behind
// a workspace with no member and nobody holding the code.
func (e *Engine) CreateWorkspace(ctx context.Context, founderID, name, description string) (workspace.Workspace, error) {
	now := e.now().UTC()
	ws := workspace.Workspace{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
	}
	wsName := docstore.Name(workspace.WorkspacesCollection, ws.ID)
	fields := map[string]any{
		"name":      ws.Name,
		"createdAt": ws.CreatedAt,
	}
	if ws.Description != "" {
		fields["description"] = ws.Description
	}
	if _, err := e.store.Create(ctx, wsName, fields); err != nil {
		return workspace.Workspace{}, err
	}

	code, err := e.claimInviteCode(ctx, ws)
	if err != nil {
		e.compensateWorkspace(ctx, ws, "")
		return workspace.Workspace{}, err
	}
	ws.InviteCode = code

	if _, err := e.store.Update(ctx, wsName, map[string]any{"inviteCode": code}, []string{"inviteCode"}); err != nil {
		e.compensateWorkspace(ctx, ws, "")
		return workspace.Workspace{}, err
	}

	m := workspace.Membership{
		WorkspaceID: ws.ID,
		UserID:      founderID,
		Role:        workspace.RoleOwner,
		JoinedAt:    now,
	}
	if _, err := e.store.Create(ctx, workspace.MembershipName(ws.ID, founderID), m.Fields()); err != nil {
		e.compensateWorkspace(ctx, ws, "")
		return workspace.Workspace{}, err
	}
	if err := e.resolver.EnsureMatches(ctx, founderID, ws.ID); err != nil {
		e.compensateWorkspace(ctx, ws, founderID)
		return workspace.Workspace{}, err
	}

	e.appendAction(ctx, ws.ID, "workspace_created", founderID, map[string]any{"name": ws.Name})
	_ = audit.LogEvent(ctx, "workspace.create", map[string]any{
		"workspace_id": ws.ID,
		"user_id":      founderID,
	})
	return ws, nil
}

// compensateWorkspace deletes whatever a failed CreateWorkspace already
// wrote: the founder membership (when memberID is set), the invite code
// (when claimed), and the workspace itself. Deletes are best-effort; a
// failed one is logged so the orphan can be cleaned up by hand.
func (e *Engine) compensateWorkspace(ctx context.Context, ws workspace.Workspace, memberID string) {
	if memberID != "" {
		_ = e.store.Delete(ctx, workspace.MembershipName(ws.ID, memberID))
	}
	if ws.InviteCode != "" {
		_ = e.store.Delete(ctx, docstore.Name(workspace.CodesCollection, ws.InviteCode))
	}
	if err := e.store.Delete(ctx, docstore.Name(workspace.WorkspacesCollection, ws.ID)); err != nil {
		obs.LogOp(map[string]any{
			"event":        "workspace.compensate_failed",
			"workspace_id": ws.ID,
			"error":        err.Error(),
		})
	}
}

// claimInviteCode creates the code document, retrying fresh candidates on
// collision. Only ErrConflict is retried: any other failure is surfaced so
// the caller can compensate.
func (e *Engine) claimInviteCode(ctx context.Context, ws workspace.Workspace) (string, error) {
	fields := map[string]any{
		workspace.FieldWorkspaceID: ws.ID,
		"workspaceName":            ws.Name,
		"createdAt":                e.now().UTC(),
	}
	for i := 0; i < e.codeAttempts; i++ {
		code := e.newCode()
		_, err := e.store.Create(ctx, docstore.Name(workspace.CodesCollection, code), fields)
		if err == nil {
			return code, nil
		}
		if errors.Is(err, docstore.ErrConflict) {
			continue
		}
		return "", err
	}
	return "", ErrCodeExhausted
}

// OpenDebt records a new obligation and its action entry in one commit,
// then folds it into the balances.
func (e *Engine) OpenDebt(ctx context.Context, actorID string, d Debt) (Debt, error) {
	if d.Amount <= 0 {
		return Debt{}, ErrInvalidAmount
	}
	if d.FromUserID == d.ToUserID {
		return Debt{}, ErrSelfDebt
	}
	if d.WorkspaceID == "" {
		return Debt{}, fmt.Errorf("%w: debt without workspace", docstore.ErrUnknown)
	}
	d.ID = uuid.NewString()
	d.Status = StatusOpen
	d.CreatedAt = e.now().UTC()
	d.ClosedAt = time.Time{}
	d.ClosedBy = ""

	writes := []docstore.Write{
		{
			Kind:   docstore.WriteCreate,
			Name:   docstore.Name(DebtsCollection, d.ID),
			Fields: d.fields(),
		},
		e.actionWrite(d.WorkspaceID, "debt_added", actorID, map[string]any{
			"debtId":     d.ID,
			"fromUserId": d.FromUserID,
			"toUserId":   d.ToUserID,
			"amount":     d.Amount,
		}),
	}
	if err := e.store.Commit(ctx, writes); err != nil {
		return Debt{}, err
	}
	e.recomputeBestEffort(ctx, d.WorkspaceID)
	return d, nil
}

// CloseDebt settles an open debt. The status flip, the settlement record,
// and the action entry land in one atomic commit; the debt update is
// pinned to the update time read beforehand, so a concurrent close makes
// exactly one of the two commits win.
func (e *Engine) CloseDebt(ctx context.Context, actorID, debtID string) (Settlement, error) {
	debtName := docstore.Name(DebtsCollection, debtID)
	doc, err := e.store.Get(ctx, debtName)
	if err != nil {
		return Settlement{}, err
	}
	d := DebtFromDoc(doc)
	if d.Status != StatusOpen {
		return Settlement{}, ErrDebtNotOpen
	}

	now := e.now().UTC()
	s := Settlement{
		ID:          uuid.NewString(),
		WorkspaceID: d.WorkspaceID,
		DebtID:      d.ID,
		FromUserID:  d.FromUserID,
		ToUserID:    d.ToUserID,
		Amount:      d.Amount,
		SettledBy:   actorID,
		SettledAt:   now,
	}
	writes := []docstore.Write{
		{
			Kind: docstore.WriteUpdate,
			Name: debtName,
			Fields: map[string]any{
				"status":   StatusClosed,
				"closedAt": now,
				"closedBy": actorID,
			},
			Mask:         []string{"status", "closedAt", "closedBy"},
			Precondition: docstore.LastUpdateAt(doc.UpdateTime),
		},
		{
			Kind:   docstore.WriteCreate,
			Name:   docstore.Name(SettlementsCollection, s.ID),
			Fields: s.fields(),
		},
		e.actionWrite(d.WorkspaceID, "debt_closed", actorID, map[string]any{
			"debtId": d.ID,
			"amount": d.Amount,
		}),
	}
	if err := e.store.Commit(ctx, writes); err != nil {
		if errors.Is(err, docstore.ErrConflict) {
			return Settlement{}, ErrDebtNotOpen
		}
		return Settlement{}, err
	}

	_ = audit.LogEvent(ctx, "debt.closed", map[string]any{
		"workspace_id": d.WorkspaceID,
		"debt_id":      d.ID,
		"amount":       d.Amount,
	})
	e.recomputeBestEffort(ctx, d.WorkspaceID)
	return s, nil
}

// Debts lists the workspace's debts, newest first. When openOnly is set
// the closed ones are filtered out server-side.
func (e *Engine) Debts(ctx context.Context, workspaceID string, openOnly bool) ([]Debt, error) {
	q := docstore.Query{
		Collection: DebtsCollection,
		OrderBy:    "createdAt",
		Descending: true,
	}.Where(workspace.FieldWorkspaceID, docstore.OpEqual, workspaceID)
	if openOnly {
		q = q.Where("status", docstore.OpEqual, StatusOpen)
	}
	docs, err := e.store.RunQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]Debt, 0, len(docs))
	for _, d := range docs {
		out = append(out, DebtFromDoc(d))
	}
	return out, nil
}

// Balances reads the derived balance documents for a workspace.
func (e *Engine) Balances(ctx context.Context, workspaceID string) ([]Balance, error) {
	q := docstore.Query{
		Collection: BalancesCollection,
		OrderBy:    workspace.FieldUserID,
	}.Where(workspace.FieldWorkspaceID, docstore.OpEqual, workspaceID)
	docs, err := e.store.RunQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(docs))
	for _, d := range docs {
		out = append(out, BalanceFromDoc(d))
	}
	return out, nil
}

// RecomputeBalances rebuilds every member's balance document from the
// workspace's open debts. The result is a pure function of that set, so
// running it twice in a row is a no-op, and a partial failure is repaired
// by the next run. Writes are batched per member, not transactional.
func (e *Engine) RecomputeBalances(ctx context.Context, workspaceID string) error {
	open, err := e.Debts(ctx, workspaceID, true)
	if err != nil {
		return err
	}
	members, err := e.members.Members(ctx, workspaceID)
	if err != nil {
		return err
	}

	nets := make(map[string]int64, len(members))
	involved := make(map[string]bool, len(members))
	for _, m := range members {
		nets[m.UserID] = 0
	}
	for _, d := range open {
		nets[d.FromUserID] -= d.Amount
		nets[d.ToUserID] += d.Amount
		involved[d.FromUserID] = true
		involved[d.ToUserID] = true
	}

	now := e.now().UTC()
	var errs []error
	for uid, net := range nets {
		b := Balance{
			WorkspaceID:  workspaceID,
			UserID:       uid,
			Net:          net,
			HasOpenDebts: involved[uid],
			UpdatedAt:    now,
		}
		if err := e.upsertBalance(ctx, b); err != nil {
			errs = append(errs, fmt.Errorf("balance %s: %w", uid, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) upsertBalance(ctx context.Context, b Balance) error {
	name := BalanceName(b.WorkspaceID, b.UserID)
	mask := []string{"net", "hasOpenDebts", "updatedAt"}
	_, err := e.store.Update(ctx, name, b.fields(), mask)
	if errors.Is(err, docstore.ErrNotFound) {
		_, err = e.store.Create(ctx, name, b.fields())
	}
	return err
}

func (e *Engine) recomputeBestEffort(ctx context.Context, workspaceID string) {
	if err := e.RecomputeBalances(ctx, workspaceID); err != nil {
		// Stale balances are tolerated: the next debt mutation or an
		// explicit recompute repairs them.
		obs.LogOp(map[string]any{
			"event":        "settle.recompute_failed",
			"workspace_id": workspaceID,
			"error":        err.Error(),
		})
	}
}

func (e *Engine) actionWrite(wid, actionType, actorID string, payload map[string]any) docstore.Write {
	fields := map[string]any{
		workspace.FieldWorkspaceID: wid,
		"type":                     actionType,
		"actorId":                  actorID,
		"createdAt":                e.now().UTC(),
	}
	for k, v := range payload {
		fields[k] = v
	}
	return docstore.Write{
		Kind:   docstore.WriteCreate,
		Name:   docstore.Name(workspace.ActionsCollection, ids.New()),
		Fields: fields,
	}
}

func (e *Engine) appendAction(ctx context.Context, wid, actionType, actorID string, payload map[string]any) {
	w := e.actionWrite(wid, actionType, actorID, payload)
	_, _ = e.store.Create(ctx, w.Name, w.Fields)
}
