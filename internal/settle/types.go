// Package settle orchestrates the financial core: debt lifecycle, the
// atomic close transaction, per-member balance reconciliation, and the
// two-document workspace + invite-code creation with compensating cleanup.
package settle

import (
	"errors"
	"time"

	"roomledger.org/internal/codec"
	"roomledger.org/internal/docstore"
)

const (
	DebtsCollection       = "debts"
	SettlementsCollection = "settlements"
	BalancesCollection    = "balances"
)

const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

var (
	// ErrInvalidAmount rejects debts that are not strictly positive.
	ErrInvalidAmount = errors.New("settle: amount must be greater than zero")

	// ErrSelfDebt rejects a debt from a user to themselves.
	ErrSelfDebt = errors.New("settle: debtor and creditor must differ")

	// ErrDebtNotOpen reports a close on a debt that is not open, including
	// one that lost a race to a concurrent close.
	ErrDebtNotOpen = errors.New("settle: debt is not open")

	// ErrCodeExhausted means unique invite-code generation hit its attempt
	// bound without finding a free code.
	ErrCodeExhausted = errors.New("settle: invite code generation exhausted")
)

// Debt is one open or settled obligation between two members. Amounts are
// minor currency units; no floats. After creation only the status triplet
// (status/closedAt/closedBy) ever changes, and only open -> closed.
type Debt struct {
	ID          string
	WorkspaceID string
	FromUserID  string
	ToUserID    string
	Amount      int64
	Note        string
	Status      string
	CreatedAt   time.Time
	ClosedAt    time.Time
	ClosedBy    string
}

// Settlement records the act of closing a debt.
type Settlement struct {
	ID          string
	WorkspaceID string
	DebtID      string
	FromUserID  string
	ToUserID    string
	Amount      int64
	SettledBy   string
	SettledAt   time.Time
}

// Balance is a member's derived net position: fully recomputable from the
// workspace's open debts, never hand-edited outside the reconciliation
// routine.
type Balance struct {
	WorkspaceID  string
	UserID       string
	Net          int64
	HasOpenDebts bool
	UpdatedAt    time.Time
}

// BalanceName builds the composite balance document name.
func BalanceName(workspaceID, userID string) string {
	return docstore.Name(BalancesCollection, workspaceID+"_"+userID)
}

// Decoders ---------------------------------------------------------------

func DebtFromDoc(d docstore.Document) Debt {
	out := Debt{ID: d.ID()}
	out.WorkspaceID, _ = codec.GetString(d.Fields, "workspaceId")
	out.FromUserID, _ = codec.GetString(d.Fields, "fromUserId")
	out.ToUserID, _ = codec.GetString(d.Fields, "toUserId")
	out.Amount, _ = codec.GetInt(d.Fields, "amount")
	out.Note, _ = codec.GetString(d.Fields, "note")
	out.Status, _ = codec.GetString(d.Fields, "status")
	out.CreatedAt, _ = codec.GetTime(d.Fields, "createdAt")
	out.ClosedAt, _ = codec.GetTime(d.Fields, "closedAt")
	out.ClosedBy, _ = codec.GetString(d.Fields, "closedBy")
	return out
}

func (d Debt) fields() map[string]any {
	f := map[string]any{
		"workspaceId": d.WorkspaceID,
		"fromUserId":  d.FromUserID,
		"toUserId":    d.ToUserID,
		"amount":      d.Amount,
		"status":      d.Status,
		"createdAt":   d.CreatedAt,
	}
	if d.Note != "" {
		f["note"] = d.Note
	}
	return f
}

func (s Settlement) fields() map[string]any {
	return map[string]any{
		"workspaceId": s.WorkspaceID,
		"debtId":      s.DebtID,
		"fromUserId":  s.FromUserID,
		"toUserId":    s.ToUserID,
		"amount":      s.Amount,
		"settledBy":   s.SettledBy,
		"settledAt":   s.SettledAt,
	}
}

func BalanceFromDoc(d docstore.Document) Balance {
	out := Balance{}
	out.WorkspaceID, _ = codec.GetString(d.Fields, "workspaceId")
	out.UserID, _ = codec.GetString(d.Fields, "userId")
	out.Net, _ = codec.GetInt(d.Fields, "net")
	out.HasOpenDebts, _ = codec.GetBool(d.Fields, "hasOpenDebts")
	out.UpdatedAt, _ = codec.GetTime(d.Fields, "updatedAt")
	return out
}

func (b Balance) fields() map[string]any {
	return map[string]any{
		"workspaceId":  b.WorkspaceID,
		"userId":       b.UserID,
		"net":          b.Net,
		"hasOpenDebts": b.HasOpenDebts,
		"updatedAt":    b.UpdatedAt,
	}
}
