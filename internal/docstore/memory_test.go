package docstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCreateGetConflict(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	doc, err := m.Create(ctx, "debts/d1", map[string]any{"amount": int64(100)})
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID() != "d1" || doc.Collection() != "debts" {
		t.Fatalf("unexpected name parts: %q %q", doc.ID(), doc.Collection())
	}
	if _, err := m.Create(ctx, "debts/d1", nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, err := m.Get(ctx, "debts/d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Fields["amount"] != int64(100) {
		t.Fatalf("unexpected fields: %#v", got.Fields)
	}
	if _, err := m.Get(ctx, "debts/none"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryUpdateHonorsMask(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.Create(ctx, "profiles/u1", map[string]any{"name": "Ana", "phone": "123"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Update(ctx, "profiles/u1", map[string]any{"name": "Bea"}, nil); !errors.Is(err, ErrMissingMask) {
		t.Fatalf("expected ErrMissingMask, got %v", err)
	}

	// Fields outside the mask must not change even when sent.
	doc, err := m.Update(ctx, "profiles/u1", map[string]any{"name": "Bea", "phone": "999"}, []string{"name"})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Fields["name"] != "Bea" || doc.Fields["phone"] != "123" {
		t.Fatalf("mask not honored: %#v", doc.Fields)
	}

	// A masked path absent from the payload deletes the field.
	doc, err = m.Update(ctx, "profiles/u1", map[string]any{}, []string{"phone"})
	if err != nil {
		t.Fatal(err)
	}
	if _, present := doc.Fields["phone"]; present {
		t.Fatalf("masked absent path should delete: %#v", doc.Fields)
	}
}

func TestMemoryCommitAtomic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.Create(ctx, "debts/d1", map[string]any{"status": "open"}); err != nil {
		t.Fatal(err)
	}

	// Second write's create precondition fails; the first must not apply.
	err := m.Commit(ctx, []Write{
		{Kind: WriteUpdate, Name: "debts/d1", Fields: map[string]any{"status": "closed"}, Mask: []string{"status"}},
		{Kind: WriteCreate, Name: "debts/d1", Fields: map[string]any{}},
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	doc, _ := m.Get(ctx, "debts/d1")
	if doc.Fields["status"] != "open" {
		t.Fatalf("partial commit observed: %#v", doc.Fields)
	}

	// A stale update-time precondition also rejects the whole batch.
	stale := doc.UpdateTime.Add(-time.Second)
	err = m.Commit(ctx, []Write{{
		Kind: WriteUpdate, Name: "debts/d1",
		Fields: map[string]any{"status": "closed"}, Mask: []string{"status"},
		Precondition: LastUpdateAt(stale),
	}})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on stale precondition, got %v", err)
	}

	// With the right precondition everything lands together.
	err = m.Commit(ctx, []Write{
		{Kind: WriteUpdate, Name: "debts/d1", Fields: map[string]any{"status": "closed"}, Mask: []string{"status"}, Precondition: LastUpdateAt(doc.UpdateTime)},
		{Kind: WriteCreate, Name: "actions/a1", Fields: map[string]any{"type": "debt_closed"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	doc, _ = m.Get(ctx, "debts/d1")
	if doc.Fields["status"] != "closed" {
		t.Fatalf("commit did not apply: %#v", doc.Fields)
	}
	if _, err := m.Get(ctx, "actions/a1"); err != nil {
		t.Fatalf("second write missing: %v", err)
	}
}

func TestMemoryRunQuery(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	seed := []struct {
		name   string
		fields map[string]any
	}{
		{"members/w1_u1", map[string]any{"workspaceId": "w1", "joinedAt": base}},
		{"members/w1_u2", map[string]any{"workspaceId": "w1", "joinedAt": base.Add(time.Hour)}},
		{"members/w2_u1", map[string]any{"workspaceId": "w2", "joinedAt": base.Add(2 * time.Hour)}},
	}
	for _, s := range seed {
		if _, err := m.Create(ctx, s.name, s.fields); err != nil {
			t.Fatal(err)
		}
	}

	q := Query{Collection: "members", OrderBy: "joinedAt", Descending: true}.
		Where("workspaceId", OpEqual, "w1")
	docs, err := m.RunQuery(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
	if docs[0].Name != "members/w1_u2" {
		t.Fatalf("descending order broken: %v", docs[0].Name)
	}

	q.Limit = 1
	docs, err = m.RunQuery(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Name != "members/w1_u2" {
		t.Fatalf("limit broken: %#v", docs)
	}

	// Range filter.
	docs, err = m.RunQuery(ctx, Query{Collection: "members"}.Where("joinedAt", OpGreater, base))
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("range filter broken: %#v", docs)
	}
}

func TestMemoryBatchGetSkipsMissing(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.Create(ctx, "balances/w1_u1", map[string]any{"net": int64(0)}); err != nil {
		t.Fatal(err)
	}
	docs, err := m.BatchGet(ctx, []string{"balances/w1_u1", "balances/w1_u2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Name != "balances/w1_u1" {
		t.Fatalf("unexpected batch result: %#v", docs)
	}
}

func TestMemoryDeleteIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.Create(ctx, "codes/ABC234", map[string]any{"workspaceId": "w1"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, "codes/ABC234"); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, "codes/ABC234"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "codes/ABC234"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
