// Package docstore is the typed request layer over the remote document
// database: create/get/update/delete, structured queries, batch reads and
// multi-write commits, all speaking the tagged-value JSON wire format.
package docstore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Document is one stored record addressed by a collection/id path.
type Document struct {
	Name       string         `json:"name"`
	Fields     map[string]any `json:"-"`
	CreateTime time.Time      `json:"createTime,omitempty"`
	UpdateTime time.Time      `json:"updateTime,omitempty"`
}

// ID returns the last path segment of the document name.
func (d Document) ID() string {
	if i := strings.LastIndexByte(d.Name, '/'); i >= 0 {
		return d.Name[i+1:]
	}
	return d.Name
}

// Collection returns everything before the last path segment.
func (d Document) Collection() string {
	if i := strings.LastIndexByte(d.Name, '/'); i >= 0 {
		return d.Name[:i]
	}
	return ""
}

// Name builds a document path from a collection and id.
func Name(collection, id string) string {
	return collection + "/" + id
}

// Precondition guards a write inside a commit.
type Precondition struct {
	// Exists, when set, requires the document to exist (true) or not (false).
	Exists *bool
	// UpdateTime, when set, requires the stored update time to match exactly.
	UpdateTime *time.Time
}

// Exists returns a pointer-friendly existence precondition.
func Exists(v bool) *Precondition { return &Precondition{Exists: &v} }

// LastUpdateAt returns a precondition pinning the document's update time.
func LastUpdateAt(t time.Time) *Precondition { return &Precondition{UpdateTime: &t} }

// WriteKind discriminates the operations inside a commit.
type WriteKind uint8

const (
	WriteCreate WriteKind = iota + 1
	WriteUpdate
	WriteDelete
)

// Write is one operation in an atomic commit. Updates must carry a mask
// naming exactly the fields being changed.
type Write struct {
	Kind         WriteKind
	Name         string
	Fields       map[string]any
	Mask         []string
	Precondition *Precondition
}

func (w Write) validate() error {
	if w.Name == "" {
		return fmt.Errorf("%w: write without document name", ErrUnknown)
	}
	if w.Kind == WriteUpdate && len(w.Mask) == 0 {
		return ErrMissingMask
	}
	return nil
}

// Op is a structured-query comparison operator.
type Op string

const (
	OpEqual        Op = "EQUAL"
	OpLess         Op = "LESS_THAN"
	OpLessEqual    Op = "LESS_THAN_OR_EQUAL"
	OpGreater      Op = "GREATER_THAN"
	OpGreaterEqual Op = "GREATER_THAN_OR_EQUAL"
)

// Filter is a single field comparison in a structured query.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query is a structured query against one collection: conjunctive filters,
// optional ordering and limit. Free-form query text does not exist on this
// wire protocol.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Where appends an equality/range filter and returns the query for chaining.
func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(q.Filters, Filter{Field: field, Op: op, Value: value})
	return q
}

// Store is the document client surface every higher layer depends on.
// Remote (Client) and in-memory (Memory) implementations share it.
type Store interface {
	Get(ctx context.Context, name string) (Document, error)
	Create(ctx context.Context, name string, fields map[string]any) (Document, error)
	// Update patches only the fields named by the mask. The mask is part of
	// the signature on purpose: unmasked writes are how authorization rules
	// get tripped, so they are impossible to express here.
	Update(ctx context.Context, name string, fields map[string]any, mask []string) (Document, error)
	Delete(ctx context.Context, name string) error
	RunQuery(ctx context.Context, q Query) ([]Document, error)
	BatchGet(ctx context.Context, names []string) ([]Document, error)
	// Commit applies all writes atomically: readers never observe a subset.
	Commit(ctx context.Context, writes []Write) error
}
