package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory implements Store with in-process concurrency safety. It mirrors
// the remote store's semantics (preconditions, masks, atomic commits) and
// backs higher-layer tests and offline development.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]*memDoc
	now  func() time.Time
	tick int64 // distinguishes update times within one clock granule
}

type memDoc struct {
	fields     map[string]any
	createTime time.Time
	updateTime time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]*memDoc), now: time.Now}
}

// WithClock overrides the time source (useful for tests).
func (m *Memory) WithClock(fn func() time.Time) *Memory {
	if fn != nil {
		m.now = fn
	}
	return m
}

func (m *Memory) stamp() time.Time {
	m.tick++
	return m.now().UTC().Add(time.Duration(m.tick) * time.Nanosecond)
}

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case map[string]any:
			out[k] = copyFields(t)
		case []any:
			cp := make([]any, len(t))
			copy(cp, t)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

func (d *memDoc) snapshot(name string) Document {
	return Document{
		Name:       name,
		Fields:     copyFields(d.fields),
		CreateTime: d.createTime,
		UpdateTime: d.updateTime,
	}
}

func (m *Memory) Get(ctx context.Context, name string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[name]
	if !ok {
		return Document{}, ErrNotFound
	}
	return d.snapshot(name), nil
}

func (m *Memory) Create(ctx context.Context, name string, fields map[string]any) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(name, fields)
}

func (m *Memory) createLocked(name string, fields map[string]any) (Document, error) {
	if _, exists := m.docs[name]; exists {
		return Document{}, ErrConflict
	}
	now := m.stamp()
	d := &memDoc{fields: copyFields(fields), createTime: now, updateTime: now}
	m.docs[name] = d
	return d.snapshot(name), nil
}

func (m *Memory) Update(ctx context.Context, name string, fields map[string]any, mask []string) (Document, error) {
	if len(mask) == 0 {
		return Document{}, ErrMissingMask
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(name, fields, mask)
}

func (m *Memory) updateLocked(name string, fields map[string]any, mask []string) (Document, error) {
	d, ok := m.docs[name]
	if !ok {
		return Document{}, ErrNotFound
	}
	// Only masked paths change; a masked path absent from fields is a delete.
	for _, path := range mask {
		if v, present := fields[path]; present {
			d.fields[path] = v
		} else {
			delete(d.fields, path)
		}
	}
	d.updateTime = m.stamp()
	return d.snapshot(name), nil
}

func (m *Memory) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, name)
	return nil
}

func (m *Memory) RunQuery(ctx context.Context, q Query) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Document
	prefix := q.Collection + "/"
	for name, d := range m.docs {
		if !strings.HasPrefix(name, prefix) || strings.Contains(name[len(prefix):], "/") {
			continue
		}
		if matchesFilters(d.fields, q.Filters) {
			out = append(out, d.snapshot(name))
		}
	}
	sortDocs(out, q)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) BatchGet(ctx context.Context, names []string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(names))
	for _, name := range names {
		if d, ok := m.docs[name]; ok {
			out = append(out, d.snapshot(name))
		}
	}
	return out, nil
}

// Commit applies all writes under one lock: all or nothing.
func (m *Memory) Commit(ctx context.Context, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate every write and its precondition before touching anything.
	for _, w := range writes {
		if err := w.validate(); err != nil {
			return err
		}
		if err := m.checkPreconditionLocked(w); err != nil {
			return err
		}
	}
	for _, w := range writes {
		switch w.Kind {
		case WriteCreate:
			if _, err := m.createLocked(w.Name, w.Fields); err != nil {
				return err
			}
		case WriteUpdate:
			if _, err := m.updateLocked(w.Name, w.Fields, w.Mask); err != nil {
				return err
			}
		case WriteDelete:
			delete(m.docs, w.Name)
		}
	}
	return nil
}

func (m *Memory) checkPreconditionLocked(w Write) error {
	d, exists := m.docs[w.Name]
	if w.Kind == WriteCreate && exists {
		return ErrConflict
	}
	if w.Kind == WriteUpdate && !exists {
		return ErrNotFound
	}
	p := w.Precondition
	if p == nil {
		return nil
	}
	if p.Exists != nil && *p.Exists != exists {
		return ErrConflict
	}
	if p.UpdateTime != nil {
		if !exists || !d.updateTime.Equal(*p.UpdateTime) {
			return ErrConflict
		}
	}
	return nil
}

func matchesFilters(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, present := fields[f.Field]
		if !present {
			return false
		}
		cmp, ok := compareValues(v, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case OpEqual:
			if cmp != 0 {
				return false
			}
		case OpLess:
			if cmp >= 0 {
				return false
			}
		case OpLessEqual:
			if cmp > 0 {
				return false
			}
		case OpGreater:
			if cmp <= 0 {
				return false
			}
		case OpGreaterEqual:
			if cmp < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func sortDocs(docs []Document, q Query) {
	if q.OrderBy == "" {
		sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
		return
	}
	sort.Slice(docs, func(i, j int) bool {
		a, aok := docs[i].Fields[q.OrderBy]
		b, bok := docs[j].Fields[q.OrderBy]
		if !aok || !bok {
			return bok && !aok // missing fields sort first
		}
		cmp, ok := compareValues(a, b)
		if !ok {
			return docs[i].Name < docs[j].Name
		}
		if q.Descending {
			return cmp > 0
		}
		return cmp < 0
	})
}

// compareValues orders two decoded field values of compatible types.
func compareValues(a, b any) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpInt(x, y), true
		case float64:
			return cmpFloat(float64(x), y), true
		}
		return 0, false
	case float64:
		switch y := b.(type) {
		case float64:
			return cmpFloat(x, y), true
		case int64:
			return cmpFloat(x, float64(y)), true
		}
		return 0, false
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		return cmpBool(x, y), true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case nil:
		if b == nil {
			return 0, true
		}
		return 0, false
	}
	return 0, false
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}
