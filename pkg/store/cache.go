package store

import (
	"log/slog"
	"sync"

	"writecheck/pkg/domain"
)

// ChangeKind describes what happened to the cache.
type ChangeKind string

const (
	ChangeUpsert  ChangeKind = "upsert"
	ChangeCreate  ChangeKind = "create"
	ChangeRemove  ChangeKind = "remove"
	ChangeReplace ChangeKind = "replace"
	ChangeCurrent ChangeKind = "current"
	ChangeReset   ChangeKind = "reset"
)

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind ChangeKind
	ID   int64
}

// RecordCache is the single in-memory owner of writing snapshots. It keeps
// the ordered backing collection shown by the list view and the detail slot.
// All mutations go through Upsert, UpsertFront, Remove, ReplacePage and Reset.
type RecordCache struct {
	mu         sync.RWMutex
	records    map[int64]domain.Writing
	order      []int64
	meta       domain.ListMeta
	current    int64
	hasCurrent bool

	subMu  sync.Mutex
	subs   map[int]func(Change)
	nextID int
}

// NewRecordCache initializes an empty cache.
func NewRecordCache() *RecordCache {
	return &RecordCache{
		records: make(map[int64]domain.Writing),
		subs:    make(map[int]func(Change)),
	}
}

// Get retrieves a writing by ID.
func (c *RecordCache) Get(id int64) (domain.Writing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.records[id]
	return w, ok
}

// Guard is evaluated while the cache lock is held. Returning false drops the
// mutation it guards. A guard must not call back into the cache.
type Guard func() bool

// Upsert inserts p as a new record or merges it into the stored one.
func (c *RecordCache) Upsert(p Patch) (domain.Writing, bool) {
	w, created, _ := c.upsert(p, false, nil)
	return w, created
}

// UpsertFront upserts p and, when the id was unknown, prepends it to the
// backing collection.
func (c *RecordCache) UpsertFront(p Patch) (domain.Writing, bool) {
	w, created, _ := c.upsert(p, true, nil)
	return w, created
}

// UpsertIf is Upsert (or UpsertFront when front is set) applied only while
// guard holds. applied reports whether the patch was stored.
func (c *RecordCache) UpsertIf(p Patch, front bool, guard Guard) (w domain.Writing, created, applied bool) {
	return c.upsert(p, front, guard)
}

func (c *RecordCache) upsert(p Patch, front bool, guard Guard) (domain.Writing, bool, bool) {
	c.mu.Lock()
	if guard != nil && !guard() {
		c.mu.Unlock()
		return domain.Writing{}, false, false
	}
	w, created := c.upsertLocked(p)
	if front && created {
		c.order = append([]int64{p.ID}, c.order...)
		c.meta.TotalCount++
	}
	c.mu.Unlock()
	kind := ChangeUpsert
	if front && created {
		kind = ChangeCreate
	}
	c.notify(Change{Kind: kind, ID: p.ID})
	return w, created, true
}

func (c *RecordCache) upsertLocked(p Patch) (domain.Writing, bool) {
	existing, ok := c.records[p.ID]
	merged, err := Merge(existing, p)
	if err != nil {
		slog.Warn("discarding malformed writing patch", "writing_id", p.ID, "err", err)
		return existing, false
	}
	c.records[p.ID] = merged
	return merged, !ok
}

// Remove deletes a writing. Removing the current detail record empties the
// detail slot.
func (c *RecordCache) Remove(id int64) bool {
	c.mu.Lock()
	_, ok := c.records[id]
	delete(c.records, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			if c.meta.TotalCount > 0 {
				c.meta.TotalCount--
			}
			break
		}
	}
	if c.hasCurrent && c.current == id {
		c.hasCurrent = false
		c.current = 0
	}
	c.mu.Unlock()
	if ok {
		c.notify(Change{Kind: ChangeRemove, ID: id})
	}
	return ok
}

// List returns the backing collection in display order.
func (c *RecordCache) List() []domain.Writing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := make([]domain.Writing, 0, len(c.order))
	for _, id := range c.order {
		if w, ok := c.records[id]; ok {
			res = append(res, w)
		}
	}
	return res
}

// Order returns the ids of the backing collection in display order.
func (c *RecordCache) Order() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]int64(nil), c.order...)
}

// Meta returns the pagination metadata of the last page fetch.
func (c *RecordCache) Meta() domain.ListMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meta
}

// ReplacePage merges a fetched page into the cache and makes its ids the new
// backing collection.
func (c *RecordCache) ReplacePage(writings []domain.Writing, meta domain.ListMeta) {
	c.ReplacePageIf(writings, meta, nil)
}

// ReplacePageIf is ReplacePage applied only while guard holds. It reports
// whether the page was stored.
func (c *RecordCache) ReplacePageIf(writings []domain.Writing, meta domain.ListMeta, guard Guard) bool {
	c.mu.Lock()
	if guard != nil && !guard() {
		c.mu.Unlock()
		return false
	}
	order := make([]int64, 0, len(writings))
	for _, w := range writings {
		c.upsertLocked(PatchFromWriting(w))
		order = append(order, w.ID)
	}
	c.order = order
	c.meta = meta
	c.mu.Unlock()
	c.notify(Change{Kind: ChangeReplace})
	return true
}

// SetCurrent points the detail slot at id.
func (c *RecordCache) SetCurrent(id int64) {
	c.mu.Lock()
	c.current = id
	c.hasCurrent = true
	c.mu.Unlock()
	c.notify(Change{Kind: ChangeCurrent, ID: id})
}

// ClearCurrent empties the detail slot.
func (c *RecordCache) ClearCurrent() {
	c.mu.Lock()
	c.current = 0
	c.hasCurrent = false
	c.mu.Unlock()
	c.notify(Change{Kind: ChangeCurrent})
}

// CurrentID returns the id the detail slot points at.
func (c *RecordCache) CurrentID() (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.hasCurrent
}

// Current returns the detail record. It reports false when the slot is empty
// or the record has not been fetched yet.
func (c *RecordCache) Current() (domain.Writing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasCurrent {
		return domain.Writing{}, false
	}
	w, ok := c.records[c.current]
	return w, ok
}

// Reset drops every record, the backing collection and the detail slot.
func (c *RecordCache) Reset() {
	c.mu.Lock()
	c.records = make(map[int64]domain.Writing)
	c.order = nil
	c.meta = domain.ListMeta{}
	c.current = 0
	c.hasCurrent = false
	c.mu.Unlock()
	c.notify(Change{Kind: ChangeReset})
}

// Subscribe registers fn for change notifications. Callbacks run on the
// mutating goroutine after the cache lock is released.
func (c *RecordCache) Subscribe(fn func(Change)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *RecordCache) notify(ch Change) {
	c.subMu.Lock()
	fns := make([]func(Change), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}
