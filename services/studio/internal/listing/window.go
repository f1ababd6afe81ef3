// Package listing holds pagination and selection state for the writings list.
package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"writecheck/pkg/domain"
	"writecheck/pkg/store"
	"writecheck/services/studio/internal/writingclient"
)

// Fetcher loads one page of writings. page is 1-based.
type Fetcher interface {
	ListWritings(ctx context.Context, page, perPage int) (writingclient.Page, error)
}

// Window is the visible page of the writings list plus its selection.
// Selection only ever holds ids on the visible page.
type Window struct {
	cache  *store.RecordCache
	fetch  Fetcher
	logger *slog.Logger

	mu       sync.Mutex
	page     int
	pageSize int
	selected map[int64]struct{}
	gen      uint64
	loading  bool
	lastErr  error

	unsubscribe func()
}

// New builds a window over cache. It starts on page 0.
func New(cache *store.RecordCache, fetch Fetcher, pageSize int, logger *slog.Logger) *Window {
	if pageSize < 1 {
		pageSize = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Window{
		cache:    cache,
		fetch:    fetch,
		logger:   logger.With("component", "listing"),
		pageSize: pageSize,
		selected: make(map[int64]struct{}),
	}
	w.unsubscribe = cache.Subscribe(w.onChange)
	return w
}

// Close stops following cache changes.
func (w *Window) Close() {
	if w.unsubscribe != nil {
		w.unsubscribe()
	}
}

// SetPage clears the selection, then fetches page n (0-based).
func (w *Window) SetPage(ctx context.Context, n int) error {
	if n < 0 {
		n = 0
	}
	w.mu.Lock()
	w.clearLocked()
	w.page = n
	w.gen++
	gen := w.gen
	w.mu.Unlock()
	return w.load(ctx, gen)
}

// SetPageSize clears the selection, returns to the first page and fetches it.
func (w *Window) SetPageSize(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}
	w.mu.Lock()
	w.clearLocked()
	w.pageSize = n
	w.page = 0
	w.gen++
	gen := w.gen
	w.mu.Unlock()
	return w.load(ctx, gen)
}

// Refresh refetches the current page.
func (w *Window) Refresh(ctx context.Context) error {
	w.mu.Lock()
	w.gen++
	gen := w.gen
	w.mu.Unlock()
	return w.load(ctx, gen)
}

// Reset returns the window to its initial state without fetching.
func (w *Window) Reset() {
	w.mu.Lock()
	w.clearLocked()
	w.page = 0
	w.gen++
	w.loading = false
	w.lastErr = nil
	w.mu.Unlock()
}

func (w *Window) load(ctx context.Context, gen uint64) error {
	w.mu.Lock()
	page, size := w.page, w.pageSize
	w.loading = true
	w.mu.Unlock()

	res, err := w.fetch.ListWritings(ctx, page+1, size)

	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		if errors.Is(err, domain.ErrUnauthorized) {
			return fmt.Errorf("load page %d: %w", page, err)
		}
		w.logger.Debug("ignoring superseded page response", "page", page, "page_size", size)
		return nil
	}
	w.loading = false
	if err != nil {
		w.lastErr = err
		w.mu.Unlock()
		return fmt.Errorf("load page %d: %w", page, err)
	}
	w.lastErr = nil
	w.mu.Unlock()

	if !w.cache.ReplacePageIf(res.Writings, res.Meta, func() bool { return w.current(gen) }) {
		w.logger.Debug("ignoring superseded page response", "page", page, "page_size", size)
		return nil
	}

	w.mu.Lock()
	if gen == w.gen {
		w.clearLocked()
	}
	w.mu.Unlock()
	return nil
}

// current reports whether gen is still the latest fetch. It runs under the
// cache lock, so it must only take w.mu.
func (w *Window) current(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return gen == w.gen
}

// ToggleSelect flips the selection of a visible id. Ids not on the page are
// ignored.
func (w *Window) ToggleSelect(id int64) bool {
	visible := w.visibleIDs()
	if _, ok := visible[id]; !ok {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.selected[id]; ok {
		delete(w.selected, id)
		return false
	}
	w.selected[id] = struct{}{}
	return true
}

// SelectAll selects every visible id, or clears the selection.
func (w *Window) SelectAll(on bool) {
	var visible map[int64]struct{}
	if on {
		visible = w.visibleIDs()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clearLocked()
	for id := range visible {
		w.selected[id] = struct{}{}
	}
}

// Deselect drops id from the selection.
func (w *Window) Deselect(id int64) {
	w.mu.Lock()
	delete(w.selected, id)
	w.mu.Unlock()
}

// Selection returns the selected ids in ascending order.
func (w *Window) Selection() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]int64, 0, len(w.selected))
	for id := range w.selected {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsSelected reports whether id is selected.
func (w *Window) IsSelected(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.selected[id]
	return ok
}

// Visible returns the records shown on the page: the head of the backing
// collection, at most pageSize long.
func (w *Window) Visible() []domain.Writing {
	w.mu.Lock()
	size := w.pageSize
	w.mu.Unlock()
	list := w.cache.List()
	if len(list) > size {
		list = list[:size]
	}
	return list
}

// Page returns the 0-based page index and the page size.
func (w *Window) Page() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.page, w.pageSize
}

// Meta returns the pagination metadata of the last fetch.
func (w *Window) Meta() domain.ListMeta {
	return w.cache.Meta()
}

// Loading reports whether a fetch is in flight and the last fetch error.
func (w *Window) Loading() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loading, w.lastErr
}

func (w *Window) visibleIDs() map[int64]struct{} {
	visible := w.Visible()
	ids := make(map[int64]struct{}, len(visible))
	for _, rec := range visible {
		ids[rec.ID] = struct{}{}
	}
	return ids
}

func (w *Window) clearLocked() {
	if len(w.selected) > 0 {
		w.selected = make(map[int64]struct{})
	}
}

// onChange keeps the selection a subset of the visible ids.
func (w *Window) onChange(ch store.Change) {
	switch ch.Kind {
	case store.ChangeRemove, store.ChangeCreate, store.ChangeReset:
	default:
		return
	}
	visible := w.visibleIDs()
	w.mu.Lock()
	defer w.mu.Unlock()
	for id := range w.selected {
		if _, ok := visible[id]; !ok {
			delete(w.selected, id)
		}
	}
}
