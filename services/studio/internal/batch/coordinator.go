// Package batch deletes a set of writings concurrently and tolerates partial
// failure.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"writecheck/pkg/domain"
	"writecheck/pkg/store"
)

// Deleter deletes one writing on the server.
type Deleter interface {
	DeleteWriting(ctx context.Context, id int64) error
}

// Selection is told about ids that no longer need to stay selected.
type Selection interface {
	Deselect(id int64)
}

// Result lists which ids were deleted and which failed.
type Result struct {
	Deleted []int64
	Failed  []int64
}

// Coordinator runs batch deletes.
type Coordinator struct {
	api    Deleter
	cache  *store.RecordCache
	sel    Selection
	limit  int
	logger *slog.Logger
}

// NewCoordinator builds a coordinator. limit caps concurrent requests; zero
// means no cap. sel may be nil.
func NewCoordinator(api Deleter, cache *store.RecordCache, sel Selection, limit int, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{api: api, cache: cache, sel: sel, limit: limit, logger: logger.With("component", "batch")}
}

// DeleteMany deletes a snapshot of ids concurrently. Each success is removed
// from the cache and the selection as soon as it completes; failures stay
// selected and are joined into the returned error. A 404 counts as deleted.
func (c *Coordinator) DeleteMany(ctx context.Context, ids []int64) (Result, error) {
	snapshot := append([]int64(nil), ids...)

	var (
		mu   sync.Mutex
		res  Result
		errs []error
	)
	var g errgroup.Group
	if c.limit > 0 {
		g.SetLimit(c.limit)
	}
	for _, id := range snapshot {
		g.Go(func() error {
			err := c.api.DeleteWriting(ctx, id)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				c.logger.Warn("delete failed", "writing_id", id, "err", err)
				mu.Lock()
				res.Failed = append(res.Failed, id)
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			c.cache.Remove(id)
			if c.sel != nil {
				c.sel.Deselect(id)
			}
			mu.Lock()
			res.Deleted = append(res.Deleted, id)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sortIDs(res.Deleted)
	sortIDs(res.Failed)
	if len(errs) > 0 {
		return res, fmt.Errorf("failed to delete %d of %d writings: %w", len(res.Failed), len(snapshot), errors.Join(errs...))
	}
	return res, nil
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
