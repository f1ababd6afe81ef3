package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"writecheck/pkg/domain"
	"writecheck/pkg/store"
)

type fakeDeleter struct {
	fail        map[int64]error
	delay       time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeDeleter) DeleteWriting(_ context.Context, id int64) error {
	n := f.inFlight.Add(1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(f.delay)
	f.inFlight.Add(-1)
	return f.fail[id]
}

type fakeSelection struct {
	mu  sync.Mutex
	ids map[int64]bool
}

func (s *fakeSelection) Deselect(id int64) {
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

func seed(ids ...int64) *store.RecordCache {
	cache := store.NewRecordCache()
	ws := make([]domain.Writing, 0, len(ids))
	for _, id := range ids {
		ws = append(ws, domain.Writing{ID: id})
	}
	cache.ReplacePage(ws, domain.ListMeta{TotalCount: len(ids)})
	return cache
}

func TestDeleteManyPartialFailure(t *testing.T) {
	cache := seed(1, 2, 3, 4)
	sel := &fakeSelection{ids: map[int64]bool{1: true, 2: true, 3: true, 4: true}}
	boom := errors.New("500 internal")
	api := &fakeDeleter{fail: map[int64]error{3: boom}, delay: 20 * time.Millisecond}
	c := NewCoordinator(api, cache, sel, 0, nil)

	ids := []int64{1, 2, 3, 4}
	res, err := c.DeleteMany(context.Background(), ids)
	if !errors.Is(err, boom) {
		t.Fatalf("expected aggregate error wrapping the failure, got %v", err)
	}
	if fmt.Sprint(res.Deleted) != "[1 2 4]" || fmt.Sprint(res.Failed) != "[3]" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(sel.ids) != 1 || !sel.ids[3] {
		t.Fatalf("only the failed id should stay selected, got %v", sel.ids)
	}
	if _, ok := cache.Get(3); !ok {
		t.Fatalf("failed id must stay in the cache")
	}
	for _, id := range []int64{1, 2, 4} {
		if _, ok := cache.Get(id); ok {
			t.Fatalf("id %d should be removed", id)
		}
	}
	if api.maxInFlight.Load() < 2 {
		t.Fatalf("deletes should run concurrently")
	}
}

func TestDeleteManyTreatsNotFoundAsDeleted(t *testing.T) {
	cache := seed(5)
	api := &fakeDeleter{fail: map[int64]error{5: fmt.Errorf("delete writing 5: %w", domain.ErrNotFound)}}
	c := NewCoordinator(api, cache, nil, 0, nil)
	res, err := c.DeleteMany(context.Background(), []int64{5})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(res.Deleted) != 1 {
		t.Fatalf("404 should count as deleted: %+v", res)
	}
	if _, ok := cache.Get(5); ok {
		t.Fatalf("record should be removed")
	}
}

func TestDeleteManyRespectsLimit(t *testing.T) {
	cache := seed(1, 2, 3)
	api := &fakeDeleter{delay: 10 * time.Millisecond}
	c := NewCoordinator(api, cache, nil, 1, nil)
	res, err := c.DeleteMany(context.Background(), []int64{3, 1, 2})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if fmt.Sprint(res.Deleted) != "[1 2 3]" {
		t.Fatalf("unexpected result %+v", res)
	}
	if api.maxInFlight.Load() != 1 {
		t.Fatalf("limit should cap concurrency")
	}
}
