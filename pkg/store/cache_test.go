package store

import (
	"sync"
	"testing"

	"writecheck/pkg/domain"
)

func mustPatch(t *testing.T, raw string) Patch {
	t.Helper()
	p, err := ParsePatch([]byte(raw))
	if err != nil {
		t.Fatalf("parse patch %s: %v", raw, err)
	}
	return p
}

func TestRecordCacheUpsertPreservesFetchedFields(t *testing.T) {
	c := NewRecordCache()
	_, created := c.Upsert(mustPatch(t, `{"id":1,"title":"T","grammar_errors":[{"id":5,"original":"has"}]}`))
	if !created {
		t.Fatalf("first upsert should create")
	}
	w, created := c.Upsert(mustPatch(t, `{"id":1,"status":"completed"}`))
	if created {
		t.Fatalf("second upsert should merge")
	}
	if w.Status != domain.StatusCompleted {
		t.Fatalf("status not updated: %s", w.Status)
	}
	got, ok := c.Get(1)
	if !ok {
		t.Fatalf("record missing")
	}
	if got.Title == nil || *got.Title != "T" || len(got.Errors) != 1 {
		t.Fatalf("title/errors lost: %+v", got)
	}
}

func TestRecordCacheUpsertFrontPrependsUnknownIDs(t *testing.T) {
	c := NewRecordCache()
	c.ReplacePage([]domain.Writing{{ID: 1}, {ID: 2}}, domain.ListMeta{CurrentPage: 1, TotalCount: 2})
	if _, created := c.UpsertFront(mustPatch(t, `{"id":3,"status":"pending"}`)); !created {
		t.Fatalf("expected create")
	}
	if _, created := c.UpsertFront(mustPatch(t, `{"id":2,"status":"processing"}`)); created {
		t.Fatalf("known id must not be re-created")
	}
	order := c.Order()
	want := []int64{3, 1, 2}
	if len(order) != len(want) {
		t.Fatalf("unexpected order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order %v", order)
		}
	}
	if c.Meta().TotalCount != 3 {
		t.Fatalf("total count not bumped: %+v", c.Meta())
	}
}

func TestRecordCacheRemoveClearsDetailSlot(t *testing.T) {
	c := NewRecordCache()
	c.ReplacePage([]domain.Writing{{ID: 1}, {ID: 2}}, domain.ListMeta{TotalCount: 2})
	c.SetCurrent(2)
	if _, ok := c.Current(); !ok {
		t.Fatalf("expected current record")
	}
	if !c.Remove(2) {
		t.Fatalf("remove should report existing record")
	}
	if _, ok := c.Current(); ok {
		t.Fatalf("detail slot should be empty after removing current")
	}
	if _, has := c.CurrentID(); has {
		t.Fatalf("current id should be cleared")
	}
	if len(c.List()) != 1 {
		t.Fatalf("backing collection not updated: %+v", c.List())
	}
	if c.Remove(2) {
		t.Fatalf("second remove should be a no-op")
	}
}

func TestRecordCacheReplacePageKeepsErrorsFromDetail(t *testing.T) {
	c := NewRecordCache()
	c.Upsert(mustPatch(t, `{"id":4,"status":"completed","grammar_errors":[{"id":1,"original":"x"}]}`))
	c.ReplacePage([]domain.Writing{{ID: 4, Status: domain.StatusCompleted, Title: domain.StringPtr("New")}}, domain.ListMeta{TotalCount: 1})
	w, _ := c.Get(4)
	if len(w.Errors) != 1 {
		t.Fatalf("list fetch without errors must not erase them: %+v", w)
	}
	if w.DisplayTitle() != "New" {
		t.Fatalf("title not refreshed: %s", w.DisplayTitle())
	}
}

func TestRecordCacheConcurrentFeedsMergePerField(t *testing.T) {
	c := NewRecordCache()
	c.Upsert(mustPatch(t, `{"id":1,"title":"T"}`))
	detail := mustPatch(t, `{"id":1,"status":"completed"}`)
	roster := mustPatch(t, `{"id":1,"corrected_text":"I have a pen"}`)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Upsert(detail)
		}()
		go func() {
			defer wg.Done()
			c.UpsertFront(roster)
		}()
	}
	wg.Wait()
	w, _ := c.Get(1)
	if w.Status != domain.StatusCompleted || w.CorrectedText == nil || w.Title == nil {
		t.Fatalf("fields lost under interleaving: %+v", w)
	}
}

func TestRecordCacheSubscribe(t *testing.T) {
	c := NewRecordCache()
	var got []Change
	cancel := c.Subscribe(func(ch Change) { got = append(got, ch) })
	c.UpsertFront(mustPatch(t, `{"id":1}`))
	c.Remove(1)
	cancel()
	c.Upsert(mustPatch(t, `{"id":2}`))
	if len(got) != 2 || got[0].Kind != ChangeCreate || got[1].Kind != ChangeRemove {
		t.Fatalf("unexpected notifications %+v", got)
	}
}

func TestRecordCacheReset(t *testing.T) {
	c := NewRecordCache()
	c.ReplacePage([]domain.Writing{{ID: 1}}, domain.ListMeta{TotalCount: 1})
	c.SetCurrent(1)
	c.Reset()
	if len(c.List()) != 0 {
		t.Fatalf("list should be empty after reset")
	}
	if _, ok := c.Get(1); ok {
		t.Fatalf("record should be gone after reset")
	}
	if _, ok := c.CurrentID(); ok {
		t.Fatalf("detail slot should be empty after reset")
	}
}

func TestRecordCacheGuardedMutations(t *testing.T) {
	c := NewRecordCache()
	var changes []Change
	c.Subscribe(func(ch Change) { changes = append(changes, ch) })

	if c.ReplacePageIf([]domain.Writing{{ID: 1}}, domain.ListMeta{TotalCount: 1}, func() bool { return false }) {
		t.Fatalf("rejected page must not be stored")
	}
	if _, _, applied := c.UpsertIf(mustPatch(t, `{"id":2}`), true, func() bool { return false }); applied {
		t.Fatalf("rejected patch must not be stored")
	}
	if len(c.Order()) != 0 || len(changes) != 0 {
		t.Fatalf("rejected mutations must leave no trace: order=%v changes=%v", c.Order(), changes)
	}

	if !c.ReplacePageIf([]domain.Writing{{ID: 1}}, domain.ListMeta{TotalCount: 1}, func() bool { return true }) {
		t.Fatalf("accepted page should be stored")
	}
	_, created, applied := c.UpsertIf(mustPatch(t, `{"id":2}`), true, func() bool { return true })
	if !created || !applied {
		t.Fatalf("accepted patch should create, created=%v applied=%v", created, applied)
	}
	if order := c.Order(); len(order) != 2 || order[0] != 2 {
		t.Fatalf("unexpected order %v", order)
	}
	if len(changes) != 2 || changes[0].Kind != ChangeReplace || changes[1].Kind != ChangeCreate {
		t.Fatalf("unexpected changes %+v", changes)
	}
}
