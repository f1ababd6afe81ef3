package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"writecheck/pkg/annotate"
	"writecheck/pkg/domain"
	"writecheck/pkg/store"
)

// fakeDetail flips the writing to completed right after the first render,
// the way a push event landing mid-command would.
type fakeDetail struct {
	mu      sync.Mutex
	w       domain.Writing
	subs    []func(store.Change)
	renders int
	stop    context.CancelFunc
}

func (f *fakeDetail) OpenDetail(_ context.Context, id int64) (domain.Writing, error) {
	f.mu.Lock()
	f.w = domain.Writing{ID: id, Status: domain.StatusProcessing}
	w := f.w
	f.mu.Unlock()
	return w, nil
}

func (f *fakeDetail) Current() (domain.Writing, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w, true
}

func (f *fakeDetail) RenderCurrent(out io.Writer, _ annotate.Style) error {
	f.mu.Lock()
	f.renders++
	n := f.renders
	fmt.Fprintf(out, "rendered %s\n", f.w.Status)
	if n == 1 {
		f.w.Status = domain.StatusCompleted
	}
	subs := append([]func(store.Change){}, f.subs...)
	id := f.w.ID
	f.mu.Unlock()

	if n == 1 {
		for _, fn := range subs {
			fn(store.Change{Kind: store.ChangeUpsert, ID: id})
		}
	} else {
		f.stop()
	}
	return nil
}

func (f *fakeDetail) Subscribe(fn func(store.Change)) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
	return func() {}
}

func TestShowDetailWatchRendersUpdateAfterFirstRender(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	view := &fakeDetail{stop: cancel}
	var out bytes.Buffer
	if err := showDetail(ctx, &out, view, 5, annotate.PlainStyle, true); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Fatalf("watch ended before the update was rendered:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "rendered processing") || !strings.Contains(out.String(), "rendered completed") {
		t.Fatalf("update not re-rendered:\n%s", out.String())
	}
}

func TestShowDetailWithoutWatchRendersOnce(t *testing.T) {
	view := &fakeDetail{stop: func() {}}
	var out bytes.Buffer
	if err := showDetail(context.Background(), &out, view, 5, annotate.PlainStyle, false); err != nil {
		t.Fatalf("show: %v", err)
	}
	if strings.Count(out.String(), "rendered") != 1 {
		t.Fatalf("expected a single render:\n%s", out.String())
	}
}
