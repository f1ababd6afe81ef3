package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"writecheck/pkg/annotate"
	"writecheck/pkg/auth"
	"writecheck/pkg/domain"
	"writecheck/pkg/push"
	"writecheck/services/studio/internal/writingclient"
)

type nopSub struct{}

func (nopSub) Close() error { return nil }

type recordingTransport struct {
	mu       sync.Mutex
	channels []push.Channel
}

func (r *recordingTransport) Subscribe(_ context.Context, _ string, ch push.Channel, _ push.Handler) (push.Subscription, error) {
	r.mu.Lock()
	r.channels = append(r.channels, ch)
	r.mu.Unlock()
	return nopSub{}, nil
}

type backend struct {
	mu        sync.Mutex
	writings  map[int64]domain.Writing
	status    map[string]int
	usernames []string
	hold      map[int64]chan struct{}
	holding   chan int64
}

func newBackend() *backend {
	return &backend{
		writings: map[int64]domain.Writing{},
		status:   map[string]int{},
		hold:     map[int64]chan struct{}{},
		holding:  make(chan int64, 1),
	}
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	if code := b.status[r.URL.Path]; code != 0 {
		b.mu.Unlock()
		w.WriteHeader(code)
		_, _ = io.WriteString(w, `{"error":"nope"}`)
		return
	}
	b.mu.Unlock()

	switch {
	case r.URL.Path == "/api/v1/auth/login":
		_, _ = io.WriteString(w, `{"token":"tok","user":{"id":1,"username":"ana"}}`)
	case r.URL.Path == "/api/v1/auth/check_username":
		name := r.URL.Query().Get("username")
		b.mu.Lock()
		b.usernames = append(b.usernames, name)
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]bool{"exists": name == "taken"})
	case r.URL.Path == "/api/v1/writings" && r.Method == http.MethodGet:
		b.mu.Lock()
		list := make([]domain.Writing, 0, len(b.writings))
		for id := int64(1); id <= 100; id++ {
			if wr, ok := b.writings[id]; ok {
				list = append(list, wr)
			}
		}
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"writings": list,
			"meta":     domain.ListMeta{CurrentPage: 1, TotalPages: 1, TotalCount: len(list)},
		})
	case strings.HasPrefix(r.URL.Path, "/api/v1/writings/"):
		var id int64
		_, _ = fmt.Sscanf(strings.TrimPrefix(r.URL.Path, "/api/v1/writings/"), "%d", &id)
		b.mu.Lock()
		gate := b.hold[id]
		wr, ok := b.writings[id]
		if r.Method == http.MethodDelete {
			delete(b.writings, id)
		}
		b.mu.Unlock()
		if gate != nil {
			b.holding <- id
			<-gate
		}
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"Writing not found"}`)
			return
		}
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"writing": wr})
	default:
		http.NotFound(w, r)
	}
}

func newTestApp(t *testing.T, b *backend) (*App, *auth.Session, *recordingTransport) {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	session := auth.NewSession(nil)
	tr := &recordingTransport{}
	a, err := New(Config{
		API:              writingclient.NewClient(srv.URL, session, 0),
		Session:          session,
		Transport:        tr,
		PageSize:         10,
		UsernameDebounce: 30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(a.Close)
	return a, session, tr
}

func TestOpenListRequiresToken(t *testing.T) {
	a, _, tr := newTestApp(t, newBackend())
	if err := a.OpenList(context.Background()); !errors.Is(err, domain.ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if len(tr.channels) != 0 {
		t.Fatalf("no subscription without a token")
	}
}

func TestLoginOpenListAndLogoutResets(t *testing.T) {
	b := newBackend()
	b.writings[1] = domain.Writing{ID: 1, Status: domain.StatusCompleted}
	b.writings[2] = domain.Writing{ID: 2, Status: domain.StatusPending}
	a, session, _ := newTestApp(t, b)
	ctx := context.Background()

	if _, err := a.Login(ctx, "ana", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := a.OpenList(ctx); err != nil {
		t.Fatalf("open list: %v", err)
	}
	if a.PushState(push.KindRoster) != push.StateOpen {
		t.Fatalf("roster should be open")
	}
	if len(a.Window().Visible()) != 2 {
		t.Fatalf("expected two visible writings")
	}
	a.Window().SelectAll(true)

	a.Logout()
	if session.Authenticated() {
		t.Fatalf("session should be signed out")
	}
	if a.PushState(push.KindRoster) != push.StateClosed {
		t.Fatalf("roster should be closed after logout")
	}
	if len(a.Window().Visible()) != 0 || len(a.Window().Selection()) != 0 {
		t.Fatalf("list state should be reset")
	}
}

func TestUnauthorizedResponseLogsOut(t *testing.T) {
	b := newBackend()
	a, session, _ := newTestApp(t, b)
	ctx := context.Background()
	if _, err := a.Login(ctx, "ana", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	b.mu.Lock()
	b.status["/api/v1/writings"] = http.StatusUnauthorized
	b.mu.Unlock()
	if err := a.OpenList(ctx); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if session.Authenticated() {
		t.Fatalf("401 must sign the session out")
	}
	if a.PushState(push.KindRoster) != push.StateClosed {
		t.Fatalf("subscriptions must be torn down on 401")
	}
}

func TestOpenDetailNotFoundClearsSlot(t *testing.T) {
	a, _, tr := newTestApp(t, newBackend())
	ctx := context.Background()
	if _, err := a.Login(ctx, "ana", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := a.OpenDetail(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, ok := a.Current(); ok {
		t.Fatalf("detail slot should be empty")
	}
	if a.PushState(push.KindDetail) != push.StateClosed {
		t.Fatalf("detail subscription should be closed")
	}
	if len(tr.channels) != 1 || tr.channels[0].WritingID != 42 {
		t.Fatalf("unexpected subscriptions %+v", tr.channels)
	}
}

func TestOpenDetailUnauthorizedIsReported(t *testing.T) {
	b := newBackend()
	b.writings[7] = domain.Writing{ID: 7, Status: domain.StatusCompleted}
	b.status["/api/v1/writings/7"] = http.StatusUnauthorized
	a, session, _ := newTestApp(t, b)
	ctx := context.Background()
	if _, err := a.Login(ctx, "ana", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	_, err := a.OpenDetail(ctx, 7)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if errors.Is(err, ErrDetailMoved) {
		t.Fatalf("401 must not be reported as a moved detail view")
	}
	if session.Authenticated() {
		t.Fatalf("401 must sign the session out")
	}
	if _, ok := a.Current(); ok {
		t.Fatalf("detail slot should be empty after logout")
	}
	if a.PushState(push.KindDetail) != push.StateClosed {
		t.Fatalf("detail subscription should be closed after logout")
	}
}

func TestOpenDetailRendersAnnotations(t *testing.T) {
	b := newBackend()
	b.writings[3] = domain.Writing{
		ID:           3,
		Status:       domain.StatusCompleted,
		OriginalText: domain.StringPtr("I has a pen"),
		Errors:       []domain.ErrorAnnotation{{ID: 1, ErrorType: "verb_tense", Original: "has", Correction: "have"}},
	}
	a, _, _ := newTestApp(t, b)
	ctx := context.Background()
	if _, err := a.Login(ctx, "ana", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	w, err := a.OpenDetail(ctx, 3)
	if err != nil {
		t.Fatalf("open detail: %v", err)
	}
	if w.ID != 3 || len(w.Errors) != 1 {
		t.Fatalf("unexpected writing %+v", w)
	}
	segs, ok := a.Segments()
	if !ok || len(annotate.Highlighted(segs)) != 1 {
		t.Fatalf("expected one highlighted segment, got %+v", segs)
	}
	var buf bytes.Buffer
	if err := a.RenderCurrent(&buf, annotate.PlainStyle); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(buf.String(), "I [has] a pen") {
		t.Fatalf("unexpected rendering %q", buf.String())
	}
}

func TestLateDetailResponseIsIgnored(t *testing.T) {
	b := newBackend()
	b.writings[7] = domain.Writing{ID: 7, Status: domain.StatusCompleted}
	gate := make(chan struct{})
	b.hold[7] = gate
	a, _, _ := newTestApp(t, b)
	ctx := context.Background()
	if _, err := a.Login(ctx, "ana", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := a.OpenDetail(ctx, 7)
		done <- err
	}()
	<-b.holding
	a.CloseDetail()
	close(gate)
	if err := <-done; !errors.Is(err, ErrDetailMoved) {
		t.Fatalf("expected ErrDetailMoved, got %v", err)
	}
	if _, ok := a.Current(); ok {
		t.Fatalf("late response must not repopulate the detail slot")
	}
}

func TestDeleteSelected(t *testing.T) {
	b := newBackend()
	for id := int64(1); id <= 3; id++ {
		b.writings[id] = domain.Writing{ID: id, Status: domain.StatusCompleted}
	}
	a, _, _ := newTestApp(t, b)
	ctx := context.Background()
	if _, err := a.Login(ctx, "ana", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := a.OpenList(ctx); err != nil {
		t.Fatalf("open list: %v", err)
	}
	a.Window().ToggleSelect(1)
	a.Window().ToggleSelect(3)
	res, err := a.DeleteSelected(ctx)
	if err != nil {
		t.Fatalf("delete selected: %v", err)
	}
	if fmt.Sprint(res.Deleted) != "[1 3]" {
		t.Fatalf("unexpected result %+v", res)
	}
	if vis := a.Window().Visible(); len(vis) != 1 || vis[0].ID != 2 {
		t.Fatalf("unexpected visible set %+v", vis)
	}
	if len(a.Window().Selection()) != 0 {
		t.Fatalf("selection should be empty")
	}
}

func TestCheckUsernameDebounces(t *testing.T) {
	b := newBackend()
	a, _, _ := newTestApp(t, b)
	results := make(chan bool, 3)
	for _, name := range []string{"t", "ta", "taken"} {
		a.CheckUsername(name, func(available bool, err error) {
			if err != nil {
				t.Errorf("check: %v", err)
			}
			results <- available
		})
	}
	select {
	case available := <-results:
		if available {
			t.Fatalf("taken should not be available")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("check never ran")
	}
	time.Sleep(60 * time.Millisecond)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.usernames) != 1 || b.usernames[0] != "taken" {
		t.Fatalf("only the last input should be checked, got %v", b.usernames)
	}
}
