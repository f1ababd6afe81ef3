package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"writecheck/internal/util"
	"writecheck/pkg/annotate"
	"writecheck/pkg/auth"
	"writecheck/pkg/domain"
	"writecheck/pkg/push"
	"writecheck/pkg/store"
	"writecheck/services/studio/internal/batch"
	"writecheck/services/studio/internal/listing"
	"writecheck/services/studio/internal/upload"
	"writecheck/services/studio/internal/writingclient"
)

// API is the subset of the writings API the app drives.
type API interface {
	ListWritings(ctx context.Context, page, perPage int) (writingclient.Page, error)
	GetWriting(ctx context.Context, id int64) (domain.Writing, error)
	UploadImage(ctx context.Context, filename, contentType string, r io.Reader) (domain.Writing, error)
	DeleteWriting(ctx context.Context, id int64) error
	Credits(ctx context.Context) (domain.Credits, error)
	Login(ctx context.Context, username, password string) (writingclient.AuthResult, error)
	Register(ctx context.Context, username, password string) (writingclient.AuthResult, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
}

// Config holds the collaborators and tunables of the app.
type Config struct {
	API                 API
	Session             *auth.Session
	Transport           push.Transport
	Cache               *store.RecordCache
	PageSize            int
	MaxUploadBytes      int64
	AllowedContentTypes []string
	UploadProgress      func(upload.Progress)
	DeleteConcurrency   int
	UsernameDebounce    time.Duration
	Logger              *slog.Logger
}

// App wires the record cache, the list window, push subscriptions, uploads
// and batch deletes around one session.
type App struct {
	api      API
	session  *auth.Session
	cache    *store.RecordCache
	push     *push.Manager
	window   *listing.Window
	uploads  *upload.Sequencer
	deletes  *batch.Coordinator
	debounce *util.Debouncer
	logger   *slog.Logger
}

// New constructs the app. The session's logout resets every piece of state.
func New(cfg Config) (*App, error) {
	if cfg.API == nil {
		return nil, errors.New("api client required")
	}
	if cfg.Session == nil {
		return nil, errors.New("session required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("push transport required")
	}
	if cfg.Cache == nil {
		cfg.Cache = store.NewRecordCache()
	}
	if cfg.UsernameDebounce <= 0 {
		cfg.UsernameDebounce = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	window := listing.New(cfg.Cache, cfg.API, cfg.PageSize, logger)
	a := &App{
		api:     cfg.API,
		session: cfg.Session,
		cache:   cfg.Cache,
		push:    push.NewManager(cfg.Transport, cfg.Session, cfg.Cache, logger),
		window:  window,
		uploads: upload.NewSequencer(cfg.API, cfg.Cache,
			upload.WithMaxBytes(cfg.MaxUploadBytes),
			upload.WithContentTypes(cfg.AllowedContentTypes),
			upload.WithProgress(cfg.UploadProgress),
			upload.WithLogger(logger),
		),
		deletes:  batch.NewCoordinator(cfg.API, cfg.Cache, window, cfg.DeleteConcurrency, logger),
		debounce: util.NewDebouncer(cfg.UsernameDebounce),
		logger:   logger.With("component", "app"),
	}
	cfg.Session.OnLogout(a.reset)
	return a, nil
}

// Close releases subscriptions and timers.
func (a *App) Close() {
	a.push.CloseAll()
	a.window.Close()
	a.debounce.Stop()
}

// Login signs in and persists the token.
func (a *App) Login(ctx context.Context, username, password string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.User{}, errors.New("username and password required")
	}
	res, err := a.api.Login(ctx, username, password)
	if err != nil {
		return domain.User{}, err
	}
	if err := a.session.SignIn(ctx, res.Token, res.User); err != nil {
		return domain.User{}, fmt.Errorf("persist session: %w", err)
	}
	a.logger.Info("signed in", "user_id", res.User.ID)
	return res.User, nil
}

// Register creates an account and signs in.
func (a *App) Register(ctx context.Context, username, password string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.User{}, errors.New("username and password required")
	}
	res, err := a.api.Register(ctx, username, password)
	if err != nil {
		return domain.User{}, err
	}
	if err := a.session.SignIn(ctx, res.Token, res.User); err != nil {
		return domain.User{}, fmt.Errorf("persist session: %w", err)
	}
	a.logger.Info("registered", "user_id", res.User.ID)
	return res.User, nil
}

// Logout signs out; the logout hook resets all state.
func (a *App) Logout() {
	a.session.Logout()
}

func (a *App) reset() {
	a.push.CloseAll()
	a.debounce.Stop()
	a.window.Reset()
	a.cache.Reset()
	a.logger.Info("session reset")
}

// OpenList subscribes to the roster feed and loads the current page. A push
// failure other than a missing token only costs live updates.
func (a *App) OpenList(ctx context.Context) error {
	if err := a.openFeed(a.push.OpenRoster(ctx)); err != nil {
		return err
	}
	return a.window.Refresh(ctx)
}

// CloseList drops the roster subscription.
func (a *App) CloseList() {
	a.push.CloseRoster()
}

// OpenDetail points the detail slot at id, subscribes to its feed and
// fetches it. A missing writing clears the slot and returns ErrNotFound; a
// response that arrives after the view moved on returns ErrDetailMoved.
func (a *App) OpenDetail(ctx context.Context, id int64) (domain.Writing, error) {
	a.cache.SetCurrent(id)
	if err := a.openFeed(a.push.OpenDetail(ctx, id)); err != nil {
		return domain.Writing{}, err
	}

	w, err := a.api.GetWriting(ctx, id)
	if errors.Is(err, domain.ErrUnauthorized) {
		return domain.Writing{}, err
	}
	if cur, ok := a.cache.CurrentID(); !ok || cur != id {
		a.logger.Debug("ignoring late detail response", "writing_id", id)
		return domain.Writing{}, ErrDetailMoved
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.push.CloseDetail()
			a.cache.Remove(id)
			return domain.Writing{}, domain.ErrNotFound
		}
		return domain.Writing{}, err
	}
	merged, _ := a.cache.Upsert(store.PatchFromWriting(w))
	return merged, nil
}

// CloseDetail drops the detail subscription and empties the slot.
func (a *App) CloseDetail() {
	a.push.CloseDetail()
	a.cache.ClearCurrent()
}

// Current returns the writing in the detail slot.
func (a *App) Current() (domain.Writing, bool) {
	return a.cache.Current()
}

// Segments resolves the current writing's annotations against its original
// text.
func (a *App) Segments() ([]annotate.Segment, bool) {
	w, ok := a.cache.Current()
	if !ok {
		return nil, false
	}
	return annotate.Resolve(w.OriginalText, w.Errors), true
}

// RenderCurrent writes the highlighted original text of the current writing.
func (a *App) RenderCurrent(out io.Writer, style annotate.Style) error {
	w, ok := a.cache.Current()
	if !ok {
		return domain.ErrNotFound
	}
	return annotate.Render(out, w.OriginalText, annotate.Resolve(w.OriginalText, w.Errors), style)
}

// Upload validates and uploads a batch of images.
func (a *App) Upload(ctx context.Context, files []upload.File) (upload.Outcome, error) {
	return a.uploads.Upload(ctx, files)
}

// UploadProgress returns the progress of a running upload batch.
func (a *App) UploadProgress() (upload.Progress, bool) {
	return a.uploads.Progress()
}

// DeleteSelected deletes a snapshot of the current selection.
func (a *App) DeleteSelected(ctx context.Context) (batch.Result, error) {
	ids := a.window.Selection()
	if len(ids) == 0 {
		return batch.Result{}, nil
	}
	return a.deletes.DeleteMany(ctx, ids)
}

// Delete deletes the given writings whether or not they are selected.
func (a *App) Delete(ctx context.Context, ids ...int64) (batch.Result, error) {
	return a.deletes.DeleteMany(ctx, ids)
}

// CheckUsername reports availability of username to fn once input has been
// quiet for the debounce delay. Each call cancels the pending one.
func (a *App) CheckUsername(username string, fn func(available bool, err error)) {
	username = strings.TrimSpace(username)
	a.debounce.Trigger(func() {
		if username == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		exists, err := a.api.UsernameExists(ctx, username)
		fn(!exists, err)
	})
}

// Credits returns the account's credit usage.
func (a *App) Credits(ctx context.Context) (domain.Credits, error) {
	return a.api.Credits(ctx)
}

// Window exposes pagination and selection.
func (a *App) Window() *listing.Window {
	return a.window
}

// PushState reports the state of a push slot.
func (a *App) PushState(kind push.Kind) push.State {
	return a.push.State(kind)
}

// Writing returns the cached snapshot of id.
func (a *App) Writing(id int64) (domain.Writing, bool) {
	return a.cache.Get(id)
}

// Subscribe registers fn for cache change notifications.
func (a *App) Subscribe(fn func(store.Change)) (cancel func()) {
	return a.cache.Subscribe(fn)
}

// openFeed turns a subscription error into the caller's error only when the
// session has no usable token.
func (a *App) openFeed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNoToken) || errors.Is(err, domain.ErrTokenExpired) {
		return err
	}
	a.logger.Warn("live updates unavailable", "err", err)
	return nil
}
