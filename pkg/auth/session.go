package auth

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"writecheck/pkg/domain"
	"writecheck/pkg/store"
)

// Session holds the current bearer token and user. It is constructed once
// at startup and reset on logout; components read the token through it
// instead of a global.
type Session struct {
	mu      sync.RWMutex
	token   string
	user    *domain.User
	tokens  store.TokenStore
	now     func() time.Time
	hooks   []func()
	hooksMu sync.Mutex
}

// NewSession builds a session persisted through tokens. A nil store keeps
// the token in memory.
func NewSession(tokens store.TokenStore) *Session {
	if tokens == nil {
		tokens = store.NewMemoryTokenStore()
	}
	return &Session{tokens: tokens, now: time.Now}
}

// Restore loads a previously persisted token.
func (s *Session) Restore(ctx context.Context) error {
	token, err := s.tokens.Load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.token = strings.TrimSpace(token)
	s.mu.Unlock()
	return nil
}

// SignIn stores the token and user returned by login/registration.
func (s *Session) SignIn(ctx context.Context, token string, user domain.User) error {
	s.mu.Lock()
	s.token = strings.TrimSpace(token)
	s.user = &user
	s.mu.Unlock()
	return s.tokens.Save(ctx, token)
}

// Token returns the current bearer token, or "" when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the signed-in user when known.
func (s *Session) User() (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return domain.User{}, false
	}
	return *s.user, true
}

// Authenticated reports whether a token is present.
func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

// ValidToken returns the token when it is present and not expired according
// to its exp claim. Tokens that are not JWTs are passed through unchecked.
func (s *Session) ValidToken() (string, error) {
	token := s.Token()
	if token == "" {
		return "", domain.ErrNoToken
	}
	claims, err := Inspect(token)
	if err != nil {
		return token, nil
	}
	if claims.Expired(s.now()) {
		return "", domain.ErrTokenExpired
	}
	return token, nil
}

// OnLogout registers fn to run after every Logout.
func (s *Session) OnLogout(fn func()) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hooksMu.Unlock()
}

// Logout clears the token and user, drops the persisted token and runs the
// logout hooks. Calling it while signed out still runs the hooks.
func (s *Session) Logout() {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.tokens.Clear(ctx); err != nil {
		slog.Warn("failed to clear persisted token", "err", err)
	}

	s.hooksMu.Lock()
	hooks := append([]func(){}, s.hooks...)
	s.hooksMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
