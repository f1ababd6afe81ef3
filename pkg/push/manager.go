// Package push keeps at most one detail and one roster subscription open and
// routes their events into the record cache.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"writecheck/pkg/store"
)

// Kind names a subscription slot.
type Kind string

const (
	KindDetail Kind = "detail"
	KindRoster Kind = "roster"
)

// State is the lifecycle of a subscription slot.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Channel identifies the logical feed to subscribe to.
type Channel struct {
	Kind      Kind
	WritingID int64
}

// Handler receives a subscription's traffic. OnClose runs at most once, when
// the transport loses the subscription without Close being called.
type Handler struct {
	OnMessage func(payload []byte)
	OnClose   func(err error)
}

// Transport opens subscriptions on the push backend.
type Transport interface {
	Subscribe(ctx context.Context, token string, ch Channel, h Handler) (Subscription, error)
}

// Subscription is an open feed. Close unsubscribes and disconnects; it must
// be safe to call more than once.
type Subscription interface {
	Close() error
}

// TokenSource supplies the bearer token for new subscriptions.
type TokenSource interface {
	ValidToken() (string, error)
}

var errLostWhileConnecting = errors.New("push connection lost while subscribing")

type slot struct {
	kind Kind
	op   sync.Mutex

	mu     sync.Mutex
	state  State
	gen    uint64
	target int64
	sub    Subscription
}

// Manager owns the detail and roster subscription slots.
type Manager struct {
	transport Transport
	tokens    TokenSource
	cache     *store.RecordCache
	logger    *slog.Logger

	detail slot
	roster slot
}

// NewManager wires a manager to its transport, token source and cache.
func NewManager(transport Transport, tokens TokenSource, cache *store.RecordCache, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		transport: transport,
		tokens:    tokens,
		cache:     cache,
		logger:    logger.With("component", "push"),
		detail:    slot{kind: KindDetail},
		roster:    slot{kind: KindRoster},
	}
}

// OpenDetail subscribes to updates for one writing. Any open detail
// subscription is closed before the new one is requested.
func (m *Manager) OpenDetail(ctx context.Context, id int64) error {
	if err := m.open(ctx, &m.detail, Channel{Kind: KindDetail, WritingID: id}); err != nil {
		return fmt.Errorf("push: open detail %d: %w", id, err)
	}
	return nil
}

// OpenRoster subscribes to updates for all of the user's writings.
func (m *Manager) OpenRoster(ctx context.Context) error {
	if err := m.open(ctx, &m.roster, Channel{Kind: KindRoster}); err != nil {
		return fmt.Errorf("push: open roster: %w", err)
	}
	return nil
}

// CloseDetail tears down the detail subscription. It is a no-op when closed.
func (m *Manager) CloseDetail() {
	m.detail.op.Lock()
	defer m.detail.op.Unlock()
	m.closeSlot(&m.detail)
}

// CloseRoster tears down the roster subscription. It is a no-op when closed.
func (m *Manager) CloseRoster() {
	m.roster.op.Lock()
	defer m.roster.op.Unlock()
	m.closeSlot(&m.roster)
}

// CloseAll tears down both slots.
func (m *Manager) CloseAll() {
	m.CloseDetail()
	m.CloseRoster()
}

// State returns the current state of a slot.
func (m *Manager) State(kind Kind) State {
	s := m.slotFor(kind)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DetailTarget returns the writing id of the open or connecting detail slot.
func (m *Manager) DetailTarget() (int64, bool) {
	m.detail.mu.Lock()
	defer m.detail.mu.Unlock()
	if m.detail.state == StateClosed {
		return 0, false
	}
	return m.detail.target, true
}

func (m *Manager) slotFor(kind Kind) *slot {
	if kind == KindRoster {
		return &m.roster
	}
	return &m.detail
}

func (m *Manager) open(ctx context.Context, s *slot, ch Channel) error {
	s.op.Lock()
	defer s.op.Unlock()

	m.closeSlot(s)

	token, err := m.tokens.ValidToken()
	if err != nil {
		m.logger.Error("cannot open subscription without a usable token", "kind", s.kind, "err", err)
		return err
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = StateConnecting
	s.target = ch.WritingID
	s.mu.Unlock()

	sub, err := m.transport.Subscribe(ctx, token, ch, Handler{
		OnMessage: func(payload []byte) { m.deliver(s, gen, payload) },
		OnClose:   func(err error) { m.lost(s, gen, err) },
	})
	if err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.state = StateClosed
			s.target = 0
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateConnecting {
		s.mu.Unlock()
		_ = sub.Close()
		return errLostWhileConnecting
	}
	s.sub = sub
	s.state = StateOpen
	s.mu.Unlock()
	m.logger.Info("subscription open", "kind", s.kind, "writing_id", ch.WritingID)
	return nil
}

// closeSlot must be called with s.op held.
func (m *Manager) closeSlot(s *slot) {
	s.mu.Lock()
	sub := s.sub
	wasOpen := s.state != StateClosed
	s.sub = nil
	s.gen++
	s.state = StateClosed
	s.target = 0
	s.mu.Unlock()
	if sub != nil {
		if err := sub.Close(); err != nil {
			m.logger.Debug("subscription close error", "kind", s.kind, "err", err)
		}
	}
	if wasOpen {
		m.logger.Info("subscription closed", "kind", s.kind)
	}
}

func (m *Manager) deliver(s *slot, gen uint64, payload []byte) {
	p, err := store.ParsePatch(payload)
	if err != nil {
		m.logger.Warn("dropping undecodable push event", "kind", s.kind, "err", err)
		return
	}
	s.mu.Lock()
	target := s.target
	s.mu.Unlock()
	if s.kind == KindDetail && p.ID != target {
		m.logger.Debug("dropping detail event for another writing", "writing_id", p.ID, "target", target)
		return
	}
	// Re-checked under the cache lock.
	live := func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.gen == gen && s.state != StateClosed && (s.kind != KindDetail || s.target == p.ID)
	}
	_, created, applied := m.cache.UpsertIf(p, s.kind == KindRoster, live)
	if !applied {
		m.logger.Debug("dropping event from closed subscription", "kind", s.kind, "writing_id", p.ID)
		return
	}
	if created && s.kind == KindRoster {
		m.logger.Info("new writing announced on roster feed", "writing_id", p.ID)
	}
}

func (m *Manager) lost(s *slot, gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.state = StateClosed
	s.sub = nil
	s.target = 0
	s.mu.Unlock()
	m.logger.Warn("push connection lost; live updates stopped", "kind", s.kind, "err", err)
}
