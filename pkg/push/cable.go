package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultDetailChannel = "WritingChannel"
	DefaultRosterChannel = "WritingsChannel"

	defaultHandshakeTimeout = 10 * time.Second
	closeWait               = 2 * time.Second
)

// ErrSubscriptionRejected is returned when the server answers a subscribe
// command with reject_subscription.
var ErrSubscriptionRejected = errors.New("subscription rejected")

// CableURL derives the cable endpoint from the HTTP API base URL by swapping
// the scheme and appending /cable.
func CableURL(apiBase string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(apiBase))
	if err != nil {
		return "", fmt.Errorf("parse api base: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported api base scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("api base %q has no host", apiBase)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/cable"
	u.RawQuery = ""
	return u.String(), nil
}

// CableConfig configures a CableTransport.
type CableConfig struct {
	URL              string
	DetailChannel    string
	RosterChannel    string
	HandshakeTimeout time.Duration
	Dialer           *websocket.Dialer
	Logger           *slog.Logger
}

// CableTransport speaks the ActionCable JSON protocol over a websocket. Each
// subscription owns its own connection.
type CableTransport struct {
	url     *url.URL
	detail  string
	roster  string
	timeout time.Duration
	dialer  *websocket.Dialer
	logger  *slog.Logger
}

// NewCableTransport validates cfg and returns a transport.
func NewCableTransport(cfg CableConfig) (*CableTransport, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("parse cable url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("cable url must use ws or wss, got %q", u.Scheme)
	}
	t := &CableTransport{
		url:     u,
		detail:  cfg.DetailChannel,
		roster:  cfg.RosterChannel,
		timeout: cfg.HandshakeTimeout,
		dialer:  cfg.Dialer,
		logger:  cfg.Logger,
	}
	if t.detail == "" {
		t.detail = DefaultDetailChannel
	}
	if t.roster == "" {
		t.roster = DefaultRosterChannel
	}
	if t.timeout <= 0 {
		t.timeout = defaultHandshakeTimeout
	}
	if t.dialer == nil {
		t.dialer = websocket.DefaultDialer
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t, nil
}

type cableFrame struct {
	Type       string          `json:"type,omitempty"`
	Identifier string          `json:"identifier,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

type cableCommand struct {
	Command    string `json:"command"`
	Identifier string `json:"identifier"`
}

type cableIdentifier struct {
	Channel   string `json:"channel"`
	WritingID int64  `json:"writing_id,omitempty"`
}

func (t *CableTransport) identifier(ch Channel) (string, error) {
	id := cableIdentifier{Channel: t.roster}
	if ch.Kind == KindDetail {
		if ch.WritingID <= 0 {
			return "", fmt.Errorf("invalid writing id %d", ch.WritingID)
		}
		id = cableIdentifier{Channel: t.detail, WritingID: ch.WritingID}
	}
	raw, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Subscribe dials the cable endpoint, waits for the welcome frame, sends the
// subscribe command and waits for its confirmation.
func (t *CableTransport) Subscribe(ctx context.Context, token string, ch Channel, h Handler) (Subscription, error) {
	identifier, err := t.identifier(ch)
	if err != nil {
		return nil, err
	}
	u := *t.url
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	conn, _, err := t.dialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial cable: %w", err)
	}

	subID := uuid.NewString()
	sub := &cableSubscription{
		id:         subID,
		conn:       conn,
		identifier: identifier,
		done:       make(chan struct{}),
		logger:     t.logger.With("subscription_id", subID, "channel", identifier),
	}

	if err := sub.handshake(time.Now().Add(t.timeout)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	go sub.readLoop(h)
	return sub, nil
}

type cableSubscription struct {
	id         string
	conn       *websocket.Conn
	identifier string
	logger     *slog.Logger

	writeMu sync.Mutex
	closing atomic.Bool
	once    sync.Once
	done    chan struct{}
}

func (s *cableSubscription) handshake(deadline time.Time) error {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	if err := s.await(func(f cableFrame) (bool, error) {
		return f.Type == "welcome", nil
	}); err != nil {
		return fmt.Errorf("await welcome: %w", err)
	}
	if err := s.send("subscribe"); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	if err := s.await(func(f cableFrame) (bool, error) {
		if f.Identifier != s.identifier {
			return false, nil
		}
		switch f.Type {
		case "confirm_subscription":
			return true, nil
		case "reject_subscription":
			return false, ErrSubscriptionRejected
		}
		return false, nil
	}); err != nil {
		return fmt.Errorf("await confirmation: %w", err)
	}
	return s.conn.SetReadDeadline(time.Time{})
}

func (s *cableSubscription) await(match func(cableFrame) (bool, error)) error {
	for {
		var f cableFrame
		if err := s.conn.ReadJSON(&f); err != nil {
			return err
		}
		if f.Type == "disconnect" {
			return fmt.Errorf("server disconnected: %s", f.Reason)
		}
		ok, err := match(f)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

func (s *cableSubscription) send(command string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(closeWait))
	return s.conn.WriteJSON(cableCommand{Command: command, Identifier: s.identifier})
}

func (s *cableSubscription) readLoop(h Handler) {
	defer close(s.done)
	for {
		var f cableFrame
		err := s.conn.ReadJSON(&f)
		if err == nil && f.Type == "disconnect" {
			err = fmt.Errorf("server disconnected: %s", f.Reason)
		}
		if err != nil {
			if !s.closing.Load() && h.OnClose != nil {
				h.OnClose(err)
			}
			return
		}
		if f.Type != "" || f.Identifier != s.identifier || len(f.Message) == 0 {
			continue
		}
		if h.OnMessage != nil {
			h.OnMessage(f.Message)
		}
	}
}

// Close unsubscribes and closes the socket. Later calls are no-ops.
func (s *cableSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.closing.Store(true)
		if sendErr := s.send("unsubscribe"); sendErr != nil {
			s.logger.Debug("unsubscribe failed", "err", sendErr)
		}
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait))
		s.writeMu.Unlock()
		err = s.conn.Close()
		select {
		case <-s.done:
		case <-time.After(closeWait):
			s.logger.Warn("cable reader did not exit in time")
		}
	})
	return err
}
