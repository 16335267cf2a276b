package push

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// TokenSource yields the bearer token for new subscriptions.
type TokenSource interface {
	Token() string
}

// Manager owns at most one conversation channel at a time plus an optional inbox channel.
type Manager struct {
	baseURL string
	backoff Backoff
	tokens  TokenSource
	logger  zerolog.Logger

	mu     sync.Mutex
	active *Channel
	inbox  *Channel
}

// NewManager creates a manager dialing the collaborator at baseURL (http or ws scheme).
func NewManager(baseURL string, backoff Backoff, tokens TokenSource, logger *zerolog.Logger) *Manager {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "push").Logger()
	}
	return &Manager{baseURL: baseURL, backoff: backoff, tokens: tokens, logger: l}
}

// Connect subscribes to one conversation. The previous conversation channel is closed
// before the new one dials, so two are never open at once.
func (m *Manager) Connect(ctx context.Context, roomID, token string) (*Channel, error) {
	if roomID == "" {
		return nil, fmt.Errorf("connect: empty conversation id")
	}
	u, err := m.endpoint("/ws/rooms/"+roomID, token)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		_ = m.active.Close()
		m.active = nil
	}
	m.active = newChannel(ctx, u, roomID, m.backoff, m.logger)
	return m.active, nil
}

// Subscribe connects to roomID with the manager's token source.
func (m *Manager) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	ch, err := m.Connect(ctx, roomID, m.token())
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// ConnectInbox subscribes to new messages across all of the user's conversations.
// The inbox lives across conversation switches; calling it again replaces the previous one.
func (m *Manager) ConnectInbox(ctx context.Context, token string) (*Channel, error) {
	u, err := m.endpoint("/ws/inbox", token)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inbox != nil {
		_ = m.inbox.Close()
	}
	m.inbox = newChannel(ctx, u, "", m.backoff, m.logger)
	return m.inbox, nil
}

// Active returns the current conversation channel, nil when none is open.
func (m *Manager) Active() *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Disconnect closes the conversation channel, leaving the inbox open.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		_ = m.active.Close()
		m.active = nil
	}
}

// Close tears down every channel.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		_ = m.active.Close()
		m.active = nil
	}
	if m.inbox != nil {
		_ = m.inbox.Close()
		m.inbox = nil
	}
}

func (m *Manager) token() string {
	if m.tokens == nil {
		return ""
	}
	return m.tokens.Token()
}

func (m *Manager) endpoint(path, token string) (string, error) {
	u, err := url.Parse(m.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
