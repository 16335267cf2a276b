package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"

	"github.com/vovakirdan/voicechat/internal/proto"
)

// ErrNoSession is returned when an operation needs a logged-in session.
var ErrNoSession = errors.New("not logged in")

// Session is the authenticated identity of the local viewer.
// It is created on login and torn down on logout; components receive it explicitly.
type Session struct {
	mu    sync.RWMutex
	token string
	user  proto.User
}

// New builds a session from a login response.
func New(tok proto.Token) *Session {
	s := &Session{token: tok.AccessToken, user: tok.User}
	if s.user.ID == "" {
		s.user.ID = viewerFromToken(tok.AccessToken)
	}
	return s
}

// Token returns the bearer token or an empty string after logout.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// UserID returns the viewer id.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.ID
}

// User returns a copy of the viewer profile.
func (s *Session) User() proto.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Valid reports whether the session still carries a token.
func (s *Session) Valid() bool {
	return s.Token() != ""
}

// Clear drops credentials. Further requests made with this session fail with ErrNoSession.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.user = proto.User{}
}

type claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// viewerFromToken reads the user id claim without verifying the signature.
// The server is the authority on validity; the client only needs its own id.
func viewerFromToken(token string) string {
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return ""
	}
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

type fileRecord struct {
	AccessToken string     `yaml:"access_token"`
	User        proto.User `yaml:"user"`
}

// Save persists the session for later CLI invocations.
func (s *Session) Save(path string) error {
	s.mu.RLock()
	rec := fileRecord{AccessToken: s.token, User: s.user}
	s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Load restores a session saved with Save.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	var rec fileRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	if rec.AccessToken == "" {
		return nil, ErrNoSession
	}
	return New(proto.Token{AccessToken: rec.AccessToken, TokenType: "bearer", User: rec.User}), nil
}

// Remove deletes the session file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
