package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/voicechat/internal/store/sqlite"
)

func newTestAuthService(t *testing.T) *Service {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jwtConfig := &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return NewService(st, jwtConfig)
}

func TestRegister_RejectsInvalidInput(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	tests := []struct {
		name                      string
		username, email, password string
		want                      error
	}{
		{"short username", "ab", "ab@example.com", "password123", ErrInvalidUsername},
		{"short after trim", " ab ", "ab@example.com", "password123", ErrInvalidUsername},
		{"bad email", "alice", "not-an-email", "password123", ErrInvalidEmail},
		{"display name email", "alice", "Alice <alice@example.com>", "password123", ErrInvalidEmail},
		{"short password", "alice", "alice@example.com", "12345", ErrInvalidPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := svc.Register(ctx, tt.username, tt.email, tt.password); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRegister_CreatesUserAndRejectsDuplicates(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	token, user, err := svc.Register(ctx, " alice ", "Alice@Example.com", "password123")
	if err != nil {
		t.Fatalf("expected registration success, got %v", err)
	}
	if token == "" || user.ID == "" {
		t.Fatalf("expected token and user id")
	}
	if user.Username != "alice" || user.Email != "alice@example.com" {
		t.Fatalf("expected normalized user, got %+v", user)
	}

	if _, _, err := svc.Register(ctx, "alice", "other@example.com", "password123"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists for username, got %v", err)
	}
	if _, _, err := svc.Register(ctx, "alice2", "alice@example.com", "password123"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists for email, got %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("expected token to validate, got %v", err)
	}
	if claims.UserID != user.ID || claims.Subject != user.ID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLogin(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "bob", "bob@example.com", "password123"); err != nil {
		t.Fatalf("register: %v", err)
	}

	token, user, err := svc.Login(ctx, "bob@example.com", "password123")
	if err != nil || token == "" || user.Username != "bob" {
		t.Fatalf("expected login success, got %v", err)
	}

	if _, _, err := svc.Login(ctx, "bob@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateToken_RejectsForeignTokens(t *testing.T) {
	cfg := &JWTConfig{Secret: []byte("a"), Issuer: "voicechat", Audience: "voicechat", TTL: time.Hour}
	token, err := GenerateToken(cfg, "u1", "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	other := *cfg
	other.Secret = []byte("b")
	if _, err := ValidateToken(&other, token); err == nil {
		t.Fatalf("expected signature mismatch")
	}

	aud := *cfg
	aud.Audience = "elsewhere"
	if _, err := ValidateToken(&aud, token); err == nil {
		t.Fatalf("expected audience mismatch")
	}

	expired := *cfg
	expired.TTL = -time.Minute
	old, _ := GenerateToken(&expired, "u1", "alice")
	if _, err := ValidateToken(cfg, old); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}
