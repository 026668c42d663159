package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/syncreel/backend/internal/models"
	"github.com/syncreel/backend/internal/repository"
)

type mockUsers struct {
	byEmail        map[string]*models.User
	codes          []string
	codeCollisions int
}

func newMockUsers() *mockUsers {
	return &mockUsers{byEmail: make(map[string]*models.User)}
}

func (m *mockUsers) Create(_ context.Context, u *models.User) error {
	m.codes = append(m.codes, u.InviteCode)
	if _, ok := m.byEmail[u.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	if m.codeCollisions > 0 {
		m.codeCollisions--
		return repository.ErrDuplicateInviteCode
	}
	cp := *u
	m.byEmail[u.Email] = &cp
	return nil
}

func (m *mockUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	u, ok := m.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type mockRewards struct {
	welcomes []uuid.UUID
	invites  []string
}

func (m *mockRewards) GrantWelcomeBonus(_ context.Context, userID uuid.UUID) error {
	m.welcomes = append(m.welcomes, userID)
	return nil
}

func (m *mockRewards) ProcessInviteReward(_ context.Context, code string, _ uuid.UUID) (int64, int64, error) {
	m.invites = append(m.invites, code)
	return 30, 10, nil
}

func TestRegister_GrantsWelcomeAndRedeemsInvite(t *testing.T) {
	users := newMockUsers()
	rewards := &mockRewards{}
	svc := NewService(users, rewards, "secret", nil)

	user, err := svc.Register(context.Background(), "New@Example.com", "password123", "abcd1234")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "new@example.com" {
		t.Errorf("email not normalized: %q", user.Email)
	}
	if len(user.InviteCode) != 8 {
		t.Errorf("invite code: got %q, want 8 hex chars", user.InviteCode)
	}
	if len(rewards.welcomes) != 1 || rewards.welcomes[0] != user.ID {
		t.Error("welcome bonus not granted")
	}
	if len(rewards.invites) != 1 || rewards.invites[0] != "abcd1234" {
		t.Error("invite code not redeemed")
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	users := newMockUsers()
	svc := NewService(users, &mockRewards{}, "secret", nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@example.com", "password123", ""); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := svc.Register(ctx, "a@example.com", "password123", ""); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got: %v", err)
	}
}

func TestRegister_InviteCodeCollisionRetried(t *testing.T) {
	users := newMockUsers()
	users.codeCollisions = 1
	svc := NewService(users, &mockRewards{}, "secret", nil)

	user, err := svc.Register(context.Background(), "a@example.com", "password123", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(users.codes) != 2 {
		t.Fatalf("insert attempts: got %d, want 2", len(users.codes))
	}
	if users.codes[0] == users.codes[1] {
		t.Error("collision retry must draw a fresh invite code")
	}
	if user.InviteCode != users.codes[1] {
		t.Error("user should carry the code that was stored")
	}
}

func TestRegister_InviteCodeCollisionsExhausted(t *testing.T) {
	users := newMockUsers()
	users.codeCollisions = 10
	svc := NewService(users, &mockRewards{}, "secret", nil)

	_, err := svc.Register(context.Background(), "a@example.com", "password123", "")
	if !errors.Is(err, repository.ErrDuplicateInviteCode) {
		t.Fatalf("expected ErrDuplicateInviteCode after exhausting retries, got: %v", err)
	}
	if len(users.codes) != inviteCodeAttempts {
		t.Errorf("insert attempts: got %d, want %d", len(users.codes), inviteCodeAttempts)
	}
}

func TestLogin_IssuesValidToken(t *testing.T) {
	users := newMockUsers()
	svc := NewService(users, &mockRewards{}, "secret", nil)
	ctx := context.Background()

	user, err := svc.Register(ctx, "a@example.com", "password123", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, err := svc.Login(ctx, "a@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	got, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if got != user.ID {
		t.Errorf("token subject: got %s, want %s", got, user.ID)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	users := newMockUsers()
	svc := NewService(users, &mockRewards{}, "secret", nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@example.com", "password123", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Login(ctx, "a@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got: %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got: %v", err)
	}
}
