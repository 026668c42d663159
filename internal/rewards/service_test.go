package rewards

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/syncreel/backend/internal/models"
	"github.com/syncreel/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// In-memory mocks
// ---------------------------------------------------------------------------

type mockUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
}

func newMockUsers(users ...*models.User) *mockUsers {
	m := &mockUsers{users: make(map[uuid.UUID]*models.User)}
	for _, u := range users {
		cp := *u
		m.users[u.ID] = &cp
	}
	return m
}

func (m *mockUsers) GetByInviteCode(_ context.Context, code string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.InviteCode == code {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockUsers) SetInvitedBy(_ context.Context, userID, inviterID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if u.InvitedBy != nil {
		return false, nil
	}
	u.InvitedBy = &inviterID
	return true, nil
}

type claimKey struct {
	user     uuid.UUID
	platform string
}

type mockShares struct {
	mu     sync.Mutex
	claims map[claimKey]bool
}

func newMockShares() *mockShares { return &mockShares{claims: make(map[claimKey]bool)} }

func (m *mockShares) CreateClaim(_ context.Context, userID uuid.UUID, platform string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := claimKey{userID, platform}
	if m.claims[k] {
		return repository.ErrDuplicateClaim
	}
	m.claims[k] = true
	return nil
}

type grant struct {
	userID    uuid.UUID
	amount    int64
	kind      string
	key       string
	expiresAt *time.Time
}

type mockGrantLedger struct {
	mu     sync.Mutex
	grants []grant
}

func (m *mockGrantLedger) Grant(_ context.Context, userID uuid.UUID, amount int64, kind, key string, expiresAt *time.Time) (*models.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.grants {
		if g.userID == userID && g.kind == kind && g.key == key {
			return &models.CreditTransaction{UserID: userID, Amount: g.amount, Kind: kind}, nil
		}
	}
	m.grants = append(m.grants, grant{userID, amount, kind, key, expiresAt})
	return &models.CreditTransaction{ID: uuid.New(), UserID: userID, Amount: amount, Kind: kind}, nil
}

func (m *mockGrantLedger) grantsFor(userID uuid.UUID) []grant {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []grant
	for _, g := range m.grants {
		if g.userID == userID {
			out = append(out, g)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Invite rewards
// ---------------------------------------------------------------------------

func TestProcessInviteReward(t *testing.T) {
	inviter := &models.User{ID: uuid.New(), InviteCode: "ABCD1234"}
	invitee := &models.User{ID: uuid.New(), InviteCode: "FEED5678"}
	users := newMockUsers(inviter, invitee)
	creditLedger := &mockGrantLedger{}
	svc := NewService(users, newMockShares(), creditLedger, nil)

	got, bonus, err := svc.ProcessInviteReward(context.Background(), "ABCD1234", invitee.ID)
	if err != nil {
		t.Fatalf("ProcessInviteReward: %v", err)
	}
	if got != InviterReward || bonus != InviteeBonus {
		t.Errorf("rewards: got (%d, %d), want (%d, %d)", got, bonus, InviterReward, InviteeBonus)
	}

	inviterGrants := creditLedger.grantsFor(inviter.ID)
	if len(inviterGrants) != 1 || inviterGrants[0].amount != InviterReward {
		t.Errorf("inviter grants: got %v", inviterGrants)
	}
	inviteeGrants := creditLedger.grantsFor(invitee.ID)
	if len(inviteeGrants) != 1 || inviteeGrants[0].amount != InviteeBonus {
		t.Errorf("invitee grants: got %v", inviteeGrants)
	}
}

func TestProcessInviteReward_SelfInvite(t *testing.T) {
	me := &models.User{ID: uuid.New(), InviteCode: "MINE0001"}
	creditLedger := &mockGrantLedger{}
	svc := NewService(newMockUsers(me), newMockShares(), creditLedger, nil)

	_, _, err := svc.ProcessInviteReward(context.Background(), "MINE0001", me.ID)
	if !errors.Is(err, ErrSelfInvite) {
		t.Fatalf("expected ErrSelfInvite, got: %v", err)
	}
	if len(creditLedger.grants) != 0 {
		t.Error("self-invite must not grant credits")
	}
}

func TestProcessInviteReward_SecondInviteRejected(t *testing.T) {
	first := &models.User{ID: uuid.New(), InviteCode: "AAAA0001"}
	second := &models.User{ID: uuid.New(), InviteCode: "BBBB0002"}
	invitee := &models.User{ID: uuid.New(), InviteCode: "CCCC0003"}
	users := newMockUsers(first, second, invitee)
	creditLedger := &mockGrantLedger{}
	svc := NewService(users, newMockShares(), creditLedger, nil)
	ctx := context.Background()

	if _, _, err := svc.ProcessInviteReward(ctx, "AAAA0001", invitee.ID); err != nil {
		t.Fatalf("first invite: %v", err)
	}
	if _, _, err := svc.ProcessInviteReward(ctx, "BBBB0002", invitee.ID); !errors.Is(err, ErrAlreadyInvited) {
		t.Fatalf("expected ErrAlreadyInvited, got: %v", err)
	}
	if grants := creditLedger.grantsFor(second.ID); len(grants) != 0 {
		t.Error("second inviter must not be rewarded")
	}
	// Retrying the same code doesn't double-grant either.
	if _, _, err := svc.ProcessInviteReward(ctx, "AAAA0001", invitee.ID); !errors.Is(err, ErrAlreadyInvited) {
		t.Fatalf("expected ErrAlreadyInvited on repeat, got: %v", err)
	}
	if grants := creditLedger.grantsFor(first.ID); len(grants) != 1 {
		t.Errorf("inviter grants: got %d, want 1", len(grants))
	}
}

func TestProcessInviteReward_UnknownCode(t *testing.T) {
	svc := NewService(newMockUsers(), newMockShares(), &mockGrantLedger{}, nil)
	_, _, err := svc.ProcessInviteReward(context.Background(), "NOPE", uuid.New())
	if !errors.Is(err, ErrUnknownCode) {
		t.Fatalf("expected ErrUnknownCode, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Share rewards
// ---------------------------------------------------------------------------

func TestClaimShareReward(t *testing.T) {
	user := uuid.New()
	creditLedger := &mockGrantLedger{}
	svc := NewService(newMockUsers(), newMockShares(), creditLedger, nil)
	ctx := context.Background()

	amount, err := svc.ClaimShareReward(ctx, user, "Twitter")
	if err != nil {
		t.Fatalf("ClaimShareReward: %v", err)
	}
	if amount != ShareReward {
		t.Errorf("amount: got %d, want %d", amount, ShareReward)
	}

	// Same platform again: rejected, no extra grant.
	if _, err := svc.ClaimShareReward(ctx, user, "twitter"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got: %v", err)
	}
	if grants := creditLedger.grantsFor(user); len(grants) != 1 {
		t.Errorf("grants: got %d, want 1", len(grants))
	}

	// A different platform is a fresh claim.
	if _, err := svc.ClaimShareReward(ctx, user, "tiktok"); err != nil {
		t.Fatalf("tiktok claim: %v", err)
	}
	if grants := creditLedger.grantsFor(user); len(grants) != 2 {
		t.Errorf("grants: got %d, want 2", len(grants))
	}
}

func TestClaimShareReward_UnknownPlatform(t *testing.T) {
	svc := NewService(newMockUsers(), newMockShares(), &mockGrantLedger{}, nil)
	_, err := svc.ClaimShareReward(context.Background(), uuid.New(), "myspace")
	if !errors.Is(err, ErrUnknownPlatform) {
		t.Fatalf("expected ErrUnknownPlatform, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Welcome bonus
// ---------------------------------------------------------------------------

func TestGrantWelcomeBonus(t *testing.T) {
	user := uuid.New()
	creditLedger := &mockGrantLedger{}
	svc := NewService(newMockUsers(), newMockShares(), creditLedger, nil)
	ctx := context.Background()

	if err := svc.GrantWelcomeBonus(ctx, user); err != nil {
		t.Fatalf("GrantWelcomeBonus: %v", err)
	}
	if err := svc.GrantWelcomeBonus(ctx, user); err != nil {
		t.Fatalf("repeat GrantWelcomeBonus: %v", err)
	}
	grants := creditLedger.grantsFor(user)
	if len(grants) != 1 {
		t.Fatalf("grants: got %d, want 1", len(grants))
	}
	if grants[0].amount != WelcomeBonus {
		t.Errorf("amount: got %d, want %d", grants[0].amount, WelcomeBonus)
	}
	if grants[0].expiresAt == nil || !grants[0].expiresAt.After(time.Now()) {
		t.Error("welcome bonus should carry a future expiry")
	}
}
