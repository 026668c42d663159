package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syncreel/backend/internal/models"
	"github.com/syncreel/backend/internal/repository"
)

// Reward amounts in credits.
const (
	InviterReward = 30
	InviteeBonus  = 10
	ShareReward   = 5
	WelcomeBonus  = 20
)

// welcomeExpiry is how long welcome-bonus credits stay usable.
const welcomeExpiry = 30 * 24 * time.Hour

// AllowedPlatforms is the share-reward allow-list.
var AllowedPlatforms = map[string]bool{
	"twitter":   true,
	"facebook":  true,
	"tiktok":    true,
	"instagram": true,
	"youtube":   true,
}

var (
	// ErrSelfInvite is returned when a user redeems their own invite code.
	ErrSelfInvite = errors.New("cannot redeem your own invite code")
	// ErrAlreadyInvited is returned when the user already has an inviter.
	ErrAlreadyInvited = errors.New("user was already invited")
	// ErrAlreadyClaimed is returned on a repeat share claim for a platform.
	ErrAlreadyClaimed = errors.New("share reward already claimed")
	// ErrUnknownPlatform is returned for platforms outside the allow-list.
	ErrUnknownPlatform = errors.New("unknown share platform")
	// ErrUnknownCode is returned when no user owns the invite code.
	ErrUnknownCode = errors.New("unknown invite code")
)

// Users is the user lookup/update contract the reward flows need.
type Users interface {
	GetByInviteCode(ctx context.Context, code string) (*models.User, error)
	SetInvitedBy(ctx context.Context, userID, inviterID uuid.UUID) (bool, error)
}

// Shares persists share claims durably so correctness survives restarts.
type Shares interface {
	CreateClaim(ctx context.Context, userID uuid.UUID, platform string) error
}

// Ledger is the idempotent credit-granting primitive the rewards reuse.
type Ledger interface {
	Grant(ctx context.Context, userID uuid.UUID, amount int64, kind, key string, expiresAt *time.Time) (*models.CreditTransaction, error)
}

// Service wraps the ledger with the invite and share reward flows. Each
// flow derives its own idempotency keys so repeats are no-ops.
type Service struct {
	users  Users
	shares Shares
	ledger Ledger
	logger *slog.Logger
}

func NewService(users Users, shares Shares, creditLedger Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, shares: shares, ledger: creditLedger, logger: logger}
}

// ProcessInviteReward resolves the inviter from the code and grants the
// inviter reward plus the invitee bonus. Self-invites and second invites
// are rejected without granting credits.
func (s *Service) ProcessInviteReward(ctx context.Context, inviteCode string, newUserID uuid.UUID) (inviterReward, inviteeBonus int64, err error) {
	inviter, err := s.users.GetByInviteCode(ctx, strings.TrimSpace(inviteCode))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, 0, ErrUnknownCode
		}
		return 0, 0, fmt.Errorf("resolve invite code: %w", err)
	}
	if inviter.ID == newUserID {
		return 0, 0, ErrSelfInvite
	}

	claimed, err := s.users.SetInvitedBy(ctx, newUserID, inviter.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("record inviter: %w", err)
	}
	if !claimed {
		return 0, 0, ErrAlreadyInvited
	}

	if _, err := s.ledger.Grant(ctx, inviter.ID, InviterReward, models.CreditKindInviteReward, "invite:"+newUserID.String(), nil); err != nil {
		return 0, 0, fmt.Errorf("grant inviter reward: %w", err)
	}
	if _, err := s.ledger.Grant(ctx, newUserID, InviteeBonus, models.CreditKindInviteReward, "invited:"+newUserID.String(), nil); err != nil {
		return 0, 0, fmt.Errorf("grant invitee bonus: %w", err)
	}
	return InviterReward, InviteeBonus, nil
}

// ClaimShareReward grants the share reward once per (user, platform) pair.
func (s *Service) ClaimShareReward(ctx context.Context, userID uuid.UUID, platform string) (int64, error) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	if !AllowedPlatforms[platform] {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
	if err := s.shares.CreateClaim(ctx, userID, platform); err != nil {
		if errors.Is(err, repository.ErrDuplicateClaim) {
			return 0, ErrAlreadyClaimed
		}
		return 0, fmt.Errorf("record share claim: %w", err)
	}
	key := "share:" + userID.String() + ":" + platform
	if _, err := s.ledger.Grant(ctx, userID, ShareReward, models.CreditKindShareReward, key, nil); err != nil {
		return 0, fmt.Errorf("grant share reward: %w", err)
	}
	return ShareReward, nil
}

// GrantWelcomeBonus gives a new user expiring starter credits. Idempotent
// per user.
func (s *Service) GrantWelcomeBonus(ctx context.Context, userID uuid.UUID) error {
	expiry := time.Now().Add(welcomeExpiry)
	_, err := s.ledger.Grant(ctx, userID, WelcomeBonus, models.CreditKindWelcomeBonus, "welcome:"+userID.String(), &expiry)
	if err != nil {
		return fmt.Errorf("grant welcome bonus: %w", err)
	}
	return nil
}
