package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/syncreel/backend/internal/models"
	"github.com/syncreel/backend/internal/repository"
)

// ErrDuplicateEmail is returned when registering with an email that already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrInvalidCredentials is returned on a bad email/password pair.
var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	tokenTTL = 24 * time.Hour

	// inviteCodeAttempts bounds the regeneration loop on invite code
	// collisions.
	inviteCodeAttempts = 3
)

// Users is the user persistence contract.
type Users interface {
	Create(ctx context.Context, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// Rewards hooks registration into the referral/welcome flows.
type Rewards interface {
	GrantWelcomeBonus(ctx context.Context, userID uuid.UUID) error
	ProcessInviteReward(ctx context.Context, inviteCode string, newUserID uuid.UUID) (int64, int64, error)
}

type Service interface {
	Register(ctx context.Context, email, password, inviteCode string) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

type service struct {
	users   Users
	rewards Rewards
	secret  []byte
	logger  *slog.Logger
}

func NewService(users Users, rewards Rewards, secret string, logger *slog.Logger) *service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{users: users, rewards: rewards, secret: []byte(secret), logger: logger}
}

var _ Service = (*service)(nil)

// Register creates the user with a fresh invite code, grants the welcome
// bonus, and redeems an invite code when one was supplied. Reward errors
// are soft: registration succeeds and the anomaly is logged.
func (s *service) Register(ctx context.Context, email, password, inviteCode string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		InviteCode:   repository.NewInviteCode(),
	}
	if err := s.createWithFreshCode(ctx, user); err != nil {
		return nil, err
	}

	if err := s.rewards.GrantWelcomeBonus(ctx, user.ID); err != nil {
		s.logger.Error("welcome bonus grant failed", "user_id", user.ID, "error", err)
	}
	if inviteCode != "" {
		if _, _, err := s.rewards.ProcessInviteReward(ctx, inviteCode, user.ID); err != nil {
			s.logger.Warn("invite reward not granted", "user_id", user.ID, "error", err)
		}
	}
	return user, nil
}

// createWithFreshCode inserts the user, regenerating the invite code when the
// random draw collides with an existing one.
func (s *service) createWithFreshCode(ctx context.Context, user *models.User) error {
	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		err := s.users.Create(ctx, user)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, repository.ErrDuplicateEmail):
			return ErrDuplicateEmail
		case errors.Is(err, repository.ErrDuplicateInviteCode):
			user.InviteCode = repository.NewInviteCode()
		default:
			return err
		}
	}
	return repository.ErrDuplicateInviteCode
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(user.ID)
}

func (s *service) issueToken(userID uuid.UUID) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	claims, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid {
		return uuid.Nil, errors.New("invalid token")
	}
	return uuid.Parse(claims.Subject)
}
