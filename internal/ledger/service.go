package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/syncreel/backend/internal/models"
)

// ErrInsufficientFunds is returned when the user's non-expired balance is
// below the requested reservation amount.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrInvalidAmount is returned for non-positive reserve/grant amounts.
var ErrInvalidAmount = errors.New("amount must be positive")

// ErrDuplicateKey is returned by stores when an insert hits the
// (user_id, kind, idempotency_key) uniqueness constraint.
var ErrDuplicateKey = errors.New("idempotency key already used")

// TransactionStore is the minimal transaction persistence interface the
// service needs. Inserts must rely on a storage-level uniqueness constraint,
// never a check-then-insert.
type TransactionStore interface {
	InsertTx(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error
	Insert(ctx context.Context, t *models.CreditTransaction) error
	GetByKey(ctx context.Context, userID uuid.UUID, kind, key string) (*models.CreditTransaction, error)
	LockBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error
	SumActiveTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error)
	SumActive(ctx context.Context, userID uuid.UUID) (int64, error)
	BreakdownActive(ctx context.Context, userID uuid.UUID) (free, purchased int64, err error)
	ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error)
}

// ReservationStore persists the per-task escrow row whose status column
// gates finalize/release to at most once.
type ReservationStore interface {
	InsertReservationTx(ctx context.Context, tx pgx.Tx, r *models.CreditReservation) error
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (*models.CreditReservation, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, status string) error
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service is the credit ledger: an append-only transaction log with derived
// balances and escrow primitives keyed by task id.
type Service struct {
	pool         TxBeginner
	transactions TransactionStore
	reservations ReservationStore
}

func NewService(pool TxBeginner, transactions TransactionStore, reservations ReservationStore) *Service {
	return &Service{pool: pool, transactions: transactions, reservations: reservations}
}

func reserveKey(taskID uuid.UUID) string { return "task:" + taskID.String() + ":reserve" }
func refundKey(taskID uuid.UUID) string  { return "task:" + taskID.String() + ":refund" }
func releaseKey(taskID uuid.UUID) string { return "task:" + taskID.String() + ":release" }

// Reserve escrows amount credits for a task inside the caller's transaction.
// It locks the user's balance, verifies sufficient non-expired funds, and
// appends a negative generation_charge transaction plus a reservation row.
// A repeated call with the same task id returns the existing transaction
// unchanged.
func (s *Service) Reserve(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, amount int64) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.transactions.LockBalance(ctx, tx, userID); err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	balance, err := s.transactions.SumActiveTx(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("sum balance: %w", err)
	}
	if balance < amount {
		return nil, ErrInsufficientFunds
	}

	key := reserveKey(taskID)
	t := &models.CreditTransaction{
		ID:             uuid.New(),
		UserID:         userID,
		Amount:         -amount,
		Kind:           models.CreditKindGenerationCharge,
		IdempotencyKey: &key,
	}
	if err := s.transactions.InsertTx(ctx, tx, t); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return s.transactions.GetByKey(ctx, userID, models.CreditKindGenerationCharge, key)
		}
		return nil, fmt.Errorf("insert reservation tx: %w", err)
	}
	res := &models.CreditReservation{
		TaskID:   taskID,
		UserID:   userID,
		Amount:   amount,
		Status:   models.ReservationStatusReserved,
		HoldTxID: t.ID,
	}
	if err := s.reservations.InsertReservationTx(ctx, tx, res); err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	return t, nil
}

// FinalizeCharge converts the task's reservation into a definitive charge.
// When finalAmount is below the reserved amount the difference is refunded.
// No-op when the reservation was already charged or released.
func (s *Service) FinalizeCharge(ctx context.Context, taskID uuid.UUID, finalAmount int64) (int64, error) {
	if finalAmount < 0 {
		return 0, ErrInvalidAmount
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin finalize tx: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := s.reservations.GetForUpdateTx(ctx, tx, taskID)
	if err != nil {
		return 0, fmt.Errorf("get reservation: %w", err)
	}
	if res.Status != models.ReservationStatusReserved {
		return 0, nil
	}
	if finalAmount > res.Amount {
		finalAmount = res.Amount
	}
	if err := s.reservations.UpdateStatusTx(ctx, tx, taskID, models.ReservationStatusCharged); err != nil {
		return 0, fmt.Errorf("mark charged: %w", err)
	}
	if diff := res.Amount - finalAmount; diff > 0 {
		key := refundKey(taskID)
		refund := &models.CreditTransaction{
			ID:             uuid.New(),
			UserID:         res.UserID,
			Amount:         diff,
			Kind:           models.CreditKindGenerationRefund,
			IdempotencyKey: &key,
		}
		if err := s.transactions.InsertTx(ctx, tx, refund); err != nil && !errors.Is(err, ErrDuplicateKey) {
			return 0, fmt.Errorf("insert refund: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit finalize tx: %w", err)
	}
	return finalAmount, nil
}

// Release refunds the full reserved amount on the failure/cancel path.
// No-op when the reservation was already charged or released.
func (s *Service) Release(ctx context.Context, taskID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := s.reservations.GetForUpdateTx(ctx, tx, taskID)
	if err != nil {
		return fmt.Errorf("get reservation: %w", err)
	}
	if res.Status != models.ReservationStatusReserved {
		return nil
	}
	if err := s.reservations.UpdateStatusTx(ctx, tx, taskID, models.ReservationStatusReleased); err != nil {
		return fmt.Errorf("mark released: %w", err)
	}
	key := releaseKey(taskID)
	refund := &models.CreditTransaction{
		ID:             uuid.New(),
		UserID:         res.UserID,
		Amount:         res.Amount,
		Kind:           models.CreditKindGenerationRefund,
		IdempotencyKey: &key,
	}
	if err := s.transactions.InsertTx(ctx, tx, refund); err != nil && !errors.Is(err, ErrDuplicateKey) {
		return fmt.Errorf("insert release refund: %w", err)
	}
	return tx.Commit(ctx)
}

// Grant appends a positive transaction (system adds, rewards, purchases).
// Repeated calls with the same key return the existing transaction.
func (s *Service) Grant(ctx context.Context, userID uuid.UUID, amount int64, kind, key string, expiresAt *time.Time) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	t := &models.CreditTransaction{
		ID:             uuid.New(),
		UserID:         userID,
		Amount:         amount,
		Kind:           kind,
		IdempotencyKey: &key,
		ExpiresAt:      expiresAt,
	}
	if err := s.transactions.Insert(ctx, t); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return s.transactions.GetByKey(ctx, userID, kind, key)
		}
		return nil, fmt.Errorf("insert grant: %w", err)
	}
	return t, nil
}

// Balance returns the sum of non-expired transaction amounts.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.transactions.SumActive(ctx, userID)
}

// Breakdown returns the balance split into free (grants, rewards, charges)
// and purchased credits. Display only, not load-bearing for correctness.
func (s *Service) Breakdown(ctx context.Context, userID uuid.UUID) (free, purchased int64, err error) {
	return s.transactions.BreakdownActive(ctx, userID)
}

// ListTransactions returns the user's ledger entries, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.transactions.ListByUserID(ctx, userID, limit, offset)
}
