package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Repository defines the interface for ledger data access.
//
// WithUserLock is the concurrency guard: fn runs inside a database
// transaction that holds an exclusive per-user advisory lock, so no two
// ledger mutations for the same user can interleave. The lock is released
// on every exit path because it is transaction-scoped.
type Repository interface {
	WithUserLock(ctx context.Context, userID uuid.UUID, fn func(Repository) error) error

	// Account operations
	GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error)
	CreateAccount(ctx context.Context, account *Account) error
	SaveAccount(ctx context.Context, account *Account) error

	// Transaction operations
	GetTransactionBySessionID(ctx context.Context, sessionID string) (*Transaction, error)
	GetTransactionByPaymentRef(ctx context.Context, sessionID, paymentIntentID string) (*Transaction, error)
	CreateTransaction(ctx context.Context, txn *Transaction) error
	SaveTransaction(ctx context.Context, txn *Transaction) error
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*Transaction, error)

	// Usage operations
	CreateUsageEntry(ctx context.Context, entry *UsageEntry) error
	ListUsageEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*UsageEntry, error)
}

type repository struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

// NewRepository creates a new ledger repository.
func NewRepository(db *gorm.DB, lockTimeout time.Duration) Repository {
	return &repository{db: db, lockTimeout: lockTimeout}
}

// WithUserLock runs fn inside a transaction holding the user's advisory
// lock. pg_advisory_xact_lock serializes on a hash of the user id, so all
// mutations to one user's account are totally ordered while different users
// proceed in parallel. A bounded lock_timeout makes a contended lock fail
// closed as ErrLockTimeout instead of queueing forever.
func (r *repository) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(Repository) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.lockTimeout > 0 {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("set lock timeout: %w", err)
			}
		}
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "credits:"+userID.String()).Error; err != nil {
			return fmt.Errorf("acquire user lock: %w", err)
		}
		return fn(&repository{db: tx, lockTimeout: r.lockTimeout})
	})
	if isLockNotAvailable(err) {
		return ErrLockTimeout
	}
	return err
}

// isLockNotAvailable reports whether err is Postgres SQLSTATE 55P03
// (lock_not_available), raised when lock_timeout expires.
func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}

// --- Account Operations ---

func (r *repository) GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error) {
	var account Account
	err := r.db.WithContext(ctx).First(&account, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &account, nil
}

func (r *repository) CreateAccount(ctx context.Context, account *Account) error {
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (r *repository) SaveAccount(ctx context.Context, account *Account) error {
	if err := r.db.WithContext(ctx).Save(account).Error; err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

// --- Transaction Operations ---

func (r *repository) GetTransactionBySessionID(ctx context.Context, sessionID string) (*Transaction, error) {
	var txn Transaction
	err := r.db.WithContext(ctx).First(&txn, "session_id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction by session id: %w", err)
	}
	return &txn, nil
}

func (r *repository) GetTransactionByPaymentRef(ctx context.Context, sessionID, paymentIntentID string) (*Transaction, error) {
	if sessionID != "" {
		txn, err := r.GetTransactionBySessionID(ctx, sessionID)
		if err == nil || !errors.Is(err, ErrTransactionNotFound) {
			return txn, err
		}
	}
	if paymentIntentID == "" {
		return nil, ErrTransactionNotFound
	}

	var txn Transaction
	err := r.db.WithContext(ctx).First(&txn, "payment_intent_id = ?", paymentIntentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction by payment intent id: %w", err)
	}
	return &txn, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *Transaction) error {
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		// Callers distinguish gorm.ErrDuplicatedKey for the idempotent
		// insert fallback, keep the chain intact.
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (r *repository) SaveTransaction(ctx context.Context, txn *Transaction) error {
	if err := r.db.WithContext(ctx).Save(txn).Error; err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	return nil
}

func (r *repository) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*Transaction, error) {
	var txns []*Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

// --- Usage Operations ---

func (r *repository) CreateUsageEntry(ctx context.Context, entry *UsageEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("create usage entry: %w", err)
	}
	return nil
}

func (r *repository) ListUsageEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*UsageEntry, error) {
	var entries []*UsageEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list usage entries: %w", err)
	}
	return entries, nil
}
