package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nevisai/server/internal/shared/config"
	"github.com/nevisai/server/internal/shared/metrics"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Service is the credit ledger. All writes to one user's balance run under
// that user's ledger lock, so reconciliation, debits and refund adjustments
// are totally ordered per user.
type Service interface {
	// ProcessPayment applies one payment notification to the ledger. It is
	// idempotent on the session id: redelivery of an already applied payment
	// returns the original result with WasDuplicate set and changes nothing.
	ProcessPayment(ctx context.Context, req *ProcessPaymentRequest) (*PaymentResult, error)

	// Consume debits the account for one feature call. Insufficient credits
	// is reported as Allowed=false, not as an error, and deducts nothing.
	Consume(ctx context.Context, req *ConsumeRequest) (*ConsumeResult, error)

	// CheckAccess is a read-only balance view. Unprovisioned users are
	// reported with their would-be trial balance without creating a row.
	CheckAccess(ctx context.Context, userID uuid.UUID) (*AccessStatus, error)

	// MarkRefunded records a refund against a completed transaction.
	MarkRefunded(ctx context.Context, sessionID, paymentIntentID string, refundedAmount int64, reason string) error

	// MarkDisputed records a chargeback dispute against a transaction.
	MarkDisputed(ctx context.Context, sessionID, paymentIntentID, disputeID string) error

	// MarkFailed records a payment failure. A failure arriving after the
	// payment completed is ignored; completion wins.
	MarkFailed(ctx context.Context, sessionID, paymentIntentID, code, message string) error

	// ListTransactions returns the user's payment history, newest first.
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*Transaction, error)

	// ListUsage returns the user's debit history, newest first.
	ListUsage(ctx context.Context, userID uuid.UUID, limit int) ([]*UsageEntry, error)
}

type service struct {
	repo    Repository
	cache   *BalanceCache
	metrics *metrics.Metrics
	cfg     config.CreditsConfig
	logger  *zap.Logger
}

// NewService creates the ledger service.
func NewService(repo Repository, cache *BalanceCache, m *metrics.Metrics, cfg config.CreditsConfig, logger *zap.Logger) Service {
	return &service{
		repo:    repo,
		cache:   cache,
		metrics: m,
		cfg:     cfg,
		logger:  logger,
	}
}

func (s *service) ProcessPayment(ctx context.Context, req *ProcessPaymentRequest) (*PaymentResult, error) {
	if req.SessionID == "" {
		return nil, ErrMissingSessionID
	}
	if req.UserID == uuid.Nil {
		return nil, fmt.Errorf("payment %s has no user id", req.SessionID)
	}
	if req.CreditsToAdd <= 0 {
		return nil, fmt.Errorf("%w: payment %s grants %d credits", ErrInvalidCreditAmount, req.SessionID, req.CreditsToAdd)
	}

	var result *PaymentResult
	err := s.withUserLock(ctx, req.UserID, func(repo Repository) error {
		var err error
		result, err = s.reconcilePayment(ctx, repo, req)
		return err
	})
	if err != nil {
		s.metrics.PaymentsReconciledTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if result.WasDuplicate {
		s.metrics.PaymentsReconciledTotal.WithLabelValues("duplicate").Inc()
		s.logger.Info("duplicate payment delivery ignored",
			zap.String("session_id", req.SessionID),
			zap.String("user_id", req.UserID.String()))
		return result, nil
	}

	if err := s.cache.Invalidate(ctx, req.UserID); err != nil {
		s.logger.Warn("balance cache invalidation failed", zap.Error(err))
	}
	s.metrics.PaymentsReconciledTotal.WithLabelValues("applied").Inc()
	s.metrics.CreditsGrantedTotal.Add(float64(result.CreditsAdded))
	s.logger.Info("payment applied",
		zap.String("session_id", req.SessionID),
		zap.String("user_id", req.UserID.String()),
		zap.Int64("credits_added", result.CreditsAdded),
		zap.Int64("remaining", result.NewRemaining))
	return result, nil
}

// reconcilePayment runs under the user's ledger lock.
func (s *service) reconcilePayment(ctx context.Context, repo Repository, req *ProcessPaymentRequest) (*PaymentResult, error) {
	txn, err := repo.GetTransactionBySessionID(ctx, req.SessionID)
	switch {
	case err == nil:
		if txn.IsCompleted() {
			return s.duplicateResult(ctx, repo, txn)
		}
		// A pending record from an earlier interrupted delivery: the
		// account was never credited, so complete it now.
	case errors.Is(err, ErrTransactionNotFound):
		txn = s.newTransaction(req)
		if createErr := repo.CreateTransaction(ctx, txn); createErr != nil {
			// Unique index on session_id: a concurrent delivery won the
			// insert. Re-read its outcome and report a duplicate.
			if errors.Is(createErr, gorm.ErrDuplicatedKey) {
				existing, readErr := repo.GetTransactionBySessionID(ctx, req.SessionID)
				if readErr != nil {
					return nil, readErr
				}
				return s.duplicateResult(ctx, repo, existing)
			}
			return nil, createErr
		}
	default:
		return nil, err
	}

	account, err := s.ensureAccount(ctx, repo, req.UserID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	account.TotalCredits += req.CreditsToAdd
	account.RemainingCredits += req.CreditsToAdd
	account.LastPaymentAt = &now
	if err := repo.SaveAccount(ctx, account); err != nil {
		return nil, err
	}

	txn.Status = TransactionStatusCompleted
	txn.CreditsAdded = req.CreditsToAdd
	txn.CompletedAt = &now
	if err := repo.SaveTransaction(ctx, txn); err != nil {
		return nil, err
	}

	return &PaymentResult{
		TransactionID: txn.ID,
		CreditsAdded:  req.CreditsToAdd,
		NewTotal:      account.TotalCredits,
		NewRemaining:  account.RemainingCredits,
	}, nil
}

func (s *service) duplicateResult(ctx context.Context, repo Repository, txn *Transaction) (*PaymentResult, error) {
	account, err := repo.GetAccount(ctx, txn.UserID)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{
		TransactionID: txn.ID,
		CreditsAdded:  txn.CreditsAdded,
		WasDuplicate:  true,
		NewTotal:      account.TotalCredits,
		NewRemaining:  account.RemainingCredits,
	}, nil
}

func (s *service) newTransaction(req *ProcessPaymentRequest) *Transaction {
	txn := &Transaction{
		ID:            uuid.New(),
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		PlanID:        req.PlanID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		CreditsAdded:  req.CreditsToAdd,
		Status:        TransactionStatusPending,
		PaymentMethod: req.PaymentMethod,
		Source:        req.Source,
	}
	if req.PaymentIntentID != "" {
		txn.PaymentIntentID = &req.PaymentIntentID
	}
	return txn
}

func (s *service) Consume(ctx context.Context, req *ConsumeRequest) (*ConsumeResult, error) {
	if req.Credits <= 0 {
		return nil, fmt.Errorf("%w: debit of %d credits", ErrInvalidCreditAmount, req.Credits)
	}

	var result *ConsumeResult
	err := s.withUserLock(ctx, req.UserID, func(repo Repository) error {
		account, err := s.ensureAccount(ctx, repo, req.UserID)
		if err != nil {
			return err
		}
		if account.RemainingCredits < req.Credits {
			result = &ConsumeResult{Allowed: false, Remaining: account.RemainingCredits}
			return nil
		}

		account.RemainingCredits -= req.Credits
		account.UsedCredits += req.Credits
		if err := repo.SaveAccount(ctx, account); err != nil {
			return err
		}
		entry := &UsageEntry{
			UserID:         req.UserID,
			CreditsUsed:    req.Credits,
			Feature:        req.Feature,
			ModelVersion:   req.ModelVersion,
			ModelCost:      req.ModelCost,
			GenerationType: req.GenerationType,
			Details:        req.Details,
		}
		if err := repo.CreateUsageEntry(ctx, entry); err != nil {
			return err
		}
		result = &ConsumeResult{Allowed: true, Remaining: account.RemainingCredits}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, req.UserID); err != nil {
		s.logger.Warn("balance cache invalidation failed", zap.Error(err))
	}

	if !result.Allowed {
		s.metrics.DebitsDeniedTotal.Inc()
		s.logger.Info("debit denied",
			zap.String("user_id", req.UserID.String()),
			zap.Int64("requested", req.Credits),
			zap.Int64("remaining", result.Remaining))
		return result, nil
	}

	s.metrics.CreditsConsumedTotal.Add(float64(req.Credits))
	s.logger.Debug("credits consumed",
		zap.String("user_id", req.UserID.String()),
		zap.String("feature", req.Feature),
		zap.Int64("credits", req.Credits),
		zap.Int64("remaining", result.Remaining))
	return result, nil
}

func (s *service) CheckAccess(ctx context.Context, userID uuid.UUID) (*AccessStatus, error) {
	if cached, err := s.cache.Get(ctx, userID); err == nil {
		s.metrics.CacheHitsTotal.Inc()
		return cached, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("balance cache read failed", zap.Error(err))
	}
	s.metrics.CacheMissesTotal.Inc()

	var status *AccessStatus
	account, err := s.repo.GetAccount(ctx, userID)
	switch {
	case err == nil:
		status = &AccessStatus{
			HasAccess:        account.RemainingCredits > 0,
			RemainingCredits: account.RemainingCredits,
			TotalCredits:     account.TotalCredits,
			UsedCredits:      account.UsedCredits,
		}
	case errors.Is(err, ErrAccountNotFound):
		// The trial grant the account would be provisioned with on first
		// mutation. No row is created for a read.
		status = &AccessStatus{
			HasAccess:        s.cfg.TrialCredits > 0,
			RemainingCredits: s.cfg.TrialCredits,
			TotalCredits:     s.cfg.TrialCredits,
		}
	default:
		return nil, err
	}

	if err := s.cache.Set(ctx, userID, status); err != nil {
		s.logger.Warn("balance cache write failed", zap.Error(err))
	}
	return status, nil
}

func (s *service) MarkRefunded(ctx context.Context, sessionID, paymentIntentID string, refundedAmount int64, reason string) error {
	txn, err := s.repo.GetTransactionByPaymentRef(ctx, sessionID, paymentIntentID)
	if err != nil {
		return err
	}

	err = s.withUserLock(ctx, txn.UserID, func(repo Repository) error {
		txn, err := repo.GetTransactionByPaymentRef(ctx, sessionID, paymentIntentID)
		if err != nil {
			return err
		}
		if !txn.IsCompleted() && txn.Status != TransactionStatusPartiallyRefunded {
			return fmt.Errorf("transaction %s in status %s cannot be refunded", txn.ID, txn.Status)
		}

		// The processor reports the refunded amount cumulatively, so each
		// event carries the charge's running total, not a delta.
		if refundedAmount > txn.RefundedAmount {
			txn.RefundedAmount = refundedAmount
		}
		if reason != "" {
			txn.RefundReason = &reason
		}
		fullRefund := txn.RefundedAmount >= txn.Amount
		if fullRefund {
			txn.Status = TransactionStatusRefunded
		} else {
			txn.Status = TransactionStatusPartiallyRefunded
		}
		if err := repo.SaveTransaction(ctx, txn); err != nil {
			return err
		}

		// Refunds never drive the balance negative: only credits still
		// unspent are removed, and only when clawback is enabled.
		if fullRefund && s.cfg.RefundClawback {
			account, err := repo.GetAccount(ctx, txn.UserID)
			if err != nil {
				return err
			}
			claw := min(account.RemainingCredits, txn.CreditsAdded)
			account.RemainingCredits -= claw
			account.TotalCredits -= claw
			if err := repo.SaveAccount(ctx, account); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.cache.Invalidate(ctx, txn.UserID); err != nil {
		s.logger.Warn("balance cache invalidation failed", zap.Error(err))
	}
	s.logger.Info("payment refunded",
		zap.String("session_id", txn.SessionID),
		zap.String("user_id", txn.UserID.String()),
		zap.Int64("refunded_amount", refundedAmount))
	return nil
}

func (s *service) MarkDisputed(ctx context.Context, sessionID, paymentIntentID, disputeID string) error {
	txn, err := s.repo.GetTransactionByPaymentRef(ctx, sessionID, paymentIntentID)
	if err != nil {
		return err
	}

	err = s.withUserLock(ctx, txn.UserID, func(repo Repository) error {
		txn, err := repo.GetTransactionByPaymentRef(ctx, sessionID, paymentIntentID)
		if err != nil {
			return err
		}
		txn.Status = TransactionStatusDisputed
		if disputeID != "" {
			txn.DisputeID = &disputeID
		}
		return repo.SaveTransaction(ctx, txn)
	})
	if err != nil {
		return err
	}

	s.logger.Warn("payment disputed",
		zap.String("session_id", txn.SessionID),
		zap.String("user_id", txn.UserID.String()),
		zap.String("dispute_id", disputeID))
	return nil
}

func (s *service) MarkFailed(ctx context.Context, sessionID, paymentIntentID, code, message string) error {
	txn, err := s.repo.GetTransactionByPaymentRef(ctx, sessionID, paymentIntentID)
	if err != nil {
		return err
	}

	return s.withUserLock(ctx, txn.UserID, func(repo Repository) error {
		txn, err := repo.GetTransactionByPaymentRef(ctx, sessionID, paymentIntentID)
		if err != nil {
			return err
		}
		if txn.IsCompleted() {
			// A completion already credited the account; a late failure
			// notification does not undo it.
			s.logger.Warn("ignoring failure for completed payment",
				zap.String("session_id", txn.SessionID),
				zap.String("failure_code", code))
			return nil
		}
		txn.Status = TransactionStatusFailed
		if code != "" {
			txn.FailureCode = &code
		}
		if message != "" {
			txn.FailureMessage = &message
		}
		return repo.SaveTransaction(ctx, txn)
	})
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*Transaction, error) {
	return s.repo.ListTransactions(ctx, userID, clampLimit(limit))
}

func (s *service) ListUsage(ctx context.Context, userID uuid.UUID, limit int) ([]*UsageEntry, error) {
	return s.repo.ListUsageEntries(ctx, userID, clampLimit(limit))
}

// withUserLock wraps Repository.WithUserLock with wait-time observation.
func (s *service) withUserLock(ctx context.Context, userID uuid.UUID, fn func(Repository) error) error {
	start := time.Now()
	entered := false
	err := s.repo.WithUserLock(ctx, userID, func(repo Repository) error {
		if !entered {
			entered = true
			s.metrics.LockWaitDuration.Observe(time.Since(start).Seconds())
		}
		return fn(repo)
	})
	if errors.Is(err, ErrLockTimeout) {
		s.logger.Warn("ledger lock timeout", zap.String("user_id", userID.String()))
	}
	return err
}

// ensureAccount loads the user's account, provisioning it with the trial
// grant on first touch. Must run under the user's ledger lock.
func (s *service) ensureAccount(ctx context.Context, repo Repository, userID uuid.UUID) (*Account, error) {
	account, err := repo.GetAccount(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	account = &Account{
		UserID:           userID,
		TotalCredits:     s.cfg.TrialCredits,
		RemainingCredits: s.cfg.TrialCredits,
	}
	if err := repo.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	s.logger.Info("credit account provisioned",
		zap.String("user_id", userID.String()),
		zap.Int64("trial_credits", s.cfg.TrialCredits))
	return account, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
