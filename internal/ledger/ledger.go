package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finance_ledger/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger owns the lifecycle of transactions and keeps every owner's balance
// equal to its initial balance plus the deltas of its existing transactions.
// Each operation writes the transaction row and the balance in one database transaction.
type Ledger struct {
	db        *gorm.DB
	resolver  *Resolver
	publisher Publisher
	now       func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithPublisher sets the publisher notified after each committed operation
func WithPublisher(p Publisher) Option {
	return func(l *Ledger) {
		if p != nil {
			l.publisher = p
		}
	}
}

// WithClock overrides the clock used for default transaction dates
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates a Ledger on top of db
func New(db *gorm.DB, resolver *Resolver, opts ...Option) *Ledger {
	if resolver == nil {
		resolver = NewResolver(PolicyIgnore)
	}
	l := &Ledger{
		db:        db,
		resolver:  resolver,
		publisher: NopPublisher{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateParams holds the input of Create. Amount must be positive.
type CreateParams struct {
	UserID         uint
	Type           domain.TransactionType
	Amount         decimal.Decimal
	CategoryTitle  string
	Description    string
	Date           time.Time
	IdempotencyKey string // Optional, deduplicates retried creates per user
}

// Changes holds the fields of an Update. Nil fields keep their current value.
type Changes struct {
	Amount        *decimal.Decimal
	Type          *domain.TransactionType
	CategoryTitle *string
	Date          *time.Time
	Description   *string
}

// Result is returned by every write: the transaction and its owner after the operation
type Result struct {
	Transaction domain.Transaction `json:"transaction"`
	User        domain.User        `json:"user"`
	Replayed    bool               `json:"-"` // Create answered from an earlier request with the same idempotency key
}

// Get returns a transaction with its category
func (l *Ledger) Get(ctx context.Context, id uint) (*domain.Transaction, error) {
	var t domain.Transaction
	if err := l.db.WithContext(ctx).Preload("Category").First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &t, nil
}

// Create inserts a transaction and applies its delta to the owner's balance
func (l *Ledger) Create(ctx context.Context, p CreateParams) (*Result, error) {
	if err := validateAmount(p.Amount); err != nil {
		return nil, err
	}
	if err := validateType(p.Type); err != nil {
		return nil, err
	}
	if p.Date.IsZero() {
		p.Date = l.now() // Default to the time of the request
	}

	var res Result
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, p.UserID)
		if err != nil {
			return err
		}

		// A retried request with a known key returns the first outcome untouched
		if p.IdempotencyKey != "" {
			replay, err := replayCreate(tx, user, p.IdempotencyKey)
			if err != nil {
				return err
			}
			if replay != nil {
				res = *replay
				return nil
			}
		}

		category, err := l.resolver.Resolve(ctx, tx, p.CategoryTitle)
		if err != nil {
			return err
		}

		t := domain.Transaction{
			UserID:      p.UserID,
			Amount:      p.Amount,
			Type:        p.Type,
			Description: p.Description,
			Date:        p.Date,
		}
		if category != nil {
			t.CategoryID = &category.ID
		}
		if err := tx.Create(&t).Error; err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		if err := applyDelta(tx, user, Delta(p.Type, p.Amount, false)); err != nil {
			return err
		}

		if p.IdempotencyKey != "" {
			key := domain.IdempotencyKey{UserID: user.ID, Key: p.IdempotencyKey, TransactionID: t.ID}
			if err := tx.Create(&key).Error; err != nil {
				return fmt.Errorf("record idempotency key: %w", err)
			}
		}

		t.Category = category // Attach after insert so gorm does not upsert the association
		res = Result{Transaction: t, User: *user}
		return nil
	})
	if err != nil {
		return nil, l.failure("create", logrus.Fields{"user_id": p.UserID}, err)
	}

	if res.Replayed {
		logrus.WithFields(logrus.Fields{
			"user_id":         p.UserID,
			"transaction_id":  res.Transaction.ID,
			"idempotency_key": p.IdempotencyKey,
		}).Info("Create replayed from idempotency key")
		return &res, nil
	}

	logrus.WithFields(logrus.Fields{
		"user_id":        res.User.ID,
		"transaction_id": res.Transaction.ID,
		"type":           res.Transaction.Type,
		"amount":         res.Transaction.Amount.String(),
		"balance":        res.User.Balance.String(),
	}).Info("Transaction created")
	l.publish(ctx, EventCreated, &res, Delta(p.Type, p.Amount, false))
	return &res, nil
}

// Update applies changes to a transaction and moves the owner's balance by the implied delta
func (l *Ledger) Update(ctx context.Context, id uint, ch Changes) (*Result, error) {
	if ch.Amount != nil {
		if err := validateAmount(*ch.Amount); err != nil {
			return nil, err
		}
	}
	if ch.Type != nil {
		if err := validateType(*ch.Type); err != nil {
			return nil, err
		}
	}

	var (
		res   Result
		delta decimal.Decimal
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, user, err := lockTransaction(tx, id)
		if err != nil {
			return err
		}

		newAmount := existing.Amount
		if ch.Amount != nil {
			newAmount = *ch.Amount
		}
		newType := existing.Type
		if ch.Type != nil {
			newType = *ch.Type
		}
		delta = updateDelta(existing.Type, existing.Amount, newType, newAmount)

		updates := map[string]any{}
		if ch.Amount != nil {
			updates["amount"] = newAmount
		}
		if ch.Type != nil {
			updates["type"] = newType
		}
		if ch.Description != nil {
			updates["description"] = *ch.Description
		}
		if ch.Date != nil {
			updates["date"] = *ch.Date
		}
		if ch.CategoryTitle != nil {
			category, err := l.resolver.Resolve(ctx, tx, *ch.CategoryTitle)
			if err != nil {
				return err
			}
			// An unresolved title keeps the previous category
			if category != nil {
				updates["category_id"] = category.ID
			}
		}

		if len(updates) > 0 {
			if err := tx.Model(existing).Updates(updates).Error; err != nil {
				return fmt.Errorf("update transaction: %w", err)
			}
		}

		if err := applyDelta(tx, user, delta); err != nil {
			return err
		}

		var updated domain.Transaction
		if err := tx.Preload("Category").First(&updated, id).Error; err != nil {
			return fmt.Errorf("reload transaction: %w", err)
		}
		res = Result{Transaction: updated, User: *user}
		return nil
	})
	if err != nil {
		return nil, l.failure("update", logrus.Fields{"transaction_id": id}, err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id":        res.User.ID,
		"transaction_id": id,
		"delta":          delta.String(),
		"balance":        res.User.Balance.String(),
	}).Info("Transaction updated")
	l.publish(ctx, EventUpdated, &res, delta)
	return &res, nil
}

// Delete removes a transaction and reverses its contribution to the owner's balance
func (l *Ledger) Delete(ctx context.Context, id uint) (*Result, error) {
	var (
		res   Result
		delta decimal.Decimal
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, user, err := lockTransaction(tx, id)
		if err != nil {
			return err
		}
		if existing.CategoryID != nil {
			var category domain.Category
			if err := tx.First(&category, *existing.CategoryID).Error; err == nil {
				existing.Category = &category
			}
		}

		result := tx.Delete(&domain.Transaction{}, id)
		if result.Error != nil {
			return fmt.Errorf("delete transaction: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrTransactionNotFound
		}

		delta = Delta(existing.Type, existing.Amount, true)
		if err := applyDelta(tx, user, delta); err != nil {
			return err
		}

		res = Result{Transaction: *existing, User: *user}
		return nil
	})
	if err != nil {
		return nil, l.failure("delete", logrus.Fields{"transaction_id": id}, err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id":        res.User.ID,
		"transaction_id": id,
		"delta":          delta.String(),
		"balance":        res.User.Balance.String(),
	}).Info("Transaction deleted")
	l.publish(ctx, EventDeleted, &res, delta)
	return &res, nil
}

// failure logs a failed operation and classifies its error.
// Anything that is not a not-found or validation error is an atomicity failure.
func (l *Ledger) failure(op string, fields logrus.Fields, err error) error {
	var vErr *ValidationError
	if errors.Is(err, ErrNotFound) || errors.As(err, &vErr) {
		return err
	}
	fields["op"] = op
	fields["error"] = err.Error()
	logrus.WithFields(fields).Error("Ledger operation rolled back")
	return &AtomicityError{Op: op, Err: err}
}

func (l *Ledger) publish(ctx context.Context, typ EventType, res *Result, delta decimal.Decimal) {
	ev := NewEvent(typ, res, delta, l.now())
	if err := l.publisher.Publish(ctx, ev); err != nil {
		logrus.WithFields(logrus.Fields{
			"event":          typ,
			"transaction_id": res.Transaction.ID,
			"error":          err.Error(),
		}).Warn("Failed to publish ledger event")
	}
}

// lockUser reads a user row and holds a write lock on it until the transaction ends
func lockUser(tx *gorm.DB, id uint) (*domain.User, error) {
	var user domain.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user: %w", err)
	}
	return &user, nil
}

// lockTransaction locks the owner of a transaction first, then the transaction row.
// Every write locks the user before any transaction row, so writers cannot deadlock.
func lockTransaction(tx *gorm.DB, id uint) (*domain.Transaction, *domain.User, error) {
	var owners []uint
	if err := tx.Model(&domain.Transaction{}).Where("id = ?", id).Pluck("user_id", &owners).Error; err != nil {
		return nil, nil, fmt.Errorf("find transaction: %w", err)
	}
	if len(owners) == 0 {
		return nil, nil, ErrTransactionNotFound
	}

	user, err := lockUser(tx, owners[0])
	if err != nil {
		return nil, nil, err
	}

	var t domain.Transaction
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrTransactionNotFound // Deleted while we waited for the user lock
		}
		return nil, nil, fmt.Errorf("lock transaction: %w", err)
	}
	return &t, user, nil
}

// applyDelta writes user.Balance+delta and updates user in place
func applyDelta(tx *gorm.DB, user *domain.User, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	balance := user.Balance.Add(delta)
	if balance.Abs().GreaterThanOrEqual(maxMoney) {
		return &ValidationError{Field: "amount", Message: "would move the balance out of range"}
	}
	result := tx.Model(&domain.User{}).Where("id = ?", user.ID).Update("balance", balance)
	if result.Error != nil {
		return fmt.Errorf("update balance: %w", result.Error)
	}
	if result.RowsAffected != 1 {
		return fmt.Errorf("update balance: %d rows affected", result.RowsAffected)
	}
	user.Balance = balance
	return nil
}

func replayCreate(tx *gorm.DB, user *domain.User, key string) (*Result, error) {
	var rec domain.IdempotencyKey
	err := tx.Where(&domain.IdempotencyKey{UserID: user.ID, Key: key}).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find idempotency key: %w", err)
	}

	var t domain.Transaction
	if err := tx.Preload("Category").First(&t, rec.TransactionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound // The original transaction was deleted since
		}
		return nil, fmt.Errorf("find replayed transaction: %w", err)
	}
	return &Result{Transaction: t, User: *user, Replayed: true}, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be positive"}
	}
	return CheckMoney("amount", amount)
}

func validateType(t domain.TransactionType) error {
	if !t.Valid() {
		return &ValidationError{Field: "type", Message: "must be either income or expense"}
	}
	return nil
}
