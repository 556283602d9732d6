package ledger

import (
	"context"
	"errors"
	"fmt"

	"finance_ledger/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const reconcileBatchSize = 500

// Discrepancy is a user whose stored balance differs from the one derived from its transactions
type Discrepancy struct {
	UserID   uint            `json:"user_id"`
	Stored   decimal.Decimal `json:"stored"`
	Expected decimal.Decimal `json:"expected"`
	Diff     decimal.Decimal `json:"diff"`
}

// Reconciler derives balances from the transaction log and checks them against the stored value
type Reconciler struct {
	db *gorm.DB
}

// NewReconciler creates a Reconciler
func NewReconciler(db *gorm.DB) *Reconciler {
	return &Reconciler{db: db}
}

// Recompute returns initial balance plus the delta of every existing transaction of the user
func (r *Reconciler) Recompute(ctx context.Context, userID uint) (decimal.Decimal, error) {
	var user domain.User
	if err := r.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("find user: %w", err)
	}
	return derive(r.db.WithContext(ctx), &user)
}

// Check compares one user's stored balance with the derived one.
// The user row is locked so no ledger write interleaves with the comparison.
func (r *Reconciler) Check(ctx context.Context, userID uint) (*Discrepancy, error) {
	var found *Discrepancy
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		expected, err := derive(tx, user)
		if err != nil {
			return err
		}
		if !expected.Equal(user.Balance) {
			found = &Discrepancy{
				UserID:   user.ID,
				Stored:   user.Balance,
				Expected: expected,
				Diff:     user.Balance.Sub(expected),
			}
		}
		return nil
	})
	return found, err
}

// Repair overwrites a user's stored balance with the derived one and returns the user
func (r *Reconciler) Repair(ctx context.Context, userID uint) (*domain.User, error) {
	var user *domain.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		user, err = lockUser(tx, userID)
		if err != nil {
			return err
		}
		expected, err := derive(tx, user)
		if err != nil {
			return err
		}
		if err := applyDelta(tx, user, expected.Sub(user.Balance)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id": user.ID,
		"balance": user.Balance.String(),
	}).Warn("Balance repaired from transaction log")
	return user, nil
}

// Audit checks every user and returns the discrepancies found
func (r *Reconciler) Audit(ctx context.Context) ([]Discrepancy, error) {
	var (
		ids           []uint
		discrepancies []Discrepancy
	)
	if err := r.db.WithContext(ctx).Model(&domain.User{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return discrepancies, err
		}
		d, err := r.Check(ctx, id)
		if errors.Is(err, ErrUserNotFound) {
			continue // Deleted during the audit
		}
		if err != nil {
			return discrepancies, fmt.Errorf("check user %d: %w", id, err)
		}
		if d != nil {
			logrus.WithFields(logrus.Fields{
				"user_id":  d.UserID,
				"stored":   d.Stored.String(),
				"expected": d.Expected.String(),
				"diff":     d.Diff.String(),
			}).Warn("Balance does not match transaction log")
			discrepancies = append(discrepancies, *d)
		}
	}
	logrus.WithFields(logrus.Fields{
		"users":         len(ids),
		"discrepancies": len(discrepancies),
	}).Info("Balance audit finished")
	return discrepancies, nil
}

// derive sums the deltas of the user's transactions on top of its initial balance
func derive(db *gorm.DB, user *domain.User) (decimal.Decimal, error) {
	total := user.InitialBalance
	var batch []domain.Transaction
	err := db.Model(&domain.Transaction{}).
		Select("id", "type", "amount").
		Where("user_id = ?", user.ID).
		FindInBatches(&batch, reconcileBatchSize, func(_ *gorm.DB, _ int) error {
			for _, t := range batch {
				total = total.Add(Delta(t.Type, t.Amount, false))
			}
			return nil
		}).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum transactions: %w", err)
	}
	return total, nil
}
