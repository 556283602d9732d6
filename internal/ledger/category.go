package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"finance_ledger/internal/domain"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CategoryPolicy decides what happens when a transaction names a category title that does not exist
type CategoryPolicy string

const (
	PolicyIgnore CategoryPolicy = "ignore" // Leave the transaction uncategorized (or keep the old category on update)
	PolicyStrict CategoryPolicy = "strict" // Fail the operation with ErrCategoryNotFound
	PolicyCreate CategoryPolicy = "create" // Create the category inside the same atomic unit
)

// ParseCategoryPolicy converts a configuration value to a CategoryPolicy
func ParseCategoryPolicy(s string) (CategoryPolicy, error) {
	switch p := CategoryPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyIgnore, nil
	case PolicyIgnore, PolicyStrict, PolicyCreate:
		return p, nil
	default:
		return "", fmt.Errorf("unknown category policy %q", s)
	}
}

// Resolver finds the category a transaction refers to by title
type Resolver struct {
	policy CategoryPolicy
}

// NewResolver creates a Resolver applying the given policy to unmatched titles
func NewResolver(policy CategoryPolicy) *Resolver {
	if policy == "" {
		policy = PolicyIgnore
	}
	return &Resolver{policy: policy}
}

// Policy returns the policy the resolver applies
func (r *Resolver) Policy() CategoryPolicy {
	return r.policy
}

// Resolve looks up a category by exact title using db, which is normally the
// ledger's open transaction. An empty title resolves to nil.
func (r *Resolver) Resolve(ctx context.Context, db *gorm.DB, title string) (*domain.Category, error) {
	if title == "" {
		return nil, nil // Uncategorized
	}

	var category domain.Category
	err := db.WithContext(ctx).Where("title = ?", title).First(&category).Error
	switch {
	case err == nil:
		return &category, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("find category: %w", err)
	}

	switch r.policy {
	case PolicyStrict:
		return nil, ErrCategoryNotFound
	case PolicyCreate:
		category = domain.Category{Title: title}
		if err := db.WithContext(ctx).Create(&category).Error; err != nil {
			return nil, fmt.Errorf("create category: %w", err)
		}
		logrus.WithFields(logrus.Fields{
			"category_id": category.ID,
			"title":       title,
		}).Info("Category created for transaction")
		return &category, nil
	default:
		logrus.WithField("title", title).Debug("Category title did not match, leaving unresolved")
		return nil, nil
	}
}
