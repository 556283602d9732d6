package api

import (
	"context"  // Context for cache operations
	"net/http" // HTTP status codes
	"net/url"  // Canonical cache keys
	"strconv"  // String conversion

	"finance_ledger/internal/domain"     // Importing domain models
	"finance_ledger/internal/ledger"     // Transaction ledger
	"finance_ledger/internal/middleware" // Authenticated user
	"finance_ledger/internal/utils"      // Cache

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Exact decimal money
	"github.com/sirupsen/logrus"    // Logging library
	"golang.org/x/sync/errgroup"    // Concurrent count and page queries
	"gorm.io/gorm"                  // GORM ORM library
)

// HeaderIdempotencyKey lets a client retry a create without applying it twice
const HeaderIdempotencyKey = "Idempotency-Key"

// CreateTransactionRequest represents a create transaction request
type CreateTransactionRequest struct {
	Type          domain.TransactionType `json:"type" binding:"required,oneof=income expense"` // income or expense
	Amount        *decimal.Decimal       `json:"amount" binding:"required"`                    // Positive amount
	Description   string                 `json:"description" binding:"required,max=255"`       // Description
	CategoryTitle string                 `json:"category_title" binding:"max=128"`             // Optional category title
	Date          string                 `json:"date"`                                         // Optional, defaults to now
}

// UpdateTransactionRequest represents a partial update, absent fields are left unchanged
type UpdateTransactionRequest struct {
	Type          *domain.TransactionType `json:"type" binding:"omitempty,oneof=income expense"`
	Amount        *decimal.Decimal        `json:"amount"`
	Description   *string                 `json:"description" binding:"omitempty,max=255"`
	CategoryTitle *string                 `json:"category_title" binding:"omitempty,max=128"`
	Date          *string                 `json:"date"`
}

// CreateTransactionHandler records a transaction for the authenticated user
func CreateTransactionHandler(l TransactionLedger, cache *utils.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c) // Get userID from context
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		var req CreateTransactionRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, bindErrors(err)...)
			return
		}
		var errs []FieldError // Checks the binding tags cannot express
		if !req.Amount.IsPositive() {
			errs = append(errs, FieldError{Field: "amount", Message: "must be positive"})
		} else if fe, bad := moneyError("amount", *req.Amount); bad {
			errs = append(errs, fe)
		}
		params := ledger.CreateParams{
			UserID:         userID,
			Type:           req.Type,
			Amount:         *req.Amount,
			CategoryTitle:  req.CategoryTitle,
			Description:    req.Description,
			IdempotencyKey: c.GetHeader(HeaderIdempotencyKey),
		}
		if req.Date != "" {
			date, ok := parseDate(req.Date)
			if !ok {
				errs = append(errs, FieldError{Field: "date", Message: "must be a date (YYYY-MM-DD or RFC 3339)"})
			}
			params.Date = date
		}
		if len(params.IdempotencyKey) > 128 {
			errs = append(errs, FieldError{Field: HeaderIdempotencyKey, Message: "must be at most 128 characters"})
		}
		if len(errs) > 0 {
			respondValidation(c, errs...)
			return
		}

		res, err := l.Create(c.Request.Context(), params)
		if err != nil {
			respondError(c, err, "Create transaction")
			return
		}
		if res.Replayed {
			c.Header("Idempotent-Replayed", "true")
			c.JSON(http.StatusOK, gin.H{"transaction": res.Transaction, "user": res.User})
			return
		}
		invalidate(c.Request.Context(), cache, userID)
		c.JSON(http.StatusCreated, gin.H{"transaction": res.Transaction, "user": res.User})
	}
}

// GetTransactionHandler returns one of the authenticated user's transactions
func GetTransactionHandler(l TransactionLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := ownedTransaction(c, l)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

// UpdateTransactionHandler applies a partial update to one of the authenticated user's transactions
func UpdateTransactionHandler(l TransactionLedger, cache *utils.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateTransactionRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, bindErrors(err)...)
			return
		}
		changes := ledger.Changes{
			Amount:        req.Amount,
			Type:          req.Type,
			Description:   req.Description,
			CategoryTitle: req.CategoryTitle,
		}
		var errs []FieldError
		if req.Amount != nil {
			if !req.Amount.IsPositive() {
				errs = append(errs, FieldError{Field: "amount", Message: "must be positive"})
			} else if fe, bad := moneyError("amount", *req.Amount); bad {
				errs = append(errs, fe)
			}
		}
		if req.Date != nil {
			date, ok := parseDate(*req.Date)
			if !ok {
				errs = append(errs, FieldError{Field: "date", Message: "must be a date (YYYY-MM-DD or RFC 3339)"})
			}
			changes.Date = &date
		}
		if len(errs) > 0 {
			respondValidation(c, errs...)
			return
		}

		t, ok := ownedTransaction(c, l)
		if !ok {
			return
		}
		res, err := l.Update(c.Request.Context(), t.ID, changes)
		if err != nil {
			respondError(c, err, "Update transaction")
			return
		}
		invalidate(c.Request.Context(), cache, t.UserID)
		c.JSON(http.StatusOK, gin.H{
			"message":     "Transaction updated successfully",
			"transaction": res.Transaction,
			"user":        res.User,
		})
	}
}

// DeleteTransactionHandler deletes one of the authenticated user's transactions
func DeleteTransactionHandler(l TransactionLedger, cache *utils.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, ok := ownedTransaction(c, l)
		if !ok {
			return
		}
		res, err := l.Delete(c.Request.Context(), t.ID)
		if err != nil {
			respondError(c, err, "Delete transaction")
			return
		}
		invalidate(c.Request.Context(), cache, t.UserID)
		c.JSON(http.StatusOK, gin.H{
			"message": "Transaction deleted successfully",
			"deleted": res.Transaction,
			"user":    res.User,
		})
	}
}

// transactionPage is the cached shape of a list response
type transactionPage struct {
	Data       []domain.Transaction `json:"data"`       // Transactions on this page
	Pagination Pagination           `json:"pagination"` // Page metadata
}

// ListTransactionsHandler lists the authenticated user's transactions, newest first
func ListTransactionsHandler(db *gorm.DB, cache *utils.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c) // Get userID from context
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		filter, errs := parseTransactionFilter(c)
		if len(errs) > 0 {
			respondValidation(c, errs...)
			return
		}
		filter.UserID = &userID
		ctx := c.Request.Context()

		// Cached pages are keyed by the user's list version, bumped on every write
		version, err := cache.Version(ctx, utils.TxListNamespace(userID))
		cacheKey := utils.TxListKey(userID, version, filter.cacheKey())
		if err == nil {
			var cached transactionPage
			if found, err := cache.Get(ctx, cacheKey, &cached); err == nil && found {
				c.JSON(http.StatusOK, cached)
				return
			}
		}

		page, err := listTransactions(ctx, db, filter)
		if err != nil {
			respondError(c, err, "List transactions")
			return
		}
		_ = cache.Set(ctx, cacheKey, page) // Best effort
		c.JSON(http.StatusOK, page)
	}
}

// transactionFilter holds the list query
type transactionFilter struct {
	UserID   *uint
	Type     domain.TransactionType
	Category string
	Start    string
	End      string
	Page     int
	Limit    int
}

func parseTransactionFilter(c *gin.Context) (transactionFilter, []FieldError) {
	var (
		f    transactionFilter
		errs []FieldError
	)
	f.Page, f.Limit = pageParams(c, 10, 100)
	if t := domain.TransactionType(c.Query("type")); t != "" {
		if !t.Valid() {
			errs = append(errs, FieldError{Field: "type", Message: "must be one of: income, expense"})
		}
		f.Type = t
	}
	f.Category = c.Query("category")
	for _, p := range []struct {
		name string
		dst  *string
	}{{"start_date", &f.Start}, {"end_date", &f.End}} {
		if v := c.Query(p.name); v != "" {
			if _, ok := parseDate(v); !ok {
				errs = append(errs, FieldError{Field: p.name, Message: "must be a date (YYYY-MM-DD or RFC 3339)"})
			}
			*p.dst = v
		}
	}
	return f, errs
}

func (f transactionFilter) cacheKey() string {
	q := url.Values{}
	q.Set("page", strconv.Itoa(f.Page))
	q.Set("limit", strconv.Itoa(f.Limit))
	q.Set("type", string(f.Type))
	q.Set("category", f.Category)
	q.Set("start", f.Start)
	q.Set("end", f.End)
	return q.Encode() // Sorted by key
}

// scope applies the filter conditions to a transactions query
func (f transactionFilter) scope(db *gorm.DB) *gorm.DB {
	if f.UserID != nil {
		db = db.Where("user_id = ?", *f.UserID)
	}
	if f.Type != "" {
		db = db.Where("type = ?", f.Type)
	}
	if f.Category != "" {
		db = db.Where("category_id IN (?)", db.Session(&gorm.Session{NewDB: true}).
			Model(&domain.Category{}).Select("id").Where("title = ?", f.Category))
	}
	if start, ok := parseDate(f.Start); ok {
		db = db.Where("date >= ?", start)
	}
	if end, ok := parseDate(f.End); ok {
		db = db.Where("date <= ?", end)
	}
	return db
}

// listTransactions runs the count and page queries concurrently
func listTransactions(ctx context.Context, db *gorm.DB, f transactionFilter) (*transactionPage, error) {
	var (
		total        int64
		transactions []domain.Transaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return db.WithContext(gctx).Model(&domain.Transaction{}).Scopes(f.scope).Count(&total).Error
	})
	g.Go(func() error {
		return db.WithContext(gctx).Scopes(f.scope).
			Preload("Category").
			Order("date desc").
			Order("id desc").
			Offset((f.Page - 1) * f.Limit).
			Limit(f.Limit).
			Find(&transactions).Error
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if transactions == nil {
		transactions = []domain.Transaction{} // Serialize as [] rather than null
	}
	return &transactionPage{Data: transactions, Pagination: newPagination(f.Page, f.Limit, total)}, nil
}

// ownedTransaction loads the :id transaction and checks it belongs to the authenticated user.
// Other users' transactions are reported as not found.
func ownedTransaction(c *gin.Context, l TransactionLedger) (*domain.Transaction, bool) {
	userID, ok := middleware.UserID(c) // Get userID from context
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil, false
	}
	id, ok := idParam(c, "id")
	if !ok {
		respondValidation(c, FieldError{Field: "id", Message: "must be a positive integer"})
		return nil, false
	}
	t, err := l.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Get transaction")
		return nil, false
	}
	if t.UserID != userID {
		respondError(c, ledger.ErrTransactionNotFound, "Get transaction")
		return nil, false
	}
	return t, true
}

// invalidate drops the user's cached reads after a committed write
func invalidate(ctx context.Context, cache *utils.Cache, userID uint) {
	if err := cache.InvalidateUser(ctx, userID); err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err.Error(),
		}).Warn("Failed to invalidate cache")
	}
}
