package api

import (
	"net/http" // HTTP status codes
	"strconv"  // String conversion

	"finance_ledger/internal/domain" // Importing domain models
	"finance_ledger/internal/ledger" // Balance reconciliation
	"finance_ledger/internal/utils"  // Cache

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Exact decimal money
	"gorm.io/gorm"                  // GORM ORM library
)

// UserAdminResponse represents the user data returned to admin
type UserAdminResponse struct {
	ID             uint            `json:"id"`              // User ID
	Username       string          `json:"username"`        // Username
	Email          string          `json:"email"`           // Email
	Role           string          `json:"role"`            // User role
	Balance        decimal.Decimal `json:"balance"`         // Stored balance
	InitialBalance decimal.Decimal `json:"initial_balance"` // Opening balance
}

// ListUsersHandler returns a page of users with their balances
func ListUsersHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, limit := pageParams(c, 20, 100) // Page and page size from query
		ctx := c.Request.Context()

		var total int64 // Total user count
		if err := db.WithContext(ctx).Model(&domain.User{}).Count(&total).Error; err != nil {
			respondError(c, err, "Count users")
			return
		}
		var users []domain.User // Slice to hold users
		if err := db.WithContext(ctx).Order("id").Offset((page - 1) * limit).Limit(limit).Find(&users).Error; err != nil {
			respondError(c, err, "List users")
			return
		}
		// Map users to response format
		resp := make([]UserAdminResponse, len(users))
		for i, u := range users {
			resp[i] = UserAdminResponse{
				ID:             u.ID,             // User ID
				Username:       u.Username,       // Username
				Email:          u.Email,          // Email
				Role:           u.Role,           // User role
				Balance:        u.Balance,        // Stored balance
				InitialBalance: u.InitialBalance, // Opening balance
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"data":       resp,                              // List of users
			"pagination": newPagination(page, limit, total), // Page metadata
		})
	}
}

// ListAllTransactionsHandler returns transactions of every user, optionally filtered by user_id
func ListAllTransactionsHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, errs := parseTransactionFilter(c)
		if v := c.Query("user_id"); v != "" {
			id, err := strconv.ParseUint(v, 10, 64)
			if err != nil || id == 0 {
				errs = append(errs, FieldError{Field: "user_id", Message: "must be a positive integer"})
			} else {
				userID := uint(id)
				filter.UserID = &userID // Filter by user ID
			}
		}
		if len(errs) > 0 {
			respondValidation(c, errs...)
			return
		}
		page, err := listTransactions(c.Request.Context(), db, filter)
		if err != nil {
			respondError(c, err, "List transactions")
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// ReconcileHandler compares stored balances with the transaction log.
// With repair=true every mismatching balance is rewritten from the log.
// With user_id only that user is checked.
func ReconcileHandler(r *ledger.Reconciler, cache *utils.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		repair := c.Query("repair") == "true"
		ctx := c.Request.Context()

		var discrepancies []ledger.Discrepancy
		if v := c.Query("user_id"); v != "" {
			id, err := strconv.ParseUint(v, 10, 64)
			if err != nil || id == 0 {
				respondValidation(c, FieldError{Field: "user_id", Message: "must be a positive integer"})
				return
			}
			d, err := r.Check(ctx, uint(id))
			if err != nil {
				respondError(c, err, "Reconcile user")
				return
			}
			if d != nil {
				discrepancies = append(discrepancies, *d)
			}
		} else {
			var err error
			if discrepancies, err = r.Audit(ctx); err != nil {
				respondError(c, err, "Reconcile users")
				return
			}
		}

		repaired := 0
		if repair {
			for _, d := range discrepancies {
				if _, err := r.Repair(ctx, d.UserID); err != nil {
					respondError(c, err, "Repair balance")
					return
				}
				invalidate(ctx, cache, d.UserID) // Cached profile and pages show the old balance
				repaired++
			}
		}
		if discrepancies == nil {
			discrepancies = []ledger.Discrepancy{} // Serialize as [] rather than null
		}
		c.JSON(http.StatusOK, gin.H{
			"discrepancies": discrepancies, // Users whose balance does not match the log
			"repaired":      repaired,      // Balances rewritten
		})
	}
}
