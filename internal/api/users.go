package api

import (
	"errors"   // Error inspection
	"net/http" // HTTP status codes
	"strings"  // String manipulation

	"finance_ledger/internal/domain"     // Importing domain models
	"finance_ledger/internal/middleware" // Authenticated user
	"finance_ledger/internal/utils"      // Cache

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// UpdateUserRequest holds the profile fields a user may change.
// The balance is not among them; only the ledger moves it.
type UpdateUserRequest struct {
	Username *string `json:"username" binding:"omitempty,min=3,max=64"`
	Email    *string `json:"email" binding:"omitempty,email,max=255"`
}

// selfParam checks the :id parameter names the authenticated user
func selfParam(c *gin.Context) (uint, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return 0, false
	}
	id, ok := idParam(c, "id")
	if !ok {
		respondValidation(c, FieldError{Field: "id", Message: "must be a positive integer"})
		return 0, false
	}
	if id != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return 0, false
	}
	return id, true
}

// GetUserHandler returns the authenticated user's profile and balance
func GetUserHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := selfParam(c)
		if !ok {
			return
		}
		var user domain.User
		if err := db.WithContext(c.Request.Context()).First(&user, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
				return
			}
			respondError(c, err, "Get user")
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

// UpdateUserHandler changes the authenticated user's username or email
func UpdateUserHandler(db *gorm.DB, cache *utils.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := selfParam(c)
		if !ok {
			return
		}
		var req UpdateUserRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, bindErrors(err)...)
			return
		}
		ctx := c.Request.Context()

		updates := map[string]any{}
		var username, email string
		if req.Username != nil {
			username = *req.Username
			updates["username"] = username
		}
		if req.Email != nil {
			email = strings.ToLower(strings.TrimSpace(*req.Email))
			updates["email"] = email
		}
		taken, err := identityTaken(db.WithContext(ctx), username, email, id)
		if err != nil {
			respondError(c, err, "Update user")
			return
		}
		if taken {
			c.JSON(http.StatusConflict, gin.H{"error": "User with this email or username already exists"})
			return
		}

		var user domain.User
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.First(&user, id).Error; err != nil {
				return err
			}
			if len(updates) == 0 {
				return nil
			}
			return tx.Model(&user).Updates(updates).Error
		})
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		case errors.Is(err, gorm.ErrDuplicatedKey):
			c.JSON(http.StatusConflict, gin.H{"error": "User with this email or username already exists"})
			return
		case err != nil:
			respondError(c, err, "Update user")
			return
		}
		invalidate(ctx, cache, id)
		c.JSON(http.StatusOK, user)
	}
}

// DeleteUserHandler deletes the authenticated user together with its transactions
func DeleteUserHandler(db *gorm.DB, cache *utils.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := selfParam(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		var deleted int64
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("user_id = ?", id).Delete(&domain.IdempotencyKey{}).Error; err != nil {
				return err
			}
			if err := tx.Where("user_id = ?", id).Delete(&domain.Transaction{}).Error; err != nil {
				return err
			}
			result := tx.Delete(&domain.User{}, id)
			deleted = result.RowsAffected
			return result.Error
		})
		if err != nil {
			respondError(c, err, "Delete user")
			return
		}
		if deleted == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		logrus.WithField("user_id", id).Info("User deleted")
		invalidate(ctx, cache, id)
		c.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
	}
}
