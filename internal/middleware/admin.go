package middleware

import (
	"net/http" // HTTP status codes

	"finance_ledger/internal/domain" // Importing domain models

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Structured logging
	"gorm.io/gorm"               // GORM ORM library
)

// AdminOnlyMiddleware loads the authenticated user's role on each request, so a demotion
// takes effect without waiting for the token to expire.
// A token whose user was deleted is unauthorized; a known user without the admin role is forbidden.
func AdminOnlyMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		var roles []string
		err := db.WithContext(c.Request.Context()).Model(&domain.User{}).
			Where("id = ?", userID).Pluck("role", &roles).Error
		switch {
		case err != nil:
			logrus.WithFields(logrus.Fields{
				"user_id":    userID,
				"request_id": c.GetString(ContextRequestID),
				"error":      err.Error(),
			}).Error("Role lookup failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		case len(roles) == 0:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User no longer exists"})
		case roles[0] != domain.RoleAdmin:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
		default:
			c.Next()
		}
	}
}
