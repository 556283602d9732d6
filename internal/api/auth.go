package api

import (
	"errors"   // Error inspection
	"net/http" // HTTP status codes
	"strings"  // String manipulation
	"time"     // Token lifetime

	"finance_ledger/internal/domain"     // Importing domain models
	"finance_ledger/internal/middleware" // Authenticated user
	"finance_ledger/internal/utils"      // Utility functions

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Exact decimal money
	"github.com/sirupsen/logrus"    // Logging library
	"gorm.io/gorm"                  // GORM ORM library
)

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Username       string           `json:"username" binding:"required,min=3,max=64"` // Username must be provided
	Email          string           `json:"email" binding:"required,email,max=255"`   // Email used to log in
	Password       string           `json:"password" binding:"required,min=6,max=72"` // bcrypt ignores bytes past 72
	InitialBalance *decimal.Decimal `json:"initial_balance"`                          // Optional opening balance
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"` // Email must be provided
	Password string `json:"password" binding:"required"`    // Password must be provided
}

// AuthResponse is returned on successful login
type AuthResponse struct {
	Message string `json:"message"` // Status message
	Token   string `json:"token"`   // JWT token
}

// RegisterHandler creates a user. The opening balance is recorded as the initial balance
// and afterwards only the ledger moves it.
func RegisterHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, bindErrors(err)...)
			return
		}
		if req.InitialBalance != nil {
			if fe, bad := moneyError("initial_balance", *req.InitialBalance); bad {
				respondValidation(c, fe)
				return
			}
		}
		email := strings.ToLower(strings.TrimSpace(req.Email)) // Emails compare case insensitively
		ctx := c.Request.Context()

		taken, err := identityTaken(db.WithContext(ctx), req.Username, email, 0)
		if err != nil {
			respondError(c, err, "Register user")
			return
		}
		if taken {
			c.JSON(http.StatusConflict, gin.H{"error": "User with this email or username already exists"})
			return
		}

		hash, err := utils.HashPassword(req.Password) // Hash the password
		if err != nil {
			respondError(c, err, "Hash password")
			return
		}
		opening := decimal.Zero
		if req.InitialBalance != nil {
			opening = *req.InitialBalance
		}
		user := domain.User{
			Username:       req.Username,
			Email:          email,
			Password:       hash,
			Role:           domain.RoleUser,
			Balance:        opening,
			InitialBalance: opening,
		}
		if err := db.WithContext(ctx).Create(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Lost a race with a concurrent registration
				c.JSON(http.StatusConflict, gin.H{"error": "User with this email or username already exists"})
				return
			}
			respondError(c, err, "Register user")
			return
		}
		logrus.WithFields(logrus.Fields{
			"user_id":         user.ID,
			"initial_balance": opening.String(),
		}).Info("User registered")
		c.JSON(http.StatusCreated, user)
	}
}

// LoginHandler authenticates a user by email and returns a JWT token
func LoginHandler(db *gorm.DB, jwtSecret string, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, bindErrors(err)...)
			return
		}
		var user domain.User // Fetch user from database
		email := strings.ToLower(strings.TrimSpace(req.Email))
		if err := db.WithContext(c.Request.Context()).Where("email = ?", email).First(&user).Error; err != nil {
			// Unknown emails and wrong passwords look the same to the caller
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		// Compare provided password with stored hash
		if !utils.CheckPassword(user.Password, req.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		token, err := utils.GenerateJWT(user.ID, user.Email, jwtSecret, ttl) // Generate JWT token
		if err != nil {
			respondError(c, err, "Generate token")
			return
		}
		c.JSON(http.StatusOK, AuthResponse{Message: "Login successful", Token: token})
	}
}

// CurrentUserHandler returns the authenticated user, served from cache when possible
func CurrentUserHandler(db *gorm.DB, cache *utils.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c) // Get userID from context
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		ctx := c.Request.Context()
		// The version is read before the database so a balance write committed in between
		// bumps it and the stale copy below lands under a key nobody reads
		version, verr := cache.Version(ctx, utils.UserNamespace(userID))
		cacheKey := utils.UserKey(userID, version) // Cache key for the user
		var user domain.User
		if verr == nil {
			if found, err := cache.Get(ctx, cacheKey, &user); err == nil && found {
				c.JSON(http.StatusOK, user) // Return cached user
				return
			}
		}
		if err := db.WithContext(ctx).First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
				return
			}
			respondError(c, err, "Get user")
			return
		}
		if verr == nil {
			_ = cache.Set(ctx, cacheKey, user) // Best effort
		}
		c.JSON(http.StatusOK, user)
	}
}

// identityTaken reports whether another user already has the username or email
func identityTaken(db *gorm.DB, username, email string, exceptID uint) (bool, error) {
	q := db.Model(&domain.User{})
	switch {
	case username != "" && email != "":
		q = q.Where("(username = ? OR email = ?)", username, email)
	case username != "":
		q = q.Where("username = ?", username)
	case email != "":
		q = q.Where("email = ?", email)
	default:
		return false, nil
	}
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
