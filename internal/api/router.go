package api

import (
	"net/http" // HTTP status codes
	"time"     // Token lifetime

	"finance_ledger/internal/ledger"     // Transaction ledger
	"finance_ledger/internal/middleware" // Custom package for middleware
	"finance_ledger/internal/utils"      // Cache

	"github.com/gin-gonic/gin" // Gin web framework
	"gorm.io/gorm"             // GORM ORM library
)

// RouterConfig holds everything the HTTP layer needs
type RouterConfig struct {
	DB         *gorm.DB           // Database handle for reads
	Ledger     TransactionLedger  // Every balance changing write goes through it
	Reconciler *ledger.Reconciler // Admin balance audits
	Cache      *utils.Cache       // Optional, nil disables caching
	JWTSecret  string             // HS256 signing key
	JWTTTL     time.Duration      // Token lifetime
}

// NewRouter wires middleware and routes onto a new gin engine
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New() // Gin router instance
	r.Use(gin.Recovery(), middleware.RequestIDMiddleware(), middleware.LoggerMiddleware())

	r.GET("/healthz", HealthHandler(cfg.DB)) // Liveness and database check

	auth := middleware.JWTAuthMiddleware(cfg.JWTSecret)

	// Auth routes
	authGroup := r.Group("/auth")
	authGroup.POST("/register", RegisterHandler(cfg.DB))                      // Registration endpoint
	authGroup.POST("/login", LoginHandler(cfg.DB, cfg.JWTSecret, cfg.JWTTTL)) // Login endpoint
	authGroup.GET("/user", auth, CurrentUserHandler(cfg.DB, cfg.Cache))       // Current user endpoint

	// User routes (protected by JWT, self only)
	userGroup := r.Group("/users", auth)
	userGroup.GET("/:id", GetUserHandler(cfg.DB))                  // Get profile endpoint
	userGroup.PUT("/:id", UpdateUserHandler(cfg.DB, cfg.Cache))    // Update profile endpoint
	userGroup.DELETE("/:id", DeleteUserHandler(cfg.DB, cfg.Cache)) // Delete account endpoint

	// Category routes (protected by JWT)
	categoryGroup := r.Group("/categories", auth)
	categoryGroup.GET("", ListCategoriesHandler(cfg.DB))        // List categories endpoint
	categoryGroup.POST("", CreateCategoryHandler(cfg.DB))       // Create category endpoint
	categoryGroup.GET("/:id", GetCategoryHandler(cfg.DB))       // Get category endpoint
	categoryGroup.PUT("/:id", UpdateCategoryHandler(cfg.DB))    // Rename category endpoint
	categoryGroup.DELETE("/:id", DeleteCategoryHandler(cfg.DB)) // Delete category endpoint

	// Transaction routes (protected by JWT)
	txGroup := r.Group("/transactions", auth)
	txGroup.GET("", ListTransactionsHandler(cfg.DB, cfg.Cache))             // List transactions endpoint
	txGroup.POST("", CreateTransactionHandler(cfg.Ledger, cfg.Cache))       // Create transaction endpoint
	txGroup.GET("/:id", GetTransactionHandler(cfg.Ledger))                  // Get transaction endpoint
	txGroup.PUT("/:id", UpdateTransactionHandler(cfg.Ledger, cfg.Cache))    // Update transaction endpoint
	txGroup.DELETE("/:id", DeleteTransactionHandler(cfg.Ledger, cfg.Cache)) // Delete transaction endpoint

	// Admin routes (protected, admin only)
	adminGroup := r.Group("/admin", auth, middleware.AdminOnlyMiddleware(cfg.DB))
	adminGroup.GET("/users", ListUsersHandler(cfg.DB))                         // List users endpoint
	adminGroup.GET("/transactions", ListAllTransactionsHandler(cfg.DB))        // List transactions endpoint
	adminGroup.POST("/reconcile", ReconcileHandler(cfg.Reconciler, cfg.Cache)) // Balance audit endpoint

	return r
}

// HealthHandler reports whether the database answers
func HealthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
