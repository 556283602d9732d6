package main

import (
	"context"   // context package is needed for Redis and shutdown
	"errors"    // Server close detection
	"net/http"  // HTTP server
	"os"        // Signal notification
	"os/signal" // Graceful shutdown
	"syscall"   // SIGTERM
	"time"      // Timeouts

	"finance_ledger/internal/api"    // Custom package for API handlers
	"finance_ledger/internal/config" // Custom package for configuration
	"finance_ledger/internal/db"     // Custom package for database access
	"finance_ledger/internal/events" // Custom package for event publishing
	"finance_ledger/internal/ledger" // Custom package for the transaction ledger
	"finance_ledger/internal/utils"  // Custom package for caching

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/robfig/cron/v3"    // Scheduled balance audits
	"github.com/sirupsen/logrus"   // Logrus for structured logging
)

// Main function to set up and run the server
func main() {
	cfg, err := config.LoadConfig() // Load configuration
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	// Setup logger
	setupLogger(cfg)

	// Connect to the database and bring the schema up to date
	gdb, err := db.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
	}
	if err := db.Migrate(gdb); err != nil {
		logrus.Fatalf("failed to migrate DB: %v", err)
	}

	// Setup Redis cache, optional
	var rdb redis.Cmdable
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr, // Redis server address
			Password: cfg.RedisPass, // Redis password
			DB:       cfg.RedisDB,   // Redis database number
		})
		// Test Redis connection
		if err := client.Ping(context.Background()).Err(); err != nil {
			logrus.Fatalf("failed to connect to Redis: %v", err)
		}
		defer client.Close()
		rdb = client
	} else {
		logrus.Info("REDIS_ADDR not set, caching disabled")
	}
	cache := utils.NewCache(rdb, cfg.CacheTTL)

	// Setup the ledger
	policy, err := ledger.ParseCategoryPolicy(cfg.CategoryPolicy)
	if err != nil {
		logrus.Fatalf("invalid CATEGORY_POLICY: %v", err)
	}
	var opts []ledger.Option
	if cfg.AMQPURL != "" {
		publisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logrus.Fatalf("failed to connect to RabbitMQ: %v", err)
		}
		defer publisher.Close()
		opts = append(opts, ledger.WithPublisher(publisher))
	} else {
		logrus.Info("AMQP_URL not set, ledger events disabled")
	}
	l := ledger.New(gdb, ledger.NewResolver(policy), opts...)
	reconciler := ledger.NewReconciler(gdb)

	// Schedule the balance audit
	if cfg.AuditSchedule != "" {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(cfg.AuditSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if _, err := reconciler.Audit(ctx); err != nil {
				logrus.WithError(err).Error("Balance audit failed")
			}
		})
		if err != nil {
			logrus.Fatalf("invalid AUDIT_SCHEDULE: %v", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup Gin
	r := api.NewRouter(api.RouterConfig{
		DB:         gdb,
		Ledger:     l,
		Reconciler: reconciler,
		Cache:      cache,
		JWTSecret:  cfg.JWTSecret,
		JWTTTL:     cfg.JWTTTL,
	})

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logrus.WithField("port", cfg.AppPort).Info("Server running") // Log server start
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("server failed: %v", err)
		}
	}()

	// Wait for interrupt, then drain in-flight requests
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logrus.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server shutdown failed")
	}
}

// setupLogger configures logrus level and format
func setupLogger(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.IsProd {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
