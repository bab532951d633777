package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/signal-tracker/internal/config"
	"github.com/signal-tracker/internal/handler"
	"github.com/signal-tracker/internal/middleware"
	"github.com/signal-tracker/internal/models"
	"github.com/signal-tracker/internal/pricefeed"
	"github.com/signal-tracker/internal/repository"
	"github.com/signal-tracker/internal/service"
	"github.com/signal-tracker/internal/worker"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Build info (injected at build time via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	gin.SetMode(cfg.Server.Mode)

	if err := middleware.InitLogger(cfg.Log.Dir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Initialize database. A missing configuration is tolerated: trade
	// endpoints answer 503 until the store is configured.
	var tradeService *service.TradeService
	if cfg.Database.Configured() {
		db, err := initDatabase(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}

		if err := autoMigrate(db); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}

		tradeRepo := repository.NewVirtualTradeRepository(db)
		tradeService = service.NewTradeService(tradeRepo)
	} else {
		log.Println("Warning: database not configured, trade endpoints will return 503")
	}

	// Initialize Redis
	rdb := initRedis(cfg)

	// Initialize price service with the configured source
	priceService := service.NewPriceService(rdb, newPriceSource(cfg))

	// Initialize handlers
	tradeHandler := handler.NewTradeHandler(tradeService)
	priceHandler := handler.NewPriceHandler(priceService)

	// Create Gin router
	router := gin.Default()

	router.Use(middleware.RequestLoggerMiddleware())
	router.Use(corsMiddleware())

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
			"time":       time.Now().Unix(),
			"database":   cfg.Database.Configured(),
			"prices":     priceService.Status(),
		})
	})

	// API routes
	api := router.Group("/api")
	{
		writerAuth := middleware.WriterAuthMiddleware(cfg.Auth.WriterSecret)
		tradeHandler.RegisterRoutes(api, writerAuth)
		priceHandler.RegisterRoutes(api)
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start price service
	ctx := context.Background()
	if err := priceService.Start(ctx, cfg.Prices.Symbols); err != nil {
		log.Printf("Warning: Failed to start price service: %v", err)
	}

	// Start the entry-timeout sweeper
	var sweeper *worker.TimeoutSweeper
	if cfg.Worker.Enabled && tradeService != nil {
		sweeper = worker.NewTimeoutSweeper(tradeService, time.Duration(cfg.Worker.IntervalSec)*time.Second)
		go sweeper.Start()
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	if sweeper != nil {
		sweeper.Stop()
	}
	priceService.Stop()

	// Graceful shutdown with 10 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := rdb.Close(); err != nil {
		log.Printf("Error closing Redis connection: %v", err)
	}

	log.Println("Server exited properly")
}

func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Info)
	if cfg.Server.Mode == "release" {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func newPriceSource(cfg *config.Config) pricefeed.Source {
	if cfg.Prices.Source == "live" {
		return pricefeed.NewLiveSource()
	}
	return pricefeed.NewSyntheticSource(cfg.Prices.Seed, time.Second)
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.VirtualTrade{},
	)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
