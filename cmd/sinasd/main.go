package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"sinas/internal/auth"
	"sinas/internal/handlers"
	"sinas/internal/logger"
	"sinas/internal/store"
	"sinas/internal/store/file"
	"sinas/internal/store/sqlite"
	"sinas/internal/ws"
	"sinas/pkg/config"
)

func rateLimitMiddleware(limiterInstance *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		limiterContext, err := limiterInstance.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "rate limiter error"})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiterContext.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", limiterContext.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", limiterContext.Reset))

		if limiterContext.Reached {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}

		c.Next()
	}
}

func panicRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Log.Error("panic recovered",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("ip", c.ClientIP()),
			zap.Any("error", recovered),
			zap.ByteString("stack", debug.Stack()),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

func corsMiddleware(origins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origins)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// newStore builds the persistence backend the configuration selects.
func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to prepare database directory: %w", err)
		}
		filesRoot := filepath.Join(cfg.DataRoot, "files")
		if err := os.MkdirAll(filesRoot, 0o755); err != nil {
			return nil, fmt.Errorf("failed to prepare files directory: %w", err)
		}
		return sqlite.New(cfg.DatabasePath, filesRoot)
	case "file":
		if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
			return nil, fmt.Errorf("failed to prepare data root: %w", err)
		}
		return file.New(cfg.DataRoot)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func main() {
	cfg := config.Load()

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Log.Sync()

	if err := runServer(cfg); err != nil {
		logger.Log.Fatal("server failed", zap.Error(err))
	}
}

func runServer(cfg *config.Config) error {
	st, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	logger.Log.Info("store ready",
		zap.String("backend", cfg.StoreBackend),
		zap.String("files_root", st.FilesRoot()),
	)

	authSvc := auth.New(st, cfg.JWTSecret)

	hub := ws.NewHub()
	go hub.Run()

	authHandler := handlers.NewAuthHandler(authSvc, cfg.StoreTimeout)
	convHandler := handlers.NewConversationHandler(st, hub, cfg.StoreTimeout)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(panicRecovery())
	router.Use(corsMiddleware(cfg.CORSOrigins))

	api := router.Group("/api")
	{
		loginLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 5})
		registerLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 2})

		api.POST("/auth/register", rateLimitMiddleware(registerLimiter), authHandler.Register)
		api.POST("/auth/login", rateLimitMiddleware(loginLimiter), authHandler.Login)
	}

	protected := api.Group("")
	protected.Use(authHandler.AuthMiddleware())
	{
		protected.POST("/auth/password", authHandler.ChangePassword)
		protected.POST("/connect", convHandler.Connect)
		protected.GET("/users/:username", convHandler.GetUserProfile)

		protected.GET("/conversations", convHandler.GetConversations)
		protected.POST("/conversations", convHandler.CreateConversation)
		protected.GET("/conversations/:id", convHandler.GetConversation)
		protected.PUT("/conversations/:id", convHandler.UpdateConversation)
		protected.POST("/conversations/:id/messages", convHandler.CreateMessage)
		protected.PUT("/conversations/:id/messages/:msgID", convHandler.UpdateMessage)
		protected.POST("/conversations/:id/files", convHandler.UploadFile)
	}

	// Serve stored file payloads directly.
	router.StaticFS("/api/files", gin.Dir(st.FilesRoot(), false))

	router.GET("/ws", authHandler.AuthMiddleware(), hub.HandleWebSocket)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	addr := fmt.Sprintf("0.0.0.0:%s", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigint:
		logger.Log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}
