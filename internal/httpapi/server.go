package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/drops/pkg/drops"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

// Run boots the HTTP storefront over an already-constructed service.
func Run(ctx context.Context, cfg Config, service *drops.Service, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	router := NewRouter(cfg, service, logger, sessionValidator)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("storefront listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter wires the public storefront routes and the session-guarded admin
// routes onto one gin engine.
func NewRouter(cfg Config, service *drops.Service, logger *zap.Logger, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handler := &httpHandler{
		logger:  logger,
		service: service,
		cfg:     cfg,
	}

	api := router.Group("/api")
	api.GET("/drops/current", handler.handleCurrentDrop)
	api.GET("/drops/:id/orderability", handler.handleOrderability)
	api.GET("/drops/:id/inventory", handler.handleInventory)
	api.POST("/intents", handler.handleCreateIntent)
	api.GET("/intents/:id/validate", handler.handleValidateIntent)
	api.GET("/orders/by-intent/:id", handler.handleOrderByIntent)
	api.POST("/webhooks/payment", handler.handlePaymentWebhook)

	admin := api.Group("/admin")
	if validator != nil {
		admin.Use(validator.GinMiddleware(claimsContextKey))
	}
	admin.GET("/drops", handler.handleListDrops)
	admin.POST("/drops", handler.handleCreateDrop)
	admin.POST("/drops/:id/status", handler.handleChangeStatus)
	admin.POST("/drops/:id/products", handler.handleAddProduct)
	admin.PUT("/products/:id/stock", handler.handleSetStock)
	admin.DELETE("/drops/:id", handler.handleDeleteDrop)

	return router
}
