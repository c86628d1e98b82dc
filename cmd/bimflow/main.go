package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"bimflow/internal/config"
	"bimflow/internal/database"
	"bimflow/internal/handler"
	"bimflow/internal/logging"
	"bimflow/internal/metrics"
	"bimflow/internal/model"
	"bimflow/internal/mw"
	"bimflow/internal/payment"
	"bimflow/internal/service"
	"bimflow/internal/storage"
)

func main() {
	logger := logging.NewSugaredLogger()
	defer logger.Sync()

	cfg, err := config.New()
	if err != nil {
		logger.Fatalw("invalid configuration", "error", err)
	}

	db, err := database.NewDB(cfg.DatabaseURI)
	if err != nil {
		logger.Fatalw("failed to connect to DB", "error", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		logger.Fatalw("failed to run migrations", "error", err)
	}

	signer, err := storage.NewURLSigner(cfg.StorageEndpoint, cfg.StorageSigningSecret, cfg.SignedURLTTL)
	if err != nil {
		logger.Fatalw("invalid storage endpoint", "error", err)
	}
	checkout := payment.NewClient(cfg.PaymentBaseURL, cfg.PaymentAPIKey)
	reg := metrics.NewRegistry()

	// Services
	authSvc := service.NewAuthService(db)
	keySvc := service.NewAPIKeyService(db, logger)
	orderSvc := service.NewOrderService(db, logger, reg)
	fileSvc := service.NewFileService(db)
	transferSvc := service.NewTransferService(orderSvc, fileSvc, signer, logger, reg)

	r := newRouter(cfg, logger, reg, authSvc, keySvc, orderSvc, fileSvc, transferSvc, checkout)

	srv := &http.Server{
		Addr:         cfg.RunAddress,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	logger.Infow("starting server", "addr", cfg.RunAddress)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("server failed", "error", err)
		}
	}()

	<-quit
	logger.Info("shutting down...")

	ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()

	if err := srv.Shutdown(ctxShut); err != nil {
		logger.Errorw("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}

func newRouter(
	cfg *config.Config,
	logger *zap.SugaredLogger,
	reg *metrics.Registry,
	authSvc *service.AuthService,
	keySvc *service.APIKeyService,
	orderSvc *service.OrderService,
	fileSvc *service.FileService,
	transferSvc *service.TransferService,
	checkout payment.CheckoutCreator,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(mw.RequestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	session := mw.SessionResolver{Secret: cfg.JWTSecret}
	bearer := mw.BearerResolver{Tokens: keySvc}

	// Public routes
	r.Post("/api/auth/register", handler.RegisterHandler(authSvc, cfg.JWTSecret, logger))
	r.Post("/api/auth/login", handler.LoginHandler(authSvc, cfg.JWTSecret, logger))
	r.Post("/api/webhooks/payment", handler.PaymentWebhookHandler(orderSvc, cfg.PaymentWebhookSecret, reg, logger))
	r.Method("GET", "/metrics", reg.Handler())

	// Web client routes (cookie session)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(logger, session))

		r.Post("/api/auth/apikeys", handler.IssueAPIKeyHandler(keySvc, logger))

		r.Post("/api/orders", handler.CreateOrderHandler(orderSvc, logger))
		r.Get("/api/orders", handler.ListMyOrdersHandler(orderSvc, logger))
		r.Get("/api/orders/{id}", handler.GetOrderHandler(orderSvc, fileSvc, logger))
		r.Post("/api/orders/{id}/checkout", handler.CheckoutHandler(orderSvc, checkout, logger))
		r.Post("/api/orders/{id}/uploads", handler.InitiateUploadHandler(orderSvc, transferSvc, model.RoleInput, logger))
		r.Post("/api/orders/{id}/uploads/confirm", handler.ConfirmUploadHandler(orderSvc, transferSvc, model.RoleInput, logger))
		r.Get("/api/orders/{id}/files/{fileID}/download", handler.DownloadFileHandler(orderSvc, fileSvc, transferSvc, logger))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireAdmin)

			r.Get("/api/admin/orders", handler.AdminListOrdersHandler(orderSvc, logger))
			r.Post("/api/admin/orders/{id}/uploads", handler.InitiateUploadHandler(orderSvc, transferSvc, model.RoleOutput, logger))
			r.Post("/api/admin/orders/{id}/uploads/confirm", handler.ConfirmUploadHandler(orderSvc, transferSvc, model.RoleOutput, logger))
			r.Post("/api/admin/orders/{id}/complete", handler.MarkCompleteHandler(orderSvc, logger))
			r.Post("/api/admin/orders/{id}/override", handler.OverrideStatusHandler(orderSvc, logger))
		})
	})

	// Add-in routes (bearer token). Same handlers, same contracts; only
	// the credential kind differs.
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(logger, bearer))

		r.Post("/api/addin/orders", handler.CreateOrderHandler(orderSvc, logger))
		r.Get("/api/addin/orders", handler.ListMyOrdersHandler(orderSvc, logger))
		r.Get("/api/addin/orders/{id}", handler.GetOrderHandler(orderSvc, fileSvc, logger))
		r.Post("/api/addin/orders/{id}/checkout", handler.CheckoutHandler(orderSvc, checkout, logger))
		r.Post("/api/addin/orders/{id}/uploads", handler.InitiateUploadHandler(orderSvc, transferSvc, model.RoleInput, logger))
		r.Post("/api/addin/orders/{id}/uploads/confirm", handler.ConfirmUploadHandler(orderSvc, transferSvc, model.RoleInput, logger))
		r.Get("/api/addin/orders/{id}/download", handler.DownloadByRoleHandler(orderSvc, transferSvc, logger))
	})

	return r
}
