package main

import (
	"context"
	"crypto/tls"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"
	"github.com/username/bankfolio/backend/src/config"
	"github.com/username/bankfolio/backend/src/database"
	"github.com/username/bankfolio/backend/src/handlers"
	"github.com/username/bankfolio/backend/src/logger"
	"github.com/username/bankfolio/backend/src/security"
	"github.com/username/bankfolio/backend/src/services"
	"github.com/username/bankfolio/backend/src/utils"
	"golang.org/x/time/rate"
)

func proxyHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-Proto") == "https" {
			r.URL.Scheme = "https"
			r.TLS = &tls.ConnectionState{}
		}
		next.ServeHTTP(w, r)
	})
}

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded", "path", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000":    true,
			config.Cfg.FrontendBaseURL: true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Requested-With, Cookie, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "X-CSRF-Token, ETag")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	logger.L.Info("Bankfolio backend server starting...")

	if len(config.Cfg.JWTSecret) < 32 {
		logger.L.Error("JWT_SECRET configuration invalid: must be at least 32 characters.")
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	database.RunMigrations(config.Cfg.DatabasePath)

	overviewCache := cache.New(config.Cfg.OverviewCacheTTL, 2*config.Cfg.OverviewCacheTTL)

	handlers.InitializeGoogleOAuthConfig()

	authService := security.NewAuthService(config.Cfg.JWTSecret, config.Cfg.AccessTokenExpiry)
	emailService := services.NewEmailService()
	ledgerService := services.NewLedgerService(database.DB)
	mfaService := services.NewMFAService()
	statementService := services.NewStatementService(database.DB, emailService)
	recurringRunner := services.NewRecurringRunner(database.DB, ledgerService)

	outboxDispatcher := services.NewOutboxDispatcher(database.DB, emailService, config.Cfg.OutboxInterval, config.Cfg.OutboxMaxRetries)
	outboxDispatcher.Start()
	defer outboxDispatcher.Stop()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(config.Cfg.RecurringCron, recurringRunner.RunDue); err != nil {
		stdlog.Fatalf("Failed to schedule recurring transfer runner: %v", err)
	}
	if _, err := scheduler.AddFunc(config.Cfg.StatementCron, statementService.ProcessPending); err != nil {
		stdlog.Fatalf("Failed to schedule statement worker: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	userHandler := handlers.NewUserHandler(authService, emailService, ledgerService, overviewCache, mfaService)
	txHandler := handlers.NewTransactionHandler(ledgerService)
	statementHandler := handlers.NewStatementHandler()

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Use(proxyHeadersMiddleware)
	r.Use(enableCORS)
	r.Use(rateLimitMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		utils.SendJSON(w, map[string]string{"message": "Bankfolio Backend is running"}, http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Group(func(r chi.Router) {
			r.Get("/auth/csrf", handlers.GetCSRFToken)
			r.Get("/auth/verify-email", userHandler.VerifyEmailHandler)
			r.Get("/auth/google/login", userHandler.HandleGoogleLogin)
			r.Get("/auth/google/callback", userHandler.HandleGoogleCallback)
		})

		// Authentication routes (CSRF protected)
		r.Group(func(r chi.Router) {
			r.Use(handlers.CSRFMiddleware(config.Cfg.CSRFAuthKey))
			r.Post("/auth/login", userHandler.LoginUserHandler)
			r.Post("/auth/register", userHandler.RegisterUserHandler)
			r.Post("/auth/refresh", userHandler.RefreshTokenHandler)
			r.With(userHandler.AuthMiddleware).Post("/auth/logout", userHandler.LogoutUserHandler)
			r.Post("/auth/request-password-reset", userHandler.RequestPasswordResetHandler)
			r.Post("/auth/reset-password", userHandler.ResetPasswordHandler)
			r.Post("/admin/register", userHandler.HandleAdminRegister)
			r.Post("/admin/login", userHandler.HandleAdminLogin)
		})

		// Protected routes (auth + CSRF)
		r.Group(func(r chi.Router) {
			r.Use(handlers.CSRFMiddleware(config.Cfg.CSRFAuthKey))
			r.Use(userHandler.AuthMiddleware)

			r.Get("/balance", userHandler.HandleGetBalance)
			r.Get("/transactions", txHandler.HandleGetTransactions)
			r.Post("/transactions/deposit", txHandler.HandleDeposit)
			r.Post("/transactions/withdrawal", txHandler.HandleWithdrawal)
			r.Post("/transactions/transfer", txHandler.HandleTransfer)
			r.Get("/transactions/recurring", txHandler.HandleListRecurring)
			r.Post("/transactions/recurring", txHandler.HandleCreateRecurring)
			r.Get("/statements", statementHandler.HandleListStatements)
			r.Post("/statements", statementHandler.HandleRequestStatement)
			r.Get("/statements/{statementID}", statementHandler.HandleGetStatement)
			r.Post("/user/change-password", userHandler.ChangePasswordHandler)

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(userHandler.RequireAdmin)
				r.Get("/admin/overview", userHandler.HandleGetAdminOverview)
				r.Post("/admin/overview/clear-cache", userHandler.HandleClearOverviewCache)
				r.Get("/admin/users", userHandler.HandleGetAdminUsers)
				r.Patch("/admin/users/{userID}/verified", userHandler.HandleSetUserVerified)
				r.Patch("/admin/transactions/{entryID}/date", userHandler.HandleOverrideTransactionDate)

				r.Get("/admin/mfa/setup", userHandler.HandleSetupMFA)
				r.Post("/admin/mfa/enable", userHandler.HandleActivateMFA)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			utils.SendJSONError(w, "Not found", http.StatusNotFound)
			return
		}
		http.NotFound(w, r)
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.L.Info("Server starting", "address", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			stdlog.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.L.Info("Shutdown signal received, draining...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.L.Error("Server shutdown error", "error", err)
	}
	logger.L.Info("Server stopped")
}
