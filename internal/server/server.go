// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware, and
// routes, and decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.Config and passes it to New, which creates:
//
//	sqlite.DB → UserDB / TodoDB / SessionDB
//	          → PasswordService, ResetTokenService, SessionManager
//	          → AccountService, UserService, TodoService
//	          → AccountHandler, UserHandler, TodoHandler, OAuthHandler
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/todo-accounts/internal/auth"
	"github.com/sakif/todo-accounts/internal/config"
	"github.com/sakif/todo-accounts/internal/handler"
	"github.com/sakif/todo-accounts/internal/mailer"
	"github.com/sakif/todo-accounts/internal/middleware"
	sqliteRepo "github.com/sakif/todo-accounts/internal/repository/sqlite"
	"github.com/sakif/todo-accounts/internal/service"
	"github.com/sakif/todo-accounts/internal/storage"
)

// shutdownTimeout is how long in-flight requests get to finish.
const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection. Start closes it after the HTTP
// server has drained, and Close does the same for servers that never started.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// deps are the pieces New picks from config. Tests swap them for fakes.
type deps struct {
	passwords *auth.PasswordService
	mail      mailer.Mailer
	github    auth.OAuthProvider
}

// New creates a Server from cfg.
//
// MAIL:
// With no SMTP host configured, reset links are written to the log. This keeps
// the password reset flow usable in development.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	d := deps{passwords: auth.NewPasswordService()}

	if cfg.SMTP.Host != "" {
		d.mail = mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	} else {
		logger.Warn("SMTP not configured, password reset links will be logged")
		d.mail = mailer.NewLogMailer(logger)
	}

	if cfg.GitHub.Enabled() {
		d.github = auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL)
	} else {
		logger.Info("GitHub sign-in disabled, GITHUB_CLIENT_ID/GITHUB_CLIENT_SECRET not set")
	}

	if cfg.GeneratedResetSecret {
		logger.Warn("RESET_SECRET not set, using a random secret; reset links will not survive a restart")
	}

	return newServer(cfg, logger, d)
}

func newServer(cfg *config.Config, logger *slog.Logger, d deps) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(d); err != nil {
		db.Close() // Clean up DB if route setup fails
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	public (OptionalAuth)
//	  GET       /                        → landing page
//	  GET/POST  /signup                  → register
//	  GET/POST  /signin                  → sign in
//	  GET       /signout                 → sign out
//	  GET/POST  /get-email               → request a reset link
//	  GET/POST  /change-password/{id}    → complete a reset
//	  GET       /auth/github/login       → GitHub sign-in (when configured)
//	  GET       /auth/github/callback
//	protected (RequireAuth)
//	  GET       /home                    → todo list
//	  GET/POST  /createtodo
//	  GET/POST  /updatetodo/{id}
//	  GET       /deletetodo/{id}
//	  GET       /profile
//	  POST      /avatar
//	  GET/POST  /update/{id}
//	  GET       /delete/{id}
//	  GET/POST  /reset/{id}
//	other
//	  GET       /static/*                → CSS, avatars
//	  GET       /healthz                 → database ping
//
// MIDDLEWARE ORDER MATTERS:
// Middleware executes in the order it's added. Our order:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request with timing info and the request ID
// 4. Recoverer: catches panics and returns 500 instead of crashing
// 5. SecurityHeaders
func (s *Server) setupRoutes(d deps) error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.SecurityHeaders)

	// === Core services ===
	resets, err := auth.NewResetTokenService(s.config.ResetSecret, auth.DefaultResetTTL)
	if err != nil {
		return fmt.Errorf("creating reset token service: %w", err)
	}
	sessions := auth.NewSessionManager(s.db.Sessions(), s.config.SessionTTL, s.config.SecureCookies())

	avatars, err := storage.NewDiskStore(filepath.Join(s.config.StaticDir, "avatars"))
	if err != nil {
		return fmt.Errorf("creating avatar store: %w", err)
	}

	renderer, err := handler.NewTemplateRenderer(s.config.TemplateDir)
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}

	// DEPENDENCY CHAIN:
	//   s.db → repositories → services → handlers
	// The handler never touches the database directly.
	// The service never touches HTTP.
	accountService := service.NewAccountService(
		s.db.Users(), d.passwords, resets, d.mail, sessions, s.config.BaseURL, s.logger,
	)
	userService := service.NewUserService(s.db.Users(), avatars, s.logger)
	todoService := service.NewTodoService(s.db.Todos(), s.logger)

	accountHandler := handler.NewAccountHandler(accountService, sessions, renderer, s.logger, d.github != nil)
	userHandler := handler.NewUserHandler(userService, renderer, s.logger)
	todoHandler := handler.NewTodoHandler(todoService, renderer, s.logger)

	// === Static Files ===
	// GET /static/css/style.css → serves {StaticDir}/css/style.css
	fileServer := http.FileServer(http.Dir(s.config.StaticDir))
	s.router.Handle("/static/*", http.StripPrefix("/static/", fileServer))

	s.router.Get("/healthz", s.handleHealth)

	// === Public pages ===
	s.router.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(sessions, s.logger))

		r.Get("/", accountHandler.HandleIndex)
		r.Get("/signup", accountHandler.HandleSignupForm)
		r.Post("/signup", accountHandler.HandleSignup)
		r.Get("/signin", accountHandler.HandleSigninForm)
		r.Post("/signin", accountHandler.HandleSignin)
		r.Get("/signout", accountHandler.HandleSignout)
		r.Get("/get-email", accountHandler.HandleGetEmailForm)
		r.Post("/get-email", accountHandler.HandleGetEmail)
		r.Get("/change-password/{id}", accountHandler.HandleChangePasswordForm)
		r.Post("/change-password/{id}", accountHandler.HandleChangePassword)

		if d.github != nil {
			oauthHandler := handler.NewOAuthHandler(d.github, accountService, sessions, renderer, s.logger, s.config.SecureCookies())
			r.Get("/auth/github/login", oauthHandler.HandleGitHubLogin)
			r.Get("/auth/github/callback", oauthHandler.HandleGitHubCallback)
		}
	})

	// === Protected pages ===
	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(sessions, s.logger))

		r.Get("/home", todoHandler.HandleHome)
		r.Get("/createtodo", todoHandler.HandleCreateForm)
		r.Post("/createtodo", todoHandler.HandleCreate)
		r.Get("/updatetodo/{id}", todoHandler.HandleUpdateForm)
		r.Post("/updatetodo/{id}", todoHandler.HandleUpdate)
		r.Get("/deletetodo/{id}", todoHandler.HandleDelete)

		r.Get("/profile", userHandler.HandleProfile)
		r.Post("/avatar", userHandler.HandleAvatar)
		r.Get("/update/{id}", userHandler.HandleUpdateForm)
		r.Post("/update/{id}", userHandler.HandleUpdate)
		r.Get("/delete/{id}", userHandler.HandleDelete)

		r.Get("/reset/{id}", accountHandler.HandleResetForm)
		r.Post("/reset/{id}", accountHandler.HandleReset)
	})

	return nil
}

// handleHealth reports whether the database answers.
//
// HTTP: GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unavailable\n"))
		return
	}
	w.Write([]byte("ok\n"))
}

// Handler exposes the router, for tests and for embedding in another server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database. Only needed when Start was never called.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the database connection (flushes WAL, releases file lock)
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second, // avatar uploads
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.BaseURL),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
