package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stepgate/server/internal/auth"
	"github.com/stepgate/server/internal/http/handlers"
	"github.com/stepgate/server/internal/middleware"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(authHandler *handlers.AuthHandler, tokens *auth.TokenSigner, sessions *auth.SessionManager) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/confirm_email", authHandler.HandleConfirmEmail)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/verify_step_up", authHandler.HandleVerifyStepUp)
		r.Post("/logout", authHandler.HandleLogout)
		r.Post("/issue_challenge", authHandler.HandleIssueChallenge)
		r.Post("/reset_password", authHandler.HandleResetPassword)
		r.Get("/session", authHandler.HandleResolveSession)
	})

	// Protected routes (require a live, committed session)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(tokens, sessions))
		r.Get("/me", authHandler.HandleMe)
		r.Post("/auth/2fa/setup", authHandler.HandleSetupTwoFactor)
		r.Post("/auth/2fa/verify", authHandler.HandleVerifyTwoFactor)
		r.Post("/auth/change_email", authHandler.HandleChangeEmail)
	})

	return r
}
