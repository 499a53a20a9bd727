// Package httpapi exposes the authentication engine over HTTP. Paths,
// status codes, and response wording form the compatibility contract with
// existing clients.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"authgate"
)

// Options tunes the HTTP surface.
type Options struct {
	// Logger receives request and error logs; defaults to slog.Default.
	Logger *slog.Logger
	// TrustProxy enables X-Forwarded-For resolution. Only set it when a
	// trusted reverse proxy terminates client connections.
	TrustProxy bool
	// AllowedOrigins configures CORS; empty disables cross-origin access.
	AllowedOrigins []string
}

// Server routes HTTP requests into the engine.
type Server struct {
	engine     *authgate.Engine
	log        *slog.Logger
	trustProxy bool
}

// NewHandler builds the full /auth router.
func NewHandler(engine *authgate.Engine, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: engine, log: logger, trustProxy: opts.TrustProxy}

	r := chi.NewRouter()
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(s.clientContext)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Get("/verify-email", s.handleVerifyEmail)
		r.Post("/resend-verification", s.handleResendVerification)
		r.Post("/login", s.handleLogin)
		r.Post("/2fa/verify", s.handleTwoFactorVerify)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.Post("/forgot-password", s.handleForgotPassword)
		r.Post("/reset-password", s.handleResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.With(s.requireCapability(authgate.CapSelfRead)).
				Get("/me", s.handleMe)
			r.With(s.requireCapability(authgate.CapSelfManageMFA)).
				Post("/2fa/enable-init", s.handleEnableInit)
			r.With(s.requireCapability(authgate.CapSelfManageMFA)).
				Post("/2fa/enable-complete", s.handleEnableComplete)
			r.With(s.requireCapability(authgate.CapSelfManageMFA)).
				Post("/2fa/disable", s.handleDisableMFA)
			r.With(s.requireCapability(authgate.CapSelfManageMFA)).
				Post("/2fa/recovery-codes", s.handleRegenerateCodes)
			r.With(s.requireCapability(authgate.CapSelfChangePass)).
				Post("/change-password", s.handleChangePassword)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
