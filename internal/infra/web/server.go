package web

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Xybronix/ecomobile/internal/infra/logging"
	"github.com/Xybronix/ecomobile/internal/usecase"
)

// Server exposes the engine to its callers: the admin console (session
// cookie) and the platform's collaborating services (Bearer service key).
type Server struct {
	ruleUC   *usecase.RuleUseCase
	grantUC  *usecase.GrantUseCase
	ledgerUC *usecase.LedgerUseCase

	auth          *AuthManager
	adminPassword string
	serviceKey    string
	log           *zerolog.Logger
}

func NewServer(
	ruleUC *usecase.RuleUseCase,
	grantUC *usecase.GrantUseCase,
	ledgerUC *usecase.LedgerUseCase,
	auth *AuthManager,
	adminPassword, serviceKey string,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "Web").Logger()
	return &Server{
		ruleUC:        ruleUC,
		grantUC:       grantUC,
		ledgerUC:      ledgerUC,
		auth:          auth,
		adminPassword: adminPassword,
		serviceKey:    serviceKey,
		log:           &l,
	}
}

// Router builds the chi mux with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.traceID, s.requestLog, s.recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Post("/api/v1/auth/login", s.loginHandler)
	r.Post("/api/v1/auth/logout", s.logoutHandler)

	// Admin console: rule CRUD and roster management.
	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/", s.rulesListHandler)
		r.Post("/", s.rulesCreateHandler)
		r.Get("/{ruleID}", s.rulesGetHandler)
		r.Patch("/{ruleID}", s.rulesUpdateHandler)
		r.Delete("/{ruleID}", s.rulesDeleteHandler)
		r.Post("/{ruleID}/beneficiaries", s.beneficiaryAddHandler)
		r.Delete("/{ruleID}/beneficiaries/{userID}", s.beneficiaryRemoveHandler)
	})

	// Collaborating services: registration hook, ride settlement, rider app.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireServiceKey)
		r.Post("/hooks/signup", s.signupHookHandler)
		r.Post("/rides/settle", s.rideSettleHandler)
		r.Get("/users/{userID}/free-days", s.userFreeDaysHandler)
		r.Post("/users/{userID}/free-days/{beneficiaryID}/activate", s.activateHandler)
	})

	return r
}

// ===== middleware =====

func (s *Server) traceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithTraceID(r.Context(), uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := logging.With(r.Context(), s.log)
		start := time.Now()
		ww := &respWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)
		l.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.With(r.Context(), s.log).Error().Interface("panic", rec).Msg("panic recovered")
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireAdmin accepts a valid session cookie (or Bearer JWT).
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireServiceKey authenticates platform services with a shared key.
func (s *Server) requireServiceKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.serviceKey == "" {
			s.log.Error().Msg("service key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		token := bearerToken(r)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.serviceKey)) != 1 {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(hdr) > len(prefix) && hdr[:len(prefix)] == prefix {
		return hdr[len(prefix):]
	}
	return ""
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
