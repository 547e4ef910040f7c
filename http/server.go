// Package http exposes the ledger services as a JSON API.
package http

import (
	"context"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go-currency-ledger/account"
	"go-currency-ledger/commission"
	"go-currency-ledger/exchange"
	"go-currency-ledger/transaction"
	"net/http"
	"time"
)

// Services the handlers call
type Services struct {
	Exchange     exchange.Service
	Commissions  commission.Service
	Accounts     account.Service
	Transactions transaction.Service
}

// HealthFunc reports whether backing stores are reachable
type HealthFunc func(ctx context.Context) error

// Server dependencies for HTTP Server functions
type Server struct {
	Services
	auth    *Authenticator
	health  HealthFunc
	metrics http.Handler
	logger  log.Logger
	router  chi.Router
}

// NewServer a nil health check always passes, a nil metrics handler serves
// the default prometheus registry
func NewServer(s Services, auth *Authenticator, health HealthFunc, metrics http.Handler, logger log.Logger) *Server {
	if s.Exchange == nil || s.Commissions == nil || s.Accounts == nil || s.Transactions == nil || auth == nil {
		panic("http: nil service or authenticator")
	}
	if health == nil {
		health = func(context.Context) error { return nil }
	}
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	server := &Server{
		Services: s,
		auth:     auth,
		health:   health,
		metrics:  metrics,
		logger:   logger,
		router:   chi.NewRouter(),
	}
	server.routes()
	return server
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthz())
	r.Handle("/metrics", s.metrics)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.auth.authenticate)

		r.Post("/convert", s.convert())
		r.Get("/currencies", s.currencies())
		r.Get("/exchange-rates", s.rates())

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/currencies", s.createCurrency())
			r.Post("/exchange-rates", s.createRate())
			r.Put("/exchange-rates/{from}/{to}", s.updateRate())
			r.Delete("/exchange-rates/{from}/{to}", s.deleteRate())

			r.Post("/commissions", s.createTier())
			r.Get("/commissions", s.tiers())
			r.Get("/commissions/{id}", s.tier())
			r.Put("/commissions/{id}", s.updateTier())
			r.Delete("/commissions/{id}", s.deleteTier())
		})

		r.Post("/accounts", s.openAccount())
		r.Get("/accounts", s.accounts())
		r.Get("/accounts/{number}", s.account())
		r.Delete("/accounts/{number}", s.deleteAccount())
		r.Get("/accounts/{number}/transactions", s.history())

		r.Get("/defined-accounts", s.definedAccounts())
		r.Post("/defined-accounts", s.addDefinedAccount())
		r.Delete("/defined-accounts/{number}", s.removeDefinedAccount())

		r.Post("/transfers", s.transfer())
		r.Post("/deposits", s.deposit())
		r.Get("/transactions/{id}", s.transaction())
		r.Post("/transactions/{id}/confirm", s.confirm())
		r.Post("/transactions/{id}/cancel", s.cancel())
	})
}

func (s *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(rw, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)
		defer func(begin time.Time) {
			s.logger.Log(
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"took", time.Since(begin),
			)
		}(time.Now())
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) healthz() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusServiceUnavailable)
			rw.Write([]byte(`{"status":"error","message":"unavailable"}`))
			return
		}
		writeJSON(rw, http.StatusOK, nil)
	}
}
