package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bookloop/circulation/internal/http/features/books"
	"github.com/bookloop/circulation/internal/http/features/loans"
	"github.com/bookloop/circulation/internal/http/features/members"
	"github.com/bookloop/circulation/internal/http/middleware"
	"github.com/bookloop/circulation/internal/httputil"
	loansvc "github.com/bookloop/circulation/pkg/loans"
	"github.com/bookloop/circulation/pkg/repository"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger          *slog.Logger
	LoanService     *loansvc.Service
	BooksRepo       *repository.BooksRepository
	MembersRepo     *repository.MembersRepository
	DefaultLoanDays int

	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Mutating loan routes share one rate limiter; reads are unlimited.
	limiter := middleware.NoRateLimit()
	if cfg.RateLimitEnabled {
		limiter = middleware.RateLimit(middleware.RateLimitConfig{
			Requests: cfg.RateLimitRequests,
			Window:   cfg.RateLimitWindow,
			Logger:   cfg.Logger,
		})
	}

	loansHandler := loans.NewHandler(cfg.Logger, cfg.LoanService, cfg.DefaultLoanDays)
	r.Group(func(r chi.Router) {
		r.Use(limiter)
		r.Post("/v1/loans", loansHandler.Checkout)
		r.Post("/v1/loans/{id}/return", loansHandler.Return)
		r.Patch("/v1/loans/{id}", loansHandler.Update)
		r.Delete("/v1/loans/{id}", loansHandler.Delete)
	})
	r.Get("/v1/loans", loansHandler.List)
	r.Get("/v1/loans/active", loansHandler.Active)
	r.Get("/v1/loans/overdue", loansHandler.Overdue)
	r.Get("/v1/loans/{id}", loansHandler.Get)
	r.Get("/v1/members/{id}/loans", loansHandler.MemberLoans)

	booksHandler := books.NewHandler(cfg.Logger, cfg.BooksRepo)
	r.Post("/v1/books", booksHandler.Create)
	r.Get("/v1/books", booksHandler.List)
	r.Get("/v1/books/{id}", booksHandler.Get)
	r.Delete("/v1/books/{id}", booksHandler.Delete)

	membersHandler := members.NewHandler(cfg.Logger, cfg.MembersRepo)
	r.Post("/v1/members", membersHandler.Create)
	r.Get("/v1/members", membersHandler.List)
	r.Get("/v1/members/{id}", membersHandler.Get)
	r.Delete("/v1/members/{id}", membersHandler.Delete)

	return r
}
