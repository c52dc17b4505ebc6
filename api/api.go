// Package api is the HTTP surface over the review core: authentication
// middleware, claim/decision/stats handlers, and the error-to-status
// mapping. Handlers stay thin; all semantics live in the domain packages.
package api

import (
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/slipway-hq/slipway/audit"
	"github.com/slipway-hq/slipway/cache"
	"github.com/slipway-hq/slipway/claim"
	"github.com/slipway-hq/slipway/leaderboard"
	"github.com/slipway-hq/slipway/perms"
	"github.com/slipway-hq/slipway/ratelimit"
	"github.com/slipway-hq/slipway/review"
	"github.com/slipway-hq/slipway/session"
	"github.com/slipway-hq/slipway/store"
)

// Rate limits on the expensive or abusable endpoints. Limits are enforced
// per process instance.
const (
	loginMaxPerWindow    = 10
	loginWindow          = time.Minute
	decisionMaxPerWindow = 60
	decisionWindow       = time.Minute
)

// Cache TTLs for the dashboard aggregates. Mutations do not invalidate
// these; staleness is bounded by the TTL alone.
const (
	statsTTL       = 15 * time.Second
	leaderboardTTL = 60 * time.Second
)

// API holds the dependencies needed by the HTTP handlers.
type API struct {
	store    store.Store
	sessions *session.Manager
	claims   *claim.Manager
	reviews  *review.Service
	ranker   *leaderboard.Ranker
	cache    cache.Cache
	perms    *perms.Checker
	audit    *audit.Logger
	log      *slog.Logger

	loginLimit    ratelimit.LimiterFunc
	decisionLimit ratelimit.LimiterFunc

	nowF func() time.Time
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for handler and audit output.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(log *slog.Logger) Option {
	return func(a *API) {
		a.log = log
		a.audit = audit.New(log)
	}
}

// New creates a new API instance. The limiter service provides the login and
// decision rate limits.
func New(
	st store.Store,
	sessions *session.Manager,
	claims *claim.Manager,
	reviews *review.Service,
	ranker *leaderboard.Ranker,
	c cache.Cache,
	limiter *ratelimit.Service,
	opts ...Option,
) *API {
	a := &API{
		store:         st,
		sessions:      sessions,
		claims:        claims,
		reviews:       reviews,
		ranker:        ranker,
		cache:         c,
		perms:         perms.NewChecker(),
		loginLimit:    limiter.Configure("login", loginMaxPerWindow, loginWindow),
		decisionLimit: limiter.Configure("decision", decisionMaxPerWindow, decisionWindow),
		nowF:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = slog.New(slog.NewJSONHandler(os.Stderr, nil))
		a.audit = audit.New(a.log)
	}
	return a
}

// Router returns a chi.Router with all routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Post("/login", a.Login)
	r.Post("/logout", a.Logout)

	r.Group(func(r chi.Router) {
		r.Use(a.AuthMiddleware)

		r.Get("/items", a.ListItems)
		r.Post("/items/{itemID}/claim", a.ClaimItem)
		r.Delete("/items/{itemID}/claim", a.ReleaseItem)
		r.Post("/items/{itemID}/decision", a.RecordDecision)

		r.Get("/stats", a.Stats)
		r.Get("/leaderboard", a.Leaderboard)

		r.Post("/users", a.CreateUser)
		r.Post("/users/{userID}/deactivate", a.DeactivateUser)
		r.Delete("/users/{userID}/sessions", a.RevokeSessions)
	})

	return r
}
