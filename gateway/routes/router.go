package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mavuno/core"
	"mavuno/gateway/middleware"
	"mavuno/services/timeline"
)

// Rate limit groups. Each has its own bucket per client.
const (
	GroupRead    = "read"
	GroupWrite   = "write"
	GroupAdmin   = "admin"
	GroupWebhook = "webhook"
)

type Config struct {
	Node          *core.Node
	Timeline      *timeline.Store
	Webhook       http.Handler
	Stream        *Hub
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

type api struct {
	node     *core.Node
	timeline *timeline.Store
	logger   *slog.Logger
}

// New builds the HTTP surface over the ledger. Reads are anonymous, writes
// act as the bearer token's subject, and admin routes also need the admin
// scope.
func New(cfg Config) (http.Handler, error) {
	if cfg.Node == nil {
		return nil, errors.New("routes: node required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("routes: authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{node: cfg.Node, timeline: cfg.Timeline, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	obs := cfg.Observability
	limit := func(group string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return passthrough
		}
		return cfg.RateLimiter.Middleware(group)
	}
	observe := func(group string) func(http.Handler) http.Handler {
		if obs == nil {
			return passthrough
		}
		return obs.Middleware(group)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	r.Group(func(rr chi.Router) {
		rr.Use(limit(GroupRead), observe(GroupRead))
		rr.Get("/v1/pools", a.listPools)
		rr.Get("/v1/pools/{currency}", a.getPool)
		rr.Get("/v1/pools/{currency}/accounts/{addr}", a.getPoolAccount)
		rr.Get("/v1/oracle/{currency}", a.getQuote)
		rr.Get("/v1/farmers", a.listFarmers)
		rr.Get("/v1/farmers/{addr}", a.getFarmer)
		rr.Get("/v1/farmers/{addr}/pledges", a.getPledges)
		rr.Get("/v1/fiat/{currency}", a.getFiatInfo)
		rr.Get("/v1/fiat/{currency}/balances/{addr}", a.getFiatBalance)
		rr.Get("/v1/accounts/{addr}/native", a.getNativeBalance)
		if a.timeline != nil {
			rr.Get("/v1/timeline", a.listTimeline)
			rr.Get("/v1/timeline/{addr}", a.listAccountTimeline)
		}
		if cfg.Stream != nil {
			rr.Handle("/v1/events/ws", cfg.Stream)
		}
	})

	r.Group(func(wr chi.Router) {
		wr.Use(limit(GroupWrite), cfg.Authenticator.Middleware(), observe(GroupWrite))
		wr.Post("/v1/pools/{currency}/supply", a.supply)
		wr.Post("/v1/pools/{currency}/withdraw", a.withdraw)
		wr.Post("/v1/pools/{currency}/borrow", a.borrow)
		wr.Post("/v1/pools/{currency}/repay", a.repay)
		wr.Post("/v1/pools/{currency}/activate", a.activatePledge)
		wr.Post("/v1/pools/{currency}/deactivate", a.deactivatePledge)
		wr.Post("/v1/fiat/{currency}/approve", a.approve)
		wr.Post("/v1/fiat/{currency}/associate", a.associate)
		wr.Post("/v1/pledges/deposit", a.pledgeDeposit)
		wr.Post("/v1/pledges/withdraw", a.pledgeWithdraw)
		wr.Post("/v1/farmers", a.registerFarmer)
		if a.timeline != nil {
			wr.Post("/v1/timeline/posts", a.createPost)
			wr.Post("/v1/timeline/posts/{id}/likes", a.likePost)
		}
	})

	r.Route("/v1/admin", func(ar chi.Router) {
		ar.Use(limit(GroupAdmin), cfg.Authenticator.Middleware(middleware.ScopeAdmin), observe(GroupAdmin))
		ar.Post("/oracle/{currency}", a.setRate)
		ar.Post("/pools/{currency}", a.createPool)
		ar.Post("/pools/{currency}/reserves/withdraw", a.withdrawReserves)
		ar.Post("/farmers/{addr}/verify", a.verifyFarmer)
		ar.Post("/fiat/{currency}/minters", a.grantMinter)
		ar.Post("/fiat/{currency}/mint", a.mint)
		ar.Post("/modules/{module}/pause", a.pauseModule(true))
		ar.Post("/modules/{module}/unpause", a.pauseModule(false))
	})

	if cfg.Webhook != nil {
		r.With(limit(GroupWebhook), observe(GroupWebhook)).Post("/v1/onramp/webhook", cfg.Webhook.ServeHTTP)
	}

	return r, nil
}

func passthrough(next http.Handler) http.Handler { return next }
