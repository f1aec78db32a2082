package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterOptions struct {
	CORSOrigins    []string
	RateLimitRPM   int
	IdempotencyTTL time.Duration
	RequestTimeout time.Duration
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Dev mounts the /v1/dev endpoints when set.
	Dev *DevHandler
}

func (h *Handler) Routes(m *Middleware, opts RouterOptions) *chi.Mux {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 10 * time.Minute
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(m.CORS(opts.CORSOrigins))
	if opts.RateLimitRPM > 0 {
		r.Use(m.RateLimit(opts.RateLimitRPM))
	}

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	// The websocket upgrade needs to hijack the connection, which the
	// timeout and compression writers do not support.
	r.Get("/v1/ws", h.HandleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(m.Timeout(opts.RequestTimeout))
		r.Use(middleware.Compress(5))
		r.Use(m.Idempotency(opts.IdempotencyTTL))

		r.Route("/v1", func(r chi.Router) {
			r.Route("/tradings", func(r chi.Router) {
				r.Get("/", h.ListTradings)
				r.Post("/", h.CreateTrading)
				r.Get("/{collection}/{assetId}", h.GetTrading)
				r.Delete("/{collection}/{assetId}", h.CancelTrading)
				r.Post("/{collection}/{assetId}/buy", h.Buy)
			})

			r.Get("/fees/{collection}", h.GetFee)
			r.Get("/currencies", h.ListCurrencies)
			r.Get("/events", h.ListEvents)

			r.Route("/admin", func(r chi.Router) {
				r.Put("/fees/{collection}", h.SetSpecialFee)
				r.Delete("/fees/{collection}", h.RemoveSpecialFee)
				r.Post("/currencies", h.AddCurrency)
				r.Delete("/currencies/{currency}", h.RemoveCurrency)
				r.Post("/claim", h.Claim)
				r.Get("/balances", h.Balances)
				r.Get("/roles", h.ListRoles)
				r.Post("/roles/{address}", h.GrantRole)
				r.Delete("/roles/{address}", h.RevokeRole)
			})

			if opts.Dev != nil {
				r.Route("/dev", opts.Dev.Routes)
			}
		})
	})

	return r
}
