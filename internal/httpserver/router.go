package httpserver

import (
	"net/http"

	"lv-tradecore/internal/accounts"
	"lv-tradecore/internal/auth"
	"lv-tradecore/internal/health"
	"lv-tradecore/internal/ledger"
	"lv-tradecore/internal/marketdata"
	"lv-tradecore/internal/metrics"
	"lv-tradecore/internal/positions"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	AccountsHandler   *accounts.Handler
	LedgerHandler     *ledger.Handler
	PositionsHandler  *positions.Handler
	MarketHandler     *marketdata.Handler
	HealthHandler     *health.Handler
	AuthService       *auth.Service
	InternalTokenHash string
	WSHandler         http.Handler
	RateLimiter       *RateLimiter
	Logger            zerolog.Logger
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLog(d.Logger))
	r.Use(SecurityHeaders)

	r.Get("/health", d.HealthHandler.Live)
	r.Get("/health/ready", d.HealthHandler.Ready)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware)
		}
		if d.WSHandler != nil {
			r.Get("/ws", d.WSHandler.ServeHTTP)
		}
		r.Get("/quotes", d.MarketHandler.Quotes)
		r.Get("/quotes/{symbol}", d.MarketHandler.Quote)

		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))

			r.Get("/accounts", userHandler(d.AccountsHandler.List))
			r.Post("/accounts/leverage", userHandler(d.AccountsHandler.UpdateLeverage))
			r.Get("/wallet", userHandler(d.LedgerHandler.Wallet))
			r.Get("/transactions", userHandler(d.LedgerHandler.Transactions))

			r.Get("/positions", userHandler(d.PositionsHandler.ListOpen))
			r.Post("/positions", userHandler(d.PositionsHandler.Open))
			r.Get("/positions/history", userHandler(d.PositionsHandler.History))
			r.Post("/positions/close", userHandler(d.PositionsHandler.CloseMany))
			r.Post("/positions/{id}/pnl", positionHandler(d.PositionsHandler.UpdatePnL))
			r.Post("/positions/{id}/close", positionHandler(d.PositionsHandler.Close))
		})

		r.Route("/internal", func(r chi.Router) {
			r.Use(InternalAuth(d.InternalTokenHash))
			r.Post("/accounts", d.AccountsHandler.Create)
			r.Post("/accounts/{id}/adjust", d.LedgerHandler.Adjust)
			r.Get("/accounts/{id}/verify", d.LedgerHandler.Verify)
			r.Post("/accounts/{id}/deactivate", d.AccountsHandler.Deactivate)
			r.Post("/quotes", d.MarketHandler.Push)
		})
	})
	return r
}
