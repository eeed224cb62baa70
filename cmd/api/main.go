package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lv-tradecore/internal/accounts"
	"lv-tradecore/internal/auth"
	"lv-tradecore/internal/config"
	"lv-tradecore/internal/engine"
	"lv-tradecore/internal/fees"
	"lv-tradecore/internal/health"
	"lv-tradecore/internal/httpserver"
	"lv-tradecore/internal/ledger"
	"lv-tradecore/internal/logging"
	"lv-tradecore/internal/marketdata"
	"lv-tradecore/internal/positions"
	"lv-tradecore/internal/store"
	"lv-tradecore/internal/store/memory"
	"lv-tradecore/internal/store/postgres"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("config")
	}
	logger := logging.NewLogger(cfg.Log)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("exit")
	}
}

// run serves until ctx is done or a component fails.
func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	hh := health.NewHandler(time.Now())

	var (
		st        store.Store
		feeSource fees.ConfigSource
	)
	if cfg.DBDSN == "" {
		logger.Warn().Msg("DB_DSN not set, using in-memory store")
		mem := memory.New()
		st, feeSource = mem, fees.NewStaticConfig()
	} else {
		pg, err := postgres.Open(ctx, postgres.Config{DSN: cfg.DBDSN, MaxConns: cfg.DBMaxConns}, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return err
			}
		}
		st, feeSource = pg, postgres.NewFeeConfig(pg.Pool(), cfg.FeeCacheTTL)
	}
	hh.Register("store", st)

	bus := marketdata.NewBus()
	book := marketdata.NewQuoteBook(bus, cfg.QuoteMaxAge)
	prices := marketdata.Fallback{book}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RedisAddr != "" {
		rdb, err := marketdata.NewRedisClient(ctx, marketdata.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()
		quotes := marketdata.NewRedisQuotes(rdb, cfg.QuoteMaxAge, logger)
		prices = append(prices, quotes)
		hh.Register("redis", health.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }))
		g.Go(func() error { return quotes.Mirror(gctx, bus) })
	}

	if cfg.PriceFeedURL != "" {
		fc := marketdata.DefaultFeedConfig(cfg.PriceFeedURL)
		fc.Symbols = cfg.PriceFeedSymbols
		feed := marketdata.NewFeed(fc, book, logger)
		if err := feed.Start(gctx); err != nil {
			return err
		}
		defer feed.Stop()
	} else {
		logger.Warn().Msg("PRICE_FEED_URL not set, prices come from requests only")
	}

	ledgerSvc := ledger.NewService(st, logger)
	accountSvc := accounts.NewService(st, logger)
	calc := fees.NewCalculator(feeSource, cfg.FeeModel)
	posSvc := positions.NewService(st, ledgerSvc, calc, prices, bus, logger)
	authSvc := auth.NewService(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)

	dispatcher := engine.NewDispatcher(cfg.DispatchWorkers, cfg.DispatchQueue)
	defer dispatcher.Close()
	router := engine.NewTickRouter(bus, st, posSvc, dispatcher, logger)
	g.Go(func() error { return router.Run(gctx) })

	limiter := httpserver.NewRateLimiter(10, 30)
	g.Go(func() error { return limiter.Run(gctx) })

	handler := httpserver.NewRouter(httpserver.RouterDeps{
		AccountsHandler:   accounts.NewHandler(accountSvc, logger),
		LedgerHandler:     ledger.NewHandler(ledgerSvc, accountSvc, logger),
		PositionsHandler:  positions.NewHandler(posSvc, accountSvc, logger),
		MarketHandler:     marketdata.NewHandler(book, prices, logger),
		HealthHandler:     hh,
		AuthService:       authSvc,
		InternalTokenHash: cfg.InternalTokenHash,
		WSHandler:         httpserver.NewWSHandler(bus, book, authSvc, cfg.WebSocketOrigin, logger),
		RateLimiter:       limiter,
		Logger:            logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("fee_model", string(cfg.FeeModel)).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
