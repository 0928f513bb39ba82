package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"scalping-engine/config"
	"scalping-engine/internal/api"
	"scalping-engine/internal/candles"
	"scalping-engine/internal/circuit"
	"scalping-engine/internal/database"
	"scalping-engine/internal/engine"
	"scalping-engine/internal/events"
	"scalping-engine/internal/indicatorcache"
	"scalping-engine/internal/indicators"
	"scalping-engine/internal/market"
	"scalping-engine/internal/model"
	"scalping-engine/internal/position"
	"scalping-engine/internal/publisher"
	"scalping-engine/internal/ratelimit"

	"github.com/redis/go-redis/v9"
)

// defaultWatchlist seeds the symbols the engine ingests on startup. A real
// deployment would load this from the watchlist table; for a standalone
// binary we start from a small, liquid set.
var defaultWatchlist = []struct {
	Symbol string
	Name   string
}{
	{"BTCUSDT", "Bitcoin"},
	{"ETHUSDT", "Ethereum"},
	{"SOLUSDT", "Solana"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("invalid configuration: " + err.Error())
	}

	logger := newLogger(cfg.Logging)
	logger.Info().Msg("starting scalping engine")

	limiter := ratelimit.New(cfg.Market.RateLimit, cfg.Market.RateInterval)
	marketCli := market.NewClient(market.Config{
		BaseURL:        cfg.Market.APIBaseURL,
		RequestTimeout: cfg.Market.RequestTimeout,
		RetryAttempts:  cfg.Market.RetryAttempts,
		RetryBaseDelay: cfg.Market.RetryBaseDelay,
	}, limiter, logger)
	streamCli := market.NewStreamClient(cfg.Market.StreamURL, logger)

	candleStore := candles.NewStore(cfg.Engine.MaxWindow)
	breakers := circuit.NewRegistry(circuit.DefaultConfig())
	bus := events.NewBus()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
	}
	cache := indicatorcache.New(cfg.Engine.IndicatorCacheTTL, redisClient, logger)

	var repo position.Repository
	var mdRepo engine.MarketDataRepository
	var pgRepo *database.PositionRepository
	var db *database.DB
	if cfg.Database.Enabled {
		var err error
		db, err = database.NewDB(database.Config{
			Host: cfg.Database.Host, Port: cfg.Database.Port, User: cfg.Database.User,
			Password: cfg.Database.Password, Database: cfg.Database.Database, SSLMode: cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("database disabled: connection failed, running in-memory only")
		} else {
			migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := db.RunMigrations(migrateCtx); err != nil {
				logger.Warn().Err(err).Msg("migrations failed, running in-memory only")
				db.Close()
				db = nil
			} else {
				pgRepo = database.NewPositionRepository(db)
				repo = pgRepo
				mdRepo = pgRepo
			}
			cancel()
		}
	}

	positions := position.NewManager(cfg.Risk.StartingBalance, repo, logger)

	settings := model.TradingSettings{
		MinConfidence:   cfg.Risk.MinConfidence,
		MaxPositionSize: cfg.Risk.MaxPositionSize,
		RiskPerTradePct: cfg.Risk.RiskPerTradePct,
		MaxDailyLossAbs: cfg.Risk.MaxDailyLossAbs,
		MaxPositions:    cfg.Risk.MaxPositions,
		StopLossPct:     cfg.Risk.StopLossPct,
		TakeProfitPct:   cfg.Risk.TakeProfitPct,
		MaxHoldTimeSec:  cfg.Risk.MaxHoldTimeSec,
		ScalingFactor:   cfg.Risk.ScalingFactor,
		IsEnabled:       true,
	}

	periods := indicators.Periods{
		RSI: cfg.Engine.RSIPeriod, EMA9: cfg.Engine.EMA9Period, EMA21: cfg.Engine.EMA21Period,
		EMA50: cfg.Engine.EMA50Period, EMA200: cfg.Engine.EMA200Period, VWAP: cfg.Engine.VWAPPeriod,
		VolumeAvg: cfg.Engine.VolumeAvgPeriod, SwingLookback: cfg.Engine.SwingLookback,
	}

	eng := engine.New(engine.Config{
		Periods:              periods,
		IndicatorCacheTTL:    cfg.Engine.IndicatorCacheTTL,
		PollFallbackInterval: cfg.Engine.PollFallbackInterval,
		TimeoutScanInterval:  cfg.Engine.TimeoutScanInterval,
		CandleIntervalMs:     60000,
	}, marketCli, streamCli, candleStore, cache, breakers, positions, bus, settings, logger, mdRepo)

	for _, w := range defaultWatchlist {
		eng.AddSymbol(w.Symbol, w.Name)
		if pgRepo != nil {
			item := model.WatchlistItem{Symbol: w.Symbol, Name: w.Name, IsActive: true}
			if err := pgRepo.SaveWatchlistItem(context.Background(), item); err != nil {
				logger.Warn().Err(err).Str("symbol", w.Symbol).Msg("failed to persist watchlist item")
			}
		}
	}

	pub := publisher.New(eng, positions, cfg.Engine.BroadcastInterval)

	apiServer := api.NewServer(api.Config{
		Host: cfg.Server.Host, Port: cfg.Server.Port, AllowedOrigins: cfg.Server.AllowedOrigins,
		ReadTimeout: cfg.Server.ReadTimeout, WriteTimeout: cfg.Server.WriteTimeout, ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, eng, positions, pub, marketCli, db, pgRepo, logger)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	if err := eng.Start(runCtx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start engine")
	}
	go pub.Run(runCtx)

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down")
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}

	eng.Stop()
	streamCli.Close()
	if db != nil {
		db.Close()
	}

	logger.Info().Msg("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.JSONFormat {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
}
