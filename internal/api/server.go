// Package api implements the REST + WebSocket façade (C10/§6): the engine's
// only externally visible surface. Trimmed from the teacher's multi-tenant
// gin server down to the single-tenant trading-state/positions/trades/
// settings/market-data/performance/health routes the spec names, with no
// auth, billing, or licensing middleware.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"scalping-engine/internal/database"
	"scalping-engine/internal/engine"
	"scalping-engine/internal/market"
	"scalping-engine/internal/metrics"
	"scalping-engine/internal/position"
	"scalping-engine/internal/publisher"
)

// Config controls the HTTP listener and CORS policy.
type Config struct {
	Host            string
	Port            int
	AllowedOrigins  string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the gin-backed REST/WS façade wrapping the engine, the ledger
// and the state publisher.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        Config

	eng       *engine.Engine
	positions *position.Manager
	pub       *publisher.Publisher
	marketCli *market.Client
	db        *database.DB                 // optional
	repo      *database.PositionRepository // optional, nil when persistence is disabled
	logger    zerolog.Logger
}

// NewServer wires every handler against the engine, ledger, publisher and
// optional persistence sink. db and repo may be nil when persistence is
// disabled.
func NewServer(cfg Config, eng *engine.Engine, positions *position.Manager, pub *publisher.Publisher, marketCli *market.Client, db *database.DB, repo *database.PositionRepository, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = []string{cfg.AllowedOrigins}
	if cfg.AllowedOrigins == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowOrigins = nil
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsCfg))

	s := &Server{
		router:    router,
		cfg:       cfg,
		eng:       eng,
		positions: positions,
		pub:       pub,
		marketCli: marketCli,
		db:        db,
		repo:      repo,
		logger:    logger.With().Str("component", "api.Server").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/api/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	s.router.GET("/api/trading-state", s.handleTradingState)
	s.router.POST("/api/trading/enable", s.handleTradingEnable)
	s.router.POST("/api/trading/disable", s.handleTradingDisable)
	s.router.GET("/api/trading/status", s.handleTradingStatus)

	s.router.GET("/api/positions", s.handlePositions)
	s.router.POST("/api/positions/:symbol/close", s.handleClosePosition)

	s.router.GET("/api/trades", s.handleTrades)

	s.router.GET("/api/settings", s.handleGetSettings)
	s.router.POST("/api/settings", s.handlePostSettings)

	s.router.GET("/api/market-data", s.handleMarketData)
	s.router.GET("/api/market-data/:symbol", s.handleMarketData)

	s.router.GET("/api/performance", s.handlePerformance)

	s.router.GET("/ws", s.handleWebSocket)
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info().Str("addr", addr).Msg("starting http server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests within cfg.ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info().Msg("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
