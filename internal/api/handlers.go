package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"scalping-engine/internal/model"
)

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": true, "message": message})
}

// handleHealth aggregates dependency health: the engine's lifecycle state,
// a database ping when persistence is enabled, and a market API probe when
// a market client is configured (spec §6's supplemented health endpoint).
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":       "healthy",
		"engine_state": string(s.eng.State()),
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.HealthCheck(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "healthy"
	}

	if s.marketCli != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.marketCli.HealthCheck(ctx); err != nil {
			body["status"] = "degraded"
			body["market_api"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["market_api"] = "healthy"
	}
	c.JSON(http.StatusOK, body)
}

// handleTradingState returns the full TradingState snapshot (spec §6).
func (s *Server) handleTradingState(c *gin.Context) {
	c.JSON(http.StatusOK, s.pub.Snapshot())
}

// handleTradingEnable flips IsEnabled on, resuming new entries.
func (s *Server) handleTradingEnable(c *gin.Context) {
	s.eng.SetEnabled(true)
	if err := s.eng.Start(context.Background()); err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": string(s.eng.State()), "enabled": true})
}

// handleTradingDisable flips IsEnabled off; open positions still exit via
// their own stop-loss/take-profit/timeout/signal checks (spec §5).
func (s *Server) handleTradingDisable(c *gin.Context) {
	s.eng.SetEnabled(false)
	c.JSON(http.StatusOK, gin.H{"state": string(s.eng.State()), "enabled": false})
}

// handleTradingStatus reports the engine's lifecycle state and settings.
func (s *Server) handleTradingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":    string(s.eng.State()),
		"settings": s.eng.Settings(),
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.positions.Positions())
}

// handleClosePosition closes symbol's position at its last marked price
// with ExitManual, e.g. for an operator-initiated flatten.
func (s *Server) handleClosePosition(c *gin.Context) {
	symbol := c.Param("symbol")
	pos, ok := s.positions.Get(symbol)
	if !ok {
		errorResponse(c, http.StatusNotFound, "no open position for "+symbol)
		return
	}
	price := pos.AvgEntryPrice
	if pos.Qty > 0 {
		price = pos.CurrentValue / pos.Qty
	}

	trade, err := s.positions.Close(c.Request.Context(), symbol, price, model.ExitManual, model.Signal{Kind: model.Hold})
	if err != nil {
		errorResponse(c, http.StatusConflict, err.Error())
		return
	}
	c.JSON(http.StatusOK, trade)
}

// handleTrades returns the trade ledger, optionally filtered by symbol.
func (s *Server) handleTrades(c *gin.Context) {
	symbol := c.Query("symbol")
	trades, _, _, _, _, _ := s.positions.Snapshot()
	if symbol == "" {
		c.JSON(http.StatusOK, trades)
		return
	}
	filtered := make([]model.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Symbol == symbol {
			filtered = append(filtered, t)
		}
	}
	c.JSON(http.StatusOK, filtered)
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.eng.Settings())
}

// handlePostSettings replaces the engine's TradingSettings wholesale,
// re-validating TakeProfitPct > StopLossPct the way config.Load does at
// startup.
func (s *Server) handlePostSettings(c *gin.Context) {
	var settings model.TradingSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if settings.TakeProfitPct <= settings.StopLossPct {
		errorResponse(c, http.StatusBadRequest, "take_profit_pct must exceed stop_loss_pct")
		return
	}
	s.eng.UpdateSettings(settings)
	if s.repo != nil {
		if err := s.repo.SaveSettings(c.Request.Context(), settings); err != nil {
			s.logger.Warn().Err(err).Msg("failed to persist settings")
		}
	}
	c.JSON(http.StatusOK, settings)
}

// handleMarketData returns the latest ticker for one symbol, or every
// watched symbol when no symbol is given.
func (s *Server) handleMarketData(c *gin.Context) {
	symbol := c.Param("symbol")
	watchlist := s.eng.Watchlist()

	if symbol != "" {
		for _, w := range watchlist {
			if w.Symbol == symbol {
				c.JSON(http.StatusOK, w)
				return
			}
		}
		errorResponse(c, http.StatusNotFound, "unknown symbol "+symbol)
		return
	}
	c.JSON(http.StatusOK, watchlist)
}

// handlePerformance derives win rate and profit factor from the live
// ledger (spec's supplemented performance endpoint — nothing in the
// in-memory ledger requires a separate analytics store).
func (s *Server) handlePerformance(c *gin.Context) {
	trades, _, totalPnl, dayPnl, _, _ := s.positions.Snapshot()

	var wins, losses int
	var grossProfit, grossLoss float64
	for _, t := range trades {
		if t.PnL == nil {
			continue
		}
		if *t.PnL >= 0 {
			wins++
			grossProfit += *t.PnL
		} else {
			losses++
			grossLoss += -*t.PnL
		}
	}

	closedTrades := wins + losses
	winRate := 0.0
	if closedTrades > 0 {
		winRate = float64(wins) / float64(closedTrades) * 100
	}
	profitFactor := 0.0
	if grossLoss > 0 {
		profitFactor = grossProfit / grossLoss
	}

	if s.repo != nil {
		state := s.pub.Snapshot()
		if err := s.repo.SavePerformanceSnapshot(c.Request.Context(), state, winRate, profitFactor); err != nil {
			s.logger.Warn().Err(err).Msg("failed to persist performance snapshot")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total_pnl":     totalPnl,
		"day_pnl":       dayPnl,
		"total_trades":  len(trades),
		"closed_trades": closedTrades,
		"wins":          wins,
		"losses":        losses,
		"win_rate":      winRate,
		"profit_factor": profitFactor,
	})
}
