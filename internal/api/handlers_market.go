package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tradebrain/internal/market"
)

func (s *Server) symbolParam(c *gin.Context) string {
	symbol := market.NormalizeSymbol(c.Param("symbol"))
	if symbol == "" {
		badRequest(c, "symbol is required")
	}
	return symbol
}

func (s *Server) handleMarketPrice(c *gin.Context) {
	symbol := s.symbolParam(c)
	if symbol == "" {
		return
	}

	snapshot, err := s.deps.Markets.GetPrice(c.Request.Context(), symbol)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleMarketCandles(c *gin.Context) {
	symbol := s.symbolParam(c)
	if symbol == "" {
		return
	}

	interval := c.DefaultQuery("interval", "1d")
	if market.IntervalMinutes(interval) == 0 {
		badRequest(c, "unknown interval "+interval)
		return
	}
	limit := 200
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			badRequest(c, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	candles, err := s.deps.Markets.GetCandles(c.Request.Context(), market.CandleQuery{
		Symbol:   symbol,
		Interval: interval,
		Limit:    limit,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "interval": interval, "candles": candles})
}

func (s *Server) handleMarketSentiment(c *gin.Context) {
	symbol := s.symbolParam(c)
	if symbol == "" {
		return
	}

	sentiment, err := s.deps.Markets.GetSentiment(c.Request.Context(), symbol)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sentiment)
}

func (s *Server) handleMarketVolatility(c *gin.Context) {
	symbol := s.symbolParam(c)
	if symbol == "" {
		return
	}

	vol, err := s.deps.Markets.GetVolatility(c.Request.Context(), symbol)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "volatility": vol})
}

// handleMarketOverview combines the quote with instrument metadata
func (s *Server) handleMarketOverview(c *gin.Context) {
	symbol := s.symbolParam(c)
	if symbol == "" {
		return
	}

	ctx := c.Request.Context()
	snapshot, err := s.deps.Markets.GetPrice(ctx, symbol)
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp := gin.H{"symbol": symbol, "price": snapshot}
	if details, err := s.deps.Markets.GetAssetDetails(ctx, symbol); err == nil {
		resp["details"] = details
	}
	c.JSON(http.StatusOK, resp)
}

// handleMarketContext is the brain context under the market namespace
func (s *Server) handleMarketContext(c *gin.Context) {
	symbol := s.symbolParam(c)
	if symbol == "" {
		return
	}
	c.JSON(http.StatusOK, s.buildMarketContext(c.Request.Context(), symbol))
}

func (s *Server) handleMarketStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": s.deps.Markets.Status()})
}
