package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tradebrain/internal/auth"
	"tradebrain/internal/database"
	"tradebrain/internal/market"
)

// brainStrategy resolves the strategy a brain request targets. Owners may
// signal their own strategies; anyone may signal a proposable one (that is
// what royalties attribute).
func (s *Server) brainStrategy(c *gin.Context) *database.Strategy {
	strategyID := c.Query("strategy_id")
	if strategyID == "" {
		badRequest(c, "strategy_id query parameter is required")
		return nil
	}

	strategy, err := s.deps.Repo.GetStrategy(c.Request.Context(), strategyID)
	if err != nil {
		s.respondError(c, err)
		return nil
	}
	if strategy == nil {
		notFound(c, "strategy not found")
		return nil
	}
	if strategy.UserID != auth.GetUserID(c) && !strategy.IsProposable && !auth.IsAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "FORBIDDEN", "message": "strategy is not shared"})
		return nil
	}
	return strategy
}

func (s *Server) handleBrainSignal(c *gin.Context) {
	strategy := s.brainStrategy(c)
	if strategy == nil {
		return
	}

	symbol := market.NormalizeSymbol(c.Query("symbol"))
	if symbol == "" {
		symbol = s.defaultSymbol(strategy)
	}

	signal, err := s.deps.Assembler.Assemble(c.Request.Context(), strategy.ID, auth.GetUserID(c), symbol)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, signal)
}

// handleBrainExplain returns a signal with only its explanation payload
// surfaced, for clients that render reasoning separately.
func (s *Server) handleBrainExplain(c *gin.Context) {
	strategy := s.brainStrategy(c)
	if strategy == nil {
		return
	}

	symbol := market.NormalizeSymbol(c.Query("symbol"))
	if symbol == "" {
		symbol = s.defaultSymbol(strategy)
	}

	signal, err := s.deps.Assembler.Assemble(c.Request.Context(), strategy.ID, auth.GetUserID(c), symbol)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"strategy_id": signal.StrategyID,
		"symbol":      signal.Symbol,
		"side":        signal.Side,
		"confidence":  signal.Confidence,
		"explanation": signal.Explanation,
	})
}

// handleBrainContext reports the market context the assembler would weigh
// for a symbol: regime, trend alignment, sentiment and volatility. Each
// piece degrades independently.
func (s *Server) handleBrainContext(c *gin.Context) {
	symbol := market.NormalizeSymbol(c.Query("symbol"))
	if symbol == "" {
		badRequest(c, "symbol query parameter is required")
		return
	}

	c.JSON(http.StatusOK, s.buildMarketContext(c.Request.Context(), symbol))
}

func (s *Server) buildMarketContext(ctx context.Context, symbol string) gin.H {
	resp := gin.H{"symbol": symbol, "as_of": time.Now().UTC()}

	resp["regime"] = s.deps.Regimes.Detect(ctx, symbol)
	if s.deps.Trends != nil {
		resp["trend_alignment"] = s.deps.Trends.Analyze(ctx, symbol)
	}
	if sentiment, err := s.deps.Markets.GetSentiment(ctx, symbol); err == nil {
		resp["sentiment"] = sentiment
	}
	if vol, err := s.deps.Markets.GetVolatility(ctx, symbol); err == nil {
		resp["volatility"] = vol
	}
	return resp
}

// handleBrainSummary aggregates a user's trading state. Must never 500:
// pieces that fail are omitted and a disclaimer added.
func (s *Server) handleBrainSummary(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.GetUserID(c)
	resp := gin.H{"as_of": time.Now().UTC()}
	degraded := false

	if summary, err := s.deps.Repo.GetTradeSummary(ctx, userID); err == nil {
		resp["trades"] = summary
	} else {
		degraded = true
	}
	if account, err := s.deps.Broker.Account(ctx, userID); err == nil {
		resp["account"] = account
	} else {
		degraded = true
	}
	if strategies, err := s.deps.Repo.ListStrategiesByUser(ctx, userID); err == nil {
		active, proposable := 0, 0
		for _, st := range strategies {
			if st.Status != database.StatusDiscarded {
				active++
			}
			if st.IsProposable {
				proposable++
			}
		}
		resp["strategies"] = gin.H{
			"total":      len(strategies),
			"active":     active,
			"proposable": proposable,
		}
	} else {
		degraded = true
	}

	if degraded {
		resp["disclaimer"] = "some data temporarily unavailable"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleBrainHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"providers": s.deps.Markets.Status(),
		"streams":   s.hub.ConnectionCount(),
	})
}
