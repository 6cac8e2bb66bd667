package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tradebrain/internal/auth"
	"tradebrain/internal/database"
	"tradebrain/internal/paper"
)

// handleCreateTrade places a simulated market order. Only PAPER mode is
// accepted; live brokerage is out of scope.
func (s *Server) handleCreateTrade(c *gin.Context) {
	var req struct {
		Symbol     string  `json:"symbol" binding:"required"`
		Side       string  `json:"side" binding:"required"`
		Quantity   float64 `json:"quantity" binding:"required"`
		Mode       string  `json:"mode"`
		StrategyID *string `json:"strategy_id,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "symbol, side and quantity are required")
		return
	}

	mode := strings.ToUpper(req.Mode)
	if mode != "" && mode != string(database.ModePaper) {
		badRequest(c, "only PAPER trades are supported")
		return
	}
	side := strings.ToUpper(req.Side)
	if side != string(database.SideBuy) && side != string(database.SideSell) {
		badRequest(c, "side must be BUY or SELL")
		return
	}
	if req.Quantity <= 0 {
		badRequest(c, "quantity must be positive")
		return
	}

	trade, err := s.deps.Broker.PlaceOrder(c.Request.Context(), auth.GetUserID(c), paper.OrderRequest{
		Symbol:     req.Symbol,
		Side:       side,
		Quantity:   req.Quantity,
		StrategyID: req.StrategyID,
		Source:     string(database.SourceManual),
	})
	if err != nil {
		s.respondBrokerError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

func (s *Server) handleCloseTrade(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.GetUserID(c)

	trade, err := s.deps.Repo.GetTrade(ctx, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if trade == nil || trade.UserID != userID {
		notFound(c, "trade not found")
		return
	}
	if trade.Status == database.TradeClosed {
		badRequest(c, "trade is already closed")
		return
	}

	var req struct {
		Quantity float64 `json:"quantity"`
	}
	// Body is optional; absent or zero quantity closes the whole position
	_ = c.ShouldBindJSON(&req)

	closed, err := s.deps.Broker.ClosePosition(ctx, userID, paper.CloseRequest{
		Symbol:   trade.Symbol,
		Quantity: req.Quantity,
	})
	if err != nil {
		s.respondBrokerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": closed})
}

func (s *Server) handleListTrades(c *gin.Context) {
	status := database.TradeStatus(strings.ToUpper(c.Query("status")))
	mode := database.TradeMode(strings.ToUpper(c.Query("mode")))
	if status != "" && status != database.TradeOpen && status != database.TradeClosed {
		badRequest(c, "status must be OPEN or CLOSED")
		return
	}
	if mode != "" && mode != database.ModePaper && mode != database.ModeReal {
		badRequest(c, "mode must be PAPER or REAL")
		return
	}

	trades, err := s.deps.Repo.ListTrades(c.Request.Context(), auth.GetUserID(c), status, mode, 200)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleTradeSummary(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.GetUserID(c)

	summary, err := s.deps.Repo.GetTradeSummary(ctx, userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	account, err := s.deps.Broker.Account(ctx, userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "account": account})
}

// respondBrokerError keeps paper-broker rejections (overdraw, no position,
// validation) at 400 while market failures keep their taxonomy codes.
func (s *Server) respondBrokerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, paper.ErrInsufficientBalance),
		errors.Is(err, paper.ErrNoOpenPosition),
		errors.Is(err, paper.ErrInvalidSide),
		errors.Is(err, paper.ErrInvalidQuantity):
		badRequest(c, err.Error())
	default:
		s.respondError(c, err)
	}
}
