package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tradebrain/internal/auth"
	"tradebrain/internal/backtest"
	"tradebrain/internal/database"
	"tradebrain/internal/market"
	"tradebrain/internal/ruleset"
)

type strategyRequest struct {
	Name       string          `json:"name" binding:"required"`
	Ruleset    json.RawMessage `json:"ruleset" binding:"required"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	AssetType  string          `json:"asset_type"`
	Timeframe  string          `json:"timeframe"`
}

func (s *Server) handleCreateStrategy(c *gin.Context) {
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name and ruleset are required")
		return
	}

	rs, err := ruleset.Parse(req.Ruleset)
	if err != nil {
		badRequest(c, "invalid ruleset: "+err.Error())
		return
	}

	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = rs.Timeframe
	}
	assetType := req.AssetType
	if assetType == "" {
		assetType = "stock"
	}

	strategy := &database.Strategy{
		UserID:     auth.GetUserID(c),
		Name:       req.Name,
		Parameters: req.Parameters,
		Ruleset:    req.Ruleset,
		AssetType:  assetType,
		Timeframe:  timeframe,
		Status:     database.StatusExperiment,
	}
	if err := s.deps.Repo.CreateStrategy(c.Request.Context(), strategy); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, strategy)
}

func (s *Server) handleListStrategies(c *gin.Context) {
	strategies, err := s.deps.Repo.ListStrategiesByUser(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": strategies})
}

// ownedStrategy loads a strategy and enforces ownership; admins see all
func (s *Server) ownedStrategy(c *gin.Context) *database.Strategy {
	strategy, err := s.deps.Repo.GetStrategy(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return nil
	}
	if strategy == nil || (strategy.UserID != auth.GetUserID(c) && !auth.IsAdmin(c)) {
		notFound(c, "strategy not found")
		return nil
	}
	return strategy
}

func (s *Server) handleGetStrategy(c *gin.Context) {
	strategy := s.ownedStrategy(c)
	if strategy == nil {
		return
	}
	c.JSON(http.StatusOK, strategy)
}

func (s *Server) handleUpdateStrategy(c *gin.Context) {
	strategy := s.ownedStrategy(c)
	if strategy == nil {
		return
	}

	var req struct {
		Name       *string         `json:"name,omitempty"`
		Ruleset    json.RawMessage `json:"ruleset,omitempty"`
		Parameters json.RawMessage `json:"parameters,omitempty"`
		Timeframe  *string         `json:"timeframe,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}

	if req.Name != nil {
		strategy.Name = *req.Name
	}
	if len(req.Ruleset) > 0 {
		if _, err := ruleset.Parse(req.Ruleset); err != nil {
			badRequest(c, "invalid ruleset: "+err.Error())
			return
		}
		strategy.Ruleset = req.Ruleset
	}
	if len(req.Parameters) > 0 {
		strategy.Parameters = req.Parameters
	}
	if req.Timeframe != nil {
		strategy.Timeframe = *req.Timeframe
	}

	if err := s.deps.Repo.UpdateStrategy(c.Request.Context(), strategy); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, strategy)
}

func (s *Server) handleDeleteStrategy(c *gin.Context) {
	strategy := s.ownedStrategy(c)
	if strategy == nil {
		return
	}
	if err := s.deps.Repo.DeleteStrategy(c.Request.Context(), strategy.ID); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": strategy.ID})
}

// handleRunBacktest runs an on-demand backtest over recent candles. A frame
// the providers cannot fill yields zeroed metrics, not an error.
func (s *Server) handleRunBacktest(c *gin.Context) {
	strategy := s.ownedStrategy(c)
	if strategy == nil {
		return
	}

	var req struct {
		Symbol string `json:"symbol"`
		Limit  int    `json:"limit"`
	}
	_ = c.ShouldBindJSON(&req)

	rs, err := ruleset.Parse(strategy.Ruleset)
	if err != nil {
		badRequest(c, "stored ruleset no longer parses: "+err.Error())
		return
	}

	symbol := market.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		symbol = s.defaultSymbol(strategy)
	}
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 500
	}

	ctx := c.Request.Context()
	candles := s.deps.Markets.GetCandlesForBacktest(ctx, market.CandleQuery{
		Symbol:   symbol,
		Interval: rs.Timeframe,
		Limit:    limit,
	})
	result := backtest.Run(rs, candles)

	row := &database.Backtest{
		StrategyID:  strategy.ID,
		Symbol:      symbol,
		Timeframe:   rs.Timeframe,
		Segment:     "full",
		TotalReturn: result.Full.TotalReturn,
		WinRate:     result.Full.WinRate,
		MaxDrawdown: result.Full.MaxDrawdown,
		AvgPnL:      result.Full.AvgPnL,
		TotalTrades: result.Full.Trades,
		Sharpe:      result.Full.Sharpe,
	}
	if len(candles) > 0 {
		start, end := candles[0].Timestamp, candles[len(candles)-1].Timestamp
		row.WindowStart, row.WindowEnd = &start, &end
	}
	if err := s.deps.Repo.CreateBacktest(ctx, row); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "result": result})
}

// handleMutateStrategy spawns mutated children as new experiment strategies
// with lineage edges.
func (s *Server) handleMutateStrategy(c *gin.Context) {
	strategy := s.ownedStrategy(c)
	if strategy == nil {
		return
	}

	var req struct {
		Count int `json:"count"`
	}
	_ = c.ShouldBindJSON(&req)
	count := req.Count
	if count <= 0 {
		count = 1
	}
	if count > 3 {
		count = 3
	}

	rs, err := ruleset.Parse(strategy.Ruleset)
	if err != nil {
		badRequest(c, "stored ruleset no longer parses: "+err.Error())
		return
	}

	children, err := s.deps.Mutator.Mutate(rs, count)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	userID := auth.GetUserID(c)
	var created []*database.Strategy
	for i, child := range children {
		raw, err := json.Marshal(child.Ruleset)
		if err != nil {
			s.respondError(c, err)
			return
		}
		sim := child.Similarity
		childStrategy := &database.Strategy{
			UserID:    strategy.UserID,
			Name:      strategy.Name + " v" + strconv.Itoa(i+2),
			Ruleset:   raw,
			AssetType: strategy.AssetType,
			Timeframe: child.Ruleset.Timeframe,
			Status:    database.StatusExperiment,
		}
		if err := s.deps.Repo.CreateStrategy(ctx, childStrategy); err != nil {
			s.respondError(c, err)
			return
		}
		edge := &database.LineageEdge{
			ParentID:     strategy.ID,
			ChildID:      childStrategy.ID,
			MutationType: string(child.Type),
			Similarity:   &sim,
			CreatedBy:    &userID,
		}
		if err := s.deps.Repo.CreateLineageEdge(ctx, edge); err != nil {
			s.respondError(c, err)
			return
		}
		created = append(created, childStrategy)
	}
	c.JSON(http.StatusOK, gin.H{"children": created})
}

func (s *Server) handleStrategySignal(c *gin.Context) {
	strategy := s.ownedStrategy(c)
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

// handleRecommendedStrategies lists proposable strategies. Never 500: a
// degraded store yields an empty list with a disclaimer.
func (s *Server) handleRecommendedStrategies(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	strategies, err := s.deps.Repo.ListProposableStrategies(c.Request.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Warn("Recommended strategies unavailable")
		c.JSON(http.StatusOK, gin.H{
			"strategies": []*database.Strategy{},
			"disclaimer": "recommendations temporarily unavailable",
			"as_of":      time.Now().UTC(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": strategies, "as_of": time.Now().UTC()})
}

// defaultSymbol mirrors the evolution worker's choice: an explicit symbol
// parameter wins, then an asset-class default.
func (s *Server) defaultSymbol(strategy *database.Strategy) string {
	if len(strategy.Parameters) > 0 {
		var params map[string]any
		if json.Unmarshal(strategy.Parameters, &params) == nil {
			if sym, ok := params["symbol"].(string); ok && sym != "" {
				return market.NormalizeSymbol(sym)
			}
		}
	}
	if strategy.AssetType == "crypto" {
		return "BTC-USD"
	}
	return "SPY"
}
