package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tradebrain/config"
	"tradebrain/internal/logging"
	"tradebrain/internal/market"
	marketrouter "tradebrain/internal/market/router"
	"tradebrain/internal/regime"
)

const (
	tickInterval    = time.Second
	pingInterval    = 30 * time.Second
	writeWait       = 10 * time.Second
	contextInterval = 15 * time.Second // sentiment/regime refresh cadence
)

// tickFrame is one streamed market snapshot. Every field is always present
// except volatility, so clients never crash on missing keys.
type tickFrame struct {
	Type       string   `json:"type"`
	Symbol     string   `json:"symbol"`
	Price      float64  `json:"price"`
	ChangePct  float64  `json:"change_pct"`
	Volume     float64  `json:"volume"`
	Sentiment  string   `json:"sentiment"`
	Regime     string   `json:"regime"`
	Volatility *float64 `json:"volatility,omitempty"`
	RiskLevel  string   `json:"risk_level"`
}

// streamHub tracks live market streams and enforces the connection limits:
// one live stream per symbol, a per-user cap, and a global cap.
type streamHub struct {
	cfg      config.WSConfig
	idle     time.Duration
	markets  *marketrouter.Router
	regimes  *regime.Detector
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	symbols map[string]bool
	perUser map[string]int
	total   int
	closed  bool
}

func newStreamHub(cfg config.WSConfig, markets *marketrouter.Router, regimes *regime.Detector, logger *logging.Logger) *streamHub {
	if cfg.MaxConnectionsPerUser <= 0 {
		cfg.MaxConnectionsPerUser = 5
	}
	if cfg.MaxConnectionsTotal <= 0 {
		cfg.MaxConnectionsTotal = 1000
	}
	if cfg.IdleTimeoutMinutes <= 0 {
		cfg.IdleTimeoutMinutes = 30
	}
	return &streamHub{
		cfg:     cfg,
		idle:    time.Duration(cfg.IdleTimeoutMinutes) * time.Minute,
		markets: markets,
		regimes: regimes,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		symbols: make(map[string]bool),
		perUser: make(map[string]int),
	}
}

var (
	errDuplicateSymbol = fmt.Errorf("symbol already streaming")
	errTooManyStreams  = fmt.Errorf("connection limit reached")
	errHubClosed       = fmt.Errorf("hub is shut down")
)

func (h *streamHub) acquire(symbol, userID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errHubClosed
	}
	if h.symbols[symbol] {
		return errDuplicateSymbol
	}
	if h.perUser[userID] >= h.cfg.MaxConnectionsPerUser || h.total >= h.cfg.MaxConnectionsTotal {
		return errTooManyStreams
	}

	h.symbols[symbol] = true
	h.perUser[userID]++
	h.total++
	return nil
}

func (h *streamHub) release(symbol, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.symbols, symbol)
	if h.perUser[userID] > 0 {
		h.perUser[userID]--
	}
	if h.total > 0 {
		h.total--
	}
}

// ConnectionCount reports live stream count
func (h *streamHub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Close marks the hub down so new connections are refused
func (h *streamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

// handleMarketStream upgrades to a websocket and streams ~1s ticks for one
// symbol. Token auth happens before the upgrade; connection-limit
// violations close the socket with a policy violation after the upgrade so
// clients see a websocket close code rather than a dropped handshake.
func (s *Server) handleMarketStream(c *gin.Context) {
	claims, err := s.deps.JWT.ValidateAccessToken(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "missing or invalid token"})
		return
	}

	symbol := market.NormalizeSymbol(c.Query("symbol"))
	if symbol == "" {
		badRequest(c, "symbol query parameter is required")
		return
	}

	conn, err := s.hub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	if err := s.hub.acquire(symbol, claims.UserID); err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}
	defer s.hub.release(symbol, claims.UserID)

	s.hub.serve(c.Request.Context(), conn, symbol)
}

// serve runs the stream loop: boot frame, 1s ticks, 30s pings, idle
// timeout. The reader goroutine consumes pongs and detects closes; any
// inbound traffic (pong or client message) counts as activity and pushes
// the idle deadline forward.
func (h *streamHub) serve(ctx context.Context, conn *websocket.Conn, symbol string) {
	defer conn.Close()

	idle := h.idle
	// Read deadline trails the idle timer by writeWait so the timer gets to
	// send a graceful close frame before the read side gives up.
	readWait := idle + writeWait
	activity := make(chan struct{}, 1)
	markActive := func() {
		conn.SetReadDeadline(time.Now().Add(readWait))
		select {
		case activity <- struct{}{}:
		default:
		}
	}

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		markActive()
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			markActive()
		}
	}()

	// Boot frame carries safe defaults so clients render immediately
	boot := tickFrame{
		Type:      "boot",
		Symbol:    symbol,
		Sentiment: "neutral",
		Regime:    "unknown",
		RiskLevel: "normal",
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(boot); err != nil {
		return
	}

	frame := boot
	frame.Type = "tick"
	h.refreshContext(ctx, symbol, &frame)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()
	contextTicker := time.NewTicker(contextInterval)
	defer contextTicker.Stop()
	idleTimer := time.NewTimer(idle)
	defer idleTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-activity:
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(idle)
		case <-idleTimer.C:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "idle timeout")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case <-pinger.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-contextTicker.C:
			h.refreshContext(ctx, symbol, &frame)
		case <-ticker.C:
			h.refreshPrice(ctx, symbol, &frame)
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}

func (h *streamHub) refreshPrice(ctx context.Context, symbol string, frame *tickFrame) {
	callCtx, cancel := context.WithTimeout(ctx, tickInterval)
	defer cancel()

	snapshot, err := h.markets.GetPrice(callCtx, symbol)
	if err != nil || snapshot == nil {
		// Keep streaming the last known values
		return
	}
	frame.Price = snapshot.Price
	frame.ChangePct = snapshot.ChangePct
	frame.Volume = snapshot.Volume
}

func (h *streamHub) refreshContext(ctx context.Context, symbol string, frame *tickFrame) {
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if sentiment, err := h.markets.GetSentiment(callCtx, symbol); err == nil && sentiment != nil {
		frame.Sentiment = sentiment.Label
	}
	det := h.regimes.Detect(callCtx, symbol)
	frame.Regime = det.Regime
	frame.RiskLevel = det.RiskLevel
	frame.Volatility = det.Volatility
}
