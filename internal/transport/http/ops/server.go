// Package ops exposes the engine's remediation surface over HTTP: session
// and order state for an operator, the settled-trade ledger, the event
// journal, and the manual lockdown-clear endpoint. This is deliberately not
// a dashboard; it exists because emergency lockdown requires a human.
package ops

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"tradesentry/internal/engine"
	"tradesentry/internal/logger"
	"tradesentry/internal/session"
	"tradesentry/internal/signal"
	"tradesentry/internal/store/gormstore"
	"tradesentry/internal/store/journal"

	"github.com/gin-gonic/gin"
)

// Server serves the /api/ops endpoints.
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig carries the ops server dependencies.
type ServerConfig struct {
	Addr    string
	Engine  *engine.Engine
	Trades  *gormstore.Store
	Journal *journal.Journal
}

// NewServer builds the ops HTTP server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("ops server requires the engine")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9985"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{engine: cfg.Engine, trades: cfg.Trades, journal: cfg.Journal}
	api := router.Group("/api/ops")
	api.GET("/session", h.handleSession)
	api.GET("/orders", h.handleOrders)
	api.GET("/trades", h.handleTrades)
	api.GET("/journal", h.handleJournal)
	api.POST("/remediate", h.handleRemediate)

	// Execution intake for the strategy layer.
	exec := router.Group("/api/exec")
	exec.POST("/entry", h.handleEntry)
	exec.POST("/exit", h.handleExit)
	exec.POST("/monitor", h.handleMonitor)

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Start runs the server until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

type handlers struct {
	engine  *engine.Engine
	trades  *gormstore.Store
	journal *journal.Journal
}

func (h *handlers) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Session().Snapshot())
}

func (h *handlers) handleOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": h.engine.Orders()})
}

func (h *handlers) handleTrades(c *gin.Context) {
	if h.trades == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade store not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	recs, err := h.trades.ListTrades(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": recs})
}

func (h *handlers) handleJournal(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	entries, err := h.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// handleRemediate clears an emergency lockdown. It refuses while a trade is
// still recorded open, so an operator cannot silently resume trading on top
// of unresolved exposure.
func (h *handlers) handleRemediate(c *gin.Context) {
	sess := h.engine.Session()
	snap := sess.Snapshot()
	if snap.SystemState != session.StateEmergency && !snap.TradingDisabled {
		c.JSON(http.StatusConflict, gin.H{"error": "session is not locked down"})
		return
	}
	if snap.CurrentTrade != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error": "an open trade is still recorded; resolve exposure before remediating",
		})
		return
	}
	sess.ManualRemediate()
	logger.Warnf("manual remediation: lockdown cleared via ops API (ip=%s)", c.ClientIP())
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (h *handlers) handleEntry(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := signal.Parse(string(raw))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res := h.engine.PlaceEntry(c.Request.Context(), d)
	c.JSON(statusFor(res), res)
}

func (h *handlers) handleExit(c *gin.Context) {
	var body struct {
		Price  float64 `json:"price"`
		Reason string  `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res := h.engine.ExitCurrentTrade(c.Request.Context(), body.Price, body.Reason)
	c.JSON(statusFor(res), res)
}

func (h *handlers) handleMonitor(c *gin.Context) {
	res := h.engine.MonitorProtectiveStop(c.Request.Context())
	c.JSON(statusFor(res), res)
}

func statusFor(res engine.Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.RequiresEmergencyRemediation:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// requestLogger records ops calls for traceability.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		client := c.ClientIP()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			method, path, c.Writer.Status(), client, time.Since(start))
	}
}
