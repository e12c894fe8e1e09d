// Package api exposes a read-only HTTP view over ticks, positions, and
// trades. It writes nothing; the engine and collector stay the only writers.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soyjavierquiroz/sentinel/internal/db"
)

// Server serves the monitoring endpoints. Every payload uses the
// {ok, data} envelope; failures return {ok: false, error}.
type Server struct {
	storage db.Storage
	engine  *gin.Engine
}

func NewServer(storage db.Storage) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{storage: storage, engine: gin.New()}
	s.engine.Use(gin.Recovery())

	s.engine.GET("/health", s.health)
	s.engine.GET("/last-tick", s.lastTick)
	s.engine.GET("/ticks", s.ticks)
	s.engine.GET("/position", s.position)
	s.engine.GET("/trades", s.trades)
	s.engine.GET("/pnl/summary", s.pnlSummary)
	return s
}

// Handler returns the underlying HTTP handler, for embedding in an
// http.Server or a test recorder.
func (s *Server) Handler() http.Handler { return s.engine }

// Run blocks serving on addr.
func (s *Server) Run(addr string) error { return s.engine.Run(addr) }

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": data})
}

func fail(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
}

func limitQuery(c *gin.Context, fallback int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"service": "sentinel-api",
		"ts":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) lastTick(c *gin.Context) {
	t, err := s.storage.GetLatestTick(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, t)
}

// ticks returns the most recent ticks ordered oldest to newest.
func (s *Server) ticks(c *gin.Context) {
	ticks, err := s.storage.GetRecentTicks(c.Request.Context(), limitQuery(c, 50))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, ticks)
}

// position returns the latest position regardless of status, or null when
// none was ever opened.
func (s *Server) position(c *gin.Context) {
	pos, err := s.storage.GetLatestPosition(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, pos)
}

func (s *Server) trades(c *gin.Context) {
	trades, err := s.storage.GetTrades(c.Request.Context(), limitQuery(c, 20))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, trades)
}

func (s *Server) pnlSummary(c *gin.Context) {
	summary, err := s.storage.GetPnLSummary(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, summary)
}
