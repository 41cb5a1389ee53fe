package statusapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/chatpress/internal/cache"
	"github.com/xxxsen/chatpress/internal/pipeline"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Server exposes pipeline health over HTTP: the latest run summary and
// per-tier cache counters.
type Server struct {
	srv        *http.Server
	cacheStats func() map[string]cache.Stats

	mu      sync.RWMutex
	lastRun *pipeline.Summary
}

func New(port int, cacheStats func() map[string]cache.Stats) *Server {
	s := &Server{cacheStats: cacheStats}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gzip.Gzip(gzip.DefaultCompression))
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/api/v1/status", s.handleStatus)
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}
	return s
}

// SetSummary publishes the result of a finished run.
func (s *Server) SetSummary(sum *pipeline.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = sum
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.RLock()
	lastRun := s.lastRun
	s.mu.RUnlock()
	var stats map[string]cache.Stats
	if s.cacheStats != nil {
		stats = s.cacheStats()
	}
	c.JSON(http.StatusOK, gin.H{
		"last_run":    lastRun,
		"cache_stats": stats,
	})
}

func (s *Server) Start() {
	go func() {
		logutil.GetLogger(context.Background()).Info("status api listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("status api stopped", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
