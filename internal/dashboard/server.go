// Package dashboard serves the latest ranking, cycle diagnostics, recent
// metrics and logs over a Gin JSON API.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fundingarb/config"
	"fundingarb/internal/metrics"
	"fundingarb/internal/models"
	"fundingarb/logger"
)

// Server hosts the dashboard API.
type Server struct {
	cfg           config.DashboardConfig
	log           *logger.Log
	metricStore   *metricStore
	logStore      *logStore
	cycles        *cycleStore
	metricHandler metrics.MetricHandlerID
	httpServer    *http.Server
	startedAt     time.Time
}

// NewServer returns nil when the dashboard is disabled.
func NewServer(cfg config.DashboardConfig, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Address = normalizeAddress(cfg.Address)

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:           cfg,
		log:           log,
		metricStore:   metricStore,
		logStore:      logStore,
		cycles:        newCycleStore(cfg.CycleHistory),
		metricHandler: handlerID,
		startedAt:     time.Now().UTC(),
	}, nil
}

// Consume records every report from reports until the channel closes or
// ctx ends.
func (s *Server) Consume(ctx context.Context, reports <-chan models.CycleReport) {
	if s == nil {
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-reports:
				if !ok {
					return
				}
				s.cycles.record(r)
			}
		}
	}()
}

// Run serves HTTP until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithComponent("dashboard").WithField("address", s.cfg.Address).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
}

// Address reports the address the dashboard listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		body := gin.H{
			"status":     "ok",
			"app":        appName,
			"started_at": s.startedAt.Format(time.RFC3339),
		}
		if r, ok := s.cycles.last(); ok {
			body["last_cycle_id"] = r.CycleID
			body["last_cycle_at"] = r.StartedAt.Format(time.RFC3339Nano)
		}
		c.JSON(http.StatusOK, body)
	})

	router.GET("/api/candidates", func(c *gin.Context) {
		r, ok := s.cycles.last()
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no completed cycle yet"})
			return
		}
		candidates := r.Candidates
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			if n < len(candidates) {
				candidates = candidates[:n]
			}
		}
		if candidates == nil {
			candidates = []models.ArbitrageCandidate{}
		}
		c.JSON(http.StatusOK, gin.H{
			"cycle_id":   r.CycleID,
			"started_at": r.StartedAt.Format(time.RFC3339Nano),
			"candidates": candidates,
		})
	})

	router.GET("/api/cycle", func(c *gin.Context) {
		r, ok := s.cycles.last()
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no completed cycle yet"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"summary":     summarize(r),
			"diagnostics": r.Diagnostics,
		})
	})

	router.GET("/api/cycles", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"cycles": s.cycles.summaries()})
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		snapshot := s.metricStore.snapshot()
		payload := make([]gin.H, 0, len(snapshot))
		for _, m := range snapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		snapshot := s.logStore.snapshot()
		payload := make([]gin.H, 0, len(snapshot))
		for _, l := range snapshot {
			payload = append(payload, gin.H{
				"timestamp": l.Timestamp.Format(time.RFC3339Nano),
				"level":     l.Level,
				"component": l.Component,
				"message":   l.Message,
				"fields":    l.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload, "counts": logger.Counts()})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
