// Package mockapi is an in-process stand-in for the home security
// backend. It serves the REST endpoints, the /ws/events push channel and
// the export SSE stream with in-memory data so the client can be run and
// tested without the real system.
package mockapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/clock"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
)

// Options configure a Server
type Options struct {
	// APIKey, when set, is required as X-API-Key on every request.
	APIKey string
	// RateLimit is the number of REST requests allowed per RateWindow.
	// Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
	// PingInterval is how often WebSocket clients receive a ping frame.
	PingInterval time.Duration
	// ExportStep is the delay between export progress events.
	ExportStep time.Duration
	Clock      clock.Clock
	Logger     hclog.Logger
}

// Server holds the mock backend state
type Server struct {
	opts   Options
	engine *gin.Engine
	hub    *hub

	mu         sync.Mutex
	events     []stream.SecurityEvent
	anomalies  []stream.Anomaly
	detections []stream.Detection
	exports    map[string]*exportJob

	windowStart time.Time
	used        int
}

// New creates a Server with empty state
func New(opts Options) *Server {
	if opts.RateWindow == 0 {
		opts.RateWindow = time.Minute
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ExportStep == 0 {
		opts.ExportStep = 250 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}

	s := &Server{
		opts:    opts,
		hub:     newHub(opts.Logger.Named("ws")),
		exports: map[string]*exportJob{},
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	s.routes(r)
	s.engine = r
	return s
}

// Handler returns the HTTP handler serving every endpoint
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Clients is the number of connected WebSocket clients
func (s *Server) Clients() int {
	return s.hub.count()
}

// Run serves on addr until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mockapi: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.opts.Logger.Info("mock backend listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.hub.closeAll()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("mockapi: shutdown: %w", err)
	}
	return nil
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.hub.count()})
	})
	r.GET("/ws/events", s.authorize(), s.serveWS)

	api := r.Group("/api", s.authorize(), s.rateLimit())
	api.GET("/events", s.listEvents)
	api.DELETE("/events/:id", s.deleteEvent)
	api.PATCH("/events/:id", s.patchEvent)
	api.POST("/events/:id/restore", s.restoreEvent)
	api.GET("/zones/:id/anomalies", s.zoneAnomalies)
	api.POST("/anomalies/:id/acknowledge", s.acknowledgeAnomaly)
	api.GET("/detections/recent", s.recentDetections)
	api.POST("/exports", s.createExport)
	api.GET("/exports/:id/stream", s.streamExport)
}

func (s *Server) requestLog() gin.HandlerFunc {
	logger := s.opts.Logger.Named("http")
	return func(c *gin.Context) {
		start := s.opts.Clock.Now()
		c.Next()
		logger.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "duration", s.opts.Clock.Now().Sub(start))
	}
}

func (s *Server) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.APIKey != "" && c.GetHeader("X-API-Key") != s.opts.APIKey {
			abort(c, http.StatusUnauthorized, "invalid API key")
			return
		}
		c.Next()
	}
}

// rateLimit applies a fixed window and reports the window on every
// response with the X-RateLimit-* headers.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.RateLimit <= 0 {
			c.Next()
			return
		}
		now := s.opts.Clock.Now()

		s.mu.Lock()
		if s.windowStart.IsZero() || now.Sub(s.windowStart) >= s.opts.RateWindow {
			s.windowStart = now
			s.used = 0
		}
		reset := s.windowStart.Add(s.opts.RateWindow)
		allowed := s.used < s.opts.RateLimit
		if allowed {
			s.used++
		}
		remaining := s.opts.RateLimit - s.used
		s.mu.Unlock()

		c.Header("X-RateLimit-Limit", strconv.Itoa(s.opts.RateLimit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if !allowed {
			wait := int(reset.Sub(now).Seconds() + 0.999)
			c.Header("Retry-After", strconv.Itoa(wait))
			abort(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

// abort writes a FastAPI style error body
func abort(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

// AddEvent stores an event and pushes it to subscribed clients. Missing
// ids and timestamps are filled in.
func (s *Server) AddEvent(ev stream.SecurityEvent) stream.SecurityEvent {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.StartedAt.IsZero() {
		ev.StartedAt = s.opts.Clock.Now().UTC()
	}
	if ev.RiskLevel == "" {
		ev.RiskLevel = stream.RiskLevelFor(ev.RiskScore)
	}

	s.mu.Lock()
	replaced := false
	for i := range s.events {
		if s.events[i].ID == ev.ID {
			s.events[i] = ev
			replaced = true
			break
		}
	}
	if !replaced {
		s.events = append(s.events, ev)
	}
	s.sortEventsLocked()
	s.mu.Unlock()

	s.publish(string(stream.KindEvent), ev)
	return ev
}

// AddAnomaly stores an anomaly and pushes it
func (s *Server) AddAnomaly(a stream.Anomaly) stream.Anomaly {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.DetectedAt.IsZero() {
		a.DetectedAt = s.opts.Clock.Now().UTC()
	}
	if a.Severity == "" {
		a.Severity = stream.SeverityLow
	}

	s.mu.Lock()
	s.anomalies = append([]stream.Anomaly{a}, s.anomalies...)
	s.mu.Unlock()

	s.publish(string(stream.KindAnomaly), a)
	return a
}

// AddDetection stores a detection and pushes it
func (s *Server) AddDetection(d stream.Detection) stream.Detection {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.DetectedAt.IsZero() {
		d.DetectedAt = s.opts.Clock.Now().UTC()
	}

	s.mu.Lock()
	s.detections = append([]stream.Detection{d}, s.detections...)
	if len(s.detections) > maxDetections {
		s.detections = s.detections[:maxDetections]
	}
	s.mu.Unlock()

	s.publish(string(stream.KindDetection), d)
	return d
}

// Publish sends an arbitrary envelope to subscribed clients. It is how
// batch, zone crossing and notification frames reach clients since the
// server keeps no REST state for them.
func (s *Server) Publish(typ string, data any) error {
	frame, err := stream.Encode(typ, data)
	if err != nil {
		return fmt.Errorf("mockapi: encoding %s frame: %w", typ, err)
	}
	s.hub.broadcast(typ, frame)
	return nil
}

func (s *Server) publish(typ string, data any) {
	if err := s.Publish(typ, data); err != nil {
		s.opts.Logger.Warn("push failed", "type", typ, "error", err)
	}
}

const maxDetections = 500

func (s *Server) sortEventsLocked() {
	sort.SliceStable(s.events, func(i, j int) bool {
		return s.events[i].StartedAt.After(s.events[j].StartedAt)
	})
}
