// Package server exposes script execution to observers over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/v0xg/tabmacro/internal/content"
	"github.com/v0xg/tabmacro/internal/script"
	"github.com/v0xg/tabmacro/internal/session"
)

const maxScriptBytes = 1 << 20

// Runner executes script text within a session
type Runner interface {
	ExecuteScript(ctx context.Context, sess *session.Session, text string) error
}

// Config configures the observer server
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	Buffer         *content.Buffer
	// Gatherer backs GET /metrics; the route is omitted when nil
	Gatherer prometheus.Gatherer
	// Health adds fields to the GET /healthz body
	Health func() gin.H
	Logger *zap.Logger
}

// Server accepts one WebSocket per observer and runs its scripts in a session
type Server struct {
	cfg        Config
	runner     Runner
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	startTime  time.Time

	mu      sync.Mutex
	clients map[string]*client
	runs    sync.WaitGroup
}

// New builds the server and its routes
func New(runner Runner, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:       cfg,
		runner:    runner,
		engine:    gin.New(),
		logger:    cfg.Logger.Named("server"),
		startTime: time.Now(),
		clients:   make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.engine.Use(gin.Recovery(), s.requestLogger())
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
		corsConfig.AllowWebSockets = true
		corsConfig.AllowBrowserExtensions = true
		s.engine.Use(cors.New(corsConfig))
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/ws", s.handleWebSocket)
	s.engine.GET("/healthz", s.handleHealth)
	if s.cfg.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api")
	api.POST("/scripts/parse", s.handleParse)
	api.GET("/tasks/:id/content", s.handleContent)
}

// Handler returns the HTTP handler, for embedding or tests
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Observer server listening", zap.String("addr", s.cfg.ListenAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown disconnects every observer, which cancels their runs, then waits
// for the runs to unwind and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.httpServer.Shutdown(ctx)
}

// Sessions returns the number of connected observers
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":   "ok",
		"uptime":   time.Since(s.startTime).Round(time.Second).String(),
		"sessions": s.Sessions(),
	}
	if s.cfg.Health != nil {
		for k, v := range s.cfg.Health() {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleParse(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxScriptBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	actions, err := script.Parse(string(body))
	if err != nil {
		resp := gin.H{"success": false, "error": err.Error()}
		var perr *script.ParseError
		if errors.As(err, &perr) {
			resp["line"] = perr.Line + 1
		}
		c.JSON(http.StatusBadRequest, resp)
		return
	}
	if actions == nil {
		actions = []*script.Action{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "actions": actions})
}

func (s *Server) handleContent(c *gin.Context) {
	if s.cfg.Buffer == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "content buffer disabled"})
		return
	}
	items := s.cfg.Buffer.Items(c.Param("id"))
	if items == nil {
		items = []content.Item{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "items": items})
}

// checkOrigin accepts non-browser clients, same-host pages and configured origins
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
