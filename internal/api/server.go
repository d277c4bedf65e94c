// Package api serves the local status surface: health, session state,
// printers, notifications and a manual reconnect.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/thereceipt/print-agent/internal/device"
	"github.com/thereceipt/print-agent/internal/notify"
	"github.com/thereceipt/print-agent/internal/registry"
	"github.com/thereceipt/print-agent/internal/session"
	"github.com/thereceipt/print-agent/internal/store"
)

// Session is the part of the session manager the API exposes.
type Session interface {
	Status() session.Status
	ForceReconnect() error
	Watch() (<-chan session.State, func())
}

// Printers lists registered printers.
type Printers interface {
	List() ([]registry.PrinterConfig, error)
}

// Notifications lists raised notifications.
type Notifications interface {
	List() []notify.Notification
}

// Server is the API server
type Server struct {
	router        *gin.Engine
	session       Session
	printers      Printers
	notifications Notifications
	store         store.Store
	version       string
	started       time.Time
	upgrader      websocket.Upgrader
	log           zerolog.Logger

	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(sess Session, printers Printers, notes Notifications, s store.Store, version string, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	server := &Server{
		router:        router,
		session:       sess,
		printers:      printers,
		notifications: notes,
		store:         s,
		version:       version,
		started:       time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local surface, any origin
			},
		},
		log: log.With().Str("component", "api").Logger(),
	}
	router.Use(server.requestLogger())

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/printers", s.handleGetPrinters)
	s.router.GET("/notifications", s.handleGetNotifications)
	s.router.POST("/reconnect", s.handleReconnect)

	// State change stream
	s.router.GET("/ws", s.handleWebSocket)
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleStatus(c *gin.Context) {
	st := s.session.Status()
	id, _ := device.Load(s.store)

	c.JSON(200, gin.H{
		"state":    st.State,
		"attempts": st.Attempts,
		"since":    st.Since,
		"device": gin.H{
			"device_id":   id.DeviceID,
			"name":        id.Name,
			"provisioned": id.Provisioned(),
		},
		"branch": gin.H{
			"branch_id": id.Branch.ID,
			"name":      id.Branch.Name,
		},
		"version": s.version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleGetPrinters(c *gin.Context) {
	printers, err := s.printers.List()
	if err != nil {
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	if printers == nil {
		printers = []registry.PrinterConfig{}
	}

	c.JSON(200, gin.H{
		"printers": printers,
	})
}

func (s *Server) handleGetNotifications(c *gin.Context) {
	notes := s.notifications.List()
	if notes == nil {
		notes = []notify.Notification{}
	}
	c.JSON(200, gin.H{"notifications": notes})
}

// handleReconnect is the manual reconnect action: it resets the attempt
// counter and starts a fresh reconnect loop.
func (s *Server) handleReconnect(c *gin.Context) {
	err := s.session.ForceReconnect()
	if errors.Is(err, session.ErrNotStarted) {
		c.JSON(409, gin.H{"success": false, "error": "device not provisioned or session not started"})
		return
	}
	if err != nil {
		c.JSON(500, gin.H{"success": false, "error": err.Error()})
		return
	}
	s.log.Info().Msg("manual reconnect requested")
	c.JSON(202, gin.H{"success": true, "state": s.session.Status().State})
}

// Serve runs the API on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("status API listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Run listens on addr and serves until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
