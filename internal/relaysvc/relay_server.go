// Package relaysvc is the network hub: it ingests wire messages from
// bridge connections, folds them into the canonical state and fans the
// raw bytes out to any number of viewer connections.
package relaysvc

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/controldeck/controldeck/internal/statesvc"
	"github.com/controldeck/controldeck/pkg/controlev"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

var defaultOptions = options{
	listenAddr: ":8765",
}

type options struct {
	listenAddr string
}

type Option func(*options)

func WithListenAddr(addr string) Option {
	return func(o *options) {
		o.listenAddr = addr
	}
}

type Service struct {
	log     *zap.Logger
	options options

	state    *statesvc.Service
	viewers  *viewerRegistry
	upgrader websocket.Upgrader

	ready chan struct{}
}

func New(log *zap.Logger, state *statesvc.Service, opts ...Option) *Service {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{
		log:     log,
		options: o,
		state:   state,
		viewers: newViewerRegistry(log.Named("viewers")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ready: make(chan struct{}),
	}
}

// Handler builds the HTTP routing surface. Exposed separately from Start
// so tests can mount it on an ephemeral listener.
func (s *Service) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/bridge", s.handleBridge)
	r.GET("/ws", s.handleViewer)
	r.GET("/status", s.handleStatus)
	r.GET("/reset", s.handleReset)

	return r
}

// Start serves until the context is cancelled, then shuts down
// gracefully and closes all viewer connections.
func (s *Service) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.options.listenAddr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("Relay listening", zap.String("addr", ln.Addr().String()))
	close(s.ready)

	select {
	case <-ctx.Done():
		s.viewers.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// handleBridge ingests one producer connection. Every text message is
// broadcast to viewers verbatim; only messages that parse as control
// events reach the aggregator.
func (s *Service) handleBridge(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("Bridge upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	s.log.Info("Bridge connected", zap.String("remote", remote))
	s.state.SetConnected(true)
	defer func() {
		s.state.SetConnected(false)
		s.log.Info("Bridge disconnected", zap.String("remote", remote))
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if ev, err := controlev.Parse(data); err != nil {
			s.log.Debug("Skipping unparseable message",
				zap.String("remote", remote),
				zap.ByteString("data", data),
				zap.Error(err))
		} else {
			s.log.Debug("Event", zap.Stringer("event", ev))
			s.state.Apply(ev)
		}
		s.viewers.broadcast(data)
	}
}

// handleViewer registers one receive-only consumer. The read loop exists
// to detect the peer going away; inbound data is discarded.
func (s *Service) handleViewer(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("Viewer upgrade failed", zap.Error(err))
		return
	}
	v := s.viewers.add(conn)
	defer s.viewers.remove(v)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Service) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.LastDeltaState())
}

func (s *Service) handleReset(c *gin.Context) {
	pos := s.state.ResetPosition()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "position": pos})
}

// ViewerCount reports the number of live viewer connections.
func (s *Service) ViewerCount() int {
	return s.viewers.count()
}
