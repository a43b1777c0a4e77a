package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"live-stream-manager/internal/platform/metrics"
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 1 << 20
)

// ServerConfig wires the frame WebSocket endpoint.
type ServerConfig struct {
	Executor Executor
	Region   RegionResetter
	Log      *slog.Logger
	Metrics  *metrics.Metrics

	// CheckOrigin guards the upgrade; nil uses gorilla's same-origin check.
	CheckOrigin func(*http.Request) bool

	// Setup registers lifecycle callbacks on each new session's bridge.
	Setup func(*Bridge)
}

// Server upgrades requests to frame sessions. Each connection gets its own
// Bridge, and each inbound message is dispatched on its own goroutine so a
// slow fabric call does not hold up the rest.
type Server struct {
	cfg      ServerConfig
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer returns a Server for cfg.
func NewServer(cfg ServerConfig) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{
		cfg: cfg,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("frame upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	send := SenderFunc(func(_ context.Context, msg Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(msg)
	})

	b := New(Config{
		Executor: s.cfg.Executor,
		Sender:   send,
		Region:   s.cfg.Region,
		Log:      s.log,
		Metrics:  s.cfg.Metrics,
	})
	if s.cfg.Setup != nil {
		s.cfg.Setup(b)
	}

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		b.Close()
	}()

	s.log.Info("frame connected", slog.String("remote", r.RemoteAddr))
	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("frame read failed", slog.String("error", err.Error()))
			}
			s.log.Info("frame disconnected", slog.String("remote", r.RemoteAddr))
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Receive(ctx, raw); err != nil {
				s.log.Warn("frame message ignored", slog.String("error", err.Error()))
			}
		}()
	}
}
