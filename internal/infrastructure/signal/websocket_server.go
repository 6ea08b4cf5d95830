package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"
	"streamrelay/internal/core/services"
	rlog "streamrelay/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ServerOptions tunes the per-connection behavior of the websocket server.
type ServerOptions struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendQueueSize  int
	MaxMessageSize int64

	// MessagesPerSecond limits inbound frames per connection; zero disables it.
	MessagesPerSecond float64
	Burst             int

	// AllowedOrigins of "*" or empty accepts every origin.
	AllowedOrigins []string
}

func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendQueueSize:  256,
		MaxMessageSize: 64 * 1024,
		AllowedOrigins: []string{"*"},
	}
}

// WebSocketServer exposes the relay over websocket connections. Each
// connection gets a relay-assigned id, a reader running in the handler
// goroutine and a writer draining a bounded queue.
type WebSocketServer struct {
	relay    *services.Relay
	opts     ServerOptions
	upgrader websocket.Upgrader
	metrics  ports.RelayMetrics

	connections map[domain.ConnectionID]*connection
	mu          sync.RWMutex
	closing     bool
	wg          sync.WaitGroup

	logger    *zap.SugaredLogger
	ctxLogger *rlog.ContextLogger
}

func NewWebSocketServer(relay *services.Relay, opts ServerOptions, logger *zap.SugaredLogger) *WebSocketServer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	defaults := DefaultServerOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaults.PongTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = defaults.SendQueueSize
	}

	s := &WebSocketServer{
		relay:       relay,
		opts:        opts,
		connections: make(map[domain.ConnectionID]*connection),
		logger:      logger,
		ctxLogger:   rlog.NewContextLogger(logger),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

// SetMetrics sets the sink for rate-limited drops (optional).
func (s *WebSocketServer) SetMetrics(m ports.RelayMetrics) {
	s.metrics = m
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the request and serves the connection until the
// peer goes away.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closing := s.closing
	s.mu.RUnlock()
	if closing {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	c := newConnection(domain.ConnectionID(uuid.NewString()), conn, s.opts.SendQueueSize)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.connections[c.id] = c
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx := rlog.WithConnectionID(context.Background(), string(c.id))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(ctx, c)
	}()

	if err := s.relay.Connect(c); err != nil {
		s.ctxLogger.For(ctx).Errorw("failed to register connection", "error", err)
	} else {
		s.readPump(ctx, c)
		s.relay.Disconnect(ctx, c.id)
	}

	c.close()
	<-writerDone
	conn.Close()

	s.mu.Lock()
	delete(s.connections, c.id)
	s.mu.Unlock()
}

func (s *WebSocketServer) readPump(ctx context.Context, c *connection) {
	if s.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(s.opts.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	var limiter *rate.Limiter
	if s.opts.MessagesPerSecond > 0 {
		burst := s.opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), burst)
	}

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.ctxLogger.For(ctx).Infow("connection read failed", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		if messageType != websocket.TextMessage {
			s.ctxLogger.For(ctx).Warnw("ignoring non-text frame", "frame_type", messageType)
			continue
		}

		if limiter != nil && !limiter.Allow() {
			if s.metrics != nil {
				s.metrics.MessageDropped("unknown", services.DropRateLimited)
			}
			s.ctxLogger.For(ctx).Warnw("dropping rate limited message")
			continue
		}

		if err := s.relay.Dispatch(ctx, c.id, data); err != nil {
			switch {
			case errors.Is(err, domain.ErrNotInRoom), errors.Is(err, domain.ErrTargetUnavailable):
				s.ctxLogger.For(ctx).Debugw("message not delivered", "error", err)
			default:
				s.ctxLogger.For(ctx).Warnw("dropping message", "error", err)
			}
		}
	}
}

func (s *WebSocketServer) writePump(ctx context.Context, c *connection) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := c.conn.WriteJSON(env); err != nil {
				s.ctxLogger.For(ctx).Infow("write failed, closing connection", "error", err)
				// unblocks the reader
				c.conn.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// ConnectionCount returns the number of open websocket connections.
func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Shutdown stops accepting connections, closes the open ones and waits for
// their handlers to finish or ctx to expire.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		// Closing the socket ends the read loop; the handler cleans up.
		c.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infow("websocket server stopped", "closed_connections", len(conns))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connection is the relay's view of one websocket client.
type connection struct {
	id   domain.ConnectionID
	conn *websocket.Conn
	send chan domain.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(id domain.ConnectionID, conn *websocket.Conn, queueSize int) *connection {
	return &connection{
		id:   id,
		conn: conn,
		send: make(chan domain.Envelope, queueSize),
		done: make(chan struct{}),
	}
}

func (c *connection) ID() domain.ConnectionID { return c.id }

// Send enqueues env without blocking.
func (c *connection) Send(env domain.Envelope) error {
	select {
	case <-c.done:
		return domain.ErrTargetUnavailable
	default:
	}

	select {
	case c.send <- env:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
