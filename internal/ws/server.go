// Package ws serves the live report feed: admin dashboards connect over
// WebSocket and receive every report and content status event as a JSON
// text frame.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nosurfing/moderation/internal/metrics"
	"github.com/nosurfing/moderation/internal/report"
)

// ServerConfig holds tunable parameters for the live feed.
type ServerConfig struct {
	MaxConnections int           // hard cap on concurrent subscribers
	SendBuffer     int           // queued frames per subscriber before dropping
	WriteTimeout   time.Duration // deadline for a single frame write
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxConnections: 256,
		SendBuffer:     64,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server upgrades HTTP requests to WebSocket and fans events out to every
// subscriber. Each subscriber gets one reader and one writer goroutine.
type Server struct {
	config ServerConfig
	conns  *ConnectionManager
	logger *zap.Logger
	done   chan struct{}
	once   sync.Once
	// mu orders subscriber registration against Close so wg.Add never
	// runs concurrently with wg.Wait.
	mu sync.Mutex
	wg sync.WaitGroup
}

// NewServer creates a Server and starts its heartbeat monitor.
func NewServer(config ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 1
	}
	s := &Server{
		config: config,
		conns:  NewConnectionManager(),
		logger: logger.With(zap.String("component", "live_feed")),
		done:   make(chan struct{}),
	}
	if config.Heartbeat.Interval > 0 {
		StartHeartbeat(s, config.Heartbeat)
	}
	return s
}

// Connections returns the connection registry.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// ServeHTTP upgrades the request using the gobwas/ws zero-copy upgrader and
// registers the subscriber.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	if s.config.MaxConnections > 0 && s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	// The hijacked conn keeps the HTTP server's deadlines.
	_ = conn.SetDeadline(time.Time{})

	c := newConnection(uuid.New().String(), conn, s.config.SendBuffer)
	if !s.track(c) {
		_ = c.Close()
		return
	}
	s.logger.Info("subscriber connected", zap.String("conn_id", c.ID), zap.Int("total", s.conns.Count()))
}

// track registers c and starts its loops. It returns false once Close has
// begun.
func (s *Server) track(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}

	s.conns.Add(c)
	metrics.LiveFeedSubscribers.Inc()
	s.wg.Add(2)
	go s.writeLoop(c)
	go s.readLoop(c)
	return true
}

// readLoop consumes client frames. Every frame, pongs included, counts as
// activity; control frames are answered and payloads are discarded. Any
// read error or a close frame ends the subscription.
func (s *Server) readLoop(c *Connection) {
	defer s.wg.Done()
	defer s.RemoveConnection(c)

	control := wsutil.ControlFrameHandler(lockedWriter{c}, ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:         c.Conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}
		c.touch()
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				return
			}
			continue
		}
		if err := rd.Discard(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *Connection) {
	defer s.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.WriteMessage(msg, s.config.WriteTimeout); err != nil {
				s.logger.Debug("write failed", zap.String("conn_id", c.ID), zap.Error(err))
				s.RemoveConnection(c)
				return
			}
		}
	}
}

// RemoveConnection unregisters and closes c.
func (s *Server) RemoveConnection(c *Connection) {
	if s.conns.Remove(c.ID) {
		metrics.LiveFeedSubscribers.Dec()
		s.logger.Info("subscriber disconnected", zap.String("conn_id", c.ID), zap.Int("total", s.conns.Count()))
	}
}

// Broadcast sends msg to every subscriber. Slow subscribers miss the frame.
func (s *Server) Broadcast(msg []byte) {
	if dropped := s.conns.Broadcast(msg); dropped > 0 {
		s.logger.Warn("live feed frame dropped for slow subscribers", zap.Int("dropped", dropped))
	}
}

// Notify implements report.Notifier.
func (s *Server) Notify(_ context.Context, ev report.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ws: marshal event: %w", err)
	}
	s.Broadcast(data)
	return nil
}

// Close disconnects every subscriber and waits for their goroutines.
func (s *Server) Close() {
	s.mu.Lock()
	s.once.Do(func() { close(s.done) })
	s.mu.Unlock()
	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}
	s.wg.Wait()
}
