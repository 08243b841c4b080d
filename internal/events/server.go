// Package events provides a WebSocket feed of publish, sync and migration
// activity.
//
// Editors and preview tooling connect to /ws and receive one JSON Message per
// event. Nothing is read from clients.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/claystudio/contentsync/internal/logger"
)

// MessageType defines the type of event message
type MessageType string

const (
	// MessageTypePublish indicates a document was published or deleted
	MessageTypePublish MessageType = "publish"

	// MessageTypeSync carries the outcome of a post-publish home sync
	MessageTypeSync MessageType = "sync"

	// MessageTypeMigration indicates a migration run finished
	MessageTypeMigration MessageType = "migration"

	// MessageTypeStats carries document counts
	MessageTypeStats MessageType = "stats"
)

// Message is the envelope written to every client.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	subscriberQueue = 32
	writeTimeout    = 5 * time.Second
)

// subscriber is one connected client with its own outgoing queue.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Server fans messages out to WebSocket subscribers. A subscriber whose
// queue fills up is disconnected; other subscribers are unaffected.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	started  time.Time

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	dropped     atomic.Int64

	// welcome returns the first message a new client receives.
	welcome func() Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *logger.Logger
}

// Config holds server configuration
type Config struct {
	// Host to bind (default: 127.0.0.1)
	Host string

	// Port to listen on; 0 picks a free port
	Port int

	Logger *logger.Logger
}

// DefaultConfig returns the local-only defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:   "127.0.0.1",
		Port:   8090,
		Logger: logger.Nop(),
	}
}

// NewServer creates an event server. It does not listen until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	log := config.Logger
	if log == nil {
		log = logger.Nop()
	}
	host := config.Host
	if host == "" {
		host = "127.0.0.1"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:        net.JoinHostPort(host, strconv.Itoa(config.Port)),
		subscribers: make(map[*subscriber]struct{}),
		welcome:     func() Message { return Message{Type: MessageTypeStats} },
		ctx:         ctx,
		cancel:      cancel,
		log:         log.Named("events"),
	}
}

// Start listens and serves /ws, /health and a JSON index on /.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.started = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleSubscribe)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleIndex)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("event server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("event server failed", "error", err)
		}
	}()

	return nil
}

// Stop disconnects every subscriber and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
		delete(s.subscribers, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		_ = sub.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.log.Info("event server stopped")
	return nil
}

// Broadcast queues msg on every subscriber. It never blocks.
func (s *Server) Broadcast(msg Message) {
	if s.ctx.Err() != nil {
		return
	}
	data, err := encode(msg)
	if err != nil {
		s.log.Error("failed to marshal message", "type", msg.Type, "error", err)
		return
	}

	var slow []*subscriber
	s.mu.Lock()
	for sub := range s.subscribers {
		select {
		case sub.send <- data:
		default:
			delete(s.subscribers, sub)
			slow = append(slow, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range slow {
		s.dropped.Add(1)
		s.log.Warn("disconnecting slow subscriber", "type", msg.Type)
		go sub.conn.Close(websocket.StatusPolicyViolation, "too slow")
	}
}

func encode(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return json.Marshal(msg)
}

// handleSubscribe upgrades the request and writes queued messages until
// the client goes away or the server stops.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	sub := &subscriber{conn: conn, send: make(chan []byte, subscriberQueue)}
	if data, err := encode(s.welcome()); err == nil {
		sub.send <- data
	}

	// The welcome is queued before registration, so it is always first.
	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	count := len(s.subscribers)
	s.mu.Unlock()
	s.log.Debug("client connected", "clients", count)

	defer s.unsubscribe(sub)

	// Client frames are discarded; ctx ends when the client disconnects.
	ctx := conn.CloseRead(s.ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-sub.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.log.Debug("dropping client after failed write", "error", err)
				return
			}
		}
	}
}

func (s *Server) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	_, ok := s.subscribers[sub]
	delete(s.subscribers, sub)
	count := len(s.subscribers)
	s.mu.Unlock()

	if ok {
		_ = sub.conn.Close(websocket.StatusNormalClosure, "")
		s.log.Debug("client disconnected", "clients", count)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
		"dropped": s.dropped.Load(),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]any{
		"service": "csync events",
		"ws":      "ws://" + r.Host + "/ws",
		"health":  "http://" + r.Host + "/health",
		"types":   []MessageType{MessageTypePublish, MessageTypeSync, MessageTypeMigration, MessageTypeStats},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Addr returns the listening address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}
