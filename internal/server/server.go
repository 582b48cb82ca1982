package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/shaunagostinho/lcdsniff/internal/lcd"
	"github.com/shaunagostinho/lcdsniff/internal/metrics"
)

// Server pushes every completed frame to WebSocket clients and exposes the
// latest state, the config and Prometheus metrics over HTTP. It is a
// link.Sink.
type Server struct {
	cfg   *Config
	webFS fs.FS
	reg   *prometheus.Registry
	log   *zap.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	statusMu sync.Mutex
	status   Status
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Message is the JSON structure sent to all WebSocket clients.
type Message struct {
	Type       string            `json:"type"` // "status", "frame" or "reject"
	Frame      *lcd.DecodedFrame `json:"frame,omitempty"`
	Reject     *Rejection        `json:"reject,omitempty"`
	Status     *Status           `json:"status,omitempty"`
	Raw        string            `json:"raw,omitempty"`
	IntervalMs float64           `json:"intervalMs"`
	Stamp      int64             `json:"stamp"` // Unix ms
}

// Rejection describes a dropped frame for clients.
type Rejection struct {
	Reason     string `json:"reason"`
	Offset     int    `json:"offset"`
	Checksum   uint8  `json:"checksum"`
	Calculated uint8  `json:"calculated"`
	Message    string `json:"message"`
}

// Status summarizes what has been seen on the link so far.
type Status struct {
	Decoded  uint64            `json:"decoded"`
	Rejected map[string]uint64 `json:"rejected"`
	Last     *lcd.DecodedFrame `json:"last,omitempty"`
	LastRaw  string            `json:"lastRaw,omitempty"`
	LastSeen int64             `json:"lastSeen,omitempty"` // Unix ms of the last completed frame
}

// New creates a new Server. reg may be nil when metrics are not wanted.
func New(cfg *Config, webFS fs.FS, reg *prometheus.Registry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		webFS:   webFS,
		reg:     reg,
		log:     log,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		status: Status{Rejected: make(map[string]uint64)},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/config", s.handleConfig)
	if s.reg != nil {
		mux.Handle("/metrics", metrics.Handler(s.reg))
	}
	return mux
}

// Run serves HTTP until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Info("listening", zap.String("addr", s.cfg.Server.ListenAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Emit records a completed frame and broadcasts it.
func (s *Server) Emit(ev lcd.Event) {
	if !ev.Completed() {
		return
	}
	raw := ev.Raw().String()
	msg := Message{Raw: raw, Stamp: ev.At.UnixMilli()}

	s.statusMu.Lock()
	s.status.LastSeen = msg.Stamp
	switch ev.Kind {
	case lcd.EventDecoded:
		f := *ev.Frame
		s.status.Decoded++
		s.status.Last = &f
		s.status.LastRaw = raw
		msg.Type = "frame"
		msg.Frame = &f
		msg.IntervalMs = durationMs(f.Interval)
	case lcd.EventRejected:
		reason := ev.Err.Reason.String()
		s.status.Rejected[reason]++
		msg.Type = "reject"
		msg.Reject = &Rejection{
			Reason:     reason,
			Offset:     ev.Err.Offset,
			Checksum:   ev.Err.Checksum,
			Calculated: ev.Err.Calculated,
			Message:    ev.Err.Error(),
		}
		msg.IntervalMs = durationMs(ev.Err.Interval)
	}
	s.statusMu.Unlock()

	s.broadcast(msg)
}

// Snapshot returns a copy of the current status.
func (s *Server) Snapshot() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st := s.status
	st.Rejected = make(map[string]uint64, len(s.status.Rejected))
	for k, v := range s.status.Rejected {
		st.Rejected[k] = v
	}
	if s.status.Last != nil {
		last := *s.status.Last
		st.Last = &last
	}
	return st
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	s.log.Info("ws client connected", zap.Int("clients", n))

	// Send the current status first
	st := s.Snapshot()
	if data, err := json.Marshal(Message{Type: "status", Status: &st, Stamp: time.Now().UnixMilli()}); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive, detects disconnect)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			s.log.Info("ws client disconnected", zap.Int("clients", n))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := s.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := s.cfg.ToJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
