// Package dashboard implements the live fleet status server (SPEC_FULL.md
// §2 item 16): a REST snapshot, a WebSocket push of report updates and
// streamed logs, and a static status page. Grounded on
// leccaventures-pwt/internal/dashboard/server.go (upgrader/client-map/
// broadcast-channel shape, the /api/state + /ws + static-file routing, the
// log-channel forwarder) and internal/ws/listener.go (the push-on-update
// idiom, here driven by fleet.Coordinator's onUpdate callback instead of an
// Ethereum newHeads subscription).
package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/poplexity/bpvalidate/internal/config"
	"github.com/poplexity/bpvalidate/internal/fleet"
	"github.com/poplexity/bpvalidate/internal/logger"
)

//go:embed static/*
var staticFS embed.FS

// Server serves the fleet's live status over REST and WebSocket.
type Server struct {
	cfg         *config.Config
	coordinator *fleet.Coordinator

	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	logChan   chan logger.LogEntry
	mu        sync.Mutex
}

func NewServer(cfg *config.Config, coordinator *fleet.Coordinator) *Server {
	s := &Server{
		cfg:         cfg,
		coordinator: coordinator,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte),
		logChan:   make(chan logger.LogEntry, 100),
	}

	logger.SetLogChannel(s.logChan)
	return s
}

// Start binds the dashboard's HTTP port, serves /metrics on the Prometheus
// port (on the dashboard's own listener when the two ports are equal), and
// begins servicing WebSocket broadcasts and streamed logs until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) {
	if s.cfg.Advanced.DashboardPort <= 0 {
		return
	}

	go s.handleMessages()
	go s.handleLogs()
	go s.runServer(ctx, s.cfg.Advanced.DashboardPort, func(mux *http.ServeMux) {
		mux.HandleFunc("/api/state", s.handleState)
		mux.HandleFunc("/ws", s.handleConnections)

		mux.Handle("/static/", http.FileServer(http.FS(staticFS)))
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			content, _ := staticFS.ReadFile("static/index.html")
			w.Header().Set("Content-Type", "text/html")
			w.Write(content)
		})

		if s.cfg.Advanced.Prometheus.Port == s.cfg.Advanced.DashboardPort {
			mux.Handle("/metrics", promhttp.Handler())
		}
	})
	if port := s.cfg.Advanced.Prometheus.Port; port > 0 && port != s.cfg.Advanced.DashboardPort {
		go s.runServer(ctx, port, func(mux *http.ServeMux) {
			mux.Handle("/metrics", promhttp.Handler())
		})
	}
}

func (s *Server) runServer(ctx context.Context, port int, setup func(*http.ServeMux)) {
	mux := http.NewServeMux()
	setup(mux)

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{Addr: addr, Handler: mux}

	logger.Info("DASH", "HTTP server listening on %s", addr)

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
		logger.Info("DASH", "HTTP server shutting down")
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("DASH", "HTTP server failed on %s: %v", addr, err)
	}
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("DASH", "websocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	if state, err := s.stateJSON(); err == nil {
		conn.WriteMessage(websocket.TextMessage, state)
	}
}

func (s *Server) handleMessages() {
	for msg := range s.broadcast {
		s.mu.Lock()
		for client := range s.clients {
			if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
				client.Close()
				delete(s.clients, client)
			}
		}
		s.mu.Unlock()
	}
}

func (s *Server) handleLogs() {
	type logMessage struct {
		Type      string `json:"type"`
		Timestamp string `json:"timestamp"`
		Level     string `json:"level"`
		Component string `json:"component"`
		Message   string `json:"message"`
	}

	for entry := range s.logChan {
		msg := logMessage{
			Type: "log", Timestamp: entry.Timestamp, Level: entry.Level,
			Component: entry.Component, Message: entry.Message,
		}
		body, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		s.mu.Lock()
		for client := range s.clients {
			client.WriteMessage(websocket.TextMessage, body)
		}
		s.mu.Unlock()
	}
}

// BroadcastUpdate pushes the current fleet state to every connected
// client. Wired as the fleet.Coordinator's onUpdate callback, so every
// single BP's completed validation triggers a push rather than waiting
// for a whole pass to finish.
func (s *Server) BroadcastUpdate() {
	if s.cfg.Advanced.DashboardPort <= 0 {
		return
	}
	state, err := s.stateJSON()
	if err != nil {
		logger.Warn("DASH", "failed to marshal state for broadcast: %v", err)
		return
	}
	s.broadcast <- state
}

type bpDTO struct {
	Owner       string `json:"owner"`
	Worst       string `json:"worst"`
	ElapsedTime float64 `json:"elapsed_time"`
	LastCheck   string `json:"last_check"`
	Error       string `json:"error,omitempty"`
}

type stateDTO struct {
	BPs []bpDTO `json:"bps"`
}

func (s *Server) stateJSON() ([]byte, error) {
	var dtos []bpDTO
	for _, status := range s.coordinator.Statuses() {
		dto := bpDTO{Owner: status.Owner()}

		if err := status.Err(); err != nil {
			dto.Error = err.Error()
			dtos = append(dtos, dto)
			continue
		}

		report, done := status.Report()
		if !done {
			dtos = append(dtos, dto)
			continue
		}

		dto.Worst = string(fleet.WorstKind(report))
		dto.ElapsedTime = report.ElapsedTime
		if lastCheck := status.LastCheck(); !lastCheck.IsZero() {
			dto.LastCheck = lastCheck.Format("15:04:05")
		}
		dtos = append(dtos, dto)
	}

	sort.Slice(dtos, func(i, j int) bool { return dtos[i].Owner < dtos[j].Owner })
	return json.Marshal(stateDTO{BPs: dtos})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.stateJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(state)
}
