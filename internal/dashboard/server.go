package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/justin4957/latency-anomaly-detector/internal/config"
	"github.com/justin4957/latency-anomaly-detector/pkg/models"
	"github.com/rs/zerolog/log"
)

//go:embed static/index.html
var staticFiles embed.FS

// Message kinds sent to websocket clients
const (
	KindSample  = "sample"
	KindMetrics = "metrics"
	KindAnomaly = "anomaly"
)

// Message wraps every value pushed to websocket clients
type Message struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// AnomalySource provides persisted anomalies, newest first
type AnomalySource interface {
	Recent(limit int) ([]models.Anomaly, error)
}

// MetricsSource provides window metrics of the running monitor
type MetricsSource interface {
	Latest() (models.WindowMetrics, bool)
	GetHistoricalMetrics() []models.WindowMetrics
}

// Server provides the web dashboard
type Server struct {
	config    config.DashboardConfig
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]struct{}
	clientsMu sync.RWMutex
	broadcast chan Message

	history AnomalySource
	metrics MetricsSource

	anomaliesMu sync.RWMutex
	anomalies   []models.Anomaly
}

// NewServer creates a new dashboard server. history and metrics may be nil.
func NewServer(cfg config.DashboardConfig, history AnomalySource, metrics MetricsSource) *Server {
	if cfg.MaxAnomalies <= 0 {
		cfg.MaxAnomalies = 50
	}
	return &Server{
		config: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan Message, 100),
		history:   history,
		metrics:   metrics,
	}
}

// Handler returns the dashboard routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/anomalies", s.handleAnomalies)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/", s.handleIndex)
	return mux
}

// Run forwards monitor output to websocket clients until ctx is cancelled
// or input is closed
func (s *Server) Run(ctx context.Context, input <-chan any) {
	go s.broadcastLoop(ctx)
	go s.handleInput(ctx, input)
}

// Start serves the dashboard and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context, input <-chan any) error {
	s.Run(ctx, input)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Dashboard server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("dashboard server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeClients()
	return server.Shutdown(shutdownCtx)
}

// ClientCount returns the number of connected websocket clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func wrap(data any) (Message, bool) {
	switch v := data.(type) {
	case models.ScoredSample:
		return Message{Kind: KindSample, Data: v}, true
	case *models.WindowMetrics:
		if v == nil {
			return Message{}, false
		}
		return Message{Kind: KindMetrics, Data: v}, true
	case models.WindowMetrics:
		return Message{Kind: KindMetrics, Data: v}, true
	case models.Anomaly:
		return Message{Kind: KindAnomaly, Data: v}, true
	case *models.Anomaly:
		if v == nil {
			return Message{}, false
		}
		return Message{Kind: KindAnomaly, Data: *v}, true
	}
	return Message{}, false
}

func (s *Server) handleInput(ctx context.Context, input <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-input:
			if !ok {
				return
			}
			msg, ok := wrap(data)
			if !ok {
				log.Debug().Type("value", data).Msg("Dropping unknown dashboard value")
				continue
			}
			if anomaly, isAnomaly := msg.Data.(models.Anomaly); isAnomaly {
				s.rememberAnomaly(anomaly)
			}
			select {
			case s.broadcast <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Server) rememberAnomaly(anomaly models.Anomaly) {
	s.anomaliesMu.Lock()
	defer s.anomaliesMu.Unlock()
	s.anomalies = append(s.anomalies, anomaly)
	if over := len(s.anomalies) - s.config.MaxAnomalies; over > 0 {
		s.anomalies = append(s.anomalies[:0], s.anomalies[over:]...)
	}
}

func (s *Server) recentAnomalies(limit int) []models.Anomaly {
	s.anomaliesMu.RLock()
	defer s.anomaliesMu.RUnlock()
	out := make([]models.Anomaly, 0, min(limit, len(s.anomalies)))
	for i := len(s.anomalies) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.anomalies[i])
	}
	return out
}

func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-s.broadcast:
			var failed []*websocket.Conn
			s.clientsMu.RLock()
			for client := range s.clients {
				if err := client.WriteJSON(message); err != nil {
					log.Debug().Err(err).Msg("WebSocket write error")
					failed = append(failed, client)
				}
			}
			s.clientsMu.RUnlock()
			for _, client := range failed {
				s.removeClient(client)
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	s.clientsMu.Unlock()

	log.Debug().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	// Keep connection alive
	for {
		if _, _, err := conn.NextReader(); err != nil {
			s.removeClient(conn)
			break
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		conn.Close()
	}
}

func (s *Server) closeClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	limit := s.config.MaxAnomalies
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	if s.history != nil {
		anomalies, err := s.history.Recent(limit)
		if err != nil {
			log.Error().Err(err).Msg("Failed to read anomaly history")
			writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "failed to read anomaly history"})
			return
		}
		if anomalies == nil {
			anomalies = []models.Anomaly{}
		}
		writeJSON(w, http.StatusOK, anomalies)
		return
	}
	writeJSON(w, http.StatusOK, s.recentAnomalies(limit))
}

type metricsResponse struct {
	Current *models.WindowMetrics  `json:"current"`
	History []models.WindowMetrics `json:"history"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resp := metricsResponse{History: []models.WindowMetrics{}}
	if s.metrics != nil {
		if latest, ok := s.metrics.Latest(); ok {
			resp.Current = &latest
		}
		if hist := s.metrics.GetHistoricalMetrics(); hist != nil {
			resp.History = hist
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	page, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "dashboard page missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}
