// Package server exposes pipeline status over HTTP: acceptance counts per
// stage, directories ready for stacking, and a websocket stream of frames
// landing on disk.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"astrokeep/internal/config"
	"astrokeep/internal/meta"
	"astrokeep/internal/scheduler"
	"astrokeep/internal/storage"
	"astrokeep/internal/watch"
)

// Server serves pipeline status. Scheduler and watcher are optional.
type Server struct {
	port     int
	store    *storage.Store
	sched    *scheduler.DB
	watcher  *watch.Watcher
	upgrader websocket.Upgrader
	hub      *hub

	// Missing, when set, supplies calibration signatures with no library
	// master for the report payload.
	Missing func() ([]meta.Attrs, error)
}

type hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

// StageReport summarizes acceptance counts for one pipeline stage.
type StageReport struct {
	Stage       string         `json:"stage"`
	Directories map[string]int `json:"directories"`
	Total       int            `json:"total"`
}

// Report is the full status payload.
type Report struct {
	Stages             []StageReport `json:"stages"`
	ReadyForMaster     []string      `json:"readyForMaster,omitempty"`
	MissingCalibration []meta.Attrs  `json:"missingCalibration,omitempty"`
	Timestamp          time.Time     `json:"timestamp"`
}

// New creates a status server on the given port.
func New(port int, store *storage.Store, sched *scheduler.DB, watcher *watch.Watcher) *Server {
	return &Server{
		port:    port,
		store:   store,
		sched:   sched,
		watcher: watcher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		hub: &hub{
			clients:    make(map[*websocket.Conn]bool),
			broadcast:  make(chan []byte),
			register:   make(chan *websocket.Conn),
			unregister: make(chan *websocket.Conn),
		},
	}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run(ctx)
	if s.watcher != nil {
		go s.broadcastFrameEvents(ctx)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("status server starting", "port", s.port)
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	router.HandleFunc("/api/report", s.handleReport).Methods("GET")
	router.HandleFunc("/api/accepted/{stage}", s.handleAccepted).Methods("GET")
	router.HandleFunc("/api/missing", s.handleMissing).Methods("GET")
	router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	return router
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

var reportStages = []string{config.DirBlink, config.DirData, config.DirMaster, config.DirProcess, config.DirBake, config.DirDone}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report := Report{Timestamp: time.Now()}
	for _, stage := range reportStages {
		sr, err := s.stageReport(stage)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		report.Stages = append(report.Stages, sr)
	}

	if s.sched != nil {
		ready, err := s.sched.ReadyForMaster(s.store)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		report.ReadyForMaster = ready
	}

	if s.Missing != nil {
		missing, err := s.Missing()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		report.MissingCalibration = missing
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleMissing(w http.ResponseWriter, r *http.Request) {
	if s.Missing == nil {
		http.Error(w, "calibration lookup not configured", http.StatusNotFound)
		return
	}
	missing, err := s.Missing()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(missing)
}

func (s *Server) handleAccepted(w http.ResponseWriter, r *http.Request) {
	stage := mux.Vars(r)["stage"]
	sr, err := s.stageReport(stage)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sr)
}

func (s *Server) stageReport(stage string) (StageReport, error) {
	byDir, err := s.store.AcceptedByDirectory(stage)
	if err != nil {
		return StageReport{}, err
	}
	sr := StageReport{Stage: stage, Directories: byDir}
	for _, count := range byDir {
		sr.Total += count
	}
	return sr, nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.hub.register <- conn

	go func() {
		defer func() {
			s.hub.unregister <- conn
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) broadcastFrameEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			s.hub.broadcast <- payload
		}
	}
}

func (h *hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			slog.Debug("websocket client connected", "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				slog.Debug("websocket client disconnected", "total", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					delete(h.clients, client)
					client.Close()
				}
			}
		}
	}
}
