// Copyright (C) 2026  RepRap Host Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"reprap-host/pkg/log"
	"reprap-host/pkg/metrics"
)

// Config holds server configuration.
type Config struct {
	Addr    string
	Printer Printer
	Metrics *metrics.Registry
	Logger  *log.Logger
}

// Server serves the host API.
type Server struct {
	printer  Printer
	registry *metrics.Registry
	logger   *log.Logger

	httpServer *http.Server
	addr       string

	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*WSClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	subscribed map[int64]bool
	subMu      sync.RWMutex

	running   atomic.Bool
	startTime time.Time
}

// New creates an API server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default().WithPrefix("api")
	}
	s := &Server{
		printer:    cfg.Printer,
		registry:   cfg.Metrics,
		logger:     logger,
		addr:       cfg.Addr,
		wsClients:  make(map[int64]*WSClient),
		subscribed: make(map[int64]bool),
		startTime:  time.Now(),
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Handler builds the route table. Exposed separately so tests can drive
// the server through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/server/info", s.handleServerInfo)
	mux.HandleFunc("/printer/status", s.handleStatus)
	mux.HandleFunc("/printer/gcode", s.handleGCode)
	mux.HandleFunc("/printer/emergency_stop", s.handleEmergencyStop)
	mux.HandleFunc("/printer/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("/printer/print/start", s.handlePrintStart)
	mux.HandleFunc("/printer/print/pause", s.handlePrintPause)
	mux.HandleFunc("/printer/print/resume", s.handlePrintResume)
	mux.HandleFunc("/printer/print/cancel", s.handlePrintCancel)
	mux.HandleFunc("/files", s.handleFiles)
	mux.HandleFunc("/files/", s.handleFileItem)
	if s.registry != nil {
		mux.HandleFunc("/metrics", s.handleMetrics)
	}

	return s.corsMiddleware(mux)
}

// Start runs the server until Stop or a listener error.
func (s *Server) Start() error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.Handler()}
	s.running.Store(true)
	s.logger.Infof("API server listening on %s", s.addr)
	go s.statusBroadcastLoop()
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down and disconnects every WebSocket client.
func (s *Server) Stop() error {
	s.running.Store(false)
	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.Close()
	}
	s.wsClients = make(map[int64]*WSClient)
	s.wsClientMu.Unlock()
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// BroadcastGCodeResponse forwards an interpreter reply to every
// connected WebSocket client. The host wires this up as the web
// source's reply writer.
func (s *Server) BroadcastGCodeResponse(msg string) {
	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	for _, client := range s.wsClients {
		client.Send(map[string]any{
			"jsonrpc": "2.0",
			"method":  "notify_gcode_response",
			"params":  []any{msg},
		})
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Errorf("response encoding failed: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()
	s.wsClientMu.RLock()
	clients := len(s.wsClients)
	s.wsClientMu.RUnlock()
	s.writeJSON(w, map[string]any{
		"result": map[string]any{
			"hostname":        hostname,
			"uptime":          time.Since(s.startTime).Seconds(),
			"websocket_count": clients,
			"api_version":     []int{1, 0, 0},
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"result": s.printer.Status()})
}

func (s *Server) handleGCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Script string `json:"script"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Script == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("missing 'script'"))
		return
	}
	if err := s.printer.ExecuteGCode(req.Script); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, map[string]any{"result": "ok"})
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.logger.Warn("emergency stop requested over API")
	s.printer.EmergencyStop()
	s.writeJSON(w, map[string]any{"result": "ok"})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, s.printer.Diagnostics())
}

func (s *Server) handlePrintStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	job, err := s.printer.StartPrint(req.Filename)
	if err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, map[string]any{"result": job})
}

func (s *Server) handlePrintPause(w http.ResponseWriter, r *http.Request) {
	s.printControl(w, r, s.printer.PausePrint)
}

func (s *Server) handlePrintResume(w http.ResponseWriter, r *http.Request) {
	s.printControl(w, r, s.printer.ResumePrint)
}

func (s *Server) handlePrintCancel(w http.ResponseWriter, r *http.Request) {
	s.printControl(w, r, s.printer.CancelPrint)
}

func (s *Server) printControl(w http.ResponseWriter, r *http.Request, op func() error) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := op(); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, map[string]any{"result": "ok"})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	names, err := s.printer.ListFiles()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, map[string]any{"result": names})
}

func (s *Server) handleFileItem(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/files/")
	if name == "" || strings.Contains(name, "/") {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("bad file name"))
		return
	}
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.printer.DeleteFile(name); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, map[string]any{"result": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprint(w, s.registry.Render())
}

// statusBroadcastLoop pushes status snapshots to subscribed WebSocket
// clients at 4 Hz.
func (s *Server) statusBroadcastLoop() {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for s.running.Load() {
		<-ticker.C
		s.broadcastStatus()
	}
}

func (s *Server) broadcastStatus() {
	s.subMu.RLock()
	subscribed := len(s.subscribed) > 0
	s.subMu.RUnlock()
	if !subscribed {
		return
	}
	status := s.printer.Status()
	notification := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "notify_status_update",
		"params":  []interface{}{status, time.Since(s.startTime).Seconds()},
	}
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	for id := range s.subscribed {
		if client, ok := s.wsClients[id]; ok {
			client.Send(notification)
		}
	}
}
