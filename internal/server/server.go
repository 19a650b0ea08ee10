package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiolibrelab/audiocomments/internal/service"
	"github.com/audiolibrelab/audiocomments/internal/session"
)

const (
	eventWriteTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server represents the web server for remote control of a session
type Server struct {
	service service.Service
	port    string
	mdns    bool

	httpServer *http.Server
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status  service.Status `json:"status"`
	Message string         `json:"message"`
}

// RecordingsResponse represents the JSON response for the recordings list
type RecordingsResponse struct {
	Success    bool                    `json:"success"`
	Recordings []service.RecordingInfo `json:"recordings"`
	Count      int                     `json:"count"`
}

// GenericResponse represents a generic JSON response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Option configures a Server
type Option func(*Server)

// WithMDNS advertises the server on the local network
func WithMDNS(enabled bool) Option {
	return func(s *Server) {
		s.mdns = enabled
	}
}

// New creates a new web server instance for svc
func New(svc service.Service, port string, opts ...Option) *Server {
	s := &Server{
		service: svc,
		port:    port,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/record/start", s.handleStartRecording)
	mux.HandleFunc("/record/stop", s.handleStopRecording)
	mux.HandleFunc("/play", s.handlePlay)
	mux.HandleFunc("/pause", s.handlePause)
	mux.HandleFunc("/recordings", s.handleRecordings)
	mux.HandleFunc("/recordings/latest", s.handleLatestRecording)
	mux.HandleFunc("/events", s.handleEvents)
	mux.Handle("/metrics", promhttp.HandlerFor(s.service.Metrics().Registry(), promhttp.HandlerOpts{}))
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.mdns {
		stop, err := advertise(s.port)
		if err != nil {
			slog.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer stop()
		}
	}

	localIP := getLocalIP()
	slog.Info("Starting audiocomments web server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("web server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleStatus returns the current session snapshot
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}

	status := s.service.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:  status,
		Message: generateStatusMessage(status),
	})
}

// handleStartRecording starts a new recording (IDLE/PLAYING -> RECORDING)
func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.service.StartRecording(r.Context()); err != nil {
		s.sendErrorResponse(w, statusForError(err),
			fmt.Sprintf("Failed to start recording: %v", err),
			"operation", "start_recording")
		return
	}
	s.sendSuccess(w, "Recording started")
}

// handleStopRecording stops the current recording (RECORDING -> IDLE)
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.service.StopRecording(r.Context()); err != nil {
		s.sendErrorResponse(w, statusForError(err),
			fmt.Sprintf("Failed to stop recording: %v", err),
			"operation", "stop_recording")
		return
	}
	s.sendSuccess(w, "Recording stopped")
}

// handlePlay starts or resumes playback of the last recording
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.service.Play(r.Context()); err != nil {
		s.sendErrorResponse(w, statusForError(err),
			fmt.Sprintf("Failed to start playback: %v", err),
			"operation", "play")
		return
	}
	s.sendSuccess(w, "Playback started")
}

// handlePause pauses playback (PLAYING -> IDLE)
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.service.Pause(r.Context()); err != nil {
		s.sendErrorResponse(w, statusForError(err),
			fmt.Sprintf("Failed to pause playback: %v", err),
			"operation", "pause")
		return
	}
	s.sendSuccess(w, "Playback paused")
}

// handleRecordings lists recordings in the output directory
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet) {
		return
	}

	recordings, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list recordings: %v", err),
			"operation", "list_recordings")
		return
	}
	if recordings == nil {
		recordings = []service.RecordingInfo{}
	}

	writeJSON(w, http.StatusOK, RecordingsResponse{
		Success:    true,
		Recordings: recordings,
		Count:      len(recordings),
	})
}

// handleLatestRecording streams the last committed recording
func (s *Server) handleLatestRecording(w http.ResponseWriter, r *http.Request) {
	if !s.allowMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}

	latest := s.service.LastArtifact()
	if latest == "" {
		s.sendErrorResponse(w, http.StatusNotFound, "No recordings found", "operation", "latest_recording")
		return
	}

	if _, err := os.Stat(latest); err != nil {
		s.sendErrorResponse(w, http.StatusNotFound,
			fmt.Sprintf("Recording %s is no longer available", filepath.Base(latest)),
			"path", latest, "operation", "latest_recording")
		return
	}

	// Set headers for audio streaming
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(latest)))

	http.ServeFile(w, r, latest)
}

// handleEvents streams session events as JSON over a websocket
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("Failed to accept event stream", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their close frame
	ctx := conn.CloseRead(r.Context())

	events, unsubscribe := s.service.Subscribe()
	defer unsubscribe()
	slog.Debug("Event stream opened", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Event stream closed by client", "remote", r.RemoteAddr)
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				slog.Debug("Failed to write event", "remote", r.RemoteAddr, "type", ev.Type, "error", err)
				return
			}
		}
	}
}

func (s *Server) allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, GenericResponse{Success: false, Error: "Method not allowed"})
	return false
}

func (s *Server) sendSuccess(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, GenericResponse{
		Success: true,
		Message: message,
		Mode:    s.service.Status().Mode,
	})
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	writeJSON(w, statusCode, GenericResponse{Success: false, Error: errorMsg})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// statusForError maps session failures onto HTTP status codes
func statusForError(err error) int {
	if errors.Is(err, service.ErrNoRecording) {
		return http.StatusConflict
	}

	var sessionErr *session.Error
	if errors.As(err, &sessionErr) {
		switch sessionErr.Kind {
		case session.ErrorKindRecorderUnavailable, session.ErrorKindPlaybackUnavailable:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

func generateStatusMessage(status service.Status) string {
	switch status.Mode {
	case session.ModeRecording.String():
		return "Recording in progress"
	case session.ModePlaying.String():
		return fmt.Sprintf("Playing %s at %.1fs", filepath.Base(status.LastArtifact), status.Position)
	}

	if status.LastError != "" {
		return "Last operation failed"
	}
	if status.LastArtifact == "" {
		return "Ready to record"
	}
	return fmt.Sprintf("Ready, last recording %s", filepath.Base(status.LastArtifact))
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
