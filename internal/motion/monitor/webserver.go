// Package monitor serves the read-only HTTP surface: health, diagnostics,
// session listings, per-session series for charting, and recording
// downloads.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/samber/lo"

	"github.com/gaitworks/motion.report/internal/motion"
	"github.com/gaitworks/motion.report/internal/security"
	"github.com/gaitworks/motion.report/internal/version"
)

// WebServer handles the HTTP interface for session results and recordings.
type WebServer struct {
	address string
	app     *motion.App
	server  *http.Server
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	App     *motion.App

	// Ingest is mounted under /ws/ when non-nil so one listener carries
	// both the websocket and REST surfaces.
	Ingest http.Handler
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		app:     config.App,
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(config.Ingest),
	}
	return ws
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes(ingest http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /dtw/health", ws.handleHealth)
	mux.HandleFunc("GET /dtw/diag", ws.handleDiag)
	mux.HandleFunc("GET /dtw/tests", ws.handleTests)
	mux.HandleFunc("GET /dtw/sessions/lookup/{session_id}", ws.handleLookup)
	mux.HandleFunc("GET /dtw/sessions/{test}", ws.handleSessions)
	mux.HandleFunc("GET /dtw/sessions/{test}/{session_id}/series", ws.handleSeries)
	mux.HandleFunc("GET /dtw/sessions/{test}/{session_id}/chart", ws.handleSessionChart)
	mux.HandleFunc("GET /dtw/sessions/{test}/{session_id}/download", ws.handleDownload)
	mux.HandleFunc("GET /videos/{patient_id}/{test}", ws.handleVideos)
	mux.HandleFunc("GET /recordings/{patient_id}/{test_id}", ws.handleRecording)

	if ingest != nil {
		mux.Handle("/ws/", ingest)
		mux.Handle("/ws/camera", ingest)
	}

	return mux
}

// callerID mirrors the ingest side: identity comes from the fronting auth
// layer, with a query fallback for local testing.
func callerID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	if id := r.URL.Query().Get("user_id"); id != "" {
		return id
	}
	return "anonymous"
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, map[string]any{
		"ok":      true,
		"backend": "dtw",
		"model":   "mediapipe",
		"version": version.Version,
	})
}

func (ws *WebServer) handleDiag(w http.ResponseWriter, r *http.Request) {
	counts, err := ws.app.Results.CountByTest(r.Context())
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("count sessions: %v", err))
		return
	}
	total := lo.Sum(lo.Values(counts))
	ws.writeJSON(w, map[string]any{
		"sessions_total":   total,
		"sessions_by_test": counts,
	})
}

func (ws *WebServer) handleTests(w http.ResponseWriter, r *http.Request) {
	tests, err := ws.app.Results.ListTests(r.Context())
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list tests: %v", err))
		return
	}
	if tests == nil {
		tests = []string{}
	}
	ws.writeJSON(w, map[string]any{"tests": tests})
}

func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	test := r.PathValue("test")
	sessions, err := ws.app.Results.ListSessions(r.Context(), test)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []motion.SessionSummary{}
	}
	ws.writeJSON(w, map[string]any{
		"test":     motion.NormalizeTestName(test),
		"sessions": sessions,
	})
}

func (ws *WebServer) handleLookup(w http.ResponseWriter, r *http.Request) {
	ref, err := ws.app.Results.Lookup(r.Context(), r.PathValue("session_id"))
	if errors.Is(err, motion.ErrResultNotFound) {
		ws.writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("lookup session: %v", err))
		return
	}
	ws.writeJSON(w, ref)
}

func (ws *WebServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	result, err := ws.app.Results.GetResult(r.Context(), r.PathValue("test"), r.PathValue("session_id"))
	if errors.Is(err, motion.ErrResultNotFound) {
		ws.writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("load session: %v", err))
		return
	}
	if result.RecordingFile == "" {
		ws.writeJSONError(w, http.StatusNotFound, "session has no recording")
		return
	}
	ws.streamRecording(w, result.RecordingFile)
}

func (ws *WebServer) handleVideos(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("patient_id")
	test := r.PathValue("test")
	files, err := ws.app.Results.ListRecordings(r.Context(), callerID(r), patientID, test)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list recordings: %v", err))
		return
	}
	if files == nil {
		files = []string{}
	}
	ws.writeJSON(w, map[string]any{
		"patient_id": patientID,
		"test":       motion.NormalizeTestName(test),
		"videos": lo.Map(files, func(name string, _ int) map[string]string {
			return map[string]string{
				"file": name,
				"path": "recordings/" + name,
			}
		}),
	})
}

// handleRecording streams one recording by test id, enforcing that the
// caller owns the patient. Foreign or missing sessions both read as 404.
func (ws *WebServer) handleRecording(w http.ResponseWriter, r *http.Request) {
	name, err := ws.app.Results.GetRecordingOwned(r.Context(),
		callerID(r), r.PathValue("patient_id"), r.PathValue("test_id"))
	if errors.Is(err, motion.ErrResultNotFound) {
		ws.writeJSONError(w, http.StatusNotFound, "recording not found")
		return
	}
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("resolve recording: %v", err))
		return
	}
	ws.streamRecording(w, name)
}

func (ws *WebServer) streamRecording(w http.ResponseWriter, name string) {
	full := filepath.Join(ws.app.RecordingsDir, name)
	if err := security.ValidatePathWithinDirectory(full, ws.app.RecordingsDir); err != nil {
		ws.writeJSONError(w, http.StatusNotFound, "recording not found")
		return
	}
	f, err := ws.app.OpenRecording(name)
	if err != nil {
		ws.writeJSONError(w, http.StatusNotFound, "recording file missing")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := io.Copy(w, f); err != nil {
		log.Printf("failed to stream recording %s: %v", name, err)
	}
}
