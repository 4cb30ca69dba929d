// Package api exposes the pipeline over HTTP: synchronous frame
// submission, incident queries, stream teardown, and operational status.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"vigil/internal/alert"
	"vigil/internal/frame"
	"vigil/internal/hub"
	"vigil/internal/pipeline"
	"vigil/internal/storage"
)

// maxFrameBytes bounds a single frame upload.
const maxFrameBytes = 8 << 20

// App holds the handlers' collaborators.
type App struct {
	Pipeline    *pipeline.Pipeline
	Store       *storage.Store
	Hub         *hub.Hub
	Logger      *zap.Logger
	EvidenceDir string
}

type errorResponse struct {
	Error string `json:"error"`
}

// SubmitFrameHandler accepts a frame for a stream and returns the
// resulting threat decision synchronously. The frame may arrive as a
// multipart "frame" field or as the raw request body.
func (app *App) SubmitFrameHandler(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")
	if streamID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "stream_id required"})
		return
	}

	image, err := readFrameBody(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read frame body"})
		return
	}

	dec, err := app.Pipeline.Process(r.Context(), streamID, image)
	switch {
	case errors.Is(err, frame.ErrInvalidFrame):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, pipeline.ErrStreamBusy):
		// Deliberate backpressure: previous frame still in flight
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error()})
	case errors.Is(err, alert.ErrStorageWrite):
		// The decision stands and the alert was handled per the liveness
		// policy; the caller still needs to know durability failed.
		app.Logger.Error("incident storage failed", zap.String("stream_id", streamID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":    "storage_write_failed",
			"decision": dec,
		})
	case err != nil:
		app.Logger.Error("frame processing failed", zap.String("stream_id", streamID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	default:
		writeJSON(w, http.StatusOK, dec)
	}
}

// readFrameBody extracts the frame bytes from multipart or raw body.
func readFrameBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFrameBytes)

	if file, _, err := r.FormFile("frame"); err == nil {
		defer file.Close()
		return io.ReadAll(file)
	}
	return io.ReadAll(r.Body)
}

// DisconnectStreamHandler tears down all server-side state for a stream.
func (app *App) DisconnectStreamHandler(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")
	if streamID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "stream_id required"})
		return
	}
	app.Pipeline.Teardown(streamID)
	w.WriteHeader(http.StatusNoContent)
}

// ListIncidentsHandler returns persisted incidents filtered by stream and
// time range, newest first.
func (app *App) ListIncidentsHandler(w http.ResponseWriter, r *http.Request) {
	filter := storage.IncidentFilter{
		StreamID: r.URL.Query().Get("stream_id"),
		Limit:    100,
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		filter.Limit = limit
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid since timestamp"})
			return
		}
		filter.Since = &t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid until timestamp"})
			return
		}
		filter.Until = &t
	}

	incidents, err := app.Store.ListIncidents(r.Context(), filter)
	if err != nil {
		app.Logger.Error("incident query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "query failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

// StatusHandler returns an operational snapshot of the system.
func (app *App) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"system":      "vigil",
		"status":      "operational",
		"pipeline":    app.Pipeline.Stats(),
		"analyzers":   app.Pipeline.AnalyzerHealth(),
		"subscribers": app.Hub.ClientCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
