package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the HTTP surface: frame submission, incident queries,
// status, the WebSocket alert channel, evidence files, and metrics.
func NewRouter(app *App, alertHandler http.Handler, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/streams/{streamID}/frames", app.SubmitFrameHandler)
		r.Delete("/streams/{streamID}", app.DisconnectStreamHandler)
		r.Get("/incidents", app.ListIncidentsHandler)
		r.Get("/status", app.StatusHandler)
	})

	r.Handle("/ws/alerts", alertHandler)
	r.Handle("/metrics", metricsHandler)

	if app.EvidenceDir != "" {
		fileServer := http.FileServer(http.Dir(app.EvidenceDir))
		r.Handle("/alerts/*", http.StripPrefix("/alerts/", fileServer))
	}

	return r
}

// PingHandler answers liveness probes.
func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}
