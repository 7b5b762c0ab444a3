package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatescan/internal/platform/middleware"
)

const requestTimeout = 15 * time.Second

// NewRouter wires the kiosk endpoints with the shared middleware stack. The
// WebSocket routes sit outside the timeout group: upgraded connections live
// for the whole session.
func NewRouter(h *Handler, operatorKey string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(logger))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Post("/scan/start", h.handleStart)
		r.Get("/scan/state", h.handleState)
		r.Get("/scan/capture", h.handleCapture)

		r.Group(func(r chi.Router) {
			r.Use(middleware.OperatorAuth(operatorKey, logger))
			r.Post("/scan/reset", h.handleReset)
		})

		r.Get("/healthz", h.handleHealthz)
		r.Handle("/metrics", promhttp.Handler())
	})

	r.Get("/scan/events", h.handleEvents)
	r.Get("/camera/feed", h.handleCameraFeed)

	return r
}
