// Package httptransport is the thin HTTP layer over the scan controller. It
// translates requests into controller calls and domain errors into status
// codes; no scan logic lives here.
package httptransport

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/mssola/useragent"

	"gatescan/internal/camera"
	"gatescan/internal/events"
	"gatescan/internal/scan"
	"gatescan/internal/transport/http/json"
	domainerrors "gatescan/pkg/domain-errors"
)

// Handler exposes the kiosk HTTP and WebSocket endpoints.
type Handler struct {
	controller *scan.Controller
	hub        *events.Hub
	feed       *camera.Feed
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewHandler builds the transport handler. feed may be nil when the kiosk
// runs on the synthetic camera; the frame-feed endpoint then answers 404.
func NewHandler(controller *scan.Controller, hub *events.Hub, feed *camera.Feed, logger *slog.Logger) *Handler {
	return &Handler{
		controller: controller,
		hub:        hub,
		feed:       feed,
		logger:     logger,
		upgrader: websocket.Upgrader{
			// The kiosk UI is served from anywhere on the closed network.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// handleStart begins a scan session. Starting mid-session is a conflict.
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Start(); err != nil {
		writeError(w, err)
		return
	}
	json.WriteJSON(w, http.StatusAccepted, h.controller.Snapshot())
}

// handleReset returns the kiosk to IDLE from any state.
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.controller.Reset()
	json.WriteJSON(w, http.StatusOK, h.controller.Snapshot())
}

// handleState reports the session snapshot.
func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	json.WriteJSON(w, http.StatusOK, h.controller.Snapshot())
}

// handleCapture serves the mirrored capture, or 404 before one exists.
func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	frame, ok := h.controller.Capture()
	if !ok {
		writeError(w, domainerrors.New(domainerrors.CodeNotFound, "no capture for this session"))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(frame)
}

// handleEvents upgrades a viewer onto the event hub.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("viewer upgrade failed", "error", err)
		return
	}

	ua := useragent.New(r.UserAgent())
	browser, version := ua.Browser()
	h.logger.Info("viewer attached",
		"remote_addr", r.RemoteAddr,
		"browser", browser,
		"browser_version", version,
		"os", ua.OS(),
		"mobile", ua.Mobile(),
	)
	h.hub.Attach(conn)
}

// handleCameraFeed upgrades the kiosk's frame-push connection.
func (h *Handler) handleCameraFeed(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		writeError(w, domainerrors.New(domainerrors.CodeNotFound, "camera feed disabled"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("camera feed upgrade failed", "error", err)
		return
	}
	if err := h.feed.Attach(conn); err != nil {
		h.logger.Warn("camera feed rejected", "error", err)
		conn.Close()
	}
}

// handleHealthz is the liveness probe.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	json.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError translates domain errors into the JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		response := map[string]string{"error": string(domainErr.Code)}
		if domainErr.Message != "" {
			response["error_description"] = domainErr.Message
		}
		json.WriteJSON(w, domainerrors.ToHTTPStatus(domainErr.Code), response)
		return
	}
	json.WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"error": string(domainerrors.CodeInternal),
	})
}
