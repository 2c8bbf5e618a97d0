// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dailogi/scene-client/internal/middleware"
	"github.com/dailogi/scene-client/internal/model"
	"github.com/dailogi/scene-client/internal/scene"
	"github.com/dailogi/scene-client/internal/service"
	"github.com/dailogi/scene-client/pkg/logger"
	"github.com/dailogi/scene-client/pkg/metrics"
)

const maxBodyBytes = 64 << 10

// SceneHandler handles scene endpoints.
type SceneHandler struct {
	service   *service.SceneService
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewSceneHandler creates a new scene handler.
func NewSceneHandler(svc *service.SceneService, log *logger.Logger) *SceneHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SceneHandler{
		service:   svc,
		logger:    log,
		heartbeat: 30 * time.Second,
	}
}

// Create handles POST /api/v1/scenes
func (h *SceneHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.CreateSceneRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sc, err := h.service.Start(ctx, userID, &req)
	if err != nil {
		var ve *scene.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  ve.Error(),
				"fields": ve.Fields,
			})
			return
		}
		h.logger.Error("failed to start scene", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start scene")
		return
	}

	streamURL := "/api/v1/scenes/" + sc.ID + "/events"
	w.Header().Set("Location", "/api/v1/scenes/"+sc.ID)
	writeJSON(w, http.StatusCreated, &model.CreateSceneResponse{
		ID:        sc.ID,
		StreamURL: streamURL,
	})
}

// List handles GET /api/v1/scenes
func (h *SceneHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, h.service.List(ctx, middleware.GetUserID(ctx)))
}

// Get handles GET /api/v1/scenes/{id}
func (h *SceneHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sc, err := h.service.Get(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "scene not found")
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// Delete handles DELETE /api/v1/scenes/{id}
func (h *SceneHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.service.Stop(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "scene not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events handles GET /api/v1/scenes/{id}/events. It relays the scene as
// "snapshot" events while its stream is active and ends with "done" or
// "failed".
func (h *SceneHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	sceneID := chi.URLParam(r, "id")
	log := h.logger.WithScene(sceneID)

	updates, unsubscribe, err := h.service.Subscribe(ctx, userID, sceneID)
	if err != nil {
		writeError(w, http.StatusNotFound, "scene not found")
		return
	}
	defer unsubscribe()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{Timestamp: time.Now()}); err != nil {
				return
			}

		case snap := <-updates:
			sc, err := h.service.Get(ctx, userID, sceneID)
			if err != nil {
				// Stopped and forgotten.
				sendSSEEvent(w, flusher, "done", map[string]string{"id": sceneID})
				return
			}
			if err := sendSSEEvent(w, flusher, "snapshot", sc); err != nil {
				log.Debug("SSE write failed", zap.Error(err))
				return
			}
			if snap.Active {
				continue
			}
			if sc.Failure != "" {
				sendSSEEvent(w, flusher, "failed", &model.FailureEvent{Message: sc.Failure})
			} else {
				sendSSEEvent(w, flusher, "done", sc)
			}
			return
		}
	}
}
