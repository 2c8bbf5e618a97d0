package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/dailogi/scene-client/internal/model"
	"github.com/dailogi/scene-client/internal/roster"
	"github.com/dailogi/scene-client/pkg/logger"
)

// RosterLoader loads the roster for the session in ctx.
type RosterLoader interface {
	Load(ctx context.Context) (*roster.Roster, error)
}

// RosterHandler serves the characters and models for the scene form.
type RosterHandler struct {
	loader RosterLoader
	logger *logger.Logger
}

// NewRosterHandler creates a new roster handler.
func NewRosterHandler(loader RosterLoader, log *logger.Logger) *RosterHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &RosterHandler{loader: loader, logger: log}
}

// Get handles GET /api/v1/roster
func (h *RosterHandler) Get(w http.ResponseWriter, r *http.Request) {
	rs, err := h.loader.Load(r.Context())
	if err != nil {
		h.logger.Warn("failed to load roster", zap.Error(err))
		writeBackendError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &model.RosterResponse{
		Characters: rs.Characters(),
		LLMs:       rs.LLMs(),
	})
}
