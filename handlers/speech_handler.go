package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/grounded-chat/services/speech"
	"github.com/upb/grounded-chat/utils"
)

// SpeechService defines the interface for speech token operations
type SpeechService interface {
	Enabled() bool
	IssueToken(ctx context.Context) (*speech.Token, error)
}

// SpeechHandler serves the speech token endpoints used by the voice input button
type SpeechHandler struct {
	service SpeechService
	logger  *zap.Logger
}

// NewSpeechHandler creates a new SpeechHandler
func NewSpeechHandler(service SpeechService, logger *zap.Logger) *SpeechHandler {
	return &SpeechHandler{
		service: service,
		logger:  logger,
	}
}

// HandleToken handles GET /speech-token
func (h *SpeechHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.service.IssueToken(r.Context())
	if err != nil {
		HandleSpeechError(w, err, h.logger)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	if err := utils.WriteJSON(w, http.StatusOK, token); err != nil {
		h.logger.Error("failed to write speech token response", zap.Error(err))
	}
}

// HandleEnabled handles GET /speech-enabled
func (h *SpeechHandler) HandleEnabled(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteJSON(w, http.StatusOK, map[string]bool{"enabled": h.service.Enabled()}); err != nil {
		h.logger.Error("failed to write speech status response", zap.Error(err))
	}
}
