package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/grounded-chat/models"
	"github.com/upb/grounded-chat/services"
	"github.com/upb/grounded-chat/services/chat"
	"github.com/upb/grounded-chat/utils"
)

// HandleChatResult writes the outcome of a chat exchange. Failures keep the
// ChatResponse shape so the browser can render a retry affordance.
func HandleChatResult(w http.ResponseWriter, resp *models.ChatResponse, err error, logger *zap.Logger) {
	status := chat.StatusCode(err)

	if resp == nil {
		logger.Error("chat service returned no response", zap.Error(err))
		resp = &models.ChatResponse{
			Reply:     chat.FailureMessage,
			Citations: []models.Citation{},
			Error:     true,
			Status:    models.ChatStatusFailed,
		}
		status = http.StatusInternalServerError
	}

	if err != nil {
		logger.Debug("handled chat error",
			zap.String("type", string(services.GetErrorType(err))),
			zap.Int("status", status))
	}

	if err := utils.WriteJSON(w, status, resp); err != nil {
		logger.Error("failed to write chat response", zap.Error(err))
	}
}

// Speech endpoint messages, kept compatible with the browser client
const (
	SpeechDisabledMessage = "Speech service is disabled or missing credentials."
	SpeechFailedMessage   = "Failed to retrieve speech token"
)

// SpeechErrorResponse is the body of a failed /speech-token call
type SpeechErrorResponse struct {
	Error   string `json:"error"`
	Enabled bool   `json:"enabled"`
}

// HandleSpeechError maps speech token errors: a disabled feature is 403,
// anything else is 500 with upstream detail kept in the logs.
func HandleSpeechError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	status := http.StatusInternalServerError
	body := SpeechErrorResponse{Error: SpeechFailedMessage, Enabled: true}

	switch {
	case services.IsDisabledError(err):
		status = http.StatusForbidden
		body = SpeechErrorResponse{Error: SpeechDisabledMessage, Enabled: false}

	case services.IsExternalError(err):
		logger.Error("speech token service error",
			zap.Error(err),
			zap.Any("details", services.GetErrorDetails(err)))

	default:
		logger.Error("unhandled speech error",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
	}

	if err := utils.WriteJSON(w, status, body); err != nil {
		logger.Error("failed to write speech error response", zap.Error(err))
	}
}
