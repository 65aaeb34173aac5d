package handlers

import (
	"context"
	"net"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/upb/grounded-chat/models"
	"github.com/upb/grounded-chat/services/chat"
	"github.com/upb/grounded-chat/utils"
)

// ChatService defines the interface for chat operations
type ChatService interface {
	Chat(ctx context.Context, req *models.ChatRequest, meta chat.RequestMeta) (*models.ChatResponse, error)
}

// ChatHandler handles POST /chat
type ChatHandler struct {
	service ChatService
	logger  *zap.Logger
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(service ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		logger:  logger,
	}
}

// HandleChat decodes and validates the request, then runs the chat pipeline.
// Every outcome is written as a ChatResponse body.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chimiddleware.GetReqID(ctx)

	var req models.ChatRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		h.logger.Warn("failed to parse chat request",
			zap.String("request_id", requestID),
			zap.Error(err))
		h.writeInvalid(w, err, nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("chat request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		h.writeInvalid(w, err, utils.GetValidationFields(err))
		return
	}

	resp, err := h.service.Chat(ctx, &req, chat.RequestMeta{
		RequestID: requestID,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})

	HandleChatResult(w, resp, err, h.logger)
}

func (h *ChatHandler) writeInvalid(w http.ResponseWriter, err error, fields map[string]string) {
	resp := &models.ChatResponse{
		Reply:     chat.InvalidRequestMessage,
		Citations: []models.Citation{},
		Error:     true,
		Status:    models.ChatStatusInvalidRequest,
		Details:   fields,
	}
	if len(fields) == 0 {
		resp.Details = map[string]string{"body": err.Error()}
	}

	if err := utils.WriteJSON(w, http.StatusBadRequest, resp); err != nil {
		h.logger.Error("failed to write chat response", zap.Error(err))
	}
}

// clientIP returns the host part of RemoteAddr, which chi's RealIP middleware
// has already replaced with the forwarded client address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
