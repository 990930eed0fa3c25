package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/recallio/recall/internal/chat"
)

// MaxChatMessageBytes bounds the request body for a chat turn.
const MaxChatMessageBytes = 1 << 20

// ChatService runs one conversational turn.
type ChatService interface {
	Turn(ctx context.Context, sessionID uuid.UUID, userText string) (*chat.TurnResult, error)
}

// ChatHandler handles the chat turn endpoint.
type ChatHandler struct {
	service ChatService
	logger  *slog.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(service ChatService, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{service: service, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.turn)
}

// ChatRequest is the request body for a chat turn. SessionID is
// optional: omitting it starts a new session.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ChatResponse is the response body for a chat turn.
type ChatResponse struct {
	SessionID          uuid.UUID `json:"session_id"`
	Reply              string    `json:"reply"`
	ContextItems       int       `json:"context_items"`
	RetrievalDegraded  bool      `json:"retrieval_degraded,omitempty"`
	UserMessageID      int64     `json:"user_message_id"`
	AssistantMessageID int64     `json:"assistant_message_id"`
}

func (h *ChatHandler) turn(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	body := http.MaxBytesReader(w, r.Body, MaxChatMessageBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}

	sessionID := uuid.Nil
	if req.SessionID != "" {
		var err error
		if sessionID, err = uuid.Parse(req.SessionID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_session_id", "session id must be a UUID")
			return
		}
	}

	result, err := h.service.Turn(r.Context(), sessionID, req.Message)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		SessionID:          result.SessionID,
		Reply:              result.Reply,
		ContextItems:       result.ContextItems,
		RetrievalDegraded:  result.RetrievalDegraded,
		UserMessageID:      result.UserMessageID,
		AssistantMessageID: result.AssistantMessageID,
	})
}
