package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/recallio/recall/internal/store"
)

// Pagination bounds.
const (
	DefaultListLimit   = 50
	MaxListLimit       = 1000
	MaxMessagesPerPage = 1000
	MaxListOffset      = 100000 // Reasonable upper bound for pagination offset
)

// SessionReader is the read side of the session store.
type SessionReader interface {
	CreateSession(ctx context.Context) (*store.Session, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*store.Session, error)
	ListRecentSessions(ctx context.Context, limit int) ([]*store.Session, error)
	ListMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*store.Message, error)
	Stats(ctx context.Context, sessionID uuid.UUID) (*store.Stats, error)
}

// SessionDeleter runs the cross-store delete protocol.
type SessionDeleter interface {
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
}

// SessionHandler handles session-related HTTP endpoints.
type SessionHandler struct {
	store   SessionReader
	deleter SessionDeleter
	logger  *slog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store SessionReader, deleter SessionDeleter, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{store: store, deleter: deleter, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.create)
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("GET /api/sessions/{id}", h.get)
	mux.HandleFunc("GET /api/sessions/{id}/messages", h.messages)
	mux.HandleFunc("GET /api/sessions/{id}/stats", h.stats)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.delete)
}

// sessionResponse is the wire form of a session.
type sessionResponse struct {
	ID           uuid.UUID `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

func toSessionResponse(s *store.Session) sessionResponse {
	return sessionResponse{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: s.MessageCount,
	}
}

// messageResponse is the wire form of a message. The embedding status
// is exposed so clients can tell searchable history from plain history.
type messageResponse struct {
	ID              int64     `json:"id"`
	Role            string    `json:"role"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
	EmbeddingStatus string    `json:"embedding_status"`
}

func (h *SessionHandler) create(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.CreateSession(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

// get returns a single session. An expired session reports 410 Gone
// rather than pretending the session is live.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// list returns recent sessions, most recently active first.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)

	sessions, err := h.store.ListRecentSessions(r.Context(), limit)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": out,
		"total":    len(out),
		"limit":    limit,
	})
}

// messages returns a session's history in insertion order.
// Query parameters:
//   - limit: maximum number of messages to return (default: all)
//   - offset: number of messages to skip (default: 0)
func (h *SessionHandler) messages(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	limit := parseIntParam(r, "limit", 0, 0, MaxMessagesPerPage)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	messages, err := h.store.ListMessages(r.Context(), sessionID, limit, offset)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	out := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageResponse{
			ID:              m.ID,
			Role:            m.Role,
			Content:         m.Content,
			CreatedAt:       m.CreatedAt,
			EmbeddingStatus: string(m.Status),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   out,
		"total":      len(out),
		"offset":     offset,
	})
}

func (h *SessionHandler) stats(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	stats, err := h.store.Stats(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":         stats.SessionID,
		"created_at":         stats.CreatedAt,
		"updated_at":         stats.UpdatedAt,
		"total_messages":     stats.TotalMessages,
		"user_messages":      stats.UserMessages,
		"assistant_messages": stats.AssistantMessages,
		"first_message_at":   stats.FirstMessageAt,
		"last_message_at":    stats.LastMessageAt,
	})
}

func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	if err := h.deleter.DeleteSession(r.Context(), sessionID); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseSessionID extracts and validates the {id} path segment. On
// failure it writes a 400 and returns ok=false.
func parseSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// parseIntParam parses an integer query parameter with bounds checking.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
