// Package chat runs conversational turns: durable user message in,
// semantically retrieved context, LLM reply, durable assistant message
// out.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/recallio/recall/internal/retrieval"
	"github.com/recallio/recall/internal/store"
)

// LLM generates one reply. contextText is the retrieved history block,
// empty when retrieval found nothing or was degraded.
type LLM interface {
	Generate(ctx context.Context, contextText, userText string) (string, error)
}

// SessionStore resolves and creates sessions.
type SessionStore interface {
	CreateSession(ctx context.Context) (*store.Session, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*store.Session, error)
}

// Appender is the pipeline's durable append path.
type Appender interface {
	Append(ctx context.Context, sessionID uuid.UUID, role, content string) (*store.Message, error)
}

// Retriever fetches relevant history for a query.
type Retriever interface {
	Retrieve(ctx context.Context, sessionID uuid.UUID, query string) (*retrieval.Result, error)
}

// TurnResult is the outcome of one chat turn.
type TurnResult struct {
	SessionID          uuid.UUID
	Reply              string
	UserMessageID      int64
	AssistantMessageID int64

	// ContextItems is how many retrieved messages informed the reply.
	ContextItems int

	// RetrievalDegraded is true when semantic retrieval was skipped
	// because a backend was unavailable. The turn still succeeded.
	RetrievalDegraded bool
}

// Service orchestrates chat turns.
//
// Service is safe for concurrent use by multiple goroutines.
type Service struct {
	sessions  SessionStore
	appender  Appender
	retriever Retriever
	llm       LLM
	logger    *slog.Logger
}

// NewService wires a chat service. A nil logger falls back to
// slog.Default().
func NewService(sessions SessionStore, appender Appender, retriever Retriever, llm LLM, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:  sessions,
		appender:  appender,
		retriever: retriever,
		llm:       llm,
		logger:    logger,
	}
}

// Turn runs one conversational turn. A nil session id creates a fresh
// session; an existing id must resolve to a live, unexpired session.
//
// The user message is durable before the LLM is consulted, so a
// generation failure loses nothing: the error surfaces and the stored
// message stands.
func (s *Service) Turn(ctx context.Context, sessionID uuid.UUID, userText string) (*TurnResult, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	userMsg, err := s.appender.Append(ctx, sess.ID, store.RoleUser, userText)
	if err != nil {
		return nil, err
	}

	retrieved := s.retrieve(ctx, sess.ID, userText)

	reply, err := s.llm.Generate(ctx, retrieved.Context, userText)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	assistantMsg, err := s.appender.Append(ctx, sess.ID, store.RoleAssistant, reply)
	if err != nil {
		return nil, fmt.Errorf("store assistant reply: %w", err)
	}

	return &TurnResult{
		SessionID:          sess.ID,
		Reply:              reply,
		UserMessageID:      userMsg.ID,
		AssistantMessageID: assistantMsg.ID,
		ContextItems:       len(retrieved.Matches),
		RetrievalDegraded:  retrieved.Degraded,
	}, nil
}

func (s *Service) resolveSession(ctx context.Context, sessionID uuid.UUID) (*store.Session, error) {
	if sessionID == uuid.Nil {
		return s.sessions.CreateSession(ctx)
	}
	return s.sessions.GetSession(ctx, sessionID)
}

// retrieve never fails a turn. Any retrieval error downgrades to an
// empty context with a warn log.
func (s *Service) retrieve(ctx context.Context, sessionID uuid.UUID, query string) *retrieval.Result {
	res, err := s.retriever.Retrieve(ctx, sessionID, query)
	if err != nil {
		s.logger.Warn("retrieval failed, continuing without context",
			"session_id", sessionID, "error", err)
		return &retrieval.Result{Degraded: true}
	}
	return res
}
