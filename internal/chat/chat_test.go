package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallio/recall/internal/retrieval"
	"github.com/recallio/recall/internal/store"
)

type fakeSessions struct {
	created  int
	existing map[uuid.UUID]*store.Session
	getErr   error
}

func (f *fakeSessions) CreateSession(context.Context) (*store.Session, error) {
	f.created++
	return &store.Session{ID: uuid.New()}, nil
}

func (f *fakeSessions) GetSession(_ context.Context, id uuid.UUID) (*store.Session, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if sess, ok := f.existing[id]; ok {
		return sess, nil
	}
	return nil, store.ErrSessionNotFound
}

type fakeAppender struct {
	nextID   int64
	appended []*store.Message
	err      error
}

func (f *fakeAppender) Append(_ context.Context, sessionID uuid.UUID, role, content string) (*store.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.nextID++
	msg := &store.Message{ID: f.nextID, SessionID: sessionID, Role: role, Content: content}
	f.appended = append(f.appended, msg)
	return msg, nil
}

type fakeRetriever struct {
	result *retrieval.Result
	err    error
	query  string
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ uuid.UUID, query string) (*retrieval.Result, error) {
	f.query = query
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &retrieval.Result{}, nil
}

type fakeLLM struct {
	reply      string
	err        error
	gotContext string
	gotUser    string
}

func (f *fakeLLM) Generate(_ context.Context, contextText, userText string) (string, error) {
	f.gotContext = contextText
	f.gotUser = userText
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newTestService(sessions *fakeSessions, appender *fakeAppender, retriever *fakeRetriever, llm *fakeLLM) *Service {
	return NewService(sessions, appender, retriever, llm, nil)
}

func TestTurnCreatesSessionWhenNilID(t *testing.T) {
	sessions := &fakeSessions{}
	appender := &fakeAppender{}
	llm := &fakeLLM{reply: "hello back"}
	svc := newTestService(sessions, appender, &fakeRetriever{}, llm)

	res, err := svc.Turn(context.Background(), uuid.Nil, "hello")
	require.NoError(t, err)

	assert.Equal(t, 1, sessions.created)
	assert.NotEqual(t, uuid.Nil, res.SessionID)
	assert.Equal(t, "hello back", res.Reply)
}

func TestTurnStoresBothSidesOfTheExchange(t *testing.T) {
	sessionID := uuid.New()
	sessions := &fakeSessions{existing: map[uuid.UUID]*store.Session{
		sessionID: {ID: sessionID},
	}}
	appender := &fakeAppender{}
	retriever := &fakeRetriever{result: &retrieval.Result{
		Context: "some context block",
	}}
	llm := &fakeLLM{reply: "Your cat is Whiskers."}
	svc := newTestService(sessions, appender, retriever, llm)

	res, err := svc.Turn(context.Background(), sessionID, "what is my cat named?")
	require.NoError(t, err)

	require.Len(t, appender.appended, 2)
	assert.Equal(t, store.RoleUser, appender.appended[0].Role)
	assert.Equal(t, "what is my cat named?", appender.appended[0].Content)
	assert.Equal(t, store.RoleAssistant, appender.appended[1].Role)
	assert.Equal(t, "Your cat is Whiskers.", appender.appended[1].Content)

	assert.Equal(t, "some context block", llm.gotContext)
	assert.Equal(t, "what is my cat named?", llm.gotUser)
	assert.Equal(t, appender.appended[0].ID, res.UserMessageID)
	assert.Equal(t, appender.appended[1].ID, res.AssistantMessageID)
}

func TestTurnUnknownSessionFails(t *testing.T) {
	svc := newTestService(&fakeSessions{}, &fakeAppender{}, &fakeRetriever{}, &fakeLLM{reply: "x"})

	_, err := svc.Turn(context.Background(), uuid.New(), "hello")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestTurnExpiredSessionFails(t *testing.T) {
	sessions := &fakeSessions{getErr: store.ErrSessionExpired}
	svc := newTestService(sessions, &fakeAppender{}, &fakeRetriever{}, &fakeLLM{reply: "x"})

	_, err := svc.Turn(context.Background(), uuid.New(), "hello")
	assert.ErrorIs(t, err, store.ErrSessionExpired)
}

func TestTurnContinuesWhenRetrievalFails(t *testing.T) {
	sessions := &fakeSessions{}
	retriever := &fakeRetriever{err: errors.New("index offline")}
	llm := &fakeLLM{reply: "contextless reply"}
	svc := newTestService(sessions, &fakeAppender{}, retriever, llm)

	res, err := svc.Turn(context.Background(), uuid.Nil, "hello")
	require.NoError(t, err)

	assert.Equal(t, "contextless reply", res.Reply)
	assert.True(t, res.RetrievalDegraded)
	assert.Empty(t, llm.gotContext)
}

func TestTurnLLMFailureKeepsUserMessage(t *testing.T) {
	sessions := &fakeSessions{}
	appender := &fakeAppender{}
	llm := &fakeLLM{err: errors.New("model gone")}
	svc := newTestService(sessions, appender, &fakeRetriever{}, llm)

	_, err := svc.Turn(context.Background(), uuid.Nil, "hello")
	require.Error(t, err)

	// The user message was durable before generation was attempted.
	require.Len(t, appender.appended, 1)
	assert.Equal(t, store.RoleUser, appender.appended[0].Role)
}

func TestTurnAppendFailurePropagates(t *testing.T) {
	appender := &fakeAppender{err: store.ErrSessionFull}
	svc := newTestService(&fakeSessions{}, appender, &fakeRetriever{}, &fakeLLM{reply: "x"})

	_, err := svc.Turn(context.Background(), uuid.Nil, "hello")
	assert.ErrorIs(t, err, store.ErrSessionFull)
}
