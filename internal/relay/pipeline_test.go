package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/chatrelay/internal/history"
	"github.com/codefionn/chatrelay/internal/llm"
)

// captureSink records every event and can react to chunk arrivals, which
// lets tests cancel a generation mid-stream.
type captureSink struct {
	mu      sync.Mutex
	events  []WireMessage
	onChunk func(received int)
}

func (s *captureSink) Send(msg WireMessage) {
	s.mu.Lock()
	s.events = append(s.events, msg)
	chunks := 0
	for _, e := range s.events {
		if e.Type == TypeResponseChunk {
			chunks++
		}
	}
	hook := s.onChunk
	s.mu.Unlock()

	if msg.Type == TypeResponseChunk && hook != nil {
		hook(chunks)
	}
}

func (s *captureSink) all() []WireMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WireMessage(nil), s.events...)
}

func (s *captureSink) terminals() []WireMessage {
	var out []WireMessage
	for _, e := range s.all() {
		switch e.Type {
		case TypeResponseEnd, TypeStopped, TypeError:
			out = append(out, e)
		}
	}
	return out
}

func (s *captureSink) chunkText() string {
	var text string
	for _, e := range s.all() {
		if e.Type == TypeResponseChunk {
			text += e.Content
		}
	}
	return text
}

// memHistory is an in-memory History with per-role fault injection.
type memHistory struct {
	mu       sync.Mutex
	messages map[string][]history.ChatMessage

	failRole string
}

func newMemHistory() *memHistory {
	return &memHistory{messages: make(map[string][]history.ChatMessage)}
}

func (m *memHistory) key(user, session string) string {
	return user + "/" + session
}

func (m *memHistory) EnsureSeeded(_ context.Context, user, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.key(user, session)
	if len(m.messages[key]) == 0 {
		m.messages[key] = append(m.messages[key], history.ChatMessage{
			Role:    history.RoleSystem,
			Content: history.DefaultSystemPrompt,
		})
	}
	return nil
}

func (m *memHistory) Messages(_ context.Context, user, session string) ([]history.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.ChatMessage(nil), m.messages[m.key(user, session)]...), nil
}

func (m *memHistory) Append(_ context.Context, user, session, role, content string) error {
	if role == m.failRole {
		return fmt.Errorf("append refused for role %s", role)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.key(user, session)
	m.messages[key] = append(m.messages[key], history.ChatMessage{Role: role, Content: content})
	return nil
}

// scriptedLLM replays fixed chunks and then returns finalErr.
type scriptedLLM struct {
	chunks   []string
	finalErr error
}

func (s *scriptedLLM) GetModelName() string { return "scripted" }

func (s *scriptedLLM) Complete(context.Context, *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func (s *scriptedLLM) Stream(ctx context.Context, _ *llm.CompletionRequest, callback func(chunk string) error) error {
	for _, chunk := range s.chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := callback(chunk); err != nil {
			return err
		}
	}
	return s.finalErr
}

// runPipeline mirrors the receive loop: seed, record the question, then
// run the generation task.
func runPipeline(t *testing.T, ctx context.Context, client llm.Client, store History, sink Sink, question string) *Task {
	t.Helper()
	require.NoError(t, store.EnsureSeeded(context.Background(), "alice", "s1"))
	pipeline := NewPipeline(client, store, testLogger())
	require.NoError(t, pipeline.RecordUserMessage(context.Background(), "alice", "s1", question))

	ctx, cancel := context.WithCancel(ctx)
	task := NewTask(cancel)
	pipeline.Run(ctx, "alice", "s1", sink, task)
	return task
}

func TestPipelineStreamsAndCommits(t *testing.T) {
	store := newMemHistory()
	sink := &captureSink{}
	client := &scriptedLLM{chunks: []string{"Hel", "lo", " world"}}

	task := runPipeline(t, context.Background(), client, store, sink, "hello model")
	assert.True(t, task.Finished())

	events := sink.all()
	require.Len(t, events, 4)
	assert.Equal(t, "Hel", events[0].Content)
	assert.Equal(t, "lo", events[1].Content)
	assert.Equal(t, " world", events[2].Content)
	assert.Equal(t, TypeResponseEnd, events[3].Type)
	assert.Equal(t, "s1", events[3].SessionID)

	messages, err := store.Messages(context.Background(), "alice", "s1")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, history.RoleSystem, messages[0].Role)
	assert.Equal(t, history.RoleUser, messages[1].Role)
	assert.Equal(t, "hello model", messages[1].Content)
	assert.Equal(t, history.RoleAssistant, messages[2].Role)
	assert.Equal(t, "Hello world", messages[2].Content)
}

func TestPipelineCancelKeepsPartialAnswer(t *testing.T) {
	store := newMemHistory()
	client := &scriptedLLM{chunks: []string{"one ", "two ", "three ", "four "}}

	ctx, cancel := context.WithCancel(context.Background())
	sink := &captureSink{onChunk: func(received int) {
		if received == 2 {
			cancel()
		}
	}}

	require.NoError(t, store.EnsureSeeded(context.Background(), "alice", "s1"))
	pipeline := NewPipeline(client, store, testLogger())
	require.NoError(t, pipeline.RecordUserMessage(context.Background(), "alice", "s1", "go on"))

	task := NewTask(cancel)
	pipeline.Run(ctx, "alice", "s1", sink, task)
	assert.True(t, task.Finished())

	terminals := sink.terminals()
	require.Len(t, terminals, 1, "exactly one terminal event")
	assert.Equal(t, TypeStopped, terminals[0].Type)
	assert.Equal(t, "one two ", sink.chunkText())

	messages, err := store.Messages(context.Background(), "alice", "s1")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "one two ", messages[2].Content, "partial answer is kept")
}

func TestPipelineCancelBeforeFirstChunkCommitsNothing(t *testing.T) {
	store := newMemHistory()
	sink := &captureSink{}
	client := &scriptedLLM{chunks: []string{"never"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runPipeline(t, ctx, client, store, sink, "hi")

	terminals := sink.terminals()
	require.Len(t, terminals, 1)
	assert.Equal(t, TypeStopped, terminals[0].Type)
	assert.Empty(t, sink.chunkText())

	messages, err := store.Messages(context.Background(), "alice", "s1")
	require.NoError(t, err)
	for _, msg := range messages {
		assert.NotEqual(t, history.RoleAssistant, msg.Role, "no empty assistant message")
	}
}

func TestPipelineStreamFailureKeepsPartialAnswer(t *testing.T) {
	store := newMemHistory()
	sink := &captureSink{}
	client := &scriptedLLM{
		chunks:   []string{"half an "},
		finalErr: errors.New("upstream hung up"),
	}

	runPipeline(t, context.Background(), client, store, sink, "hi")

	terminals := sink.terminals()
	require.Len(t, terminals, 1)
	assert.Equal(t, TypeError, terminals[0].Type)
	assert.Contains(t, terminals[0].Content, "upstream hung up")

	messages, err := store.Messages(context.Background(), "alice", "s1")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "half an ", messages[2].Content)
}

func TestRecordUserMessageFailurePropagates(t *testing.T) {
	store := newMemHistory()
	store.failRole = history.RoleUser

	pipeline := NewPipeline(&scriptedLLM{}, store, testLogger())
	err := pipeline.RecordUserMessage(context.Background(), "alice", "s1", "hi")
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to record message")
}

func TestPipelineAnswerCommitFailureEmitsError(t *testing.T) {
	store := newMemHistory()
	store.failRole = history.RoleAssistant
	sink := &captureSink{}

	runPipeline(t, context.Background(), &scriptedLLM{chunks: []string{"done"}}, store, sink, "hi")

	terminals := sink.terminals()
	require.Len(t, terminals, 1)
	assert.Equal(t, TypeError, terminals[0].Type, "a lost answer is a failure, not a clean end")
	assert.Contains(t, terminals[0].Content, "failed to save response")
}
