package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codefionn/chatrelay/internal/history"
	"github.com/codefionn/chatrelay/internal/llm"
	"github.com/codefionn/chatrelay/internal/logger"
)

// History is the slice of the conversation store the pipeline needs.
type History interface {
	EnsureSeeded(ctx context.Context, user, session string) error
	Messages(ctx context.Context, user, session string) ([]history.ChatMessage, error)
	Append(ctx context.Context, user, session, role, content string) error
}

// Pipeline turns a user message into a streamed assistant reply. It owns
// the ordering guarantees: chunks arrive in model order, the partial or
// full answer is committed to history first, and exactly one terminal
// event closes the exchange.
type Pipeline struct {
	client  llm.Client
	history History
	log     *logger.Logger
}

// NewPipeline wires the model client and the history store together.
func NewPipeline(client llm.Client, store History, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Global()
	}
	return &Pipeline{
		client:  client,
		history: store,
		log:     log,
	}
}

// RecordUserMessage persists the user's question. It must run before the
// generation task starts so the log stays in exchange order.
func (p *Pipeline) RecordUserMessage(ctx context.Context, user, session, content string) error {
	if err := p.history.Append(ctx, user, session, history.RoleUser, content); err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}
	return nil
}

// Run executes one generation for the session. The user message must
// already be recorded. It blocks until the generation finishes, is
// cancelled via ctx, or fails, and always calls task.Finish before
// returning.
func (p *Pipeline) Run(ctx context.Context, user, session string, sink Sink, task *Task) {
	defer task.Finish()

	messages, err := p.history.Messages(ctx, user, session)
	if err != nil {
		p.log.Error("Failed to load history for session %s: %v", session, err)
		p.sendTerminal(sink, session, TypeError, "failed to load session history")
		return
	}

	req := &llm.CompletionRequest{Messages: make([]*llm.Message, 0, len(messages))}
	for _, msg := range messages {
		req.Messages = append(req.Messages, &llm.Message{Role: msg.Role, Content: msg.Content})
	}

	var answer strings.Builder
	streamErr := p.client.Stream(ctx, req, func(chunk string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		answer.WriteString(chunk)
		sink.Send(WireMessage{
			Type:      TypeResponseChunk,
			SessionID: session,
			Content:   chunk,
		})
		return nil
	})

	// Commit before the terminal event so a client that reconnects right
	// after sees the same answer it was just shown. An empty accumulator
	// commits nothing. A failed commit of the authoritative log is a
	// pipeline failure, whatever the stream outcome was.
	if commitErr := p.commitAnswer(session, user, answer.String()); commitErr != nil {
		p.log.Error("Failed to persist assistant answer for session %s: %v", session, commitErr)
		p.sendTerminal(sink, session, TypeError, commitErr.Error())
		return
	}

	switch {
	case streamErr == nil:
		p.log.Info("Generation finished for session %s (%d chars)", session, answer.Len())
		p.sendTerminal(sink, session, TypeResponseEnd, "")
	case errors.Is(streamErr, context.Canceled):
		p.log.Info("Generation stopped for session %s (%d chars kept)", session, answer.Len())
		p.sendTerminal(sink, session, TypeStopped, "")
	default:
		p.log.Error("Generation failed for session %s: %v", session, streamErr)
		p.sendTerminal(sink, session, TypeError, streamErr.Error())
	}
}

// commitAnswer persists whatever the model produced, full or partial.
// Uses a fresh context so a cancelled generation can still save its
// partial answer.
func (p *Pipeline) commitAnswer(session, user, answer string) error {
	if answer == "" {
		return nil
	}
	if err := p.history.Append(context.Background(), user, session, history.RoleAssistant, answer); err != nil {
		return fmt.Errorf("failed to save response: %w", err)
	}
	return nil
}

func (p *Pipeline) sendTerminal(sink Sink, session, eventType, content string) {
	sink.Send(WireMessage{
		Type:      eventType,
		SessionID: session,
		Content:   content,
	})
}
