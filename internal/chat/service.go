package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrEmptyMessages rejects chat requests without any messages.
var ErrEmptyMessages = errors.New("messages must not be empty")

// StreamRequest is one chat completion request.
type StreamRequest struct {
	Messages       []ChatMessage
	Model          string
	ConversationID *uuid.UUID
	SystemPrompt   string
	Temperature    *float64
}

// Service coordinates a streaming chat: it forwards LLM chunks to the client
// as SSE while keeping the persisted conversation consistent — the user
// message is deduped on the way in, the assistant message on the way out,
// and the conversation is auto-titled after its first completion.
type Service struct {
	store ConversationStore
	llm   *LLMClient
}

func NewService(store ConversationStore, llm *LLMClient) *Service {
	return &Service{store: store, llm: llm}
}

// StreamChat runs one streaming completion. Errors are returned only while
// the response is still unwritten (the handler maps them to the JSON
// envelope); once SSE bytes have been sent, failures are reported in-band
// and the stream always terminates with [DONE].
func (s *Service) StreamChat(ctx context.Context, userID string, req StreamRequest, w http.ResponseWriter) error {
	if len(req.Messages) == 0 {
		return ErrEmptyMessages
	}

	model := s.llm.Model(req.Model)
	prompt := req.Messages
	if req.SystemPrompt != "" {
		prompt = append([]ChatMessage{{Role: "system", Content: req.SystemPrompt}}, prompt...)
	}

	var firstUser, lastUser string
	for _, m := range req.Messages {
		if m.Role != "user" {
			continue
		}
		if firstUser == "" {
			firstUser = m.Content
		}
		lastUser = m.Content
	}

	logger := log.Ctx(ctx)

	var userMsg *Message
	if req.ConversationID != nil && lastUser != "" {
		msg, reused, err := s.store.SaveUserMessage(ctx, *req.ConversationID, userID, lastUser)
		if err != nil {
			return err
		}
		userMsg = msg
		if reused {
			logger.Debug().Str("message_id", msg.ID.String()).Msg("reused deduplicated user message")
		}
	}

	stream, err := s.llm.Stream(ctx, model, prompt, req.Temperature)
	if err != nil {
		return err
	}
	defer stream.Close()

	sse, err := NewSSEWriter(w)
	if err != nil {
		return err
	}

	completionID := newCompletionID()
	var assistant strings.Builder
	var streamErr error

loop:
	for {
		chunk, err := stream.Recv()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			break loop
		case errors.Is(err, ErrBadChunk):
			logger.Warn().Err(err).Msg("skipping malformed stream chunk")
			continue
		default:
			streamErr = err
			break loop
		}

		if chunk.Thinking != "" {
			_ = sse.Comment("thinking", map[string]string{
				"thinking":  chunk.Thinking,
				"messageId": completionID,
			})
		}
		if chunk.Content != "" {
			assistant.WriteString(chunk.Content)
			if err := sse.Data(contentChunk(completionID, model, chunk.Content)); err != nil {
				streamErr = err
				break loop
			}
		}
		if chunk.Done {
			break loop
		}
	}

	// Persist whatever the assistant produced, including on cancellation or
	// upstream failure, so partial responses are not lost. The request
	// context may already be canceled here.
	persistCtx := context.WithoutCancel(ctx)
	var assistantMsg *Message
	if req.ConversationID != nil && assistant.Len() > 0 {
		msg, created, err := s.store.SaveAssistantMessage(persistCtx, *req.ConversationID, userID, assistant.String(), model)
		switch {
		case err != nil:
			logger.Error().Err(err).Msg("failed to save assistant message")
		default:
			assistantMsg = msg
			if !created {
				logger.Debug().Str("message_id", msg.ID.String()).Msg("assistant message already stored")
			}
		}
		if firstUser != "" {
			if err := s.store.MaybeAutoTitle(persistCtx, *req.ConversationID, userID, firstUser); err != nil {
				logger.Warn().Err(err).Msg("failed to auto-title conversation")
			}
		}
	}

	if streamErr != nil {
		logger.Error().Err(streamErr).Msg("chat stream interrupted")
		_ = sse.Data(map[string]any{"error": map[string]any{
			"message": "stream interrupted",
			"type":    "upstream_error",
		}})
	} else {
		_ = sse.Data(stopChunk(completionID, model))
	}

	ids := map[string]string{}
	if userMsg != nil {
		ids["user_message_id"] = userMsg.ID.String()
	}
	if assistantMsg != nil {
		ids["assistant_message_id"] = assistantMsg.ID.String()
	}
	if len(ids) > 0 {
		_ = sse.Comment("message_ids", ids)
	}

	_ = sse.Done()
	return nil
}

// GenerateTitle derives a conversation title from the first user message:
// trimmed, truncated to 50 characters with an ellipsis, never empty, capped
// at 255.
func GenerateTitle(content string) string {
	t := strings.TrimSpace(content)
	if t == "" {
		return DefaultTitle
	}
	if runes := []rune(t); len(runes) > 50 {
		t = string(runes[:47]) + "..."
	}
	if runes := []rune(t); len(runes) > 255 {
		t = string(runes[:252]) + "..."
	}
	return t
}
