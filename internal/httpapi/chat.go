package httpapi

import (
	"encoding/json"
	"net/http"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pulsekit/pulse-api/internal/auth"
	"github.com/pulsekit/pulse-api/internal/chat"
)

type chatRequest struct {
	Messages       []chat.ChatMessage `json:"messages"`
	Model          string             `json:"model,omitempty"`
	ConversationID *uuid.UUID         `json:"conversation_id,omitempty"`
	SystemPrompt   string             `json:"system_prompt,omitempty"`
	Temperature    *float64           `json:"temperature,omitempty"`
}

// StreamChat runs a streaming chat completion over SSE.
func (s *Server) StreamChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, r, http.StatusUnprocessableEntity, "messages must not be empty")
		return
	}

	err := s.Chat.StreamChat(r.Context(), auth.UserID(r.Context()), chat.StreamRequest{
		Messages:       req.Messages,
		Model:          req.Model,
		ConversationID: req.ConversationID,
		SystemPrompt:   req.SystemPrompt,
		Temperature:    req.Temperature,
	}, w)
	if err != nil {
		writeServiceError(w, r, err)
	}
}

// ListModels proxies the LLM backend's model list.
func (s *Server) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.LLM.ListModels(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if models == nil {
		models = []chat.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// ListConversations returns the principal's conversations, newest activity
// first.
func (s *Server) ListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), 20, 100)
	offset := parseOffset(q.Get("offset"))

	convs, total, err := s.Conversations.List(r.Context(), auth.UserID(r.Context()), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if convs == nil {
		convs = []*chat.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": convs,
		"total":         total,
	})
}

type createConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// CreateConversation creates an empty conversation.
func (s *Server) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.Title != "" && utf8.RuneCountInString(req.Title) > 255 {
		writeError(w, r, http.StatusUnprocessableEntity, "title must be at most 255 characters")
		return
	}

	conv, err := s.Conversations.Create(r.Context(), auth.UserID(r.Context()), req.Title)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// GetConversation returns a conversation with its messages in order.
func (s *Server) GetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	userID := auth.UserID(r.Context())

	conv, err := s.Conversations.Get(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	msgs, err := s.Conversations.ListMessages(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*chat.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":         conv.ID,
		"title":      conv.Title,
		"created_at": conv.CreatedAt,
		"updated_at": conv.UpdatedAt,
		"messages":   msgs,
	})
}

type updateTitleRequest struct {
	Title string `json:"title"`
}

// UpdateConversationTitle renames a conversation.
func (s *Server) UpdateConversationTitle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Title == "" {
		writeError(w, r, http.StatusUnprocessableEntity, "title must not be empty")
		return
	}
	if utf8.RuneCountInString(req.Title) > 255 {
		writeError(w, r, http.StatusUnprocessableEntity, "title must be at most 255 characters")
		return
	}

	conv, err := s.Conversations.UpdateTitle(r.Context(), id, auth.UserID(r.Context()), req.Title)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// DeleteConversation removes a conversation and all its messages.
func (s *Server) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.Conversations.Delete(r.Context(), id, auth.UserID(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMessage removes one message from a conversation the principal owns.
func (s *Server) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	if err := s.Conversations.DeleteMessage(r.Context(), id, auth.UserID(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "invalid "+param)
		return uuid.UUID{}, false
	}
	return id, true
}
