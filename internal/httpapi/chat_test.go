package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func newLLMStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"stubbed"},"done":true}`)
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"models":[{"name":"test-model"}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamChatEndpoint(t *testing.T) {
	stub := newIdentityStub(t)
	llm := newLLMStub(t)
	_, router := newTestServer(t, stub, llm.URL)

	w := doRequest(t, router, "POST", "/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, `"content":"stubbed"`) {
		t.Fatalf("expected streamed content, got: %s", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("expected [DONE] terminator, got: %s", body)
	}
}

func TestStreamChatValidation(t *testing.T) {
	stub := newIdentityStub(t)
	_, router := newTestServer(t, stub, "")

	if w := doRequest(t, router, "POST", "/chat", map[string]any{}); w.Code != 422 {
		t.Fatalf("expected 422 for empty messages, got %d", w.Code)
	}
}

func TestStreamChatBackendDown(t *testing.T) {
	stub := newIdentityStub(t)
	llm := newLLMStub(t)
	llm.Close()
	_, router := newTestServer(t, stub, llm.URL)

	w := doRequest(t, router, "POST", "/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	if w.Code != 503 {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListModelsEndpoint(t *testing.T) {
	stub := newIdentityStub(t)
	llm := newLLMStub(t)
	_, router := newTestServer(t, stub, llm.URL)

	w := doRequest(t, router, "GET", "/chat/models", nil)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out struct {
		Models []struct{ Name string } `json:"models"`
	}
	decodeBody(t, w, &out)
	if len(out.Models) != 1 || out.Models[0].Name != "test-model" {
		t.Fatalf("unexpected models: %+v", out.Models)
	}
}

func TestConversationCRUD(t *testing.T) {
	stub := newIdentityStub(t)
	_, router := newTestServer(t, stub, "")

	w := doRequest(t, router, "POST", "/chat/conversations", map[string]any{"title": "release notes"})
	if w.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var conv struct {
		ID    uuid.UUID `json:"id"`
		Title string    `json:"title"`
	}
	decodeBody(t, w, &conv)
	if conv.Title != "release notes" {
		t.Fatalf("unexpected title %q", conv.Title)
	}

	// Creating without a body yields the default title.
	w = doRequest(t, router, "POST", "/chat/conversations", nil)
	if w.Code != 201 {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var untitled struct {
		Title string `json:"title"`
	}
	decodeBody(t, w, &untitled)
	if untitled.Title != "New Conversation" {
		t.Fatalf("expected default title, got %q", untitled.Title)
	}

	w = doRequest(t, router, "GET", "/chat/conversations", nil)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list struct {
		Conversations []struct{ Title string } `json:"conversations"`
		Total         int                      `json:"total"`
	}
	decodeBody(t, w, &list)
	if list.Total != 2 {
		t.Fatalf("expected 2 conversations, got %+v", list)
	}

	w = doRequest(t, router, "GET", "/chat/conversations/"+conv.ID.String(), nil)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var detail struct {
		Title    string `json:"title"`
		Messages []any  `json:"messages"`
	}
	decodeBody(t, w, &detail)
	if detail.Title != "release notes" || detail.Messages == nil {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	w = doRequest(t, router, "PATCH", "/chat/conversations/"+conv.ID.String(), map[string]any{"title": "renamed"})
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if w := doRequest(t, router, "DELETE", "/chat/conversations/"+conv.ID.String(), nil); w.Code != 204 {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := doRequest(t, router, "GET", "/chat/conversations/"+conv.ID.String(), nil); w.Code != 404 {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestConversationTitleValidation(t *testing.T) {
	stub := newIdentityStub(t)
	_, router := newTestServer(t, stub, "")

	w := doRequest(t, router, "POST", "/chat/conversations", nil)
	var conv struct {
		ID uuid.UUID `json:"id"`
	}
	decodeBody(t, w, &conv)

	path := "/chat/conversations/" + conv.ID.String()
	if w := doRequest(t, router, "PATCH", path, map[string]any{"title": ""}); w.Code != 422 {
		t.Fatalf("expected 422 for empty title, got %d", w.Code)
	}
	long := strings.Repeat("x", 256)
	if w := doRequest(t, router, "PATCH", path, map[string]any{"title": long}); w.Code != 422 {
		t.Fatalf("expected 422 for oversized title, got %d", w.Code)
	}
	if w := doRequest(t, router, "POST", "/chat/conversations", map[string]any{"title": long}); w.Code != 422 {
		t.Fatalf("expected 422 creating with oversized title, got %d", w.Code)
	}
}

func TestConversationInvalidID(t *testing.T) {
	stub := newIdentityStub(t)
	_, router := newTestServer(t, stub, "")

	if w := doRequest(t, router, "GET", "/chat/conversations/not-a-uuid", nil); w.Code != 422 {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestDeleteMessageEndpoint(t *testing.T) {
	stub := newIdentityStub(t)
	_, router := newTestServer(t, stub, "")

	if w := doRequest(t, router, "DELETE", "/chat/messages/"+uuid.NewString(), nil); w.Code != 404 {
		t.Fatalf("expected 404 for unknown message, got %d", w.Code)
	}
}
