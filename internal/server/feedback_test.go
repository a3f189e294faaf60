package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onekey/rag-core-go/internal/store"
)

// newFeedbackValidationTestServer wires a non-nil but unopened *store.Store
// so validation failures are reached instead of the store-unavailable path.
// The zero-value Store's pool is never dereferenced because these tests only
// exercise requests that fail validation before any store call.
func newFeedbackValidationTestServer() *Server {
	s := newTestServer()
	s.store = &store.Store{}
	return s
}

func TestHandleSubmitFeedback_StoreUnavailable(t *testing.T) {
	t.Parallel()

	s := newTestServer() // store is nil

	body := `{"conversation_id":"c1","message_id":"m1","rating":"up"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.handleSubmitFeedback(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 when store is unavailable, got %d — body: %s", w.Code, w.Body.String())
	}
}

func TestHandleSubmitFeedback_MissingIDsRejected(t *testing.T) {
	t.Parallel()

	s := newFeedbackValidationTestServer()

	body := `{"rating":"up"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.handleSubmitFeedback(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d — body: %s", w.Code, w.Body.String())
	}
}

func TestHandleSubmitFeedback_InvalidRatingRejected(t *testing.T) {
	t.Parallel()

	s := newFeedbackValidationTestServer()

	body := `{"conversation_id":"c1","message_id":"m1","rating":"sideways"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.handleSubmitFeedback(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d — body: %s", w.Code, w.Body.String())
	}
}

func TestHandleSubmitFeedback_MalformedBodyRejected(t *testing.T) {
	t.Parallel()

	s := newFeedbackValidationTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", strings.NewReader(`not json`))
	w := httptest.NewRecorder()

	s.handleSubmitFeedback(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d — body: %s", w.Code, w.Body.String())
	}
}
