package server

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onekey/rag-core-go/internal/store"
)

// newFilesValidationTestServer wires a non-nil but unopened *store.Store so
// validation failures are reached instead of the store-unavailable path.
// Safe only for requests that fail validation before any store call.
func newFilesValidationTestServer() *Server {
	s := newTestServer()
	s.store = &store.Store{}
	return s
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write file content: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return buf, mw.FormDataContentType()
}

func TestHandleUploadFiles_StoreUnavailable(t *testing.T) {
	t.Parallel()

	s := newTestServer() // store is nil

	body, ct := multipartBody(t, map[string]string{"workspace": "ws1"}, map[string]string{"doc.md": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()

	s.handleUploadFiles(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d — body: %s", w.Code, w.Body.String())
	}
}

func TestHandleUploadFiles_MissingWorkspaceRejected(t *testing.T) {
	t.Parallel()

	s := newFilesValidationTestServer()

	body, ct := multipartBody(t, map[string]string{}, map[string]string{"doc.md": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()

	s.handleUploadFiles(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d — body: %s", w.Code, w.Body.String())
	}
}

func TestHandleUploadFiles_NoFilesRejected(t *testing.T) {
	t.Parallel()

	s := newFilesValidationTestServer()

	body, ct := multipartBody(t, map[string]string{"workspace": "ws1"}, map[string]string{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()

	s.handleUploadFiles(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d — body: %s", w.Code, w.Body.String())
	}
}

func TestHandleGetFileBatch_StoreUnavailable(t *testing.T) {
	t.Parallel()

	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/not-a-uuid", nil)
	req.SetPathValue("batch_id", "00000000-0000-0000-0000-000000000000")
	w := httptest.NewRecorder()

	s.handleGetFileBatch(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d — body: %s", w.Code, w.Body.String())
	}
}

func TestHandleGetFileBatch_InvalidUUIDRejected(t *testing.T) {
	t.Parallel()

	s := newFilesValidationTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/not-a-uuid", nil)
	req.SetPathValue("batch_id", "not-a-uuid")
	w := httptest.NewRecorder()

	s.handleGetFileBatch(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d — body: %s", w.Code, w.Body.String())
	}
}
