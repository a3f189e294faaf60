package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onekey/rag-core-go/internal/provider"
)

func TestHandleListModels_NilRegistryReturnsEmptyList(t *testing.T) {
	t.Parallel()

	s := newTestServer() // registry is nil

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()

	s.handleListModels(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp modelListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Object != "list" {
		t.Errorf("expected object=list, got %q", resp.Object)
	}
	if len(resp.Data) != 0 {
		t.Errorf("expected empty model list, got %d entries", len(resp.Data))
	}
}

func TestHandleListModels_ReportsConfiguredFamilies(t *testing.T) {
	t.Parallel()

	reg, err := provider.NewRegistry(context.Background(), &provider.Config{
		Ollama: provider.ProviderOllama{Host: "http://localhost:11434", Model: "llama3"},
	}, []provider.Family{
		{ID: "onekey-docs", Backend: provider.BackendOllama, UpstreamModel: "llama3", BaseURL: "http://localhost:11434"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	s := newTestServer()
	s.registry = reg

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()

	s.handleListModels(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp modelListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("expected 1 model, got %d", len(resp.Data))
	}
	if resp.Data[0].ID != "onekey-docs" {
		t.Errorf("expected id=onekey-docs, got %q", resp.Data[0].ID)
	}
	if resp.Data[0].Meta.UpstreamModel != "llama3" {
		t.Errorf("expected upstream_model=llama3, got %q", resp.Data[0].Meta.UpstreamModel)
	}
}
