package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onekey/rag-core-go/internal/contractindex"
	"github.com/onekey/rag-core-go/internal/store"
)

type fakeContractStore struct {
	entries map[string]store.ContractIndex
	chunks  []store.ScoredChunk
}

func (f *fakeContractStore) GetContract(ctx context.Context, address string) (store.ContractIndex, bool, error) {
	ci, ok := f.entries[address]
	return ci, ok, nil
}

func (f *fakeContractStore) UpsertContract(ctx context.Context, ci store.ContractIndex) (store.ContractIndex, error) {
	f.entries[ci.Address] = ci
	return ci, nil
}

func (f *fakeContractStore) ChunksContainingAddress(ctx context.Context, workspace string, kbs []string, address string, limit int) ([]store.ScoredChunk, error) {
	return f.chunks, nil
}

func newContractTestServer(t *testing.T, fs *fakeContractStore) *Server {
	t.Helper()
	idx := contractindex.New(fs, contractindex.Config{})
	s := newTestServer()
	s.contracts = idx
	return s
}

func TestHandleGetContract_IndexHit(t *testing.T) {
	t.Parallel()

	addr := "0x" + strings.Repeat("a", 40)
	fs := &fakeContractStore{entries: map[string]store.ContractIndex{
		addr: {
			Address:    addr,
			Protocol:   "uniswap-v2",
			ChainID:    1,
			Confidence: 1.0,
			UpdatedAt:  time.Now().UTC(),
		},
	}}
	s := newContractTestServer(t, fs)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/contracts/"+addr, nil)
	req.SetPathValue("address", addr)
	w := httptest.NewRecorder()

	s.handleGetContract(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp contractInfoWire
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Source != "index" {
		t.Errorf("expected source=index, got %q", resp.Source)
	}
	if resp.Protocol != "uniswap-v2" {
		t.Errorf("expected protocol=uniswap-v2, got %q", resp.Protocol)
	}
}

func TestHandleGetContract_Miss(t *testing.T) {
	t.Parallel()

	addr := "0x" + strings.Repeat("b", 40)
	s := newContractTestServer(t, &fakeContractStore{entries: map[string]store.ContractIndex{}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/contracts/"+addr, nil)
	req.SetPathValue("address", addr)
	w := httptest.NewRecorder()

	s.handleGetContract(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on miss, got %d — body: %s", w.Code, w.Body.String())
	}
}

func TestHandleLookupContracts_MixedHitsAndMisses(t *testing.T) {
	t.Parallel()

	hitAddr := "0x" + strings.Repeat("c", 40)
	missAddr := "0x" + strings.Repeat("d", 40)
	fs := &fakeContractStore{entries: map[string]store.ContractIndex{
		hitAddr: {Address: hitAddr, Protocol: "compound-v2", Confidence: 1.0},
	}}
	s := newContractTestServer(t, fs)

	body := `{"workspace":"ws1","addresses":["` + hitAddr + `","` + missAddr + `"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contracts/lookup", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.handleLookupContracts(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp contractLookupResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Stats.Total != 2 || resp.Stats.IndexHits != 1 || resp.Stats.NotFound != 1 {
		t.Errorf("unexpected stats: %+v", resp.Stats)
	}
	if resp.Results[hitAddr] == nil || resp.Results[hitAddr].Protocol != "compound-v2" {
		t.Errorf("expected hit result for %s, got %+v", hitAddr, resp.Results[hitAddr])
	}
	if resp.Results[missAddr] != nil {
		t.Errorf("expected nil result for miss address, got %+v", resp.Results[missAddr])
	}
}

func TestHandleLookupContracts_EmptyAddressesRejected(t *testing.T) {
	t.Parallel()

	s := newContractTestServer(t, &fakeContractStore{entries: map[string]store.ContractIndex{}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/contracts/lookup", strings.NewReader(`{"workspace":"ws1","addresses":[]}`))
	w := httptest.NewRecorder()

	s.handleLookupContracts(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
