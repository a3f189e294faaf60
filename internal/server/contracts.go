package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onekey/rag-core-go/internal/apperror"
	"github.com/onekey/rag-core-go/internal/contractindex"
	"github.com/onekey/rag-core-go/internal/logging"
)

// handleGetContract handles GET /api/v1/contracts/{address}, an index-only
// lookup of one contract address with an optional RAG-learning fallback
// (?auto_learn=true) and optional workspace/kb scoping via query params.
func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	if s.contracts == nil {
		writeError(w, r, apperror.Dependency("server: get contract", errors.New("contract index unavailable")))
		return
	}

	address := r.PathValue("address")
	workspace := r.URL.Query().Get("workspace")
	autoLearn, _ := strconv.ParseBool(r.URL.Query().Get("auto_learn"))
	var kbs []string
	if kb := r.URL.Query().Get("kb"); kb != "" {
		kbs = []string{kb}
	}

	result, found, err := s.contracts.Lookup(r.Context(), workspace, kbs, address, autoLearn)
	if err != nil {
		writeError(w, r, apperror.Dependency("server: get contract", err))
		return
	}
	if !found {
		writeError(w, r, apperror.New(apperror.KindValidation, "server: get contract", errors.New("contract not found")))
		return
	}

	if err := writeJSON(w, http.StatusOK, wireContractIndex(result)); err != nil {
		logging.FromContext(r.Context()).Error("contract response encode error", slog.Any("error", err))
	}
}

// handleLookupContracts handles POST /api/v1/contracts/lookup, a batch
// variant of handleGetContract that reports per-address hit/miss stats.
func (s *Server) handleLookupContracts(w http.ResponseWriter, r *http.Request) {
	if s.contracts == nil {
		writeError(w, r, apperror.Dependency("server: lookup contracts", errors.New("contract index unavailable")))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	var req contractLookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperror.Validation("server: decode contract lookup request", err))
		return
	}
	if len(req.Addresses) == 0 {
		writeError(w, r, apperror.Validation("server: validate contract lookup request", errors.New("addresses must not be empty")))
		return
	}

	resp := contractLookupResponse{Results: make(map[string]*contractInfoWire, len(req.Addresses))}
	for _, addr := range req.Addresses {
		resp.Stats.Total++

		result, found, err := s.contracts.Lookup(r.Context(), req.Workspace, req.KBs, addr, req.AutoLearn)
		if err != nil {
			logging.FromContext(r.Context()).Warn("contract lookup failed", slog.String("address", addr), slog.Any("error", err))
			resp.Stats.NotFound++
			resp.Results[addr] = nil
			continue
		}
		if !found {
			resp.Stats.NotFound++
			resp.Results[addr] = nil
			continue
		}

		switch result.Source {
		case "index":
			resp.Stats.IndexHits++
		case "rag":
			resp.Stats.RAGHits++
		}
		resp.Results[addr] = wireContractIndex(result)
	}

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		logging.FromContext(r.Context()).Error("contract lookup response encode error", slog.Any("error", err))
	}
}

func wireContractIndex(result contractindex.LookupResult) *contractInfoWire {
	ci := result.ContractIndex
	return &contractInfoWire{
		Address:         ci.Address,
		Protocol:        ci.Protocol,
		ProtocolVersion: ci.ProtocolVersion,
		ContractType:    ci.ContractType,
		ContractName:    ci.ContractName,
		Confidence:      ci.Confidence,
		ChainID:         ci.ChainID,
		Source:          result.Source,
	}
}
