package server

import (
	"log/slog"
	"net/http"

	"github.com/onekey/rag-core-go/internal/logging"
)

// handleListModels handles GET /v1/models, the OpenAI-compatible model
// listing endpoint. Each caller-facing model id configured in the registry
// is reported as one entry; the upstream backend details are surfaced under
// the non-standard `meta` field.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	resp := modelListResponse{Object: "list"}

	if s.registry != nil {
		for _, fam := range s.registry.List() {
			resp.Data = append(resp.Data, modelWire{
				ID:      fam.ID,
				Object:  "model",
				OwnedBy: "onekey",
				Root:    fam.ID,
				Meta: modelMeta{
					UpstreamModel: fam.UpstreamModel,
					BaseURL:       fam.BaseURL,
				},
			})
		}
	}

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		logging.FromContext(r.Context()).Error("models response encode error", slog.Any("error", err))
	}
}
