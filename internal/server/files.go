package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"

	"github.com/onekey/rag-core-go/internal/apperror"
	"github.com/onekey/rag-core-go/internal/logging"
	"github.com/onekey/rag-core-go/internal/store"
)

// maxUploadBytes bounds the total size of one POST /api/v1/files multipart
// request, covering every attached file.
const maxUploadBytes = 50 << 20

// fileItemJobPayload is one uploaded file as carried inside a file_process
// job's payload, matching the shape the worker package decodes.
type fileItemJobPayload struct {
	ID            uuid.UUID `json:"id"`
	Filename      string    `json:"filename"`
	ContentBase64 string    `json:"content_base64"`
}

// fileProcessJobPayload is the file_process job payload enqueued by
// handleUploadFiles.
type fileProcessJobPayload struct {
	Workspace string               `json:"workspace"`
	KB        string               `json:"kb"`
	BatchID   uuid.UUID            `json:"batch_id"`
	Items     []fileItemJobPayload `json:"items"`
}

// handleUploadFiles handles POST /api/v1/files: a multipart upload of one or
// more documents, queued as a file_batch and a single file_process job.
// Per §4.12, unsupported extensions fail per-item at extraction time, not
// at upload time — this handler accepts any filename.
func (s *Server) handleUploadFiles(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, r, apperror.Dependency("server: upload files", errors.New("store unavailable")))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, r, apperror.Validation("server: parse upload", err))
		return
	}

	workspace := r.FormValue("workspace")
	kb := r.FormValue("kb")
	if workspace == "" {
		writeError(w, r, apperror.Validation("server: validate upload", errors.New("workspace is required")))
		return
	}

	fileHeaders := r.MultipartForm.File["files"]
	if len(fileHeaders) == 0 {
		writeError(w, r, apperror.Validation("server: validate upload", errors.New("at least one file is required")))
		return
	}

	filenames := make([]string, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		filenames = append(filenames, fh.Filename)
	}

	batch, items, err := s.store.CreateFileBatch(r.Context(), workspace, kb, filenames)
	if err != nil {
		writeError(w, r, err)
		return
	}

	jobItems := make([]fileItemJobPayload, 0, len(fileHeaders))
	for i, fh := range fileHeaders {
		content, err := readMultipartFile(fh)
		if err != nil {
			writeError(w, r, apperror.Validation("server: read upload", err))
			return
		}
		jobItems = append(jobItems, fileItemJobPayload{
			ID:            items[i].ID,
			Filename:      items[i].Filename,
			ContentBase64: base64.StdEncoding.EncodeToString(content),
		})
	}

	payload := fileProcessJobPayload{
		Workspace: workspace,
		KB:        kb,
		BatchID:   batch.ID,
		Items:     jobItems,
	}
	if _, err := s.store.EnqueueJob(r.Context(), store.JobTypeFileProcess, toJobPayloadMap(payload)); err != nil {
		writeError(w, r, err)
		return
	}

	resp := fileBatchResponse{ID: batch.ID.String(), Status: batch.Status}
	for _, it := range items {
		resp.Items = append(resp.Items, fileItemWire{ID: it.ID.String(), Filename: it.Filename, Status: it.Status})
	}

	if err := writeJSON(w, http.StatusAccepted, resp); err != nil {
		logging.FromContext(r.Context()).Error("upload response encode error", slog.Any("error", err))
	}
}

// handleGetFileBatch handles GET /api/v1/files/{batch_id}, reporting the
// rolled-up status of a previously uploaded batch and its per-item state.
func (s *Server) handleGetFileBatch(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, r, apperror.Dependency("server: get file batch", errors.New("store unavailable")))
		return
	}

	id, err := uuid.Parse(r.PathValue("batch_id"))
	if err != nil {
		writeError(w, r, apperror.Validation("server: parse batch id", err))
		return
	}

	batch, items, err := s.store.GetFileBatch(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := fileBatchResponse{ID: batch.ID.String(), Status: batch.Status}
	for _, it := range items {
		resp.Items = append(resp.Items, fileItemWire{ID: it.ID.String(), Filename: it.Filename, Status: it.Status, Error: it.Error})
	}

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		logging.FromContext(r.Context()).Error("file batch response encode error", slog.Any("error", err))
	}
}

func readMultipartFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// toJobPayloadMap round-trips v through JSON into the map[string]any shape
// store.EnqueueJob expects, matching how every job payload is actually
// stored (JSONB) and later decoded by the worker.
func toJobPayloadMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
