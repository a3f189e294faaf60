package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/onekey/rag-core-go/internal/apperror"
	"github.com/onekey/rag-core-go/internal/store"
)

// validRatings enumerates the accepted feedback.Rating values.
var validRatings = map[string]bool{"up": true, "down": true}

// handleSubmitFeedback handles POST /api/v1/feedback, recording a reviewer's
// thumbs-up/down on one assistant answer, keyed by
// (conversation_id, message_id).
func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, r, apperror.Dependency("server: submit feedback", errors.New("store unavailable")))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperror.Validation("server: decode feedback request", err))
		return
	}
	if req.ConversationID == "" || req.MessageID == "" {
		writeError(w, r, apperror.Validation("server: validate feedback request", errors.New("conversation_id and message_id are required")))
		return
	}
	if !validRatings[req.Rating] {
		writeError(w, r, apperror.Validation("server: validate feedback request", errors.New(`rating must be "up" or "down"`)))
		return
	}

	err := s.store.UpsertFeedback(r.Context(), store.Feedback{
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		Rating:         req.Rating,
		Reason:         req.Reason,
		Comment:        req.Comment,
		Sources:        req.Sources,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
