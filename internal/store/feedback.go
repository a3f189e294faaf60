package store

import (
	"context"
	"encoding/json"

	"github.com/onekey/rag-core-go/internal/apperror"
)

// UpsertFeedback records or replaces a reviewer's rating of one answer
// message, keyed by (conversation_id, message_id).
func (s *Store) UpsertFeedback(ctx context.Context, f Feedback) error {
	sources, err := json.Marshal(f.Sources)
	if err != nil {
		return apperror.Validation("store.UpsertFeedback", err)
	}

	const q = `
INSERT INTO feedback (conversation_id, message_id, rating, reason, comment, sources)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (conversation_id, message_id) DO UPDATE SET
	rating = EXCLUDED.rating,
	reason = EXCLUDED.reason,
	comment = EXCLUDED.comment,
	sources = EXCLUDED.sources,
	updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, f.ConversationID, f.MessageID, f.Rating, f.Reason, f.Comment, sources); err != nil {
		return apperror.Dependency("store.UpsertFeedback", err)
	}
	return nil
}

// GetFeedback fetches feedback for one message. Returns (Feedback{}, false,
// nil) when absent.
func (s *Store) GetFeedback(ctx context.Context, conversationID, messageID string) (Feedback, bool, error) {
	const q = `
SELECT conversation_id, message_id, rating, reason, comment, sources, created_at, updated_at
FROM feedback WHERE conversation_id = $1 AND message_id = $2`

	var f Feedback
	var sources []byte
	err := s.pool.QueryRow(ctx, q, conversationID, messageID).Scan(
		&f.ConversationID, &f.MessageID, &f.Rating, &f.Reason, &f.Comment, &sources, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		wrapped := apperror.Dependency("store.GetFeedback", err)
		if isNoRows(wrapped) {
			return Feedback{}, false, nil
		}
		return Feedback{}, false, wrapped
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &f.Sources); err != nil {
			return Feedback{}, false, apperror.Dependency("store.GetFeedback", err)
		}
	}
	return f, true, nil
}
