// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores the turns of a conversation: a Query row
// per user message and a Response row per assistant answer.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/slack-agent/internal/domain"
)

// ResponseMeta describes how an answer was produced and where it was posted.
type ResponseMeta struct {
	MessageTS  string
	ThreadTS   string
	Model      string
	TokensUsed int
	LatencyMs  int64
}

// AppendUserMessage records a pending query in conversationID.
func AppendUserMessage(ctx context.Context, db *gorm.DB, conversationID, content, sourceTS string) (*domain.Query, error) {
	now := time.Now().UTC()
	q := &domain.Query{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Content:        content,
		SourceTS:       sourceTS,
		Status:         domain.QueryPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.WithContext(ctx).Create(q).Error; err != nil {
		return nil, err
	}
	return q, nil
}

// AppendAssistantMessage stores the answer to q and marks q answered, in one
// transaction.
func AppendAssistantMessage(ctx context.Context, db *gorm.DB, q *domain.Query, content string, meta ResponseMeta) (*domain.Response, error) {
	now := time.Now().UTC()
	r := &domain.Response{
		ID:             uuid.NewString(),
		QueryID:        q.ID,
		ConversationID: q.ConversationID,
		Content:        content,
		Model:          meta.Model,
		TokensUsed:     meta.TokensUsed,
		LatencyMs:      meta.LatencyMs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if meta.MessageTS != "" {
		ts := meta.MessageTS
		r.MessageTS = &ts
	}
	if meta.ThreadTS != "" {
		ts := meta.ThreadTS
		r.ThreadTS = &ts
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(r).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Query{}).
			Where("id = ?", q.ID).
			Updates(map[string]any{"status": domain.QueryAnswered, "updated_at": now}).Error
	})
	if err != nil {
		return nil, err
	}
	q.Status = domain.QueryAnswered
	return r, nil
}

// MarkQueryFailed flags a query whose answer could not be produced.
func MarkQueryFailed(ctx context.Context, db *gorm.DB, queryID, reason string) error {
	res := db.WithContext(ctx).
		Model(&domain.Query{}).
		Where("id = ?", queryID).
		Updates(map[string]any{"status": domain.QueryFailed, "error": reason, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetHistory returns the latest limit answered turns of a conversation in
// chronological order, each with its response and the response's reactions.
// Rows are read newest-first and reversed.
func GetHistory(ctx context.Context, db *gorm.DB, conversationID string, limit int) ([]domain.Query, error) {
	var out []domain.Query
	q := db.WithContext(ctx).
		Where("conversation_id = ? AND status = ?", conversationID, domain.QueryAnswered).
		Preload("Response").
		Preload("Response.Reactions", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CountQueries returns the number of turns in a conversation.
func CountQueries(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Query{}).
		Where("conversation_id = ?", conversationID).
		Count(&total).Error
	return total, err
}

// ListQueriesPage returns turns oldest first, with responses attached.
func ListQueriesPage(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Query, error) {
	var out []domain.Query
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Preload("Response").
		Preload("Response.Reactions").
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
