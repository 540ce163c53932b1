// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for ETag
// generation in the HTTP layer and for the stats command.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/slack-agent/internal/domain"
)

// ConversationsStats returns the number of conversations owned by userID and
// the greatest UpdatedAt among them (nil when there are none).
func ConversationsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Conversation{}).Where("user_id = ?", userID)
	return countAndLatest(q)
}

// QueriesStats returns the number of turns in a conversation and the greatest
// UpdatedAt among them.
func QueriesStats(ctx context.Context, db *gorm.DB, conversationID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Query{}).Where("conversation_id = ?", conversationID)
	return countAndLatest(q)
}

func countAndLatest(q *gorm.DB) (int64, *time.Time, error) {
	var count int64
	if err := q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}
	// Avoid MAX() which SQLite returns as TEXT.
	var row struct {
		UpdatedAt time.Time
	}
	if err := q.Session(&gorm.Session{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// Usage summarizes what a user has consumed.
type Usage struct {
	Conversations int64
	Queries       int64
	Failed        int64
	Tokens        int64
}

// UserUsage aggregates conversation, turn and token counts for userID.
func UserUsage(ctx context.Context, db *gorm.DB, userID string) (Usage, error) {
	var u Usage
	db = db.WithContext(ctx)

	if err := db.Model(&domain.Conversation{}).Where("user_id = ?", userID).Count(&u.Conversations).Error; err != nil {
		return u, err
	}
	convIDs := db.Model(&domain.Conversation{}).Select("id").Where("user_id = ?", userID)

	if err := db.Model(&domain.Query{}).Where("conversation_id IN (?)", convIDs).Count(&u.Queries).Error; err != nil {
		return u, err
	}
	if err := db.Model(&domain.Query{}).
		Where("conversation_id IN (?) AND status = ?", convIDs, domain.QueryFailed).
		Count(&u.Failed).Error; err != nil {
		return u, err
	}
	var tokens struct{ Total int64 }
	if err := db.Model(&domain.Response{}).
		Select("COALESCE(SUM(tokens_used), 0) AS total").
		Where("conversation_id IN (?)", convIDs).
		Scan(&tokens).Error; err != nil {
		return u, err
	}
	u.Tokens = tokens.Total
	return u, nil
}
