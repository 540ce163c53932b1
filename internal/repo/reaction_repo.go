// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file records emoji reactions on assistant replies.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/slack-agent/internal/domain"
)

// FindResponseByMessageTS returns the response posted at ts in channelID.
// Slack ts values are only unique within a channel.
func FindResponseByMessageTS(ctx context.Context, db *gorm.DB, channelID, ts string) (*domain.Response, error) {
	var r domain.Response
	err := db.WithContext(ctx).
		Select("responses.*").
		Joins("JOIN conversations ON conversations.id = responses.conversation_id").
		Where("responses.message_ts = ? AND conversations.channel_id = ?", ts, channelID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RecordReaction stores a reaction. Recording the same
// (response, reactor, emoji) twice is not an error.
func RecordReaction(ctx context.Context, db *gorm.DB, responseID, reactorID, emoji string) error {
	r := &domain.Reaction{
		ID:         uuid.NewString(),
		ResponseID: responseID,
		ReactorID:  reactorID,
		EmojiName:  emoji,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil && !IsDuplicate(err) {
		return err
	}
	return nil
}

// RemoveReaction deletes a reaction and reports whether a row existed.
func RemoveReaction(ctx context.Context, db *gorm.DB, responseID, reactorID, emoji string) (bool, error) {
	res := db.WithContext(ctx).
		Where("response_id = ? AND reactor_id = ? AND emoji_name = ?", responseID, reactorID, emoji).
		Delete(&domain.Reaction{})
	return res.RowsAffected > 0, res.Error
}

// ListReactions returns the reactions on a response, oldest first.
func ListReactions(ctx context.Context, db *gorm.DB, responseID string) ([]domain.Reaction, error) {
	var out []domain.Reaction
	err := db.WithContext(ctx).
		Where("response_id = ?", responseID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}
