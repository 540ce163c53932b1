// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for users and
// conversations.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: persistence and query composition only, continuity rules live in
// services.Resolver.
//
// Error semantics:
//   - Missing rows surface as gorm.ErrRecordNotFound (ErrNotFound).
//   - Unique violations are returned raw; use IsDuplicate to detect them.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/slack-agent/internal/domain"
)

// GetOrCreateUser returns the user for (platform, externalID), inserting it
// when absent. A concurrent insert of the same pair is resolved by re-reading
// the row that won.
func GetOrCreateUser(ctx context.Context, db *gorm.DB, platform, externalID string) (*domain.User, error) {
	if u, err := FindUser(ctx, db, platform, externalID); err == nil {
		return u, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	u := &domain.User{
		ID:         uuid.NewString(),
		Platform:   platform,
		ExternalID: externalID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if IsDuplicate(err) {
			return FindUser(ctx, db, platform, externalID)
		}
		return nil, err
	}
	return u, nil
}

// FindUser looks a user up by platform identity.
func FindUser(ctx context.Context, db *gorm.DB, platform, externalID string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Where("platform = ? AND external_id = ?", platform, externalID).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindThreadConversation returns the conversation bound to exactly
// (userID, channelID, threadTS), regardless of status.
func FindThreadConversation(ctx context.Context, db *gorm.DB, userID, channelID, threadTS string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("user_id = ? AND channel_id = ? AND thread_ts = ?", userID, channelID, threadTS).
		Order("updated_at DESC").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindLatestChannelConversation returns the most recently updated active
// conversation for (userID, channelID) that is not bound to a thread.
func FindLatestChannelConversation(ctx context.Context, db *gorm.DB, userID, channelID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("user_id = ? AND channel_id = ? AND thread_ts IS NULL AND status = ?", userID, channelID, domain.StatusActive).
		Order("updated_at DESC").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateConversation inserts an active conversation. An empty threadTS is
// stored as NULL.
func CreateConversation(ctx context.Context, db *gorm.DB, userID, channelID, threadTS string, now time.Time) (*domain.Conversation, error) {
	c := &domain.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChannelID: channelID,
		Status:    domain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if threadTS != "" {
		c.ThreadTS = &threadTS
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// TouchConversation sets updated_at to now.
func TouchConversation(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		UpdateColumn("updated_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetConversation fetches a conversation by ID and owner.
func GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CountConversations returns the number of conversations owned by userID.
func CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListConversationsPage returns conversations for userID, most recently
// updated first.
func ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateConversationTitle sets the title of a conversation owned by userID.
func UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ArchiveChannelConversations archives every active unthreaded conversation
// of userID in channelID and returns how many changed.
func ArchiveChannelConversations(ctx context.Context, db *gorm.DB, userID, channelID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("user_id = ? AND channel_id = ? AND thread_ts IS NULL AND status = ?", userID, channelID, domain.StatusActive).
		Update("status", domain.StatusArchived)
	return res.RowsAffected, res.Error
}

// DeleteChannelConversations hard-deletes every conversation of userID in
// channelID, threaded or not. Queries, responses and reactions go with them.
func DeleteChannelConversations(ctx context.Context, db *gorm.DB, userID, channelID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Unscoped().Model(&domain.Conversation{}).
			Where("user_id = ? AND channel_id = ?", userID, channelID).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := deleteQueries(tx, ids); err != nil {
			return err
		}
		res := tx.Unscoped().Where("id IN ?", ids).Delete(&domain.Conversation{})
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}

// ClearConversation removes every query/response pair of a conversation but
// keeps the conversation row.
func ClearConversation(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteQueries(tx, []string{id})
	})
}

// deleteQueries removes children explicitly so it also works when the SQLite
// connection runs without foreign_keys.
func deleteQueries(tx *gorm.DB, conversationIDs []string) error {
	respIDs := tx.Unscoped().Model(&domain.Response{}).Select("id").Where("conversation_id IN ?", conversationIDs)
	if err := tx.Where("response_id IN (?)", respIDs).Delete(&domain.Reaction{}).Error; err != nil {
		return err
	}
	if err := tx.Unscoped().Where("conversation_id IN ?", conversationIDs).Delete(&domain.Response{}).Error; err != nil {
		return err
	}
	return tx.Unscoped().Where("conversation_id IN ?", conversationIDs).Delete(&domain.Query{}).Error
}
