// Package services – Store
//
// This file declares the persistence contract the services depend on and its
// GORM-backed implementation over the repo package.
package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/slack-agent/internal/domain"
	"github.com/tbourn/slack-agent/internal/repo"
)

// ConversationStore is what the Resolver needs.
type ConversationStore interface {
	FindThreadConversation(ctx context.Context, userID, channelID, threadTS string) (*domain.Conversation, error)
	FindLatestChannelConversation(ctx context.Context, userID, channelID string) (*domain.Conversation, error)
	CreateConversation(ctx context.Context, userID, channelID, threadTS string, now time.Time) (*domain.Conversation, error)
	TouchConversation(ctx context.Context, id string, now time.Time) error
}

// Store is the persistence surface of the agent pipeline, reactions and
// commands.
type Store interface {
	ConversationStore

	GetOrCreateUser(ctx context.Context, platform, externalID string) (*domain.User, error)
	FindUser(ctx context.Context, platform, externalID string) (*domain.User, error)
	UpdateConversationTitle(ctx context.Context, id, userID, title string) error

	AppendUserMessage(ctx context.Context, conversationID, content, sourceTS string) (*domain.Query, error)
	AppendAssistantMessage(ctx context.Context, q *domain.Query, content string, meta repo.ResponseMeta) (*domain.Response, error)
	MarkQueryFailed(ctx context.Context, queryID, reason string) error
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Query, error)

	FindResponseByMessageTS(ctx context.Context, channelID, ts string) (*domain.Response, error)
	RecordReaction(ctx context.Context, responseID, reactorID, emoji string) error
	RemoveReaction(ctx context.Context, responseID, reactorID, emoji string) (bool, error)
	ListReactions(ctx context.Context, responseID string) ([]domain.Reaction, error)

	ClearConversation(ctx context.Context, id string) error
	ArchiveChannelConversations(ctx context.Context, userID, channelID string) (int64, error)
	DeleteChannelConversations(ctx context.Context, userID, channelID string) (int64, error)
	UserUsage(ctx context.Context, userID string) (repo.Usage, error)
}

// GormStore implements Store with the repo functions.
type GormStore struct {
	DB *gorm.DB
}

var _ Store = GormStore{}

func (s GormStore) GetOrCreateUser(ctx context.Context, platform, externalID string) (*domain.User, error) {
	return repo.GetOrCreateUser(ctx, s.DB, platform, externalID)
}

func (s GormStore) FindUser(ctx context.Context, platform, externalID string) (*domain.User, error) {
	return repo.FindUser(ctx, s.DB, platform, externalID)
}

func (s GormStore) FindThreadConversation(ctx context.Context, userID, channelID, threadTS string) (*domain.Conversation, error) {
	return repo.FindThreadConversation(ctx, s.DB, userID, channelID, threadTS)
}

func (s GormStore) FindLatestChannelConversation(ctx context.Context, userID, channelID string) (*domain.Conversation, error) {
	return repo.FindLatestChannelConversation(ctx, s.DB, userID, channelID)
}

func (s GormStore) CreateConversation(ctx context.Context, userID, channelID, threadTS string, now time.Time) (*domain.Conversation, error) {
	return repo.CreateConversation(ctx, s.DB, userID, channelID, threadTS, now)
}

func (s GormStore) TouchConversation(ctx context.Context, id string, now time.Time) error {
	return repo.TouchConversation(ctx, s.DB, id, now)
}

func (s GormStore) UpdateConversationTitle(ctx context.Context, id, userID, title string) error {
	return repo.UpdateConversationTitle(ctx, s.DB, id, userID, title)
}

func (s GormStore) AppendUserMessage(ctx context.Context, conversationID, content, sourceTS string) (*domain.Query, error) {
	return repo.AppendUserMessage(ctx, s.DB, conversationID, content, sourceTS)
}

func (s GormStore) AppendAssistantMessage(ctx context.Context, q *domain.Query, content string, meta repo.ResponseMeta) (*domain.Response, error) {
	return repo.AppendAssistantMessage(ctx, s.DB, q, content, meta)
}

func (s GormStore) MarkQueryFailed(ctx context.Context, queryID, reason string) error {
	return repo.MarkQueryFailed(ctx, s.DB, queryID, reason)
}

func (s GormStore) GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Query, error) {
	return repo.GetHistory(ctx, s.DB, conversationID, limit)
}

func (s GormStore) FindResponseByMessageTS(ctx context.Context, channelID, ts string) (*domain.Response, error) {
	return repo.FindResponseByMessageTS(ctx, s.DB, channelID, ts)
}

func (s GormStore) RecordReaction(ctx context.Context, responseID, reactorID, emoji string) error {
	return repo.RecordReaction(ctx, s.DB, responseID, reactorID, emoji)
}

func (s GormStore) RemoveReaction(ctx context.Context, responseID, reactorID, emoji string) (bool, error) {
	return repo.RemoveReaction(ctx, s.DB, responseID, reactorID, emoji)
}

func (s GormStore) ListReactions(ctx context.Context, responseID string) ([]domain.Reaction, error) {
	return repo.ListReactions(ctx, s.DB, responseID)
}

func (s GormStore) ClearConversation(ctx context.Context, id string) error {
	return repo.ClearConversation(ctx, s.DB, id)
}

func (s GormStore) ArchiveChannelConversations(ctx context.Context, userID, channelID string) (int64, error) {
	return repo.ArchiveChannelConversations(ctx, s.DB, userID, channelID)
}

func (s GormStore) DeleteChannelConversations(ctx context.Context, userID, channelID string) (int64, error) {
	return repo.DeleteChannelConversations(ctx, s.DB, userID, channelID)
}

func (s GormStore) UserUsage(ctx context.Context, userID string) (repo.Usage, error) {
	return repo.UserUsage(ctx, s.DB, userID)
}
