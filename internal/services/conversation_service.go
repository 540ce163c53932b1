// Package services – ConversationService
//
// This file implements the read side behind the inspection API. Callers are
// identified by their Slack user id; ownership is checked before any
// conversation or turn is returned or renamed.
package services

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/slack-agent/internal/domain"
	"github.com/tbourn/slack-agent/internal/observability"
	"github.com/tbourn/slack-agent/internal/utils"
)

// ConversationRepo is the read-side repository contract used by
// ConversationService.
type ConversationRepo interface {
	FindUser(ctx context.Context, db *gorm.DB, platform, externalID string) (*domain.User, error)
	GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error)
	UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error
	CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error)
	CountQueries(ctx context.Context, db *gorm.DB, conversationID string) (int64, error)
	ListQueriesPage(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Query, error)
	ConversationsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error)
}

// ConversationService backs the inspection API. Callers identify themselves
// by Slack user id.
type ConversationService struct {
	DB   *gorm.DB
	Repo ConversationRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
}

// NewConversationService constructs a ConversationService with default title limits.
func NewConversationService(db *gorm.DB, r ConversationRepo) *ConversationService {
	return &ConversationService{DB: db, Repo: r, TitleMaxLen: defaultTitleMaxLen}
}

func (s *ConversationService) user(ctx context.Context, slackUserID string) (*domain.User, error) {
	u, err := s.Repo.FindUser(ctx, s.DB, domain.PlatformSlack, slackUserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// ListPage returns a page of the user's conversations, most recent first.
// Unknown users simply have no conversations.
func (s *ConversationService) ListPage(ctx context.Context, slackUserID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	ctx, span := observability.Tracer().Start(ctx, "ConversationService.ListPage",
		trace.WithAttributes(attribute.String("user.id", slackUserID), attribute.Int("page", page)),
	)
	defer span.End()

	page, pageSize = utils.NormalizePage(page, pageSize)
	u, err := s.user(ctx, slackUserID)
	if errors.Is(err, ErrUserNotFound) {
		return []domain.Conversation{}, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	total, err := s.Repo.CountConversations(ctx, s.DB, u.ID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}
	items, err := s.Repo.ListConversationsPage(ctx, s.DB, u.ID, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// Stats returns the user's conversation count and latest update, for ETags.
func (s *ConversationService) Stats(ctx context.Context, slackUserID string) (int64, *time.Time, error) {
	u, err := s.user(ctx, slackUserID)
	if errors.Is(err, ErrUserNotFound) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	return s.Repo.ConversationsStats(ctx, s.DB, u.ID)
}

// Messages returns a page of turns for a conversation owned by the user.
func (s *ConversationService) Messages(ctx context.Context, slackUserID, conversationID string, page, pageSize int) ([]domain.Query, int64, error) {
	ctx, span := observability.Tracer().Start(ctx, "ConversationService.Messages",
		trace.WithAttributes(attribute.String("conversation.id", conversationID), attribute.Int("page", page)),
	)
	defer span.End()

	page, pageSize = utils.NormalizePage(page, pageSize)
	if _, err := s.owned(ctx, slackUserID, conversationID); err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountQueries(ctx, s.DB, conversationID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Query{}, 0, nil
	}
	items, err := s.Repo.ListQueriesPage(ctx, s.DB, conversationID, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// UpdateTitle renames a conversation owned by the user.
func (s *ConversationService) UpdateTitle(ctx context.Context, slackUserID, conversationID, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		return ErrEmptyTitle
	}
	u, err := s.owned(ctx, slackUserID, conversationID)
	if err != nil {
		return err
	}
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		title = string([]rune(title)[:s.TitleMaxLen])
	}
	return s.Repo.UpdateConversationTitle(ctx, s.DB, conversationID, u.ID, title)
}

func (s *ConversationService) owned(ctx context.Context, slackUserID, conversationID string) (*domain.User, error) {
	u, err := s.user(ctx, slackUserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.Repo.GetConversation(ctx, s.DB, conversationID, u.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return u, nil
}
