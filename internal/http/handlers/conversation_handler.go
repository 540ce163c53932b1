// Conversation inspection endpoints:
//   - GET    /conversations                 (list, paginated, ETag support)
//   - GET    /conversations/{id}/messages   (turns with answers and reactions)
//   - PUT    /conversations/{id}/title      (rename)
//
// Callers identify as a Slack user through X-User-ID. Handlers validate
// input, call ConversationService, and translate the result.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/slack-agent/internal/domain"
	"github.com/tbourn/slack-agent/internal/services"
	"github.com/tbourn/slack-agent/internal/slackbot"
	"github.com/tbourn/slack-agent/internal/utils"
)

// ConversationService is the read side consumed by the inspection API.
type ConversationService interface {
	ListPage(ctx context.Context, slackUserID string, page, pageSize int) ([]domain.Conversation, int64, error)
	// Stats feeds the list ETag.
	Stats(ctx context.Context, slackUserID string) (int64, *time.Time, error)
	Messages(ctx context.Context, slackUserID, conversationID string, page, pageSize int) ([]domain.Query, int64, error)
	UpdateTitle(ctx context.Context, slackUserID, conversationID, title string) error
}

// Handlers groups the inspection API and the Slack webhook endpoints.
type Handlers struct {
	convSvc   ConversationService
	dispatch  slackbot.Dispatcher
	botUserID string
}

// New binds handlers to their collaborators. dispatch may be nil when the
// Slack webhooks are not mounted.
func New(convSvc ConversationService, dispatch slackbot.Dispatcher, botUserID string) *Handlers {
	return &Handlers{convSvc: convSvc, dispatch: dispatch, botUserID: botUserID}
}

// userID reads the caller's Slack user id from X-User-ID.
func userID(c *gin.Context) string {
	if c == nil || c.Request == nil {
		return ""
	}
	return strings.TrimSpace(c.GetHeader("X-User-ID"))
}

// UpdateTitleRequest is the JSON payload for renaming a conversation.
type UpdateTitleRequest struct {
	Title string `json:"title" binding:"required,min=1,max=255" example:"Rotate Postgres credentials"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListConversationsResponse wraps a page of conversations.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// ListMessagesResponse wraps a page of turns, oldest first.
type ListMessagesResponse struct {
	Messages   []domain.Query `json:"messages"`
	Pagination Pagination     `json:"pagination"`
}

// clampPagination bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"))
}

func paginate(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

func (h *Handlers) requireUser(c *gin.Context) (string, bool) {
	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID header required")
		return "", false
	}
	return uid, true
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Description Returns a page of the caller's conversations, most recently active first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID      header  string  true  "Slack user ID"               example(U024BE7LH)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Missing user"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okUser := h.requireUser(c)
	if !okUser {
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.convSvc.Stats(ctx, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"conversations:%s:%d:%d:%d:%d"`, uid, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.convSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    paginate(page, pageSize, total),
	})
}

// ListMessages godoc
// @ID          listConversationMessages
// @Summary     List turns of a conversation
// @Description Returns the caller's questions in a conversation, oldest first, each with its stored answer and reactions.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Slack user ID"      example(U024BE7LH)
// @Param       id         path    string  true  "Conversation ID"    format(uuid)
// @Param       page       query   int     false "Page number"        minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"     minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing user"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	uid, okUser := h.requireUser(c)
	if !okUser {
		return
	}
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.convSvc.Messages(c.Request.Context(), uid, convID, page, pageSize)
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: paginate(page, pageSize, total),
	})
}

// UpdateConversationTitle godoc
// @ID          updateConversationTitle
// @Summary     Rename a conversation
// @Description Updates the title of a conversation owned by the caller.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Slack user ID"    example(U024BE7LH)
// @Param       id         path    string  true  "Conversation ID"  format(uuid)
// @Param       body       body    handlers.UpdateTitleRequest  true  "New title"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing user"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/title [put]
func (h *Handlers) UpdateConversationTitle(c *gin.Context) {
	uid, okUser := h.requireUser(c)
	if !okUser {
		return
	}
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	var req UpdateTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1–255 chars)")
		return
	}

	err := h.convSvc.UpdateTitle(c.Request.Context(), uid, convID, req.Title)
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		return
	case errors.Is(err, services.ErrEmptyTitle):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1–255 chars)")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, err.Error())
		return
	}
	noContent(c)
}
