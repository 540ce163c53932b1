// Package domain defines the persistence models for Slack users, their
// conversations with the agent, and the query/response pairs and reactions
// recorded inside them. These types are mapped with GORM.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Conversation and query states.
const (
	StatusActive   = "active"
	StatusArchived = "archived"

	QueryPending  = "pending"
	QueryAnswered = "answered"
	QueryFailed   = "failed"

	PlatformSlack = "slack"
)

// User is a chat-platform account the agent has talked to. The pair
// (Platform, ExternalID) is unique; ExternalID is the Slack user ID.
type User struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	Platform    string    `json:"platform"     gorm:"type:varchar(32);not null;uniqueIndex:ux_user_platform_external"`
	ExternalID  string    `json:"external_id"  gorm:"type:varchar(64);not null;uniqueIndex:ux_user_platform_external"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Conversation is the continuity scope for history and titles.
//
// Fields:
//   - UserID / ChannelID: owner and Slack channel (DM or public/private channel).
//   - ThreadTS: Slack thread timestamp, nil for channel-level conversations.
//     (UserID, ChannelID, ThreadTS) is unique; NULLs never collide, so only
//     threaded conversations are constrained to one row.
//   - Title: auto-generated from the first prompt; empty until then.
//   - Status: "active" or "archived". Only active unthreaded conversations are
//     extended by follow-up messages.
type Conversation struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string         `json:"user_id"    gorm:"type:char(36);not null;uniqueIndex:ux_conv_scope,priority:1"`
	ChannelID string         `json:"channel_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_conv_scope,priority:2"`
	ThreadTS  *string        `json:"thread_ts,omitempty" gorm:"type:varchar(32);uniqueIndex:ux_conv_scope,priority:3"`
	Title     string         `json:"title"      gorm:"type:varchar(255);not null;default:''"`
	Status    string         `json:"status"     gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','archived')"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"index"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (Conversation) TableName() string { return "conversations" }

// Query is a user message sent to the agent. SourceTS is the Slack ts of the
// triggering message.
type Query struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string         `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conv_queries,priority:1"`
	Content        string         `json:"content"         gorm:"type:text;not null"`
	SourceTS       string         `json:"source_ts"       gorm:"type:varchar(32)"`
	Status         string         `json:"status"          gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','answered','failed')"`
	Error          *string        `json:"error,omitempty" gorm:"type:text"`
	CreatedAt      time.Time      `json:"created_at"      gorm:"index:idx_conv_queries,priority:2"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Response     *Response    `json:"response,omitempty" gorm:"foreignKey:QueryID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (Query) TableName() string { return "queries" }

// Response is the assistant answer to exactly one Query. MessageTS is the Slack
// ts of the posted reply and is how reactions find their response; ThreadTS is
// the thread it was posted under, if any.
type Response struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	QueryID        string         `json:"query_id"        gorm:"type:char(36);not null;uniqueIndex"`
	ConversationID string         `json:"conversation_id" gorm:"type:char(36);not null;index"`
	Content        string         `json:"content"         gorm:"type:text;not null"`
	MessageTS      *string        `json:"message_ts,omitempty" gorm:"type:varchar(32);index"`
	ThreadTS       *string        `json:"thread_ts,omitempty"  gorm:"type:varchar(32)"`
	Model          string         `json:"model"           gorm:"type:varchar(64)"`
	TokensUsed     int            `json:"tokens_used"`
	LatencyMs      int64          `json:"latency_ms"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`

	Reactions []Reaction `json:"reactions,omitempty" gorm:"foreignKey:ResponseID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (Response) TableName() string { return "responses" }

// Reaction is an emoji a user placed on an assistant reply. One row per
// (response, reactor, emoji).
type Reaction struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	ResponseID string    `json:"response_id" gorm:"type:char(36);not null;uniqueIndex:ux_reaction_response_reactor_emoji"`
	ReactorID  string    `json:"reactor_id"  gorm:"type:varchar(64);not null;uniqueIndex:ux_reaction_response_reactor_emoji"`
	EmojiName  string    `json:"emoji_name"  gorm:"type:varchar(64);not null;uniqueIndex:ux_reaction_response_reactor_emoji"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Reaction) TableName() string { return "reactions" }

// All lists every model in migration order.
func All() []any {
	return []any{&User{}, &Conversation{}, &Query{}, &Response{}, &Reaction{}}
}
