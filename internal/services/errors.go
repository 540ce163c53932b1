// Package services holds the agent's application logic: conversation
// resolution, the event pipeline, reaction follow-ups, slash commands and the
// read-side used by the inspection API.
//
// Service-level errors are translated to HTTP status codes or user-facing
// text by the callers.
package services

import "errors"

var (
	// ErrConversationNotFound indicates the conversation does not exist or
	// belongs to someone else.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrUserNotFound is returned by read paths for a Slack user the agent has
	// never seen.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmptyTitle is returned when a title update normalizes to nothing.
	ErrEmptyTitle = errors.New("title is empty")
)
