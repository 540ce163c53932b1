// Package services – Resolver
//
// This file maps a message's (user, channel, thread) scope to its logical
// conversation, creating one on first contact.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/slack-agent/internal/domain"
	"github.com/tbourn/slack-agent/internal/observability"
	"github.com/tbourn/slack-agent/internal/repo"
)

// Resolver maps (user, channel, thread) to a logical conversation.
type Resolver struct {
	Store ConversationStore
	Now   func() time.Time
}

// NewResolver returns a Resolver using the wall clock.
func NewResolver(store ConversationStore) *Resolver {
	return &Resolver{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// Resolve returns the conversation for a message. threadTS must already be
// the continuity thread (see events.ContinuityThread), empty for unthreaded
// messages.
//
// A threaded message always maps to the conversation bound to that exact
// thread. An unthreaded message continues the most recently active
// unthreaded conversation in the channel, which is touched so it stays the
// latest. Otherwise a conversation is created.
func (r *Resolver) Resolve(ctx context.Context, userID, channelID, threadTS string) (*domain.Conversation, error) {
	ctx, span := observability.Tracer().Start(ctx, "Resolver.Resolve",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("channel.id", channelID),
			attribute.Bool("threaded", threadTS != ""),
		),
	)
	defer span.End()

	c, err := r.lookup(ctx, userID, channelID, threadTS)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	c, err = r.Store.CreateConversation(ctx, userID, channelID, threadTS, r.now())
	if err == nil {
		span.SetAttributes(attribute.Bool("created", true))
		return c, nil
	}
	if !repo.IsDuplicate(err) {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	// Lost a creation race; the winner's row is the conversation.
	return r.lookup(ctx, userID, channelID, threadTS)
}

func (r *Resolver) lookup(ctx context.Context, userID, channelID, threadTS string) (*domain.Conversation, error) {
	if threadTS != "" {
		return r.Store.FindThreadConversation(ctx, userID, channelID, threadTS)
	}
	c, err := r.Store.FindLatestChannelConversation(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}
	now := r.now()
	if !now.After(c.UpdatedAt) {
		now = c.UpdatedAt.Add(time.Microsecond)
	}
	if err := r.Store.TouchConversation(ctx, c.ID, now); err != nil {
		return nil, err
	}
	c.UpdatedAt = now
	return c, nil
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}
