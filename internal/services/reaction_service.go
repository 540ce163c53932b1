// Package services – ReactionService
//
// This file implements reaction bookkeeping on the agent's replies. Added
// reactions are stored and, for unmuted users, answered with a follow-up
// (negative) or an acknowledgement emoji (positive). Removed reactions are
// deleted and may withdraw the acknowledgement.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/slack-agent/internal/events"
	"github.com/tbourn/slack-agent/internal/mute"
	"github.com/tbourn/slack-agent/internal/observability"
	"github.com/tbourn/slack-agent/internal/repo"
	"github.com/tbourn/slack-agent/internal/sentiment"
	"github.com/tbourn/slack-agent/internal/slackbot"
)

const (
	FollowUpMessage = "Sorry that answer missed the mark. What should I improve? Reply here and I'll try again."
	AckEmoji        = "pray"
)

// ReactionService records reactions on the agent's replies and reacts to
// clearly negative or positive ones.
type ReactionService struct {
	Store Store
	Mutes *mute.Registry
	Reply slackbot.Replier
}

// Added handles a reaction placed on a message. Reactions on messages the
// agent did not post are ignored.
func (s *ReactionService) Added(ctx context.Context, ev events.ReactionAdded) {
	resp, err := s.Store.FindResponseByMessageTS(ctx, ev.M.ChannelID, ev.ItemTS)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			log.Error().Err(err).Str("item_ts", ev.ItemTS).Msg("lookup reacted response")
		}
		return
	}
	if err := s.Store.RecordReaction(ctx, resp.ID, ev.M.UserID, sentiment.Normalize(ev.Reaction)); err != nil {
		log.Error().Err(err).Str("response", resp.ID).Msg("record reaction")
		return
	}
	if s.muted(ev.M.UserID) {
		return
	}

	ref := slackbot.MessageRef{Channel: ev.M.ChannelID, TS: ev.ItemTS}
	switch sentiment.Of(ev.Reaction) {
	case sentiment.Negative:
		thread := ev.ItemTS
		if resp.ThreadTS != nil && *resp.ThreadTS != "" {
			thread = *resp.ThreadTS
		}
		if _, err := s.Reply.Post(ctx, ev.M.ChannelID, FollowUpMessage, thread); err != nil {
			log.Warn().Err(err).Str("response", resp.ID).Msg("post follow-up")
			observability.Replies.WithLabelValues(observability.ReplyFailed).Inc()
			return
		}
		observability.Replies.WithLabelValues(observability.ReplyFollowUp).Inc()
	case sentiment.Positive:
		if err := s.Reply.AddReaction(ctx, ref, AckEmoji); err != nil {
			log.Warn().Err(err).Str("response", resp.ID).Msg("acknowledge reaction")
		}
	}
}

// Removed deletes the stored reaction, if any. The acknowledgement is
// withdrawn once no unmuted user has a positive reaction left on the reply.
func (s *ReactionService) Removed(ctx context.Context, ev events.ReactionRemoved) {
	resp, err := s.Store.FindResponseByMessageTS(ctx, ev.M.ChannelID, ev.ItemTS)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			log.Error().Err(err).Str("item_ts", ev.ItemTS).Msg("lookup reacted response")
		}
		return
	}
	removed, err := s.Store.RemoveReaction(ctx, resp.ID, ev.M.UserID, sentiment.Normalize(ev.Reaction))
	if err != nil {
		log.Error().Err(err).Str("response", resp.ID).Msg("remove reaction")
		return
	}
	if !removed || sentiment.Of(ev.Reaction) != sentiment.Positive || s.muted(ev.M.UserID) {
		return
	}

	left, err := s.Store.ListReactions(ctx, resp.ID)
	if err != nil {
		log.Error().Err(err).Str("response", resp.ID).Msg("list reactions")
		return
	}
	for _, r := range left {
		if sentiment.Of(r.EmojiName) == sentiment.Positive && !s.muted(r.ReactorID) {
			return
		}
	}
	ref := slackbot.MessageRef{Channel: ev.M.ChannelID, TS: ev.ItemTS}
	if err := s.Reply.RemoveReaction(ctx, ref, AckEmoji); err != nil {
		log.Warn().Err(err).Str("response", resp.ID).Msg("withdraw acknowledgement")
	}
}

func (s *ReactionService) muted(userID string) bool {
	return s.Mutes != nil && s.Mutes.IsMuted(userID)
}
