// Package services – AgentService
//
// This file implements AgentService, the pipeline every inbound mention and
// direct message goes through: admission, mute check, user and conversation
// resolution, history loading and context building, the AI call, delivery
// over the "Thinking..." placeholder, and persistence of the turn. Reaction
// events are handed to ReactionService after admission.
package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"

	"github.com/tbourn/slack-agent/internal/admission"
	"github.com/tbourn/slack-agent/internal/contextwindow"
	"github.com/tbourn/slack-agent/internal/domain"
	"github.com/tbourn/slack-agent/internal/eventbus"
	"github.com/tbourn/slack-agent/internal/events"
	"github.com/tbourn/slack-agent/internal/llm"
	"github.com/tbourn/slack-agent/internal/mute"
	"github.com/tbourn/slack-agent/internal/observability"
	"github.com/tbourn/slack-agent/internal/repo"
	"github.com/tbourn/slack-agent/internal/slackbot"
)

// Fixed user-facing texts.
const (
	ThinkingMessage    = ":hourglass_flowing_sand: Thinking..."
	UnsupportedMessage = "Sorry, I can only read plain text messages. Files, images and empty messages aren't supported yet."
	ApologyMessage     = "Sorry, something went wrong while generating a response. Please try again in a moment."

	DefaultSystemPrompt = "You are a helpful assistant in a Slack workspace. " +
		"Answer concisely using Slack markdown. If you are unsure, say so."

	DefaultHistoryLimit = 50
	maxErrorRunes       = 500
)

// AgentService runs one inbound event through admission, mute check,
// conversation resolution, context building, the AI call and delivery.
type AgentService struct {
	Filter    *admission.Filter  // dedupe ledger and per-user locks
	Mutes     *mute.Registry     // users the agent stays silent for
	Resolver  *Resolver          // maps (user, channel, thread) to a conversation
	Store     Store              // persistence of users, turns and reactions
	AI        llm.Completer      // chat completion backend
	Reply     slackbot.Replier   // outbound Slack messages
	Bus       eventbus.Publisher // optional; nil disables turn publishing
	Reactions *ReactionService   // receives admitted reaction events

	// SystemPrompt overrides DefaultSystemPrompt when non-blank.
	SystemPrompt string
	// HistoryLimit is the number of answered turns loaded per event;
	// zero means DefaultHistoryLimit.
	HistoryLimit int
	// TitleMaxLen and TitleLocale shape titles derived from the first
	// message of a conversation.
	TitleMaxLen int
	TitleLocale language.Tag
}

// Handle processes ev end to end. It never returns an error: failures are
// logged and, where a user is waiting, answered with an apology.
func (s *AgentService) Handle(ctx context.Context, ev events.Event) {
	ticket, res := s.Filter.Admit(ev)
	observability.Admissions.WithLabelValues(res.String()).Inc()
	m := ev.Meta()
	if res != admission.Admitted {
		log.Debug().
			Str("result", res.String()).
			Str("kind", string(ev.Kind())).
			Str("user", m.UserID).
			Str("channel", m.ChannelID).
			Str("ts", m.TS).
			Msg("event not admitted")
		return
	}
	defer s.Filter.Release(ticket)
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("kind", string(ev.Kind())).
				Str("user", m.UserID).
				Bytes("stack", debug.Stack()).
				Msg("event handler panicked")
		}
	}()

	ctx, span := observability.Tracer().Start(ctx, "AgentService.Handle",
		trace.WithAttributes(
			attribute.String("event.kind", string(ev.Kind())),
			attribute.String("user.id", m.UserID),
			attribute.String("channel.id", m.ChannelID),
		),
	)
	defer span.End()

	switch e := ev.(type) {
	case events.Mention, events.DirectMessage:
		s.answer(ctx, ev)
	case events.ReactionAdded:
		s.Reactions.Added(ctx, e)
	case events.ReactionRemoved:
		s.Reactions.Removed(ctx, e)
	}
}

func (s *AgentService) answer(ctx context.Context, ev events.Event) {
	m := ev.Meta()
	text, hasFiles, _ := events.Message(ev)
	text = slackbot.StripMentions(text)
	logger := log.With().Str("user", m.UserID).Str("channel", m.ChannelID).Str("ts", m.TS).Logger()

	if s.Mutes.IsMuted(m.UserID) {
		logger.Debug().Msg("user muted, skipping")
		return
	}

	replyTS := events.ReplyThread(ev)
	if hasFiles || text == "" {
		if _, err := s.Reply.Post(ctx, m.ChannelID, UnsupportedMessage, replyTS); err != nil {
			logger.Warn().Err(err).Msg("post unsupported notice")
			observability.Replies.WithLabelValues(observability.ReplyFailed).Inc()
			return
		}
		observability.Replies.WithLabelValues(observability.ReplyUnsupported).Inc()
		return
	}

	placeholder, err := s.Reply.Post(ctx, m.ChannelID, ThinkingMessage, replyTS)
	if err != nil {
		logger.Warn().Err(err).Msg("post thinking placeholder")
	}

	user, err := s.Store.GetOrCreateUser(ctx, domain.PlatformSlack, m.UserID)
	if err != nil {
		logger.Error().Err(err).Msg("get or create user")
		s.apologize(ctx, placeholder, m.ChannelID, replyTS)
		return
	}
	conv, err := s.Resolver.Resolve(ctx, user.ID, m.ChannelID, events.ContinuityThread(m))
	if err != nil {
		logger.Error().Err(err).Msg("resolve conversation")
		s.apologize(ctx, placeholder, m.ChannelID, replyTS)
		return
	}
	logger = logger.With().Str("conversation", conv.ID).Logger()

	history, err := s.Store.GetHistory(ctx, conv.ID, s.historyLimit())
	if err != nil {
		// Answering without context beats not answering.
		logger.Warn().Err(err).Msg("load history")
		history = nil
	}
	q, err := s.Store.AppendUserMessage(ctx, conv.ID, text, m.TS)
	if err != nil {
		logger.Error().Err(err).Msg("store user message")
		s.apologize(ctx, placeholder, m.ChannelID, replyTS)
		return
	}

	prompt := BuildPrompt(HistoryMessages(history), text)
	completion, err := s.complete(ctx, prompt)
	if err != nil {
		logger.Error().Err(err).Str("query", q.ID).Msg("ai completion failed")
		if ferr := s.Store.MarkQueryFailed(ctx, q.ID, clipRunes(err.Error(), maxErrorRunes)); ferr != nil {
			logger.Error().Err(ferr).Msg("mark query failed")
		}
		s.apologize(ctx, placeholder, m.ChannelID, replyTS)
		return
	}

	ref, err := s.deliver(ctx, placeholder, m.ChannelID, replyTS, completion.Text)
	if err != nil {
		logger.Error().Err(err).Msg("deliver answer")
		observability.Replies.WithLabelValues(observability.ReplyFailed).Inc()
	} else {
		observability.Replies.WithLabelValues(observability.ReplyAnswered).Inc()
	}

	resp, err := s.Store.AppendAssistantMessage(ctx, q, completion.Text, repo.ResponseMeta{
		MessageTS:  ref.TS,
		ThreadTS:   replyTS,
		Model:      completion.Model,
		TokensUsed: completion.TokensUsed(),
		LatencyMs:  completion.LatencyMs,
	})
	if err != nil {
		logger.Error().Err(err).Msg("store assistant message")
		return
	}

	if conv.Title == "" {
		if title := titleFromPrompt(text, s.TitleLocale, s.TitleMaxLen); title != "" {
			if err := s.Store.UpdateConversationTitle(ctx, conv.ID, user.ID, title); err != nil {
				logger.Warn().Err(err).Msg("auto-title conversation")
			}
		}
	}

	if s.Bus != nil {
		turn := eventbus.TurnEvent{
			ConversationID: conv.ID,
			QueryID:        q.ID,
			ResponseID:     resp.ID,
			UserID:         m.UserID,
			ChannelID:      m.ChannelID,
			ThreadTS:       replyTS,
			Model:          completion.Model,
			TokensUsed:     completion.TokensUsed(),
			LatencyMs:      completion.LatencyMs,
			At:             time.Now().UTC(),
		}
		if err := s.Bus.PublishTurn(ctx, turn); err != nil {
			logger.Warn().Err(err).Msg("publish turn")
		}
	}

	logger.Info().
		Str("model", completion.Model).
		Int("tokens", completion.TokensUsed()).
		Int64("latency_ms", completion.LatencyMs).
		Int("history", len(history)).
		Msg("answered")
}

func (s *AgentService) complete(ctx context.Context, prompt string) (*llm.Completion, error) {
	provider := s.AI.Name()
	ctx, span := observability.Tracer().Start(ctx, "llm.Complete", trace.WithAttributes(attribute.String("ai.provider", provider)))
	defer span.End()

	start := time.Now()
	c, err := s.AI.Complete(ctx, llm.Request{System: s.systemPrompt(), Prompt: prompt})
	observability.AILatency.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.AIRequests.WithLabelValues(provider, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	observability.AIRequests.WithLabelValues(provider, "ok").Inc()
	span.SetAttributes(attribute.String("ai.model", c.Model), attribute.Int("ai.tokens", c.TokensUsed()))
	return c, nil
}

// deliver turns the placeholder into text, posting a new message when there
// is no placeholder or the edit fails.
func (s *AgentService) deliver(ctx context.Context, placeholder slackbot.MessageRef, channel, threadTS, text string) (slackbot.MessageRef, error) {
	if placeholder.TS != "" {
		err := s.Reply.Update(ctx, placeholder, text)
		if err == nil {
			return placeholder, nil
		}
		log.Warn().Err(err).Str("channel", channel).Msg("update placeholder, posting instead")
	}
	ref, err := s.Reply.Post(ctx, channel, text, threadTS)
	if err != nil {
		return slackbot.MessageRef{}, fmt.Errorf("post reply: %w", err)
	}
	return ref, nil
}

func (s *AgentService) apologize(ctx context.Context, placeholder slackbot.MessageRef, channel, threadTS string) {
	if _, err := s.deliver(ctx, placeholder, channel, threadTS, ApologyMessage); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("deliver apology")
		observability.Replies.WithLabelValues(observability.ReplyFailed).Inc()
		return
	}
	observability.Replies.WithLabelValues(observability.ReplyApology).Inc()
}

func (s *AgentService) historyLimit() int {
	if s.HistoryLimit > 0 {
		return s.HistoryLimit
	}
	return DefaultHistoryLimit
}

func (s *AgentService) systemPrompt() string {
	if strings.TrimSpace(s.SystemPrompt) != "" {
		return s.SystemPrompt
	}
	return DefaultSystemPrompt
}

// HistoryMessages flattens stored turns into builder messages: each query
// followed by its response, if any.
func HistoryMessages(turns []domain.Query) []contextwindow.Message {
	out := make([]contextwindow.Message, 0, 2*len(turns))
	for _, q := range turns {
		out = append(out, contextwindow.Message{
			Role:      contextwindow.RoleUser,
			Content:   q.Content,
			CreatedAt: q.CreatedAt,
		})
		if q.Response == nil {
			continue
		}
		msg := contextwindow.Message{
			Role:      contextwindow.RoleAssistant,
			Content:   q.Response.Content,
			CreatedAt: q.Response.CreatedAt,
		}
		for _, r := range q.Response.Reactions {
			msg.Reactions = append(msg.Reactions, contextwindow.Reaction{ReactorID: r.ReactorID, Emoji: r.EmojiName})
		}
		out = append(out, msg)
	}
	return out
}

// BuildPrompt renders the context block followed by the current message.
// Histories longer than contextwindow.DefaultMaxMessages are always reduced
// by selection; only the amount loaded is configurable.
func BuildPrompt(history []contextwindow.Message, text string) string {
	block := contextwindow.Build(history, text, contextwindow.DefaultMaxMessages)
	if block == "" {
		return "User: " + text
	}
	return strings.TrimRight(block, "\n") + "\n\nUser: " + text
}
