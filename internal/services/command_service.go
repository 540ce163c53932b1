// Package services – CommandService
//
// This file implements the slash command surface: help, clear, new, delete,
// mute, unmute and stats. Commands run outside admission so a muted user can
// always unmute, and every reply is plain text rendered ephemerally by the
// transport.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/slack-agent/internal/admission"
	"github.com/tbourn/slack-agent/internal/domain"
	"github.com/tbourn/slack-agent/internal/mute"
	"github.com/tbourn/slack-agent/internal/repo"
	"github.com/tbourn/slack-agent/internal/worker"
)

// Command is a parsed slash command invocation.
type Command struct {
	Name      string // e.g. "/assistant" or "/clear"
	Text      string
	UserID    string
	ChannelID string
}

// CommandService implements the slash command surface. Commands are not
// subject to admission or the mute check.
type CommandService struct {
	Store       Store
	Mutes       *mute.Registry
	Filter      *admission.Filter
	Queue       *worker.Pool // optional; reported by stats
	MainCommand string
}

const helpText = "*Available commands*\n" +
	"• `help` show this message\n" +
	"• `clear` forget the history of the current conversation in this channel\n" +
	"• `new` start a fresh conversation in this channel\n" +
	"• `delete` delete all your conversations in this channel\n" +
	"• `mute` stop replying to you\n" +
	"• `unmute` resume replying to you\n" +
	"• `stats` show your usage"

// Subcommand extracts the subcommand: the first word of the text for the
// main command, otherwise the command name without its slash.
func (s *CommandService) Subcommand(cmd Command) (sub, rest string) {
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	if name == strings.ToLower(s.MainCommand) || name == "" {
		fields := strings.Fields(cmd.Text)
		if len(fields) == 0 {
			return "help", ""
		}
		return strings.ToLower(fields[0]), strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(cmd.Text), fields[0]))
	}
	return strings.TrimPrefix(name, "/"), strings.TrimSpace(cmd.Text)
}

// Execute runs cmd and returns the ephemeral reply text.
func (s *CommandService) Execute(ctx context.Context, cmd Command) string {
	sub, _ := s.Subcommand(cmd)
	logger := log.With().Str("command", sub).Str("user", cmd.UserID).Str("channel", cmd.ChannelID).Logger()

	var (
		reply string
		err   error
	)
	switch sub {
	case "help":
		reply = helpText
	case "mute":
		s.Mutes.Mute(cmd.UserID)
		reply = "Muted. I won't reply to your messages until you run `unmute`."
	case "unmute":
		if s.Mutes.Unmute(cmd.UserID) {
			reply = "Unmuted. I'm listening again."
		} else {
			reply = "You weren't muted."
		}
	case "clear":
		reply, err = s.clear(ctx, cmd)
	case "new":
		reply, err = s.archive(ctx, cmd)
	case "delete":
		reply, err = s.delete(ctx, cmd)
	case "stats":
		reply, err = s.stats(ctx, cmd)
	default:
		reply = fmt.Sprintf("Unknown command `%s`.\n\n%s", sub, helpText)
	}
	if err != nil {
		logger.Error().Err(err).Msg("command failed")
		return "Sorry, that command failed. Please try again."
	}
	logger.Info().Msg("command executed")
	return reply
}

func (s *CommandService) clear(ctx context.Context, cmd Command) (string, error) {
	user, err := s.Store.FindUser(ctx, domain.PlatformSlack, cmd.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return "There is no conversation to clear here.", nil
	}
	if err != nil {
		return "", err
	}
	conv, err := s.Store.FindLatestChannelConversation(ctx, user.ID, cmd.ChannelID)
	if errors.Is(err, repo.ErrNotFound) {
		return "There is no conversation to clear here.", nil
	}
	if err != nil {
		return "", err
	}
	if err := s.Store.ClearConversation(ctx, conv.ID); err != nil {
		return "", err
	}
	return "Conversation history cleared.", nil
}

func (s *CommandService) archive(ctx context.Context, cmd Command) (string, error) {
	user, err := s.Store.FindUser(ctx, domain.PlatformSlack, cmd.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return "Starting fresh. Your next message begins a new conversation.", nil
	}
	if err != nil {
		return "", err
	}
	if _, err := s.Store.ArchiveChannelConversations(ctx, user.ID, cmd.ChannelID); err != nil {
		return "", err
	}
	return "Starting fresh. Your next message begins a new conversation.", nil
}

func (s *CommandService) delete(ctx context.Context, cmd Command) (string, error) {
	user, err := s.Store.FindUser(ctx, domain.PlatformSlack, cmd.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return "You have no conversations in this channel.", nil
	}
	if err != nil {
		return "", err
	}
	n, err := s.Store.DeleteChannelConversations(ctx, user.ID, cmd.ChannelID)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "You have no conversations in this channel.", nil
	}
	return fmt.Sprintf("Deleted %d conversation(s) in this channel.", n), nil
}

func (s *CommandService) stats(ctx context.Context, cmd Command) (string, error) {
	var usage repo.Usage
	user, err := s.Store.FindUser(ctx, domain.PlatformSlack, cmd.UserID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return "", err
	default:
		if usage, err = s.Store.UserUsage(ctx, user.ID); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Your usage*\n• conversations: %d\n• messages: %d (failed: %d)\n• tokens: %d",
		usage.Conversations, usage.Queries, usage.Failed, usage.Tokens)
	if s.Mutes.IsMuted(cmd.UserID) {
		b.WriteString("\n• status: muted")
	}
	if s.Filter != nil {
		inFlight, completed, locks := s.Filter.Stats()
		fmt.Fprintf(&b, "\n*Agent*\n• in-flight events: %d\n• recently completed: %d\n• active locks: %d", inFlight, completed, locks)
	}
	if s.Queue != nil {
		fmt.Fprintf(&b, "\n• queued events: %d", s.Queue.Depth())
	}
	fmt.Fprintf(&b, "\n• muted users: %d", len(s.Mutes.List()))
	return b.String(), nil
}
