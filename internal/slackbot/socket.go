package slackbot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/tbourn/slack-agent/internal/events"
)

// Dispatcher receives converted events and slash commands from either
// inbound transport.
type Dispatcher interface {
	// Dispatch must not block; it hands the event to the worker pool.
	Dispatch(ev events.Event)
	// Command runs a slash command and returns the ephemeral reply text.
	Command(ctx context.Context, cmd slack.SlashCommand) string
}

// EphemeralResponse is the slash command response body.
type EphemeralResponse struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

// Ephemeral builds a response only the invoking user sees.
func Ephemeral(text string) EphemeralResponse {
	return EphemeralResponse{ResponseType: "ephemeral", Text: text}
}

type acker interface {
	Ack(req socketmode.Request, payload ...interface{})
}

// SocketRunner consumes a Socket Mode connection.
type SocketRunner struct {
	client    *socketmode.Client
	ack       acker
	botUserID string
	dispatch  Dispatcher
}

// NewSocketRunner wires a Socket Mode client to d. api must carry an
// app-level token.
func NewSocketRunner(api *slack.Client, botUserID string, d Dispatcher) *SocketRunner {
	client := socketmode.New(api)
	return &SocketRunner{client: client, ack: client, botUserID: botUserID, dispatch: d}
}

// Run blocks until ctx is done or the connection fails permanently.
func (r *SocketRunner) Run(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-r.client.Events:
				if !ok {
					return
				}
				r.handle(ctx, evt)
			}
		}
	}()
	if err := r.client.RunContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("socket mode: %w", err)
	}
	return nil
}

func (r *SocketRunner) handle(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Info().Msg("socketmode connecting")
	case socketmode.EventTypeConnected:
		log.Info().Msg("socketmode connected")
	case socketmode.EventTypeConnectionError:
		log.Error().Interface("data", evt.Data).Msg("socketmode connection error")

	case socketmode.EventTypeEventsAPI:
		outer, ok := evt.Data.(slackevents.EventsAPIEvent)
		if evt.Request != nil {
			r.ack.Ack(*evt.Request)
		}
		if !ok {
			return
		}
		if ev, ok := ToEvent(outer, r.botUserID); ok {
			r.dispatch.Dispatch(ev)
		}

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			if evt.Request != nil {
				r.ack.Ack(*evt.Request)
			}
			return
		}
		text := r.dispatch.Command(ctx, cmd)
		if evt.Request != nil {
			r.ack.Ack(*evt.Request, Ephemeral(text))
		}
	}
}
