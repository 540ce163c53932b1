// Package services – Dispatcher
//
// This file connects the inbound transports (HTTP Events API and socket mode)
// to the worker pool and the command service.
package services

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/tbourn/slack-agent/internal/events"
	"github.com/tbourn/slack-agent/internal/observability"
	"github.com/tbourn/slack-agent/internal/worker"
)

// Dispatcher feeds both inbound transports into the agent. Events are queued
// on the worker pool so the transport can acknowledge Slack at once; slash
// commands run inline since Slack waits for their reply.
type Dispatcher struct {
	Agent    *AgentService
	Commands *CommandService
	Pool     *worker.Pool
}

// NewDispatcher wires the pool's queue depth into the metrics gauge.
func NewDispatcher(agent *AgentService, commands *CommandService, pool *worker.Pool) *Dispatcher {
	pool.OnDepth = func(n int) { observability.QueueDepth.Set(float64(n)) }
	return &Dispatcher{Agent: agent, Commands: commands, Pool: pool}
}

// Dispatch never blocks. A full or stopped queue drops the event; Slack does
// not redeliver events that were acknowledged.
func (d *Dispatcher) Dispatch(ev events.Event) {
	err := d.Pool.Submit(func(ctx context.Context) { d.Agent.Handle(ctx, ev) })
	if err == nil {
		return
	}
	m := ev.Meta()
	observability.Admissions.WithLabelValues("dropped").Inc()
	log.Warn().
		Err(err).
		Str("kind", string(ev.Kind())).
		Str("user", m.UserID).
		Str("channel", m.ChannelID).
		Str("ts", m.TS).
		Int("queue_depth", d.Pool.Depth()).
		Msg("event dropped")
}

// Command runs a slash command and returns the ephemeral reply.
func (d *Dispatcher) Command(ctx context.Context, sc slack.SlashCommand) string {
	return d.Commands.Execute(ctx, Command{
		Name:      sc.Command,
		Text:      sc.Text,
		UserID:    sc.UserID,
		ChannelID: sc.ChannelID,
	})
}
