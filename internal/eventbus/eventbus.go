// Package eventbus publishes completed agent turns so other services can
// follow conversations without polling the database.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	DefaultStream  = "AGENT_TURNS"
	subjectPrefix  = "agent."
	subjectPattern = "agent.>"
	streamMaxAge   = 7 * 24 * time.Hour
)

// TurnEvent describes one answered user message.
type TurnEvent struct {
	ConversationID string    `json:"conversation_id"`
	QueryID        string    `json:"query_id"`
	ResponseID     string    `json:"response_id"`
	UserID         string    `json:"user_id"`
	ChannelID      string    `json:"channel_id"`
	ThreadTS       string    `json:"thread_ts,omitempty"`
	Model          string    `json:"model"`
	TokensUsed     int       `json:"tokens_used"`
	LatencyMs      int64     `json:"latency_ms"`
	At             time.Time `json:"at"`
}

// Subject is the subject a turn is published on.
func Subject(conversationID string) string {
	return subjectPrefix + conversationID + ".turn"
}

// Publisher is what the agent pipeline depends on.
type Publisher interface {
	PublishTurn(ctx context.Context, ev TurnEvent) error
	Close()
}

// Nop discards events. Used when no NATS URL is configured.
type Nop struct{}

func (Nop) PublishTurn(context.Context, TurnEvent) error { return nil }
func (Nop) Close()                                       {}

// Config holds NATS connection settings.
type Config struct {
	URL    string
	Token  string
	Stream string
}

type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATS publishes turns to a JetStream stream.
type NATS struct {
	conn *nats.Conn
	js   streamPublisher
}

// Connect dials NATS, creates the JetStream context and makes sure the turn
// stream exists.
func Connect(ctx context.Context, cfg Config) (*NATS, error) {
	opts := []nats.Option{
		nats.Name("slack-agent"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("nats error")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	name := cfg.Stream
	if name == "" {
		name = DefaultStream
	}
	if err := ensureStream(ctx, js, name); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATS{conn: nc, js: js}, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, name string) error {
	if _, err := js.Stream(ctx, name); err == nil {
		return nil
	}
	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        name,
		Description: "Answered agent turns",
		Subjects:    []string{subjectPattern},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      streamMaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	log.Info().Str("stream", name).Msg("jetstream stream created")
	return nil
}

// PublishTurn publishes ev on Subject(ev.ConversationID).
func (n *NATS) PublishTurn(ctx context.Context, ev TurnEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := n.js.Publish(ctx, Subject(ev.ConversationID), data, jetstream.WithMsgID(ev.QueryID)); err != nil {
		return fmt.Errorf("publish turn: %w", err)
	}
	return nil
}

func (n *NATS) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}
