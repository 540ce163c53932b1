package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"gorm.io/gorm"

	"github.com/tbourn/slack-agent/internal/admission"
	"github.com/tbourn/slack-agent/internal/config"
	"github.com/tbourn/slack-agent/internal/eventbus"
	"github.com/tbourn/slack-agent/internal/llm"
	"github.com/tbourn/slack-agent/internal/mute"
	"github.com/tbourn/slack-agent/internal/observability"
	"github.com/tbourn/slack-agent/internal/repo"
	"github.com/tbourn/slack-agent/internal/services"
	"github.com/tbourn/slack-agent/internal/slackbot"
	"github.com/tbourn/slack-agent/internal/sysutil"
	"github.com/tbourn/slack-agent/internal/worker"
)

const shutdownTimeout = 15 * time.Second

// app is the fully wired agent shared by the serve and socket commands.
type app struct {
	cfg       config.Config
	db        *gorm.DB
	api       *slack.Client
	botUserID string
	dispatch  *services.Dispatcher

	pool         *worker.Pool
	bus          eventbus.Publisher
	shutdownOTel func(context.Context) error
}

// newApp connects every dependency. On error, whatever was already opened is
// released.
func newApp(ctx context.Context, cfg config.Config, api *slack.Client) (*app, error) {
	a := &app{cfg: cfg, api: api, bus: eventbus.Nop{}}
	ready := false
	defer func() {
		if !ready {
			a.close()
		}
	}()

	var err error
	a.shutdownOTel, err = observability.SetupOTel(ctx, cfg.OTEL, sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), Version))
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}

	a.db, err = repo.Open(repo.Options{
		Driver:  cfg.DBDriver,
		Path:    cfg.DBPath,
		DSN:     cfg.DBDSN,
		Tracing: cfg.OTEL.Enabled,
		Debug:   sysutil.IsTruthy(os.Getenv("DB_DEBUG")),
	})
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err = repo.AutoMigrate(a.db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	ai, err := llm.New(llm.Options{
		Provider:    cfg.AI.Provider,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		BaseURL:     cfg.AI.BaseURL,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("ai backend: %w", err)
	}

	if cfg.NATS.URL != "" {
		bus, berr := eventbus.Connect(ctx, eventbus.Config{URL: cfg.NATS.URL, Token: cfg.NATS.Token, Stream: cfg.NATS.Stream})
		if berr != nil {
			return nil, fmt.Errorf("nats: %w", berr)
		}
		a.bus = bus
	}

	replier := slackbot.NewClient(api)
	a.botUserID, err = replier.BotUserID(ctx)
	if err != nil {
		return nil, fmt.Errorf("slack auth: %w", err)
	}

	filter := admission.New(admission.Options{
		Retention:     cfg.Agent.LedgerRetention,
		SweepInterval: cfg.Agent.SweepInterval,
	})
	go filter.Run(ctx)

	mutes := mute.NewRegistry()
	store := services.GormStore{DB: a.db}
	reactions := &services.ReactionService{Store: store, Mutes: mutes, Reply: replier}
	agent := &services.AgentService{
		Filter:       filter,
		Mutes:        mutes,
		Resolver:     services.NewResolver(store),
		Store:        store,
		AI:           ai,
		Reply:        replier,
		Bus:          a.bus,
		Reactions:    reactions,
		HistoryLimit: cfg.Agent.HistoryLimit,
	}
	a.pool = worker.New(cfg.Agent.Workers, cfg.Agent.QueueSize)
	commands := &services.CommandService{
		Store:       store,
		Mutes:       mutes,
		Filter:      filter,
		Queue:       a.pool,
		MainCommand: cfg.Slack.MainCommand,
	}
	a.dispatch = services.NewDispatcher(agent, commands, a.pool)

	log.Info().
		Str("bot_user_id", a.botUserID).
		Str("ai_provider", cfg.AI.Provider).
		Str("ai_model", cfg.AI.Model).
		Int("workers", cfg.Agent.Workers).
		Bool("nats", cfg.NATS.URL != "").
		Msg("agent ready")
	ready = true
	return a, nil
}

// close drains the worker pool first so in-flight turns can still reach the
// database and the bus.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.pool != nil {
		if err := a.pool.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("worker pool did not drain")
		}
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.shutdownOTel != nil {
		if err := a.shutdownOTel(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}
}
