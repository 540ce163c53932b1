package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/slack-agent/internal/admission"
	"github.com/tbourn/slack-agent/internal/eventbus"
	"github.com/tbourn/slack-agent/internal/llm"
	"github.com/tbourn/slack-agent/internal/mute"
	"github.com/tbourn/slack-agent/internal/repo"
	"github.com/tbourn/slack-agent/internal/slackbot"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:agentsvc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// ----- Fake Slack replier -----

type replyCall struct {
	Method  string
	Channel string
	TS      string // thread ts for Post, message ts otherwise
	Text    string
}

type fakeReplier struct {
	mu        sync.Mutex
	calls     []replyCall
	seq       int
	postErr   error
	updateErr error
}

func (f *fakeReplier) record(c replyCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeReplier) Post(_ context.Context, channel, text, threadTS string) (slackbot.MessageRef, error) {
	f.record(replyCall{Method: "post", Channel: channel, TS: threadTS, Text: text})
	if f.postErr != nil {
		return slackbot.MessageRef{}, f.postErr
	}
	f.mu.Lock()
	f.seq++
	ts := fmt.Sprintf("900.%04d", f.seq)
	f.mu.Unlock()
	return slackbot.MessageRef{Channel: channel, TS: ts}, nil
}

func (f *fakeReplier) Update(_ context.Context, ref slackbot.MessageRef, text string) error {
	f.record(replyCall{Method: "update", Channel: ref.Channel, TS: ref.TS, Text: text})
	return f.updateErr
}

func (f *fakeReplier) AddReaction(_ context.Context, ref slackbot.MessageRef, emoji string) error {
	f.record(replyCall{Method: "react", Channel: ref.Channel, TS: ref.TS, Text: emoji})
	return nil
}

func (f *fakeReplier) RemoveReaction(_ context.Context, ref slackbot.MessageRef, emoji string) error {
	f.record(replyCall{Method: "unreact", Channel: ref.Channel, TS: ref.TS, Text: emoji})
	return nil
}

func (f *fakeReplier) Calls() []replyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]replyCall(nil), f.calls...)
}

func (f *fakeReplier) last() replyCall {
	c := f.Calls()
	if len(c) == 0 {
		return replyCall{}
	}
	return c[len(c)-1]
}

// ----- Fake AI backend -----

type fakeAI struct {
	mu       sync.Mutex
	requests []llm.Request
	reply    func(req llm.Request) (*llm.Completion, error)
}

func (f *fakeAI) Name() string { return "fake" }

func (f *fakeAI) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(req)
	}
	return &llm.Completion{Text: "answer", Model: "fake-1", TokensIn: 10, TokensOut: 5, LatencyMs: 3}, nil
}

func (f *fakeAI) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

var errBackend = errors.New("backend unavailable")

// ----- Fake event bus -----

type fakeBus struct {
	mu     sync.Mutex
	events []eventbus.TurnEvent
}

func (b *fakeBus) PublishTurn(_ context.Context, ev eventbus.TurnEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *fakeBus) Close() {}

// ----- Harness -----

type harness struct {
	db    *gorm.DB
	store GormStore
	reply *fakeReplier
	ai    *fakeAI
	bus   *fakeBus
	mutes *mute.Registry
	svc   *AgentService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newTestDB(t)
	h := &harness{
		db:    db,
		store: GormStore{DB: db},
		reply: &fakeReplier{},
		ai:    &fakeAI{},
		bus:   &fakeBus{},
		mutes: mute.NewRegistry(),
	}
	h.svc = &AgentService{
		Filter:   admission.New(admission.Options{}),
		Mutes:    h.mutes,
		Resolver: NewResolver(h.store),
		Store:    h.store,
		AI:       h.ai,
		Reply:    h.reply,
		Bus:      h.bus,
		Reactions: &ReactionService{
			Store: h.store,
			Mutes: h.mutes,
			Reply: h.reply,
		},
	}
	return h
}
