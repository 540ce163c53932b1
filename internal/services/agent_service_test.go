package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/slack-agent/internal/contextwindow"
	"github.com/tbourn/slack-agent/internal/domain"
	"github.com/tbourn/slack-agent/internal/events"
	"github.com/tbourn/slack-agent/internal/llm"
)

func dm(user, ts, text string) events.DirectMessage {
	return events.DirectMessage{
		M:    events.Meta{UserID: user, ChannelID: "D1", TS: ts, ClientMsgID: "cm-" + ts},
		Text: text,
	}
}

func countRows(t *testing.T, h *harness, model any) int64 {
	t.Helper()
	var n int64
	if err := h.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestHandle_AnswersAndPersists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.Handle(ctx, dm("U1", "100.1", "how do I rotate postgres credentials"))

	calls := h.reply.Calls()
	if len(calls) != 2 {
		t.Fatalf("reply calls = %+v", calls)
	}
	if calls[0].Method != "post" || calls[0].Text != ThinkingMessage || calls[0].TS != "" {
		t.Fatalf("placeholder = %+v (DMs reply top-level)", calls[0])
	}
	if calls[1].Method != "update" || calls[1].Text != "answer" || calls[1].TS != "900.0001" {
		t.Fatalf("delivery = %+v", calls[1])
	}

	var q domain.Query
	if err := h.db.Preload("Response").First(&q).Error; err != nil {
		t.Fatalf("load query: %v", err)
	}
	if q.Status != domain.QueryAnswered || q.SourceTS != "100.1" {
		t.Fatalf("query = %+v", q)
	}
	if q.Response == nil || q.Response.MessageTS == nil || *q.Response.MessageTS != "900.0001" || q.Response.TokensUsed != 15 {
		t.Fatalf("response = %+v", q.Response)
	}

	var conv domain.Conversation
	h.db.First(&conv)
	if conv.Title != "Rotate Postgres Credentials" {
		t.Fatalf("auto title = %q", conv.Title)
	}
	if len(h.bus.events) != 1 || h.bus.events[0].ConversationID != conv.ID || h.bus.events[0].TokensUsed != 15 {
		t.Fatalf("bus events = %+v", h.bus.events)
	}
	if got := h.ai.Requests()[0]; got.System != DefaultSystemPrompt || got.Prompt != "User: how do I rotate postgres credentials" {
		t.Fatalf("ai request = %+v", got)
	}
}

func TestHandle_RedeliveryIsProcessedOnce(t *testing.T) {
	h := newHarness(t)
	ev := dm("U1", "100.1", "hello")

	h.svc.Handle(context.Background(), ev)
	h.svc.Handle(context.Background(), ev)

	// Same text from another delivery path but same client message id.
	again := ev
	again.M.TS = "100.2"
	h.svc.Handle(context.Background(), again)

	if n := len(h.ai.Requests()); n != 1 {
		t.Fatalf("ai calls = %d, want 1", n)
	}
	if n := countRows(t, h, &domain.Query{}); n != 1 {
		t.Fatalf("queries = %d, want 1", n)
	}
}

func TestHandle_MutedUserGetsNoReply(t *testing.T) {
	h := newHarness(t)
	h.mutes.Mute("U1")

	h.svc.Handle(context.Background(), dm("U1", "100.1", "hello?"))

	if calls := h.reply.Calls(); len(calls) != 0 {
		t.Fatalf("muted user got reply calls: %+v", calls)
	}
	if len(h.ai.Requests()) != 0 {
		t.Fatal("muted user reached the ai backend")
	}
	if n := countRows(t, h, &domain.Conversation{}); n != 0 {
		t.Fatalf("muted user created %d conversations", n)
	}
	// The event was admitted and released: the lock is free.
	if _, _, locks := h.svc.Filter.Stats(); locks != 0 {
		t.Fatalf("locks held after muted event = %d", locks)
	}
}

func TestHandle_AIFailureReleasesLockAndMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.ai.reply = func(llm.Request) (*llm.Completion, error) { return nil, errBackend }

	h.svc.Handle(context.Background(), dm("U1", "100.1", "first"))

	if last := h.reply.last(); last.Method != "update" || last.Text != ApologyMessage {
		t.Fatalf("last reply = %+v, want apology update", last)
	}
	var q domain.Query
	h.db.First(&q)
	if q.Status != domain.QueryFailed || q.Error == nil || !strings.Contains(*q.Error, "backend unavailable") {
		t.Fatalf("failed query = %+v", q)
	}

	// The next message from the same user is admitted, not Busy.
	h.ai.reply = nil
	h.svc.Handle(context.Background(), dm("U1", "100.2", "second"))
	if n := len(h.ai.Requests()); n != 2 {
		t.Fatalf("ai calls = %d, want 2", n)
	}
	if last := h.reply.last(); last.Text != "answer" {
		t.Fatalf("second event not answered: %+v", last)
	}
	// The failed turn is not part of the context.
	if p := h.ai.Requests()[1].Prompt; strings.Contains(p, "first") {
		t.Fatalf("failed turn leaked into prompt: %q", p)
	}
}

func TestHandle_PanicReleasesLock(t *testing.T) {
	h := newHarness(t)
	h.ai.reply = func(llm.Request) (*llm.Completion, error) { panic("boom") }

	h.svc.Handle(context.Background(), dm("U1", "100.1", "first"))

	if inFlight, completed, locks := h.svc.Filter.Stats(); inFlight != 0 || locks != 0 || completed == 0 {
		t.Fatalf("after panic: inFlight=%d completed=%d locks=%d", inFlight, completed, locks)
	}
}

func TestHandle_UnsupportedContent(t *testing.T) {
	h := newHarness(t)

	withFile := dm("U1", "100.1", "see attached")
	withFile.HasFiles = true
	h.svc.Handle(context.Background(), withFile)
	h.svc.Handle(context.Background(), events.Mention{
		M:    events.Meta{UserID: "U1", ChannelID: "C1", TS: "100.2"},
		Text: "<@UBOT>",
	})

	calls := h.reply.Calls()
	if len(calls) != 2 {
		t.Fatalf("reply calls = %+v", calls)
	}
	for _, c := range calls {
		if c.Method != "post" || c.Text != UnsupportedMessage {
			t.Fatalf("unexpected call %+v", c)
		}
	}
	if calls[1].TS != "100.2" {
		t.Fatalf("mention notice not threaded: %+v", calls[1])
	}
	if n := countRows(t, h, &domain.User{}); n != 0 {
		t.Fatalf("unsupported content persisted %d users", n)
	}
}

func TestHandle_MentionWithFileUnsupported(t *testing.T) {
	h := newHarness(t)

	h.svc.Handle(context.Background(), events.Mention{
		M:        events.Meta{UserID: "U1", ChannelID: "C1", TS: "200.1", ClientMsgID: "cm-7"},
		Text:     "summarize this",
		HasFiles: true,
	})

	calls := h.reply.Calls()
	if len(calls) != 1 || calls[0].Method != "post" || calls[0].Text != UnsupportedMessage {
		t.Fatalf("reply calls = %+v", calls)
	}
	if calls[0].Channel != "C1" || calls[0].TS != "200.1" {
		t.Fatalf("notice not threaded on the mention: %+v", calls[0])
	}
	if n := len(h.ai.Requests()); n != 0 {
		t.Fatalf("ai called %d times", n)
	}
	for _, model := range []any{&domain.User{}, &domain.Conversation{}, &domain.Query{}} {
		if n := countRows(t, h, model); n != 0 {
			t.Fatalf("%T rows = %d, want 0", model, n)
		}
	}
}

func TestHandle_UpdateFailureFallsBackToPost(t *testing.T) {
	h := newHarness(t)
	h.reply.updateErr = fmt.Errorf("message_not_found")

	h.svc.Handle(context.Background(), dm("U1", "100.1", "hi"))

	last := h.reply.last()
	if last.Method != "post" || last.Text != "answer" {
		t.Fatalf("fallback = %+v", last)
	}
	var r domain.Response
	h.db.First(&r)
	if r.MessageTS == nil || *r.MessageTS != "900.0002" {
		t.Fatalf("response ts = %v, want the fallback post", r.MessageTS)
	}
}

func TestHandle_ThreadedMentionContinuity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mention := func(ts, thread, text string) events.Mention {
		return events.Mention{M: events.Meta{UserID: "U1", ChannelID: "C1", TS: ts, ThreadTS: thread}, Text: text}
	}

	// A top-level mention opens a thread on itself and is unthreaded for continuity.
	h.svc.Handle(ctx, mention("200.0", "", "deploy checklist"))
	if c := h.reply.Calls()[0]; c.TS != "200.0" {
		t.Fatalf("mention placeholder thread = %q", c.TS)
	}
	// Reply inside that thread: bound to thread 200.0.
	h.svc.Handle(ctx, mention("201.0", "200.0", "what about rollbacks"))
	h.svc.Handle(ctx, mention("202.0", "200.0", "and canaries"))
	// Another top-level mention continues the unthreaded conversation.
	h.svc.Handle(ctx, mention("300.0", "", "new question"))

	var convs []domain.Conversation
	h.db.Order("created_at ASC").Find(&convs)
	if len(convs) != 2 {
		t.Fatalf("conversations = %d, want 2 (channel + thread)", len(convs))
	}
	var channelConv, threadConv domain.Conversation
	for _, c := range convs {
		if c.ThreadTS == nil {
			channelConv = c
		} else {
			threadConv = c
		}
	}
	if threadConv.ThreadTS == nil || *threadConv.ThreadTS != "200.0" {
		t.Fatalf("thread conversation = %+v", threadConv)
	}

	var n int64
	h.db.Model(&domain.Query{}).Where("conversation_id = ?", threadConv.ID).Count(&n)
	if n != 2 {
		t.Fatalf("thread turns = %d, want 2", n)
	}
	h.db.Model(&domain.Query{}).Where("conversation_id = ?", channelConv.ID).Count(&n)
	if n != 2 {
		t.Fatalf("channel turns = %d, want 2", n)
	}

	reqs := h.ai.Requests()
	if p := reqs[2].Prompt; !strings.Contains(p, "User: what about rollbacks") || strings.Contains(p, "deploy checklist") {
		t.Fatalf("thread prompt context wrong:\n%s", p)
	}
	if p := reqs[3].Prompt; !strings.Contains(p, "User: deploy checklist") {
		t.Fatalf("channel prompt missing earlier turn:\n%s", p)
	}
}

func TestHandle_ReactionLaneNotBusy(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	entered := make(chan struct{})
	h.ai.reply = func(llm.Request) (*llm.Completion, error) {
		close(entered)
		<-release
		return &llm.Completion{Text: "slow answer", Model: "fake-1"}, nil
	}

	done := make(chan struct{})
	go func() {
		h.svc.Handle(context.Background(), dm("U1", "100.1", "slow"))
		close(done)
	}()
	<-entered

	// A second message from the same user is Busy and dropped.
	h.svc.Handle(context.Background(), dm("U1", "100.2", "impatient"))
	// A reaction for the same user/channel uses its own lane.
	h.svc.Handle(context.Background(), events.ReactionAdded{
		M: events.Meta{UserID: "U1", ChannelID: "D1", TS: "100.3"}, Reaction: "+1", ItemTS: "unknown",
	})
	if inFlight, _, _ := h.svc.Filter.Stats(); inFlight != 3 {
		t.Fatalf("in-flight keys = %d, want 3 (the slow message only)", inFlight)
	}

	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("slow handler did not finish")
	}
	if n := len(h.ai.Requests()); n != 1 {
		t.Fatalf("ai calls = %d, busy message should be dropped", n)
	}
}

func TestBuildPrompt(t *testing.T) {
	if got := BuildPrompt(nil, "hi"); got != "User: hi" {
		t.Fatalf("empty history prompt = %q", got)
	}
	hist := []contextwindow.Message{
		{Role: contextwindow.RoleUser, Content: "a"},
		{Role: contextwindow.RoleAssistant, Content: "b"},
	}
	got := BuildPrompt(hist, "c")
	if !strings.HasPrefix(got, contextwindow.Header) || !strings.HasSuffix(got, "\n\nUser: c") {
		t.Fatalf("prompt = %q", got)
	}
}

func TestBuildPrompt_SelectsAboveFifteenMessages(t *testing.T) {
	history := func(n int) []contextwindow.Message {
		out := make([]contextwindow.Message, n)
		for i := range out {
			out[i] = contextwindow.Message{Role: contextwindow.RoleUser, Content: fmt.Sprintf("note %02d", i)}
		}
		return out
	}

	if got := BuildPrompt(history(15), "ok"); strings.Contains(got, contextwindow.GapMarker) {
		t.Fatalf("15 messages should pass through:\n%s", got)
	}
	got := BuildPrompt(history(16), "ok")
	if !strings.Contains(got, contextwindow.GapMarker) || strings.Contains(got, "note 03") {
		t.Fatalf("16 messages should be reduced:\n%s", got)
	}
	if !strings.Contains(got, "note 00") || !strings.Contains(got, "note 15") {
		t.Fatalf("head or tail missing:\n%s", got)
	}
}

func TestHistoryMessages(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	turns := []domain.Query{
		{Content: "q1", CreatedAt: ts, Response: &domain.Response{
			Content: "a1", CreatedAt: ts.Add(time.Second),
			Reactions: []domain.Reaction{{ReactorID: "U1", EmojiName: "+1"}},
		}},
		{Content: "q2", CreatedAt: ts.Add(time.Minute)},
	}
	msgs := HistoryMessages(turns)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d", len(msgs))
	}
	if msgs[1].Role != contextwindow.RoleAssistant || len(msgs[1].Reactions) != 1 || msgs[1].Reactions[0].Emoji != "+1" {
		t.Fatalf("assistant message = %+v", msgs[1])
	}
	if msgs[2].Role != contextwindow.RoleUser || msgs[2].Content != "q2" {
		t.Fatalf("last = %+v", msgs[2])
	}
}
