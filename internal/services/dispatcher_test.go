package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/slack-go/slack"

	"github.com/tbourn/slack-agent/internal/observability"
	"github.com/tbourn/slack-agent/internal/worker"
)

func TestDispatcher_RunsEventsOnPool(t *testing.T) {
	h := newHarness(t)
	pool := worker.New(1, 4)
	d := NewDispatcher(h.svc, newCommands(h), pool)

	d.Dispatch(dm("U1", "100.1", "what is our on-call rotation"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if n := len(h.ai.Requests()); n != 1 {
		t.Fatalf("AI requests = %d, want 1", n)
	}
	if got := testutil.ToFloat64(observability.QueueDepth); got != 0 {
		t.Fatalf("queue depth gauge = %v", got)
	}
}

func TestDispatcher_DropsWhenStopped(t *testing.T) {
	h := newHarness(t)
	pool := worker.New(1, 1)
	d := NewDispatcher(h.svc, newCommands(h), pool)
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	before := testutil.ToFloat64(observability.Admissions.WithLabelValues("dropped"))
	d.Dispatch(dm("U1", "100.1", "hello"))
	if got := testutil.ToFloat64(observability.Admissions.WithLabelValues("dropped")); got != before+1 {
		t.Fatalf("dropped = %v, want %v", got, before+1)
	}
	if len(h.reply.Calls()) != 0 {
		t.Fatalf("dropped event produced replies")
	}
}

func TestDispatcher_Command(t *testing.T) {
	h := newHarness(t)
	pool := worker.New(1, 1)
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })
	d := NewDispatcher(h.svc, newCommands(h), pool)

	got := d.Command(context.Background(), slack.SlashCommand{Command: "/assistant", Text: "mute", UserID: "U7", ChannelID: "C1"})
	if !strings.HasPrefix(got, "Muted") || !h.mutes.IsMuted("U7") {
		t.Fatalf("mute via dispatcher = %q muted=%v", got, h.mutes.IsMuted("U7"))
	}
}
