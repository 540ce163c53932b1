package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/slack-agent/internal/events"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newFilter() (*Filter, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New(Options{Now: clk.Now}), clk
}

func dm(user, ch, ts string) events.DirectMessage {
	return events.DirectMessage{M: events.Meta{UserID: user, ChannelID: ch, TS: ts}, Text: "hi"}
}

func TestAdmit_RedeliveryBeforeAndAfterRelease(t *testing.T) {
	f, _ := newFilter()
	ev := dm("U1", "D1", "100.1")

	tk, res := f.Admit(ev)
	if res != Admitted {
		t.Fatalf("first admit = %v", res)
	}
	if _, res := f.Admit(ev); res != Duplicate {
		t.Fatalf("redelivery while in flight = %v, want duplicate", res)
	}
	f.Release(tk)
	if _, res := f.Admit(ev); res != Duplicate {
		t.Fatalf("redelivery after release = %v, want duplicate", res)
	}
}

func TestAdmit_AnyKeyMatchIsDuplicate(t *testing.T) {
	f, _ := newFilter()
	first := events.Mention{M: events.Meta{ClientMsgID: "abc", UserID: "U1", ChannelID: "C1", TS: "1.0"}}
	tk, _ := f.Admit(first)
	f.Release(tk)

	// Same client id, different ts (Slack varies which identifiers are populated).
	retry := events.Mention{M: events.Meta{ClientMsgID: "abc", UserID: "U1", ChannelID: "C1", TS: "9.9"}}
	if _, res := f.Admit(retry); res != Duplicate {
		t.Fatalf("client-id match = %v, want duplicate", res)
	}
	// No client id but same channel+ts.
	bare := events.Mention{M: events.Meta{UserID: "U2", ChannelID: "C1", TS: "1.0"}}
	if _, res := f.Admit(bare); res != Duplicate {
		t.Fatalf("channel+ts match = %v, want duplicate", res)
	}
}

func TestAdmit_BusySameUserChannel(t *testing.T) {
	f, _ := newFilter()
	tk, _ := f.Admit(dm("U1", "D1", "1.0"))

	if _, res := f.Admit(dm("U1", "D1", "2.0")); res != Busy {
		t.Fatalf("second message while locked = %v, want busy", res)
	}
	// Busy leaves no ledger trace.
	in, done, locks := f.Stats()
	if in != 2 || done != 0 || locks != 1 {
		t.Fatalf("stats after busy = %d/%d/%d", in, done, locks)
	}
	// Other channel and other user are independent.
	if _, res := f.Admit(dm("U1", "D2", "3.0")); res != Admitted {
		t.Fatalf("other channel = %v", res)
	}
	if _, res := f.Admit(dm("U2", "D1", "4.0")); res != Admitted {
		t.Fatalf("other user = %v", res)
	}

	f.Release(tk)
	if _, res := f.Admit(dm("U1", "D1", "2.0")); res != Admitted {
		t.Fatalf("after release = %v, want admitted", res)
	}
}

func TestAdmit_ReactionLaneIndependentOfMessageLane(t *testing.T) {
	f, _ := newFilter()
	if _, res := f.Admit(dm("U1", "C1", "1.0")); res != Admitted {
		t.Fatalf("message = %v", res)
	}
	r := events.ReactionAdded{M: events.Meta{UserID: "U1", ChannelID: "C1", TS: "2.0"}, Reaction: "+1", ItemTS: "1.5"}
	if _, res := f.Admit(r); res != Admitted {
		t.Fatalf("reaction while message in flight = %v", res)
	}
}

func TestRelease_IdempotentAndZeroTicket(t *testing.T) {
	f, _ := newFilter()
	f.Release(Ticket{})

	tk, _ := f.Admit(dm("U1", "D1", "1.0"))
	f.Release(tk)
	tk2, res := f.Admit(dm("U1", "D1", "2.0"))
	if res != Admitted {
		t.Fatalf("admit = %v", res)
	}
	// A stale release must not unlock the newer holder.
	f.Release(tk)
	if _, res := f.Admit(dm("U1", "D1", "3.0")); res != Busy {
		t.Fatalf("stale release unlocked the pair: %v", res)
	}
	f.Release(tk2)
}

func TestSweep_RetentionExpiry(t *testing.T) {
	f, clk := newFilter()
	ev := dm("U1", "D1", "1.0")
	tk, _ := f.Admit(ev)
	f.Release(tk)

	clk.Advance(4*time.Minute + 59*time.Second)
	if n := f.Sweep(); n != 0 {
		t.Fatalf("swept %d before retention", n)
	}
	if _, res := f.Admit(ev); res != Duplicate {
		t.Fatalf("before expiry = %v", res)
	}

	clk.Advance(time.Second)
	if n := f.Sweep(); n != 2 {
		t.Fatalf("swept %d at expiry, want 2", n)
	}
	if _, res := f.Admit(ev); res != Admitted {
		t.Fatalf("after expiry = %v, want admitted", res)
	}
}

func TestSweep_NeverRemovesInFlight(t *testing.T) {
	f, clk := newFilter()
	ev := dm("U1", "D1", "1.0")
	f.Admit(ev)

	clk.Advance(time.Hour)
	if n := f.Sweep(); n != 0 {
		t.Fatalf("swept in-flight entries: %d", n)
	}
	if _, res := f.Admit(ev); res != Duplicate {
		t.Fatalf("stuck in-flight key re-admitted: %v", res)
	}
}

func TestAdmit_ConcurrentRedeliveriesAdmitOnce(t *testing.T) {
	f, _ := newFilter()
	ev := dm("U1", "D1", "1.0")

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, res := f.Admit(ev); res == Admitted {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if admitted != 1 {
		t.Fatalf("admitted %d times, want 1", admitted)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := New(Options{SweepInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { f.Run(ctx); close(done) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestResultString(t *testing.T) {
	if Admitted.String() != "admitted" || Duplicate.String() != "duplicate" || Busy.String() != "busy" || Result(9).String() != "unknown" {
		t.Fatalf("unexpected Result strings")
	}
}
