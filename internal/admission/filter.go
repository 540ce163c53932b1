// Package admission decides whether an inbound event may be processed.
//
// A Filter remembers every dedupe key it has seen (in-flight or completed) for a
// retention window and serializes processing per (user, channel, lane). Admit is
// a single critical section: the ledger check, the lock check and the marking
// happen under one mutex, so two concurrent redeliveries can never both pass.
package admission

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/slack-agent/internal/events"
)

// Result is the outcome of Admit.
type Result int

const (
	// Admitted events hold the lock for their lane until the ticket is released.
	Admitted Result = iota
	// Duplicate events were already seen within the retention window.
	Duplicate
	// Busy events arrived while the same user held the lock in that channel and lane.
	Busy
)

func (r Result) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case Duplicate:
		return "duplicate"
	case Busy:
		return "busy"
	}
	return "unknown"
}

const (
	DefaultRetention     = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

type state uint8

const (
	inFlight state = iota + 1
	completed
)

type entry struct {
	state       state
	completedAt time.Time
}

type lockKey struct {
	user    string
	channel string
	lane    events.Lane
}

// Ticket is returned by a successful Admit and must be passed to Release.
type Ticket struct {
	lock lockKey
	keys events.Keys
	id   uint64
}

// Options configures a Filter. Zero values fall back to defaults.
type Options struct {
	Retention     time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

// Filter is the process-wide admission state. Construct one with New and share it.
type Filter struct {
	mu       sync.Mutex
	ledger   map[string]entry
	locks    map[lockKey]uint64
	nextID   uint64
	now      func() time.Time
	retain   time.Duration
	interval time.Duration
}

// New returns an empty Filter. Call Run to start the periodic ledger sweep.
func New(opts Options) *Filter {
	f := &Filter{
		ledger:   make(map[string]entry),
		locks:    make(map[lockKey]uint64),
		now:      opts.Now,
		retain:   opts.Retention,
		interval: opts.SweepInterval,
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.retain <= 0 {
		f.retain = DefaultRetention
	}
	if f.interval <= 0 {
		f.interval = DefaultSweepInterval
	}
	return f
}

// Admit checks ev against the ledger and the per-user lock. Duplicate and Busy
// leave no trace; only Admitted mutates state.
func (f *Filter) Admit(ev events.Event) (Ticket, Result) {
	m := ev.Meta()
	keys := ev.Keys()
	lk := lockKey{user: m.UserID, channel: m.ChannelID, lane: ev.Lane()}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, seen := f.ledger[k]; seen {
			return Ticket{}, Duplicate
		}
	}
	if _, held := f.locks[lk]; held {
		return Ticket{}, Busy
	}

	f.nextID++
	f.locks[lk] = f.nextID
	keys.Each(func(k string) { f.ledger[k] = entry{state: inFlight} })
	return Ticket{lock: lk, keys: keys, id: f.nextID}, Admitted
}

// Release unlocks the ticket's (user, channel, lane) and marks its keys completed.
// Releasing the same ticket twice is a no-op.
func (f *Filter) Release(t Ticket) {
	if t.id == 0 {
		return
	}
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	if owner, ok := f.locks[t.lock]; ok && owner == t.id {
		delete(f.locks, t.lock)
	}
	t.keys.Each(func(k string) {
		if e, ok := f.ledger[k]; ok && e.state == inFlight {
			f.ledger[k] = entry{state: completed, completedAt: now}
		}
	})
}

// Sweep drops completed entries older than the retention window and returns how
// many were removed. In-flight entries are kept regardless of age.
func (f *Filter) Sweep() int {
	cutoff := f.now().Add(-f.retain)

	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for k, e := range f.ledger {
		if e.state == completed && !e.completedAt.After(cutoff) {
			delete(f.ledger, k)
			n++
		}
	}
	return n
}

// Run sweeps on every interval tick until ctx is done.
func (f *Filter) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := f.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("admission ledger swept")
			}
		}
	}
}

// Stats reports the ledger and lock sizes.
func (f *Filter) Stats() (inFlightKeys, completedKeys, locks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.ledger {
		if e.state == inFlight {
			inFlightKeys++
		} else {
			completedKeys++
		}
	}
	return inFlightKeys, completedKeys, len(f.locks)
}
