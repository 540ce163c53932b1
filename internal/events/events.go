// Package events defines the inbound Slack events the agent reacts to as a
// closed set of variants. Payloads are validated and converted at the Slack
// boundary so nothing past it inspects untyped fields.
package events

import (
	"errors"
	"strings"
)

// Kind discriminates the Event variants.
type Kind string

const (
	KindMention         Kind = "mention"
	KindDirectMessage   Kind = "direct_message"
	KindReactionAdded   Kind = "reaction_added"
	KindReactionRemoved Kind = "reaction_removed"
)

// Lane separates message handling from reaction bookkeeping for the per-user lock.
//
// The lock is keyed by (user, channel, lane), so a reaction never comes back
// Busy while the same user's message in that channel is being answered.
// Messages still serialize per (user, channel) on LaneMessage, which is what
// keeps one answer at a time per conversation. Reaction handling only touches
// its own reaction rows and the reacted reply, never the conversation's turns.
type Lane string

const (
	LaneMessage  Lane = "message"
	LaneReaction Lane = "reaction"
)

var (
	ErrMissingUser    = errors.New("event has no user")
	ErrMissingChannel = errors.New("event has no channel")
	ErrMissingTS      = errors.New("event has no timestamp")
)

// Meta carries the platform identifiers shared by every variant.
type Meta struct {
	EventID     string // envelope id, informational only
	ClientMsgID string // optional, set by Slack clients on user-authored messages
	UserID      string
	ChannelID   string
	TS          string
	ThreadTS    string // empty when the event is not inside a thread
}

// Validate rejects events the pipeline cannot route.
func (m Meta) Validate() error {
	switch {
	case strings.TrimSpace(m.UserID) == "":
		return ErrMissingUser
	case strings.TrimSpace(m.ChannelID) == "":
		return ErrMissingChannel
	case strings.TrimSpace(m.TS) == "":
		return ErrMissingTS
	}
	return nil
}

// Event is implemented by Mention, DirectMessage, ReactionAdded and ReactionRemoved.
type Event interface {
	Kind() Kind
	Meta() Meta
	Lane() Lane
	Keys() Keys

	sealed()
}

// Mention is an app_mention in a channel.
type Mention struct {
	M        Meta
	Text     string
	HasFiles bool
}

// DirectMessage is a message in an IM channel with the bot.
type DirectMessage struct {
	M        Meta
	Text     string
	HasFiles bool
}

// ReactionAdded is a reaction placed on a message. ItemTS is the reacted-to
// message; M.TS is the reaction's own event timestamp.
type ReactionAdded struct {
	M        Meta
	Reaction string
	ItemTS   string
}

// ReactionRemoved mirrors ReactionAdded.
type ReactionRemoved struct {
	M        Meta
	Reaction string
	ItemTS   string
}

func (e Mention) Kind() Kind         { return KindMention }
func (e DirectMessage) Kind() Kind   { return KindDirectMessage }
func (e ReactionAdded) Kind() Kind   { return KindReactionAdded }
func (e ReactionRemoved) Kind() Kind { return KindReactionRemoved }

func (e Mention) Meta() Meta         { return e.M }
func (e DirectMessage) Meta() Meta   { return e.M }
func (e ReactionAdded) Meta() Meta   { return e.M }
func (e ReactionRemoved) Meta() Meta { return e.M }

func (Mention) Lane() Lane         { return LaneMessage }
func (DirectMessage) Lane() Lane   { return LaneMessage }
func (ReactionAdded) Lane() Lane   { return LaneReaction }
func (ReactionRemoved) Lane() Lane { return LaneReaction }

func (e Mention) Keys() Keys       { return messageKeys(e.M) }
func (e DirectMessage) Keys() Keys { return messageKeys(e.M) }
func (e ReactionAdded) Keys() Keys {
	return reactionKeys(e.M, "+"+e.Reaction, e.ItemTS)
}
func (e ReactionRemoved) Keys() Keys {
	return reactionKeys(e.M, "-"+e.Reaction, e.ItemTS)
}

func (Mention) sealed()         {}
func (DirectMessage) sealed()   {}
func (ReactionAdded) sealed()   {}
func (ReactionRemoved) sealed() {}

// Message returns the text and file flag of a message variant.
func Message(ev Event) (text string, hasFiles bool, ok bool) {
	switch e := ev.(type) {
	case Mention:
		return e.Text, e.HasFiles, true
	case DirectMessage:
		return e.Text, e.HasFiles, true
	}
	return "", false, false
}

// ContinuityThread returns the thread timestamp that should scope the
// conversation. A message that opened a thread on itself (ThreadTS == TS)
// is treated as unthreaded.
func ContinuityThread(m Meta) string {
	if m.ThreadTS == "" || m.ThreadTS == m.TS {
		return ""
	}
	return m.ThreadTS
}

// ReplyThread returns the timestamp replies to ev should be threaded under.
// Mentions always answer in a thread; direct messages only when already threaded.
func ReplyThread(ev Event) string {
	m := ev.Meta()
	if m.ThreadTS != "" {
		return m.ThreadTS
	}
	if ev.Kind() == KindMention {
		return m.TS
	}
	return ""
}
