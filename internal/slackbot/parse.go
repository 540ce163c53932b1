// Package slackbot is the Slack boundary: it turns Events API payloads into
// events.Event values, posts replies and runs the Socket Mode loop.
package slackbot

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/slack-go/slack/slackevents"

	"github.com/tbourn/slack-agent/internal/events"
)

// ErrNotCallback is returned for envelopes that carry no inner event.
var ErrNotCallback = errors.New("not an event callback")

// Message subtypes that still represent a user speaking to the bot.
var userSubtypes = map[string]bool{
	"":                 true,
	"file_share":       true,
	"thread_broadcast": true,
}

var mentionRE = regexp.MustCompile(`<@[A-Z0-9]+(\|[^>]*)?>`)

// innerExtras are inner-event fields slack-go leaves off some event types
// (app_mention carries neither files nor client_msg_id).
type innerExtras struct {
	ClientMsgID string            `json:"client_msg_id"`
	Files       []json.RawMessage `json:"files"`
}

func decodeExtras(cb *slackevents.EventsAPICallbackEvent) innerExtras {
	var x innerExtras
	if cb == nil || cb.InnerEvent == nil {
		return x
	}
	_ = json.Unmarshal(*cb.InnerEvent, &x)
	return x
}

// ParseEvent decodes a raw Events API body. Signature verification happens
// before this is called, so the legacy verification token is ignored.
func ParseEvent(body []byte) (slackevents.EventsAPIEvent, error) {
	return slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
}

// ToEvent converts a callback envelope into a pipeline event. ok is false for
// anything the agent ignores: bot traffic, edits, non-DM channel messages,
// reactions on non-messages, or events missing user/channel/ts.
func ToEvent(outer slackevents.EventsAPIEvent, botUserID string) (ev events.Event, ok bool) {
	if outer.Type != slackevents.CallbackEvent {
		return nil, false
	}
	var (
		eventID string
		extras  innerExtras
	)
	if cb, isCB := outer.Data.(*slackevents.EventsAPICallbackEvent); isCB && cb != nil {
		eventID = cb.EventID
		extras = decodeExtras(cb)
	}

	switch in := outer.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if in.BotID != "" || in.User == botUserID {
			return nil, false
		}
		ev = events.Mention{
			M: events.Meta{
				EventID:     eventID,
				ClientMsgID: extras.ClientMsgID,
				UserID:      in.User,
				ChannelID:   in.Channel,
				TS:          in.TimeStamp,
				ThreadTS:    in.ThreadTimeStamp,
			},
			Text:     StripMentions(in.Text),
			HasFiles: len(extras.Files) > 0,
		}

	case *slackevents.MessageEvent:
		if in.ChannelType != "im" || in.BotID != "" || in.User == botUserID || !userSubtypes[in.SubType] {
			return nil, false
		}
		clientMsgID := in.ClientMsgID
		if clientMsgID == "" {
			clientMsgID = extras.ClientMsgID
		}
		ev = events.DirectMessage{
			M: events.Meta{
				EventID:     eventID,
				ClientMsgID: clientMsgID,
				UserID:      in.User,
				ChannelID:   in.Channel,
				TS:          in.TimeStamp,
				ThreadTS:    in.ThreadTimeStamp,
			},
			Text:     StripMentions(in.Text),
			HasFiles: in.SubType == "file_share" || len(extras.Files) > 0,
		}

	case *slackevents.ReactionAddedEvent:
		if in.Item.Type != "message" || in.User == botUserID {
			return nil, false
		}
		ev = events.ReactionAdded{
			M: events.Meta{
				EventID:   eventID,
				UserID:    in.User,
				ChannelID: in.Item.Channel,
				TS:        in.EventTimestamp,
			},
			Reaction: in.Reaction,
			ItemTS:   in.Item.Timestamp,
		}

	case *slackevents.ReactionRemovedEvent:
		if in.Item.Type != "message" || in.User == botUserID {
			return nil, false
		}
		ev = events.ReactionRemoved{
			M: events.Meta{
				EventID:   eventID,
				UserID:    in.User,
				ChannelID: in.Item.Channel,
				TS:        in.EventTimestamp,
			},
			Reaction: in.Reaction,
			ItemTS:   in.Item.Timestamp,
		}

	default:
		return nil, false
	}

	if err := ev.Meta().Validate(); err != nil {
		return nil, false
	}
	return ev, true
}

// StripMentions removes user mention markup and trims the result.
func StripMentions(text string) string {
	return strings.TrimSpace(mentionRE.ReplaceAllString(text, ""))
}
