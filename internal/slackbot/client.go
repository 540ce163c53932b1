package slackbot

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// MaxMessageRunes is Slack's hard limit on message text.
const MaxMessageRunes = 40000

const (
	truncatedSuffix = "\n…(truncated)"
	maxAttempts     = 3
)

// MessageRef identifies a posted message.
type MessageRef struct {
	Channel string
	TS      string
}

// Replier is the outbound surface the services depend on.
type Replier interface {
	Post(ctx context.Context, channel, text, threadTS string) (MessageRef, error)
	Update(ctx context.Context, ref MessageRef, text string) error
	AddReaction(ctx context.Context, ref MessageRef, emoji string) error
	RemoveReaction(ctx context.Context, ref MessageRef, emoji string) error
}

// Client implements Replier on top of the Slack Web API.
type Client struct {
	api   *slack.Client
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient wraps api.
func NewClient(api *slack.Client) *Client {
	return &Client{api: api, sleep: sleepWithContext}
}

// BotUserID resolves the bot's own user id so its messages can be ignored.
func (c *Client) BotUserID(ctx context.Context) (string, error) {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return "", err
	}
	return resp.UserID, nil
}

// Post sends text to channel, threaded under threadTS when it is set. The
// returned ref carries the channel and ts Slack assigned.
func (c *Client) Post(ctx context.Context, channel, text, threadTS string) (MessageRef, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(Clip(text), false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	var ref MessageRef
	err := c.retry(ctx, "chat.postMessage", func() error {
		ch, ts, err := c.api.PostMessageContext(ctx, channel, opts...)
		ref = MessageRef{Channel: ch, TS: ts}
		return err
	})
	return ref, err
}

// Update replaces the text of a message posted earlier.
func (c *Client) Update(ctx context.Context, ref MessageRef, text string) error {
	return c.retry(ctx, "chat.update", func() error {
		_, _, _, err := c.api.UpdateMessageContext(ctx, ref.Channel, ref.TS, slack.MsgOptionText(Clip(text), false))
		return err
	})
}

func (c *Client) AddReaction(ctx context.Context, ref MessageRef, emoji string) error {
	return c.retry(ctx, "reactions.add", func() error {
		err := c.api.AddReactionContext(ctx, emoji, slack.NewRefToMessage(ref.Channel, ref.TS))
		if isSlackError(err, "already_reacted") {
			return nil
		}
		return err
	})
}

func (c *Client) RemoveReaction(ctx context.Context, ref MessageRef, emoji string) error {
	return c.retry(ctx, "reactions.remove", func() error {
		err := c.api.RemoveReactionContext(ctx, emoji, slack.NewRefToMessage(ref.Channel, ref.TS))
		if isSlackError(err, "no_reaction") {
			return nil
		}
		return err
	})
}

// retry runs call up to maxAttempts times, backing off on rate limits and
// server errors.
func (c *Client) retry(ctx context.Context, method string, call func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = call(); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		wait, retryable := retryDelay(err, attempt)
		if !retryable {
			break
		}
		log.Warn().Err(err).Str("method", method).Int("attempt", attempt).Dur("wait", wait).Msg("slack call failed, retrying")
		if serr := c.sleep(ctx, wait); serr != nil {
			return serr
		}
	}
	return err
}

func retryDelay(err error, attempt int) (time.Duration, bool) {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		if rl.RetryAfter <= 0 {
			return time.Second, true
		}
		return rl.RetryAfter, true
	}
	var sc slack.StatusCodeError
	if errors.As(err, &sc) && sc.Code >= 500 && sc.Code <= 599 {
		switch attempt {
		case 1:
			return 300 * time.Millisecond, true
		case 2:
			return time.Second, true
		default:
			return 2 * time.Second, true
		}
	}
	return 0, false
}

func isSlackError(err error, code string) bool {
	return err != nil && strings.Contains(err.Error(), code)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Clip shortens text to Slack's message limit.
func Clip(text string) string {
	if utf8.RuneCountInString(text) <= MaxMessageRunes {
		return text
	}
	keep := MaxMessageRunes - utf8.RuneCountInString(truncatedSuffix)
	r := []rune(text)
	return string(r[:keep]) + truncatedSuffix
}
