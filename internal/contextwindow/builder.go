// Package contextwindow renders a conversation's history into the text block
// sent to the AI backend ahead of the current prompt. Long histories are cut
// down to the opening exchange, the messages sharing vocabulary with the prompt
// and the most recent turns.
package contextwindow

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/tbourn/slack-agent/internal/sentiment"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Reaction struct {
	ReactorID string
	Emoji     string
}

// Message is one turn of history in chronological order.
type Message struct {
	Role      Role
	Content   string
	CreatedAt time.Time
	Reactions []Reaction
}

const (
	// DefaultMaxMessages is the largest history passed through without selection.
	DefaultMaxMessages = 15

	headCount       = 3
	keywordCount    = 5
	recentCount     = 10
	bannerThreshold = 8
	dedupeRunes     = 50
	minTokenRunes   = 4
)

const (
	Banner = "NOTE: This is an ongoing conversation and its full history is available. " +
		"Refer back to earlier exchanges when they are relevant and stay consistent with what was said before."
	Header    = "Previous conversation:"
	GapMarker = "[...]"
)

// Build renders history for prompt. maxMessages <= 0 uses DefaultMaxMessages.
// An empty history yields an empty string.
func Build(history []Message, prompt string, maxMessages int) string {
	if len(history) == 0 {
		return ""
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}

	var picked []int
	if len(history) <= maxMessages {
		picked = make([]int, len(history))
		for i := range history {
			picked[i] = i
		}
	} else {
		picked = selectIndices(history, prompt)
	}

	var b strings.Builder
	if len(history) > bannerThreshold {
		b.WriteString(Banner)
		b.WriteString("\n\n")
	}
	b.WriteString(Header)
	b.WriteByte('\n')

	prev := -1
	for _, i := range picked {
		if prev >= 0 && i > prev+1 {
			b.WriteString(GapMarker)
			b.WriteByte('\n')
		}
		writeMessage(&b, history[i])
		prev = i
	}
	return strings.TrimRight(b.String(), "\n")
}

// selectIndices returns chronologically sorted, deduplicated history indices.
func selectIndices(history []Message, prompt string) []int {
	n := len(history)
	headEnd := min(headCount, n)
	tailStart := max(n-recentCount, headEnd)

	chosen := make(map[int]struct{}, headCount+keywordCount+recentCount)
	for i := 0; i < headEnd; i++ {
		chosen[i] = struct{}{}
	}
	for i := tailStart; i < n; i++ {
		chosen[i] = struct{}{}
	}

	if words := tokens(prompt); len(words) > 0 {
		found := 0
		for i := headEnd; i < tailStart && found < keywordCount; i++ {
			if sharesToken(history[i].Content, words) {
				chosen[i] = struct{}{}
				found++
			}
		}
	}

	idx := make([]int, 0, len(chosen))
	for i := range chosen {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	seen := make(map[string]struct{}, len(idx))
	out := idx[:0]
	for _, i := range idx {
		k := string(history[i].Role) + "\x00" + prefix(history[i].Content, dedupeRunes)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, i)
	}
	return out
}

func writeMessage(b *strings.Builder, m Message) {
	if m.Role == RoleAssistant {
		b.WriteString("Assistant: ")
	} else {
		b.WriteString("User: ")
	}
	b.WriteString(m.Content)
	b.WriteByte('\n')

	if m.Role != RoleAssistant || len(m.Reactions) == 0 {
		return
	}
	names := make([]string, len(m.Reactions))
	for i, r := range m.Reactions {
		names[i] = r.Emoji
	}
	b.WriteString("[User's reaction: ")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(" - Sentiment: ")
	b.WriteString(string(sentiment.Classify(names)))
	b.WriteString("]\n")
}

func tokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(s), isSeparator) {
		if len([]rune(f)) >= minTokenRunes {
			out[f] = struct{}{}
		}
	}
	return out
}

func sharesToken(content string, words map[string]struct{}) bool {
	for _, f := range strings.FieldsFunc(strings.ToLower(content), isSeparator) {
		if _, ok := words[f]; ok {
			return true
		}
	}
	return false
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
