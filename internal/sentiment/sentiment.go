// Package sentiment maps Slack emoji reactions to a coarse feedback label.
package sentiment

import "strings"

// Label is the aggregate sentiment of a set of reactions.
type Label string

const (
	None     Label = ""
	Positive Label = "positive"
	Negative Label = "negative"
	Neutral  Label = "neutral"
	Mixed    Label = "mixed"
)

// The three vocabularies are disjoint.
var (
	positive = set(
		"+1", "thumbsup", "heart", "hearts", "heart_eyes", "smile", "smiley", "grinning",
		"joy", "tada", "clap", "raised_hands", "pray", "star", "star2", "star-struck",
		"fire", "100", "rocket", "white_check_mark", "heavy_check_mark", "ok_hand",
		"muscle", "sparkles", "sunglasses", "partying_face", "slightly_smiling_face", "bulb",
	)
	negative = set(
		"-1", "thumbsdown", "x", "heavy_multiplication_x", "disappointed", "rage", "angry",
		"confused", "cry", "sob", "frowning", "slightly_frowning_face", "white_frowning_face",
		"unamused", "face_palm", "facepalm", "broken_heart", "no_entry", "no_entry_sign",
		"warning", "poop", "hankey", "weary", "tired_face", "persevere", "triumph",
	)
	neutral = set(
		"eyes", "thinking_face", "neutral_face", "expressionless", "shrug", "raised_eyebrow",
		"face_with_raised_eyebrow", "hmm", "memo", "question", "grey_question", "wave",
		"ok", "point_up", "hourglass", "hourglass_flowing_sand", "bookmark", "pushpin",
	)
)

func set(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// Normalize strips surrounding colons and skin-tone modifiers:
// ":+1::skin-tone-3:" becomes "+1".
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.Trim(n, ":")
	if i := strings.Index(n, "::skin-tone-"); i >= 0 {
		n = n[:i]
	}
	return n
}

// Of classifies a single emoji. Unknown emoji yield None.
func Of(name string) Label {
	n := Normalize(name)
	switch {
	case in(positive, n):
		return Positive
	case in(negative, n):
		return Negative
	case in(neutral, n):
		return Neutral
	}
	return None
}

// Classify aggregates reactions. Positive or negative wins on a strict majority;
// a tie resolves to Neutral only when a neutral reaction is present, else Mixed.
func Classify(names []string) Label {
	if len(names) == 0 {
		return None
	}
	var pos, neg, neu int
	for _, name := range names {
		switch Of(name) {
		case Positive:
			pos++
		case Negative:
			neg++
		case Neutral:
			neu++
		}
	}
	switch {
	case pos > neg:
		return Positive
	case neg > pos:
		return Negative
	case neu > 0:
		return Neutral
	}
	return Mixed
}

func in(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}
