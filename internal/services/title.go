// Package services – titles
//
// This file derives compact conversation titles from the first user message.
package services

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	defaultTitleMaxLen = 60
	titleMaxWords      = 8
)

// Unicode letters with optional trailing numbers (e.g., "gwi2025").
var titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

// Minimal English stop-words set for compact titles.
var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
	"i": {}, "me": {}, "my": {}, "you": {}, "can": {}, "please": {}, "what": {}, "how": {},
	"do": {}, "does": {},
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// titleFromPrompt derives a short title-cased title from a user's first message.
func titleFromPrompt(prompt string, locale language.Tag, maxLen int) string {
	toks := titleWordRE.FindAllString(strings.ToLower(strings.TrimSpace(prompt)), -1)
	if len(toks) == 0 {
		return ""
	}
	if locale == language.Und {
		locale = language.English
	}
	caser := cases.Title(locale)
	out := make([]string, 0, titleMaxWords)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, caser.String(w))
		if len(out) >= titleMaxWords {
			break
		}
	}
	return clipRunes(strings.Join(out, " "), maxLen)
}

// normalizeTitle trims whitespace and collapses runs of it to one space.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

func clipRunes(s string, max int) string {
	if max <= 0 {
		max = defaultTitleMaxLen
	}
	if utf8.RuneCountInString(s) > max {
		return strings.TrimSpace(string([]rune(s)[:max]))
	}
	return s
}
