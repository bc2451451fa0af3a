package services

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/llm"
)

// TitleGenerator names plain rooms after their first exchange.
type TitleGenerator struct {
	Model Model

	// Locale drives the casing of the heuristic fallback.
	Locale language.Tag
	MaxLen int
}

// ShouldTitle reports whether current is still the placeholder title.
func ShouldTitle(current string) bool {
	t := strings.TrimSpace(strings.ToLower(current))
	return t == "" || t == domain.DefaultRoomTitle
}

// Generate asks the model for a title; when that fails or comes back empty,
// a title is derived from the user's message.
func (g *TitleGenerator) Generate(ctx context.Context, message, answer string) string {
	if g.Model != nil {
		out, err := g.Model.Complete(ctx, []llm.Message{
			llm.System(titlePrompt),
			llm.User("User: " + message + "\nAssistant: " + answer),
		})
		if err == nil {
			if t := g.clip(normalizeTitle(strings.Trim(out, "\"'`"))); t != "" {
				return t
			}
		} else {
			log.Ctx(ctx).Warn().Err(err).Msg("title generation failed")
		}
	}
	return g.clip(g.fromPrompt(message))
}

// fromPrompt title-cases the first content words of the message.
func (g *TitleGenerator) fromPrompt(prompt string) string {
	toks := titleWordRE.FindAllString(strings.ToLower(strings.TrimSpace(prompt)), -1)
	if len(toks) == 0 {
		return ""
	}
	caser := cases.Title(g.locale())
	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, caser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	return strings.Join(out, " ")
}

func (g *TitleGenerator) clip(title string) string {
	return clipRunes(title, g.MaxLen)
}

func (g *TitleGenerator) locale() language.Tag {
	if g.Locale == language.Und {
		return language.Korean
	}
	return g.Locale
}

// clipRunes truncates s to max runes; 60 when max is unset.
func clipRunes(s string, max int) string {
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(s) > max {
		return string([]rune(s)[:max])
	}
	return s
}

// normalizeTitle trims whitespace and collapses runs of it to one space.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

var (
	whitespaceRE = regexp.MustCompile(`\s+`)
	// letters with optional trailing digits, e.g. "매트릭스2"
	titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)
)

var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
	"영화": {}, "그": {}, "좀": {}, "어때": {},
}
