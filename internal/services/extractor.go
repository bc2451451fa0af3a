package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-movie-chat/internal/fuzzy"
	"github.com/tbourn/go-movie-chat/internal/llm"
	"github.com/tbourn/go-movie-chat/internal/session"
)

// Candidate is one movie mention with the model's confidence in it.
type Candidate struct {
	Title      string  `json:"title"`
	Year       int     `json:"year"`
	Series     int     `json:"series"`
	Confidence float64 `json:"confidence"`
}

// Hint turns the candidate's qualifiers into a fuzzy index hint.
func (c Candidate) Hint() fuzzy.Hint { return fuzzy.Hint{Year: c.Year, Series: c.Series} }

// Extractor asks the tool model which movies a text is about.
type Extractor struct {
	Model Model
	// Max caps the candidates returned by Subjects.
	Max int
}

// Subjects extracts the movies the user's message is about, most confident
// first. history gives the model the context needed for "that one" or "the
// sequel".
func (x *Extractor) Subjects(ctx context.Context, summary string, history []llm.Message, message string) ([]Candidate, error) {
	tr := otel.Tracer("services/Extractor")
	ctx, span := tr.Start(ctx, "Subjects")
	defer span.End()

	max := x.max()
	var conv strings.Builder
	if summary != "" {
		conv.WriteString("Summary: ")
		conv.WriteString(summary)
		conv.WriteString("\n")
	}
	conv.WriteString(session.Transcript(tail(history, 6)))

	raw, err := x.Model.Complete(ctx, []llm.Message{
		llm.System(fmt.Sprintf(subjectsPrompt, max)),
		llm.User("Conversation:\n" + strings.TrimSpace(conv.String()) + "\n\nLatest message:\n" + message),
	})
	if err != nil {
		return nil, err
	}
	out, err := parseCandidates(raw)
	if err != nil {
		return nil, err
	}
	if len(out) > max {
		out = out[:max]
	}
	span.SetAttributes(attribute.Int("candidates", len(out)))
	return out, nil
}

// Recommendations extracts the movies an answer recommends, in the order
// they appear. When the model call fails, the recommendation marker line
// of the answer is parsed instead.
func (x *Extractor) Recommendations(ctx context.Context, reply string) ([]Candidate, error) {
	tr := otel.Tracer("services/Extractor")
	ctx, span := tr.Start(ctx, "Recommendations", trace.WithAttributes(attribute.Int("reply.len", len(reply))))
	defer span.End()

	if strings.TrimSpace(reply) == "" {
		return nil, nil
	}
	raw, err := x.Model.Complete(ctx, []llm.Message{
		llm.System(recommendationsPrompt),
		llm.User(reply),
	})
	if err == nil {
		if out, perr := parseCandidates(raw); perr == nil {
			return out, nil
		}
	}
	out := markerCandidates(reply)
	if len(out) == 0 && err != nil {
		return nil, err
	}
	return out, nil
}

func (x *Extractor) max() int {
	if x.Max <= 0 {
		return 3
	}
	return x.Max
}

var fenceRE = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// parseCandidates accepts {"movies":[...]} or a bare array, optionally in a
// code fence. Blank titles are dropped, confidence is clamped to [0,1] and
// the result is sorted by confidence, keeping the model's order on ties.
func parseCandidates(raw string) ([]Candidate, error) {
	s := strings.TrimSpace(raw)
	if m := fenceRE.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	var list []Candidate
	if strings.HasPrefix(s, "[") {
		if err := json.Unmarshal([]byte(s), &list); err != nil {
			return nil, err
		}
	} else {
		if i := strings.IndexByte(s, '{'); i > 0 {
			s = s[i:]
		}
		if j := strings.LastIndexByte(s, '}'); j >= 0 && j < len(s)-1 {
			s = s[:j+1]
		}
		var env struct {
			Movies []Candidate `json:"movies"`
		}
		if err := json.Unmarshal([]byte(s), &env); err != nil {
			return nil, err
		}
		list = env.Movies
	}

	out := make([]Candidate, 0, len(list))
	for _, c := range list {
		c.Title = strings.TrimSpace(c.Title)
		if c.Title == "" {
			continue
		}
		c.Confidence = min(max(c.Confidence, 0), 1)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

var yearSuffixRE = regexp.MustCompile(`\s*\((\d{4})\)\s*$`)

// markerCandidates parses "[Recommendations] A, B (2021), C".
func markerCandidates(reply string) []Candidate {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		i := strings.Index(line, recommendationMarker)
		if i < 0 {
			continue
		}
		var out []Candidate
		for _, part := range strings.Split(line[i+len(recommendationMarker):], ",") {
			part = strings.Trim(strings.TrimSpace(part), "*\"'")
			if part == "" {
				continue
			}
			c := Candidate{Title: part, Confidence: 1}
			if m := yearSuffixRE.FindStringSubmatch(part); m != nil {
				fmt.Sscanf(m[1], "%d", &c.Year)
				c.Title = strings.TrimSpace(yearSuffixRE.ReplaceAllString(part, ""))
			}
			out = append(out, c)
		}
		return out
	}
	return nil
}

func tail(msgs []llm.Message, n int) []llm.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
