package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-movie-chat/internal/llm"
	"github.com/tbourn/go-movie-chat/internal/session"
)

// Summarizer folds old turns into a session's rolling summary once the
// history outgrows Budget runes.
type Summarizer struct {
	Model  Model
	Budget int
}

// Fold summarizes the oldest messages into s.Summary. A model failure puts
// the messages back so nothing is lost; the next turn tries again.
func (f *Summarizer) Fold(ctx context.Context, s *session.Session) {
	if f == nil || f.Budget <= 0 {
		return
	}
	old := s.TakeOldest(f.Budget)
	if len(old) == 0 {
		return
	}

	prompt := "Previous summary:\n" + s.Summary + "\n\nNew lines of conversation:\n" + session.Transcript(old)
	out, err := f.Model.Complete(ctx, []llm.Message{llm.System(summaryPrompt), llm.User(prompt)})
	if err != nil || out == "" {
		log.Ctx(ctx).Warn().Err(err).Str("room_id", s.RoomID).Msg("summary fold failed")
		s.Messages = append(old, s.Messages...)
		return
	}
	s.Summary = out
}
