// Package services – Engine
//
// Engine runs one conversation turn and reports its progress as an ordered
// event sequence. Plain rooms extract the movies a message is about, resolve
// them through the title resolver, gather reference material into the room's
// context store and stream an answer; immersive rooms stream an answer in the
// voice of the room's character.
//
// Every turn holds the room's session lock for its whole duration, so turns
// on the same room never interleave. The channel returned by HandleTurn is
// always closed after a finish signal; a failure emits an error event just
// before it.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-chat/internal/config"
	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/events"
	"github.com/tbourn/go-movie-chat/internal/fuzzy"
	"github.com/tbourn/go-movie-chat/internal/llm"
	"github.com/tbourn/go-movie-chat/internal/queue"
	"github.com/tbourn/go-movie-chat/internal/repo"
	"github.com/tbourn/go-movie-chat/internal/resolver"
	"github.com/tbourn/go-movie-chat/internal/search"
	"github.com/tbourn/go-movie-chat/internal/session"
)

// Engine answers chat messages.
type Engine struct {
	DB        *gorm.DB
	Model     Model
	Resolver  TitleResolver
	Extractor *Extractor
	Enricher  *Enricher
	Sessions  session.Store
	Contexts  *session.IndexCache
	Titles    *TitleGenerator
	Summary   *Summarizer

	// Jobs receives deferred enrichment; nil disables it.
	Jobs JobPublisher

	Policy         config.ResolverConfig
	MaxPromptRunes int
}

// TurnRequest is one user message for a room.
type TurnRequest struct {
	RoomID  string
	UserID  string
	Message string

	// OnComplete, when set, is called with the outcome before the event
	// channel closes.
	OnComplete func(TurnResult, error)
}

// TurnResult is what a completed turn persisted.
type TurnResult struct {
	History     *domain.ChatHistory
	Recommended []uint
	Title       string
}

// ValidateMessage trims msg and enforces the prompt limits.
func (e *Engine) ValidateMessage(msg string) (string, error) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", ErrEmptyPrompt
	}
	if e.MaxPromptRunes > 0 && utf8.RuneCountInString(msg) > e.MaxPromptRunes {
		return "", ErrTooLong
	}
	return msg, nil
}

// Room returns the room when it exists and belongs to userID.
func (e *Engine) Room(ctx context.Context, roomID, userID string) (*domain.ChatRoom, error) {
	room, err := repo.GetChatRoom(ctx, e.DB, roomID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return room, nil
}

// HandleTurn starts the turn in its own goroutine and returns its events.
// The caller must drain the channel or cancel ctx.
func (e *Engine) HandleTurn(ctx context.Context, req TurnRequest) <-chan events.Event {
	ch := make(chan events.Event, 16)
	go func() {
		defer close(ch)

		tr := otel.Tracer("services/Engine")
		ctx, span := tr.Start(ctx, "HandleTurn",
			trace.WithAttributes(
				attribute.String("room.id", req.RoomID),
				attribute.String("user.id", req.UserID),
			),
		)
		defer span.End()

		logger := log.Ctx(ctx).With().Str("room_id", req.RoomID).Logger()
		ctx = logger.WithContext(ctx)

		em := events.NewEmitter(ctx, ch)
		res, err := e.turn(ctx, em, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if ctx.Err() == nil {
				logger.Error().Err(err).Msg("turn failed")
			}
			em.Emit(events.Failure())
		}
		em.Signal(events.Finish)
		if req.OnComplete != nil {
			req.OnComplete(res, err)
		}
	}()
	return ch
}

// Answer runs a turn to completion and returns what it persisted together
// with the events it produced.
func (e *Engine) Answer(ctx context.Context, req TurnRequest) (TurnResult, []events.Event, error) {
	var (
		res  TurnResult
		terr error
	)
	req.OnComplete = func(r TurnResult, err error) { res, terr = r, err }
	seq := events.Collect(e.HandleTurn(ctx, req))
	return res, seq, terr
}

func (e *Engine) turn(ctx context.Context, em *events.Emitter, req TurnRequest) (TurnResult, error) {
	msg, err := e.ValidateMessage(req.Message)
	if err != nil {
		return TurnResult{}, err
	}
	room, err := e.Room(ctx, req.RoomID, req.UserID)
	if err != nil {
		return TurnResult{}, err
	}

	unlock, err := e.Sessions.Lock(ctx, room.ID)
	if err != nil {
		return TurnResult{}, err
	}
	defer unlock()

	s, err := e.loadSession(ctx, room)
	if err != nil {
		return TurnResult{}, err
	}

	if room.Immersive() {
		return e.immersiveTurn(ctx, em, room, s, msg)
	}
	return e.plainTurn(ctx, em, room, s, msg)
}

// loadSession prefers the session store and falls back to the snapshot in
// the room row, e.g. after a restart with the in-memory store.
func (e *Engine) loadSession(ctx context.Context, room *domain.ChatRoom) (*session.Session, error) {
	s, ok, err := e.Sessions.Load(ctx, room.ID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("session store load failed, using room snapshot")
	}
	if ok {
		return s, nil
	}
	return session.Decode(room.ID, room.Summary)
}

func (e *Engine) plainTurn(ctx context.Context, em *events.Emitter, room *domain.ChatRoom, s *session.Session, msg string) (TurnResult, error) {
	store := e.Contexts.Get(room.ID)

	cands, err := e.Extractor.Subjects(ctx, s.Summary, s.Messages, msg)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("subject extraction failed")
	}

	var titles []string
	titleLine := ""
	switch {
	case len(cands) == 0:
		// No movie in the message; the prompt carries no titles.
	case cands[0].Confidence < e.Policy.WeakThreshold:
		titleLine = unclearTitle
	default:
		for _, c := range cands {
			if c.Confidence < e.Policy.WorthResolving {
				break
			}
			m := e.resolve(ctx, em, c.Title, c.Hint(), false)
			if m == nil {
				continue
			}
			titles = append(titles, m.Title)
			if c.Confidence >= e.Policy.HighConfidence {
				e.gather(ctx, em, store, m)
			} else {
				e.deferEnrichment(ctx, m)
			}
		}
		titleLine = strings.Join(titles, ", ")
	}

	library, err := e.library(ctx, room.UserID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("library load failed")
	}

	prompt := plainMessages(s.Summary, s.Messages, library, titleLine, e.context(store, msg, titles), msg)
	reply, err := e.stream(ctx, em, prompt)
	if err != nil {
		return TurnResult{}, err
	}

	ids := e.recommend(ctx, em, reply)
	em.Emit(events.Recommendation(ids))

	title := ""
	if ShouldTitle(room.Title) && e.Titles != nil {
		if title = e.Titles.Generate(ctx, msg, reply); title != "" {
			em.Emit(events.RoomTitle(title))
		}
	}

	h, err := e.persist(ctx, room, s, msg, reply, ids, title)
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{History: h, Recommended: ids, Title: title}, nil
}

func (e *Engine) immersiveTurn(ctx context.Context, em *events.Emitter, room *domain.ChatRoom, s *session.Session, msg string) (TurnResult, error) {
	p, err := repo.GetCharacterProfile(ctx, e.DB, *room.CharacterID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return TurnResult{}, err
	}
	if p == nil || p.Description == nil || strings.TrimSpace(*p.Description) == "" {
		em.Emit(events.Token(characterNotFound))
		return TurnResult{}, nil
	}
	s.Persona = *p.Description

	reply, err := e.stream(ctx, em, personaMessages(s.Persona, s.Summary, s.Messages, msg))
	if err != nil {
		return TurnResult{}, err
	}
	h, err := e.persist(ctx, room, s, msg, reply, nil, "")
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{History: h}, nil
}

// resolve runs the title cascade. The slow path is bracketed by crawl
// signals, the fast path by database signals when withDB is set. Any
// failure counts as no match.
func (e *Engine) resolve(ctx context.Context, em *events.Emitter, title string, h fuzzy.Hint, withDB bool) *domain.Movie {
	logger := log.Ctx(ctx).With().Str("title", title).Logger()

	var lk *resolver.Lookup
	fast := func() error {
		var err error
		lk, err = e.Resolver.Lookup(ctx, title, h)
		return err
	}
	var err error
	if withDB {
		err = em.Bracket(events.DatabaseStart, events.DatabaseEnd, fast)
	} else {
		err = fast()
	}
	if err != nil {
		logger.Debug().Err(err).Msg("fast path failed")
		return nil
	}
	if lk.Movie != nil {
		return lk.Movie
	}

	var m *domain.Movie
	err = em.Bracket(events.CrawlStart, events.CrawlEnd, func() error {
		var err error
		m, err = e.Resolver.Fetch(ctx, title, h, lk.Stale)
		return err
	})
	if err != nil {
		logger.Debug().Err(err).Msg("title not resolved")
		return nil
	}
	return m
}

// gather backfills the movie's document and reviews and files them in the
// room's context store. A cached title is left alone.
func (e *Engine) gather(ctx context.Context, em *events.Emitter, store *search.ContextStore, m *domain.Movie) {
	if store.Has(m.Title) {
		return
	}
	logger := log.Ctx(ctx).With().Uint("movie_id", m.ID).Logger()

	if !m.HasDocument() {
		err := em.Bracket(events.CrawlStart, events.CrawlEnd, func() error {
			_, err := e.Enricher.BackfillDocument(ctx, m)
			return err
		})
		if err != nil {
			logger.Warn().Err(err).Msg("document backfill failed")
		}
	}

	reviews, err := e.Enricher.StoredReviews(ctx, m)
	if err != nil {
		logger.Warn().Err(err).Msg("stored reviews failed")
	}
	if len(reviews) == 0 {
		err := em.Bracket(events.CrawlStart, events.CrawlEnd, func() error {
			var err error
			reviews, err = e.Enricher.FetchReviews(ctx, m)
			return err
		})
		if err != nil {
			logger.Warn().Err(err).Msg("review backfill failed")
		}
	}

	n := store.Add(m.Title, movieDocument(m, reviews))
	logger.Debug().Int("chunks", n).Msg("context stored")
}

func (e *Engine) deferEnrichment(ctx context.Context, m *domain.Movie) {
	if e.Jobs == nil {
		return
	}
	j := queue.NewJob(m.ID, m.Title)
	if err := e.Jobs.Publish(ctx, j); err != nil {
		log.Ctx(ctx).Warn().Err(err).Uint("movie_id", m.ID).Msg("enrichment job not published")
	}
}

// context renders the best chunks for msg among titles.
func (e *Engine) context(store *search.ContextStore, msg string, titles []string) string {
	if len(titles) == 0 {
		return noDocuments
	}
	res := store.TopK(msg, e.Policy.ContextChunkCount, titles...)
	if len(res) == 0 {
		return noDocuments
	}
	parts := make([]string, 0, len(res))
	for _, r := range res {
		parts = append(parts, r.Snippet)
	}
	return strings.Join(parts, "\n\n")
}

func (e *Engine) library(ctx context.Context, userID string) (string, error) {
	bookmarks, err := repo.ListBookmarks(ctx, e.DB, userID)
	if err != nil {
		return "", err
	}
	archives, err := repo.ListArchives(ctx, e.DB, userID)
	if err != nil {
		return "", err
	}
	return libraryText(bookmarks, archives), nil
}

// stream emits the model's tokens between message-start and message-end
// and returns the full reply.
func (e *Engine) stream(ctx context.Context, em *events.Emitter, msgs []llm.Message) (string, error) {
	em.Signal(events.MessageStart)
	toks, errs := e.Model.Stream(ctx, msgs)

	var b strings.Builder
	for tok := range toks {
		b.WriteString(tok)
		em.Emit(events.Token(tok))
	}
	err := <-errs
	em.Signal(events.MessageEnd)

	if cerr := ctx.Err(); cerr != nil {
		return "", cerr
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelStream, err)
	}
	return b.String(), nil
}

// recommend resolves the movies the reply recommends, in order, without
// duplicates.
func (e *Engine) recommend(ctx context.Context, em *events.Emitter, reply string) []uint {
	cands, err := e.Extractor.Recommendations(ctx, reply)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("recommendation extraction failed")
		return []uint{}
	}
	ids := make([]uint, 0, len(cands))
	seen := map[uint]struct{}{}
	for _, c := range cands {
		h := fuzzy.Hint{Year: c.Year}
		if h.Year == 0 {
			h.Series = c.Series
		}
		m := e.resolve(ctx, em, c.Title, h, true)
		if m == nil {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		ids = append(ids, m.ID)
	}
	return ids
}

// persist writes the turn and the session snapshot in one transaction and
// then mirrors the session into the store.
func (e *Engine) persist(ctx context.Context, room *domain.ChatRoom, s *session.Session, msg, reply string, ids []uint, title string) (*domain.ChatHistory, error) {
	s.Append(msg, reply)
	e.Summary.Fold(ctx, s)

	snap, err := s.Encode()
	if err != nil {
		return nil, err
	}

	var h *domain.ChatHistory
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if h, err = repo.AppendChatHistory(ctx, tx, room.ID, msg, reply); err != nil {
			return err
		}
		if err := repo.AddRecommendedMovies(ctx, tx, h.ID, ids); err != nil {
			return err
		}
		if title != "" {
			if err := repo.UpdateChatRoomTitle(ctx, tx, room.ID, room.UserID, title); err != nil {
				return err
			}
		}
		return repo.UpdateRoomSummary(ctx, tx, room.ID, snap)
	})
	if err != nil {
		return nil, fmt.Errorf("persist turn: %w", err)
	}

	if err := e.Sessions.Save(ctx, s); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("session store save failed")
	}
	log.Ctx(ctx).Info().
		Uint("history_id", h.ID).
		Int("recommended", len(ids)).
		Msg("turn persisted")
	return h, nil
}
