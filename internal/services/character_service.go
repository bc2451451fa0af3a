package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/events"
	"github.com/tbourn/go-movie-chat/internal/llm"
	"github.com/tbourn/go-movie-chat/internal/repo"
	"github.com/tbourn/go-movie-chat/internal/search"
	"github.com/tbourn/go-movie-chat/internal/session"
)

// materialChunks bounds the document chunks fed to the persona passes.
const materialChunks = 10

// CharacterService generates role-play personas for character profiles.
type CharacterService struct {
	DB       *gorm.DB
	Model    Model
	Enricher *Enricher
	Sessions session.Store
	Contexts *session.IndexCache
}

// Create makes sure characterID has a persona and binds it to roomID's
// session. The returned channel carries crawl signals, cc-create-start when
// generation begins and exactly one of cc-create-done or cc-create-fail.
func (c *CharacterService) Create(ctx context.Context, roomID string, characterID uint) <-chan events.Event {
	ch := make(chan events.Event, 8)
	go func() {
		defer close(ch)
		_ = c.Run(ctx, events.NewEmitter(ctx, ch), roomID, characterID)
	}()
	return ch
}

// Run is Create on the caller's emitter. The returned error, not the
// delivered events, tells whether the persona was stored and bound: a client
// that went away can miss cc-create-done.
func (c *CharacterService) Run(ctx context.Context, em *events.Emitter, roomID string, characterID uint) error {
	tr := otel.Tracer("services/CharacterService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.Int("character.id", int(characterID)),
		),
	)
	defer span.End()

	if err := c.create(ctx, em, roomID, characterID); err != nil {
		span.RecordError(err)
		log.Ctx(ctx).Error().Err(err).
			Str("room_id", roomID).
			Uint("character_id", characterID).
			Msg("character creation failed")
		em.Signal(events.CCCreateFail)
		return err
	}
	em.Signal(events.CCCreateDone)
	return nil
}

func (c *CharacterService) create(ctx context.Context, em *events.Emitter, roomID string, characterID uint) error {
	p, err := repo.GetCharacterProfile(ctx, c.DB, characterID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCharacterNotFound
		}
		return err
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) != "" {
		return c.bind(ctx, roomID, *p.Description)
	}

	m, err := repo.FindMovieByID(ctx, c.DB, p.MovieID, false)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMovieNotFound
		}
		return err
	}
	if !m.HasDocument() {
		err := em.Bracket(events.CrawlStart, events.CrawlEnd, func() error {
			_, err := c.Enricher.BackfillDocument(ctx, m)
			return err
		})
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Uint("movie_id", m.ID).Msg("document backfill failed, using the overview")
		}
	}
	if !m.HasDocument() && strings.TrimSpace(m.TMDBOverview) == "" {
		return fmt.Errorf("no material for %q", m.Title)
	}

	store := c.Contexts.Get(roomID)
	store.Add(m.Title, movieDocument(m, nil))
	em.Signal(events.CCCreateStart)

	persona, err := c.generate(ctx, m, p, material(store, m, p))
	if err != nil {
		return err
	}
	if err := repo.UpdateCharacterDescription(ctx, c.DB, p.ID, persona); err != nil {
		return err
	}
	return c.bind(ctx, roomID, persona)
}

// material picks the document passages about the character, falling back
// to the opening of the stored text.
func material(store *search.ContextStore, m *domain.Movie, p *domain.CharacterProfile) string {
	res := store.TopK(p.Name, materialChunks, m.Title)
	if len(res) == 0 {
		res = store.TopK(m.Title, materialChunks, m.Title)
	}
	if len(res) == 0 {
		return clipRunes(movieDocument(m, nil), 4000)
	}
	parts := make([]string, 0, len(res))
	for _, r := range res {
		parts = append(parts, r.Snippet)
	}
	return strings.Join(parts, "\n\n")
}

// generate runs the draft, faithfulness and format passes.
func (c *CharacterService) generate(ctx context.Context, m *domain.Movie, p *domain.CharacterProfile, material string) (string, error) {
	draft, err := c.Model.Compose(ctx, []llm.Message{
		llm.User(fmt.Sprintf(characterDraftPrompt, m.Title, p.Name, material)),
	})
	if err != nil {
		return "", fmt.Errorf("draft: %w", err)
	}
	faithful, err := c.Model.Complete(ctx, []llm.Message{
		llm.User(fmt.Sprintf(characterFaithfulPrompt, material, draft)),
	})
	if err != nil {
		return "", fmt.Errorf("refine: %w", err)
	}
	out, err := c.Model.Complete(ctx, []llm.Message{
		llm.User(fmt.Sprintf(characterFormatPrompt, faithful)),
	})
	if err != nil {
		return "", fmt.Errorf("format: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", llm.ErrEmptyResponse
	}
	return out, nil
}

// bind stores persona in the room's session and snapshot.
func (c *CharacterService) bind(ctx context.Context, roomID, persona string) error {
	if roomID == "" {
		return nil
	}
	unlock, err := c.Sessions.Lock(ctx, roomID)
	if err != nil {
		return err
	}
	defer unlock()

	s, ok, err := c.Sessions.Load(ctx, roomID)
	if err != nil || !ok {
		s = session.New(roomID)
	}
	s.Persona = persona
	snap, err := s.Encode()
	if err != nil {
		return err
	}
	if err := repo.UpdateRoomSummary(ctx, c.DB, roomID, snap); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return c.Sessions.Save(ctx, s)
}
