// Package services – ChatroomService
//
// ChatroomService manages the lifecycle of chat rooms. Plain rooms are
// created directly; immersive rooms are bound to a character profile and
// stream the character creation events. Ownership is enforced on every
// operation: a room that exists but belongs to someone else is reported as
// ErrRoomNotFound.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/events"
	"github.com/tbourn/go-movie-chat/internal/repo"
	"github.com/tbourn/go-movie-chat/internal/session"
	"github.com/tbourn/go-movie-chat/internal/utils"
)

// immersiveTitleSuffix follows the character name in immersive room titles.
const immersiveTitleSuffix = " 님과 대화"

// ChatroomService provides room-level operations.
type ChatroomService struct {
	DB         *gorm.DB
	Characters *CharacterService
	Sessions   session.Store
	Contexts   *session.IndexCache

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
}

// RoomList splits a user's rooms by mode.
type RoomList struct {
	Normal    []domain.ChatRoom `json:"normal"`
	Immersive []domain.ChatRoom `json:"immersive"`
}

// List returns every room of userID, most recently active first.
func (s *ChatroomService) List(ctx context.Context, userID string) (RoomList, error) {
	rooms, err := repo.ListChatRooms(ctx, s.DB, userID)
	if err != nil {
		return RoomList{}, err
	}
	out := RoomList{Normal: []domain.ChatRoom{}, Immersive: []domain.ChatRoom{}}
	for _, r := range rooms {
		if r.Immersive() {
			out.Immersive = append(out.Immersive, r)
		} else {
			out.Normal = append(out.Normal, r)
		}
	}
	return out, nil
}

// Get returns a room owned by userID.
func (s *ChatroomService) Get(ctx context.Context, userID, roomID string) (*domain.ChatRoom, error) {
	r, err := repo.GetChatRoom(ctx, s.DB, roomID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return r, nil
}

// CreatePlain creates a plain room with the placeholder title.
func (s *ChatroomService) CreatePlain(ctx context.Context, userID string) (*domain.ChatRoom, error) {
	if err := repo.EnsureUser(ctx, s.DB, userID); err != nil {
		return nil, err
	}
	return repo.CreateChatRoom(ctx, s.DB, userID, nil, domain.DefaultRoomTitle)
}

// CreateImmersive creates a room bound to characterID. The events start with
// chatroom-created, carry the character creation signals and end with
// finish. When creation does not complete, the room is deleted again.
func (s *ChatroomService) CreateImmersive(ctx context.Context, userID string, characterID uint) (*domain.ChatRoom, <-chan events.Event, error) {
	tr := otel.Tracer("services/ChatroomService")
	ctx, span := tr.Start(ctx, "CreateImmersive",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("character.id", int(characterID)),
		),
	)
	defer span.End()

	p, err := repo.GetCharacterProfile(ctx, s.DB, characterID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, ErrCharacterNotFound
		}
		return nil, nil, err
	}
	if err := repo.EnsureUser(ctx, s.DB, userID); err != nil {
		return nil, nil, err
	}
	title := s.clip(p.Name + immersiveTitleSuffix)
	room, err := repo.CreateChatRoom(ctx, s.DB, userID, &characterID, title)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan events.Event, 8)
	go func() {
		defer close(ch)
		em := events.NewEmitter(ctx, ch)
		em.Emit(events.ChatroomCreated(room))

		if err := s.Characters.Run(ctx, em, room.ID, characterID); err != nil {
			// The client may be gone already; the cleanup must still run.
			if err := s.discard(context.WithoutCancel(ctx), userID, room.ID); err != nil {
				log.Ctx(ctx).Error().Err(err).Str("room_id", room.ID).Msg("failed room not deleted")
			}
		}
		em.Signal(events.Finish)
	}()
	return room, ch, nil
}

// UpdateTitle renames a room. A blank title restores the placeholder.
func (s *ChatroomService) UpdateTitle(ctx context.Context, userID, roomID, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		title = domain.DefaultRoomTitle
	}
	if _, err := s.Get(ctx, userID, roomID); err != nil {
		return err
	}
	return repo.UpdateChatRoomTitle(ctx, s.DB, roomID, userID, s.clip(title))
}

// Delete removes a room with its history, session and context store.
func (s *ChatroomService) Delete(ctx context.Context, userID, roomID string) error {
	if _, err := s.Get(ctx, userID, roomID); err != nil {
		return err
	}
	return s.discard(ctx, userID, roomID)
}

func (s *ChatroomService) discard(ctx context.Context, userID, roomID string) error {
	if err := repo.DeleteChatRoom(ctx, s.DB, roomID, userID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	s.Contexts.Drop(roomID)
	return s.Sessions.Delete(ctx, roomID)
}

// Messages returns a page of a room's turns, oldest first, and the total.
func (s *ChatroomService) Messages(ctx context.Context, userID, roomID string, page, pageSize int) ([]domain.ChatHistory, int64, error) {
	if _, err := s.Get(ctx, userID, roomID); err != nil {
		return nil, 0, err
	}
	pg := utils.NewPage(page, pageSize)

	total, err := repo.CountChatHistory(ctx, s.DB, roomID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ChatHistory{}, 0, nil
	}
	items, err := repo.ListChatHistoryPage(ctx, s.DB, roomID, pg.Offset(), pg.Size)
	return items, total, err
}

// Recommended returns the movies recommended in a room, grouped per turn.
func (s *ChatroomService) Recommended(ctx context.Context, userID, roomID string) ([]repo.RecommendationGroup, error) {
	if _, err := s.Get(ctx, userID, roomID); err != nil {
		return nil, err
	}
	return repo.ListRecommendedMovies(ctx, s.DB, roomID)
}

func (s *ChatroomService) clip(title string) string {
	return clipRunes(strings.TrimSpace(title), s.TitleMaxLen)
}
