// Package domain defines the persistence models for movies, the people and
// platforms attached to them, chat rooms and their history. These types are
// mapped with GORM and form the canonical store of the application.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// DefaultRoomTitle is the sentinel title of a plain room that has not been
// auto-titled yet.
const DefaultRoomTitle = "new room"

// User is the owner of rooms, bookmarks and archives. Authentication lives
// outside this service; the id is whatever the edge forwards in X-User-ID.
type User struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Movie is the canonical movie record.
//
// Fields:
//   - ID: internal id, assigned on first insert and never reused.
//   - TMDBID: external id; nil until the first remote match, unique when set.
//   - Title / TMDBOverview: localized title and synopsis from the metadata API.
//   - WikiDocument: long-form encyclopedia text, nil until crawled.
//   - ReleaseDate: nil when unknown.
//   - LastUpdate: bumped by GORM on every mutation.
type Movie struct {
	ID           uint       `json:"id"            gorm:"primaryKey;autoIncrement"`
	TMDBID       *int64     `json:"tmdb_id"       gorm:"column:tmdb_id;uniqueIndex"`
	Title        string     `json:"title"         gorm:"type:varchar(255);not null;index"`
	TMDBOverview string     `json:"tmdb_overview" gorm:"column:tmdb_overview;type:text"`
	WikiDocument *string    `json:"-"             gorm:"type:text"`
	ReleaseDate  *time.Time `json:"release_date"`
	PosterPath   string     `json:"poster_path"   gorm:"type:varchar(255)"`
	TrailerURL   string     `json:"trailer_url"   gorm:"type:varchar(255)"`
	LastUpdate   time.Time  `json:"last_update"   gorm:"autoUpdateTime"`

	Genres     []Genre            `json:"genres,omitempty"     gorm:"many2many:rel_movie_genres;constraint:OnDelete:CASCADE"`
	Directors  []Director         `json:"directors,omitempty"  gorm:"many2many:rel_movie_directors;constraint:OnDelete:CASCADE"`
	Platforms  []Platform         `json:"platforms,omitempty"  gorm:"many2many:rel_movie_platforms;constraint:OnDelete:CASCADE"`
	Characters []CharacterProfile `json:"characters,omitempty" gorm:"foreignKey:MovieID;constraint:OnDelete:CASCADE"`
	Aliases    []MovieAlias       `json:"-"                    gorm:"foreignKey:MovieID;constraint:OnDelete:CASCADE"`
}

// TableName returns the database table name for Movie.
func (Movie) TableName() string { return "movies" }

// Year returns the release year or 0 when the date is unknown.
func (m *Movie) Year() int {
	if m == nil || m.ReleaseDate == nil {
		return 0
	}
	return m.ReleaseDate.Year()
}

// HasDocument reports whether a non-empty long-form document is stored.
func (m *Movie) HasDocument() bool {
	return m != nil && m.WikiDocument != nil && *m.WikiDocument != ""
}

// Genre is a movie genre, unique by name.
type Genre struct {
	ID   uint   `json:"id"   gorm:"primaryKey"`
	Name string `json:"name" gorm:"type:varchar(64);not null;uniqueIndex"`
}

func (Genre) TableName() string { return "genres" }

// Director is a person credited as director, unique by TMDB person id.
type Director struct {
	ID          uint   `json:"id"   gorm:"primaryKey"`
	TMDBID      int64  `json:"-"    gorm:"column:tmdb_id;uniqueIndex"`
	Name        string `json:"name" gorm:"type:varchar(255);not null"`
	ProfilePath string `json:"profile_path,omitempty" gorm:"type:varchar(255)"`
}

func (Director) TableName() string { return "directors" }

// Actor is a cast member, unique by TMDB person id.
type Actor struct {
	ID          uint   `json:"id"   gorm:"primaryKey"`
	TMDBID      int64  `json:"-"    gorm:"column:tmdb_id;uniqueIndex"`
	Name        string `json:"name" gorm:"type:varchar(255);not null"`
	ProfilePath string `json:"profile_path,omitempty" gorm:"type:varchar(255)"`
}

func (Actor) TableName() string { return "actors" }

// Platform is a streaming provider, unique by TMDB provider id.
type Platform struct {
	ID       uint   `json:"id"        gorm:"primaryKey"`
	TMDBID   int64  `json:"-"         gorm:"column:tmdb_id;uniqueIndex"`
	Name     string `json:"name"      gorm:"type:varchar(255);not null"`
	LogoPath string `json:"logo_path" gorm:"type:varchar(255)"`
}

func (Platform) TableName() string { return "platforms" }

// CharacterProfile is a cast-derived character of a movie. Description holds
// the generated persona text and stays nil until character creation runs.
type CharacterProfile struct {
	ID          uint    `json:"id"          gorm:"primaryKey"`
	MovieID     uint    `json:"movie_id"    gorm:"not null;index;uniqueIndex:ux_character_movie_name,priority:1"`
	Name        string  `json:"name"        gorm:"type:varchar(255);not null;uniqueIndex:ux_character_movie_name,priority:2"`
	Description *string `json:"description" gorm:"type:text"`
	Tone        string  `json:"tone,omitempty" gorm:"type:varchar(64)"`
	ActorID     *uint   `json:"actor_id"    gorm:"index"`
	Actor       *Actor  `json:"actor,omitempty" gorm:"foreignKey:ActorID;constraint:OnDelete:SET NULL"`
}

func (CharacterProfile) TableName() string { return "character_profiles" }

// MovieAlias is an alternate title that resolves to MovieID.
type MovieAlias struct {
	ID      uint   `json:"id"    gorm:"primaryKey"`
	MovieID uint   `json:"-"     gorm:"not null;index"`
	Alias   string `json:"alias" gorm:"type:varchar(255);not null;uniqueIndex"`
}

func (MovieAlias) TableName() string { return "movie_aliases" }

// MovieReview is one review text attached to a movie.
type MovieReview struct {
	ID        uint      `json:"id"      gorm:"primaryKey"`
	MovieID   uint      `json:"-"       gorm:"not null;index"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`

	Movie Movie `json:"-" gorm:"foreignKey:MovieID;constraint:OnDelete:CASCADE"`
}

func (MovieReview) TableName() string { return "movie_reviews" }

// ChatRoom is a conversation owned by a user.
//
// Fields:
//   - CharacterID: non-nil turns the room into an immersive (roleplay) room.
//   - Title: DefaultRoomTitle until the first answer is summarized.
//   - Summary: the serialized session snapshot ({summary, messages}).
type ChatRoom struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string         `json:"user_id"      gorm:"type:varchar(64);not null;index:idx_user_rooms"`
	CharacterID *uint          `json:"character_id" gorm:"index"`
	Title       string         `json:"title"        gorm:"type:varchar(255);not null;default:'new room'"`
	Summary     datatypes.JSON `json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	Character *CharacterProfile `json:"-" gorm:"foreignKey:CharacterID;constraint:OnDelete:SET NULL"`
}

// TableName returns the database table name for ChatRoom.
func (ChatRoom) TableName() string { return "chat_rooms" }

// Immersive reports whether the room is bound to a character.
func (r *ChatRoom) Immersive() bool { return r != nil && r.CharacterID != nil }

// ChatHistory is one persisted turn: the user message and the full answer.
type ChatHistory struct {
	ID        uint      `json:"id"           gorm:"primaryKey"`
	RoomID    string    `json:"room_id"      gorm:"type:char(36);not null;index:idx_room_history,priority:1"`
	UserChat  string    `json:"user_message" gorm:"type:text;not null"`
	AIChat    string    `json:"ai_message"   gorm:"column:ai_chat;type:text;not null"`
	Timestamp time.Time `json:"timestamp"    gorm:"index:idx_room_history,priority:2"`

	Room ChatRoom `json:"-" gorm:"foreignKey:RoomID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChatHistory.
func (ChatHistory) TableName() string { return "chat_history" }

// RecommendedMovie links a history turn to a movie the answer recommended.
type RecommendedMovie struct {
	ID      uint `gorm:"primaryKey"`
	ChatID  uint `gorm:"not null;uniqueIndex:ux_recommended_chat_movie,priority:1"`
	MovieID uint `gorm:"not null;uniqueIndex:ux_recommended_chat_movie,priority:2"`

	Chat  ChatHistory `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE"`
	Movie Movie       `gorm:"foreignKey:MovieID;constraint:OnDelete:CASCADE"`
}

func (RecommendedMovie) TableName() string { return "recommended_movies" }

// BookmarkedMovie is a user's bookmark.
type BookmarkedMovie struct {
	UserID    string    `gorm:"type:varchar(64);primaryKey"`
	MovieID   uint      `gorm:"primaryKey"`
	CreatedAt time.Time

	Movie Movie `gorm:"foreignKey:MovieID;constraint:OnDelete:CASCADE"`
}

func (BookmarkedMovie) TableName() string { return "bookmarked_movies" }

// ArchivedMovie is a watched movie with the user's rating (0..5).
type ArchivedMovie struct {
	UserID    string  `gorm:"type:varchar(64);primaryKey"`
	MovieID   uint    `gorm:"primaryKey"`
	Rating    float64 `gorm:"not null;default:0;check:rating >= 0 AND rating <= 5"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Movie Movie `gorm:"foreignKey:MovieID;constraint:OnDelete:CASCADE"`
}

func (ArchivedMovie) TableName() string { return "archived_movies" }

// FuzzyIndexEntry is a projection of a Movie used by the fuzzy title index.
// Entries are never updated in place; stale ones are deleted and reinserted.
type FuzzyIndexEntry struct {
	ID        uint      `gorm:"primaryKey"`
	MovieID   uint      `gorm:"not null;index"`
	TMDBID    *int64    `gorm:"column:tmdb_id"`
	Title     string    `gorm:"type:varchar(255);not null"`
	Series    int       `gorm:"not null;default:1"`
	Year      *int
	CreatedAt time.Time `gorm:"autoCreateTime"`
	Vector    []byte    `gorm:"type:blob;not null"`
}

func (FuzzyIndexEntry) TableName() string { return "fuzzy_index_entries" }
