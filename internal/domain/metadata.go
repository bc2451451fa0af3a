package domain

import "time"

// MovieMetadata is the normalized result of a metadata lookup. It is built
// by the metadata client from the remote payload and consumed by the
// canonical store's upsert; nothing past the client touches raw JSON.
type MovieMetadata struct {
	ExternalID  int64
	Title       string
	Overview    string
	PosterRef   string
	TrailerRef  string
	ReleaseDate *time.Time
	Genres      []string
	Cast        []CastMember
	Directors   []Person
	Platforms   []ProviderRef
	ExternalIDs ExternalIDs
}

// Year returns the release year or 0.
func (m MovieMetadata) Year() int {
	if m.ReleaseDate == nil {
		return 0
	}
	return m.ReleaseDate.Year()
}

// CastMember is one credited role. Order is the billing position.
type CastMember struct {
	PersonID    int64
	Name        string
	Character   string
	Order       int
	ProfilePath string
}

// Person is a crew member.
type Person struct {
	PersonID    int64
	Name        string
	ProfilePath string
}

// ProviderRef is a streaming platform offering the movie.
type ProviderRef struct {
	ID      int64
	Name    string
	LogoRef string
}

// ExternalIDs carries cross-references to other catalogues.
type ExternalIDs struct {
	IMDB     string
	Wikidata string
}
