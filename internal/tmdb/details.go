package tmdb

import (
	"strings"
	"time"

	"github.com/tbourn/go-movie-chat/internal/domain"
)

type movieDetails struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Overview    string `json:"overview"`
	PosterPath  string `json:"poster_path"`
	ReleaseDate string `json:"release_date"`
	Genres      []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Credits struct {
		Cast []struct {
			ID          int64  `json:"id"`
			Name        string `json:"name"`
			Character   string `json:"character"`
			Order       int    `json:"order"`
			ProfilePath string `json:"profile_path"`
		} `json:"cast"`
		Crew []struct {
			ID          int64  `json:"id"`
			Name        string `json:"name"`
			Job         string `json:"job"`
			ProfilePath string `json:"profile_path"`
		} `json:"crew"`
	} `json:"credits"`
	WatchProviders struct {
		Results map[string]struct {
			Flatrate []provider `json:"flatrate"`
			Free     []provider `json:"free"`
		} `json:"results"`
	} `json:"watch/providers"`
	ExternalIDs struct {
		IMDB     string `json:"imdb_id"`
		Wikidata string `json:"wikidata_id"`
	} `json:"external_ids"`
	Videos struct {
		Results []struct {
			Key  string `json:"key"`
			Site string `json:"site"`
			Type string `json:"type"`
		} `json:"results"`
	} `json:"videos"`
}

type provider struct {
	ID       int64  `json:"provider_id"`
	Name     string `json:"provider_name"`
	LogoPath string `json:"logo_path"`
}

func (d *movieDetails) toMetadata(region string) *domain.MovieMetadata {
	m := &domain.MovieMetadata{
		ExternalID: d.ID,
		Title:      d.Title,
		Overview:   d.Overview,
		PosterRef:  d.PosterPath,
		ExternalIDs: domain.ExternalIDs{
			IMDB:     d.ExternalIDs.IMDB,
			Wikidata: d.ExternalIDs.Wikidata,
		},
	}
	if t, err := time.Parse("2006-01-02", d.ReleaseDate); err == nil {
		m.ReleaseDate = &t
	}
	for _, g := range d.Genres {
		if g.Name != "" {
			m.Genres = append(m.Genres, g.Name)
		}
	}
	for _, c := range d.Credits.Cast {
		if c.Order >= MaxCastOrder {
			continue
		}
		m.Cast = append(m.Cast, domain.CastMember{
			PersonID:    c.ID,
			Name:        c.Name,
			Character:   c.Character,
			Order:       c.Order,
			ProfilePath: c.ProfilePath,
		})
	}
	for _, c := range d.Credits.Crew {
		if c.Job == "Director" {
			m.Directors = append(m.Directors, domain.Person{PersonID: c.ID, Name: c.Name, ProfilePath: c.ProfilePath})
		}
	}
	if r, ok := d.WatchProviders.Results[region]; ok {
		list := r.Flatrate
		if len(list) == 0 {
			list = r.Free
		}
		for _, p := range list {
			m.Platforms = append(m.Platforms, domain.ProviderRef{ID: p.ID, Name: p.Name, LogoRef: p.LogoPath})
		}
	}
	for _, v := range d.Videos.Results {
		if strings.EqualFold(v.Site, "YouTube") && v.Type == "Trailer" && v.Key != "" {
			m.TrailerRef = "https://www.youtube.com/watch?v=" + v.Key
			break
		}
	}
	return m
}
