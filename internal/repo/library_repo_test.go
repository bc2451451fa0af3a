package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-movie-chat/internal/domain"
)

func TestClampRating(t *testing.T) {
	cases := map[float64]float64{-1: 0, 0: 0, 3.5: 3.5, 5: 5, 7: 5}
	for in, want := range cases {
		if got := ClampRating(in); got != want {
			t.Fatalf("ClampRating(%v) = %v; want %v", in, got, want)
		}
	}
}

func TestLibrary_BookmarksArchivesWatchlist(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	m1 := &domain.Movie{Title: "듄"}
	m2 := &domain.Movie{Title: "기생충"}
	db.Create(m1)
	db.Create(m2)

	for _, id := range []uint{m1.ID, m2.ID, m1.ID} {
		if err := AddBookmark(ctx, db, "u1", id); err != nil {
			t.Fatalf("AddBookmark: %v", err)
		}
	}
	bm, err := ListBookmarks(ctx, db, "u1")
	if err != nil || len(bm) != 2 {
		t.Fatalf("ListBookmarks: %v %+v", err, bm)
	}

	if err := UpsertArchive(ctx, db, "u1", m1.ID, 9); err != nil {
		t.Fatalf("UpsertArchive: %v", err)
	}
	if err := UpsertArchive(ctx, db, "u1", m1.ID, 4.5); err != nil {
		t.Fatalf("UpsertArchive update: %v", err)
	}
	arch, err := ListArchives(ctx, db, "u1")
	if err != nil || len(arch) != 1 || arch[0].Rating != 4.5 || arch[0].Movie.Title != "듄" {
		t.Fatalf("ListArchives: %v %+v", err, arch)
	}

	wl, err := ListWatchlist(ctx, db, "u1")
	if err != nil || len(wl) != 1 || wl[0].ID != m2.ID {
		t.Fatalf("ListWatchlist: %v %+v", err, wl)
	}

	if err := RemoveBookmark(ctx, db, "u1", m2.ID); err != nil {
		t.Fatalf("RemoveBookmark: %v", err)
	}
	if err := RemoveBookmark(ctx, db, "u1", m2.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := RemoveArchive(ctx, db, "u1", m1.ID); err != nil {
		t.Fatalf("RemoveArchive: %v", err)
	}
	if err := RemoveArchive(ctx, db, "u1", m1.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
