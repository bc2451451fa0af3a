// Movie and library HTTP handlers.
//
// This file exposes:
//   - GET    /movies/{id}               (movie details)
//   - GET    /movies/{id}/characters    (characters available for immersive rooms)
//   - GET    /library/bookmarks         (list)  POST/DELETE /library/bookmarks/{id}
//   - GET    /library/archives          (list)  PUT/DELETE  /library/archives/{id}
//   - GET    /library/watchlist         (bookmarked but not yet archived)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/services"
)

// ArchiveRequest is the JSON payload for archiving a movie.
type ArchiveRequest struct {
	// Rating is clamped to [0, 5] by the service.
	Rating float64 `json:"rating" example:"4.5"`
}

// ArchivedMovie is a movie with the caller's rating.
type ArchivedMovie struct {
	Movie  domain.Movie `json:"movie"`
	Rating float64      `json:"rating" example:"4.5"`
}

// movieID validates the :id path parameter.
func movieID(c *gin.Context) (uint, bool) {
	id, valid := uintParam(c, "id")
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "movie id must be a positive integer")
	}
	return id, valid
}

// libraryError maps unknown movies to 404 and everything else to 500 with code.
func libraryError(c *gin.Context, err error, code string) {
	if errors.Is(err, services.ErrMovieNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "movie not found")
		return
	}
	internalError(c, code, err)
}

// GetMovie godoc
// @ID          getMovie
// @Summary     Get a movie
// @Description Returns the stored metadata of a movie with genres, directors, platforms and characters.
// @Tags        Movies
// @Produce     json
// @Param       id  path  int  true  "Movie ID"
// @Success     200  {object}  domain.Movie
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Movie not found"
// @Router      /movies/{id} [get]
func (h *Handlers) GetMovie(c *gin.Context) {
	id, valid := movieID(c)
	if !valid {
		return
	}
	m, err := h.lib.Movie(c.Request.Context(), id)
	if err != nil {
		libraryError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, m)
}

// ListCharacters godoc
// @ID          listMovieCharacters
// @Summary     List the characters of a movie
// @Tags        Movies
// @Produce     json
// @Param       id  path  int  true  "Movie ID"
// @Success     200  {array}   domain.CharacterProfile
// @Failure     404  {object}  handlers.ErrorResponse  "Movie not found"
// @Router      /movies/{id}/characters [get]
func (h *Handlers) ListCharacters(c *gin.Context) {
	id, valid := movieID(c)
	if !valid {
		return
	}
	out, err := h.lib.Characters(c.Request.Context(), id)
	if err != nil {
		libraryError(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, out)
}

// ListBookmarks godoc
// @ID          listBookmarks
// @Summary     List bookmarked movies
// @Tags        Library
// @Produce     json
// @Param       X-User-ID  header  string  false  "User ID"
// @Success     200  {array}  domain.Movie
// @Router      /library/bookmarks [get]
func (h *Handlers) ListBookmarks(c *gin.Context) {
	out, err := h.lib.Bookmarks(c.Request.Context(), userID(c))
	if err != nil {
		internalError(c, ErrCodeListFailed, err)
		return
	}
	ok(c, http.StatusOK, out)
}

// AddBookmark godoc
// @ID          addBookmark
// @Summary     Bookmark a movie
// @Tags        Library
// @Param       X-User-ID  header  string  false  "User ID"
// @Param       id         path    int     true   "Movie ID"
// @Success     204  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Movie not found"
// @Router      /library/bookmarks/{id} [post]
func (h *Handlers) AddBookmark(c *gin.Context) {
	id, valid := movieID(c)
	if !valid {
		return
	}
	if err := h.lib.AddBookmark(c.Request.Context(), userID(c), id); err != nil {
		libraryError(c, err, ErrCodeCreateFailed)
		return
	}
	noContent(c)
}

// RemoveBookmark godoc
// @ID          removeBookmark
// @Summary     Remove a bookmark
// @Tags        Library
// @Param       X-User-ID  header  string  false  "User ID"
// @Param       id         path    int     true   "Movie ID"
// @Success     204  "No Content"
// @Router      /library/bookmarks/{id} [delete]
func (h *Handlers) RemoveBookmark(c *gin.Context) {
	id, valid := movieID(c)
	if !valid {
		return
	}
	if err := h.lib.RemoveBookmark(c.Request.Context(), userID(c), id); err != nil {
		libraryError(c, err, ErrCodeDeleteFailed)
		return
	}
	noContent(c)
}

// ListArchives godoc
// @ID          listArchives
// @Summary     List archived (watched) movies with ratings
// @Tags        Library
// @Produce     json
// @Param       X-User-ID  header  string  false  "User ID"
// @Success     200  {array}  handlers.ArchivedMovie
// @Router      /library/archives [get]
func (h *Handlers) ListArchives(c *gin.Context) {
	entries, err := h.lib.Archives(c.Request.Context(), userID(c))
	if err != nil {
		internalError(c, ErrCodeListFailed, err)
		return
	}
	out := make([]ArchivedMovie, 0, len(entries))
	for _, e := range entries {
		out = append(out, ArchivedMovie{Movie: e.Movie, Rating: e.Rating})
	}
	ok(c, http.StatusOK, out)
}

// ArchiveMovie godoc
// @ID          archiveMovie
// @Summary     Archive a movie with a rating
// @Description Creates or updates the archive entry. Ratings are clamped to [0, 5].
// @Tags        Library
// @Accept      json
// @Param       X-User-ID  header  string                    false  "User ID"
// @Param       id         path    int                       true   "Movie ID"
// @Param       body       body    handlers.ArchiveRequest  true   "Rating"
// @Success     204  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Movie not found"
// @Router      /library/archives/{id} [put]
func (h *Handlers) ArchiveMovie(c *gin.Context) {
	id, valid := movieID(c)
	if !valid {
		return
	}
	var req ArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rating must be a number")
		return
	}
	if err := h.lib.Archive(c.Request.Context(), userID(c), id, req.Rating); err != nil {
		libraryError(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}

// RemoveArchive godoc
// @ID          removeArchive
// @Summary     Remove a movie from the archive
// @Tags        Library
// @Param       X-User-ID  header  string  false  "User ID"
// @Param       id         path    int     true   "Movie ID"
// @Success     204  "No Content"
// @Router      /library/archives/{id} [delete]
func (h *Handlers) RemoveArchive(c *gin.Context) {
	id, valid := movieID(c)
	if !valid {
		return
	}
	if err := h.lib.RemoveArchive(c.Request.Context(), userID(c), id); err != nil {
		libraryError(c, err, ErrCodeDeleteFailed)
		return
	}
	noContent(c)
}

// ListWatchlist godoc
// @ID          listWatchlist
// @Summary     List bookmarked movies not yet archived
// @Tags        Library
// @Produce     json
// @Param       X-User-ID  header  string  false  "User ID"
// @Success     200  {array}  domain.Movie
// @Router      /library/watchlist [get]
func (h *Handlers) ListWatchlist(c *gin.Context) {
	out, err := h.lib.Watchlist(c.Request.Context(), userID(c))
	if err != nil {
		internalError(c, ErrCodeListFailed, err)
		return
	}
	ok(c, http.StatusOK, out)
}
