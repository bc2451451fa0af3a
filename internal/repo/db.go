// Package repo is the persistence layer: GORM queries over the canonical
// SQLite store, one file per aggregate.
package repo

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-movie-chat/internal/domain"
)

// ErrNotFound is gorm.ErrRecordNotFound under a repo-level name.
var ErrNotFound = gorm.ErrRecordNotFound

// Options configures Open. Zero values select the defaults noted per field.
type Options struct {
	Path         string
	MaxOpenConns int           // 10
	SlowQuery    time.Duration // 200ms
}

// pragmas are applied through the DSN so every pooled connection gets them,
// not only the one that happened to run an Exec.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// dsn appends the connection pragmas to a file path.
func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// Open opens (or creates) the SQLite store at opts.Path with query tracing
// and zerolog query logging installed. The parent directory must exist.
func Open(opts Options) (*gorm.DB, error) {
	if dir := filepath.Dir(opts.Path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.SlowQuery <= 0 {
		opts.SlowQuery = 200 * time.Millisecond
	}

	db, err := gorm.Open(sqlite.Open(dsn(opts.Path)), &gorm.Config{
		Logger: NewQueryLogger(opts.SlowQuery),
	})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxOpenConns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// AutoMigrate creates or updates every table of the canonical store.
// Referenced tables come before the tables that point at them.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Genre{},
		&domain.Director{},
		&domain.Actor{},
		&domain.Platform{},
		&domain.Movie{},
		&domain.CharacterProfile{},
		&domain.MovieAlias{},
		&domain.MovieReview{},
		&domain.ChatRoom{},
		&domain.ChatHistory{},
		&domain.RecommendedMovie{},
		&domain.BookmarkedMovie{},
		&domain.ArchivedMovie{},
		&domain.FuzzyIndexEntry{},
		&domain.TurnReplay{},
	)
}

// isUniqueViolation matches both the translated GORM error and the plain
// text the pure-Go driver reports.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
