package services

import (
	"context"

	"github.com/tbourn/go-movie-chat/internal/content"
	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/fuzzy"
	"github.com/tbourn/go-movie-chat/internal/llm"
	"github.com/tbourn/go-movie-chat/internal/queue"
	"github.com/tbourn/go-movie-chat/internal/resolver"
)

// Model is the completion API as the services use it. *llm.Client
// implements it.
type Model interface {
	// Complete runs the deterministic tool model.
	Complete(ctx context.Context, msgs []llm.Message) (string, error)
	// Compose runs the chat model without streaming.
	Compose(ctx context.Context, msgs []llm.Message) (string, error)
	// Stream runs the chat model; the error channel yields at most one
	// error after the token channel closes.
	Stream(ctx context.Context, msgs []llm.Message) (<-chan string, <-chan error)
}

// TitleResolver is the two-step title resolution. *resolver.Resolver
// implements it.
type TitleResolver interface {
	Lookup(ctx context.Context, title string, h fuzzy.Hint) (*resolver.Lookup, error)
	Fetch(ctx context.Context, title string, h fuzzy.Hint, stale *domain.FuzzyIndexEntry) (*domain.Movie, error)
}

// ContentSource fetches long documents and reviews. *content.Client
// implements it.
type ContentSource interface {
	LongDocument(ctx context.Context, title string) (string, error)
	Reviews(ctx context.Context, title string, limit int) ([]string, error)
	ReviewsByID(ctx context.Context, id int64, limit int) ([]string, error)
}

// JobPublisher enqueues deferred enrichment. *queue.Publisher implements it.
type JobPublisher interface {
	Publish(ctx context.Context, j queue.Job) error
}

var (
	_ Model         = (*llm.Client)(nil)
	_ TitleResolver = (*resolver.Resolver)(nil)
	_ ContentSource = (*content.Client)(nil)
	_ JobPublisher  = (*queue.Publisher)(nil)
)
