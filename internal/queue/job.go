// Package queue carries deferred enrichment work over RabbitMQ. The chat
// turn publishes a Job for movies it resolved with medium confidence; the
// worker consumes jobs and backfills their documents and reviews.
//
// Topology, declared identically by publisher and consumer:
//
//	<queue>        main queue, dead-letters to <queue>.dlq
//	<queue>.retry  per-message TTL, dead-letters back to <queue>
//	<queue>.dlq    jobs that failed every attempt
package queue

import (
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
)

// ErrBadJob marks a message that can never be processed.
var ErrBadJob = errors.New("queue: malformed job")

// Job asks for the enrichment of one movie.
type Job struct {
	JobID       string    `json:"job_id"`
	MovieID     uint      `json:"movie_id"`
	Title       string    `json:"title"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewJob stamps a job with a ULID, so ids sort by creation time.
func NewJob(movieID uint, title string) Job {
	return Job{
		JobID:       ulid.Make().String(),
		MovieID:     movieID,
		Title:       strings.TrimSpace(title),
		RequestedAt: time.Now().UTC(),
	}
}

func encodeJob(j Job) ([]byte, error) { return json.Marshal(j) }

func decodeJob(b []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, errors.Join(ErrBadJob, err)
	}
	if j.JobID == "" || j.MovieID == 0 {
		return Job{}, ErrBadJob
	}
	return j, nil
}

func retryQueue(q string) string { return q + ".retry" }
func deadQueue(q string) string  { return q + ".dlq" }
