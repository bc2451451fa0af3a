package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Handler processes one job. Returning an error schedules a retry.
type Handler func(ctx context.Context, j Job) error

// ConsumerConfig tunes the worker pool.
type ConsumerConfig struct {
	Queue       string
	Concurrency int
	RetryDelay  time.Duration
	MaxAttempts int
}

// Consumer runs a bounded pool of workers over the main queue.
type Consumer struct {
	cfg     ConsumerConfig
	handler Handler

	conn *amqp.Connection
	ch   *amqp.Channel

	// retry parks a failed message on the retry queue.
	retry func(ctx context.Context, body []byte, attempt int) error
}

// delivery is the part of amqp.Delivery a worker needs.
type delivery interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// NewConsumer dials url and declares the topology.
func NewConsumer(url string, cfg ConsumerConfig, h Handler) (*Consumer, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declare(ch, cfg.Queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	// strict concurrency control
	if err := ch.Qos(cfg.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	c := &Consumer{cfg: cfg, handler: h, conn: conn, ch: ch}
	c.retry = func(ctx context.Context, body []byte, attempt int) error {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return ch.PublishWithContext(cctx, "", retryQueue(cfg.Queue), false, false,
			retryPublishing(body, attempt, cfg.RetryDelay))
	}
	return c, nil
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run consumes until ctx ends, then drains in-flight jobs.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	log.Info().Str("queue", c.cfg.Queue).Int("concurrency", c.cfg.Concurrency).Msg("worker started")

	jobs := make(chan amqp.Delivery, c.cfg.Concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.cfg.Concurrency)
	for i := 0; i < c.cfg.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.process(ctx, workerID, d.Body, d.Headers, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			close(jobs)
			wg.Wait()
			return nil
		case d, ok := <-msgs:
			if !ok {
				close(jobs)
				wg.Wait()
				return errors.New("queue: delivery channel closed")
			}
			jobs <- d
		}
	}
}

// process runs the handler and settles the delivery: ack on success, a
// delayed retry while attempts remain, dead-letter otherwise.
func (c *Consumer) process(ctx context.Context, workerID int, body []byte, headers amqp.Table, d delivery) {
	j, err := decodeJob(body)
	if err != nil {
		log.Warn().Int("worker", workerID).Err(err).Msg("bad message")
		_ = d.Nack(false, false)
		return
	}
	logger := log.With().Int("worker", workerID).Str("job_id", j.JobID).Uint("movie_id", j.MovieID).Logger()

	start := time.Now()
	err = c.handler(logger.WithContext(ctx), j)
	if err == nil {
		if aerr := d.Ack(false); aerr != nil {
			logger.Warn().Err(aerr).Msg("ack failed")
		}
		logger.Debug().Dur("took", time.Since(start)).Msg("job done")
		return
	}

	attempt := attemptOf(headers)
	logger.Warn().Err(err).Int("attempt", attempt).Dur("took", time.Since(start)).Msg("job failed")
	if attempt < c.cfg.MaxAttempts && c.retry != nil {
		if rerr := c.retry(ctx, body, attempt+1); rerr == nil {
			_ = d.Ack(false)
			return
		}
	}
	_ = d.Nack(false, false)
}
