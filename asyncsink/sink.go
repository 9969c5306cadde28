// Package asyncsink delivers audit records to another sink from a
// fixed-size worker pool, retrying failed deliveries.
package asyncsink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	audit "github.com/kafeiih/go-opaudit"
)

var (
	ErrQueueFull = errors.New("asyncsink: queue full")
	ErrClosed    = errors.New("asyncsink: sink is shut down")
)

// Config tunes the worker pool. Zero values pick defaults.
type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Attempts  uint
	Delay     time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 256
	}
	if out.Timeout <= 0 {
		out.Timeout = 5 * time.Second
	}
	if out.Attempts == 0 {
		out.Attempts = 3
	}
	if out.Delay <= 0 {
		out.Delay = 100 * time.Millisecond
	}
	return out
}

// job holds one call's records.
type job struct {
	records   []audit.Record
	latencyMs int64
}

// Sink queues record batches and hands them to next in the background.
// AddAudit never blocks the audited call.
type Sink struct {
	next   audit.Sink
	logger *slog.Logger
	cfg    Config

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	group  errgroup.Group
}

// New starts the worker pool in front of next.
func New(next audit.Sink, logger *slog.Logger, cfg Config) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	s := &Sink{
		next:   next,
		logger: logger,
		cfg:    cfg,
		jobs:   make(chan job, cfg.QueueSize),
	}
	for w := 0; w < cfg.Workers; w++ {
		s.group.Go(s.worker)
	}
	return s
}

// worker reads jobs from the channel until it is closed.
func (s *Sink) worker() error {
	for j := range s.jobs {
		s.deliver(j)
	}
	return nil
}

func (s *Sink) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	err := retry.Do(
		func() error { return s.next.AddAudit(ctx, j.records, j.latencyMs) },
		retry.Context(ctx),
		retry.Attempts(s.cfg.Attempts),
		retry.Delay(s.cfg.Delay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		s.logger.Error("failed to persist audit records",
			"error", err,
			"records", len(j.records),
		)
	}
}

// AddAudit enqueues the records. It returns ErrQueueFull when the queue
// has no room; the records are then discarded.
func (s *Sink) AddAudit(_ context.Context, records []audit.Record, latencyMs int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	j := job{records: append([]audit.Record(nil), records...), latencyMs: latencyMs}
	select {
	case s.jobs <- j:
		return nil
	default:
		s.logger.Warn("audit queue full, discarding records", "records", len(records))
		return ErrQueueFull
	}
}

// Shutdown stops accepting records and waits for queued ones to be
// delivered.
func (s *Sink) Shutdown() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.jobs)
	}
	s.mu.Unlock()
	_ = s.group.Wait()
}
