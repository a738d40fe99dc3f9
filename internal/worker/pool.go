package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bencidata/internal/infra"
	"bencidata/internal/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	QueueAudit = "jobs:audit"

	JobSessionClosed = "session_closed"

	// MaxJobAttempts is how many times a job runs before it is dead-lettered.
	MaxJobAttempts = 3
)

// Job is the generic envelope for all async tasks.
type Job struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

// SessionClosedPayload is the body of a session_closed job.
type SessionClosedPayload struct {
	SessionID uint `json:"session_id"`
}

// Dispatcher enqueues async jobs into Redis lists.
// The worker pool dequeues them via BRPOP.
type Dispatcher struct {
	rdb *redis.Client
	cb  *infra.CircuitBreaker
}

func NewDispatcher(rdb *redis.Client, cb *infra.CircuitBreaker) *Dispatcher {
	if cb == nil {
		cb = infra.NewCircuitBreaker(infra.DefaultCBConfig())
	}
	return &Dispatcher{rdb: rdb, cb: cb}
}

// EnqueueSessionClosed pushes an audit job for a committed close.
func (d *Dispatcher) EnqueueSessionClosed(ctx context.Context, sessionID uint) error {
	return d.enqueue(ctx, QueueAudit, JobSessionClosed, SessionClosedPayload{SessionID: sessionID})
}

func (d *Dispatcher) enqueue(ctx context.Context, queue, jobType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(Job{ID: uuid.NewString(), Type: jobType, Payload: data})
	if err != nil {
		return err
	}
	return d.cb.Execute(func() error {
		return d.rdb.LPush(ctx, queue, encoded).Err()
	})
}

// Handler processes one job payload. A returned error schedules a retry.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Pool consumes QueueAudit with a fixed number of BRPOP workers.
type Pool struct {
	rdb      *redis.Client
	handlers map[string]Handler
	metrics  *metrics.Metrics
	queues   []string
}

func NewPool(rdb *redis.Client, m *metrics.Metrics) *Pool {
	return &Pool{
		rdb:      rdb,
		handlers: make(map[string]Handler),
		metrics:  m,
		queues:   []string{QueueAudit},
	}
}

// Handle registers the handler for a job type.
func (p *Pool) Handle(jobType string, h Handler) {
	p.handlers[jobType] = h
}

// Run launches numWorkers goroutines and blocks until ctx is cancelled.
// Each goroutine blocks on BRPOP, zero CPU when idle.
func (p *Pool) Run(ctx context.Context, numWorkers int) error {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < numWorkers; i++ {
		id := i
		g.Go(func() error {
			p.runWorker(ctx, id)
			return nil
		})
	}
	log.Info().Msgf("worker pool started with %d workers", numWorkers)
	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("worker %d shutting down", id)
			return
		default:
			// Blocking pop, waits up to 5s then loops to check ctx
			result, err := p.rdb.BRPop(ctx, 5*time.Second, p.queues...).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					log.Warn().Err(err).Int("worker", id).Msg("brpop failed")
					time.Sleep(time.Second)
				}
				continue
			}
			if len(result) < 2 {
				continue
			}
			p.Process(ctx, result[0], []byte(result[1]))
		}
	}
}

// Process runs one raw job taken from queue. Failures are pushed back for a
// retry until MaxJobAttempts, then moved to the dead letters.
func (p *Pool) Process(ctx context.Context, queue string, raw []byte) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("failed to unmarshal job")
		deadLetter(ctx, p.rdb, newDeadLetter(queue, Job{}, raw, "invalid job envelope", time.Now()))
		p.metrics.RecordAuditJob("invalid")
		return
	}

	logger := log.With().Str("job_id", job.ID).Str("type", job.Type).Str("queue", queue).Logger()
	h, ok := p.handlers[job.Type]
	if !ok {
		logger.Error().Msg("no handler registered for job type")
		deadLetter(ctx, p.rdb, newDeadLetter(queue, job, raw, "no handler", time.Now()))
		p.metrics.RecordAuditJob("invalid")
		return
	}

	job.Attempts++
	err := h(ctx, job.Payload)
	if err == nil {
		logger.Debug().Int("attempt", job.Attempts).Msg("job done")
		p.metrics.RecordAuditJob("ok")
		return
	}

	if job.Attempts >= MaxJobAttempts {
		reason := fmt.Sprintf("max attempts (%d) exceeded: %s", MaxJobAttempts, err)
		deadLetter(ctx, p.rdb, newDeadLetter(queue, job, raw, reason, time.Now()))
		p.metrics.RecordAuditJob("dead_letter")
		return
	}

	logger.Warn().Err(err).Int("attempt", job.Attempts).Msg("job failed, requeueing")
	p.metrics.RecordAuditJob("retry")
	encoded, mErr := json.Marshal(job)
	if mErr != nil {
		logger.Error().Err(mErr).Msg("failed to re-encode job")
		return
	}
	if pErr := p.rdb.LPush(ctx, queue, encoded).Err(); pErr != nil {
		logger.Error().Err(pErr).Msg("failed to requeue job")
	}
}
