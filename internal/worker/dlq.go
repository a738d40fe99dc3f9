package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DeadLetterPrefix keys one Redis list of failed jobs per source queue.
const DeadLetterPrefix = "dlq:"

// DeadLetter is an audit job that will not be retried. SessionID is set when
// the payload named a session, so an operator can re-run that audit by hand.
type DeadLetter struct {
	JobID     string          `json:"job_id,omitempty"`
	Queue     string          `json:"queue"`
	Type      string          `json:"type"`
	SessionID *uint           `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Reason    string          `json:"reason"`
	Attempts  int             `json:"attempts"`
	FailedAt  time.Time       `json:"failed_at"`
}

// newDeadLetter builds the entry for job. raw is what was popped from the
// queue and is only kept when the envelope itself could not be decoded.
func newDeadLetter(queue string, job Job, raw []byte, reason string, failedAt time.Time) DeadLetter {
	dl := DeadLetter{
		JobID:    job.ID,
		Queue:    queue,
		Type:     job.Type,
		Payload:  job.Payload,
		Reason:   reason,
		Attempts: job.Attempts,
		FailedAt: failedAt.UTC(),
	}
	if dl.Type == "" {
		dl.Type = "unknown"
	}
	if len(dl.Payload) == 0 {
		dl.Payload = raw
	}
	// keep the entry valid JSON whatever was on the queue
	if !json.Valid(dl.Payload) {
		dl.Payload, _ = json.Marshal(string(dl.Payload))
	}
	if job.Type == JobSessionClosed {
		var p SessionClosedPayload
		if err := json.Unmarshal(job.Payload, &p); err == nil && p.SessionID != 0 {
			dl.SessionID = &p.SessionID
		}
	}
	return dl
}

// deadLetter stores dl at the head of its queue's list. Push failures are
// logged only: the job is lost either way and the worker must keep going.
func deadLetter(ctx context.Context, rdb *redis.Client, dl DeadLetter) {
	evt := log.Warn().
		Str("queue", dl.Queue).
		Str("job_id", dl.JobID).
		Str("type", dl.Type).
		Str("reason", dl.Reason).
		Int("attempts", dl.Attempts)
	if dl.SessionID != nil {
		evt = evt.Uint("session_id", *dl.SessionID)
	}

	data, err := json.Marshal(dl)
	if err != nil {
		log.Error().Err(err).Str("queue", dl.Queue).Msg("encode dead letter")
		return
	}
	key := DeadLetterPrefix + dl.Queue
	if err := rdb.LPush(ctx, key, data).Err(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("push dead letter")
		return
	}
	evt.Msg("audit job moved to dead letters")
}

// DeadLetterCount is the depth of queue's dead letter list.
func DeadLetterCount(ctx context.Context, rdb *redis.Client, queue string) (int64, error) {
	return rdb.LLen(ctx, DeadLetterPrefix+queue).Result()
}

// DeadLetters returns up to limit entries of queue, newest first.
// Entries that no longer decode are skipped.
func DeadLetters(ctx context.Context, rdb *redis.Client, queue string, limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := rdb.LRange(ctx, DeadLetterPrefix+queue, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(rows))
	for _, row := range rows {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(row), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}
