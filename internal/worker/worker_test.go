package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"bencidata/internal/dto"
	"bencidata/internal/infra"
	"bencidata/internal/model"
	"bencidata/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAudit struct {
	err     error
	audited []uint
	sweeps  int
}

func (f *fakeAudit) BuildReport(context.Context, *model.ServiceSession) (*dto.ReconciliationReport, error) {
	return &dto.ReconciliationReport{}, nil
}

func (f *fakeAudit) AuditClosedSession(_ context.Context, id uint) error {
	f.audited = append(f.audited, id)
	return f.err
}

func (f *fakeAudit) Sweep(context.Context, time.Duration) (*service.SweepResult, error) {
	f.sweeps++
	return &service.SweepResult{}, nil
}

func TestAuditWorker_Process(t *testing.T) {
	testCases := []struct {
		name      string
		payload   string
		auditErr  error
		wantErr   bool
		wantCalls int
	}{
		{name: "audited", payload: `{"session_id":7}`, wantCalls: 1},
		{name: "broken payload is dropped", payload: `{"session_id":"x"}`, wantCalls: 0},
		{name: "missing session id is dropped", payload: `{}`, wantCalls: 0},
		{name: "deleted session is dropped", payload: `{"session_id":7}`, auditErr: fmt.Errorf("sesion: %w", service.ErrNotFound), wantCalls: 1},
		{name: "store failure is retried", payload: `{"session_id":7}`, auditErr: errors.New("connection reset"), wantErr: true, wantCalls: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			audit := &fakeAudit{err: tc.auditErr}
			w := NewAuditWorker(audit)

			err := w.Process(context.Background(), json.RawMessage(tc.payload))
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, audit.audited, tc.wantCalls)
		})
	}
}

func TestDispatcher_BreakerOpensWhenRedisIsDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	cb := infra.NewCircuitBreaker(infra.CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: time.Hour})
	d := NewDispatcher(rdb, cb)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := d.EnqueueSessionClosed(ctx, 1)
		require.Error(t, err)
		assert.NotErrorIs(t, err, infra.ErrCircuitOpen)
	}
	assert.Equal(t, infra.CBOpen, cb.State())
	assert.ErrorIs(t, d.EnqueueSessionClosed(ctx, 1), infra.ErrCircuitOpen)
}

func TestStartAuditCron(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := StartAuditCron(ctx, AuditCronConfig{Spec: "not a spec", Audit: &fakeAudit{}})
	assert.Error(t, err)

	c, err := StartAuditCron(ctx, AuditCronConfig{Spec: "@every 1h", Audit: &fakeAudit{}})
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
}

func TestRunSweep_SkipsWhenCancelled(t *testing.T) {
	audit := &fakeAudit{}
	ctx, cancel := context.WithCancel(context.Background())

	runSweep(ctx, AuditCronConfig{Audit: audit, Window: time.Hour})
	assert.Equal(t, 1, audit.sweeps)

	cancel()
	runSweep(ctx, AuditCronConfig{Audit: audit, Window: time.Hour})
	assert.Equal(t, 1, audit.sweeps)
}

func TestNewDeadLetter(t *testing.T) {
	failedAt := time.Date(2026, 3, 2, 18, 30, 0, 0, time.FixedZone("CLT", -3*3600))

	t.Run("session closed job keeps the session", func(t *testing.T) {
		job := Job{ID: "job-1", Type: JobSessionClosed, Payload: json.RawMessage(`{"session_id":42}`), Attempts: 3}
		dl := newDeadLetter(QueueAudit, job, nil, "max attempts (3) exceeded: timeout", failedAt)

		require.NotNil(t, dl.SessionID)
		assert.Equal(t, uint(42), *dl.SessionID)
		assert.Equal(t, "job-1", dl.JobID)
		assert.Equal(t, 3, dl.Attempts)
		assert.Equal(t, time.UTC, dl.FailedAt.Location())
		assert.JSONEq(t, `{"session_id":42}`, string(dl.Payload))
	})

	t.Run("payload without session", func(t *testing.T) {
		job := Job{ID: "job-2", Type: JobSessionClosed, Payload: json.RawMessage(`{}`)}
		dl := newDeadLetter(QueueAudit, job, nil, "no handler", failedAt)
		assert.Nil(t, dl.SessionID)
	})

	t.Run("broken envelope is stored as a string", func(t *testing.T) {
		raw := []byte(`{"id":"job-3",`)
		dl := newDeadLetter(QueueAudit, Job{}, raw, "invalid job envelope", failedAt)

		assert.Equal(t, "unknown", dl.Type)
		assert.Nil(t, dl.SessionID)
		var stored string
		require.NoError(t, json.Unmarshal(dl.Payload, &stored))
		assert.Equal(t, string(raw), stored)

		encoded, err := json.Marshal(dl)
		require.NoError(t, err)
		assert.True(t, json.Valid(encoded))
	})
}
