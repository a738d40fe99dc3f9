package worker

// audit_cron.go
// Periodic audit sweep: flags sessions left open too long, counts dispense
// events that could not be attributed to a session and reports how many audit
// jobs were dead-lettered.

import (
	"context"
	"time"

	"bencidata/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// AuditCronConfig holds all dependencies for the sweep.
type AuditCronConfig struct {
	Spec  string // robfig/cron spec, e.g. "@every 15m"
	Audit service.AuditService
	RDB   *redis.Client
	// Window is how far back unattributed events are counted.
	Window time.Duration
}

// StartAuditCron schedules the sweep and stops it when ctx is cancelled.
func StartAuditCron(ctx context.Context, cfg AuditCronConfig) (*cron.Cron, error) {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	c := cron.New()
	if _, err := c.AddFunc(cfg.Spec, func() { runSweep(ctx, cfg) }); err != nil {
		return nil, err
	}
	c.Start()
	log.Info().Str("spec", cfg.Spec).Msg("audit_cron: started")

	go func() {
		<-ctx.Done()
		stopped := c.Stop()
		<-stopped.Done()
		log.Info().Msg("audit_cron: shutting down")
	}()
	return c, nil
}

func runSweep(ctx context.Context, cfg AuditCronConfig) {
	if ctx.Err() != nil {
		return
	}
	res, err := cfg.Audit.Sweep(ctx, cfg.Window)
	if err != nil {
		log.Error().Err(err).Msg("audit_cron: sweep failed")
		return
	}

	evt := log.Info().
		Int("stale_sessions", res.StaleSessions).
		Int64("unattributed_events", res.UnattributedEvents)
	if cfg.RDB != nil {
		if n, err := DeadLetterCount(ctx, cfg.RDB, QueueAudit); err == nil {
			evt = evt.Int64("dead_letters", n)
		}
	}
	evt.Msg("audit_cron: sweep done")
}
