package worker

// audit_worker.go
// Processes session_closed jobs from QueueAudit: re-reads the persisted
// reconciliation lines of the session and logs critical divergences.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bencidata/internal/service"

	"github.com/rs/zerolog/log"
)

type AuditWorker struct {
	audit service.AuditService
}

func NewAuditWorker(audit service.AuditService) *AuditWorker {
	return &AuditWorker{audit: audit}
}

// Process returns nil for payloads that can never succeed so they are not retried.
func (w *AuditWorker) Process(ctx context.Context, raw json.RawMessage) error {
	var payload SessionClosedPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.SessionID == 0 {
		log.Error().Err(err).Str("payload", string(raw)).Msg("audit_worker: invalid payload")
		return nil
	}

	err := w.audit.AuditClosedSession(ctx, payload.SessionID)
	if errors.Is(err, service.ErrNotFound) {
		log.Warn().Uint("session_id", payload.SessionID).Msg("audit_worker: session no longer exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("auditar sesion %d: %w", payload.SessionID, err)
	}
	return nil
}
