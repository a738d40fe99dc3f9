package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"bencidata/internal/dto"
	"bencidata/internal/metrics"
	"bencidata/internal/model"
	"bencidata/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrMalformedPayload is returned for device reports that cannot be recorded.
// Its message is sent back to the device as plain text.
type ErrMalformedPayload struct{ Msg string }

func (e *ErrMalformedPayload) Error() string { return e.Msg }

var (
	errBadJSON       = &ErrMalformedPayload{Msg: "JSON invalido"}
	errMissingFields = &ErrMalformedPayload{Msg: "Faltan campos 'uid' o 'litros'"}
	errBadLiters     = &ErrMalformedPayload{Msg: "El campo 'litros' debe ser un numero mayor a cero"}
)

// ParseDispensePayload decodes a device report:
//
//	{"uid": "...", "litros": 12.5, "pistola": "P1" | 3, "timestamp": "..."}
//
// litros may arrive as a JSON number or as a numeric string.
func ParseDispensePayload(body []byte) (*dto.DispensePayload, error) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return nil, errBadJSON
	}

	uidRaw, okUID := raw["uid"]
	litersRaw, okLiters := raw["litros"]
	if !okUID || !okLiters || isJSONNull(uidRaw) || isJSONNull(litersRaw) {
		return nil, errMissingFields
	}

	var uid string
	if err := json.Unmarshal(uidRaw, &uid); err != nil {
		// numeric tags are accepted as their literal text
		var n json.Number
		if err := json.Unmarshal(uidRaw, &n); err != nil {
			return nil, errMissingFields
		}
		uid = n.String()
	}
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, errMissingFields
	}

	liters, err := parseLiters(litersRaw)
	if err != nil {
		return nil, err
	}

	p := &dto.DispensePayload{UID: uid, Liters: liters}
	if ref := scalarText(raw["pistola"]); ref != "" {
		p.NozzleRef = &ref
	}
	if ts := scalarText(raw["timestamp"]); ts != "" {
		p.DeviceTimestamp = &ts
	}
	return p, nil
}

func parseLiters(raw json.RawMessage) (decimal.Decimal, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return decimal.Zero, errBadLiters
		}
		text = n.String()
	}
	liters, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil || !liters.IsPositive() {
		return decimal.Zero, errBadLiters
	}
	return liters.Round(2), nil
}

// scalarText returns a string or number field as text, "" for anything else.
func scalarText(raw json.RawMessage) string {
	if len(raw) == 0 || isJSONNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func isJSONNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// ── Ingestion ─────────────────────────────────────────────────────────────────

type DispenseService interface {
	// Ingest records the event whatever could be resolved. Only store
	// failures return an error.
	Ingest(ctx context.Context, p *dto.DispensePayload) (*dto.DispenseAck, error)
}

type dispenseService struct {
	repo         repository.DispenseRepository
	topology     TopologyService
	topologyRepo repository.TopologyRepository
	sessionRepo  repository.SessionRepository
	branchRepo   repository.BranchRepository
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewDispenseService(
	repo repository.DispenseRepository,
	topology TopologyService,
	topologyRepo repository.TopologyRepository,
	sessionRepo repository.SessionRepository,
	branchRepo repository.BranchRepository,
	m *metrics.Metrics,
) DispenseService {
	return &dispenseService{
		repo:         repo,
		topology:     topology,
		topologyRepo: topologyRepo,
		sessionRepo:  sessionRepo,
		branchRepo:   branchRepo,
		metrics:      m,
		now:          time.Now,
	}
}

func (s *dispenseService) Ingest(ctx context.Context, p *dto.DispensePayload) (*dto.DispenseAck, error) {
	event := &model.DispenseEvent{
		ActorUID:        p.UID,
		Liters:          p.Liters,
		NozzleRef:       p.NozzleRef,
		DeviceTimestamp: p.DeviceTimestamp,
		CreatedAt:       s.now().UTC(),
	}
	logger := log.With().Str("uid", p.UID).Str("liters", p.Liters.StringFixed(2)).Logger()

	if p.NozzleRef != nil {
		res, found, err := s.topology.ResolveNozzle(ctx, nil, *p.NozzleRef)
		switch {
		case err != nil:
			logger.Warn().Err(err).Str("nozzle_ref", *p.NozzleRef).Msg("nozzle resolution failed")
		case !found:
			logger.Info().Str("nozzle_ref", *p.NozzleRef).Msg("nozzle not resolved")
		default:
			event.NozzleID = &res.NozzleID
			event.BranchID = &res.BranchID
			event.FuelLinkID = res.FuelLinkID
			event.FuelInventoryID = res.FuelInventoryID
		}
	}

	if event.BranchID != nil {
		session, err := s.sessionRepo.FindLatestOpenByBranch(ctx, *event.BranchID)
		switch {
		case err == nil:
			event.ServiceSessionID = &session.ID
		case errors.Is(err, gorm.ErrRecordNotFound):
			logger.Info().Uint("branch_id", *event.BranchID).Msg("no open session for branch")
		default:
			logger.Warn().Err(err).Msg("session lookup failed")
		}
	}

	profile, err := s.branchRepo.FindProfileByHardwareUID(ctx, p.UID)
	switch {
	case err == nil:
		event.ProfileID = &profile.ID
	case errors.Is(err, gorm.ErrRecordNotFound):
		logger.Info().Msg("hardware uid does not match any active profile")
	default:
		logger.Warn().Err(err).Msg("profile lookup failed")
	}

	err = runTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		if event.FuelInventoryID != nil {
			applied, err := s.topologyRepo.SubtractLitersTx(tx, *event.FuelInventoryID, p.Liters)
			if err != nil {
				return err
			}
			event.TankApplied = applied
			if !applied {
				logger.Warn().Uint("fuel_inventory_id", *event.FuelInventoryID).Msg("tank balance too low, decrement skipped")
			}
		}
		return s.repo.CreateTx(tx, event)
	})
	if err != nil {
		return nil, err
	}

	attribution := metrics.AttributionNone
	switch {
	case event.Attributed():
		attribution = metrics.AttributionSession
	case event.NozzleID != nil:
		attribution = metrics.AttributionNozzle
	}
	liters, _ := p.Liters.Float64()
	s.metrics.RecordDispense(attribution, liters, event.TankApplied, event.FuelInventoryID != nil)

	logger.Info().
		Uint("event_id", event.ID).
		Str("attribution", attribution).
		Bool("tank_applied", event.TankApplied).
		Msg("dispense event recorded")

	return &dto.DispenseAck{
		Status:     "ok",
		EventID:    event.ID,
		ReceivedAt: event.CreatedAt.Format(time.RFC3339),
	}, nil
}
