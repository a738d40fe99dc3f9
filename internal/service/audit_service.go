package service

import (
	"context"
	"fmt"
	"time"

	"bencidata/internal/dto"
	"bencidata/internal/metrics"
	"bencidata/internal/model"
	"bencidata/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// SweepResult summarises one periodic audit pass.
type SweepResult struct {
	StaleSessions      int
	UnattributedEvents int64
	UnattributedWindow time.Duration
}

type AuditService interface {
	// BuildReport returns the persisted lines of a closed session, or a live
	// preview of dispensed liters per link while it is still open.
	BuildReport(ctx context.Context, session *model.ServiceSession) (*dto.ReconciliationReport, error)
	// AuditClosedSession is run by the worker after every committed close.
	AuditClosedSession(ctx context.Context, sessionID uint) error
	// Sweep flags sessions open too long and counts unattributed dispense events.
	Sweep(ctx context.Context, window time.Duration) (*SweepResult, error)
}

type auditService struct {
	sessionRepo  repository.SessionRepository
	dispenseRepo repository.DispenseRepository
	loadRepo     repository.LoadRepository
	cashbookRepo repository.CashbookRepository
	topologyRepo repository.TopologyRepository
	metrics      *metrics.Metrics
	thresholds   DivergenceThresholds
	maxAge       time.Duration
	now          func() time.Time
}

func NewAuditService(
	sessionRepo repository.SessionRepository,
	dispenseRepo repository.DispenseRepository,
	loadRepo repository.LoadRepository,
	cashbookRepo repository.CashbookRepository,
	topologyRepo repository.TopologyRepository,
	m *metrics.Metrics,
	thresholds DivergenceThresholds,
	maxAge time.Duration,
) AuditService {
	return &auditService{
		sessionRepo:  sessionRepo,
		dispenseRepo: dispenseRepo,
		loadRepo:     loadRepo,
		cashbookRepo: cashbookRepo,
		topologyRepo: topologyRepo,
		metrics:      m,
		thresholds:   thresholds,
		maxAge:       maxAge,
		now:          time.Now,
	}
}

func (s *auditService) BuildReport(ctx context.Context, session *model.ServiceSession) (*dto.ReconciliationReport, error) {
	events, err := s.dispenseRepo.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("listar eventos: %w", err)
	}

	report := &dto.ReconciliationReport{
		SessionID:      session.ID,
		Status:         session.Status,
		TotalSold:      decimal.Zero,
		TotalDispensed: decimal.Zero,
		EventCount:     len(events),
		FuelLoads:      []dto.FuelLoadResponse{},
		ProductLoads:   []dto.ProductLoadResponse{},
	}

	if session.IsOpen() {
		lines, err := s.livePreview(ctx, session.BranchID, events)
		if err != nil {
			return nil, err
		}
		report.Lines = lines
	} else {
		report.Lines = linesToResponse(session.Lines)
	}
	for _, l := range report.Lines {
		report.TotalSold = report.TotalSold.Add(l.LitersSold)
		report.TotalDispensed = report.TotalDispensed.Add(l.DispensedLiters)
		if l.Classification == DivergenceCritico {
			report.Critical++
		}
	}

	fuelLoads, err := s.loadRepo.ListFuelLoads(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	for _, l := range fuelLoads {
		report.FuelLoads = append(report.FuelLoads, dto.FuelLoadResponse{
			ID:              l.ID,
			SessionID:       l.SessionID,
			FuelInventoryID: l.FuelInventoryID,
			LitersAdded:     l.LitersAdded,
			PaymentAmount:   l.PaymentAmount,
			InvoiceNumber:   l.InvoiceNumber,
			ResponsibleID:   l.ResponsibleID,
			DriverName:      l.DriverName,
			LicensePlate:    l.LicensePlate,
			Date:            l.Date.Format("2006-01-02"),
		})
	}
	productLoads, err := s.loadRepo.ListProductLoads(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	for _, l := range productLoads {
		report.ProductLoads = append(report.ProductLoads, dto.ProductLoadResponse{
			ID:              l.ID,
			SessionID:       l.SessionID,
			BranchProductID: l.BranchProductID,
			QuantityAdded:   l.QuantityAdded,
			PaymentAmount:   l.PaymentAmount,
			InvoiceNumber:   l.InvoiceNumber,
			ResponsibleID:   l.ResponsibleID,
		})
	}

	totals, err := s.cashbookRepo.Totals(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	report.Totals = totalsToResponse(totals)
	return report, nil
}

// livePreview lists every link of the branch with the liters dispensed so far.
// Meter numerals are unknown until close, so nothing is classified.
func (s *auditService) livePreview(ctx context.Context, branchID uint, events []model.DispenseEvent) ([]dto.ReconciliationLineResponse, error) {
	links, err := s.topologyRepo.ListLinksByBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	dispensed := make(map[uint]decimal.Decimal)
	for _, e := range events {
		if e.FuelLinkID != nil {
			dispensed[*e.FuelLinkID] = dispensed[*e.FuelLinkID].Add(e.Liters)
		}
	}
	out := make([]dto.ReconciliationLineResponse, 0, len(links))
	for _, l := range links {
		out = append(out, dto.ReconciliationLineResponse{
			FuelLinkID:      l.ID,
			MachineID:       l.MachineID,
			FuelInventoryID: l.FuelInventoryID,
			PreviousNumeral: l.Numeral,
			DispensedLiters: dispensed[l.ID],
		})
	}
	return out, nil
}

func (s *auditService) AuditClosedSession(ctx context.Context, sessionID uint) error {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return notFound(err, "sesion de servicio")
	}
	if session.IsOpen() {
		return fmt.Errorf("sesion %d todavia abierta", sessionID)
	}

	unattributed := decimal.Zero
	events, err := s.dispenseRepo.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, e := range events {
		if e.FuelLinkID == nil {
			unattributed = unattributed.Add(e.Liters)
		}
	}

	critical := 0
	for _, l := range session.Lines {
		// re-classify with the current thresholds, the stored label may predate a config change
		class := ClassifyDivergence(DivergencePct(l.LitersSold, l.DispensedLiters), s.thresholds)
		if class != DivergenceCritico {
			continue
		}
		critical++
		log.Warn().
			Uint("session_id", sessionID).
			Uint("machine_id", l.MachineID).
			Uint("fuel_inventory_id", l.FuelInventoryID).
			Str("liters_sold", l.LitersSold.StringFixed(2)).
			Str("dispensed_liters", l.DispensedLiters.StringFixed(2)).
			Msg("critical reconciliation divergence")
	}

	log.Info().
		Uint("session_id", sessionID).
		Int("lines", len(session.Lines)).
		Int("critical_lines", critical).
		Int("events", len(events)).
		Str("unlinked_liters", unattributed.StringFixed(2)).
		Msg("session audit completed")
	return nil
}

func (s *auditService) Sweep(ctx context.Context, window time.Duration) (*SweepResult, error) {
	now := s.now().UTC()
	res := &SweepResult{UnattributedWindow: window}

	if s.maxAge > 0 {
		stale, err := s.sessionRepo.ListOpenStartedBefore(ctx, now.Add(-s.maxAge))
		if err != nil {
			return nil, err
		}
		for _, sess := range stale {
			log.Warn().
				Uint("session_id", sess.ID).
				Uint("branch_id", sess.BranchID).
				Time("started_at", sess.StartedAt).
				Msg("service session open longer than allowed")
		}
		res.StaleSessions = len(stale)
	}

	n, err := s.dispenseRepo.CountUnattributedSince(ctx, now.Add(-window))
	if err != nil {
		return nil, err
	}
	res.UnattributedEvents = n
	if n > 0 {
		log.Warn().Int64("events", n).Dur("window", window).Msg("dispense events without session")
	}

	s.metrics.SetStaleSessions(res.StaleSessions)
	s.metrics.SetUnattributedEvents(n)
	return res, nil
}
