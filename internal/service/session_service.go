package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bencidata/internal/authz"
	"bencidata/internal/dto"
	"bencidata/internal/metrics"
	"bencidata/internal/model"
	"bencidata/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	CloseActionClose = "close"
	CloseActionCheck = "check"
)

// CloseNotifier is told about every committed close so the audit worker can
// pick it up. Failures are logged and never undo the close.
type CloseNotifier interface {
	EnqueueSessionClosed(ctx context.Context, sessionID uint) error
}

type SessionService interface {
	Open(ctx context.Context, actor authz.Actor, req dto.OpenSessionRequest) (*dto.SessionResponse, error)
	Get(ctx context.Context, actor authz.Actor, sessionID uint) (*dto.SessionResponse, error)
	List(ctx context.Context, actor authz.Actor, branchID uint, limit int) ([]dto.SessionResponse, error)
	// StartView lists the shifts an actor can open plus the branch's active session.
	StartView(ctx context.Context, actor authz.Actor, branchID uint) (*dto.StartViewResponse, error)
	// Close settles the submitted final numerals and ends every other open
	// session of the branch. With action "check" nothing but the computed
	// sales flow and its gap against the declared money is stored.
	Close(ctx context.Context, actor authz.Actor, sessionID uint, req dto.CloseSessionRequest) (*dto.CloseSessionResponse, error)
	Report(ctx context.Context, actor authz.Actor, sessionID uint) (*dto.ReconciliationReport, error)
}

type sessionService struct {
	repo         repository.SessionRepository
	shiftRepo    repository.ShiftRepository
	branchRepo   repository.BranchRepository
	topologyRepo repository.TopologyRepository
	dispenseRepo repository.DispenseRepository
	loadRepo     repository.LoadRepository
	cashbookRepo repository.CashbookRepository
	audit        AuditService
	notifier     CloseNotifier
	metrics      *metrics.Metrics
	thresholds   DivergenceThresholds
	now          func() time.Time
}

// SessionDeps groups the collaborators of NewSessionService.
type SessionDeps struct {
	Sessions   repository.SessionRepository
	Shifts     repository.ShiftRepository
	Branches   repository.BranchRepository
	Topology   repository.TopologyRepository
	Dispenses  repository.DispenseRepository
	Loads      repository.LoadRepository
	Cashbook   repository.CashbookRepository
	Audit      AuditService
	Notifier   CloseNotifier
	Metrics    *metrics.Metrics
	Thresholds DivergenceThresholds
}

func NewSessionService(deps SessionDeps) SessionService {
	return &sessionService{
		repo:         deps.Sessions,
		shiftRepo:    deps.Shifts,
		branchRepo:   deps.Branches,
		topologyRepo: deps.Topology,
		dispenseRepo: deps.Dispenses,
		loadRepo:     deps.Loads,
		cashbookRepo: deps.Cashbook,
		audit:        deps.Audit,
		notifier:     deps.Notifier,
		metrics:      deps.Metrics,
		thresholds:   deps.Thresholds,
		now:          time.Now,
	}
}

// ── Open ──────────────────────────────────────────────────────────────────────

func (s *sessionService) Open(ctx context.Context, actor authz.Actor, req dto.OpenSessionRequest) (*dto.SessionResponse, error) {
	shift, err := s.shiftRepo.FindByID(ctx, req.ShiftID)
	if err != nil {
		return nil, notFound(err, "turno")
	}
	if !authz.Allowed(actor, authz.ActionOpenSession, shift.BranchID) {
		return nil, ErrForbidden
	}
	// head attendants may only open the shifts they manage
	if actor.Role == authz.RoleHeadAttendant && (shift.ManagerID == nil || *shift.ManagerID != actor.ProfileID) {
		return nil, ErrForbidden
	}

	v := validation{}
	ids := uniqueIDs(req.AttendantIDs)
	if len(ids) == 0 {
		v.add("attendant_ids", "Debe seleccionar al menos un bombero")
	}
	if req.CashAmount.IsNegative() {
		v.add("cash_amount", "El monto no puede ser negativo")
	}
	if req.CoinsAmount.IsNegative() {
		v.add("coins_amount", "El monto no puede ser negativo")
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	attendants, err := s.branchRepo.FindProfilesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(attendants) != len(ids) {
		return nil, invalid("attendant_ids", "Uno o mas bomberos no existen")
	}

	if _, err := s.repo.FindOpenByShift(ctx, shift.ID); err == nil {
		return nil, invalid("shift_id", "El turno ya tiene una sesion de servicio abierta")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	snapshot := make([]dto.AttendantSnapshot, 0, len(attendants))
	for _, a := range attendants {
		snapshot = append(snapshot, dto.AttendantSnapshot{ID: a.ID, Name: a.DisplayName()})
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}

	session := &model.ServiceSession{
		ShiftID:            shift.ID,
		BranchID:           shift.BranchID,
		Status:             model.SessionOpen,
		StartedAt:          s.now().UTC(),
		CashAmount:         req.CashAmount,
		CoinsAmount:        req.CoinsAmount,
		AttendantsSnapshot: raw,
		OpenedByID:         actor.ProfileID,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		// lost the race against a concurrent open: the partial unique index fired
		if isUniqueViolation(err) {
			return nil, invalid("shift_id", "El turno ya tiene una sesion de servicio abierta")
		}
		return nil, err
	}
	session.Shift = shift

	log.Info().
		Uint("session_id", session.ID).
		Uint("shift_id", shift.ID).
		Uint("branch_id", shift.BranchID).
		Int("attendants", len(snapshot)).
		Msg("service session opened")

	resp := sessionToResponse(session)
	return &resp, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *sessionService) load(ctx context.Context, actor authz.Actor, action authz.Action, sessionID uint) (*model.ServiceSession, error) {
	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, notFound(err, "sesion de servicio")
	}
	if !authz.Allowed(actor, action, session.BranchID) {
		return nil, ErrForbidden
	}
	return session, nil
}

func (s *sessionService) Get(ctx context.Context, actor authz.Actor, sessionID uint) (*dto.SessionResponse, error) {
	session, err := s.load(ctx, actor, authz.ActionViewSession, sessionID)
	if err != nil {
		return nil, err
	}
	resp := sessionToResponse(session)
	return &resp, nil
}

func (s *sessionService) List(ctx context.Context, actor authz.Actor, branchID uint, limit int) ([]dto.SessionResponse, error) {
	if !authz.Allowed(actor, authz.ActionViewSession, branchID) {
		return nil, ErrForbidden
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	sessions, err := s.repo.ListByBranch(ctx, branchID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]dto.SessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, sessionToResponse(&sessions[i]))
	}
	return out, nil
}

func (s *sessionService) StartView(ctx context.Context, actor authz.Actor, branchID uint) (*dto.StartViewResponse, error) {
	if !authz.Allowed(actor, authz.ActionViewSession, branchID) {
		return nil, ErrForbidden
	}
	shifts, err := s.shiftRepo.ListByBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	resp := &dto.StartViewResponse{BranchID: branchID, Shifts: make([]dto.ShiftResponse, 0, len(shifts))}
	for _, sh := range shifts {
		if actor.Role == authz.RoleHeadAttendant && (sh.ManagerID == nil || *sh.ManagerID != actor.ProfileID) {
			continue
		}
		resp.Shifts = append(resp.Shifts, shiftToResponse(sh))
	}

	active, err := s.repo.FindLatestOpenByBranch(ctx, branchID)
	switch {
	case err == nil:
		sr := sessionToResponse(active)
		resp.ActiveSession = &sr
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	return resp, nil
}

func (s *sessionService) Report(ctx context.Context, actor authz.Actor, sessionID uint) (*dto.ReconciliationReport, error) {
	session, err := s.load(ctx, actor, authz.ActionViewReport, sessionID)
	if err != nil {
		return nil, err
	}
	return s.audit.BuildReport(ctx, session)
}

// ── Close ─────────────────────────────────────────────────────────────────────

func (s *sessionService) Close(ctx context.Context, actor authz.Actor, sessionID uint, req dto.CloseSessionRequest) (*dto.CloseSessionResponse, error) {
	action := req.Action
	if action == "" {
		action = CloseActionClose
	}
	if action != CloseActionClose && action != CloseActionCheck {
		return nil, invalid("action", "Accion invalida")
	}

	session, err := s.load(ctx, actor, authz.ActionCloseSession, sessionID)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			s.metrics.RecordClose("forbidden")
		}
		return nil, err
	}
	if !session.IsOpen() {
		s.metrics.RecordClose("already_closed")
		return nil, ErrSessionClosed
	}

	finals := make(map[LinkKey]decimal.Decimal, len(req.Numerals))
	for _, n := range req.Numerals {
		key := LinkKey{MachineID: n.MachineID, FuelInventoryID: n.FuelInventoryID}
		if _, dup := finals[key]; dup {
			return nil, invalid("numeral["+key.String()+"]", "Numeral repetido")
		}
		finals[key] = n.Numeral
	}

	links, tanks, err := s.branchState(ctx, session.BranchID)
	if err != nil {
		return nil, err
	}

	st, err := Settle(links, tanks, finals, action == CloseActionClose)
	if err != nil {
		s.metrics.RecordClose("rejected")
		return nil, err
	}

	// events reported while a sibling session was the latest open one belong
	// to this close as well: the siblings end with it
	siblings, err := s.repo.ListOpenByBranch(ctx, session.BranchID)
	if err != nil {
		return nil, err
	}
	scope := []uint{session.ID}
	for _, sib := range siblings {
		if sib.ID != session.ID {
			scope = append(scope, sib.ID)
		}
	}
	dispensed, err := s.dispenseRepo.SumLitersByLink(ctx, scope...)
	if err != nil {
		return nil, err
	}
	lines := s.buildLines(session.ID, st, dispensed)

	if action == CloseActionCheck {
		return s.check(ctx, session, st, lines)
	}

	endedAt := s.now().UTC()
	var siblingsClosed int64
	err = runTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		ok, err := s.repo.MarkClosedTx(tx, session.ID, actor.ProfileID, endedAt)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSessionClosed
		}
		siblingsClosed, err = s.repo.CloseSiblingsTx(tx, session.BranchID, session.ID, actor.ProfileID, endedAt)
		if err != nil {
			return err
		}
		for _, l := range st.Lines {
			if l.Final.Equal(l.Previous) {
				continue
			}
			ok, err := s.topologyRepo.AdvanceNumeralTx(tx, l.LinkID, l.Previous, l.Final)
			if err != nil {
				return err
			}
			if !ok {
				key := LinkKey{MachineID: l.MachineID, FuelInventoryID: l.FuelInventoryID}
				return invalid("numeral["+key.String()+"]", "El numeral fue modificado por otra operacion, recargue e intente nuevamente")
			}
		}
		for _, t := range st.Tanks {
			if t.Delta.IsZero() {
				continue
			}
			ok, err := s.topologyRepo.SubtractLitersTx(tx, t.TankID, t.Delta)
			if err != nil {
				return err
			}
			if !ok {
				return invalid("tank["+t.Code+"]", "Inventario insuficiente en el tanque al momento del cierre")
			}
		}
		return s.repo.CreateLinesTx(tx, lines)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionClosed):
			s.metrics.RecordClose("already_closed")
		case IsValidation(err):
			s.metrics.RecordClose("rejected")
		}
		return nil, err
	}
	s.metrics.RecordClose("closed")

	critical := 0
	for _, l := range lines {
		pct, _ := DivergencePct(l.LitersSold, l.DispensedLiters).Float64()
		s.metrics.ObserveDivergence(l.Classification, pct)
		if l.Classification == DivergenceCritico {
			critical++
		}
	}
	log.Info().
		Uint("session_id", session.ID).
		Uint("branch_id", session.BranchID).
		Uint("closed_by", actor.ProfileID).
		Str("liters_sold", st.TotalLiters().StringFixed(2)).
		Int("critical_lines", critical).
		Int64("siblings_closed", siblingsClosed).
		Msg("service session closed")

	if s.notifier != nil {
		if err := s.notifier.EnqueueSessionClosed(ctx, session.ID); err != nil {
			log.Warn().Err(err).Uint("session_id", session.ID).Msg("could not enqueue close audit")
		}
	}

	resp := &dto.CloseSessionResponse{
		SessionID:      session.ID,
		Action:         CloseActionClose,
		Committed:      true,
		Status:         model.SessionClosed,
		Lines:          linesToResponse(lines),
		Tanks:          tanksToResponse(st),
		FlowDetails:    []dto.FlowDetailResponse{},
		MissingPrices:  []string{},
		SiblingsClosed: siblingsClosed,
	}
	return resp, nil
}

// check computes the preview and stores only the sales flow figures. The gap
// is the declared money (credit sales, card vouchers, withdrawals) minus the flow.
func (s *sessionService) check(ctx context.Context, session *model.ServiceSession, st *Settlement, lines []model.ReconciliationLine) (*dto.CloseSessionResponse, error) {
	prices, err := s.loadRepo.LatestPrices(ctx, session.BranchID)
	if err != nil {
		return nil, err
	}
	flow, details, missing := ComputeFlow(st, prices)
	totals, err := s.cashbookRepo.Totals(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	declared := totals.Declared()
	gap, kind, err := FlowMismatch(declared, flow)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateFlow(ctx, session.ID, flow, gap, kind); err != nil {
		return nil, err
	}
	s.metrics.RecordClose("checked")

	resp := &dto.CloseSessionResponse{
		SessionID:          session.ID,
		Action:             CloseActionCheck,
		Committed:          false,
		Status:             session.Status,
		Lines:              linesToResponse(lines),
		Tanks:              tanksToResponse(st),
		FlowAmount:         flow,
		FlowDetails:        make([]dto.FlowDetailResponse, 0, len(details)),
		MissingPrices:      missing,
		DeclaredAmount:     declared,
		FlowMismatchAmount: gap,
		FlowMismatchType:   kind,
	}
	if resp.MissingPrices == nil {
		resp.MissingPrices = []string{}
	}
	for _, fd := range details {
		resp.FlowDetails = append(resp.FlowDetails, dto.FlowDetailResponse(fd))
	}
	return resp, nil
}

// branchState loads every machine-tank link of the branch and the tanks they use.
func (s *sessionService) branchState(ctx context.Context, branchID uint) ([]LinkState, map[uint]TankState, error) {
	links, err := s.topologyRepo.ListLinksByBranch(ctx, branchID)
	if err != nil {
		return nil, nil, fmt.Errorf("listar vinculos: %w", err)
	}
	states := make([]LinkState, 0, len(links))
	tanks := make(map[uint]TankState)
	for _, l := range links {
		states = append(states, LinkState{
			LinkID:          l.ID,
			MachineID:       l.MachineID,
			FuelInventoryID: l.FuelInventoryID,
			Numeral:         l.Numeral,
		})
		if t := l.FuelInventory; t != nil {
			tanks[t.ID] = TankState{ID: t.ID, Code: t.Code, FuelType: t.FuelType, Capacity: t.Capacity, Liters: t.Liters}
		}
	}
	return states, tanks, nil
}

func (s *sessionService) buildLines(sessionID uint, st *Settlement, dispensed map[uint]decimal.Decimal) []model.ReconciliationLine {
	lines := make([]model.ReconciliationLine, 0, len(st.Lines))
	for _, l := range st.Lines {
		disp := dispensed[l.LinkID]
		pct := DivergencePct(l.LitersSold, disp)
		lines = append(lines, model.ReconciliationLine{
			SessionID:       sessionID,
			FuelLinkID:      l.LinkID,
			MachineID:       l.MachineID,
			FuelInventoryID: l.FuelInventoryID,
			PreviousNumeral: l.Previous,
			FinalNumeral:    l.Final,
			LitersSold:      l.LitersSold,
			DispensedLiters: disp,
			Divergence:      l.LitersSold.Sub(disp),
			Classification:  ClassifyDivergence(pct, s.thresholds),
		})
	}
	return lines
}

// ── Mapping ───────────────────────────────────────────────────────────────────

const isoLayout = time.RFC3339

func sessionToResponse(s *model.ServiceSession) dto.SessionResponse {
	resp := dto.SessionResponse{
		ID:                 s.ID,
		ShiftID:            s.ShiftID,
		BranchID:           s.BranchID,
		Status:             s.Status,
		StartedAt:          s.StartedAt.UTC().Format(isoLayout),
		CashAmount:         s.CashAmount,
		CoinsAmount:        s.CoinsAmount,
		Attendants:         []dto.AttendantSnapshot{},
		OpenedByID:         s.OpenedByID,
		ClosedByID:         s.ClosedByID,
		FlowAmount:         s.FlowAmount,
		FlowMismatchAmount: s.FlowMismatchAmount,
		FlowMismatchType:   s.FlowMismatchType,
	}
	if s.Shift != nil {
		resp.ShiftCode = s.Shift.Code
	}
	if s.EndedAt != nil {
		t := s.EndedAt.UTC().Format(isoLayout)
		resp.EndedAt = &t
	}
	if len(s.AttendantsSnapshot) > 0 {
		_ = json.Unmarshal(s.AttendantsSnapshot, &resp.Attendants)
	}
	if len(s.Lines) > 0 {
		resp.Lines = linesToResponse(s.Lines)
	}
	return resp
}

func linesToResponse(lines []model.ReconciliationLine) []dto.ReconciliationLineResponse {
	out := make([]dto.ReconciliationLineResponse, 0, len(lines))
	for _, l := range lines {
		out = append(out, dto.ReconciliationLineResponse{
			FuelLinkID:      l.FuelLinkID,
			MachineID:       l.MachineID,
			FuelInventoryID: l.FuelInventoryID,
			PreviousNumeral: l.PreviousNumeral,
			FinalNumeral:    l.FinalNumeral,
			LitersSold:      l.LitersSold,
			DispensedLiters: l.DispensedLiters,
			Divergence:      l.Divergence,
			DivergencePct:   DivergencePct(l.LitersSold, l.DispensedLiters),
			Classification:  l.Classification,
		})
	}
	return out
}

func tanksToResponse(st *Settlement) []dto.TankBalanceResponse {
	out := make([]dto.TankBalanceResponse, 0, len(st.Tanks))
	for _, t := range st.Tanks {
		out = append(out, dto.TankBalanceResponse{
			FuelInventoryID: t.TankID,
			Code:            t.Code,
			FuelType:        t.FuelType,
			LitersBefore:    t.LitersBefore,
			LitersSold:      t.Delta,
			LitersAfter:     t.LitersAfter,
		})
	}
	return out
}
