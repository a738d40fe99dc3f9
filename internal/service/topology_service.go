package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bencidata/internal/authz"
	"bencidata/internal/dto"
	"bencidata/internal/model"
	"bencidata/internal/repository"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type TopologyService interface {
	RegisterTank(ctx context.Context, actor authz.Actor, branchID uint, req dto.CreateTankRequest) (*dto.TankResponse, error)
	RegisterIsland(ctx context.Context, actor authz.Actor, branchID uint, req dto.CreateIslandRequest) (*dto.IslandResponse, error)
	RegisterMachine(ctx context.Context, actor authz.Actor, branchID uint, req dto.CreateMachineRequest) (*dto.MachineResponse, error)
	RegisterNozzle(ctx context.Context, actor authz.Actor, branchID uint, req dto.CreateNozzleRequest) (*dto.NozzleResponse, error)
	RegisterShift(ctx context.Context, actor authz.Actor, branchID uint, req dto.CreateShiftRequest) (*dto.ShiftResponse, error)
	GetBranchTopology(ctx context.Context, actor authz.Actor, branchID uint) (*dto.TopologyResponse, error)

	// ResolveNozzle matches identifier by nozzle code first, then by number when
	// numeric. A nil branchID searches every branch and requires a unique match.
	// Misses return found=false and a nil error.
	ResolveNozzle(ctx context.Context, branchID *uint, identifier string) (*dto.NozzleResolution, bool, error)
}

type topologyService struct {
	repo       repository.TopologyRepository
	shiftRepo  repository.ShiftRepository
	branchRepo repository.BranchRepository
	cache      *cache.Cache
}

func NewTopologyService(repo repository.TopologyRepository, shiftRepo repository.ShiftRepository, branchRepo repository.BranchRepository, ttl time.Duration) TopologyService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &topologyService{
		repo:       repo,
		shiftRepo:  shiftRepo,
		branchRepo: branchRepo,
		cache:      cache.New(ttl, 2*ttl),
	}
}

func (s *topologyService) authorize(actor authz.Actor, action authz.Action, branchID uint) error {
	if !authz.Allowed(actor, action, branchID) {
		return ErrForbidden
	}
	return nil
}

func (s *topologyService) ensureBranch(ctx context.Context, branchID uint) error {
	if _, err := s.branchRepo.FindByID(ctx, branchID); err != nil {
		return notFound(err, "sucursal")
	}
	return nil
}

// ── Registration ──────────────────────────────────────────────────────────────

func (s *topologyService) RegisterTank(ctx context.Context, actor authz.Actor, branchID uint, req dto.CreateTankRequest) (*dto.TankResponse, error) {
	if err := s.authorize(actor, authz.ActionManageTopology, branchID); err != nil {
		return nil, err
	}
	if err := s.ensureBranch(ctx, branchID); err != nil {
		return nil, err
	}
	if req.Liters.GreaterThan(req.Capacity) {
		return nil, invalid("liters", "Los litros iniciales no pueden superar la capacidad")
	}
	tank := &model.FuelInventory{
		BranchID: branchID,
		Code:     strings.TrimSpace(req.Code),
		FuelType: strings.TrimSpace(req.FuelType),
		Capacity: req.Capacity,
		Liters:   req.Liters,
	}
	if err := s.repo.CreateTank(ctx, tank); err != nil {
		if isUniqueViolation(err) {
			return nil, invalid("code", "Ya existe un tanque con este codigo en la sucursal")
		}
		return nil, err
	}
	resp := tankToResponse(tank)
	return &resp, nil
}

func (s *topologyService) RegisterIsland(ctx context.Context, actor authz.Actor, branchID uint, req dto.CreateIslandRequest) (*dto.IslandResponse, error) {
	if err := s.authorize(actor, authz.ActionManageTopology, branchID); err != nil {
		return nil, err
	}
	if err := s.ensureBranch(ctx, branchID); err != nil {
		return nil, err
	}
	island := &model.Island{BranchID: branchID, Number: req.Number, Description: req.Description}
	if err := s.repo.CreateIsland(ctx, island); err != nil {
		if isUniqueViolation(err) {
			return nil, invalid("number", "Ya existe una isla con este numero en la sucursal")
		}
		return nil, err
	}
	return &dto.IslandResponse{
		ID:          island.ID,
		BranchID:    island.BranchID,
		Number:      island.Number,
		Description: island.Description,
		Machines:    []dto.MachineResponse{},
	}, nil
}

func (s *topologyService) RegisterMachine(ctx context.Context, actor authz.Actor, branchID uint, req dto.CreateMachineRequest) (*dto.MachineResponse, error) {
	if err := s.authorize(actor, authz.ActionManageTopology, branchID); err != nil {
		return nil, err
	}
	island, err := s.repo.FindIslandByID(ctx, req.IslandID)
	if err != nil {
		return nil, notFound(err, "isla")
	}
	if island.BranchID != branchID {
		return nil, invalid("island_id", "La isla no pertenece a la sucursal")
	}

	v := validation{}
	seen := map[uint]bool{}
	links := make([]model.MachineFuelLink, 0, len(req.Links))
	for i, l := range req.Links {
		field := fmt.Sprintf("links[%d]", i)
		if seen[l.FuelInventoryID] {
			v.add(field, "Tanque repetido")
			continue
		}
		seen[l.FuelInventoryID] = true
		tank, err := s.repo.FindTankByID(ctx, l.FuelInventoryID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				v.add(field, "Tanque inexistente")
				continue
			}
			return nil, err
		}
		if tank.BranchID != branchID {
			v.add(field, "El tanque no pertenece a la sucursal")
			continue
		}
		if l.Numeral.IsNegative() {
			v.add(field, "El numeral no puede ser negativo")
			continue
		}
		links = append(links, model.MachineFuelLink{FuelInventoryID: l.FuelInventoryID, Numeral: l.Numeral})
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	machine := &model.Machine{
		IslandID:    island.ID,
		Number:      req.Number,
		FuelType:    req.FuelType,
		Description: req.Description,
	}
	err = runTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		return s.repo.CreateMachineTx(tx, machine, links)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, invalid("number", "Ya existe una maquina con este numero en la isla")
		}
		return nil, err
	}
	s.cache.Flush()
	resp := machineToResponse(*machine)
	return &resp, nil
}

func (s *topologyService) RegisterNozzle(ctx context.Context, actor authz.Actor, branchID uint, req dto.CreateNozzleRequest) (*dto.NozzleResponse, error) {
	if err := s.authorize(actor, authz.ActionManageTopology, branchID); err != nil {
		return nil, err
	}
	machine, err := s.repo.FindMachineByID(ctx, req.MachineID)
	if err != nil {
		return nil, notFound(err, "maquina")
	}
	if machine.Island == nil || machine.Island.BranchID != branchID {
		return nil, invalid("machine_id", "La maquina no pertenece a la sucursal")
	}

	nozzle := &model.Nozzle{
		MachineID: machine.ID,
		BranchID:  branchID,
		Number:    req.Number,
		Code:      strings.TrimSpace(req.Code),
	}
	if req.FuelInventoryID != nil {
		var linkID *uint
		for _, l := range machine.Links {
			if l.FuelInventoryID == *req.FuelInventoryID {
				id := l.ID
				linkID = &id
				break
			}
		}
		if linkID == nil {
			return nil, invalid("fuel_inventory_id", "La maquina no esta vinculada a este tanque")
		}
		nozzle.FuelLinkID = linkID
	}

	if err := s.repo.CreateNozzle(ctx, nozzle); err != nil {
		if isUniqueViolation(err) {
			return nil, invalid("code", "Codigo o numero de pistola duplicado")
		}
		return nil, err
	}
	s.cache.Flush()
	resp := nozzleToResponse(*nozzle)
	return &resp, nil
}

func (s *topologyService) RegisterShift(ctx context.Context, actor authz.Actor, branchID uint, req dto.CreateShiftRequest) (*dto.ShiftResponse, error) {
	if err := s.authorize(actor, authz.ActionManageTopology, branchID); err != nil {
		return nil, err
	}
	if err := s.ensureBranch(ctx, branchID); err != nil {
		return nil, err
	}

	v := validation{}
	start, errStart := time.Parse("15:04", req.StartTime)
	end, errEnd := time.Parse("15:04", req.EndTime)
	if errStart != nil {
		v.add("start_time", "Formato HH:MM")
	}
	if errEnd != nil {
		v.add("end_time", "Formato HH:MM")
	}
	if errStart == nil && errEnd == nil && !start.Before(end) {
		v.add("end_time", "La hora de termino debe ser posterior a la de inicio")
	}

	var manager *model.Profile
	if req.ManagerID != nil {
		p, err := s.branchRepo.FindProfileByID(ctx, *req.ManagerID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			v.add("manager_id", "Encargado inexistente")
		case err != nil:
			return nil, err
		default:
			manager = p
		}
	}
	attendants, err := s.branchRepo.FindProfilesByIDs(ctx, uniqueIDs(req.AttendantIDs))
	if err != nil {
		return nil, err
	}
	if len(attendants) != len(uniqueIDs(req.AttendantIDs)) {
		v.add("attendant_ids", "Uno o mas bomberos no existen")
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	shift := &model.Shift{
		BranchID:    branchID,
		Code:        strings.TrimSpace(req.Code),
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		ManagerID:   req.ManagerID,
		Manager:     manager,
		Attendants:  attendants,
	}
	if err := s.shiftRepo.Create(ctx, shift); err != nil {
		if isUniqueViolation(err) {
			return nil, invalid("code", "Ya existe un turno con este codigo en la sucursal")
		}
		return nil, err
	}
	resp := shiftToResponse(*shift)
	return &resp, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *topologyService) GetBranchTopology(ctx context.Context, actor authz.Actor, branchID uint) (*dto.TopologyResponse, error) {
	if err := s.authorize(actor, authz.ActionViewTopology, branchID); err != nil {
		return nil, err
	}
	if err := s.ensureBranch(ctx, branchID); err != nil {
		return nil, err
	}
	tanks, err := s.repo.ListTanks(ctx, branchID)
	if err != nil {
		return nil, err
	}
	islands, err := s.repo.ListIslands(ctx, branchID)
	if err != nil {
		return nil, err
	}
	nozzles, err := s.repo.ListNozzles(ctx, branchID)
	if err != nil {
		return nil, err
	}
	shifts, err := s.shiftRepo.ListByBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}

	byMachine := make(map[uint][]dto.NozzleResponse)
	for _, n := range nozzles {
		byMachine[n.MachineID] = append(byMachine[n.MachineID], nozzleToResponse(n))
	}

	resp := &dto.TopologyResponse{
		BranchID: branchID,
		Tanks:    make([]dto.TankResponse, 0, len(tanks)),
		Islands:  make([]dto.IslandResponse, 0, len(islands)),
		Shifts:   make([]dto.ShiftResponse, 0, len(shifts)),
	}
	for i := range tanks {
		resp.Tanks = append(resp.Tanks, tankToResponse(&tanks[i]))
	}
	for _, isl := range islands {
		ir := dto.IslandResponse{
			ID:          isl.ID,
			BranchID:    isl.BranchID,
			Number:      isl.Number,
			Description: isl.Description,
			Machines:    make([]dto.MachineResponse, 0, len(isl.Machines)),
		}
		for _, m := range isl.Machines {
			mr := machineToResponse(m)
			mr.Nozzles = byMachine[m.ID]
			ir.Machines = append(ir.Machines, mr)
		}
		resp.Islands = append(resp.Islands, ir)
	}
	for _, sh := range shifts {
		resp.Shifts = append(resp.Shifts, shiftToResponse(sh))
	}
	return resp, nil
}

// ── Resolution ────────────────────────────────────────────────────────────────

func resolutionKey(branchID *uint, identifier string) string {
	if branchID == nil {
		return "*:" + identifier
	}
	return strconv.FormatUint(uint64(*branchID), 10) + ":" + identifier
}

func (s *topologyService) ResolveNozzle(ctx context.Context, branchID *uint, identifier string) (*dto.NozzleResolution, bool, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, false, nil
	}
	key := resolutionKey(branchID, identifier)
	if cached, ok := s.cache.Get(key); ok {
		res := cached.(dto.NozzleResolution)
		return &res, true, nil
	}

	nozzles, err := s.repo.FindNozzlesByCode(ctx, branchID, identifier)
	if err != nil {
		return nil, false, err
	}
	if len(nozzles) == 0 {
		if number, convErr := strconv.Atoi(identifier); convErr == nil {
			nozzles, err = s.repo.FindNozzlesByNumber(ctx, branchID, number)
			if err != nil {
				return nil, false, err
			}
		}
	}
	if len(nozzles) != 1 {
		if len(nozzles) > 1 {
			log.Warn().Str("nozzle_ref", identifier).Msg("nozzle identifier is ambiguous, leaving unresolved")
		}
		return nil, false, nil
	}

	n := nozzles[0]
	res := dto.NozzleResolution{
		NozzleID:   n.ID,
		BranchID:   n.BranchID,
		MachineID:  n.MachineID,
		FuelLinkID: n.FuelLinkID,
	}
	if n.FuelLink != nil {
		tankID := n.FuelLink.FuelInventoryID
		res.FuelInventoryID = &tankID
	}
	s.cache.SetDefault(key, res)
	return &res, true, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// isUniqueViolation recognises duplicate-key errors from postgres and sqlite.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "sqlstate 23505")
}

func tankToResponse(t *model.FuelInventory) dto.TankResponse {
	return dto.TankResponse{
		ID:       t.ID,
		BranchID: t.BranchID,
		Code:     t.Code,
		FuelType: t.FuelType,
		Capacity: t.Capacity,
		Liters:   t.Liters,
	}
}

func machineToResponse(m model.Machine) dto.MachineResponse {
	links := make([]dto.LinkResponse, 0, len(m.Links))
	for _, l := range m.Links {
		links = append(links, dto.LinkResponse{
			ID:              l.ID,
			MachineID:       l.MachineID,
			FuelInventoryID: l.FuelInventoryID,
			Numeral:         l.Numeral,
		})
	}
	return dto.MachineResponse{
		ID:          m.ID,
		IslandID:    m.IslandID,
		Number:      m.Number,
		FuelType:    m.FuelType,
		Description: m.Description,
		Links:       links,
	}
}

func nozzleToResponse(n model.Nozzle) dto.NozzleResponse {
	return dto.NozzleResponse{
		ID:         n.ID,
		MachineID:  n.MachineID,
		BranchID:   n.BranchID,
		Number:     n.Number,
		Code:       n.Code,
		FuelLinkID: n.FuelLinkID,
	}
}

func shiftToResponse(sh model.Shift) dto.ShiftResponse {
	attendants := make([]dto.AttendantSnapshot, 0, len(sh.Attendants))
	for _, a := range sh.Attendants {
		attendants = append(attendants, dto.AttendantSnapshot{ID: a.ID, Name: a.DisplayName()})
	}
	return dto.ShiftResponse{
		ID:          sh.ID,
		BranchID:    sh.BranchID,
		Code:        sh.Code,
		Description: sh.Description,
		StartTime:   sh.StartTime,
		EndTime:     sh.EndTime,
		ManagerID:   sh.ManagerID,
		Attendants:  attendants,
	}
}
