package service

import (
	"context"
	"strings"
	"time"

	"bencidata/internal/authz"
	"bencidata/internal/dto"
	"bencidata/internal/model"
	"bencidata/internal/repository"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// LoadService records deliveries received during a session and maintains the
// branch catalog they refer to (shop products and fuel prices).
type LoadService interface {
	RecordFuelLoad(ctx context.Context, actor authz.Actor, sessionID uint, req dto.FuelLoadRequest) (*dto.FuelLoadResponse, error)
	RecordProductLoad(ctx context.Context, actor authz.Actor, sessionID uint, req dto.ProductLoadRequest) (*dto.ProductLoadResponse, error)
	RegisterProduct(ctx context.Context, actor authz.Actor, branchID uint, req dto.CreateProductRequest) (*dto.ProductResponse, error)
	RegisterPrice(ctx context.Context, actor authz.Actor, branchID uint, req dto.CreatePriceRequest) (*dto.PriceResponse, error)
}

type loadService struct {
	repo         repository.LoadRepository
	sessionRepo  repository.SessionRepository
	topologyRepo repository.TopologyRepository
	branchRepo   repository.BranchRepository
	now          func() time.Time
}

func NewLoadService(
	repo repository.LoadRepository,
	sessionRepo repository.SessionRepository,
	topologyRepo repository.TopologyRepository,
	branchRepo repository.BranchRepository,
) LoadService {
	return &loadService{
		repo:         repo,
		sessionRepo:  sessionRepo,
		topologyRepo: topologyRepo,
		branchRepo:   branchRepo,
		now:          time.Now,
	}
}

// openSession loads the session, checks the actor may record loads on its
// branch and returns the shift manager as the responsible profile.
func (s *loadService) openSession(ctx context.Context, actor authz.Actor, sessionID uint) (*model.ServiceSession, uint, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, 0, notFound(err, "sesion de servicio")
	}
	if !authz.Allowed(actor, authz.ActionRecordLoad, session.BranchID) {
		return nil, 0, ErrForbidden
	}
	if !session.IsOpen() {
		return nil, 0, ErrSessionClosed
	}
	if session.Shift == nil || session.Shift.ManagerID == nil {
		return nil, 0, invalid("shift", "El turno no tiene un encargado asignado")
	}
	return session, *session.Shift.ManagerID, nil
}

// ── Fuel loads ────────────────────────────────────────────────────────────────

func (s *loadService) RecordFuelLoad(ctx context.Context, actor authz.Actor, sessionID uint, req dto.FuelLoadRequest) (*dto.FuelLoadResponse, error) {
	session, responsible, err := s.openSession(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	v := validation{}
	if !req.LitersAdded.IsPositive() {
		v.add("liters_added", "Los litros deben ser mayores a cero")
	}
	if req.PaymentAmount.IsNegative() {
		v.add("payment_amount", "El monto no puede ser negativo")
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	tank, err := s.topologyRepo.FindTankByID(ctx, req.FuelInventoryID)
	if err != nil {
		return nil, notFound(err, "tanque")
	}
	if tank.BranchID != session.BranchID {
		return nil, invalid("fuel_inventory_id", "El tanque no pertenece a la sucursal de la sesion")
	}
	if tank.Liters.Add(req.LitersAdded).GreaterThan(tank.Capacity) {
		return nil, invalid("liters_added", "La carga excede la capacidad del tanque")
	}

	now := s.now().UTC()
	load := &model.FuelLoad{
		SessionID:       session.ID,
		FuelInventoryID: tank.ID,
		LitersAdded:     req.LitersAdded,
		PaymentAmount:   req.PaymentAmount,
		InvoiceNumber:   strings.TrimSpace(req.InvoiceNumber),
		ResponsibleID:   responsible,
		DriverName:      strings.TrimSpace(req.DriverName),
		LicensePlate:    strings.ToUpper(strings.TrimSpace(req.LicensePlate)),
		Date:            time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
	}
	err = runTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		ok, err := s.topologyRepo.AddLitersTx(tx, tank.ID, req.LitersAdded)
		if err != nil {
			return err
		}
		// another load got in between the read and the update
		if !ok {
			return invalid("liters_added", "La carga excede la capacidad del tanque")
		}
		return s.repo.CreateFuelLoadTx(tx, load)
	})
	if err != nil {
		return nil, err
	}

	after := tank.Liters.Add(req.LitersAdded)
	if fresh, err := s.topologyRepo.FindTankByID(ctx, tank.ID); err == nil {
		after = fresh.Liters
	}

	log.Info().
		Uint("session_id", session.ID).
		Uint("fuel_inventory_id", tank.ID).
		Str("liters_added", req.LitersAdded.StringFixed(2)).
		Msg("fuel load recorded")

	return &dto.FuelLoadResponse{
		ID:              load.ID,
		SessionID:       load.SessionID,
		FuelInventoryID: load.FuelInventoryID,
		LitersAdded:     load.LitersAdded,
		PaymentAmount:   load.PaymentAmount,
		InvoiceNumber:   load.InvoiceNumber,
		ResponsibleID:   load.ResponsibleID,
		DriverName:      load.DriverName,
		LicensePlate:    load.LicensePlate,
		Date:            load.Date.Format("2006-01-02"),
		TankLiters:      after,
	}, nil
}

// ── Product loads ─────────────────────────────────────────────────────────────

func (s *loadService) RecordProductLoad(ctx context.Context, actor authz.Actor, sessionID uint, req dto.ProductLoadRequest) (*dto.ProductLoadResponse, error) {
	session, responsible, err := s.openSession(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	v := validation{}
	if req.QuantityAdded <= 0 {
		v.add("quantity_added", "La cantidad debe ser mayor a cero")
	}
	if req.PaymentAmount.IsNegative() {
		v.add("payment_amount", "El monto no puede ser negativo")
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	product, err := s.repo.FindProductByID(ctx, req.BranchProductID)
	if err != nil {
		return nil, notFound(err, "producto")
	}
	if product.BranchID != session.BranchID {
		return nil, invalid("branch_product_id", "El producto no pertenece a la sucursal de la sesion")
	}

	load := &model.ProductLoad{
		SessionID:       session.ID,
		BranchProductID: product.ID,
		QuantityAdded:   req.QuantityAdded,
		PaymentAmount:   req.PaymentAmount,
		InvoiceNumber:   strings.TrimSpace(req.InvoiceNumber),
		ResponsibleID:   responsible,
	}
	err = runTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		if err := s.repo.AddProductQuantityTx(tx, product.ID, req.QuantityAdded); err != nil {
			return err
		}
		return s.repo.CreateProductLoadTx(tx, load)
	})
	if err != nil {
		return nil, err
	}

	stock := product.Quantity + req.QuantityAdded
	if fresh, err := s.repo.FindProductByID(ctx, product.ID); err == nil {
		stock = fresh.Quantity
	}

	return &dto.ProductLoadResponse{
		ID:              load.ID,
		SessionID:       load.SessionID,
		BranchProductID: load.BranchProductID,
		QuantityAdded:   load.QuantityAdded,
		PaymentAmount:   load.PaymentAmount,
		InvoiceNumber:   load.InvoiceNumber,
		ResponsibleID:   load.ResponsibleID,
		StockQuantity:   stock,
	}, nil
}

// ── Catalog ───────────────────────────────────────────────────────────────────

func (s *loadService) RegisterProduct(ctx context.Context, actor authz.Actor, branchID uint, req dto.CreateProductRequest) (*dto.ProductResponse, error) {
	if !authz.Allowed(actor, authz.ActionManageTopology, branchID) {
		return nil, ErrForbidden
	}
	if _, err := s.branchRepo.FindByID(ctx, branchID); err != nil {
		return nil, notFound(err, "sucursal")
	}
	p := &model.BranchProduct{
		BranchID: branchID,
		SKU:      strings.TrimSpace(req.SKU),
		Name:     strings.TrimSpace(req.Name),
		Quantity: req.Quantity,
		Price:    req.Price,
	}
	if err := s.repo.CreateProduct(ctx, p); err != nil {
		if isUniqueViolation(err) {
			return nil, invalid("sku", "Ya existe un producto con este SKU en la sucursal")
		}
		return nil, err
	}
	return &dto.ProductResponse{
		ID:       p.ID,
		BranchID: p.BranchID,
		SKU:      p.SKU,
		Name:     p.Name,
		Quantity: p.Quantity,
		Price:    p.Price,
	}, nil
}

func (s *loadService) RegisterPrice(ctx context.Context, actor authz.Actor, branchID uint, req dto.CreatePriceRequest) (*dto.PriceResponse, error) {
	if !authz.Allowed(actor, authz.ActionManageTopology, branchID) {
		return nil, ErrForbidden
	}
	if _, err := s.branchRepo.FindByID(ctx, branchID); err != nil {
		return nil, notFound(err, "sucursal")
	}
	if !req.Price.IsPositive() {
		return nil, invalid("price", "El precio debe ser mayor a cero")
	}
	p := &model.FuelPrice{
		BranchID: branchID,
		FuelType: strings.TrimSpace(req.FuelType),
		Price:    req.Price,
	}
	if err := s.repo.CreatePrice(ctx, p); err != nil {
		return nil, err
	}
	return &dto.PriceResponse{
		ID:        p.ID,
		BranchID:  p.BranchID,
		FuelType:  p.FuelType,
		Price:     p.Price,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
}
