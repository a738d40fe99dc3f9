package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bencidata/internal/authz"
	"bencidata/internal/dto"
	"bencidata/internal/model"
	"bencidata/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CashbookService records the money moving through a session: shop sales,
// fuel sold on credit, withdrawals, card vouchers and attendant payments.
// The recording profile is the responsible of each record.
type CashbookService interface {
	RecordProductSale(ctx context.Context, actor authz.Actor, sessionID uint, req dto.ProductSaleRequest) (*dto.ProductSaleResponse, error)
	RecordCreditSale(ctx context.Context, actor authz.Actor, sessionID uint, req dto.CreditSaleRequest) (*dto.CreditSaleResponse, error)
	// MarkCreditSalePaid is idempotent: a paid sale is returned unchanged.
	MarkCreditSalePaid(ctx context.Context, actor authz.Actor, creditSaleID uint) (*dto.CreditSaleResponse, error)
	RecordWithdrawal(ctx context.Context, actor authz.Actor, sessionID uint, req dto.WithdrawalRequest) (*dto.WithdrawalResponse, error)
	RecordCardVoucher(ctx context.Context, actor authz.Actor, sessionID uint, req dto.CardVoucherRequest) (*dto.CardVoucherResponse, error)
	RecordAttendantPayments(ctx context.Context, actor authz.Actor, sessionID uint, req dto.AttendantPaymentsRequest) ([]dto.AttendantPaymentResponse, error)
	Totals(ctx context.Context, actor authz.Actor, sessionID uint) (*dto.SessionTotalsResponse, error)
}

type cashbookService struct {
	repo         repository.CashbookRepository
	loadRepo     repository.LoadRepository
	sessionRepo  repository.SessionRepository
	topologyRepo repository.TopologyRepository
	now          func() time.Time
}

func NewCashbookService(
	repo repository.CashbookRepository,
	loadRepo repository.LoadRepository,
	sessionRepo repository.SessionRepository,
	topologyRepo repository.TopologyRepository,
) CashbookService {
	return &cashbookService{
		repo:         repo,
		loadRepo:     loadRepo,
		sessionRepo:  sessionRepo,
		topologyRepo: topologyRepo,
		now:          time.Now,
	}
}

func (s *cashbookService) openSession(ctx context.Context, actor authz.Actor, sessionID uint) (*model.ServiceSession, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, notFound(err, "sesion de servicio")
	}
	if !authz.Allowed(actor, authz.ActionRecordCash, session.BranchID) {
		return nil, ErrForbidden
	}
	if !session.IsOpen() {
		return nil, ErrSessionClosed
	}
	return session, nil
}

// checkAmount requires a positive amount with at most two decimals.
func checkAmount(v validation, field string, amount decimal.Decimal) {
	switch {
	case !amount.IsPositive():
		v.add(field, "El monto debe ser mayor a 0")
	case !amount.Equal(amount.Round(2)):
		v.add(field, "El monto admite como maximo 2 decimales")
	}
}

// ── Product sales ─────────────────────────────────────────────────────────────

func (s *cashbookService) RecordProductSale(ctx context.Context, actor authz.Actor, sessionID uint, req dto.ProductSaleRequest) (*dto.ProductSaleResponse, error) {
	session, err := s.openSession(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, invalid("items", "Debes agregar al menos un producto para registrar la venta")
	}

	v := validation{}
	seen := make(map[uint]bool, len(req.Items))
	sale := &model.ProductSale{SessionID: session.ID, ResponsibleID: actor.ProfileID, TotalAmount: decimal.Zero}
	for i, it := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		if seen[it.BranchProductID] {
			v.add(field, "Producto repetido en la venta")
			continue
		}
		seen[it.BranchProductID] = true
		if it.Quantity <= 0 {
			v.add(field+".quantity", "Debes ingresar una cantidad mayor a 0")
			continue
		}
		product, err := s.loadRepo.FindProductByID(ctx, it.BranchProductID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				v.add(field+".branch_product_id", "Producto inexistente")
				continue
			}
			return nil, err
		}
		if product.BranchID != session.BranchID {
			v.add(field+".branch_product_id", "El producto no pertenece a la sucursal del servicio")
			continue
		}
		if it.Quantity > product.Quantity {
			v.add(field+".quantity", "La cantidad solicitada supera el stock disponible en la sucursal")
			continue
		}
		amount := product.Price.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(2)
		sale.Items = append(sale.Items, model.ProductSaleItem{
			BranchProductID: product.ID,
			Quantity:        it.Quantity,
			UnitPrice:       product.Price,
			Amount:          amount,
		})
		sale.TotalAmount = sale.TotalAmount.Add(amount)
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	err = runTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		for i, it := range sale.Items {
			ok, err := s.repo.SubtractProductQuantityTx(tx, it.BranchProductID, it.Quantity)
			if err != nil {
				return err
			}
			// another sale took the stock between the read and the update
			if !ok {
				return invalid(fmt.Sprintf("items[%d].quantity", i), "La cantidad solicitada supera el stock disponible en la sucursal")
			}
		}
		return s.repo.CreateProductSaleTx(tx, sale)
	})
	if err != nil {
		return nil, err
	}

	resp := &dto.ProductSaleResponse{
		ID:            sale.ID,
		SessionID:     sale.SessionID,
		ResponsibleID: sale.ResponsibleID,
		TotalAmount:   sale.TotalAmount,
		Items:         make([]dto.ProductSaleItemResponse, 0, len(sale.Items)),
	}
	for _, it := range sale.Items {
		item := dto.ProductSaleItemResponse{
			BranchProductID: it.BranchProductID,
			Quantity:        it.Quantity,
			UnitPrice:       it.UnitPrice,
			Amount:          it.Amount,
		}
		if fresh, err := s.loadRepo.FindProductByID(ctx, it.BranchProductID); err == nil {
			item.StockQuantity = fresh.Quantity
		}
		resp.Items = append(resp.Items, item)
	}

	log.Info().
		Uint("session_id", session.ID).
		Uint("sale_id", sale.ID).
		Int("items", len(sale.Items)).
		Str("total", sale.TotalAmount.StringFixed(2)).
		Msg("product sale recorded")
	return resp, nil
}

// ── Credit sales ──────────────────────────────────────────────────────────────

func (s *cashbookService) RecordCreditSale(ctx context.Context, actor authz.Actor, sessionID uint, req dto.CreditSaleRequest) (*dto.CreditSaleResponse, error) {
	session, err := s.openSession(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	v := validation{}
	invoice := strings.TrimSpace(req.InvoiceNumber)
	customer := strings.TrimSpace(req.CustomerName)
	if invoice == "" {
		v.add("invoice_number", "El numero de factura es obligatorio")
	}
	if customer == "" {
		v.add("customer_name", "El nombre del cliente es obligatorio")
	}
	checkAmount(v, "amount", req.Amount)
	if err := v.err(); err != nil {
		return nil, err
	}

	tank, err := s.topologyRepo.FindTankByID(ctx, req.FuelInventoryID)
	if err != nil {
		return nil, notFound(err, "tanque")
	}
	if tank.BranchID != session.BranchID {
		return nil, invalid("fuel_inventory_id", "El estanque seleccionado no pertenece a la sucursal del servicio")
	}

	c := &model.CreditSale{
		SessionID:       session.ID,
		FuelInventoryID: tank.ID,
		InvoiceNumber:   invoice,
		CustomerName:    customer,
		Amount:          req.Amount,
		Status:          model.CreditPending,
		ResponsibleID:   actor.ProfileID,
	}
	if err := s.repo.CreateCreditSale(ctx, c); err != nil {
		return nil, err
	}
	log.Info().Uint("session_id", session.ID).Uint("credit_sale_id", c.ID).Str("amount", c.Amount.StringFixed(2)).Msg("credit sale recorded")
	return creditSaleToResponse(c), nil
}

func (s *cashbookService) MarkCreditSalePaid(ctx context.Context, actor authz.Actor, creditSaleID uint) (*dto.CreditSaleResponse, error) {
	c, err := s.repo.FindCreditSaleByID(ctx, creditSaleID)
	if err != nil {
		return nil, notFound(err, "venta a credito")
	}
	session, err := s.sessionRepo.FindByID(ctx, c.SessionID)
	if err != nil {
		return nil, notFound(err, "sesion de servicio")
	}
	if !authz.Allowed(actor, authz.ActionSettleCredit, session.BranchID) {
		return nil, ErrForbidden
	}

	changed, err := s.repo.MarkCreditSalePaid(ctx, c.ID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	fresh, err := s.repo.FindCreditSaleByID(ctx, c.ID)
	if err != nil {
		return nil, notFound(err, "venta a credito")
	}
	if changed {
		log.Info().Uint("credit_sale_id", c.ID).Uint("paid_by", actor.ProfileID).Msg("credit sale marked paid")
	}
	return creditSaleToResponse(fresh), nil
}

func creditSaleToResponse(c *model.CreditSale) *dto.CreditSaleResponse {
	resp := &dto.CreditSaleResponse{
		ID:              c.ID,
		SessionID:       c.SessionID,
		FuelInventoryID: c.FuelInventoryID,
		InvoiceNumber:   c.InvoiceNumber,
		CustomerName:    c.CustomerName,
		Amount:          c.Amount,
		Status:          c.Status,
		ResponsibleID:   c.ResponsibleID,
	}
	if c.PaidAt != nil {
		t := c.PaidAt.UTC().Format(time.RFC3339)
		resp.PaidAt = &t
	}
	return resp
}

// ── Withdrawals and vouchers ──────────────────────────────────────────────────

func (s *cashbookService) RecordWithdrawal(ctx context.Context, actor authz.Actor, sessionID uint, req dto.WithdrawalRequest) (*dto.WithdrawalResponse, error) {
	session, err := s.openSession(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	v := validation{}
	checkAmount(v, "amount", req.Amount)
	if err := v.err(); err != nil {
		return nil, err
	}

	w := &model.Withdrawal{SessionID: session.ID, Amount: req.Amount, ResponsibleID: actor.ProfileID}
	if err := s.repo.CreateWithdrawal(ctx, w); err != nil {
		return nil, err
	}
	log.Info().Uint("session_id", session.ID).Str("amount", w.Amount.StringFixed(2)).Msg("withdrawal recorded")
	return &dto.WithdrawalResponse{ID: w.ID, SessionID: w.SessionID, Amount: w.Amount, ResponsibleID: w.ResponsibleID}, nil
}

func (s *cashbookService) RecordCardVoucher(ctx context.Context, actor authz.Actor, sessionID uint, req dto.CardVoucherRequest) (*dto.CardVoucherResponse, error) {
	session, err := s.openSession(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	v := validation{}
	if req.VoucherCount <= 0 {
		v.add("voucher_count", "Ingresa una cantidad valida de vouchers")
	}
	checkAmount(v, "total_amount", req.TotalAmount)
	if err := v.err(); err != nil {
		return nil, err
	}

	cv := &model.CardVoucher{
		SessionID:     session.ID,
		VoucherCount:  req.VoucherCount,
		TotalAmount:   req.TotalAmount,
		ResponsibleID: actor.ProfileID,
	}
	if err := s.repo.CreateCardVoucher(ctx, cv); err != nil {
		return nil, err
	}
	return &dto.CardVoucherResponse{
		ID:            cv.ID,
		SessionID:     cv.SessionID,
		VoucherCount:  cv.VoucherCount,
		TotalAmount:   cv.TotalAmount,
		ResponsibleID: cv.ResponsibleID,
	}, nil
}

// ── Attendant payments ────────────────────────────────────────────────────────

// RecordAttendantPayments stores one payment per attendant of the session's
// snapshot, all or nothing.
func (s *cashbookService) RecordAttendantPayments(ctx context.Context, actor authz.Actor, sessionID uint, req dto.AttendantPaymentsRequest) ([]dto.AttendantPaymentResponse, error) {
	session, err := s.openSession(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if len(req.Payments) == 0 {
		return nil, invalid("payments", "Debes ingresar al menos un pago para registrar")
	}

	roster, err := snapshotIDs(session)
	if err != nil {
		return nil, err
	}

	v := validation{}
	seen := make(map[uint]bool, len(req.Payments))
	payments := make([]model.AttendantPayment, 0, len(req.Payments))
	for i, p := range req.Payments {
		field := fmt.Sprintf("payments[%d]", i)
		if !roster[p.ProfileID] {
			v.add(field+".profile_id", "El bombero no forma parte del servicio")
			continue
		}
		if seen[p.ProfileID] {
			v.add(field+".profile_id", "Pago repetido para el mismo bombero")
			continue
		}
		seen[p.ProfileID] = true
		checkAmount(v, field+".amount", p.Amount)
		payments = append(payments, model.AttendantPayment{SessionID: session.ID, ProfileID: p.ProfileID, Amount: p.Amount})
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	err = runTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		return s.repo.CreateAttendantPaymentsTx(tx, payments)
	})
	if err != nil {
		return nil, err
	}

	out := make([]dto.AttendantPaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, dto.AttendantPaymentResponse{ID: p.ID, SessionID: p.SessionID, ProfileID: p.ProfileID, Amount: p.Amount})
	}
	return out, nil
}

// snapshotIDs returns the attendant ids frozen into the session at open time.
func snapshotIDs(session *model.ServiceSession) (map[uint]bool, error) {
	var snapshot []dto.AttendantSnapshot
	if len(session.AttendantsSnapshot) > 0 {
		if err := json.Unmarshal(session.AttendantsSnapshot, &snapshot); err != nil {
			return nil, fmt.Errorf("leer bomberos de la sesion %d: %w", session.ID, err)
		}
	}
	ids := make(map[uint]bool, len(snapshot))
	for _, a := range snapshot {
		ids[a.ID] = true
	}
	return ids, nil
}

// ── Totals ────────────────────────────────────────────────────────────────────

func (s *cashbookService) Totals(ctx context.Context, actor authz.Actor, sessionID uint) (*dto.SessionTotalsResponse, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, notFound(err, "sesion de servicio")
	}
	if !authz.Allowed(actor, authz.ActionViewReport, session.BranchID) {
		return nil, ErrForbidden
	}
	t, err := s.repo.Totals(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	resp := totalsToResponse(t)
	return &resp, nil
}

func totalsToResponse(t *repository.SessionTotals) dto.SessionTotalsResponse {
	return dto.SessionTotalsResponse{
		CreditSales:       t.CreditSales,
		CardVouchers:      t.CardVouchers,
		Withdrawals:       t.Withdrawals,
		ProductSales:      t.ProductSales,
		FuelPayments:      t.FuelPayments,
		ProductPayments:   t.ProductPayments,
		AttendantPayments: t.AttendantPayments,
		Declared:          t.Declared(),
		TurnProfit:        t.TurnProfit(),
		NetProfit:         t.NetProfit(),
	}
}
