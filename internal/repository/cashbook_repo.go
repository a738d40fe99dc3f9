package repository

import (
	"context"
	"time"

	"bencidata/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SessionTotals are the money figures of a session as recorded so far.
type SessionTotals struct {
	CreditSales       decimal.Decimal
	CardVouchers      decimal.Decimal
	Withdrawals       decimal.Decimal
	ProductSales      decimal.Decimal
	FuelPayments      decimal.Decimal
	ProductPayments   decimal.Decimal
	AttendantPayments decimal.Decimal
}

// CashbookRepository stores the money side of a session: shop sales, credit
// sales, withdrawals, card vouchers and attendant payments.
type CashbookRepository interface {
	// CreateProductSaleTx inserts the sale together with its items.
	CreateProductSaleTx(tx *gorm.DB, sale *model.ProductSale) error
	// SubtractProductQuantityTx decrements stock only if enough is left.
	// Returns false when the guard rejected the update.
	SubtractProductQuantityTx(tx *gorm.DB, productID uint, qty int) (bool, error)
	ListProductSales(ctx context.Context, sessionID uint) ([]model.ProductSale, error)

	CreateCreditSale(ctx context.Context, c *model.CreditSale) error
	FindCreditSaleByID(ctx context.Context, id uint) (*model.CreditSale, error)
	// MarkCreditSalePaid flips pending → paid. Returns false if it was already paid.
	MarkCreditSalePaid(ctx context.Context, id uint, paidAt time.Time) (bool, error)
	ListCreditSales(ctx context.Context, sessionID uint) ([]model.CreditSale, error)

	CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error
	ListWithdrawals(ctx context.Context, sessionID uint) ([]model.Withdrawal, error)

	CreateCardVoucher(ctx context.Context, v *model.CardVoucher) error
	ListCardVouchers(ctx context.Context, sessionID uint) ([]model.CardVoucher, error)

	CreateAttendantPaymentsTx(tx *gorm.DB, payments []model.AttendantPayment) error
	ListAttendantPayments(ctx context.Context, sessionID uint) ([]model.AttendantPayment, error)

	Totals(ctx context.Context, sessionID uint) (*SessionTotals, error)

	// DB exposes the underlying *gorm.DB so services can open transactions.
	DB() *gorm.DB
}

type cashbookRepo struct{ db *gorm.DB }

func NewCashbookRepository(db *gorm.DB) CashbookRepository { return &cashbookRepo{db: db} }

func (r *cashbookRepo) DB() *gorm.DB { return r.db }

// ── Product sales ─────────────────────────────────────────────────────────────

func (r *cashbookRepo) CreateProductSaleTx(tx *gorm.DB, sale *model.ProductSale) error {
	return tx.Create(sale).Error
}

func (r *cashbookRepo) SubtractProductQuantityTx(tx *gorm.DB, productID uint, qty int) (bool, error) {
	res := tx.Model(&model.BranchProduct{}).
		Where("id = ? AND quantity >= ?", productID, qty).
		Update("quantity", gorm.Expr("quantity - ?", qty))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *cashbookRepo) ListProductSales(ctx context.Context, sessionID uint) ([]model.ProductSale, error) {
	var sales []model.ProductSale
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&sales).Error
	return sales, err
}

// ── Credit sales ──────────────────────────────────────────────────────────────

func (r *cashbookRepo) CreateCreditSale(ctx context.Context, c *model.CreditSale) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *cashbookRepo) FindCreditSaleByID(ctx context.Context, id uint) (*model.CreditSale, error) {
	var c model.CreditSale
	err := r.db.WithContext(ctx).First(&c, id).Error
	return &c, err
}

func (r *cashbookRepo) MarkCreditSalePaid(ctx context.Context, id uint, paidAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.CreditSale{}).
		Where("id = ? AND status = ?", id, model.CreditPending).
		Updates(map[string]interface{}{
			"status":  model.CreditPaid,
			"paid_at": paidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *cashbookRepo) ListCreditSales(ctx context.Context, sessionID uint) ([]model.CreditSale, error) {
	var sales []model.CreditSale
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id ASC").Find(&sales).Error
	return sales, err
}

// ── Withdrawals and vouchers ──────────────────────────────────────────────────

func (r *cashbookRepo) CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	return r.db.WithContext(ctx).Create(w).Error
}

func (r *cashbookRepo) ListWithdrawals(ctx context.Context, sessionID uint) ([]model.Withdrawal, error) {
	var out []model.Withdrawal
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *cashbookRepo) CreateCardVoucher(ctx context.Context, v *model.CardVoucher) error {
	return r.db.WithContext(ctx).Create(v).Error
}

func (r *cashbookRepo) ListCardVouchers(ctx context.Context, sessionID uint) ([]model.CardVoucher, error) {
	var out []model.CardVoucher
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id ASC").Find(&out).Error
	return out, err
}

// ── Attendant payments ────────────────────────────────────────────────────────

func (r *cashbookRepo) CreateAttendantPaymentsTx(tx *gorm.DB, payments []model.AttendantPayment) error {
	if len(payments) == 0 {
		return nil
	}
	return tx.Create(&payments).Error
}

func (r *cashbookRepo) ListAttendantPayments(ctx context.Context, sessionID uint) ([]model.AttendantPayment, error) {
	var out []model.AttendantPayment
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id ASC").Find(&out).Error
	return out, err
}

// ── Totals ────────────────────────────────────────────────────────────────────

func (r *cashbookRepo) Totals(ctx context.Context, sessionID uint) (*SessionTotals, error) {
	sum := func(m interface{}, column string) (decimal.Decimal, error) {
		var row struct{ Total decimal.Decimal }
		err := r.db.WithContext(ctx).Model(m).
			Select("COALESCE(SUM("+column+"), 0) AS total").
			Where("session_id = ?", sessionID).
			Scan(&row).Error
		return row.Total, err
	}

	t := &SessionTotals{}
	targets := []struct {
		model  interface{}
		column string
		dst    *decimal.Decimal
	}{
		{&model.CreditSale{}, "amount", &t.CreditSales},
		{&model.CardVoucher{}, "total_amount", &t.CardVouchers},
		{&model.Withdrawal{}, "amount", &t.Withdrawals},
		{&model.ProductSale{}, "total_amount", &t.ProductSales},
		{&model.FuelLoad{}, "payment_amount", &t.FuelPayments},
		{&model.ProductLoad{}, "payment_amount", &t.ProductPayments},
		{&model.AttendantPayment{}, "amount", &t.AttendantPayments},
	}
	for _, tg := range targets {
		v, err := sum(tg.model, tg.column)
		if err != nil {
			return nil, err
		}
		*tg.dst = v
	}
	return t, nil
}

// Declared is the money the session accounts for against the fuel flow.
// Shop sales are excluded: they are not fuel.
func (t SessionTotals) Declared() decimal.Decimal {
	return t.CreditSales.Add(t.CardVouchers).Add(t.Withdrawals)
}

// TurnProfit is every income of the session, shop sales included.
func (t SessionTotals) TurnProfit() decimal.Decimal {
	return t.Declared().Add(t.ProductSales)
}

// NetProfit is TurnProfit less what the session paid out.
func (t SessionTotals) NetProfit() decimal.Decimal {
	return t.TurnProfit().Sub(t.FuelPayments).Sub(t.ProductPayments).Sub(t.AttendantPayments)
}
