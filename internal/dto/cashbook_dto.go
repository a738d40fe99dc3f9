package dto

import "github.com/shopspring/decimal"

// ─── Request DTOs ────────────────────────────────────────────────────────────

type ProductSaleItemInput struct {
	BranchProductID uint `json:"branch_product_id" validate:"required"`
	Quantity        int  `json:"quantity"          validate:"gt=0"`
}

type ProductSaleRequest struct {
	Items []ProductSaleItemInput `json:"items" validate:"required,min=1,dive"`
}

type CreditSaleRequest struct {
	FuelInventoryID uint            `json:"fuel_inventory_id" validate:"required"`
	InvoiceNumber   string          `json:"invoice_number"    validate:"required,max=50"`
	CustomerName    string          `json:"customer_name"     validate:"required,max=150"`
	Amount          decimal.Decimal `json:"amount"            validate:"gt=0"`
}

type WithdrawalRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

type CardVoucherRequest struct {
	VoucherCount int             `json:"voucher_count" validate:"gt=0"`
	TotalAmount  decimal.Decimal `json:"total_amount"  validate:"gt=0"`
}

type AttendantPaymentInput struct {
	ProfileID uint            `json:"profile_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount"     validate:"gt=0"`
}

type AttendantPaymentsRequest struct {
	Payments []AttendantPaymentInput `json:"payments" validate:"required,min=1,dive"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type ProductSaleItemResponse struct {
	BranchProductID uint            `json:"branch_product_id"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Amount          decimal.Decimal `json:"amount"`
	StockQuantity   int             `json:"stock_quantity"`
}

type ProductSaleResponse struct {
	ID            uint                      `json:"id"`
	SessionID     uint                      `json:"session_id"`
	ResponsibleID uint                      `json:"responsible_id"`
	TotalAmount   decimal.Decimal           `json:"total_amount"`
	Items         []ProductSaleItemResponse `json:"items"`
}

type CreditSaleResponse struct {
	ID              uint            `json:"id"`
	SessionID       uint            `json:"session_id"`
	FuelInventoryID uint            `json:"fuel_inventory_id"`
	InvoiceNumber   string          `json:"invoice_number"`
	CustomerName    string          `json:"customer_name"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"` // pending | paid
	ResponsibleID   uint            `json:"responsible_id"`
	PaidAt          *string         `json:"paid_at"`
}

type WithdrawalResponse struct {
	ID            uint            `json:"id"`
	SessionID     uint            `json:"session_id"`
	Amount        decimal.Decimal `json:"amount"`
	ResponsibleID uint            `json:"responsible_id"`
}

type CardVoucherResponse struct {
	ID            uint            `json:"id"`
	SessionID     uint            `json:"session_id"`
	VoucherCount  int             `json:"voucher_count"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	ResponsibleID uint            `json:"responsible_id"`
}

type AttendantPaymentResponse struct {
	ID        uint            `json:"id"`
	SessionID uint            `json:"session_id"`
	ProfileID uint            `json:"profile_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// SessionTotalsResponse summarises the money side of a session.
// Declared (credit + vouchers + withdrawals) is what the close check compares
// against the fuel flow.
type SessionTotalsResponse struct {
	CreditSales       decimal.Decimal `json:"credit_sales"`
	CardVouchers      decimal.Decimal `json:"card_vouchers"`
	Withdrawals       decimal.Decimal `json:"withdrawals"`
	ProductSales      decimal.Decimal `json:"product_sales"`
	FuelPayments      decimal.Decimal `json:"fuel_payments"`
	ProductPayments   decimal.Decimal `json:"product_payments"`
	AttendantPayments decimal.Decimal `json:"attendant_payments"`
	Declared          decimal.Decimal `json:"declared"`
	TurnProfit        decimal.Decimal `json:"turn_profit"`
	NetProfit         decimal.Decimal `json:"net_profit"`
}
