package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CreditPending = "pending"
	CreditPaid    = "paid"
)

// ProductSale is a shop sale recorded during a session. Each item takes its
// quantity out of the branch stock.
type ProductSale struct {
	ID            uint            `gorm:"primaryKey"`
	SessionID     uint            `gorm:"not null;index"`
	ResponsibleID uint            `gorm:"not null"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	CreatedAt     time.Time

	Items []ProductSaleItem `gorm:"foreignKey:SaleID"`
}

// ProductSaleItem keeps the unit price the product had when it was sold.
type ProductSaleItem struct {
	ID              uint            `gorm:"primaryKey"`
	SaleID          uint            `gorm:"not null;index"`
	BranchProductID uint            `gorm:"not null;index"`
	Quantity        int             `gorm:"not null"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Amount          decimal.Decimal `gorm:"type:decimal(12,2);not null"`
}

// CreditSale is fuel handed out on credit against an invoice.
// Status: "pending" | "paid".
type CreditSale struct {
	ID              uint            `gorm:"primaryKey"`
	SessionID       uint            `gorm:"not null;index"`
	FuelInventoryID uint            `gorm:"not null"`
	InvoiceNumber   string          `gorm:"type:varchar(50);not null"`
	CustomerName    string          `gorm:"type:varchar(150);not null"`
	Amount          decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Status          string          `gorm:"type:varchar(20);not null;default:'pending'"`
	ResponsibleID   uint            `gorm:"not null"`
	PaidAt          *time.Time
	CreatedAt       time.Time
}

// Withdrawal (tirada) is cash taken out of the till during the session.
type Withdrawal struct {
	ID            uint            `gorm:"primaryKey"`
	SessionID     uint            `gorm:"not null;index"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	ResponsibleID uint            `gorm:"not null"`
	CreatedAt     time.Time
}

// CardVoucher is a batch of card terminal (Transbank) vouchers.
type CardVoucher struct {
	ID            uint            `gorm:"primaryKey"`
	SessionID     uint            `gorm:"not null;index"`
	VoucherCount  int             `gorm:"not null"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	ResponsibleID uint            `gorm:"not null"`
	CreatedAt     time.Time
}

// AttendantPayment is money paid out to an attendant of the session.
type AttendantPayment struct {
	ID        uint            `gorm:"primaryKey"`
	SessionID uint            `gorm:"not null;index"`
	ProfileID uint            `gorm:"not null;index"`
	Amount    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	CreatedAt time.Time
}
