package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FuelLoad is a tank refill delivered during a service session.
type FuelLoad struct {
	ID              uint            `gorm:"primaryKey"`
	SessionID       uint            `gorm:"not null;index"`
	FuelInventoryID uint            `gorm:"not null;index"`
	LitersAdded     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	PaymentAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	InvoiceNumber   string          `gorm:"type:varchar(50)"`
	ResponsibleID   uint            `gorm:"not null"`
	DriverName      string          `gorm:"type:varchar(150)"`
	LicensePlate    string          `gorm:"type:varchar(20)"`
	Date            time.Time       `gorm:"type:date;not null"`
	CreatedAt       time.Time
}

// BranchProduct is the per-branch stock of a shop product.
type BranchProduct struct {
	ID        uint            `gorm:"primaryKey"`
	BranchID  uint            `gorm:"not null;uniqueIndex:idx_product_branch_sku"`
	SKU       string          `gorm:"type:varchar(50);not null;uniqueIndex:idx_product_branch_sku"`
	Name      string          `gorm:"type:varchar(150);not null"`
	Quantity  int             `gorm:"not null;default:0"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductLoad is a stock delivery of a branch product during a session.
type ProductLoad struct {
	ID              uint            `gorm:"primaryKey"`
	SessionID       uint            `gorm:"not null;index"`
	BranchProductID uint            `gorm:"not null;index"`
	QuantityAdded   int             `gorm:"not null"`
	PaymentAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	InvoiceNumber   string          `gorm:"type:varchar(50)"`
	ResponsibleID   uint            `gorm:"not null"`
	CreatedAt       time.Time
}

// FuelPrice is the per-liter price of a fuel type at a branch. The most
// recent row for a fuel type is the current price.
type FuelPrice struct {
	ID        uint            `gorm:"primaryKey"`
	BranchID  uint            `gorm:"not null;index:idx_price_branch_fuel"`
	FuelType  string          `gorm:"type:varchar(50);not null;index:idx_price_branch_fuel"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	CreatedAt time.Time
}
