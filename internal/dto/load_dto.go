package dto

import "github.com/shopspring/decimal"

// ─── Request DTOs ────────────────────────────────────────────────────────────

type FuelLoadRequest struct {
	FuelInventoryID uint            `json:"fuel_inventory_id" validate:"required"`
	LitersAdded     decimal.Decimal `json:"liters_added"      validate:"gt=0"`
	PaymentAmount   decimal.Decimal `json:"payment_amount"    validate:"min=0"`
	InvoiceNumber   string          `json:"invoice_number"    validate:"max=50"`
	DriverName      string          `json:"driver_name"       validate:"max=150"`
	LicensePlate    string          `json:"license_plate"     validate:"max=20"`
}

type ProductLoadRequest struct {
	BranchProductID uint            `json:"branch_product_id" validate:"required"`
	QuantityAdded   int             `json:"quantity_added"    validate:"gt=0"`
	PaymentAmount   decimal.Decimal `json:"payment_amount"    validate:"min=0"`
	InvoiceNumber   string          `json:"invoice_number"    validate:"max=50"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type FuelLoadResponse struct {
	ID              uint            `json:"id"`
	SessionID       uint            `json:"session_id"`
	FuelInventoryID uint            `json:"fuel_inventory_id"`
	LitersAdded     decimal.Decimal `json:"liters_added"`
	PaymentAmount   decimal.Decimal `json:"payment_amount"`
	InvoiceNumber   string          `json:"invoice_number"`
	ResponsibleID   uint            `json:"responsible_id"`
	DriverName      string          `json:"driver_name"`
	LicensePlate    string          `json:"license_plate"`
	Date            string          `json:"date"`
	TankLiters      decimal.Decimal `json:"tank_liters"`
}

type ProductLoadResponse struct {
	ID              uint            `json:"id"`
	SessionID       uint            `json:"session_id"`
	BranchProductID uint            `json:"branch_product_id"`
	QuantityAdded   int             `json:"quantity_added"`
	PaymentAmount   decimal.Decimal `json:"payment_amount"`
	InvoiceNumber   string          `json:"invoice_number"`
	ResponsibleID   uint            `json:"responsible_id"`
	StockQuantity   int             `json:"stock_quantity"`
}
