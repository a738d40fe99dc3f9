package dto

import "github.com/shopspring/decimal"

// ─── Request DTOs ────────────────────────────────────────────────────────────

type CreateTankRequest struct {
	Code     string          `json:"code"      validate:"required,max=50"`
	FuelType string          `json:"fuel_type" validate:"required,max=50"`
	Capacity decimal.Decimal `json:"capacity"  validate:"gt=0"`
	Liters   decimal.Decimal `json:"liters"    validate:"min=0"`
}

type CreateIslandRequest struct {
	Number      int    `json:"number"      validate:"required,min=1"`
	Description string `json:"description" validate:"max=200"`
}

type MachineLinkInput struct {
	FuelInventoryID uint            `json:"fuel_inventory_id" validate:"required"`
	Numeral         decimal.Decimal `json:"numeral"           validate:"min=0"`
}

type CreateMachineRequest struct {
	IslandID    uint               `json:"island_id"   validate:"required"`
	Number      int                `json:"number"      validate:"required,min=1"`
	FuelType    string             `json:"fuel_type"   validate:"max=50"`
	Description string             `json:"description" validate:"max=200"`
	Links       []MachineLinkInput `json:"links"       validate:"dive"`
}

type CreateNozzleRequest struct {
	MachineID       uint   `json:"machine_id"        validate:"required"`
	Number          int    `json:"number"            validate:"required,min=1"`
	Code            string `json:"code"              validate:"required,max=50"`
	FuelInventoryID *uint  `json:"fuel_inventory_id"`
}

type CreateShiftRequest struct {
	Code         string `json:"code"          validate:"required,max=50"`
	Description  string `json:"description"   validate:"max=200"`
	StartTime    string `json:"start_time"    validate:"required,len=5"`
	EndTime      string `json:"end_time"      validate:"required,len=5"`
	ManagerID    *uint  `json:"manager_id"`
	AttendantIDs []uint `json:"attendant_ids" validate:"dive,required"`
}

type CreateProductRequest struct {
	SKU      string          `json:"sku"      validate:"required,max=50"`
	Name     string          `json:"name"     validate:"required,max=150"`
	Quantity int             `json:"quantity" validate:"min=0"`
	Price    decimal.Decimal `json:"price"    validate:"min=0"`
}

type CreatePriceRequest struct {
	FuelType string          `json:"fuel_type" validate:"required,max=50"`
	Price    decimal.Decimal `json:"price"     validate:"gt=0"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type TankResponse struct {
	ID       uint            `json:"id"`
	BranchID uint            `json:"branch_id"`
	Code     string          `json:"code"`
	FuelType string          `json:"fuel_type"`
	Capacity decimal.Decimal `json:"capacity"`
	Liters   decimal.Decimal `json:"liters"`
}

type LinkResponse struct {
	ID              uint            `json:"id"`
	MachineID       uint            `json:"machine_id"`
	FuelInventoryID uint            `json:"fuel_inventory_id"`
	Numeral         decimal.Decimal `json:"numeral"`
}

type NozzleResponse struct {
	ID         uint   `json:"id"`
	MachineID  uint   `json:"machine_id"`
	BranchID   uint   `json:"branch_id"`
	Number     int    `json:"number"`
	Code       string `json:"code"`
	FuelLinkID *uint  `json:"fuel_link_id"`
}

type MachineResponse struct {
	ID          uint             `json:"id"`
	IslandID    uint             `json:"island_id"`
	Number      int              `json:"number"`
	FuelType    string           `json:"fuel_type"`
	Description string           `json:"description"`
	Links       []LinkResponse   `json:"links"`
	Nozzles     []NozzleResponse `json:"nozzles,omitempty"`
}

type IslandResponse struct {
	ID          uint              `json:"id"`
	BranchID    uint              `json:"branch_id"`
	Number      int               `json:"number"`
	Description string            `json:"description"`
	Machines    []MachineResponse `json:"machines"`
}

type ShiftResponse struct {
	ID          uint                `json:"id"`
	BranchID    uint                `json:"branch_id"`
	Code        string              `json:"code"`
	Description string              `json:"description"`
	StartTime   string              `json:"start_time"`
	EndTime     string              `json:"end_time"`
	ManagerID   *uint               `json:"manager_id"`
	Attendants  []AttendantSnapshot `json:"attendants"`
}

type ProductResponse struct {
	ID       uint            `json:"id"`
	BranchID uint            `json:"branch_id"`
	SKU      string          `json:"sku"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type PriceResponse struct {
	ID        uint            `json:"id"`
	BranchID  uint            `json:"branch_id"`
	FuelType  string          `json:"fuel_type"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt string          `json:"created_at"`
}

type TopologyResponse struct {
	BranchID uint             `json:"branch_id"`
	Tanks    []TankResponse   `json:"tanks"`
	Islands  []IslandResponse `json:"islands"`
	Shifts   []ShiftResponse  `json:"shifts"`
}

// NozzleResolution is what a device identifier resolves to.
type NozzleResolution struct {
	NozzleID        uint  `json:"nozzle_id"`
	BranchID        uint  `json:"branch_id"`
	MachineID       uint  `json:"machine_id"`
	FuelLinkID      *uint `json:"fuel_link_id"`
	FuelInventoryID *uint `json:"fuel_inventory_id"`
}
