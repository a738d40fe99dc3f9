package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Island groups dispenser machines inside a branch.
type Island struct {
	ID          uint   `gorm:"primaryKey"`
	BranchID    uint   `gorm:"not null;uniqueIndex:idx_island_branch_number"`
	Number      int    `gorm:"not null;uniqueIndex:idx_island_branch_number"`
	Description string `gorm:"type:varchar(200)"`
	CreatedAt   time.Time

	Machines []Machine `gorm:"foreignKey:IslandID"`
}

// Machine is a dispenser on an island. It draws from one or more tanks
// through MachineFuelLink rows.
type Machine struct {
	ID          uint   `gorm:"primaryKey"`
	IslandID    uint   `gorm:"not null;uniqueIndex:idx_machine_island_number"`
	Number      int    `gorm:"not null;uniqueIndex:idx_machine_island_number"`
	FuelType    string `gorm:"type:varchar(50)"`
	Description string `gorm:"type:varchar(200)"`
	CreatedAt   time.Time

	Island *Island           `gorm:"foreignKey:IslandID"`
	Links  []MachineFuelLink `gorm:"foreignKey:MachineID"`
}

// FuelInventory is a storage tank. Liters must stay within [0, Capacity];
// every write goes through a conditional UPDATE in the repository.
type FuelInventory struct {
	ID        uint            `gorm:"primaryKey"`
	BranchID  uint            `gorm:"not null;uniqueIndex:idx_tank_branch_code"`
	Code      string          `gorm:"type:varchar(50);not null;uniqueIndex:idx_tank_branch_code"`
	FuelType  string          `gorm:"type:varchar(50);not null"`
	Capacity  decimal.Decimal `gorm:"type:decimal(12,2);not null;check:chk_tank_capacity,capacity >= 0"`
	Liters    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0;check:chk_tank_liters,liters >= 0 AND liters <= capacity"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MachineFuelLink is the (machine, tank) pair carrying the cumulative meter
// numeral. The numeral only moves forward through reconciliation.
type MachineFuelLink struct {
	ID              uint            `gorm:"primaryKey"`
	MachineID       uint            `gorm:"not null;uniqueIndex:idx_link_machine_tank"`
	FuelInventoryID uint            `gorm:"not null;uniqueIndex:idx_link_machine_tank;index"`
	Numeral         decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0;check:chk_link_numeral,numeral >= 0"`
	UpdatedAt       time.Time

	Machine       *Machine       `gorm:"foreignKey:MachineID"`
	FuelInventory *FuelInventory `gorm:"foreignKey:FuelInventoryID"`
}

// Nozzle is a dispensing gun. BranchID is denormalised from machine → island
// so device lookups do not need a join. FuelLinkID may be nil while the nozzle
// is not yet mapped to a tank.
type Nozzle struct {
	ID         uint   `gorm:"primaryKey"`
	MachineID  uint   `gorm:"not null;uniqueIndex:idx_nozzle_machine_number"`
	BranchID   uint   `gorm:"not null;index;uniqueIndex:idx_nozzle_branch_code"`
	Number     int    `gorm:"not null;uniqueIndex:idx_nozzle_machine_number"`
	Code       string `gorm:"type:varchar(50);not null;uniqueIndex:idx_nozzle_branch_code"`
	FuelLinkID *uint  `gorm:"index"`
	CreatedAt  time.Time

	FuelLink *MachineFuelLink `gorm:"foreignKey:FuelLinkID"`
}
