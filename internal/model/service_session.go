package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	SessionOpen   = "open"
	SessionClosed = "closed"
)

// ServiceSession is one metered operating period of a shift.
// Status: "open" | "closed". EndedAt is nil exactly while the session is open;
// a partial unique index keeps at most one open session per shift.
type ServiceSession struct {
	ID          uint            `gorm:"primaryKey"`
	ShiftID     uint            `gorm:"not null;index"`
	BranchID    uint            `gorm:"not null;index"`
	Status      string          `gorm:"type:varchar(20);not null;default:'open'"`
	StartedAt   time.Time       `gorm:"not null"`
	EndedAt     *time.Time
	CashAmount  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	CoinsAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	// AttendantsSnapshot freezes [{id, name}] at open time.
	AttendantsSnapshot datatypes.JSON
	OpenedByID         uint `gorm:"not null"`
	ClosedByID         *uint
	// FlowAmount is the sales flow (liters sold x price) computed by the last check.
	FlowAmount *decimal.Decimal `gorm:"type:decimal(12,2)"`
	// FlowMismatchAmount is the declared money (credit sales, card vouchers and
	// withdrawals) minus FlowAmount: positive is sobrante, negative faltante.
	FlowMismatchAmount *decimal.Decimal `gorm:"type:decimal(12,2)"`
	FlowMismatchType   *string          `gorm:"type:varchar(20)"`

	Shift *Shift               `gorm:"foreignKey:ShiftID"`
	Lines []ReconciliationLine `gorm:"foreignKey:SessionID"`
}

// IsOpen reports whether the session still accepts loads and can be closed.
func (s ServiceSession) IsOpen() bool {
	return s.Status == SessionOpen && s.EndedAt == nil
}

// ReconciliationLine is written once per machine-tank pair when a session closes.
// Classification: "normal" | "advertencia" | "critico"
type ReconciliationLine struct {
	ID              uint            `gorm:"primaryKey"`
	SessionID       uint            `gorm:"not null;index"`
	FuelLinkID      uint            `gorm:"not null"`
	MachineID       uint            `gorm:"not null"`
	FuelInventoryID uint            `gorm:"not null;index"`
	PreviousNumeral decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	FinalNumeral    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	LitersSold      decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	DispensedLiters decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	Divergence      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	Classification  string          `gorm:"type:varchar(20);not null"`
	CreatedAt       time.Time
}
