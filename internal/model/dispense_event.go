package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DispenseEvent is an immutable record of one hardware-reported dispense.
// Every attribution field is optional: events are kept even when the nozzle,
// the session or the operator could not be resolved. Rows are never updated.
type DispenseEvent struct {
	ID       uint            `gorm:"primaryKey"`
	ActorUID string          `gorm:"type:varchar(100);not null;index"`
	Liters   decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	// NozzleRef is the raw identifier sent by the device (code or number).
	NozzleRef        *string `gorm:"type:varchar(50)"`
	NozzleID         *uint   `gorm:"index"`
	FuelLinkID       *uint   `gorm:"index"`
	FuelInventoryID  *uint
	BranchID         *uint `gorm:"index"`
	ProfileID        *uint
	ServiceSessionID *uint `gorm:"index"`
	// DeviceTimestamp is stored verbatim (epoch, millis or ISO, depending on firmware).
	DeviceTimestamp *string `gorm:"type:varchar(100)"`
	// TankApplied is false when no tank was resolved or the floor guard rejected the decrement.
	TankApplied bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"index"`
}

// Attributed reports whether the event was matched to a session.
func (e DispenseEvent) Attributed() bool {
	return e.ServiceSessionID != nil
}
