package model

import "time"

// Shift is a named work window of a branch with a manager and a roster of
// attendants. StartTime/EndTime are wall-clock "HH:MM" values.
type Shift struct {
	ID          uint   `gorm:"primaryKey"`
	BranchID    uint   `gorm:"not null;uniqueIndex:idx_shift_branch_code"`
	Code        string `gorm:"type:varchar(50);not null;uniqueIndex:idx_shift_branch_code"`
	Description string `gorm:"type:varchar(200)"`
	StartTime   string `gorm:"type:varchar(5);not null"`
	EndTime     string `gorm:"type:varchar(5);not null"`
	ManagerID   *uint  `gorm:"index"`
	CreatedAt   time.Time

	Manager    *Profile  `gorm:"foreignKey:ManagerID"`
	Attendants []Profile `gorm:"many2many:shift_attendants"`
}
