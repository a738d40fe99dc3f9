package model

import "time"

// Branch is a single fuel station. Islands, tanks, shifts, products and prices
// all hang off a branch.
type Branch struct {
	ID        uint   `gorm:"primaryKey"`
	CompanyID *uint  `gorm:"index"`
	Name      string `gorm:"type:varchar(100);not null"`
	Address   string `gorm:"type:varchar(200)"`
	City      string `gorm:"type:varchar(100)"`
	Region    string `gorm:"type:varchar(100)"`
	CreatedAt time.Time
}

// Profile is the flat operator record provided by the account collaborator.
// HardwareUID is the NFC/RFID identifier read by the dispenser controller.
// Role: "OWNER" | "ADMINISTRATOR" | "ACCOUNTANT" | "HEAD_ATTENDANT" | "ATTENDANT" | "RESTRICTED"
type Profile struct {
	ID              uint    `gorm:"primaryKey"`
	Username        string  `gorm:"type:varchar(150);uniqueIndex;not null"`
	FullName        string  `gorm:"type:varchar(200)"`
	Role            string  `gorm:"type:varchar(30);not null;default:'ATTENDANT'"`
	HardwareUID     *string `gorm:"type:varchar(100);uniqueIndex"`
	CurrentBranchID *uint   `gorm:"index"`
	Active          bool    `gorm:"not null;default:true"`
	CreatedAt       time.Time
}

// DisplayName falls back to the username when no full name was provided.
func (p Profile) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Username
}
