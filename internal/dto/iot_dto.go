package dto

import "github.com/shopspring/decimal"

// DispensePayload is a parsed device report. Only UID and Liters are mandatory.
type DispensePayload struct {
	UID             string
	Liters          decimal.Decimal
	NozzleRef       *string
	DeviceTimestamp *string
}

// DispenseAck is the device-facing success body.
type DispenseAck struct {
	Status     string `json:"status"`
	EventID    uint   `json:"event_id"`
	ReceivedAt string `json:"received_at"`
}
