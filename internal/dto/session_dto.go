package dto

import "github.com/shopspring/decimal"

// ─── Request DTOs ────────────────────────────────────────────────────────────

type OpenSessionRequest struct {
	ShiftID      uint            `json:"shift_id"      validate:"required"`
	AttendantIDs []uint          `json:"attendant_ids" validate:"required,min=1,dive,required"`
	CashAmount   decimal.Decimal `json:"cash_amount"   validate:"min=0"`
	CoinsAmount  decimal.Decimal `json:"coins_amount"  validate:"min=0"`
}

// NumeralInput is the final meter reading for one machine-tank pair.
type NumeralInput struct {
	MachineID       uint            `json:"machine_id"        validate:"required"`
	FuelInventoryID uint            `json:"fuel_inventory_id" validate:"required"`
	Numeral         decimal.Decimal `json:"numeral"           validate:"min=0"`
}

// CloseSessionRequest.Action: "close" (default) commits, "check" only previews.
type CloseSessionRequest struct {
	Action   string         `json:"action"   validate:"omitempty,oneof=check close"`
	Numerals []NumeralInput `json:"numerals" validate:"dive"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

// AttendantSnapshot is frozen into the session at open time.
type AttendantSnapshot struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type SessionResponse struct {
	ID                 uint                         `json:"id"`
	ShiftID            uint                         `json:"shift_id"`
	ShiftCode          string                       `json:"shift_code,omitempty"`
	BranchID           uint                         `json:"branch_id"`
	Status             string                       `json:"status"` // open | closed
	StartedAt          string                       `json:"started_at"`
	EndedAt            *string                      `json:"ended_at"`
	CashAmount         decimal.Decimal              `json:"cash_amount"`
	CoinsAmount        decimal.Decimal              `json:"coins_amount"`
	Attendants         []AttendantSnapshot          `json:"attendants"`
	OpenedByID         uint                         `json:"opened_by_id"`
	ClosedByID         *uint                        `json:"closed_by_id"`
	FlowAmount         *decimal.Decimal             `json:"flow_amount"`
	FlowMismatchAmount *decimal.Decimal             `json:"flow_mismatch_amount"`
	FlowMismatchType   *string                      `json:"flow_mismatch_type"`
	Lines              []ReconciliationLineResponse `json:"lines,omitempty"`
}

type ReconciliationLineResponse struct {
	FuelLinkID      uint            `json:"fuel_link_id"`
	MachineID       uint            `json:"machine_id"`
	FuelInventoryID uint            `json:"fuel_inventory_id"`
	PreviousNumeral decimal.Decimal `json:"previous_numeral"`
	FinalNumeral    decimal.Decimal `json:"final_numeral"`
	LitersSold      decimal.Decimal `json:"liters_sold"`
	DispensedLiters decimal.Decimal `json:"dispensed_liters"`
	Divergence      decimal.Decimal `json:"divergence"`
	DivergencePct   decimal.Decimal `json:"divergence_pct"`
	Classification  string          `json:"classification"` // normal | advertencia | critico
}

type TankBalanceResponse struct {
	FuelInventoryID uint            `json:"fuel_inventory_id"`
	Code            string          `json:"code"`
	FuelType        string          `json:"fuel_type"`
	LitersBefore    decimal.Decimal `json:"liters_before"`
	LitersSold      decimal.Decimal `json:"liters_sold"`
	LitersAfter     decimal.Decimal `json:"liters_after"`
}

type FlowDetailResponse struct {
	FuelType   string          `json:"fuel_type"`
	LitersSold decimal.Decimal `json:"liters_sold"`
	Price      decimal.Decimal `json:"price"`
	Amount     decimal.Decimal `json:"amount"`
}

type CloseSessionResponse struct {
	SessionID          uint                         `json:"session_id"`
	Action             string                       `json:"action"`
	Committed          bool                         `json:"committed"`
	Status             string                       `json:"status"`
	Lines              []ReconciliationLineResponse `json:"lines"`
	Tanks              []TankBalanceResponse        `json:"tanks"`
	FlowAmount         decimal.Decimal              `json:"flow_amount"`
	FlowDetails        []FlowDetailResponse         `json:"flow_details"`
	MissingPrices      []string                     `json:"missing_prices"`
	DeclaredAmount     decimal.Decimal              `json:"declared_amount"`
	FlowMismatchAmount decimal.Decimal              `json:"flow_mismatch_amount"`
	FlowMismatchType   string                       `json:"flow_mismatch_type"`
	SiblingsClosed     int64                        `json:"siblings_closed"` // other open sessions of the branch ended by this close
}

type StartViewResponse struct {
	BranchID      uint             `json:"branch_id"`
	Shifts        []ShiftResponse  `json:"shifts"`
	ActiveSession *SessionResponse `json:"active_session"`
}

// ReconciliationReport is the audit view of a session: persisted lines once
// closed, live dispensed totals per link while open.
type ReconciliationReport struct {
	SessionID      uint                         `json:"session_id"`
	Status         string                       `json:"status"`
	Lines          []ReconciliationLineResponse `json:"lines"`
	TotalSold      decimal.Decimal              `json:"total_sold"`
	TotalDispensed decimal.Decimal              `json:"total_dispensed"`
	EventCount     int                          `json:"event_count"`
	Critical       int                          `json:"critical"`
	FuelLoads      []FuelLoadResponse           `json:"fuel_loads"`
	ProductLoads   []ProductLoadResponse        `json:"product_loads"`
	Totals         SessionTotalsResponse        `json:"totals"`
}
