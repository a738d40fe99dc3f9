package service

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ── Shared-tank settlement ────────────────────────────────────────────────────
// Pure computation, no I/O. Several machines may draw from the same tank and a
// machine may draw from several tanks, so liters sold are computed per
// (machine, tank) link and summed per tank before any tank is checked.

// LinkKey identifies a machine-tank pair as submitted by the operator.
type LinkKey struct {
	MachineID       uint
	FuelInventoryID uint
}

func (k LinkKey) String() string {
	return fmt.Sprintf("%d-%d", k.MachineID, k.FuelInventoryID)
}

// LinkState is the stored numeral of one machine-tank link.
type LinkState struct {
	LinkID          uint
	MachineID       uint
	FuelInventoryID uint
	Numeral         decimal.Decimal
}

func (l LinkState) Key() LinkKey {
	return LinkKey{MachineID: l.MachineID, FuelInventoryID: l.FuelInventoryID}
}

// TankState is the stored balance of one tank.
type TankState struct {
	ID       uint
	Code     string
	FuelType string
	Capacity decimal.Decimal
	Liters   decimal.Decimal
}

type SettlementLine struct {
	LinkID          uint
	MachineID       uint
	FuelInventoryID uint
	Previous        decimal.Decimal
	Final           decimal.Decimal
	LitersSold      decimal.Decimal
}

type TankSettlement struct {
	TankID       uint
	Code         string
	FuelType     string
	LitersBefore decimal.Decimal
	Delta        decimal.Decimal
	LitersAfter  decimal.Decimal
}

// Settlement is the outcome of a successful Settle: per-link lines and the
// aggregated per-tank deltas, both in deterministic order.
type Settlement struct {
	Lines []SettlementLine
	Tanks []TankSettlement
}

// TotalLiters is the sum of liters sold across every line.
func (s *Settlement) TotalLiters() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.LitersSold)
	}
	return total
}

// Settle validates the submitted final numerals against the stored link and
// tank state. When requireAll is set every link must have a final numeral.
// Any violation yields a *ValidationError; nothing here mutates state.
func Settle(links []LinkState, tanks map[uint]TankState, finals map[LinkKey]decimal.Decimal, requireAll bool) (*Settlement, error) {
	v := validation{}
	known := make(map[LinkKey]bool, len(links))
	for _, l := range links {
		known[l.Key()] = true
	}
	for key := range finals {
		if !known[key] {
			v.add("numeral["+key.String()+"]", "La maquina no usa este tanque en la sucursal de la sesion")
		}
	}

	deltas := make(map[uint]decimal.Decimal)
	var lines []SettlementLine
	for _, l := range links {
		field := "numeral[" + l.Key().String() + "]"
		final, ok := finals[l.Key()]
		if !ok {
			if requireAll {
				v.add(field, "Falta el numeral final")
			}
			continue
		}
		if final.IsNegative() {
			v.add(field, "El numeral no puede ser negativo")
			continue
		}
		// numerals are stored as decimal(12,2); a finer value would drift from the tank
		if !final.Equal(final.Round(2)) {
			v.add(field, "El numeral admite como maximo 2 decimales")
			continue
		}
		sold := final.Sub(l.Numeral)
		if sold.IsNegative() {
			v.add(field, fmt.Sprintf("El numeral final no puede ser menor al anterior (%s)", l.Numeral.StringFixed(2)))
			continue
		}
		if _, ok := tanks[l.FuelInventoryID]; !ok {
			v.add(field, "Tanque desconocido")
			continue
		}
		lines = append(lines, SettlementLine{
			LinkID:          l.LinkID,
			MachineID:       l.MachineID,
			FuelInventoryID: l.FuelInventoryID,
			Previous:        l.Numeral,
			Final:           final,
			LitersSold:      sold,
		})
		deltas[l.FuelInventoryID] = deltas[l.FuelInventoryID].Add(sold)
	}

	tankIDs := make([]uint, 0, len(deltas))
	for id := range deltas {
		tankIDs = append(tankIDs, id)
	}
	sort.Slice(tankIDs, func(i, j int) bool { return tankIDs[i] < tankIDs[j] })

	settled := make([]TankSettlement, 0, len(tankIDs))
	for _, id := range tankIDs {
		tank := tanks[id]
		after := tank.Liters.Sub(deltas[id])
		if after.IsNegative() {
			v.add("tank["+tank.Code+"]", fmt.Sprintf(
				"Inventario insuficiente: se venderian %s L y el tanque tiene %s L",
				deltas[id].StringFixed(2), tank.Liters.StringFixed(2)))
			continue
		}
		settled = append(settled, TankSettlement{
			TankID:       id,
			Code:         tank.Code,
			FuelType:     tank.FuelType,
			LitersBefore: tank.Liters,
			Delta:        deltas[id],
			LitersAfter:  after,
		})
	}

	if err := v.err(); err != nil {
		return nil, err
	}

	sort.Slice(lines, func(i, j int) bool {
		if lines[i].MachineID != lines[j].MachineID {
			return lines[i].MachineID < lines[j].MachineID
		}
		return lines[i].FuelInventoryID < lines[j].FuelInventoryID
	})
	return &Settlement{Lines: lines, Tanks: settled}, nil
}

// ── Divergence ────────────────────────────────────────────────────────────────

const (
	DivergenceNormal      = "normal"
	DivergenceAdvertencia = "advertencia"
	DivergenceCritico     = "critico"
)

// DivergenceThresholds are percentages of the meter-reported liters.
type DivergenceThresholds struct {
	WarnPct     decimal.Decimal
	CriticalPct decimal.Decimal
}

// DefaultThresholds: normal ≤ 1%, advertencia ≤ 5%, critico > 5%.
func DefaultThresholds() DivergenceThresholds {
	return DivergenceThresholds{WarnPct: decimal.NewFromInt(1), CriticalPct: decimal.NewFromInt(5)}
}

// DivergencePct is (sold - dispensed) / sold * 100, rounded to 2 places.
// With nothing sold, any dispensed volume counts as 100%.
func DivergencePct(sold, dispensed decimal.Decimal) decimal.Decimal {
	diff := sold.Sub(dispensed)
	if sold.IsZero() {
		if diff.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromInt(100)
	}
	return diff.Div(sold).Mul(decimal.NewFromInt(100)).Round(2)
}

// ClassifyDivergence returns "normal" | "advertencia" | "critico".
func ClassifyDivergence(pct decimal.Decimal, th DivergenceThresholds) string {
	abs := pct.Abs()
	switch {
	case abs.LessThanOrEqual(th.WarnPct):
		return DivergenceNormal
	case abs.LessThanOrEqual(th.CriticalPct):
		return DivergenceAdvertencia
	default:
		return DivergenceCritico
	}
}

// ── Sales flow ────────────────────────────────────────────────────────────────

const (
	FlowMismatchNone     = "ninguno"
	FlowMismatchSurplus  = "sobrante"
	FlowMismatchShortage = "faltante"
)

// maxFlowMismatch is the largest gap a decimal(12,2) column can hold.
var maxFlowMismatch = decimal.RequireFromString("9999999999.99")

type FlowDetail struct {
	FuelType   string          `json:"fuel_type"`
	LitersSold decimal.Decimal `json:"liters_sold"`
	Price      decimal.Decimal `json:"price"`
	Amount     decimal.Decimal `json:"amount"`
}

// ComputeFlow prices the liters sold per fuel type with the current prices.
// Fuel types without a price contribute zero and are reported as missing.
func ComputeFlow(st *Settlement, prices map[string]decimal.Decimal) (decimal.Decimal, []FlowDetail, []string) {
	byFuel := make(map[string]decimal.Decimal)
	for _, t := range st.Tanks {
		byFuel[t.FuelType] = byFuel[t.FuelType].Add(t.Delta)
	}
	fuels := make([]string, 0, len(byFuel))
	for f := range byFuel {
		fuels = append(fuels, f)
	}
	sort.Strings(fuels)

	total := decimal.Zero
	var details []FlowDetail
	var missing []string
	for _, f := range fuels {
		price, ok := prices[f]
		if !ok {
			missing = append(missing, f)
		}
		amount := byFuel[f].Mul(price).Round(2)
		total = total.Add(amount)
		details = append(details, FlowDetail{FuelType: f, LitersSold: byFuel[f], Price: price, Amount: amount})
	}
	return total, details, missing
}

// FlowMismatch compares the declared money against the computed flow.
func FlowMismatch(declared, flow decimal.Decimal) (decimal.Decimal, string, error) {
	gap := declared.Sub(flow).Round(2)
	if gap.Abs().GreaterThan(maxFlowMismatch) {
		return gap, FlowMismatchNone, invalid("flow", "El descuadre calculado excede el limite permitido")
	}
	switch {
	case gap.IsPositive():
		return gap, FlowMismatchSurplus, nil
	case gap.IsNegative():
		return gap, FlowMismatchShortage, nil
	default:
		return gap, FlowMismatchNone, nil
	}
}
