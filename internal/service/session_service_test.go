package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"bencidata/internal/authz"
	"bencidata/internal/dto"
	"bencidata/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SnapshotsAttendants(t *testing.T) {
	f := newFixture(t)

	s := f.openSession(t)

	assert.Equal(t, model.SessionOpen, s.Status)
	assert.Equal(t, f.branch.ID, s.BranchID)
	assert.Nil(t, s.EndedAt)
	require.Len(t, s.Attendants, 1)
	assert.Equal(t, "Bombero Uno", s.Attendants[0].Name)
	assert.Equal(t, f.manager.ID, s.OpenedByID)
}

func TestOpen_SecondOpenSessionForShiftFails(t *testing.T) {
	f := newFixture(t)
	f.openSession(t)

	_, err := f.sessions.Open(context.Background(), f.head, dto.OpenSessionRequest{
		ShiftID:      f.shift.ID,
		AttendantIDs: []uint{f.attendant.ID},
	})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "shift_id")

	var open int64
	f.db.Model(&model.ServiceSession{}).Where("ended_at IS NULL").Count(&open)
	assert.Equal(t, int64(1), open)
}

func TestOpen_Validation(t *testing.T) {
	testCases := []struct {
		name  string
		req   func(f *fixture) dto.OpenSessionRequest
		field string
	}{
		{
			name:  "no attendants",
			req:   func(f *fixture) dto.OpenSessionRequest { return dto.OpenSessionRequest{ShiftID: f.shift.ID} },
			field: "attendant_ids",
		},
		{
			name: "unknown attendant",
			req: func(f *fixture) dto.OpenSessionRequest {
				return dto.OpenSessionRequest{ShiftID: f.shift.ID, AttendantIDs: []uint{f.attendant.ID, 9999}}
			},
			field: "attendant_ids",
		},
		{
			name: "negative cash",
			req: func(f *fixture) dto.OpenSessionRequest {
				return dto.OpenSessionRequest{ShiftID: f.shift.ID, AttendantIDs: []uint{f.attendant.ID}, CashAmount: d("-1")}
			},
			field: "cash_amount",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.sessions.Open(context.Background(), f.owner, tc.req(f))

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Fields, tc.field)
		})
	}
}

func TestOpen_Authorization(t *testing.T) {
	f := newFixture(t)
	req := dto.OpenSessionRequest{ShiftID: f.shift.ID, AttendantIDs: []uint{f.attendant.ID}}

	otherHead := authz.Actor{ProfileID: f.attendant.ID, Role: authz.RoleHeadAttendant, BranchScope: []uint{f.branch.ID}}
	_, err := f.sessions.Open(context.Background(), otherHead, req)
	assert.ErrorIs(t, err, ErrForbidden)

	outOfScope := authz.Actor{ProfileID: f.manager.ID, Role: authz.RoleAdministrator, BranchScope: []uint{f.branch.ID + 1}}
	_, err = f.sessions.Open(context.Background(), outOfScope, req)
	assert.ErrorIs(t, err, ErrForbidden)

	attendant := authz.Actor{ProfileID: f.attendant.ID, Role: authz.RoleAttendant, BranchScope: []uint{f.branch.ID}}
	_, err = f.sessions.Open(context.Background(), attendant, req)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.sessions.Open(context.Background(), f.owner, dto.OpenSessionRequest{ShiftID: 9999, AttendantIDs: []uint{f.attendant.ID}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClose_SharedTankAggregatesAcrossMachines(t *testing.T) {
	f := newFixture(t)
	s := f.openSession(t)

	resp, err := f.sessions.Close(context.Background(), f.head, s.ID, f.closeRequest("160", "255"))
	require.NoError(t, err)

	assert.True(t, resp.Committed)
	assert.Equal(t, model.SessionClosed, resp.Status)
	require.Len(t, resp.Tanks, 1)
	assert.True(t, resp.Tanks[0].LitersSold.Equal(d("115")))
	assert.Equal(t, "1085.00", f.tankLiters(t))

	n1, n2 := f.numerals(t)
	assert.Equal(t, "160.00", n1)
	assert.Equal(t, "255.00", n2)

	got, err := f.sessions.Get(context.Background(), f.head, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionClosed, got.Status)
	assert.NotNil(t, got.EndedAt)
	require.NotNil(t, got.ClosedByID)
	assert.Equal(t, f.manager.ID, *got.ClosedByID)
	assert.Len(t, got.Lines, 2)

	assert.Equal(t, []uint{s.ID}, f.notifier.closed)
}

func TestClose_RejectedInputCommitsNothing(t *testing.T) {
	testCases := []struct {
		name           string
		final1, final2 string
		field          string
	}{
		{name: "numeral goes backwards", final1: "99", final2: "250", field: "numeral"},
		{name: "shared tank would go negative", final1: "800", final2: "901", field: "tank[T1]"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.openSession(t)

			_, err := f.sessions.Close(context.Background(), f.head, s.ID, f.closeRequest(tc.final1, tc.final2))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Error(), tc.field)

			assert.Equal(t, "1200.00", f.tankLiters(t))
			n1, n2 := f.numerals(t)
			assert.Equal(t, "100.00", n1)
			assert.Equal(t, "200.00", n2)

			got, err := f.sessions.Get(context.Background(), f.head, s.ID)
			require.NoError(t, err)
			assert.Equal(t, model.SessionOpen, got.Status)
			assert.Empty(t, f.notifier.closed)
		})
	}
}

func TestClose_RequiresEveryLink(t *testing.T) {
	f := newFixture(t)
	s := f.openSession(t)

	req := dto.CloseSessionRequest{Numerals: []dto.NumeralInput{
		{MachineID: f.machine1.ID, FuelInventoryID: f.tank.ID, Numeral: d("150")},
	}}
	_, err := f.sessions.Close(context.Background(), f.head, s.ID, req)
	assert.True(t, IsValidation(err))
	assert.Equal(t, "1200.00", f.tankLiters(t))
}

func TestClose_ClosedSessionCannotBeClosedAgain(t *testing.T) {
	f := newFixture(t)
	s := f.openSession(t)

	_, err := f.sessions.Close(context.Background(), f.head, s.ID, f.closeRequest("160", "255"))
	require.NoError(t, err)

	_, err = f.sessions.Close(context.Background(), f.head, s.ID, f.closeRequest("170", "260"))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, "1085.00", f.tankLiters(t))

	// the shift can be opened again once its session is closed
	f.openSession(t)
}

func TestClose_ConcurrentClosesApplyOnce(t *testing.T) {
	f := newFixture(t)
	s := f.openSession(t)

	const attempts = 4
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.sessions.Close(context.Background(), f.head, s.ID, f.closeRequest("160", "255"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrSessionClosed), IsValidation(err):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, "1085.00", f.tankLiters(t))

	var lines int64
	f.db.Model(&model.ReconciliationLine{}).Where("session_id = ?", s.ID).Count(&lines)
	assert.Equal(t, int64(2), lines)
}

func TestClose_RecordsDivergenceAgainstDispenseEvents(t *testing.T) {
	f := newFixture(t)
	s := f.openSession(t)

	ref := "P1"
	_, err := f.dispense.Ingest(context.Background(), &dto.DispensePayload{UID: "CARD-0001", Liters: d("60"), NozzleRef: &ref})
	require.NoError(t, err)
	assert.Equal(t, "1140.00", f.tankLiters(t))

	resp, err := f.sessions.Close(context.Background(), f.head, s.ID, f.closeRequest("160", "255"))
	require.NoError(t, err)
	require.Len(t, resp.Lines, 2)

	byMachine := map[uint]dto.ReconciliationLineResponse{}
	for _, l := range resp.Lines {
		byMachine[l.MachineID] = l
	}

	l1 := byMachine[f.machine1.ID]
	assert.True(t, l1.LitersSold.Equal(d("60")))
	assert.True(t, l1.DispensedLiters.Equal(d("60")))
	assert.True(t, l1.Divergence.IsZero())
	assert.Equal(t, DivergenceNormal, l1.Classification)

	l2 := byMachine[f.machine2.ID]
	assert.True(t, l2.LitersSold.Equal(d("55")))
	assert.True(t, l2.DispensedLiters.IsZero())
	assert.True(t, l2.Divergence.Equal(d("55")))
	assert.Equal(t, DivergenceCritico, l2.Classification)

	// both mechanisms are kept: the event decrement and the close decrement
	assert.Equal(t, "1025.00", f.tankLiters(t))

	report, err := f.sessions.Report(context.Background(), f.owner, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EventCount)
	assert.Equal(t, 1, report.Critical)
	assert.True(t, report.TotalSold.Equal(d("115")))
	assert.True(t, report.TotalDispensed.Equal(d("60")))
}

func TestClose_CheckPreviewsAndStoresFlowOnly(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&model.FuelPrice{BranchID: f.branch.ID, FuelType: "Diesel", Price: d("1000")}).Error)
	s := f.openSession(t)

	req := f.closeRequest("160", "255")
	req.Action = CloseActionCheck
	resp, err := f.sessions.Close(context.Background(), f.head, s.ID, req)
	require.NoError(t, err)

	assert.False(t, resp.Committed)
	assert.Equal(t, model.SessionOpen, resp.Status)
	assert.True(t, resp.FlowAmount.Equal(d("115000")))
	// nothing declared yet: the opening float is not income
	assert.True(t, resp.DeclaredAmount.IsZero())
	assert.True(t, resp.FlowMismatchAmount.Equal(d("-115000")))
	assert.Equal(t, FlowMismatchShortage, resp.FlowMismatchType)
	assert.Empty(t, resp.MissingPrices)

	assert.Equal(t, "1200.00", f.tankLiters(t))
	n1, n2 := f.numerals(t)
	assert.Equal(t, "100.00", n1)
	assert.Equal(t, "200.00", n2)

	got, err := f.sessions.Get(context.Background(), f.head, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionOpen, got.Status)
	require.NotNil(t, got.FlowAmount)
	assert.True(t, got.FlowAmount.Equal(d("115000")))
	require.NotNil(t, got.FlowMismatchType)
	assert.Equal(t, FlowMismatchShortage, *got.FlowMismatchType)
}

func TestClose_CheckWithNothingSoldHasNoGap(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&model.FuelPrice{BranchID: f.branch.ID, FuelType: "Diesel", Price: d("1000")}).Error)
	s := f.openSession(t)

	req := f.closeRequest("100", "200")
	req.Action = CloseActionCheck
	resp, err := f.sessions.Close(context.Background(), f.head, s.ID, req)
	require.NoError(t, err)

	assert.True(t, resp.FlowAmount.IsZero())
	assert.True(t, resp.FlowMismatchAmount.IsZero())
	assert.Equal(t, FlowMismatchNone, resp.FlowMismatchType)
}

func TestClose_CheckComparesDeclaredMoneyAgainstFlow(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&model.FuelPrice{BranchID: f.branch.ID, FuelType: "Diesel", Price: d("1000")}).Error)
	s := f.openSession(t)
	ctx := context.Background()

	_, err := f.cashbook.RecordCreditSale(ctx, f.head, s.ID, dto.CreditSaleRequest{
		FuelInventoryID: f.tank.ID, InvoiceNumber: "000123", CustomerName: "Transportes Sur", Amount: d("40000"),
	})
	require.NoError(t, err)
	_, err = f.cashbook.RecordCardVoucher(ctx, f.head, s.ID, dto.CardVoucherRequest{VoucherCount: 3, TotalAmount: d("30000")})
	require.NoError(t, err)
	_, err = f.cashbook.RecordWithdrawal(ctx, f.head, s.ID, dto.WithdrawalRequest{Amount: d("50000")})
	require.NoError(t, err)

	req := f.closeRequest("160", "255")
	req.Action = CloseActionCheck
	resp, err := f.sessions.Close(ctx, f.head, s.ID, req)
	require.NoError(t, err)

	assert.True(t, resp.FlowAmount.Equal(d("115000")))
	assert.True(t, resp.DeclaredAmount.Equal(d("120000")))
	assert.True(t, resp.FlowMismatchAmount.Equal(d("5000")))
	assert.Equal(t, FlowMismatchSurplus, resp.FlowMismatchType)

	got, err := f.sessions.Get(ctx, f.head, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FlowMismatchAmount)
	assert.True(t, got.FlowMismatchAmount.Equal(d("5000")))
}

func TestClose_EndsSiblingSessionsOfTheBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	evening := model.Shift{BranchID: f.branch.ID, Code: "TARDE", StartTime: "15:00", EndTime: "23:00", ManagerID: &f.manager.ID}
	require.NoError(t, f.db.Omit("Manager", "Attendants").Create(&evening).Error)

	morning := f.openSession(t)
	sibling, err := f.sessions.Open(ctx, f.head, dto.OpenSessionRequest{ShiftID: evening.ID, AttendantIDs: []uint{f.attendant.ID}})
	require.NoError(t, err)

	// the device attributes to the latest open session of the branch
	ref := "P1"
	ack, err := f.dispense.Ingest(ctx, &dto.DispensePayload{UID: "CARD-0001", Liters: d("60"), NozzleRef: &ref})
	require.NoError(t, err)
	var event model.DispenseEvent
	require.NoError(t, f.db.First(&event, ack.EventID).Error)
	require.NotNil(t, event.ServiceSessionID)
	assert.Equal(t, sibling.ID, *event.ServiceSessionID)

	resp, err := f.sessions.Close(ctx, f.head, morning.ID, f.closeRequest("160", "200"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.SiblingsClosed)

	var line dto.ReconciliationLineResponse
	for _, l := range resp.Lines {
		if l.MachineID == f.machine1.ID {
			line = l
		}
	}
	assert.True(t, line.LitersSold.Equal(d("60")))
	assert.True(t, line.DispensedLiters.Equal(d("60")))
	assert.Equal(t, DivergenceNormal, line.Classification)

	got, err := f.sessions.Get(ctx, f.owner, sibling.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionClosed, got.Status)
	assert.NotNil(t, got.EndedAt)

	_, err = f.sessions.Close(ctx, f.head, sibling.ID, f.closeRequest("170", "200"))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, "1080.00", f.tankLiters(t))
}

func TestClose_ForbiddenForAttendant(t *testing.T) {
	f := newFixture(t)
	s := f.openSession(t)

	attendant := authz.Actor{ProfileID: f.attendant.ID, Role: authz.RoleAttendant, BranchScope: []uint{f.branch.ID}}
	_, err := f.sessions.Close(context.Background(), attendant, s.ID, f.closeRequest("160", "255"))
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, "1200.00", f.tankLiters(t))
}

func TestStartView_ListsManagedShiftsAndActiveSession(t *testing.T) {
	f := newFixture(t)
	other := model.Shift{BranchID: f.branch.ID, Code: "TARDE", StartTime: "15:00", EndTime: "23:00"}
	require.NoError(t, f.db.Omit("Manager", "Attendants").Create(&other).Error)

	view, err := f.sessions.StartView(context.Background(), f.head, f.branch.ID)
	require.NoError(t, err)
	require.Len(t, view.Shifts, 1)
	assert.Equal(t, "MANANA", view.Shifts[0].Code)
	assert.Nil(t, view.ActiveSession)

	s := f.openSession(t)
	view, err = f.sessions.StartView(context.Background(), f.owner, f.branch.ID)
	require.NoError(t, err)
	assert.Len(t, view.Shifts, 2)
	require.NotNil(t, view.ActiveSession)
	assert.Equal(t, s.ID, view.ActiveSession.ID)
}
