package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bencidata/internal/authz"
	"bencidata/internal/dto"
	"bencidata/internal/infra"
	"bencidata/internal/metrics"
	"bencidata/internal/model"
	"bencidata/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a private in-memory sqlite database with the full schema.
// A single connection serialises concurrent transactions the way row locks
// would on postgres.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, infra.Migrate(db))
	return db
}

// recordingNotifier captures enqueued closes.
type recordingNotifier struct {
	closed []uint
}

func (n *recordingNotifier) EnqueueSessionClosed(_ context.Context, sessionID uint) error {
	n.closed = append(n.closed, sessionID)
	return nil
}

// fixture is one branch with a shared tank T1 (1200 L of 5000) feeding two
// machines whose numerals start at 100 and 200. Nozzle P1 (number 1) sits on
// machine 1 and draws through its link.
type fixture struct {
	db *gorm.DB

	branch    model.Branch
	manager   model.Profile
	attendant model.Profile
	shift     model.Shift
	tank      model.FuelInventory
	island    model.Island
	machine1  model.Machine
	machine2  model.Machine
	link1     model.MachineFuelLink
	link2     model.MachineFuelLink
	nozzle    model.Nozzle

	owner authz.Actor
	head  authz.Actor

	notifier *recordingNotifier
	topology TopologyService
	sessions SessionService
	dispense DispenseService
	loads    LoadService
	cashbook CashbookService
	audit    AuditService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{db: db}

	f.branch = model.Branch{Name: "Estacion Centro", City: "Temuco"}
	require.NoError(t, db.Create(&f.branch).Error)

	uid := "CARD-0001"
	f.manager = model.Profile{Username: "jefe", FullName: "Jefa de Turno", Role: authz.RoleHeadAttendant, CurrentBranchID: &f.branch.ID, Active: true}
	f.attendant = model.Profile{Username: "bombero", FullName: "Bombero Uno", Role: authz.RoleAttendant, HardwareUID: &uid, CurrentBranchID: &f.branch.ID, Active: true}
	require.NoError(t, db.Create(&f.manager).Error)
	require.NoError(t, db.Create(&f.attendant).Error)

	f.shift = model.Shift{BranchID: f.branch.ID, Code: "MANANA", StartTime: "07:00", EndTime: "15:00", ManagerID: &f.manager.ID}
	require.NoError(t, db.Omit("Manager", "Attendants").Create(&f.shift).Error)

	f.tank = model.FuelInventory{BranchID: f.branch.ID, Code: "T1", FuelType: "Diesel", Capacity: d("5000"), Liters: d("1200")}
	require.NoError(t, db.Create(&f.tank).Error)

	f.island = model.Island{BranchID: f.branch.ID, Number: 1}
	require.NoError(t, db.Create(&f.island).Error)
	f.machine1 = model.Machine{IslandID: f.island.ID, Number: 1, FuelType: "Diesel"}
	f.machine2 = model.Machine{IslandID: f.island.ID, Number: 2, FuelType: "Diesel"}
	require.NoError(t, db.Create(&f.machine1).Error)
	require.NoError(t, db.Create(&f.machine2).Error)

	f.link1 = model.MachineFuelLink{MachineID: f.machine1.ID, FuelInventoryID: f.tank.ID, Numeral: d("100")}
	f.link2 = model.MachineFuelLink{MachineID: f.machine2.ID, FuelInventoryID: f.tank.ID, Numeral: d("200")}
	require.NoError(t, db.Create(&f.link1).Error)
	require.NoError(t, db.Create(&f.link2).Error)

	f.nozzle = model.Nozzle{MachineID: f.machine1.ID, BranchID: f.branch.ID, Number: 1, Code: "P1", FuelLinkID: &f.link1.ID}
	require.NoError(t, db.Create(&f.nozzle).Error)

	f.owner = authz.Actor{ProfileID: f.manager.ID, Role: authz.RoleOwner}
	f.head = authz.Actor{ProfileID: f.manager.ID, Role: authz.RoleHeadAttendant, BranchScope: []uint{f.branch.ID}}

	branchRepo := repository.NewBranchRepository(db)
	topologyRepo := repository.NewTopologyRepository(db)
	shiftRepo := repository.NewShiftRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	dispenseRepo := repository.NewDispenseRepository(db)
	loadRepo := repository.NewLoadRepository(db)
	cashbookRepo := repository.NewCashbookRepository(db)
	m := metrics.New()

	f.notifier = &recordingNotifier{}
	f.topology = NewTopologyService(topologyRepo, shiftRepo, branchRepo, time.Minute)
	f.audit = NewAuditService(sessionRepo, dispenseRepo, loadRepo, cashbookRepo, topologyRepo, m, DefaultThresholds(), 12*time.Hour)
	f.sessions = NewSessionService(SessionDeps{
		Sessions:   sessionRepo,
		Shifts:     shiftRepo,
		Branches:   branchRepo,
		Topology:   topologyRepo,
		Dispenses:  dispenseRepo,
		Loads:      loadRepo,
		Cashbook:   cashbookRepo,
		Audit:      f.audit,
		Notifier:   f.notifier,
		Metrics:    m,
		Thresholds: DefaultThresholds(),
	})
	f.dispense = NewDispenseService(dispenseRepo, f.topology, topologyRepo, sessionRepo, branchRepo, m)
	f.loads = NewLoadService(loadRepo, sessionRepo, topologyRepo, branchRepo)
	f.cashbook = NewCashbookService(cashbookRepo, loadRepo, sessionRepo, topologyRepo)
	return f
}

func (f *fixture) openSession(t *testing.T) *dto.SessionResponse {
	t.Helper()
	s, err := f.sessions.Open(context.Background(), f.head, dto.OpenSessionRequest{
		ShiftID:      f.shift.ID,
		AttendantIDs: []uint{f.attendant.ID},
		CashAmount:   d("50000"),
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) tankLiters(t *testing.T) string {
	t.Helper()
	var tank model.FuelInventory
	require.NoError(t, f.db.First(&tank, f.tank.ID).Error)
	return tank.Liters.StringFixed(2)
}

func (f *fixture) numerals(t *testing.T) (string, string) {
	t.Helper()
	var l1, l2 model.MachineFuelLink
	require.NoError(t, f.db.First(&l1, f.link1.ID).Error)
	require.NoError(t, f.db.First(&l2, f.link2.ID).Error)
	return l1.Numeral.StringFixed(2), l2.Numeral.StringFixed(2)
}

func (f *fixture) closeRequest(final1, final2 string) dto.CloseSessionRequest {
	return dto.CloseSessionRequest{
		Action: CloseActionClose,
		Numerals: []dto.NumeralInput{
			{MachineID: f.machine1.ID, FuelInventoryID: f.tank.ID, Numeral: d(final1)},
			{MachineID: f.machine2.ID, FuelInventoryID: f.tank.ID, Numeral: d(final2)},
		},
	}
}
