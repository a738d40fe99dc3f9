package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"bencidata/internal/authz"
	"bencidata/internal/config"
	"bencidata/internal/infra"
	"bencidata/internal/metrics"
	"bencidata/internal/middleware"
	"bencidata/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "router-test-secret"

// ── Harness ──────────────────────────────────────────────────────────────────

type station struct {
	db      *gorm.DB
	engine  *gin.Engine
	branch  model.Branch
	manager model.Profile
	worker  model.Profile
	shift   model.Shift
	tank    model.FuelInventory
	machine model.Machine
	link    model.MachineFuelLink
}

func testConfig() *config.Config {
	return &config.Config{
		Env:                     "test",
		JWTSecret:               testSecret,
		JWTExpirationHours:      1,
		CORSAllowedOrigins:      "*",
		APIRateLimitRPS:         1000,
		APIRateLimitBurst:       1000,
		IoTRateLimitRPS:         1000,
		IoTRateLimitBurst:       1000,
		TopologyCacheTTLSeconds: 60,
		DivergenceWarnPct:       1,
		DivergenceCriticalPct:   5,
		MaxSessionHours:         14,
	}
}

// newStation serves a seeded station from a private sqlite database.
func newStation(t *testing.T) *station {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, infra.Migrate(db))

	s := seedStation(t, db)
	cfg := testConfig()
	m := metrics.New()
	s.engine = New(cfg, db, nil, m, NewServices(cfg, db, m, nil), nil)
	return s
}

// seedStation creates one branch with tank T1 (1200 of 5000 L), one machine
// linked to it at numeral 100 and nozzle P1 on that link.
func seedStation(t *testing.T, db *gorm.DB) *station {
	t.Helper()
	s := &station{db: db}
	s.branch = model.Branch{Name: "Estacion Norte"}
	require.NoError(t, db.Create(&s.branch).Error)

	uid := "CARD-77"
	s.manager = model.Profile{Username: "encargada", Role: authz.RoleHeadAttendant, CurrentBranchID: &s.branch.ID, Active: true}
	s.worker = model.Profile{Username: "playero", Role: authz.RoleAttendant, HardwareUID: &uid, CurrentBranchID: &s.branch.ID, Active: true}
	require.NoError(t, db.Create(&s.manager).Error)
	require.NoError(t, db.Create(&s.worker).Error)

	s.shift = model.Shift{BranchID: s.branch.ID, Code: "TARDE", StartTime: "14:00", EndTime: "22:00", ManagerID: &s.manager.ID}
	require.NoError(t, db.Omit("Manager", "Attendants").Create(&s.shift).Error)

	s.tank = model.FuelInventory{BranchID: s.branch.ID, Code: "T1", FuelType: "Diesel",
		Capacity: decimal.NewFromInt(5000), Liters: decimal.NewFromInt(1200)}
	require.NoError(t, db.Create(&s.tank).Error)
	island := model.Island{BranchID: s.branch.ID, Number: 1}
	require.NoError(t, db.Create(&island).Error)
	s.machine = model.Machine{IslandID: island.ID, Number: 1}
	require.NoError(t, db.Create(&s.machine).Error)
	s.link = model.MachineFuelLink{MachineID: s.machine.ID, FuelInventoryID: s.tank.ID, Numeral: decimal.NewFromInt(100)}
	require.NoError(t, db.Create(&s.link).Error)
	nozzle := model.Nozzle{MachineID: s.machine.ID, BranchID: s.branch.ID, Number: 1, Code: "P1", FuelLinkID: &s.link.ID}
	require.NoError(t, db.Create(&nozzle).Error)
	return s
}

func (s *station) token(t *testing.T, p model.Profile) string {
	t.Helper()
	tok, err := middleware.IssueToken(testSecret, p.ID, p.Role, []uint{s.branch.ID}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *station) ownerToken(t *testing.T) string {
	t.Helper()
	tok, err := middleware.IssueToken(testSecret, s.manager.ID, authz.RoleOwner, nil, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *station) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *station) form(path, token string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *station) device(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/iot/proxy/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *station) tankLiters(t *testing.T) string {
	t.Helper()
	var tank model.FuelInventory
	require.NoError(t, s.db.First(&tank, s.tank.ID).Error)
	return tank.Liters.StringFixed(2)
}

func (s *station) openSession(t *testing.T) uint {
	t.Helper()
	w := s.do(http.MethodPost, "/v1/sessions", s.token(t, s.manager), map[string]any{
		"shift_id":      s.shift.ID,
		"attendant_ids": []uint{s.worker.ID},
		"cash_amount":   "30000",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		ID     uint   `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "open", resp.Status)
	return resp.ID
}

// ── Public surface ───────────────────────────────────────────────────────────

func TestHealthAndMetrics(t *testing.T) {
	s := newStation(t)

	w := s.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"db":"connected"`)
	assert.Contains(t, w.Body.String(), `"redis":"disabled"`)

	w = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bencidata_http_requests_total")
}

func TestV1RequiresToken(t *testing.T) {
	s := newStation(t)
	w := s.do(http.MethodGet, fmt.Sprintf("/v1/sessions?branch_id=%d", s.branch.ID), "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ── Device channel ───────────────────────────────────────────────────────────

func TestDeviceProxy_MalformedPayloadsArePlainText400(t *testing.T) {
	s := newStation(t)

	tests := []struct {
		body string
		want string
	}{
		{`{not json`, "JSON invalido"},
		{`{"uid":"CARD-77"}`, "Faltan campos 'uid' o 'litros'"},
		{`{"uid":"CARD-77","litros":-3}`, "El campo 'litros' debe ser un numero mayor a cero"},
	}
	for _, tt := range tests {
		w := s.device(tt.body)
		assert.Equal(t, http.StatusBadRequest, w.Code, tt.body)
		assert.Equal(t, tt.want, w.Body.String(), tt.body)
		assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"), tt.body)
	}
	assert.Equal(t, "1200.00", s.tankLiters(t))
}

func TestDeviceProxy_RecordsAndDecrementsTank(t *testing.T) {
	s := newStation(t)
	sessionID := s.openSession(t)

	w := s.device(`{"uid":"CARD-77","litros":"10.5","pistola":"P1","timestamp":"2026-03-01T10:00:00"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var ack struct {
		Status     string `json:"status"`
		EventID    uint   `json:"event_id"`
		ReceivedAt string `json:"received_at"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, "ok", ack.Status)
	assert.NotZero(t, ack.EventID)
	_, err := time.Parse(time.RFC3339, ack.ReceivedAt)
	assert.NoError(t, err)

	assert.Equal(t, "1189.50", s.tankLiters(t))

	var event model.DispenseEvent
	require.NoError(t, s.db.First(&event, ack.EventID).Error)
	require.NotNil(t, event.ServiceSessionID)
	assert.Equal(t, sessionID, *event.ServiceSessionID)
	require.NotNil(t, event.ProfileID)
	assert.Equal(t, s.worker.ID, *event.ProfileID)
}

func TestDeviceProxy_UnknownNozzleStillAcknowledged(t *testing.T) {
	s := newStation(t)
	w := s.device(`{"uid":"UNKNOWN","litros":4,"pistola":"ZZ"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1200.00", s.tankLiters(t))
}

// ── Sessions ─────────────────────────────────────────────────────────────────

func TestOpenSession_ValidationAndDuplicates(t *testing.T) {
	s := newStation(t)
	tok := s.token(t, s.manager)

	w := s.do(http.MethodPost, "/v1/sessions", tok, map[string]any{"shift_id": s.shift.ID, "attendant_ids": []uint{}})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "AttendantIDs")

	w = s.do(http.MethodPost, "/v1/sessions", tok, map[string]any{"shift_id": 999, "attendant_ids": []uint{s.worker.ID}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	s.openSession(t)
	w = s.do(http.MethodPost, "/v1/sessions", tok, map[string]any{"shift_id": s.shift.ID, "attendant_ids": []uint{s.worker.ID}})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "shift_id")
}

func TestCloseSession_FormPostRedirectsAndLocks(t *testing.T) {
	s := newStation(t)
	id := s.openSession(t)
	tok := s.token(t, s.manager)

	w := s.form(fmt.Sprintf("/v1/sessions/%d/close", id), tok, url.Values{
		"close_action":             {"close"},
		"form-TOTAL_FORMS":         {"1"},
		"form-0-machine_id":        {fmt.Sprint(s.machine.ID)},
		"form-0-fuel_inventory_id": {fmt.Sprint(s.tank.ID)},
		"form-0-numeral":           {"150"},
	})
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
	assert.Equal(t, fmt.Sprintf("/v1/sessions/start?branch_id=%d", s.branch.ID), w.Header().Get("Location"))
	assert.Equal(t, "1150.00", s.tankLiters(t))

	w = s.do(http.MethodPost, fmt.Sprintf("/v1/sessions/%d/close", id), tok, map[string]any{
		"numerals": []map[string]any{{"machine_id": s.machine.ID, "fuel_inventory_id": s.tank.ID, "numeral": "160"}},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "1150.00", s.tankLiters(t))

	w = s.do(http.MethodGet, fmt.Sprintf("/v1/sessions/%d/reconciliation", id), tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report struct {
		Status string `json:"status"`
		Lines  []struct {
			LitersSold decimal.Decimal `json:"liters_sold"`
		} `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "closed", report.Status)
	require.Len(t, report.Lines, 1)
	assert.Equal(t, "50.00", report.Lines[0].LitersSold.StringFixed(2))
}

func TestCloseSession_FormErrors(t *testing.T) {
	s := newStation(t)
	id := s.openSession(t)
	path := fmt.Sprintf("/v1/sessions/%d/close", id)

	w := s.form(path, s.token(t, s.manager), url.Values{
		"form-TOTAL_FORMS":  {"1"},
		"form-0-machine_id": {"abc"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "form-0-machine_id")

	// attendants may not close; browsers are sent home without a reason
	w = s.form(path, s.token(t, s.worker), url.Values{"form-TOTAL_FORMS": {"0"}})
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))

	w = s.do(http.MethodPost, path, s.token(t, s.worker), map[string]any{"numerals": []any{}})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "1200.00", s.tankLiters(t))
}

func TestCloseSession_CheckDoesNotCommit(t *testing.T) {
	s := newStation(t)
	id := s.openSession(t)

	w := s.do(http.MethodPost, fmt.Sprintf("/v1/sessions/%d/close", id), s.token(t, s.manager), map[string]any{
		"action":   "check",
		"numerals": []map[string]any{{"machine_id": s.machine.ID, "fuel_inventory_id": s.tank.ID, "numeral": "120"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Committed bool   `json:"committed"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Committed)
	assert.Equal(t, "1200.00", s.tankLiters(t))

	w = s.do(http.MethodGet, fmt.Sprintf("/v1/sessions/%d", id), s.token(t, s.manager), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"open"`)
}

func TestStartViewAndList(t *testing.T) {
	s := newStation(t)
	id := s.openSession(t)
	tok := s.token(t, s.manager)

	w := s.do(http.MethodGet, fmt.Sprintf("/v1/sessions/start?branch_id=%d", s.branch.ID), tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		Shifts        []struct{ Code string } `json:"shifts"`
		ActiveSession *struct{ ID uint }      `json:"active_session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Len(t, view.Shifts, 1)
	assert.Equal(t, "TARDE", view.Shifts[0].Code)
	require.NotNil(t, view.ActiveSession)
	assert.Equal(t, id, view.ActiveSession.ID)

	w = s.do(http.MethodGet, fmt.Sprintf("/v1/sessions?branch_id=%d", s.branch.ID), tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []struct{ ID uint }
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = s.do(http.MethodGet, "/v1/sessions", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/v1/sessions/start?branch_id=999", tok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// ── Loads and topology ───────────────────────────────────────────────────────

func TestFuelLoad(t *testing.T) {
	s := newStation(t)
	id := s.openSession(t)
	path := fmt.Sprintf("/v1/sessions/%d/fuel-loads", id)

	w := s.do(http.MethodPost, path, s.token(t, s.worker), map[string]any{
		"fuel_inventory_id": s.tank.ID, "liters_added": "800", "payment_amount": "900000", "invoice_number": "F-1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "2000.00", s.tankLiters(t))

	w = s.do(http.MethodPost, path, s.token(t, s.worker), map[string]any{
		"fuel_inventory_id": s.tank.ID, "liters_added": "0",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCashbookRoutes(t *testing.T) {
	s := newStation(t)
	id := s.openSession(t)
	head := s.token(t, s.manager)
	base := fmt.Sprintf("/v1/sessions/%d", id)

	w := s.do(http.MethodPost, base+"/withdrawals", head, map[string]any{"amount": "50000"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, base+"/withdrawals", s.token(t, s.worker), map[string]any{"amount": "1000"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, base+"/card-vouchers", head, map[string]any{"voucher_count": 0, "total_amount": "1000"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(http.MethodPost, base+"/credit-sales", head, map[string]any{
		"fuel_inventory_id": s.tank.ID, "invoice_number": "F-88", "customer_name": "Forestal Malleco", "amount": "40000",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var credit struct {
		ID     uint   `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &credit))
	assert.Equal(t, "pending", credit.Status)

	paidPath := fmt.Sprintf("/v1/credit-sales/%d/paid", credit.ID)
	w = s.do(http.MethodPost, paidPath, head, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodPost, paidPath, s.ownerToken(t), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &credit))
	assert.Equal(t, "paid", credit.Status)

	w = s.do(http.MethodGet, base+"/totals", head, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var totals struct {
		Declared decimal.Decimal `json:"declared"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &totals))
	assert.Equal(t, "90000.00", totals.Declared.StringFixed(2))
}

func TestTopologyRoutes(t *testing.T) {
	s := newStation(t)
	base := fmt.Sprintf("/v1/branches/%d", s.branch.ID)

	w := s.do(http.MethodPost, base+"/tanks", s.ownerToken(t), map[string]any{
		"code": "T2", "fuel_type": "Super", "capacity": "8000", "liters": "100",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, base+"/tanks", s.token(t, s.manager), map[string]any{
		"code": "T3", "fuel_type": "Super", "capacity": "8000",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, base+"/prices", s.ownerToken(t), map[string]any{"fuel_type": "Diesel", "price": "1150"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodGet, base+"/topology", s.token(t, s.manager), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var topo struct {
		Tanks []struct{ Code string } `json:"tanks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &topo))
	assert.Len(t, topo.Tanks, 2)

	w = s.do(http.MethodGet, "/v1/branches/abc/topology", s.ownerToken(t), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
