package service

import (
	"context"
	"testing"

	"bencidata/internal/authz"
	"bencidata/internal/dto"
	"bencidata/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFuelLoad_AddsLiters(t *testing.T) {
	f := newFixture(t)
	s := f.openSession(t)

	resp, err := f.loads.RecordFuelLoad(context.Background(), f.head, s.ID, dto.FuelLoadRequest{
		FuelInventoryID: f.tank.ID,
		LitersAdded:     d("3000"),
		PaymentAmount:   d("2850000"),
		InvoiceNumber:   "F-1001",
		DriverName:      "Juan Perez",
		LicensePlate:    "ab-cd-12",
	})
	require.NoError(t, err)

	assert.True(t, resp.TankLiters.Equal(d("4200")))
	assert.Equal(t, f.manager.ID, resp.ResponsibleID)
	assert.Equal(t, "AB-CD-12", resp.LicensePlate)
	assert.Equal(t, "4200.00", f.tankLiters(t))
}

func TestRecordFuelLoad_CapacityIsEnforced(t *testing.T) {
	f := newFixture(t)
	s := f.openSession(t)

	_, err := f.loads.RecordFuelLoad(context.Background(), f.head, s.ID, dto.FuelLoadRequest{
		FuelInventoryID: f.tank.ID,
		LitersAdded:     d("3800.01"),
	})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "liters_added")
	assert.Equal(t, "1200.00", f.tankLiters(t))

	var loads int64
	f.db.Model(&model.FuelLoad{}).Count(&loads)
	assert.Zero(t, loads)

	// filling exactly to capacity is allowed
	_, err = f.loads.RecordFuelLoad(context.Background(), f.head, s.ID, dto.FuelLoadRequest{
		FuelInventoryID: f.tank.ID,
		LitersAdded:     d("3800"),
	})
	require.NoError(t, err)
	assert.Equal(t, "5000.00", f.tankLiters(t))
}

func TestRecordFuelLoad_Rejections(t *testing.T) {
	f := newFixture(t)
	s := f.openSession(t)

	other := model.Branch{Name: "Estacion Norte"}
	require.NoError(t, f.db.Create(&other).Error)
	foreign := model.FuelInventory{BranchID: other.ID, Code: "N1", FuelType: "Diesel", Capacity: d("1000")}
	require.NoError(t, f.db.Create(&foreign).Error)

	_, err := f.loads.RecordFuelLoad(context.Background(), f.head, s.ID, dto.FuelLoadRequest{FuelInventoryID: foreign.ID, LitersAdded: d("10")})
	assert.True(t, IsValidation(err))

	_, err = f.loads.RecordFuelLoad(context.Background(), f.head, s.ID, dto.FuelLoadRequest{FuelInventoryID: f.tank.ID, LitersAdded: d("0")})
	assert.True(t, IsValidation(err))

	accountant := authz.Actor{ProfileID: f.manager.ID, Role: authz.RoleAccountant, BranchScope: []uint{f.branch.ID}}
	_, err = f.loads.RecordFuelLoad(context.Background(), accountant, s.ID, dto.FuelLoadRequest{FuelInventoryID: f.tank.ID, LitersAdded: d("10")})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.sessions.Close(context.Background(), f.head, s.ID, f.closeRequest("100", "200"))
	require.NoError(t, err)
	_, err = f.loads.RecordFuelLoad(context.Background(), f.head, s.ID, dto.FuelLoadRequest{FuelInventoryID: f.tank.ID, LitersAdded: d("10")})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestRecordProductLoad_IncrementsStock(t *testing.T) {
	f := newFixture(t)
	s := f.openSession(t)

	product, err := f.loads.RegisterProduct(context.Background(), f.owner, f.branch.ID, dto.CreateProductRequest{
		SKU: "ACE-1L", Name: "Aceite 1L", Quantity: 4, Price: d("6500"),
	})
	require.NoError(t, err)

	resp, err := f.loads.RecordProductLoad(context.Background(), f.head, s.ID, dto.ProductLoadRequest{
		BranchProductID: product.ID,
		QuantityAdded:   6,
		PaymentAmount:   d("30000"),
	})
	require.NoError(t, err)
	assert.Equal(t, 10, resp.StockQuantity)

	_, err = f.loads.RegisterProduct(context.Background(), f.owner, f.branch.ID, dto.CreateProductRequest{SKU: "ACE-1L", Name: "Duplicado"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "sku")

	report, err := f.sessions.Report(context.Background(), f.owner, s.ID)
	require.NoError(t, err)
	require.Len(t, report.ProductLoads, 1)
	assert.Equal(t, 6, report.ProductLoads[0].QuantityAdded)
}

func TestRegisterPrice_LatestWins(t *testing.T) {
	f := newFixture(t)

	_, err := f.loads.RegisterPrice(context.Background(), f.owner, f.branch.ID, dto.CreatePriceRequest{FuelType: "Diesel", Price: d("990")})
	require.NoError(t, err)
	_, err = f.loads.RegisterPrice(context.Background(), f.owner, f.branch.ID, dto.CreatePriceRequest{FuelType: "Diesel", Price: d("1010")})
	require.NoError(t, err)

	head := f.head
	_, err = f.loads.RegisterPrice(context.Background(), head, f.branch.ID, dto.CreatePriceRequest{FuelType: "Diesel", Price: d("1")})
	assert.ErrorIs(t, err, ErrForbidden)

	s := f.openSession(t)
	req := f.closeRequest("110", "200")
	req.Action = CloseActionCheck
	resp, err := f.sessions.Close(context.Background(), f.head, s.ID, req)
	require.NoError(t, err)
	assert.True(t, resp.FlowAmount.Equal(d("10100")))
}
