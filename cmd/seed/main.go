// cmd/seed/main.go: creates a demo branch with its topology and prints
// access tokens for the demo profiles.
// Uso: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"bencidata/internal/authz"
	"bencidata/internal/config"
	"bencidata/internal/dto"
	"bencidata/internal/infra"
	"bencidata/internal/metrics"
	"bencidata/internal/middleware"
	"bencidata/internal/model"
	"bencidata/internal/router"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect error")
	}
	if err := infra.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate error")
	}

	if err := seed(context.Background(), cfg, db); err != nil {
		log.Fatal().Err(err).Msg("seed error")
	}
}

func seed(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	branch := model.Branch{Name: "Estacion Demo", City: "Cordoba"}
	if err := db.WithContext(ctx).Where(model.Branch{Name: branch.Name}).FirstOrCreate(&branch).Error; err != nil {
		return err
	}

	profiles := []*model.Profile{
		{Username: "duenio", FullName: "Duenio Demo", Role: authz.RoleOwner},
		{Username: "encargado", FullName: "Encargado Demo", Role: authz.RoleHeadAttendant},
		{Username: "playero", FullName: "Playero Demo", Role: authz.RoleAttendant, HardwareUID: strPtr("DEMO-CARD-01")},
	}
	for _, p := range profiles {
		p.CurrentBranchID = &branch.ID
		p.Active = true
		if err := db.WithContext(ctx).Where(model.Profile{Username: p.Username}).FirstOrCreate(p).Error; err != nil {
			return err
		}
	}
	owner, manager, attendant := profiles[0], profiles[1], profiles[2]

	var tanks int64
	if err := db.WithContext(ctx).Model(&model.FuelInventory{}).Where("branch_id = ?", branch.ID).Count(&tanks).Error; err != nil {
		return err
	}
	if tanks == 0 {
		if err := seedTopology(ctx, cfg, db, branch.ID, owner.ID, manager.ID, attendant.ID); err != nil {
			return err
		}
	} else {
		log.Info().Uint("branch_id", branch.ID).Msg("topology already present, skipped")
	}

	for _, p := range profiles {
		token, err := middleware.IssueToken(cfg.JWTSecret, p.ID, p.Role, []uint{branch.ID}, cfg.JWTExpiration())
		if err != nil {
			return err
		}
		fmt.Printf("%-10s %s\n", p.Username, token)
	}
	return nil
}

func seedTopology(ctx context.Context, cfg *config.Config, db *gorm.DB, branchID, ownerID, managerID, attendantID uint) error {
	svcs := router.NewServices(cfg, db, metrics.New(), nil)
	actor := authz.Actor{ProfileID: ownerID, Role: authz.RoleOwner}

	diesel, err := svcs.Topology.RegisterTank(ctx, actor, branchID, dto.CreateTankRequest{
		Code: "T1", FuelType: "Diesel", Capacity: decimal.NewFromInt(20000), Liters: decimal.NewFromInt(12000),
	})
	if err != nil {
		return err
	}
	super, err := svcs.Topology.RegisterTank(ctx, actor, branchID, dto.CreateTankRequest{
		Code: "T2", FuelType: "Super", Capacity: decimal.NewFromInt(15000), Liters: decimal.NewFromInt(9000),
	})
	if err != nil {
		return err
	}

	island, err := svcs.Topology.RegisterIsland(ctx, actor, branchID, dto.CreateIslandRequest{Number: 1, Description: "Isla principal"})
	if err != nil {
		return err
	}
	machine, err := svcs.Topology.RegisterMachine(ctx, actor, branchID, dto.CreateMachineRequest{
		IslandID: island.ID,
		Number:   1,
		Links: []dto.MachineLinkInput{
			{FuelInventoryID: diesel.ID, Numeral: decimal.NewFromInt(100000)},
			{FuelInventoryID: super.ID, Numeral: decimal.NewFromInt(50000)},
		},
	})
	if err != nil {
		return err
	}
	for i, tankID := range []uint{diesel.ID, super.ID} {
		if _, err := svcs.Topology.RegisterNozzle(ctx, actor, branchID, dto.CreateNozzleRequest{
			MachineID: machine.ID, Number: i + 1, Code: fmt.Sprintf("P%d", i+1), FuelInventoryID: &tankID,
		}); err != nil {
			return err
		}
	}

	if _, err := svcs.Topology.RegisterShift(ctx, actor, branchID, dto.CreateShiftRequest{
		Code: "MANANA", StartTime: "06:00", EndTime: "14:00", ManagerID: &managerID, AttendantIDs: []uint{attendantID},
	}); err != nil {
		return err
	}

	prices := map[string]int64{"Diesel": 1150, "Super": 1230}
	for fuel, p := range prices {
		if _, err := svcs.Loads.RegisterPrice(ctx, actor, branchID, dto.CreatePriceRequest{FuelType: fuel, Price: decimal.NewFromInt(p)}); err != nil {
			return err
		}
	}
	log.Info().Uint("branch_id", branchID).Msg("demo topology created")
	return nil
}

func strPtr(s string) *string { return &s }
