package repository

import (
	"context"

	"bencidata/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TopologyRepository is the data access contract for islands, machines,
// machine-tank links, nozzles and tanks.
type TopologyRepository interface {
	CreateTank(ctx context.Context, t *model.FuelInventory) error
	FindTankByID(ctx context.Context, id uint) (*model.FuelInventory, error)
	FindTanksByIDs(ctx context.Context, ids []uint) ([]model.FuelInventory, error)
	ListTanks(ctx context.Context, branchID uint) ([]model.FuelInventory, error)

	CreateIsland(ctx context.Context, i *model.Island) error
	FindIslandByID(ctx context.Context, id uint) (*model.Island, error)
	// ListIslands preloads machines and their tank links.
	ListIslands(ctx context.Context, branchID uint) ([]model.Island, error)

	// CreateMachineTx inserts the machine and its links in the caller's transaction.
	CreateMachineTx(tx *gorm.DB, m *model.Machine, links []model.MachineFuelLink) error
	FindMachineByID(ctx context.Context, id uint) (*model.Machine, error)

	FindLinkByID(ctx context.Context, id uint) (*model.MachineFuelLink, error)
	// ListLinksByBranch returns every machine-tank link of the branch with
	// Machine and FuelInventory preloaded.
	ListLinksByBranch(ctx context.Context, branchID uint) ([]model.MachineFuelLink, error)

	CreateNozzle(ctx context.Context, n *model.Nozzle) error
	// FindNozzlesByCode / FindNozzlesByNumber restrict to branchID when non-nil.
	FindNozzlesByCode(ctx context.Context, branchID *uint, code string) ([]model.Nozzle, error)
	FindNozzlesByNumber(ctx context.Context, branchID *uint, number int) ([]model.Nozzle, error)
	ListNozzles(ctx context.Context, branchID uint) ([]model.Nozzle, error)

	// SubtractLitersTx decrements tank liters only if the result stays >= 0.
	// Returns false when the guard rejected the update.
	SubtractLitersTx(tx *gorm.DB, tankID uint, liters decimal.Decimal) (bool, error)
	// AddLitersTx increments tank liters only if the result stays <= capacity.
	AddLitersTx(tx *gorm.DB, tankID uint, liters decimal.Decimal) (bool, error)
	// AdvanceNumeralTx sets the link numeral to final only if it still equals expected.
	AdvanceNumeralTx(tx *gorm.DB, linkID uint, expected, final decimal.Decimal) (bool, error)

	// DB exposes the underlying *gorm.DB so services can open transactions.
	DB() *gorm.DB
}

type topologyRepo struct{ db *gorm.DB }

func NewTopologyRepository(db *gorm.DB) TopologyRepository { return &topologyRepo{db: db} }

func (r *topologyRepo) DB() *gorm.DB { return r.db }

// ── Tanks ─────────────────────────────────────────────────────────────────────

func (r *topologyRepo) CreateTank(ctx context.Context, t *model.FuelInventory) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *topologyRepo) FindTankByID(ctx context.Context, id uint) (*model.FuelInventory, error) {
	var t model.FuelInventory
	err := r.db.WithContext(ctx).First(&t, id).Error
	return &t, err
}

func (r *topologyRepo) FindTanksByIDs(ctx context.Context, ids []uint) ([]model.FuelInventory, error) {
	var tanks []model.FuelInventory
	if len(ids) == 0 {
		return tanks, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&tanks).Error
	return tanks, err
}

func (r *topologyRepo) ListTanks(ctx context.Context, branchID uint) ([]model.FuelInventory, error) {
	var tanks []model.FuelInventory
	err := r.db.WithContext(ctx).Where("branch_id = ?", branchID).Order("code ASC").Find(&tanks).Error
	return tanks, err
}

func (r *topologyRepo) SubtractLitersTx(tx *gorm.DB, tankID uint, liters decimal.Decimal) (bool, error) {
	res := tx.Model(&model.FuelInventory{}).
		Where("id = ? AND liters >= ?", tankID, liters).
		Update("liters", gorm.Expr("liters - ?", liters))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *topologyRepo) AddLitersTx(tx *gorm.DB, tankID uint, liters decimal.Decimal) (bool, error) {
	res := tx.Model(&model.FuelInventory{}).
		Where("id = ? AND liters + ? <= capacity", tankID, liters).
		Update("liters", gorm.Expr("liters + ?", liters))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ── Islands & machines ────────────────────────────────────────────────────────

func (r *topologyRepo) CreateIsland(ctx context.Context, i *model.Island) error {
	return r.db.WithContext(ctx).Create(i).Error
}

func (r *topologyRepo) FindIslandByID(ctx context.Context, id uint) (*model.Island, error) {
	var i model.Island
	err := r.db.WithContext(ctx).First(&i, id).Error
	return &i, err
}

func (r *topologyRepo) ListIslands(ctx context.Context, branchID uint) ([]model.Island, error) {
	var islands []model.Island
	err := r.db.WithContext(ctx).
		Preload("Machines", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
		Preload("Machines.Links").
		Where("branch_id = ?", branchID).
		Order("number ASC").
		Find(&islands).Error
	return islands, err
}

func (r *topologyRepo) CreateMachineTx(tx *gorm.DB, m *model.Machine, links []model.MachineFuelLink) error {
	if err := tx.Omit("Links", "Island").Create(m).Error; err != nil {
		return err
	}
	for i := range links {
		links[i].MachineID = m.ID
	}
	if len(links) == 0 {
		return nil
	}
	if err := tx.Omit("Machine", "FuelInventory").Create(&links).Error; err != nil {
		return err
	}
	m.Links = links
	return nil
}

func (r *topologyRepo) FindMachineByID(ctx context.Context, id uint) (*model.Machine, error) {
	var m model.Machine
	err := r.db.WithContext(ctx).Preload("Island").Preload("Links").First(&m, id).Error
	return &m, err
}

// ── Links ─────────────────────────────────────────────────────────────────────

func (r *topologyRepo) FindLinkByID(ctx context.Context, id uint) (*model.MachineFuelLink, error) {
	var l model.MachineFuelLink
	err := r.db.WithContext(ctx).Preload("FuelInventory").First(&l, id).Error
	return &l, err
}

func (r *topologyRepo) ListLinksByBranch(ctx context.Context, branchID uint) ([]model.MachineFuelLink, error) {
	machines := r.db.Model(&model.Machine{}).
		Select("machines.id").
		Joins("JOIN islands ON islands.id = machines.island_id").
		Where("islands.branch_id = ?", branchID)

	var links []model.MachineFuelLink
	err := r.db.WithContext(ctx).
		Preload("Machine").
		Preload("FuelInventory").
		Where("machine_id IN (?)", machines).
		Order("machine_id ASC, fuel_inventory_id ASC").
		Find(&links).Error
	return links, err
}

func (r *topologyRepo) AdvanceNumeralTx(tx *gorm.DB, linkID uint, expected, final decimal.Decimal) (bool, error) {
	res := tx.Model(&model.MachineFuelLink{}).
		Where("id = ? AND numeral = ?", linkID, expected).
		Update("numeral", final)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ── Nozzles ───────────────────────────────────────────────────────────────────

func (r *topologyRepo) CreateNozzle(ctx context.Context, n *model.Nozzle) error {
	return r.db.WithContext(ctx).Omit("FuelLink").Create(n).Error
}

func (r *topologyRepo) FindNozzlesByCode(ctx context.Context, branchID *uint, code string) ([]model.Nozzle, error) {
	q := r.db.WithContext(ctx).Preload("FuelLink").Where("code = ?", code)
	if branchID != nil {
		q = q.Where("branch_id = ?", *branchID)
	}
	var nozzles []model.Nozzle
	err := q.Limit(2).Find(&nozzles).Error
	return nozzles, err
}

func (r *topologyRepo) FindNozzlesByNumber(ctx context.Context, branchID *uint, number int) ([]model.Nozzle, error) {
	q := r.db.WithContext(ctx).Preload("FuelLink").Where("number = ?", number)
	if branchID != nil {
		q = q.Where("branch_id = ?", *branchID)
	}
	var nozzles []model.Nozzle
	err := q.Limit(2).Find(&nozzles).Error
	return nozzles, err
}

func (r *topologyRepo) ListNozzles(ctx context.Context, branchID uint) ([]model.Nozzle, error) {
	var nozzles []model.Nozzle
	err := r.db.WithContext(ctx).Where("branch_id = ?", branchID).Order("machine_id ASC, number ASC").Find(&nozzles).Error
	return nozzles, err
}
