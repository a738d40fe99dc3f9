package repository

import (
	"context"

	"bencidata/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LoadRepository covers fuel loads, shop products and their loads, and fuel prices.
type LoadRepository interface {
	CreateFuelLoadTx(tx *gorm.DB, l *model.FuelLoad) error
	ListFuelLoads(ctx context.Context, sessionID uint) ([]model.FuelLoad, error)

	CreateProduct(ctx context.Context, p *model.BranchProduct) error
	FindProductByID(ctx context.Context, id uint) (*model.BranchProduct, error)
	// AddProductQuantityTx increments stock atomically.
	AddProductQuantityTx(tx *gorm.DB, id uint, qty int) error
	CreateProductLoadTx(tx *gorm.DB, l *model.ProductLoad) error
	ListProductLoads(ctx context.Context, sessionID uint) ([]model.ProductLoad, error)

	CreatePrice(ctx context.Context, p *model.FuelPrice) error
	// LatestPrices returns the current price per fuel type of a branch.
	LatestPrices(ctx context.Context, branchID uint) (map[string]decimal.Decimal, error)

	// DB exposes the underlying *gorm.DB so services can open transactions.
	DB() *gorm.DB
}

type loadRepo struct{ db *gorm.DB }

func NewLoadRepository(db *gorm.DB) LoadRepository { return &loadRepo{db: db} }

func (r *loadRepo) DB() *gorm.DB { return r.db }

func (r *loadRepo) CreateFuelLoadTx(tx *gorm.DB, l *model.FuelLoad) error {
	return tx.Create(l).Error
}

func (r *loadRepo) ListFuelLoads(ctx context.Context, sessionID uint) ([]model.FuelLoad, error) {
	var loads []model.FuelLoad
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id ASC").Find(&loads).Error
	return loads, err
}

func (r *loadRepo) CreateProduct(ctx context.Context, p *model.BranchProduct) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *loadRepo) FindProductByID(ctx context.Context, id uint) (*model.BranchProduct, error) {
	var p model.BranchProduct
	err := r.db.WithContext(ctx).First(&p, id).Error
	return &p, err
}

func (r *loadRepo) AddProductQuantityTx(tx *gorm.DB, id uint, qty int) error {
	return tx.Model(&model.BranchProduct{}).Where("id = ?", id).
		Update("quantity", gorm.Expr("quantity + ?", qty)).Error
}

func (r *loadRepo) CreateProductLoadTx(tx *gorm.DB, l *model.ProductLoad) error {
	return tx.Create(l).Error
}

func (r *loadRepo) ListProductLoads(ctx context.Context, sessionID uint) ([]model.ProductLoad, error) {
	var loads []model.ProductLoad
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id ASC").Find(&loads).Error
	return loads, err
}

func (r *loadRepo) CreatePrice(ctx context.Context, p *model.FuelPrice) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *loadRepo) LatestPrices(ctx context.Context, branchID uint) (map[string]decimal.Decimal, error) {
	var rows []model.FuelPrice
	err := r.db.WithContext(ctx).
		Where("branch_id = ?", branchID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	prices := make(map[string]decimal.Decimal, len(rows))
	for _, p := range rows {
		prices[p.FuelType] = p.Price // later rows win
	}
	return prices, nil
}
