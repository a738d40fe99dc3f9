package repository

import (
	"context"
	"time"

	"bencidata/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DispenseRepository stores hardware dispense events. Events are immutable:
// there is deliberately no Update or Delete.
type DispenseRepository interface {
	CreateTx(tx *gorm.DB, e *model.DispenseEvent) error
	FindByID(ctx context.Context, id uint) (*model.DispenseEvent, error)
	ListBySession(ctx context.Context, sessionID uint) ([]model.DispenseEvent, error)
	// SumLitersByLink totals attributed liters per machine-tank link over the
	// given sessions.
	SumLitersByLink(ctx context.Context, sessionIDs ...uint) (map[uint]decimal.Decimal, error)
	CountUnattributedSince(ctx context.Context, since time.Time) (int64, error)

	// DB exposes the underlying *gorm.DB so services can open transactions.
	DB() *gorm.DB
}

type dispenseRepo struct{ db *gorm.DB }

func NewDispenseRepository(db *gorm.DB) DispenseRepository { return &dispenseRepo{db: db} }

func (r *dispenseRepo) DB() *gorm.DB { return r.db }

func (r *dispenseRepo) CreateTx(tx *gorm.DB, e *model.DispenseEvent) error {
	return tx.Create(e).Error
}

func (r *dispenseRepo) FindByID(ctx context.Context, id uint) (*model.DispenseEvent, error) {
	var e model.DispenseEvent
	err := r.db.WithContext(ctx).First(&e, id).Error
	return &e, err
}

func (r *dispenseRepo) ListBySession(ctx context.Context, sessionID uint) ([]model.DispenseEvent, error) {
	var events []model.DispenseEvent
	err := r.db.WithContext(ctx).
		Where("service_session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	return events, err
}

func (r *dispenseRepo) SumLitersByLink(ctx context.Context, sessionIDs ...uint) (map[uint]decimal.Decimal, error) {
	sums := make(map[uint]decimal.Decimal)
	if len(sessionIDs) == 0 {
		return sums, nil
	}
	type row struct {
		FuelLinkID uint
		Total      decimal.Decimal
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&model.DispenseEvent{}).
		Select("fuel_link_id, COALESCE(SUM(liters), 0) AS total").
		Where("service_session_id IN ? AND fuel_link_id IS NOT NULL", sessionIDs).
		Group("fuel_link_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		sums[r.FuelLinkID] = r.Total
	}
	return sums, nil
}

func (r *dispenseRepo) CountUnattributedSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.DispenseEvent{}).
		Where("service_session_id IS NULL AND created_at >= ?", since).
		Count(&n).Error
	return n, err
}
