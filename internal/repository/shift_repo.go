package repository

import (
	"context"

	"bencidata/internal/model"

	"gorm.io/gorm"
)

type ShiftRepository interface {
	// Create inserts the shift and its attendant roster.
	Create(ctx context.Context, s *model.Shift) error
	// FindByID preloads Manager and Attendants.
	FindByID(ctx context.Context, id uint) (*model.Shift, error)
	ListByBranch(ctx context.Context, branchID uint) ([]model.Shift, error)
}

type shiftRepo struct{ db *gorm.DB }

func NewShiftRepository(db *gorm.DB) ShiftRepository { return &shiftRepo{db: db} }

func (r *shiftRepo) Create(ctx context.Context, s *model.Shift) error {
	return r.db.WithContext(ctx).Omit("Manager", "Attendants.*").Create(s).Error
}

func (r *shiftRepo) FindByID(ctx context.Context, id uint) (*model.Shift, error) {
	var s model.Shift
	err := r.db.WithContext(ctx).
		Preload("Manager").
		Preload("Attendants", func(db *gorm.DB) *gorm.DB { return db.Order("profiles.id ASC") }).
		First(&s, id).Error
	return &s, err
}

func (r *shiftRepo) ListByBranch(ctx context.Context, branchID uint) ([]model.Shift, error) {
	var shifts []model.Shift
	err := r.db.WithContext(ctx).
		Preload("Attendants").
		Where("branch_id = ?", branchID).
		Order("start_time ASC").
		Find(&shifts).Error
	return shifts, err
}
