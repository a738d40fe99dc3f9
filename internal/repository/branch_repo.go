package repository

import (
	"context"

	"bencidata/internal/model"

	"gorm.io/gorm"
)

// BranchRepository covers the flat records owned by the account collaborator:
// branches and operator profiles.
type BranchRepository interface {
	Create(ctx context.Context, b *model.Branch) error
	FindByID(ctx context.Context, id uint) (*model.Branch, error)

	CreateProfile(ctx context.Context, p *model.Profile) error
	FindProfileByID(ctx context.Context, id uint) (*model.Profile, error)
	FindProfilesByIDs(ctx context.Context, ids []uint) ([]model.Profile, error)
	// FindProfileByHardwareUID matches the NFC/RFID identifier sent by devices.
	FindProfileByHardwareUID(ctx context.Context, uid string) (*model.Profile, error)
}

type branchRepo struct{ db *gorm.DB }

func NewBranchRepository(db *gorm.DB) BranchRepository { return &branchRepo{db: db} }

func (r *branchRepo) Create(ctx context.Context, b *model.Branch) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *branchRepo) FindByID(ctx context.Context, id uint) (*model.Branch, error) {
	var b model.Branch
	err := r.db.WithContext(ctx).First(&b, id).Error
	return &b, err
}

func (r *branchRepo) CreateProfile(ctx context.Context, p *model.Profile) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *branchRepo) FindProfileByID(ctx context.Context, id uint) (*model.Profile, error) {
	var p model.Profile
	err := r.db.WithContext(ctx).First(&p, id).Error
	return &p, err
}

func (r *branchRepo) FindProfilesByIDs(ctx context.Context, ids []uint) ([]model.Profile, error) {
	var profiles []model.Profile
	if len(ids) == 0 {
		return profiles, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&profiles).Error
	return profiles, err
}

func (r *branchRepo) FindProfileByHardwareUID(ctx context.Context, uid string) (*model.Profile, error) {
	var p model.Profile
	err := r.db.WithContext(ctx).Where("hardware_uid = ? AND active = ?", uid, true).First(&p).Error
	return &p, err
}
