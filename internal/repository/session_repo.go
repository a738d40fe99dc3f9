package repository

import (
	"context"
	"time"

	"bencidata/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type SessionRepository interface {
	Create(ctx context.Context, s *model.ServiceSession) error
	// FindByID preloads Shift and reconciliation Lines.
	FindByID(ctx context.Context, id uint) (*model.ServiceSession, error)
	FindOpenByShift(ctx context.Context, shiftID uint) (*model.ServiceSession, error)
	// FindLatestOpenByBranch returns the most recently started open session of the branch.
	FindLatestOpenByBranch(ctx context.Context, branchID uint) (*model.ServiceSession, error)
	ListByBranch(ctx context.Context, branchID uint, limit int) ([]model.ServiceSession, error)
	ListOpenStartedBefore(ctx context.Context, before time.Time) ([]model.ServiceSession, error)

	// MarkClosedTx flips open → closed only if the session is still open.
	// Returns false when another close won the race.
	MarkClosedTx(tx *gorm.DB, id, closedBy uint, endedAt time.Time) (bool, error)
	// ListOpenByBranch returns every open session of the branch, oldest first.
	ListOpenByBranch(ctx context.Context, branchID uint) ([]model.ServiceSession, error)
	// CloseSiblingsTx ends every other open session of the branch and
	// returns how many were closed.
	CloseSiblingsTx(tx *gorm.DB, branchID, exceptID, closedBy uint, endedAt time.Time) (int64, error)
	CreateLinesTx(tx *gorm.DB, lines []model.ReconciliationLine) error
	UpdateFlow(ctx context.Context, id uint, flow, mismatch decimal.Decimal, mismatchType string) error

	// DB exposes the underlying *gorm.DB so services can open transactions.
	DB() *gorm.DB
}

type sessionRepo struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &sessionRepo{db: db} }

func (r *sessionRepo) DB() *gorm.DB { return r.db }

func (r *sessionRepo) Create(ctx context.Context, s *model.ServiceSession) error {
	return r.db.WithContext(ctx).Omit("Shift", "Lines").Create(s).Error
}

func (r *sessionRepo) FindByID(ctx context.Context, id uint) (*model.ServiceSession, error) {
	var s model.ServiceSession
	err := r.db.WithContext(ctx).
		Preload("Shift").
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("machine_id ASC, fuel_inventory_id ASC") }).
		First(&s, id).Error
	return &s, err
}

func (r *sessionRepo) FindOpenByShift(ctx context.Context, shiftID uint) (*model.ServiceSession, error) {
	var s model.ServiceSession
	err := r.db.WithContext(ctx).
		Where("shift_id = ? AND ended_at IS NULL", shiftID).
		First(&s).Error
	return &s, err
}

func (r *sessionRepo) FindLatestOpenByBranch(ctx context.Context, branchID uint) (*model.ServiceSession, error) {
	var s model.ServiceSession
	err := r.db.WithContext(ctx).
		Where("branch_id = ? AND ended_at IS NULL", branchID).
		Order("started_at DESC, id DESC").
		First(&s).Error
	return &s, err
}

func (r *sessionRepo) ListByBranch(ctx context.Context, branchID uint, limit int) ([]model.ServiceSession, error) {
	var sessions []model.ServiceSession
	err := r.db.WithContext(ctx).
		Where("branch_id = ?", branchID).
		Order("started_at DESC, id DESC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

func (r *sessionRepo) ListOpenStartedBefore(ctx context.Context, before time.Time) ([]model.ServiceSession, error) {
	var sessions []model.ServiceSession
	err := r.db.WithContext(ctx).
		Where("ended_at IS NULL AND started_at < ?", before).
		Order("started_at ASC").
		Find(&sessions).Error
	return sessions, err
}

func (r *sessionRepo) MarkClosedTx(tx *gorm.DB, id, closedBy uint, endedAt time.Time) (bool, error) {
	res := tx.Model(&model.ServiceSession{}).
		Where("id = ? AND status = ? AND ended_at IS NULL", id, model.SessionOpen).
		Updates(map[string]interface{}{
			"status":       model.SessionClosed,
			"ended_at":     endedAt,
			"closed_by_id": closedBy,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *sessionRepo) ListOpenByBranch(ctx context.Context, branchID uint) ([]model.ServiceSession, error) {
	var sessions []model.ServiceSession
	err := r.db.WithContext(ctx).
		Where("branch_id = ? AND ended_at IS NULL", branchID).
		Order("started_at ASC, id ASC").
		Find(&sessions).Error
	return sessions, err
}

func (r *sessionRepo) CloseSiblingsTx(tx *gorm.DB, branchID, exceptID, closedBy uint, endedAt time.Time) (int64, error) {
	res := tx.Model(&model.ServiceSession{}).
		Where("branch_id = ? AND id <> ? AND status = ? AND ended_at IS NULL", branchID, exceptID, model.SessionOpen).
		Updates(map[string]interface{}{
			"status":       model.SessionClosed,
			"ended_at":     endedAt,
			"closed_by_id": closedBy,
		})
	return res.RowsAffected, res.Error
}

func (r *sessionRepo) CreateLinesTx(tx *gorm.DB, lines []model.ReconciliationLine) error {
	if len(lines) == 0 {
		return nil
	}
	return tx.Create(&lines).Error
}

func (r *sessionRepo) UpdateFlow(ctx context.Context, id uint, flow, mismatch decimal.Decimal, mismatchType string) error {
	return r.db.WithContext(ctx).Model(&model.ServiceSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"flow_amount":          flow,
			"flow_mismatch_amount": mismatch,
			"flow_mismatch_type":   mismatchType,
		}).Error
}
