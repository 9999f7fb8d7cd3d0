package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dumeirei/affiliate-ledger/internal/models"
)

// PayoutRepository 提现仓储
type PayoutRepository struct {
	db *gorm.DB
}

// NewPayoutRepository 创建提现仓储
func NewPayoutRepository(db *gorm.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *PayoutRepository) WithTx(tx *gorm.DB) *PayoutRepository {
	return &PayoutRepository{db: tx}
}

// Create 创建提现申请，PendingGuard 唯一索引冲突说明已有待处理申请
func (r *PayoutRepository) Create(ctx context.Context, payout *models.Payout) error {
	return r.db.WithContext(ctx).Create(payout).Error
}

// GetByID 根据 ID 获取提现申请
func (r *PayoutRepository) GetByID(ctx context.Context, id int64) (*models.Payout, error) {
	var payout models.Payout
	if err := r.db.WithContext(ctx).First(&payout, id).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

// GetByIDWithAffiliate 根据 ID 获取提现申请（包含推广员）
func (r *PayoutRepository) GetByIDWithAffiliate(ctx context.Context, id int64) (*models.Payout, error) {
	var payout models.Payout
	if err := r.db.WithContext(ctx).Preload("Affiliate").First(&payout, id).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

// GetPendingByAffiliate 获取推广员待处理的提现申请，不存在时返回 nil
func (r *PayoutRepository) GetPendingByAffiliate(ctx context.Context, affiliateID int64) (*models.Payout, error) {
	var payouts []*models.Payout
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ? AND status = ?", affiliateID, models.PayoutStatusPending).
		Limit(1).
		Find(&payouts).Error
	if err != nil || len(payouts) == 0 {
		return nil, err
	}
	return payouts[0], nil
}

// CountPendingByAffiliate 统计推广员待处理提现数
func (r *PayoutRepository) CountPendingByAffiliate(ctx context.Context, affiliateID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("affiliate_id = ? AND status = ?", affiliateID, models.PayoutStatusPending).
		Count(&count).Error
	return count, err
}

// ListByAffiliateAndStatus 获取推广员指定状态的提现
func (r *PayoutRepository) ListByAffiliateAndStatus(ctx context.Context, affiliateID int64, statuses ...string) ([]*models.Payout, error) {
	var payouts []*models.Payout
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ? AND status IN ?", affiliateID, statuses).
		Order("id ASC").
		Find(&payouts).Error
	return payouts, err
}

// Complete 待处理转为已完成
func (r *PayoutRepository) Complete(ctx context.Context, id int64, transactionRef string, adminID int64, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status = ?", id, models.PayoutStatusPending).
		Updates(map[string]interface{}{
			"status":          models.PayoutStatusCompleted,
			"transaction_ref": transactionRef,
			"processed_at":    at,
			"processed_by":    adminID,
			"pending_guard":   nil,
		})
	return result.RowsAffected > 0, result.Error
}

// Reject 待处理转为已驳回
func (r *PayoutRepository) Reject(ctx context.Context, id int64, reason string, adminID int64, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status = ?", id, models.PayoutStatusPending).
		Updates(map[string]interface{}{
			"status":        models.PayoutStatusRejected,
			"reject_reason": reason,
			"processed_at":  at,
			"processed_by":  adminID,
			"pending_guard": nil,
		})
	return result.RowsAffected > 0, result.Error
}

// List 获取提现列表
func (r *PayoutRepository) List(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Payout, int64, error) {
	var payouts []*models.Payout
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Payout{})

	if affiliateID, ok := filters["affiliate_id"].(int64); ok && affiliateID > 0 {
		query = query.Where("affiliate_id = ?", affiliateID)
	}
	if status, ok := filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if startTime, ok := filters["start_time"].(time.Time); ok {
		query = query.Where("requested_at >= ?", startTime)
	}
	if endTime, ok := filters["end_time"].(time.Time); ok {
		query = query.Where("requested_at < ?", endTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&payouts).Error; err != nil {
		return nil, 0, err
	}

	return payouts, total, nil
}
