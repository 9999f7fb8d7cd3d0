package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dumeirei/affiliate-ledger/internal/models"
)

// ConversionRepository 转化仓储
type ConversionRepository struct {
	db *gorm.DB
}

// NewConversionRepository 创建转化仓储
func NewConversionRepository(db *gorm.DB) *ConversionRepository {
	return &ConversionRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *ConversionRepository) WithTx(tx *gorm.DB) *ConversionRepository {
	return &ConversionRepository{db: tx}
}

// Create 创建转化
func (r *ConversionRepository) Create(ctx context.Context, conversion *models.Conversion) error {
	return r.db.WithContext(ctx).Create(conversion).Error
}

// GetByID 根据 ID 获取转化
func (r *ConversionRepository) GetByID(ctx context.Context, id int64) (*models.Conversion, error) {
	var conversion models.Conversion
	if err := r.db.WithContext(ctx).First(&conversion, id).Error; err != nil {
		return nil, err
	}
	return &conversion, nil
}

// GetByOrderID 根据外部订单号获取转化
func (r *ConversionRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Conversion, error) {
	var conversion models.Conversion
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&conversion).Error; err != nil {
		return nil, err
	}
	return &conversion, nil
}

// ExistsByOrderID 订单是否已有转化
func (r *ConversionRepository) ExistsByOrderID(ctx context.Context, orderID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Conversion{}).Where("order_id = ?", orderID).Count(&count).Error
	return count > 0, err
}

// ListPendingByAffiliate 获取推广员全部待结算转化，按冻结到期时间升序
func (r *ConversionRepository) ListPendingByAffiliate(ctx context.Context, affiliateID int64) ([]*models.Conversion, error) {
	var conversions []*models.Conversion
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ? AND status = ?", affiliateID, models.ConversionStatusPending).
		Order("hold_expires_at ASC, id ASC").
		Find(&conversions).Error
	return conversions, err
}

// ListAffiliateIDsWithPending 有待结算转化的推广员 ID
func (r *ConversionRepository) ListAffiliateIDsWithPending(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.Conversion{}).
		Where("status = ?", models.ConversionStatusPending).
		Distinct("affiliate_id").
		Order("affiliate_id ASC").
		Pluck("affiliate_id", &ids).Error
	return ids, err
}

// ListByAffiliateAndStatus 获取推广员指定状态的转化
func (r *ConversionRepository) ListByAffiliateAndStatus(ctx context.Context, affiliateID int64, statuses ...string) ([]*models.Conversion, error) {
	var conversions []*models.Conversion
	err := r.db.WithContext(ctx).
		Where("affiliate_id = ? AND status IN ?", affiliateID, statuses).
		Order("id ASC").
		Find(&conversions).Error
	return conversions, err
}

// TransitionStatus 状态比较交换，只有当前状态为 from 时才更新
func (r *ConversionRepository) TransitionStatus(ctx context.Context, id int64, from string, updates map[string]interface{}) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Conversion{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return result.RowsAffected > 0, result.Error
}

// Clear 待结算转为已结算
func (r *ConversionRepository) Clear(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.TransitionStatus(ctx, id, models.ConversionStatusPending, map[string]interface{}{
		"status":     models.ConversionStatusCleared,
		"cleared_at": at,
	})
}

// Reverse 冲销转化
func (r *ConversionRepository) Reverse(ctx context.Context, id int64, from string, at time.Time) (bool, error) {
	return r.TransitionStatus(ctx, id, from, map[string]interface{}{
		"status":      models.ConversionStatusReversed,
		"reversed_at": at,
	})
}

// AttachToPayout 将推广员未关联提现的已结算转化关联到提现
func (r *ConversionRepository) AttachToPayout(ctx context.Context, affiliateID, payoutID int64) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Conversion{}).
		Where("affiliate_id = ? AND status = ? AND payout_id IS NULL", affiliateID, models.ConversionStatusCleared).
		Update("payout_id", payoutID)
	return result.RowsAffected, result.Error
}

// MarkPaidByPayout 提现完成后关联的已结算转化标记为已支付
func (r *ConversionRepository) MarkPaidByPayout(ctx context.Context, payoutID int64) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Conversion{}).
		Where("payout_id = ? AND status = ?", payoutID, models.ConversionStatusCleared).
		Update("status", models.ConversionStatusPaid)
	return result.RowsAffected, result.Error
}

// DetachFromPayout 提现驳回后解除关联，转化保持已结算
func (r *ConversionRepository) DetachFromPayout(ctx context.Context, payoutID int64) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Conversion{}).
		Where("payout_id = ? AND status = ?", payoutID, models.ConversionStatusCleared).
		Update("payout_id", nil)
	return result.RowsAffected, result.Error
}

// List 获取转化列表
func (r *ConversionRepository) List(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Conversion, int64, error) {
	var conversions []*models.Conversion
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Conversion{})

	if affiliateID, ok := filters["affiliate_id"].(int64); ok && affiliateID > 0 {
		query = query.Where("affiliate_id = ?", affiliateID)
	}
	if status, ok := filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if payoutID, ok := filters["payout_id"].(int64); ok && payoutID > 0 {
		query = query.Where("payout_id = ?", payoutID)
	}
	if startTime, ok := filters["start_time"].(time.Time); ok {
		query = query.Where("purchased_at >= ?", startTime)
	}
	if endTime, ok := filters["end_time"].(time.Time); ok {
		query = query.Where("purchased_at < ?", endTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&conversions).Error; err != nil {
		return nil, 0, err
	}

	return conversions, total, nil
}
