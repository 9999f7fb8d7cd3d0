// Package repository 提供数据访问层
package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dumeirei/affiliate-ledger/internal/models"
)

// ledgerColumns 账务相关列，CAS 更新时只写这些列
var ledgerColumns = []string{
	"status", "tier", "commission_rate",
	"lifetime_clicks", "lifetime_conversions", "lifetime_earnings",
	"pending_earnings", "available_balance",
	"current_month_sales", "previous_month_sales", "sales_month", "last_reward_month",
	"payout_method", "payout_destination",
	"reconciliation_required", "reconciliation_shortfall", "ledger_adjustment",
	"version", "updated_at",
}

// AffiliateRepository 推广员仓储
type AffiliateRepository struct {
	db *gorm.DB
}

// NewAffiliateRepository 创建推广员仓储
func NewAffiliateRepository(db *gorm.DB) *AffiliateRepository {
	return &AffiliateRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *AffiliateRepository) WithTx(tx *gorm.DB) *AffiliateRepository {
	return &AffiliateRepository{db: tx}
}

// Create 创建推广员
func (r *AffiliateRepository) Create(ctx context.Context, affiliate *models.Affiliate) error {
	return r.db.WithContext(ctx).Create(affiliate).Error
}

// GetByID 根据 ID 获取推广员
func (r *AffiliateRepository) GetByID(ctx context.Context, id int64) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	if err := r.db.WithContext(ctx).First(&affiliate, id).Error; err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// GetForUpdate 加行锁读取推广员，必须在事务内调用
func (r *AffiliateRepository) GetForUpdate(ctx context.Context, id int64) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&affiliate, id).Error
	if err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// GetByReferralCode 根据推广码获取推广员
func (r *AffiliateRepository) GetByReferralCode(ctx context.Context, code string) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	if err := r.db.WithContext(ctx).Where("referral_code = ?", code).First(&affiliate).Error; err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// GetByUserID 根据用户 ID 获取推广员
func (r *AffiliateRepository) GetByUserID(ctx context.Context, userID int64) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&affiliate).Error; err != nil {
		return nil, err
	}
	return &affiliate, nil
}

// ExistsByReferralCode 推广码是否已被占用
func (r *AffiliateRepository) ExistsByReferralCode(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Affiliate{}).Where("referral_code = ?", code).Count(&count).Error
	return count > 0, err
}

// UpdateLedger 以版本号做比较交换写回账务列
// 返回 false 表示版本已变化，调用方应放弃本次写入
func (r *AffiliateRepository) UpdateLedger(ctx context.Context, affiliate *models.Affiliate) (bool, error) {
	expected := affiliate.Version
	affiliate.Version = expected + 1

	result := r.db.WithContext(ctx).
		Model(affiliate).
		Where("version = ?", expected).
		Select(ledgerColumns).
		Updates(affiliate)
	if result.Error != nil {
		affiliate.Version = expected
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		affiliate.Version = expected
		return false, nil
	}
	return true, nil
}

// IncrementClicks 累加点击数，点击不涉及余额，不走版本号
func (r *AffiliateRepository) IncrementClicks(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("id = ?", id).
		UpdateColumn("lifetime_clicks", gorm.Expr("lifetime_clicks + ?", 1)).Error
}

// List 获取推广员列表
func (r *AffiliateRepository) List(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Affiliate, int64, error) {
	var affiliates []*models.Affiliate
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Affiliate{})

	if status, ok := filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if tier, ok := filters["tier"].(string); ok && tier != "" {
		query = query.Where("tier = ?", tier)
	}
	if flagged, ok := filters["reconciliation_required"].(bool); ok {
		query = query.Where("reconciliation_required = ?", flagged)
	}
	if keyword, ok := filters["keyword"].(string); ok && keyword != "" {
		like := "%" + keyword + "%"
		query = query.Where("name LIKE ? OR email LIKE ? OR referral_code LIKE ?", like, like, like)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Order("id DESC").Offset(offset).Limit(limit).Find(&affiliates).Error; err != nil {
		return nil, 0, err
	}

	return affiliates, total, nil
}
