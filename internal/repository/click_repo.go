package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dumeirei/affiliate-ledger/internal/models"
)

// ClickRepository 推广链接点击仓储
type ClickRepository struct {
	db *gorm.DB
}

// NewClickRepository 创建点击仓储
func NewClickRepository(db *gorm.DB) *ClickRepository {
	return &ClickRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *ClickRepository) WithTx(tx *gorm.DB) *ClickRepository {
	return &ClickRepository{db: tx}
}

// Create 记录点击
func (r *ClickRepository) Create(ctx context.Context, click *models.AffiliateClick) error {
	return r.db.WithContext(ctx).Create(click).Error
}

// CountByAffiliateSince 统计推广员某时间之后的点击数
func (r *ClickRepository) CountByAffiliateSince(ctx context.Context, affiliateID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.AffiliateClick{}).
		Where("affiliate_id = ? AND created_at >= ?", affiliateID, since).
		Count(&count).Error
	return count, err
}
