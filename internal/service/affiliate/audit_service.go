package affiliate

import (
	"context"

	"github.com/dumeirei/affiliate-ledger/internal/models"
)

// AuditService 审计日志查询
type AuditService struct {
	*Ledger
}

// NewAuditService 创建审计日志查询服务
func NewAuditService(l *Ledger) *AuditService {
	return &AuditService{Ledger: l}
}

// List 获取审计日志列表
func (s *AuditService) List(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.AuditLog, int64, error) {
	list, total, err := s.audits.List(ctx, offset, limit, filters)
	if err != nil {
		return nil, 0, storeError(err)
	}
	return list, total, nil
}

// ListByEntity 获取某个对象的完整审计轨迹
func (s *AuditService) ListByEntity(ctx context.Context, entityType string, entityID int64) ([]*models.AuditLog, error) {
	list, err := s.audits.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, storeError(err)
	}
	return list, nil
}
