package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dumeirei/affiliate-ledger/internal/common/logger"
	affiliateService "github.com/dumeirei/affiliate-ledger/internal/service/affiliate"
)

// 待对账报告单次最多列出的推广员数
const reconciliationReportLimit = 100

// TaskHandler 任务处理器
type TaskHandler struct {
	clearingService  *affiliateService.ClearingService
	affiliateService *affiliateService.AffiliateService
	log              *zap.Logger
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(
	clearingSvc *affiliateService.ClearingService,
	affiliateSvc *affiliateService.AffiliateService,
	log *zap.Logger,
) *TaskHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TaskHandler{
		clearingService:  clearingSvc,
		affiliateService: affiliateSvc,
		log:              log.Named("task"),
	}
}

// SweepDueConversions 结算所有已过冻结期的转化
func (h *TaskHandler) SweepDueConversions(ctx context.Context) error {
	result, err := h.clearingService.SweepDue(ctx)
	if err != nil {
		return err
	}
	if result.Cleared > 0 || result.Failed > 0 {
		h.log.Info("sweep finished",
			zap.Int("affiliates", result.Affiliates),
			zap.Int("cleared", result.Cleared),
			zap.Int("failed", result.Failed),
			logger.Amount(result.Amount),
		)
	}
	return nil
}

// ReportReconciliation 列出待人工对账的推广员
func (h *TaskHandler) ReportReconciliation(ctx context.Context) error {
	list, total, err := h.affiliateService.List(ctx, 0, reconciliationReportLimit, map[string]interface{}{
		"reconciliation_required": true,
	})
	if err != nil {
		return err
	}
	for _, a := range list {
		h.log.Warn("affiliate awaiting reconciliation",
			logger.AffiliateID(a.ID),
			zap.String("shortfall", a.ReconciliationShortfall.StringFixed(2)),
		)
	}
	if total > 0 {
		h.log.Warn("reconciliation backlog", zap.Int64("affiliates", total))
	}
	return nil
}

// SetupTasks 设置所有任务，sweepInterval 不大于 0 时只依赖访问时结算
func SetupTasks(scheduler *Scheduler, handler *TaskHandler, sweepInterval time.Duration) {
	scheduler.AddTask("SweepDueConversions", sweepInterval, handler.SweepDueConversions)

	// 每小时汇报待对账推广员
	scheduler.AddTask("ReportReconciliation", time.Hour, handler.ReportReconciliation)
}
