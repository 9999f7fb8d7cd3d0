// Package admin 管理端 HTTP Handler
package admin

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dumeirei/affiliate-ledger/internal/common/handler"
	"github.com/dumeirei/affiliate-ledger/internal/common/response"
	"github.com/dumeirei/affiliate-ledger/internal/models"
	affiliateService "github.com/dumeirei/affiliate-ledger/internal/service/affiliate"
)

// AffiliateHandler 推广员管理处理器
type AffiliateHandler struct {
	affiliateService  *affiliateService.AffiliateService
	conversionService *affiliateService.ConversionService
	payoutService     *affiliateService.PayoutService
	tierService       *affiliateService.TierService
	auditService      *affiliateService.AuditService
}

// NewAffiliateHandler 创建推广员管理处理器
func NewAffiliateHandler(
	affiliateSvc *affiliateService.AffiliateService,
	conversionSvc *affiliateService.ConversionService,
	payoutSvc *affiliateService.PayoutService,
	tierSvc *affiliateService.TierService,
	auditSvc *affiliateService.AuditService,
) *AffiliateHandler {
	return &AffiliateHandler{
		affiliateService:  affiliateSvc,
		conversionService: conversionSvc,
		payoutService:     payoutSvc,
		tierService:       tierSvc,
		auditService:      auditSvc,
	}
}

// Create 创建推广员
// @Summary 创建推广员
// @Description 未指定推广码时自动生成
// @Tags 管理-推广员
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body affiliate.CreateAffiliateRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Affiliate}
// @Router /api/admin/affiliates [post]
func (h *AffiliateHandler) Create(c *gin.Context) {
	adminID, ok := handler.RequireAdminID(c)
	if !ok {
		return
	}

	var req affiliateService.CreateAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	a, err := h.affiliateService.Create(c.Request.Context(), &req, adminID)
	handler.MustSucceed(c, err, a)
}

// UpdateStatusRequest 更新状态请求
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=ACTIVE SUSPENDED"`
}

// UpdateStatus 停用或恢复推广员
// @Summary 停用或恢复推广员
// @Tags 管理-推广员
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "推广员ID"
// @Param request body UpdateStatusRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Affiliate}
// @Router /api/admin/affiliates/{id}/status [put]
func (h *AffiliateHandler) UpdateStatus(c *gin.Context) {
	adminID, ok := handler.RequireAdminID(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "推广员")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	a, err := h.affiliateService.SetStatus(c.Request.Context(), id, req.Status, adminID)
	handler.MustSucceed(c, err, a)
}

// OverrideTierRequest 人工设定等级请求
type OverrideTierRequest struct {
	Tier string `json:"tier" binding:"required"`
}

// OverrideTier 人工设定等级
// @Summary 人工设定等级
// @Description 生效至下一次销量重算
// @Tags 管理-推广员
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "推广员ID"
// @Param request body OverrideTierRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Affiliate}
// @Router /api/admin/affiliates/{id}/tier [put]
func (h *AffiliateHandler) OverrideTier(c *gin.Context) {
	adminID, ok := handler.RequireAdminID(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "推广员")
	if !ok {
		return
	}

	var req OverrideTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	a, err := h.tierService.OverrideTier(c.Request.Context(), id, req.Tier, adminID)
	handler.MustSucceed(c, err, a)
}

// AdjustBalance 人工调账
// @Summary 人工调账
// @Description 金额为正入账、为负扣减，resolve=true 时清除对账标记
// @Tags 管理-推广员
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "推广员ID"
// @Param request body affiliate.AdjustBalanceRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Affiliate}
// @Router /api/admin/affiliates/{id}/adjustments [post]
func (h *AffiliateHandler) AdjustBalance(c *gin.Context) {
	adminID, ok := handler.RequireAdminID(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "推广员")
	if !ok {
		return
	}

	var req affiliateService.AdjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	a, err := h.affiliateService.AdjustBalance(c.Request.Context(), id, &req, adminID)
	handler.MustSucceed(c, err, a)
}

// MarkRewardIssued 标记月度奖励已发放
// @Summary 标记月度奖励已发放
// @Tags 管理-推广员
// @Produce json
// @Security Bearer
// @Param id path int true "推广员ID"
// @Success 200 {object} response.Response{data=models.Affiliate}
// @Router /api/admin/affiliates/{id}/reward [post]
func (h *AffiliateHandler) MarkRewardIssued(c *gin.Context) {
	adminID, ok := handler.RequireAdminID(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "推广员")
	if !ok {
		return
	}

	a, err := h.tierService.MarkRewardIssued(c.Request.Context(), id, adminID)
	handler.MustSucceed(c, err, a)
}

// AffiliateDetail 推广员详情
type AffiliateDetail struct {
	*models.Affiliate
	RewardEligible bool `json:"reward_eligible"`
}

// Get 获取推广员详情
// @Summary 获取推广员详情
// @Tags 管理-推广员
// @Produce json
// @Security Bearer
// @Param id path int true "推广员ID"
// @Success 200 {object} response.Response{data=AffiliateDetail}
// @Router /api/admin/affiliates/{id} [get]
func (h *AffiliateHandler) Get(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}
	id, ok := handler.ParseID(c, "推广员")
	if !ok {
		return
	}

	a, err := h.affiliateService.Get(c.Request.Context(), id)
	if handler.HandleError(c, err) {
		return
	}
	eligible, err := h.tierService.IsRewardEligible(c.Request.Context(), id)
	handler.MustSucceed(c, err, &AffiliateDetail{Affiliate: a, RewardEligible: eligible})
}

// List 获取推广员列表
// @Summary 获取推广员列表
// @Tags 管理-推广员
// @Produce json
// @Security Bearer
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Param status query string false "状态"
// @Param tier query string false "等级"
// @Param reconciliation_required query bool false "待对账"
// @Param keyword query string false "推广码/名称/邮箱"
// @Success 200 {object} response.Response{data=response.PageData{list=[]models.Affiliate}}
// @Router /api/admin/affiliates [get]
func (h *AffiliateHandler) List(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	p := handler.BindPagination(c)
	filters := make(map[string]interface{})
	if status := c.Query("status"); status != "" {
		filters["status"] = status
	}
	if tier := c.Query("tier"); tier != "" {
		filters["tier"] = tier
	}
	if keyword := c.Query("keyword"); keyword != "" {
		filters["keyword"] = keyword
	}
	if s := c.Query("reconciliation_required"); s != "" {
		flag, err := strconv.ParseBool(s)
		if err != nil {
			response.BadRequest(c, "参数错误")
			return
		}
		filters["reconciliation_required"] = flag
	}

	list, total, err := h.affiliateService.List(c.Request.Context(), p.GetOffset(), p.GetLimit(), filters)
	handler.MustSucceedPage(c, err, list, total, p)
}

// VerifyLedger 账本核对
// @Summary 账本核对
// @Description 按转化与提现明细重算可用余额与待结算收益
// @Tags 管理-推广员
// @Produce json
// @Security Bearer
// @Param id path int true "推广员ID"
// @Success 200 {object} response.Response{data=affiliate.LedgerCheck}
// @Router /api/admin/affiliates/{id}/ledger [get]
func (h *AffiliateHandler) VerifyLedger(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}
	id, ok := handler.ParseID(c, "推广员")
	if !ok {
		return
	}

	check, err := h.affiliateService.VerifyLedger(c.Request.Context(), id)
	handler.MustSucceed(c, err, check)
}

// ListPayouts 获取提现申请列表
// @Summary 获取提现申请列表
// @Tags 管理-提现
// @Produce json
// @Security Bearer
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Param affiliate_id query int false "推广员ID"
// @Param status query string false "状态"
// @Param start_date query string false "开始日期 YYYY-MM-DD"
// @Param end_date query string false "结束日期 YYYY-MM-DD"
// @Success 200 {object} response.Response{data=response.PageData{list=[]models.Payout}}
// @Router /api/admin/payouts [get]
func (h *AffiliateHandler) ListPayouts(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	p := handler.BindPagination(c)
	affiliateID, ok := handler.ParseQueryID(c, "affiliate_id", "推广员")
	if !ok {
		return
	}
	start, end, ok := handler.ParseQueryDateRange(c)
	if !ok {
		return
	}

	filters := make(map[string]interface{})
	if affiliateID != nil {
		filters["affiliate_id"] = *affiliateID
	}
	if status := c.Query("status"); status != "" {
		filters["status"] = status
	}
	if start != nil {
		filters["start_time"] = *start
	}
	if end != nil {
		filters["end_time"] = *end
	}

	list, total, err := h.payoutService.List(c.Request.Context(), p.GetOffset(), p.GetLimit(), filters)
	handler.MustSucceedPage(c, err, list, total, p)
}

// GetPayout 获取提现申请详情
// @Summary 获取提现申请详情
// @Tags 管理-提现
// @Produce json
// @Security Bearer
// @Param id path int true "提现申请ID"
// @Success 200 {object} response.Response{data=affiliate.PayoutDetail}
// @Router /api/admin/payouts/{id} [get]
func (h *AffiliateHandler) GetPayout(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}
	id, ok := handler.ParseID(c, "提现申请")
	if !ok {
		return
	}

	detail, err := h.payoutService.GetDetail(c.Request.Context(), id)
	handler.MustSucceed(c, err, detail)
}

// CompletePayoutRequest 确认打款请求
type CompletePayoutRequest struct {
	TransactionRef string `json:"transaction_ref" binding:"required,max=128"`
}

// CompletePayout 确认打款
// @Summary 确认打款
// @Tags 管理-提现
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "提现申请ID"
// @Param request body CompletePayoutRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Payout}
// @Router /api/admin/payouts/{id}/complete [post]
func (h *AffiliateHandler) CompletePayout(c *gin.Context) {
	adminID, ok := handler.RequireAdminID(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "提现申请")
	if !ok {
		return
	}

	var req CompletePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	payout, err := h.payoutService.Complete(c.Request.Context(), id, req.TransactionRef, adminID)
	handler.MustSucceed(c, err, payout)
}

// RejectPayoutRequest 驳回提现请求
type RejectPayoutRequest struct {
	Reason string `json:"reason" binding:"required,max=255"`
}

// RejectPayout 驳回提现
// @Summary 驳回提现
// @Description 金额退回可用余额
// @Tags 管理-提现
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "提现申请ID"
// @Param request body RejectPayoutRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Payout}
// @Router /api/admin/payouts/{id}/reject [post]
func (h *AffiliateHandler) RejectPayout(c *gin.Context) {
	adminID, ok := handler.RequireAdminID(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "提现申请")
	if !ok {
		return
	}

	var req RejectPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	payout, err := h.payoutService.Reject(c.Request.Context(), id, req.Reason, adminID)
	handler.MustSucceed(c, err, payout)
}

// ReverseConversion 冲销转化
// @Summary 冲销转化
// @Tags 管理-转化
// @Produce json
// @Security Bearer
// @Param id path int true "转化ID"
// @Success 200 {object} response.Response{data=affiliate.ReversalResult}
// @Router /api/admin/conversions/{id}/reverse [post]
func (h *AffiliateHandler) ReverseConversion(c *gin.Context) {
	adminID, ok := handler.RequireAdminID(c)
	if !ok {
		return
	}
	id, ok := handler.ParseID(c, "转化")
	if !ok {
		return
	}

	result, err := h.conversionService.ReverseConversion(c.Request.Context(), id, adminID)
	handler.MustSucceed(c, err, result)
}

// ListAuditLogs 获取审计日志
// @Summary 获取审计日志
// @Tags 管理-审计
// @Produce json
// @Security Bearer
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Param affiliate_id query int false "推广员ID"
// @Param entity_type query string false "对象类型 AFFILIATE/CONVERSION/PAYOUT"
// @Param entity_id query int false "对象ID"
// @Param action query string false "动作"
// @Param start_date query string false "开始日期 YYYY-MM-DD"
// @Param end_date query string false "结束日期 YYYY-MM-DD"
// @Success 200 {object} response.Response{data=response.PageData{list=[]models.AuditLog}}
// @Router /api/admin/audit-logs [get]
func (h *AffiliateHandler) ListAuditLogs(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	p := handler.BindPagination(c)
	affiliateID, ok := handler.ParseQueryID(c, "affiliate_id", "推广员")
	if !ok {
		return
	}
	entityID, ok := handler.ParseQueryID(c, "entity_id", "对象")
	if !ok {
		return
	}
	start, end, ok := handler.ParseQueryDateRange(c)
	if !ok {
		return
	}

	filters := make(map[string]interface{})
	if affiliateID != nil {
		filters["affiliate_id"] = *affiliateID
	}
	if entityType := c.Query("entity_type"); entityType != "" {
		filters["entity_type"] = entityType
	}
	if entityID != nil {
		filters["entity_id"] = *entityID
	}
	if action := c.Query("action"); action != "" {
		filters["action"] = action
	}
	if start != nil {
		filters["start_time"] = *start
	}
	if end != nil {
		filters["end_time"] = *end
	}

	list, total, err := h.auditService.List(c.Request.Context(), p.GetOffset(), p.GetLimit(), filters)
	handler.MustSucceedPage(c, err, list, total, p)
}

// RegisterRoutes 注册路由
func (h *AffiliateHandler) RegisterRoutes(r *gin.RouterGroup) {
	affiliates := r.Group("/affiliates")
	{
		affiliates.POST("", h.Create)
		affiliates.GET("", h.List)
		affiliates.GET("/:id", h.Get)
		affiliates.GET("/:id/ledger", h.VerifyLedger)
		affiliates.PUT("/:id/status", h.UpdateStatus)
		affiliates.PUT("/:id/tier", h.OverrideTier)
		affiliates.POST("/:id/adjustments", h.AdjustBalance)
		affiliates.POST("/:id/reward", h.MarkRewardIssued)
	}

	payouts := r.Group("/payouts")
	{
		payouts.GET("", h.ListPayouts)
		payouts.GET("/:id", h.GetPayout)
		payouts.POST("/:id/complete", h.CompletePayout)
		payouts.POST("/:id/reject", h.RejectPayout)
	}

	r.POST("/conversions/:id/reverse", h.ReverseConversion)
	r.GET("/audit-logs", h.ListAuditLogs)
}
