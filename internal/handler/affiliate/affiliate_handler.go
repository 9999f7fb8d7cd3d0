// Package affiliate 推广员端 HTTP Handler
package affiliate

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dumeirei/affiliate-ledger/internal/common/handler"
	"github.com/dumeirei/affiliate-ledger/internal/common/qrcode"
	"github.com/dumeirei/affiliate-ledger/internal/common/response"
	affiliateService "github.com/dumeirei/affiliate-ledger/internal/service/affiliate"
)

// LinkConfig 推广链接配置
type LinkConfig struct {
	SiteURL       string
	ReferralParam string
}

// Handler 推广员处理器
type Handler struct {
	dashboardService *affiliateService.DashboardService
	payoutService    *affiliateService.PayoutService
	affiliateService *affiliateService.AffiliateService
	clickService     *affiliateService.ClickService
	qrcode           *qrcode.Generator
	link             LinkConfig
}

// NewHandler 创建推广员处理器
func NewHandler(
	dashboardSvc *affiliateService.DashboardService,
	payoutSvc *affiliateService.PayoutService,
	affiliateSvc *affiliateService.AffiliateService,
	clickSvc *affiliateService.ClickService,
	generator *qrcode.Generator,
	link LinkConfig,
) *Handler {
	return &Handler{
		dashboardService: dashboardSvc,
		payoutService:    payoutSvc,
		affiliateService: affiliateSvc,
		clickService:     clickSvc,
		qrcode:           generator,
		link:             link,
	}
}

// GetDashboard 获取推广员仪表盘
// @Summary 获取推广员仪表盘
// @Description 查看前会先结算已过冻结期的转化
// @Tags 推广员
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=affiliate.Dashboard}
// @Router /api/v1/affiliate/dashboard [get]
func (h *Handler) GetDashboard(c *gin.Context) {
	affiliateID, ok := handler.RequireAffiliateID(c)
	if !ok {
		return
	}

	dashboard, err := h.dashboardService.GetDashboard(c.Request.Context(), affiliateID)
	handler.MustSucceed(c, err, dashboard)
}

// ListConversions 获取转化记录
// @Summary 获取转化记录
// @Tags 推广员
// @Produce json
// @Security Bearer
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Param status query string false "状态 PENDING/CLEARED/PAID/REVERSED"
// @Param start_date query string false "开始日期 YYYY-MM-DD"
// @Param end_date query string false "结束日期 YYYY-MM-DD"
// @Success 200 {object} response.Response{data=response.PageData{list=[]models.Conversion}}
// @Router /api/v1/affiliate/conversions [get]
func (h *Handler) ListConversions(c *gin.Context) {
	affiliateID, ok := handler.RequireAffiliateID(c)
	if !ok {
		return
	}

	p := handler.BindPagination(c)
	start, end, ok := handler.ParseQueryDateRange(c)
	if !ok {
		return
	}
	filters := make(map[string]interface{})
	if status := c.Query("status"); status != "" {
		filters["status"] = status
	}
	if start != nil {
		filters["start_time"] = *start
	}
	if end != nil {
		filters["end_time"] = *end
	}

	list, total, err := h.dashboardService.ListConversions(c.Request.Context(), affiliateID, p.GetOffset(), p.GetLimit(), filters)
	handler.MustSucceedPage(c, err, list, total, p)
}

// ListPayouts 获取提现记录
// @Summary 获取提现记录
// @Tags 推广员
// @Produce json
// @Security Bearer
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Param status query string false "状态 PENDING/COMPLETED/REJECTED"
// @Success 200 {object} response.Response{data=response.PageData{list=[]models.Payout}}
// @Router /api/v1/affiliate/payouts [get]
func (h *Handler) ListPayouts(c *gin.Context) {
	affiliateID, ok := handler.RequireAffiliateID(c)
	if !ok {
		return
	}

	p := handler.BindPagination(c)
	filters := make(map[string]interface{})
	if status := c.Query("status"); status != "" {
		filters["status"] = status
	}

	list, total, err := h.dashboardService.ListPayouts(c.Request.Context(), affiliateID, p.GetOffset(), p.GetLimit(), filters)
	handler.MustSucceedPage(c, err, list, total, p)
}

// RequestPayout 申请提现
// @Summary 申请提现
// @Description 提现金额为全部可用余额
// @Tags 推广员
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=models.Payout}
// @Failure 409 {object} response.Response "已有待处理的提现申请"
// @Failure 422 {object} response.Response "未达到最低提现金额"
// @Router /api/v1/affiliate/payouts [post]
func (h *Handler) RequestPayout(c *gin.Context) {
	affiliateID, ok := handler.RequireAffiliateID(c)
	if !ok {
		return
	}

	payout, err := h.payoutService.Request(c.Request.Context(), affiliateID)
	handler.MustSucceed(c, err, payout)
}

// SetPayoutMethod 设置收款方式
// @Summary 设置收款方式
// @Tags 推广员
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body affiliate.SetPayoutMethodRequest true "请求参数"
// @Success 200 {object} response.Response
// @Router /api/v1/affiliate/payout-method [put]
func (h *Handler) SetPayoutMethod(c *gin.Context) {
	affiliateID, ok := handler.RequireAffiliateID(c)
	if !ok {
		return
	}

	var req affiliateService.SetPayoutMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	_, err := h.affiliateService.SetPayoutMethod(c.Request.Context(), affiliateID, &req)
	handler.MustSucceed(c, err, nil)
}

// QRCodeResponse 推广二维码
type QRCodeResponse struct {
	ReferralCode string `json:"referral_code"`
	Link         string `json:"link"`
	QRCode       string `json:"qrcode"` // data URL
}

// GetQRCode 获取推广链接二维码
// @Summary 获取推广链接二维码
// @Tags 推广员
// @Produce json
// @Produce png
// @Security Bearer
// @Param format query string false "png 直接返回图片"
// @Success 200 {object} response.Response{data=QRCodeResponse}
// @Router /api/v1/affiliate/qrcode [get]
func (h *Handler) GetQRCode(c *gin.Context) {
	affiliateID, ok := handler.RequireAffiliateID(c)
	if !ok {
		return
	}

	a, err := h.affiliateService.Get(c.Request.Context(), affiliateID)
	if handler.HandleError(c, err) {
		return
	}
	link, err := qrcode.ReferralLink(h.link.SiteURL, h.link.ReferralParam, a.ReferralCode)
	if err != nil {
		response.InternalError(c, "推广链接未配置")
		return
	}

	if c.Query("format") == "png" {
		png, err := h.qrcode.GeneratePNG(link)
		if err != nil {
			response.InternalError(c, "生成二维码失败")
			return
		}
		c.Data(http.StatusOK, "image/png", png)
		return
	}

	dataURL, err := h.qrcode.GenerateDataURL(link)
	if err != nil {
		response.InternalError(c, "生成二维码失败")
		return
	}
	response.Success(c, &QRCodeResponse{
		ReferralCode: a.ReferralCode,
		Link:         link,
		QRCode:       dataURL,
	})
}

// RecordClick 上报推广链接点击
// @Summary 上报推广链接点击
// @Tags 推广链接
// @Accept json
// @Produce json
// @Param request body affiliate.ClickRequest true "请求参数"
// @Success 200 {object} response.Response{data=affiliate.ClickResult}
// @Router /api/v1/clicks [post]
func (h *Handler) RecordClick(c *gin.Context) {
	var req affiliateService.ClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.Request.UserAgent()

	result, err := h.clickService.RecordClick(c.Request.Context(), &req)
	handler.MustSucceed(c, err, result)
}

// RegisterRoutes 注册推广员路由，调用方负责挂载推广员鉴权
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/dashboard", h.GetDashboard)
	r.GET("/conversions", h.ListConversions)
	r.GET("/payouts", h.ListPayouts)
	r.POST("/payouts", h.RequestPayout)
	r.PUT("/payout-method", h.SetPayoutMethod)
	r.GET("/qrcode", h.GetQRCode)
}

// RegisterPublicRoutes 注册公开路由
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/clicks", h.RecordClick)
}
