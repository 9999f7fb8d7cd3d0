// Package hook 订单系统回调 Handler
package hook

import (
	"github.com/gin-gonic/gin"

	"github.com/dumeirei/affiliate-ledger/internal/common/handler"
	"github.com/dumeirei/affiliate-ledger/internal/common/response"
	affiliateService "github.com/dumeirei/affiliate-ledger/internal/service/affiliate"
)

// Handler 订单回调处理器
type Handler struct {
	conversionService *affiliateService.ConversionService
}

// NewHandler 创建订单回调处理器
func NewHandler(conversionSvc *affiliateService.ConversionService) *Handler {
	return &Handler{conversionService: conversionSvc}
}

// OrderPaid 订单已支付
// @Summary 订单已支付回调
// @Description 带推广码的订单支付后记录转化，同一订单重复回调返回 409
// @Tags 订单回调
// @Accept json
// @Produce json
// @Param X-Hook-Key header string true "回调密钥"
// @Param request body affiliate.RecordConversionRequest true "请求参数"
// @Success 200 {object} response.Response{data=models.Conversion}
// @Router /internal/hooks/order-paid [post]
func (h *Handler) OrderPaid(c *gin.Context) {
	var req affiliateService.RecordConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	conversion, err := h.conversionService.RecordConversion(c.Request.Context(), &req)
	handler.MustSucceed(c, err, conversion)
}

// OrderRefundedRequest 订单退款回调
type OrderRefundedRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// OrderRefunded 订单已退款
// @Summary 订单已退款回调
// @Description 冲销订单对应的转化
// @Tags 订单回调
// @Accept json
// @Produce json
// @Param X-Hook-Key header string true "回调密钥"
// @Param request body OrderRefundedRequest true "请求参数"
// @Success 200 {object} response.Response{data=affiliate.ReversalResult}
// @Router /internal/hooks/order-refunded [post]
func (h *Handler) OrderRefunded(c *gin.Context) {
	var req OrderRefundedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	result, err := h.conversionService.ReverseByOrderID(c.Request.Context(), req.OrderID)
	handler.MustSucceed(c, err, result)
}

// RegisterRoutes 注册回调路由，调用方负责挂载回调鉴权
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	hooks := r.Group("/hooks")
	{
		hooks.POST("/order-paid", h.OrderPaid)
		hooks.POST("/order-refunded", h.OrderRefunded)
	}
}
