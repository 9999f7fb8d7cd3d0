// Package handler 提供 API Handler 的通用辅助函数
// 统一错误映射、主体检查、参数解析
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dumeirei/affiliate-ledger/internal/common/errors"
	"github.com/dumeirei/affiliate-ledger/internal/common/logger"
	"github.com/dumeirei/affiliate-ledger/internal/common/response"
	"github.com/dumeirei/affiliate-ledger/internal/common/utils"
	"github.com/dumeirei/affiliate-ledger/internal/middleware"
)

// StatusForKind 错误类别对应的 HTTP 状态码
func StatusForKind(kind errors.Kind) int {
	switch kind {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindStateConflict:
		return http.StatusConflict
	case errors.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case errors.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case errors.KindReconciliationRequired:
		return http.StatusConflict
	case errors.KindUnauthorized:
		return http.StatusUnauthorized
	case errors.KindForbidden:
		return http.StatusForbidden
	case errors.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// HandleError 处理错误并发送适当的响应
// 如果 err 为 nil，返回 false
// 如果 err 不为 nil，发送错误响应并返回 true（调用方应该 return）
func HandleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	if !errors.IsAppError(err) {
		logger.Error("unhandled error",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.InternalError(c, "服务器内部错误")
		return true
	}

	appErr := errors.GetAppError(err)
	status := StatusForKind(appErr.Kind)
	message := appErr.Message
	switch appErr.Kind {
	case errors.KindStoreUnavailable:
		// 存储异常不向调用方暴露细节
		logger.Error("store unavailable",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		message = errors.ErrStoreUnavailable.Message
	case errors.KindInternal:
		logger.Error("internal error", zap.String("path", c.FullPath()), zap.Error(err))
	}
	response.Error(c, status, appErr.Code, message)
	return true
}

// MustSucceed 如果有错误则返回错误响应，否则返回成功响应
//
//	result, err := service.GetData()
//	MustSucceed(c, err, result)
func MustSucceed(c *gin.Context, err error, data interface{}) {
	if HandleError(c, err) {
		return
	}
	response.Success(c, data)
}

// MustSucceedPage 分页响应版本
func MustSucceedPage(c *gin.Context, err error, list interface{}, total int64, p utils.Pagination) {
	if HandleError(c, err) {
		return
	}
	response.SuccessPage(c, list, total, p.Page, p.PageSize)
}

// RequireAffiliateID 获取当前推广员 ID，路由未挂推广员鉴权时返回 401
func RequireAffiliateID(c *gin.Context) (int64, bool) {
	id := middleware.GetAffiliateID(c)
	if id == 0 {
		response.Unauthorized(c, "请先登录")
		return 0, false
	}
	return id, true
}

// RequireAdminID 获取当前管理员 ID
func RequireAdminID(c *gin.Context) (int64, bool) {
	id := middleware.GetAdminID(c)
	if id == 0 {
		response.Unauthorized(c, "请先登录")
		return 0, false
	}
	return id, true
}

// ParseID 解析路径参数 "id" 为正整数
//
//	id, ok := handler.ParseID(c, "提现申请")
//	if !ok {
//	    return
//	}
func ParseID(c *gin.Context, resourceName string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "无效的"+resourceName+"ID")
		return 0, false
	}
	return id, true
}

// ParseQueryID 解析查询参数中的可选 ID，参数为空返回 (nil, true)
func ParseQueryID(c *gin.Context, paramName, resourceName string) (*int64, bool) {
	idStr := c.Query(paramName)
	if idStr == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "无效的"+resourceName+"ID")
		return nil, false
	}
	return &id, true
}

// DateFormat 日期格式
const DateFormat = "2006-01-02"

// ParseQueryDateRange 从查询参数解析日期范围（start_date, end_date，UTC）
// 结束日期调整为次日零点（不含）
func ParseQueryDateRange(c *gin.Context) (*time.Time, *time.Time, bool) {
	var start, end *time.Time

	if s := c.Query("start_date"); s != "" {
		t, err := time.ParseInLocation(DateFormat, s, time.UTC)
		if err != nil {
			response.BadRequest(c, "无效的开始日期格式")
			return nil, nil, false
		}
		start = &t
	}

	if s := c.Query("end_date"); s != "" {
		t, err := time.ParseInLocation(DateFormat, s, time.UTC)
		if err != nil {
			response.BadRequest(c, "无效的结束日期格式")
			return nil, nil, false
		}
		t = t.AddDate(0, 0, 1)
		end = &t
	}

	if start != nil && end != nil && !start.Before(*end) {
		response.BadRequest(c, "开始日期不能晚于结束日期")
		return nil, nil, false
	}
	return start, end, true
}

// BindPagination 从查询参数绑定并规范化分页参数
// 默认 page=1, page_size=10, 最大 page_size=100
func BindPagination(c *gin.Context) utils.Pagination {
	var p utils.Pagination
	p.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	p.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "10"))
	p.Normalize()
	return p
}
