// Package errors 定义业务错误码和错误处理
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind 错误类别，决定调用方的处理方式和 HTTP 状态
type Kind string

const (
	KindValidation             Kind = "validation"
	KindNotFound               Kind = "not_found"
	KindStateConflict          Kind = "state_conflict"
	KindInsufficientBalance    Kind = "insufficient_balance"
	KindStoreUnavailable       Kind = "store_unavailable"
	KindReconciliationRequired Kind = "reconciliation_required"
	KindUnauthorized           Kind = "unauthorized"
	KindForbidden              Kind = "forbidden"
	KindRateLimited            Kind = "rate_limited"
	KindInternal               Kind = "internal"
)

// AppError 应用错误
type AppError struct {
	Code    int    `json:"code"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码比较，使 WithMessage/WithError 派生出的错误仍能匹配哨兵错误
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 创建新的应用错误
func New(code int, kind Kind, message string) *AppError {
	return &AppError{
		Code:    code,
		Kind:    kind,
		Message: message,
	}
}

// Wrap 包装错误
func Wrap(code int, kind Kind, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// WithMessage 修改错误消息
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Code:    e.Code,
		Kind:    e.Kind,
		Message: message,
		Err:     e.Err,
	}
}

// WithError 添加原始错误
func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Kind:    e.Kind,
		Message: e.Message,
		Err:     err,
	}
}

// 通用错误码 (1000-1999)
var (
	ErrUnknown         = New(1000, KindInternal, "未知错误")
	ErrInvalidParams   = New(1001, KindValidation, "参数错误")
	ErrNotFound        = New(1002, KindNotFound, "资源不存在")
	ErrAlreadyExists   = New(1003, KindStateConflict, "资源已存在")
	ErrDatabaseError   = New(1004, KindStoreUnavailable, "数据库错误")
	ErrCacheError      = New(1005, KindInternal, "缓存错误")
	ErrInternalError   = New(1006, KindInternal, "内部错误")
	ErrRateLimitExceed = New(1008, KindRateLimited, "请求过于频繁")

	// ErrStoreUnavailable 存储层不可用，整个操作未生效，可安全重试
	ErrStoreUnavailable = New(1011, KindStoreUnavailable, "服务繁忙，请稍后重试")
)

// 认证错误码 (2000-2999)
var (
	ErrUnauthorized     = New(2000, KindUnauthorized, "未登录")
	ErrTokenExpired     = New(2001, KindUnauthorized, "登录已过期")
	ErrTokenInvalid     = New(2002, KindUnauthorized, "无效的令牌")
	ErrPermissionDenied = New(2004, KindForbidden, "权限不足")
	ErrHookKeyInvalid   = New(2013, KindUnauthorized, "无效的回调密钥")
)

// 推广员错误码 (10000-10099)
var (
	ErrAffiliateNotFound      = New(10000, KindNotFound, "推广员不存在")
	ErrAffiliateSuspended     = New(10001, KindStateConflict, "推广员已停用")
	ErrReferralCodeExists     = New(10002, KindStateConflict, "推广码已存在")
	ErrInvalidReferralCode    = New(10003, KindValidation, "无效的推广码")
	ErrConcurrentModification = New(10004, KindStoreUnavailable, "数据已被修改，请重试")
	ErrInvalidTier            = New(10005, KindValidation, "无效的等级")
	ErrAffiliateStatusInvalid = New(10006, KindValidation, "无效的推广员状态")
	ErrRewardNotEligible      = New(10007, KindStateConflict, "未达到本月奖励条件或已发放")
	ErrAffiliateExists        = New(10008, KindStateConflict, "该用户已是推广员")
)

// 转化错误码 (10100-10199)
var (
	ErrConversionNotFound     = New(10100, KindNotFound, "转化记录不存在")
	ErrDuplicateOrder         = New(10101, KindStateConflict, "该订单已记录转化")
	ErrConversionReversed     = New(10102, KindStateConflict, "转化已冲销")
	ErrInvalidSubtotal        = New(10103, KindValidation, "订单金额必须大于0")
	ErrReconciliationRequired = New(10104, KindReconciliationRequired, "冲销金额超出可用余额，需人工对账")
)

// 结算错误码 (10200-10299)
var (
	ErrPayoutNotFound            = New(10200, KindNotFound, "提现申请不存在")
	ErrPendingPayoutExists       = New(10201, KindStateConflict, "已有待处理的提现申请")
	ErrBelowMinimumPayout        = New(10202, KindInsufficientBalance, "可用余额未达到最低提现金额")
	ErrPayoutMethodNotConfigured = New(10203, KindValidation, "未设置收款方式")
	ErrPayoutAlreadyCompleted    = New(10204, KindStateConflict, "提现申请已完成")
	ErrPayoutRejected            = New(10205, KindStateConflict, "提现申请已驳回，无法处理")
	ErrInvalidPayoutMethod       = New(10206, KindValidation, "无效的收款方式")
	ErrTransactionRefRequired    = New(10207, KindValidation, "请填写转账流水号")
	ErrInsufficientBalance       = New(10208, KindInsufficientBalance, "可用余额不足")
	ErrPayoutAlreadyRejected     = New(10209, KindStateConflict, "提现申请已驳回")
)

// IsAppError 判断是否为应用错误
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError 获取应用错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return ErrUnknown.WithError(err)
}

// KindOf 返回错误类别，nil 返回空
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return GetAppError(err).Kind
}

// Is 透传标准库 errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// FromStore 将存储层错误（含 context 超时）统一为 StoreUnavailable，应用错误原样返回
func FromStore(err error) error {
	if err == nil {
		return nil
	}
	if IsAppError(err) {
		return err
	}
	return ErrStoreUnavailable.WithError(err)
}
