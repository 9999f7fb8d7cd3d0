// Package handler 按调用方划分 HTTP 处理器：affiliate（推广员端）、admin（管理后台）、hook（订单系统回调）。
//
// 生成文档：swag init --dir ./cmd/affiliate-api,./internal/handler
//
// @title           Affiliate Ledger API
// @version         1.0
// @description     推广佣金账本与提现结算服务
// @BasePath        /
// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
package handler
