// Package main 是应用程序入口
package main

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/affiliate-ledger/internal/common/config"
	"github.com/dumeirei/affiliate-ledger/internal/common/crypto"
	"github.com/dumeirei/affiliate-ledger/internal/common/jwt"
	"github.com/dumeirei/affiliate-ledger/internal/common/metrics"
	commonMiddleware "github.com/dumeirei/affiliate-ledger/internal/common/middleware"
	"github.com/dumeirei/affiliate-ledger/internal/common/qrcode"
	"github.com/dumeirei/affiliate-ledger/internal/common/ratelimit"
	"github.com/dumeirei/affiliate-ledger/internal/common/response"
	adminHandler "github.com/dumeirei/affiliate-ledger/internal/handler/admin"
	affiliateHandler "github.com/dumeirei/affiliate-ledger/internal/handler/affiliate"
	hookHandler "github.com/dumeirei/affiliate-ledger/internal/handler/hook"
	"github.com/dumeirei/affiliate-ledger/internal/middleware"
	"github.com/dumeirei/affiliate-ledger/internal/notify"
	affiliateService "github.com/dumeirei/affiliate-ledger/internal/service/affiliate"
)

// 请求体上限
const maxRequestBody = 1 << 20

// application 路由之外还需要的服务
type application struct {
	clearing   *affiliateService.ClearingService
	affiliates *affiliateService.AffiliateService
}

// setupRouter 设置路由
func setupRouter(
	r *gin.Engine,
	cfg *config.Config,
	logger *zap.Logger,
	db *gorm.DB,
	redisClient *redis.Client,
	publisher notify.Publisher,
) (*application, error) {
	// 创建 JWT 管理器
	jwtManager := jwt.NewManager(&jwt.Config{
		Secret:            cfg.JWT.Secret,
		AccessExpireTime:  cfg.JWT.AccessTokenDuration(),
		RefreshExpireTime: cfg.JWT.RefreshTokenDuration(),
		Issuer:            cfg.JWT.Issuer,
	})

	cipher, err := crypto.NewAES(cfg.Crypto.AESKey)
	if err != nil {
		return nil, fmt.Errorf("init payout destination cipher: %w", err)
	}

	rules, err := affiliateService.RulesFromConfig(&cfg.Affiliate)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.Init(cfg.Metrics.Namespace)
	}

	// 初始化账本与服务
	ledger := affiliateService.NewLedger(db, rules,
		affiliateService.WithPublisher(publisher),
		affiliateService.WithMetrics(m),
		affiliateService.WithCipher(cipher),
		affiliateService.WithLogger(logger),
		affiliateService.WithQueryTimeout(cfg.Database.QueryTimeoutDuration()),
	)

	clickLimiter := ratelimit.New(redisClient, "click", cfg.Affiliate.ClickLimit, cfg.Affiliate.ClickWindowDuration())

	affiliateSvc := affiliateService.NewAffiliateService(ledger)
	conversionSvc := affiliateService.NewConversionService(ledger)
	payoutSvc := affiliateService.NewPayoutService(ledger)
	clearingSvc := affiliateService.NewClearingService(ledger)
	tierSvc := affiliateService.NewTierService(ledger)
	dashboardSvc := affiliateService.NewDashboardService(ledger)
	auditSvc := affiliateService.NewAuditService(ledger)
	clickSvc := affiliateService.NewClickService(ledger, clickLimiter)

	// 初始化处理器
	affiliateH := affiliateHandler.NewHandler(
		dashboardSvc,
		payoutSvc,
		affiliateSvc,
		clickSvc,
		qrcode.NewGenerator(qrcode.WithSize(cfg.Affiliate.QRCodeSize), qrcode.WithRecoveryLevel(qrcode.Medium)),
		affiliateHandler.LinkConfig{
			SiteURL:       cfg.Affiliate.SiteURL,
			ReferralParam: cfg.Affiliate.ReferralParam,
		},
	)
	adminH := adminHandler.NewAffiliateHandler(affiliateSvc, conversionSvc, payoutSvc, tierSvc, auditSvc)
	hookH := hookHandler.NewHandler(conversionSvc)

	// 全局中间件
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID())
	r.Use(commonMiddleware.Tracing(&commonMiddleware.TracingConfig{
		ServiceName: cfg.Tracing.ServiceName,
		SkipPaths:   []string{"/health", "/ping", "/ready", cfg.Metrics.Path},
	}))
	r.Use(m.Middleware())
	r.Use(middleware.SecureHeaders())
	r.Use(middleware.CORS(&cfg.CORS))
	r.Use(middleware.RequestSizeLimiter(maxRequestBody))
	r.Use(middleware.AccessLog(logger))

	// 健康检查（不需要认证）
	r.GET("/health", healthHandler)
	r.GET("/ping", pingHandler)
	r.GET("/ready", readyHandler(db, redisClient))
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, metrics.Handler())
	}

	// Swagger 文档，仅调试模式开放
	if cfg.IsDebug() {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// 接口限流，Redis 不可用时放行
	var apiLimit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if cfg.RateLimit.Enabled {
		apiLimit = middleware.RateLimit(
			ratelimit.New(redisClient, "api", cfg.RateLimit.Limit, cfg.RateLimit.WindowDuration()),
			middleware.PrincipalKey,
		)
	}

	// API v1 路由组
	v1 := r.Group("/api/v1")
	v1.Use(middleware.NoCache())
	{
		// 点击上报（公开，按推广码与 IP 去重）
		affiliateH.RegisterPublicRoutes(v1)

		// 推广员端接口
		affiliate := v1.Group("/affiliate")
		affiliate.Use(middleware.Authenticate(jwtManager), middleware.RequireAffiliate(), apiLimit)
		affiliateH.RegisterRoutes(affiliate)
	}

	// 订单系统回调
	internal := r.Group("/internal")
	internal.Use(middleware.HookAuth(cfg.Hook.KeyHash))
	hookH.RegisterRoutes(internal)

	// 管理后台 API
	admin := r.Group("/api/admin")
	admin.Use(
		middleware.Authenticate(jwtManager),
		middleware.RequireAdmin(),
		apiLimit,
		middleware.NoCache(),
		commonMiddleware.NewOperationLogger(logger).Log(middleware.ContextKeyPrincipal),
	)
	adminH.RegisterRoutes(admin)

	// 404 处理
	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "接口不存在")
	})

	return &application{
		clearing:   clearingSvc,
		affiliates: affiliateSvc,
	}, nil
}
