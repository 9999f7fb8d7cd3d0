// Package affiliate 推广员佣金账本与提现结算
//
// 所有改动推广员账务的操作都在单个事务中完成：先对推广员行加锁，再以版本号比较交换写回。
// 转化和提现的状态迁移同样以当前状态为条件更新，竞争失败的一方看到的是已迁移的行。
package affiliate

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/affiliate-ledger/internal/common/config"
	"github.com/dumeirei/affiliate-ledger/internal/common/crypto"
	"github.com/dumeirei/affiliate-ledger/internal/common/errors"
	"github.com/dumeirei/affiliate-ledger/internal/common/logger"
	"github.com/dumeirei/affiliate-ledger/internal/common/metrics"
	"github.com/dumeirei/affiliate-ledger/internal/models"
	"github.com/dumeirei/affiliate-ledger/internal/notify"
	"github.com/dumeirei/affiliate-ledger/internal/repository"
)

// Rules 账务业务参数
type Rules struct {
	HoldPeriod       time.Duration
	MinPayout        decimal.Decimal
	RewardThreshold  int
	StarterRate      decimal.Decimal
	ActiveThreshold  int
	ActiveRate       decimal.Decimal
	PartnerThreshold int
	PartnerRate      decimal.Decimal
}

// DefaultRules 默认参数：冻结 30 天，最低提现 50
func DefaultRules() Rules {
	return Rules{
		HoldPeriod:       30 * 24 * time.Hour,
		MinPayout:        decimal.NewFromInt(50),
		RewardThreshold:  10,
		StarterRate:      decimal.RequireFromString("0.20"),
		ActiveThreshold:  3,
		ActiveRate:       decimal.RequireFromString("0.25"),
		PartnerThreshold: 5,
		PartnerRate:      decimal.RequireFromString("0.30"),
	}
}

// RulesFromConfig 从配置构建参数
func RulesFromConfig(cfg *config.AffiliateConfig) (Rules, error) {
	var rules Rules
	var err error

	if cfg.HoldDays < 0 {
		return rules, fmt.Errorf("affiliate.hold_days must not be negative")
	}
	rules.HoldPeriod = cfg.HoldPeriod()
	rules.RewardThreshold = cfg.RewardThreshold
	rules.ActiveThreshold = cfg.ActiveThreshold
	rules.PartnerThreshold = cfg.PartnerThreshold

	parse := func(name, value string) decimal.Decimal {
		if err != nil {
			return decimal.Zero
		}
		d, perr := decimal.NewFromString(value)
		if perr != nil {
			err = fmt.Errorf("affiliate.%s: %w", name, perr)
		}
		return d
	}
	rules.MinPayout = parse("min_payout", cfg.MinPayout)
	rules.StarterRate = parse("starter_rate", cfg.StarterRate)
	rules.ActiveRate = parse("active_rate", cfg.ActiveRate)
	rules.PartnerRate = parse("partner_rate", cfg.PartnerRate)
	if err != nil {
		return rules, err
	}

	if err := rules.Validate(); err != nil {
		return rules, err
	}
	return rules, nil
}

// Validate 校验参数
func (r Rules) Validate() error {
	if r.MinPayout.IsNegative() {
		return fmt.Errorf("min payout must not be negative")
	}
	for _, rate := range []decimal.Decimal{r.StarterRate, r.ActiveRate, r.PartnerRate} {
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("commission rate %s out of range [0, 1]", rate)
		}
	}
	if r.ActiveThreshold <= 0 || r.PartnerThreshold < r.ActiveThreshold {
		return fmt.Errorf("tier thresholds must satisfy 0 < active <= partner")
	}
	return nil
}

// Clock 时间来源
type Clock func() time.Time

// Ledger 账本，持有各服务共享的存储与依赖
type Ledger struct {
	db        *gorm.DB
	rules     Rules
	now       Clock
	publisher notify.Publisher
	metrics   *metrics.Metrics
	cipher    *crypto.AES
	log       *zap.Logger
	timeout   time.Duration

	affiliates  *repository.AffiliateRepository
	conversions *repository.ConversionRepository
	payouts     *repository.PayoutRepository
	audits      *repository.AuditLogRepository
	clicks      *repository.ClickRepository
}

// Option 账本选项
type Option func(*Ledger)

// WithClock 指定时间来源
func WithClock(clock Clock) Option {
	return func(l *Ledger) { l.now = clock }
}

// WithPublisher 指定事件发布者
func WithPublisher(p notify.Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithMetrics 指定指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithCipher 指定收款账号加密器
func WithCipher(c *crypto.AES) Option {
	return func(l *Ledger) { l.cipher = c }
}

// WithLogger 指定日志
func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithQueryTimeout 单次事务超时，0 表示不限制
func WithQueryTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.timeout = d }
}

// NewLedger 创建账本
func NewLedger(db *gorm.DB, rules Rules, opts ...Option) *Ledger {
	l := &Ledger{
		db:          db,
		rules:       rules,
		now:         func() time.Time { return time.Now().UTC() },
		affiliates:  repository.NewAffiliateRepository(db),
		conversions: repository.NewConversionRepository(db),
		payouts:     repository.NewPayoutRepository(db),
		audits:      repository.NewAuditLogRepository(db),
		clicks:      repository.NewClickRepository(db),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Named("affiliate")
	}
	if l.publisher == nil {
		l.publisher = notify.NewLogPublisher(l.log)
	}
	return l
}

// Rules 返回业务参数
func (l *Ledger) Rules() Rules {
	return l.rules
}

// Now 当前时间（UTC）
func (l *Ledger) Now() time.Time {
	return l.now().UTC()
}

// txRepos 绑定到同一事务的仓储
type txRepos struct {
	affiliates  *repository.AffiliateRepository
	conversions *repository.ConversionRepository
	payouts     *repository.PayoutRepository
	audits      *repository.AuditLogRepository
	clicks      *repository.ClickRepository
}

func (l *Ledger) reposFor(tx *gorm.DB) *txRepos {
	return &txRepos{
		affiliates:  l.affiliates.WithTx(tx),
		conversions: l.conversions.WithTx(tx),
		payouts:     l.payouts.WithTx(tx),
		audits:      l.audits.WithTx(tx),
		clicks:      l.clicks.WithTx(tx),
	}
}

// inTx 在事务中执行 fn，非业务错误统一转换为 StoreUnavailable
func (l *Ledger) inTx(ctx context.Context, fn func(r *txRepos) error) error {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(l.reposFor(tx))
	})
	if err != nil && !errors.IsAppError(err) {
		l.log.Error("ledger transaction failed", zap.Error(err))
	}
	return errors.FromStore(err)
}

// lockAffiliate 加锁读取推广员
func (l *Ledger) lockAffiliate(ctx context.Context, r *txRepos, id int64) (*models.Affiliate, error) {
	a, err := r.affiliates.GetForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrAffiliateNotFound
		}
		return nil, err
	}
	return a, nil
}

// saveAffiliate 以版本号写回推广员
func (l *Ledger) saveAffiliate(ctx context.Context, r *txRepos, a *models.Affiliate) error {
	ok, err := r.affiliates.UpdateLedger(ctx, a)
	if err != nil {
		return err
	}
	if !ok {
		return errors.ErrConcurrentModification
	}
	return nil
}

// getAffiliate 无锁读取推广员
func (l *Ledger) getAffiliate(ctx context.Context, id int64) (*models.Affiliate, error) {
	a, err := l.affiliates.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrAffiliateNotFound
		}
		return nil, errors.FromStore(err)
	}
	return a, nil
}

// Actor 操作者
type Actor struct {
	Type string
	ID   int64
}

// SystemActor 系统任务
var SystemActor = Actor{Type: models.AuditActorSystem}

// HookActor 订单管道回调
var HookActor = Actor{Type: models.AuditActorHook}

// AdminActor 管理员
func AdminActor(adminID int64) Actor {
	return Actor{Type: models.AuditActorAdmin, ID: adminID}
}

// AffiliateActor 推广员本人
func AffiliateActor(affiliateID int64) Actor {
	return Actor{Type: models.AuditActorAffiliate, ID: affiliateID}
}

func (a Actor) id() *int64 {
	if a.ID == 0 {
		return nil
	}
	id := a.ID
	return &id
}

// auditEntry 审计日志条目
type auditEntry struct {
	entityType  string
	entityID    int64
	affiliateID int64
	action      string
	from, to    string
	amount      *decimal.Decimal
	detail      string
}

func (l *Ledger) audit(ctx context.Context, r *txRepos, actor Actor, e auditEntry) error {
	return r.audits.Create(ctx, &models.AuditLog{
		EntityType:  e.entityType,
		EntityID:    e.entityID,
		AffiliateID: e.affiliateID,
		Action:      e.action,
		ActorType:   actor.Type,
		ActorID:     actor.id(),
		FromStatus:  e.from,
		ToStatus:    e.to,
		Amount:      e.amount,
		Detail:      e.detail,
		CreatedAt:   l.Now(),
	})
}

// publish 事务提交后发布事件，失败只记录不返回
func (l *Ledger) publish(ctx context.Context, events ...*notify.Event) {
	for _, event := range events {
		if err := l.publisher.Publish(ctx, event); err != nil {
			l.metrics.RecordNotifyFailure(event.Type)
			l.log.Warn("publish ledger event failed",
				zap.String("event_id", event.ID),
				zap.String("type", event.Type),
				logger.AffiliateID(event.AffiliateID),
				zap.Error(err),
			)
		}
	}
}

func amountPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// money 金额保留两位小数
func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func storeError(err error) error {
	return errors.FromStore(err)
}
