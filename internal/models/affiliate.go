package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Affiliate 推广员
type Affiliate struct {
	ID                  int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID              int64           `gorm:"uniqueIndex;not null" json:"user_id"`
	Name                string          `gorm:"type:varchar(100);not null" json:"name"`
	Email               string          `gorm:"type:varchar(255)" json:"email"`
	ReferralCode        string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"referral_code"`
	Status              string          `gorm:"type:varchar(20);not null;default:ACTIVE" json:"status"`
	Tier                string          `gorm:"type:varchar(20);not null;default:STARTER" json:"tier"`
	CommissionRate      decimal.Decimal `gorm:"type:decimal(5,4);not null" json:"commission_rate"`
	LifetimeClicks      int64           `gorm:"not null;default:0" json:"lifetime_clicks"`
	LifetimeConversions int64           `gorm:"not null;default:0" json:"lifetime_conversions"`
	LifetimeEarnings    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"lifetime_earnings"`
	PendingEarnings     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"pending_earnings"`
	AvailableBalance    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"available_balance"`
	CurrentMonthSales   int             `gorm:"not null;default:0" json:"current_month_sales"`
	PreviousMonthSales  int             `gorm:"not null;default:0" json:"previous_month_sales"`
	SalesMonth          string          `gorm:"type:varchar(7)" json:"sales_month"`
	LastRewardMonth     string          `gorm:"type:varchar(7)" json:"last_reward_month"`
	PayoutMethod        string          `gorm:"type:varchar(20)" json:"payout_method"`
	// PayoutDestination 加密存储
	PayoutDestination       string          `gorm:"type:varchar(512)" json:"-"`
	ReconciliationRequired  bool            `gorm:"not null;default:false" json:"reconciliation_required"`
	ReconciliationShortfall decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"reconciliation_shortfall"`
	// LedgerAdjustment 截断差额与人工调账的累计，账本核对时计入
	LedgerAdjustment decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"ledger_adjustment"`
	// Version 乐观锁版本号，每次余额/计数变更递增
	Version   int64     `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (Affiliate) TableName() string {
	return "affiliates"
}

// AffiliateStatus 推广员状态
const (
	AffiliateStatusActive    = "ACTIVE"
	AffiliateStatusSuspended = "SUSPENDED"
)

// AffiliateTier 推广员等级
const (
	TierStarter = "STARTER"
	TierActive  = "ACTIVE"
	TierPartner = "PARTNER"
)

// PayoutMethod 收款方式
const (
	PayoutMethodPayPal = "PAYPAL"
	PayoutMethodBank   = "BANK_TRANSFER"
)

// IsActive 是否可接收新转化
func (a *Affiliate) IsActive() bool {
	return a.Status == AffiliateStatusActive
}

// HasPayoutMethod 是否已配置收款方式
func (a *Affiliate) HasPayoutMethod() bool {
	return a.PayoutMethod != "" && a.PayoutDestination != ""
}

// Conversion 转化记录，每个外部订单至多一条
type Conversion struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AffiliateID      int64           `gorm:"index;not null" json:"affiliate_id"`
	OrderID          string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_id"`
	Subtotal         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subtotal"`
	CommissionRate   decimal.Decimal `gorm:"type:decimal(5,4);not null" json:"commission_rate"`
	CommissionAmount decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"commission_amount"`
	Status           string          `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	PayoutID         *int64          `gorm:"index" json:"payout_id,omitempty"`
	PurchasedAt      time.Time       `gorm:"not null" json:"purchased_at"`
	HoldExpiresAt    time.Time       `gorm:"index;not null" json:"hold_expires_at"`
	ClearedAt        *time.Time      `json:"cleared_at,omitempty"`
	ReversedAt       *time.Time      `json:"reversed_at,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	// 关联
	Affiliate *Affiliate `gorm:"foreignKey:AffiliateID" json:"affiliate,omitempty"`
}

// TableName 表名
func (Conversion) TableName() string {
	return "conversions"
}

// ConversionStatus 转化状态
const (
	ConversionStatusPending  = "PENDING"
	ConversionStatusCleared  = "CLEARED"
	ConversionStatusPaid     = "PAID"
	ConversionStatusReversed = "REVERSED"
)

// IsDue 冻结期是否已过
func (c *Conversion) IsDue(now time.Time) bool {
	return !now.Before(c.HoldExpiresAt)
}

// Payout 提现申请，金额为申请时的全部可用余额
type Payout struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PayoutNo       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"payout_no"`
	AffiliateID    int64           `gorm:"index;not null" json:"affiliate_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Status         string          `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	Method         string          `gorm:"type:varchar(20);not null" json:"method"`
	Destination    string          `gorm:"type:varchar(512);not null" json:"-"`
	TransactionRef *string         `gorm:"type:varchar(128)" json:"transaction_ref,omitempty"`
	RejectReason   *string         `gorm:"type:varchar(255)" json:"reject_reason,omitempty"`
	// PendingGuard 待处理期间等于 AffiliateID，终态置空；唯一索引保证每人至多一笔待处理
	PendingGuard *int64     `gorm:"uniqueIndex" json:"-"`
	RequestedAt  time.Time  `gorm:"not null" json:"requested_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	ProcessedBy  *int64     `json:"processed_by,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	// 关联
	Affiliate *Affiliate `gorm:"foreignKey:AffiliateID" json:"affiliate,omitempty"`
}

// TableName 表名
func (Payout) TableName() string {
	return "payouts"
}

// PayoutStatus 提现状态
const (
	PayoutStatusPending   = "PENDING"
	PayoutStatusCompleted = "COMPLETED"
	PayoutStatusRejected  = "REJECTED"
)

// AffiliateClick 推广链接点击
type AffiliateClick struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AffiliateID int64     `gorm:"index;not null" json:"affiliate_id"`
	IP          string    `gorm:"type:varchar(45)" json:"ip"`
	UserAgent   string    `gorm:"type:varchar(255)" json:"user_agent"`
	LandingURL  string    `gorm:"type:varchar(512)" json:"landing_url"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName 表名
func (AffiliateClick) TableName() string {
	return "affiliate_clicks"
}

// AuditLog 账务审计日志，只追加
type AuditLog struct {
	ID          int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityType  string           `gorm:"type:varchar(20);index:idx_audit_entity;not null" json:"entity_type"`
	EntityID    int64            `gorm:"index:idx_audit_entity;not null" json:"entity_id"`
	AffiliateID int64            `gorm:"index;not null" json:"affiliate_id"`
	Action      string           `gorm:"type:varchar(32);not null" json:"action"`
	ActorType   string           `gorm:"type:varchar(20);not null" json:"actor_type"`
	ActorID     *int64           `json:"actor_id,omitempty"`
	FromStatus  string           `gorm:"type:varchar(20)" json:"from_status,omitempty"`
	ToStatus    string           `gorm:"type:varchar(20)" json:"to_status,omitempty"`
	Amount      *decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount,omitempty"`
	Detail      string           `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt   time.Time        `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName 表名
func (AuditLog) TableName() string {
	return "audit_logs"
}

// AuditEntity 审计对象类型
const (
	AuditEntityAffiliate  = "AFFILIATE"
	AuditEntityConversion = "CONVERSION"
	AuditEntityPayout     = "PAYOUT"
)

// AuditActor 审计操作者类型
const (
	AuditActorSystem    = "SYSTEM"
	AuditActorAdmin     = "ADMIN"
	AuditActorAffiliate = "AFFILIATE"
	AuditActorHook      = "ORDER_PIPELINE"
)

// AuditAction 审计动作
const (
	AuditActionCreate          = "create"
	AuditActionConvert         = "convert"
	AuditActionClear           = "clear"
	AuditActionReverse         = "reverse"
	AuditActionTierChange      = "tier_change"
	AuditActionMonthReset      = "month_reset"
	AuditActionPayoutRequest   = "payout_request"
	AuditActionPayoutComplete  = "payout_complete"
	AuditActionPayoutReject    = "payout_reject"
	AuditActionReconcileFlag   = "reconcile_flag"
	AuditActionAdjust          = "adjust"
	AuditActionStatusChange    = "status_change"
	AuditActionPayoutMethodSet = "payout_method_set"
	AuditActionRewardIssued    = "reward_issued"
)

// AllModels 返回需要迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&Affiliate{},
		&Conversion{},
		&Payout{},
		&AffiliateClick{},
		&AuditLog{},
	}
}
