package affiliate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dumeirei/affiliate-ledger/internal/common/crypto"
	"github.com/dumeirei/affiliate-ledger/internal/models"
	"github.com/dumeirei/affiliate-ledger/internal/notify"
)

const testCipherKey = "0123456789abcdef0123456789abcdef"

// testStart 2026-03-10 12:00 UTC
var testStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// recordingPublisher 记录已发布事件，err 非空时发布失败
type recordingPublisher struct {
	mu     sync.Mutex
	events []*notify.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event *notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

type testEnv struct {
	db          *gorm.DB
	clock       *fakeClock
	events      *recordingPublisher
	ledger      *Ledger
	affiliates  *AffiliateService
	conversions *ConversionService
	payouts     *PayoutService
	clearing    *ClearingService
	tiers       *TierService
	dashboard   *DashboardService
	audits      *AuditService
}

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

// testRules 默认参数，最低提现降到 20 方便凑单
func testRules() Rules {
	rules := DefaultRules()
	rules.MinPayout = decimal.NewFromInt(20)
	return rules
}

func newTestEnv(t *testing.T, mutate ...func(*Rules)) *testEnv {
	rules := testRules()
	for _, m := range mutate {
		m(&rules)
	}

	cipher, err := crypto.NewAES(testCipherKey)
	require.NoError(t, err)

	env := &testEnv{
		db:     setupLedgerTestDB(t),
		clock:  &fakeClock{now: testStart},
		events: &recordingPublisher{},
	}
	env.ledger = NewLedger(env.db, rules,
		WithClock(env.clock.Now),
		WithPublisher(env.events),
		WithCipher(cipher),
		WithLogger(zap.NewNop()),
	)
	env.affiliates = NewAffiliateService(env.ledger)
	env.conversions = NewConversionService(env.ledger)
	env.payouts = NewPayoutService(env.ledger)
	env.clearing = NewClearingService(env.ledger)
	env.tiers = NewTierService(env.ledger)
	env.dashboard = NewDashboardService(env.ledger)
	env.audits = NewAuditService(env.ledger)
	return env
}

var testUserSeq int64
var testUserMu sync.Mutex

func nextUserID() int64 {
	testUserMu.Lock()
	defer testUserMu.Unlock()
	testUserSeq++
	return testUserSeq
}

// newAffiliate 创建推广员并设置 PayPal 收款方式
func (env *testEnv) newAffiliate(t *testing.T, code string) *models.Affiliate {
	a := env.newAffiliateWithoutMethod(t, code)
	a, err := env.affiliates.SetPayoutMethod(context.Background(), a.ID, &SetPayoutMethodRequest{
		Method:      models.PayoutMethodPayPal,
		Destination: strings.ToLower(code) + "@example.com",
	})
	require.NoError(t, err)
	return a
}

func (env *testEnv) newAffiliateWithoutMethod(t *testing.T, code string) *models.Affiliate {
	a, err := env.affiliates.Create(context.Background(), &CreateAffiliateRequest{
		UserID:       nextUserID(),
		Name:         "推广员" + code,
		Email:        strings.ToLower(code) + "@example.com",
		ReferralCode: code,
	}, 1)
	require.NoError(t, err)
	return a
}

func (env *testEnv) record(t *testing.T, code, orderID, subtotal string) *models.Conversion {
	c, err := env.conversions.RecordConversion(context.Background(), &RecordConversionRequest{
		ReferralCode: code,
		OrderID:      orderID,
		Subtotal:     decimal.RequireFromString(subtotal),
	})
	require.NoError(t, err)
	return c
}

func (env *testEnv) get(t *testing.T, id int64) *models.Affiliate {
	a, err := env.affiliates.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (env *testEnv) conversion(t *testing.T, id int64) *models.Conversion {
	var c models.Conversion
	require.NoError(t, env.db.First(&c, id).Error)
	return &c
}

// requireConsistent 余额与待结算收益都能由明细重算得到
func (env *testEnv) requireConsistent(t *testing.T, affiliateID int64) *LedgerCheck {
	t.Helper()
	check, err := env.affiliates.VerifyLedger(context.Background(), affiliateID)
	require.NoError(t, err)
	require.Truef(t, check.Consistent,
		"balance=%s expected=%s pending=%s expected_pending=%s",
		check.AvailableBalance, check.ExpectedBalance, check.PendingEarnings, check.ExpectedPending)
	require.False(t, check.AvailableBalance.IsNegative())
	require.False(t, check.PendingEarnings.IsNegative())
	return check
}

func requireMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

const holdPlusOneDay = 31 * 24 * time.Hour
