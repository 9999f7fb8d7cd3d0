package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/affiliate-ledger/internal/models"
)

func newTestPayout(affiliateID int64, no, amount string, at time.Time) *models.Payout {
	guard := affiliateID
	return &models.Payout{
		PayoutNo:     no,
		AffiliateID:  affiliateID,
		Amount:       decimal.RequireFromString(amount),
		Status:       models.PayoutStatusPending,
		Method:       models.PayoutMethodPayPal,
		Destination:  "encrypted",
		PendingGuard: &guard,
		RequestedAt:  at,
	}
}

func TestPayoutRepository_PendingGuard(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewPayoutRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	first := newTestPayout(1, "P1", "80", now)
	require.NoError(t, repo.Create(ctx, first))

	t.Run("同一推广员不能有两笔待处理", func(t *testing.T) {
		err := repo.Create(ctx, newTestPayout(1, "P2", "10", now))
		assert.Error(t, err)
	})

	t.Run("其他推广员不受影响", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newTestPayout(2, "P3", "60", now)))
	})

	t.Run("获取待处理", func(t *testing.T) {
		pending, err := repo.GetPendingByAffiliate(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, first.ID, pending.ID)

		none, err := repo.GetPendingByAffiliate(ctx, 99)
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("完成后可以再次申请", func(t *testing.T) {
		ok, err := repo.Complete(ctx, first.ID, "TX-1", 9, now)
		require.NoError(t, err)
		assert.True(t, ok)

		found, err := repo.GetByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutStatusCompleted, found.Status)
		assert.Nil(t, found.PendingGuard)
		require.NotNil(t, found.TransactionRef)
		assert.Equal(t, "TX-1", *found.TransactionRef)
		require.NotNil(t, found.ProcessedBy)
		assert.Equal(t, int64(9), *found.ProcessedBy)

		require.NoError(t, repo.Create(ctx, newTestPayout(1, "P4", "5", now)))

		count, err := repo.CountPendingByAffiliate(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}

func TestPayoutRepository_Transitions(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewPayoutRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	payout := newTestPayout(1, "P1", "80", now)
	require.NoError(t, repo.Create(ctx, payout))

	ok, err := repo.Reject(ctx, payout.ID, "账户信息有误", 9, now)
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("终态不能再完成", func(t *testing.T) {
		ok, err := repo.Complete(ctx, payout.ID, "TX", 9, now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("终态不能再驳回", func(t *testing.T) {
		ok, err := repo.Reject(ctx, payout.ID, "again", 9, now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	found, err := repo.GetByID(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusRejected, found.Status)
	require.NotNil(t, found.RejectReason)
	assert.Equal(t, "账户信息有误", *found.RejectReason)
	assert.Nil(t, found.PendingGuard)
}

func TestPayoutRepository_List(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewPayoutRepository(db)
	affiliates := NewAffiliateRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	alice := newTestAffiliate(1, "ALICE")
	require.NoError(t, affiliates.Create(ctx, alice))

	p1 := newTestPayout(alice.ID, "P1", "80", now)
	require.NoError(t, repo.Create(ctx, p1))
	_, err := repo.Complete(ctx, p1.ID, "TX", 9, now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, newTestPayout(alice.ID, "P2", "60", now.Add(24*time.Hour))))

	t.Run("按状态过滤", func(t *testing.T) {
		list, total, err := repo.List(ctx, 0, 10, map[string]interface{}{"status": models.PayoutStatusPending})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, "P2", list[0].PayoutNo)
	})

	t.Run("按时间过滤", func(t *testing.T) {
		_, total, err := repo.List(ctx, 0, 10, map[string]interface{}{"end_time": now.Add(time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("按状态集合查询", func(t *testing.T) {
		list, err := repo.ListByAffiliateAndStatus(ctx, alice.ID, models.PayoutStatusPending, models.PayoutStatusCompleted)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("包含推广员", func(t *testing.T) {
		found, err := repo.GetByIDWithAffiliate(ctx, p1.ID)
		require.NoError(t, err)
		require.NotNil(t, found.Affiliate)
		assert.Equal(t, "ALICE", found.Affiliate.ReferralCode)
	})
}
