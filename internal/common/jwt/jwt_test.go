// Package jwt JWT令牌管理单元测试
package jwt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestManager 创建测试用的 JWT Manager
func setupTestManager() *Manager {
	return NewManager(&Config{
		Secret:            "test-secret-key-for-jwt-token-signing",
		AccessExpireTime:  15 * time.Minute,
		RefreshExpireTime: 7 * 24 * time.Hour,
		Issuer:            "test-issuer",
	})
}

func TestManager_IssueAndParse(t *testing.T) {
	manager := setupTestManager()

	t.Run("管理员令牌", func(t *testing.T) {
		pair, err := manager.IssueForAdmin(99)
		require.NoError(t, err)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)

		claims, err := manager.ParseToken(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, int64(99), claims.UserID)
		assert.Equal(t, UserTypeAdmin, claims.UserType)
		assert.Equal(t, "test-issuer", claims.Issuer)
		assert.Equal(t, AdminPrincipal{AdminID: 99}, claims.Principal())
	})

	t.Run("推广员令牌", func(t *testing.T) {
		pair, err := manager.IssueForAffiliate(5, 17)
		require.NoError(t, err)

		claims, err := manager.ParseToken(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, AffiliatePrincipal{UserID: 5, AffiliateID: 17}, claims.Principal())
	})
}

func TestManager_ParseToken_Errors(t *testing.T) {
	manager := setupTestManager()

	t.Run("格式错误", func(t *testing.T) {
		_, err := manager.ParseToken("not-a-token")
		assert.ErrorIs(t, err, ErrTokenMalformed)
	})

	t.Run("空令牌", func(t *testing.T) {
		_, err := manager.ParseToken("")
		assert.Error(t, err)
	})

	t.Run("签名密钥不同", func(t *testing.T) {
		other := NewManager(&Config{Secret: "another", AccessExpireTime: time.Minute, RefreshExpireTime: time.Hour})
		pair, err := other.IssueForAdmin(1)
		require.NoError(t, err)

		_, err = manager.ParseToken(pair.AccessToken)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("令牌过期", func(t *testing.T) {
		issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		manager.now = func() time.Time { return issued }
		pair, err := manager.IssueForAdmin(1)
		require.NoError(t, err)

		manager.now = func() time.Time { return issued.Add(time.Hour) }
		_, err = manager.ParseToken(pair.AccessToken)
		assert.ErrorIs(t, err, ErrTokenExpired)

		// 刷新令牌仍然有效
		refreshed, err := manager.RefreshToken(pair.RefreshToken)
		require.NoError(t, err)
		claims, err := manager.ParseToken(refreshed.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, int64(1), claims.UserID)
		manager.now = time.Now
	})

	t.Run("篡改载荷", func(t *testing.T) {
		pair, err := manager.IssueForAffiliate(1, 2)
		require.NoError(t, err)
		parts := strings.Split(pair.AccessToken, ".")
		require.Len(t, parts, 3)
		parts[1] = parts[1] + "x"
		_, err = manager.ParseToken(strings.Join(parts, "."))
		assert.Error(t, err)
	})
}

func TestClaims_Principal(t *testing.T) {
	tests := []struct {
		name   string
		claims *Claims
		want   Principal
	}{
		{"空声明", nil, AnonymousPrincipal{}},
		{"管理员", &Claims{UserID: 3, UserType: UserTypeAdmin}, AdminPrincipal{AdminID: 3}},
		{"管理员缺少ID", &Claims{UserType: UserTypeAdmin}, AnonymousPrincipal{}},
		{"推广员", &Claims{UserID: 8, UserType: UserTypeAffiliate, AffiliateID: 4}, AffiliatePrincipal{UserID: 8, AffiliateID: 4}},
		{"推广员缺少推广员ID", &Claims{UserID: 8, UserType: UserTypeAffiliate}, AnonymousPrincipal{}},
		{"未知类型", &Claims{UserID: 1, UserType: "user"}, AnonymousPrincipal{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.claims.Principal())
		})
	}
}
