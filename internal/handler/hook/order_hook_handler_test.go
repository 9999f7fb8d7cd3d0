package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dumeirei/affiliate-ledger/internal/common/crypto"
	"github.com/dumeirei/affiliate-ledger/internal/common/response"
	"github.com/dumeirei/affiliate-ledger/internal/middleware"
	"github.com/dumeirei/affiliate-ledger/internal/models"
	affiliateService "github.com/dumeirei/affiliate-ledger/internal/service/affiliate"
)

const testHookKey = "order-pipeline-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func setupHookRouter(t *testing.T) *gin.Engine {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	ledger := affiliateService.NewLedger(db, affiliateService.DefaultRules(), affiliateService.WithLogger(zap.NewNop()))
	_, err = affiliateService.NewAffiliateService(ledger).Create(context.Background(), &affiliateService.CreateAffiliateRequest{
		UserID:       1,
		Name:         "Hook",
		ReferralCode: "HOOK0001",
	}, 1)
	require.NoError(t, err)

	keyHash, err := crypto.HashPassword(testHookKey)
	require.NoError(t, err)

	r := gin.New()
	internal := r.Group("/internal")
	internal.Use(middleware.HookAuth(keyHash))
	NewHandler(affiliateService.NewConversionService(ledger)).RegisterRoutes(internal)
	return r
}

func post(t *testing.T, r *gin.Engine, path, key string, body interface{}) (*httptest.ResponseRecorder, response.Response) {
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(middleware.HeaderHookKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestHandler_OrderHooks(t *testing.T) {
	r := setupHookRouter(t)
	paid := map[string]interface{}{
		"referral_code": "HOOK0001",
		"order_id":      "ORD-100",
		"subtotal":      "80.00",
	}

	t.Run("密钥错误", func(t *testing.T) {
		w, _ := post(t, r, "/internal/hooks/order-paid", "wrong", paid)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w, _ = post(t, r, "/internal/hooks/order-paid", "", paid)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	w, resp := post(t, r, "/internal/hooks/order-paid", testHookKey, paid)
	require.Equal(t, http.StatusOK, w.Code, resp.Message)
	conv := resp.Data.(map[string]interface{})
	assert.Equal(t, models.ConversionStatusPending, conv["status"])
	assert.Equal(t, "ORD-100", conv["order_id"])

	t.Run("重复回调", func(t *testing.T) {
		w, resp := post(t, r, "/internal/hooks/order-paid", testHookKey, paid)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, 10101, resp.Code)
	})

	t.Run("订单金额非法", func(t *testing.T) {
		w, resp := post(t, r, "/internal/hooks/order-paid", testHookKey, map[string]interface{}{
			"referral_code": "HOOK0001",
			"order_id":      "ORD-101",
			"subtotal":      "-1",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, 10103, resp.Code)
	})

	t.Run("退款冲销", func(t *testing.T) {
		w, resp := post(t, r, "/internal/hooks/order-refunded", testHookKey, map[string]string{"order_id": "ORD-100"})
		require.Equal(t, http.StatusOK, w.Code, resp.Message)
		result := resp.Data.(map[string]interface{})
		assert.Equal(t, models.ConversionStatusPending, result["from_status"])
		assert.Equal(t, false, result["reconciliation_required"])

		w, resp = post(t, r, "/internal/hooks/order-refunded", testHookKey, map[string]string{"order_id": "ORD-404"})
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, 10100, resp.Code)
	})

	t.Run("缺少订单号", func(t *testing.T) {
		w, _ := post(t, r, "/internal/hooks/order-refunded", testHookKey, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
