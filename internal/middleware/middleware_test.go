package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dumeirei/affiliate-ledger/internal/common/config"
	"github.com/dumeirei/affiliate-ledger/internal/common/crypto"
	"github.com/dumeirei/affiliate-ledger/internal/common/jwt"
	"github.com/dumeirei/affiliate-ledger/internal/common/ratelimit"
	"github.com/dumeirei/affiliate-ledger/internal/common/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestManager() *jwt.Manager {
	return jwt.NewManager(&jwt.Config{
		Secret:            "middleware-test-secret",
		AccessExpireTime:  time.Hour,
		RefreshExpireTime: 24 * time.Hour,
		Issuer:            "test",
	})
}

func doRequest(router *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func bearer(pair *jwt.TokenPair) map[string]string {
	return map[string]string{"Authorization": "Bearer " + pair.AccessToken}
}

func TestAuthenticate_PrincipalGates(t *testing.T) {
	manager := newTestManager()

	router := gin.New()
	router.Use(Authenticate(manager))
	router.GET("/admin", RequireAdmin(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"admin_id": GetAdminID(c)})
	})
	router.GET("/affiliate", RequireAffiliate(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"affiliate_id": GetAffiliateID(c)})
	})

	adminPair, err := manager.IssueForAdmin(7)
	require.NoError(t, err)
	affPair, err := manager.IssueForAffiliate(3, 11)
	require.NoError(t, err)
	adminHeaders := bearer(adminPair)
	affHeaders := bearer(affPair)

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		status  int
	}{
		{"管理员访问管理端", "/admin", adminHeaders, http.StatusOK},
		{"推广员访问管理端", "/admin", affHeaders, http.StatusForbidden},
		{"匿名访问管理端", "/admin", nil, http.StatusUnauthorized},
		{"推广员访问推广端", "/affiliate", affHeaders, http.StatusOK},
		{"管理员访问推广端", "/affiliate", adminHeaders, http.StatusForbidden},
		{"匿名访问推广端", "/affiliate", nil, http.StatusUnauthorized},
		{"无效令牌", "/affiliate", map[string]string{"Authorization": "Bearer garbage"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodGet, tt.path, tt.headers)
			assert.Equal(t, tt.status, w.Code)
		})
	}

	t.Run("上下文中的主体ID", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/affiliate", affHeaders)
		var body map[string]int64
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, int64(11), body["affiliate_id"])
	})
}

func TestGetPrincipal_Default(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, jwt.AnonymousPrincipal{}, GetPrincipal(c))
	assert.Zero(t, GetAdminID(c))
	assert.Zero(t, GetAffiliateID(c))
}

func TestHookAuth(t *testing.T) {
	hash, err := crypto.HashPassword("pipeline-key")
	require.NoError(t, err)

	router := gin.New()
	router.POST("/hook", HookAuth(hash), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doRequest(router, http.MethodPost, "/hook", map[string]string{HeaderHookKey: "pipeline-key"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodPost, "/hook", map[string]string{HeaderHookKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, http.MethodPost, "/hook", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	empty := gin.New()
	empty.POST("/hook", HookAuth(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	w = doRequest(empty, http.MethodPost, "/hook", map[string]string{HeaderHookKey: "pipeline-key"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := ratelimit.New(client, "api", 2, time.Minute)
	router := gin.New()
	router.Use(RateLimit(limiter, nil))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := doRequest(router, http.MethodGet, "/x", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w := doRequest(router, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	t.Run("窗口过期后恢复", func(t *testing.T) {
		mr.FastForward(time.Minute + time.Second)
		w := doRequest(router, http.MethodGet, "/x", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Redis不可用时放行", func(t *testing.T) {
		down, err := miniredis.Run()
		require.NoError(t, err)
		downClient := redis.NewClient(&redis.Options{Addr: down.Addr(), MaxRetries: -1})
		t.Cleanup(func() { _ = downClient.Close() })
		down.Close()

		r := gin.New()
		r.Use(RateLimit(ratelimit.New(downClient, "api", 1, time.Minute), nil))
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
		w := doRequest(r, http.MethodGet, "/x", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestPrincipalKey(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "ip:10.0.0.1", PrincipalKey(c))

	c.Set(ContextKeyPrincipal, jwt.Principal(jwt.AffiliatePrincipal{AffiliateID: 5}))
	assert.Equal(t, "affiliate:5", PrincipalKey(c))

	c.Set(ContextKeyPrincipal, jwt.Principal(jwt.AdminPrincipal{AdminID: 2}))
	assert.Equal(t, "admin:2", PrincipalKey(c))
}

func TestRequestIDAndRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	router := gin.New()
	router.Use(RequestID(), Recovery(zap.New(core)))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })
	router.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := doRequest(router, http.MethodGet, "/ok", map[string]string{"X-Request-ID": "req-1"})
	assert.Equal(t, "req-1", w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))

	w = doRequest(router, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 500, resp.Code)
	assert.Equal(t, 1, logs.Len())
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	router := gin.New()
	router.Use(AccessLog(zap.New(core)))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	doRequest(router, http.MethodGet, "/health", nil)
	assert.Equal(t, 0, logs.Len())

	doRequest(router, http.MethodGet, "/missing", nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zap.WarnLevel, logs.All()[0].Level)
}

func TestCORS(t *testing.T) {
	router := gin.New()
	router.Use(CORS(&config.CORSConfig{
		AllowedOrigins:   []string{"https://console.example.com"},
		AllowCredentials: true,
		MaxAge:           600,
	}))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doRequest(router, http.MethodOptions, "/x", map[string]string{"Origin": "https://console.example.com"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://console.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = doRequest(router, http.MethodGet, "/x", map[string]string{"Origin": "https://evil.example.com"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestSizeLimiter(t *testing.T) {
	router := gin.New()
	router.Use(RequestSizeLimiter(8))
	router.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.ContentLength = 100
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
