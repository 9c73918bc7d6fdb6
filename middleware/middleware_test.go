package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/checkin/config"
	"github.com/cppla/checkin/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setup(t *testing.T) {
	t.Helper()
	hash, err := utils.HashAdminToken("ops-token")
	if err != nil {
		t.Fatal(err)
	}
	config.Set(config.AppConfig{
		JWTSecret:      "test-secret",
		JWTTTLHours:    1,
		AdminUsernames: []string{"Root"},
		AdminTokenHash: hash,
	})
	utils.SetRedis(nil)
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append(mw, func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"user_id": ctx.GetUint(ContextUserIDKey),
			"admin":   ctx.GetBool(ContextAdminKey),
		})
	})
	r.GET("/", handlers...)
	return r
}

func do(r http.Handler, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func bearer(t *testing.T, id uint, name string) string {
	t.Helper()
	tok, _, err := utils.GenerateToken(id, name, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + tok
}

func TestAuthRequired(t *testing.T) {
	setup(t)
	r := newEngine(AuthRequired())

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"valid", bearer(t, 5, "alice"), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := map[string]string{}
			if tc.header != "" {
				h["Authorization"] = tc.header
			}
			if w := do(r, h); w.Code != tc.status {
				t.Fatalf("status %d, want %d: %s", w.Code, tc.status, w.Body)
			}
		})
	}
}

func TestAuthRequiredRejectsRevokedToken(t *testing.T) {
	setup(t)
	r := newEngine(AuthRequired())
	header := bearer(t, 5, "alice")
	utils.BlacklistToken(header[len("Bearer "):], time.Now().Add(time.Hour))
	if w := do(r, map[string]string{"Authorization": header}); w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", w.Code)
	}
}

func TestAdminRequired(t *testing.T) {
	setup(t)
	r := newEngine(AdminRequired())

	if w := do(r, map[string]string{AdminTokenHeader: "ops-token"}); w.Code != http.StatusOK {
		t.Fatalf("admin token: %d", w.Code)
	}
	if w := do(r, map[string]string{AdminTokenHeader: "guess"}); w.Code != http.StatusForbidden {
		t.Fatalf("bad admin token: %d", w.Code)
	}
	if w := do(r, map[string]string{"Authorization": bearer(t, 1, "root")}); w.Code != http.StatusOK {
		t.Fatalf("admin user: %d", w.Code)
	}
	if w := do(r, map[string]string{"Authorization": bearer(t, 2, "alice")}); w.Code != http.StatusForbidden {
		t.Fatalf("regular user: %d", w.Code)
	}
	if w := do(r, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: %d", w.Code)
	}
}

func TestRateLimitPerCaller(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(2))
	r.GET("/", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	req := func(ip string) int {
		rq := httptest.NewRequest(http.MethodGet, "/", nil)
		rq.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, rq)
		return w.Code
	}
	// burst is perMinute/2
	if req("10.0.0.1") != http.StatusOK {
		t.Fatal("first request limited")
	}
	if req("10.0.0.1") != http.StatusTooManyRequests {
		t.Fatal("second request allowed")
	}
	if req("10.0.0.2") != http.StatusOK {
		t.Fatal("other caller limited")
	}
}
