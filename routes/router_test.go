package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/checkin/config"
	"github.com/cppla/checkin/models"
	"github.com/cppla/checkin/services"
	"github.com/cppla/checkin/utils"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type harness struct {
	t      *testing.T
	db     *gorm.DB
	router http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hash, err := utils.HashAdminToken("ops-token")
	if err != nil {
		t.Fatal(err)
	}
	config.Set(config.AppConfig{
		JWTSecret:          "test-secret",
		JWTTTLHours:        1,
		GinMode:            "test",
		GinPath:            filepath.Join(t.TempDir(), "gin.log"),
		LogLevel:           "error",
		RateLimitPerMinute: 1000,
		AllowedOrigins:     []string{"*"},
		AdminTokenHash:     hash,
	})
	utils.SetRedis(nil)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatal(err)
	}

	engine, err := services.NewCheckInEngine(db, services.EngineOptions{Policy: services.DefaultRewardPolicy()})
	if err != nil {
		t.Fatal(err)
	}
	r := SetupRouter(Deps{
		DB:          db,
		Engine:      engine,
		History:     services.NewHistory(db, engine.Location()),
		Distributor: services.NewDistributor(db, nil, nil),
		Exporter:    services.NewLedgerExporter(db, nil, engine.Location(), "", nil),
	})
	return &harness{t: t, db: db, router: r}
}

func (h *harness) user(name string) (uint, string) {
	h.t.Helper()
	u := models.User{Username: name, Provider: "github", ProviderID: name}
	if err := h.db.Create(&u).Error; err != nil {
		h.t.Fatal(err)
	}
	tok, _, err := utils.GenerateToken(u.ID, u.Username, time.Hour)
	if err != nil {
		h.t.Fatal(err)
	}
	return u.ID, tok
}

func (h *harness) do(method, path, token string, body any, admin bool) (int, envelope) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if admin {
		req.Header.Set("X-Admin-Token", "ops-token")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w.Code, env
}

func TestHealthAndNoRoute(t *testing.T) {
	h := newHarness(t)
	if code, _ := h.do(http.MethodGet, "/health", "", nil, false); code != http.StatusOK {
		t.Fatalf("health %d", code)
	}
	if code, env := h.do(http.MethodGet, "/nope", "", nil, false); code != http.StatusNotFound || env.Code != 40400 {
		t.Fatalf("no route %d %+v", code, env)
	}
}

func TestCheckInFlow(t *testing.T) {
	h := newHarness(t)
	_, tok := h.user("alice")

	if code, _ := h.do(http.MethodPost, "/api/v1/checkin", "", nil, false); code != http.StatusUnauthorized {
		t.Fatalf("anonymous check-in %d", code)
	}

	// empty inventory: recorded as pending
	code, env := h.do(http.MethodPost, "/api/v1/checkin", tok, nil, false)
	if code != http.StatusOK || env.Code != 0 {
		t.Fatalf("check-in %d %+v", code, env)
	}
	var res services.CheckInResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Status != services.StatusPendingDistribution || res.ExperienceGained != 13 {
		t.Fatalf("result %+v", res)
	}

	code, env = h.do(http.MethodPost, "/api/v1/checkin", tok, nil, false)
	if code != http.StatusBadRequest || env.Code != 40030 {
		t.Fatalf("repeat %d %+v", code, env)
	}

	// restock settles the pending entry
	code, env = h.do(http.MethodPost, "/api/v1/admin/codes", "", map[string]any{
		"codes":  []map[string]any{{"code": "VEND-0001", "amount": "1.10"}},
		"remark": "<i>restock</i>",
	}, true)
	if code != http.StatusOK {
		t.Fatalf("import %d %+v", code, env)
	}
	var imp services.ImportResult
	_ = json.Unmarshal(env.Data, &imp)
	if imp.Inserted != 1 || imp.Resolved == nil || imp.Resolved.Resolved != 1 {
		t.Fatalf("import result %+v", imp)
	}

	code, env = h.do(http.MethodGet, "/api/v1/checkin/status", tok, nil, false)
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	var st services.CheckInStatus
	_ = json.Unmarshal(env.Data, &st)
	if !st.CheckedInToday || st.Code == nil || *st.Code != "VEND-0001" {
		t.Fatalf("status %+v", st)
	}

	code, env = h.do(http.MethodGet, "/api/v1/codes?used=false", tok, nil, false)
	if code != http.StatusOK {
		t.Fatalf("codes %d", code)
	}
	var page services.Page[services.UserCode]
	_ = json.Unmarshal(env.Data, &page)
	if page.Total != 1 || page.Items[0].Code != "VEND-0001" {
		t.Fatalf("codes %+v", page)
	}

	if code, _ := h.do(http.MethodGet, "/api/v1/checkin/calendar", tok, nil, false); code != http.StatusOK {
		t.Fatalf("calendar %d", code)
	}
	if code, env := h.do(http.MethodGet, "/api/v1/checkin/calendar?month=2024-13", tok, nil, false); code != http.StatusBadRequest || env.Code != 40031 {
		t.Fatalf("bad month %d %+v", code, env)
	}
	if code, _ := h.do(http.MethodGet, "/api/v1/checkin/history", tok, nil, false); code != http.StatusOK {
		t.Fatalf("history %d", code)
	}
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t)
	uid, tok := h.user("alice")

	if code, _ := h.do(http.MethodGet, "/api/v1/admin/inventory", tok, nil, false); code != http.StatusForbidden {
		t.Fatalf("non-admin inventory %d", code)
	}

	code, env := h.do(http.MethodPost, "/api/v1/admin/codes/gift", "", map[string]any{"user_id": uid}, true)
	if code != http.StatusConflict || env.Code != 40970 {
		t.Fatalf("gift on empty pool %d %+v", code, env)
	}

	code, env = h.do(http.MethodPost, "/api/v1/admin/codes/generate", "", map[string]any{"count": 3, "amount": "2.00"}, true)
	if code != http.StatusOK {
		t.Fatalf("generate %d %+v", code, env)
	}

	code, env = h.do(http.MethodPost, "/api/v1/admin/codes/gift", "", map[string]any{"user_id": uid}, true)
	if code != http.StatusOK {
		t.Fatalf("gift %d %+v", code, env)
	}
	var gifted models.RedemptionCode
	_ = json.Unmarshal(env.Data, &gifted)

	code, env = h.do(http.MethodPost, "/api/v1/admin/codes/"+gifted.Code+"/use", "", map[string]any{"user_id": uid + 1}, true)
	if code != http.StatusConflict || env.Code != 40972 {
		t.Fatalf("use by other %d %+v", code, env)
	}
	if code, _ := h.do(http.MethodPost, "/api/v1/admin/codes/"+gifted.Code+"/use", "", map[string]any{"user_id": uid}, true); code != http.StatusOK {
		t.Fatalf("use %d", code)
	}

	code, env = h.do(http.MethodPost, "/api/v1/admin/codes/batch", "", map[string]any{"user_ids": []uint{uid, uid, 999}}, true)
	if code != http.StatusOK {
		t.Fatalf("batch %d %+v", code, env)
	}

	code, env = h.do(http.MethodGet, "/api/v1/admin/inventory", "", nil, true)
	if code != http.StatusOK {
		t.Fatalf("inventory %d", code)
	}
	var st services.InventoryStats
	_ = json.Unmarshal(env.Data, &st)
	if st.Total != 3 || st.Used != 1 || st.Available != 1 {
		t.Fatalf("inventory %+v", st)
	}

	if code, _ := h.do(http.MethodGet, "/api/v1/admin/codes?status=available", "", nil, true); code != http.StatusOK {
		t.Fatalf("list codes %d", code)
	}
	if code, _ := h.do(http.MethodGet, "/api/v1/admin/pending?resolved=false", "", nil, true); code != http.StatusOK {
		t.Fatalf("pending %d", code)
	}
	if code, _ := h.do(http.MethodPost, "/api/v1/admin/pending/resolve?limit=5", "", nil, true); code != http.StatusOK {
		t.Fatalf("resolve %d", code)
	}
	if code, env := h.do(http.MethodPost, "/api/v1/admin/ledger/export", "", nil, true); code != http.StatusNotImplemented || env.Code != 50177 {
		t.Fatalf("export without storage %d %+v", code, env)
	}
}

func TestPublicStatsAndLeaderboard(t *testing.T) {
	h := newHarness(t)
	_, tok := h.user("alice")
	if code, _ := h.do(http.MethodPost, "/api/v1/checkin", tok, nil, false); code != http.StatusOK {
		t.Fatalf("check-in %d", code)
	}

	code, env := h.do(http.MethodGet, "/api/v1/stats", "", nil, false)
	if code != http.StatusOK {
		t.Fatalf("stats %d", code)
	}
	var stats struct {
		UserCount     int64 `json:"user_count"`
		TodayCheckins int64 `json:"today_checkins"`
	}
	_ = json.Unmarshal(env.Data, &stats)
	if stats.UserCount != 1 || stats.TodayCheckins != 1 {
		t.Fatalf("stats %+v", stats)
	}

	code, env = h.do(http.MethodGet, "/api/v1/leaderboard?by=total", "", nil, false)
	if code != http.StatusOK {
		t.Fatalf("leaderboard %d", code)
	}
	var board struct {
		Items []services.LeaderboardEntry `json:"items"`
	}
	_ = json.Unmarshal(env.Data, &board)
	if len(board.Items) != 1 || board.Items[0].Username != "alice" {
		t.Fatalf("board %+v", board)
	}
	if code, env := h.do(http.MethodGet, "/api/v1/leaderboard?by=karma", "", nil, false); code != http.StatusBadRequest || env.Code != 40060 {
		t.Fatalf("bad kind %d %+v", code, env)
	}
}

func TestMeAndLogout(t *testing.T) {
	h := newHarness(t)
	_, tok := h.user("alice")

	code, env := h.do(http.MethodGet, "/api/v1/auth/me", tok, nil, false)
	if code != http.StatusOK {
		t.Fatalf("me %d %+v", code, env)
	}
	if code, _ := h.do(http.MethodPost, "/api/v1/auth/logout", tok, nil, false); code != http.StatusOK {
		t.Fatalf("logout %d", code)
	}
	if code, _ := h.do(http.MethodGet, "/api/v1/auth/me", tok, nil, false); code != http.StatusUnauthorized {
		t.Fatalf("revoked token still accepted: %d", code)
	}
	if code, _ := h.do(http.MethodGet, "/api/v1/auth/oauth/myspace/login", "", nil, false); code == http.StatusOK || code == http.StatusFound {
		t.Fatalf("unknown provider accepted: %d", code)
	}
}
