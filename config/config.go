package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// CheckinConfig carries the reward and allocation tunables. Besides the
// "checkin" JSON group it honours CHECKIN_* environment variables.
type CheckinConfig struct {
	// TimezoneOffsetMinutes is the reporting zone used to cut calendar days.
	TimezoneOffsetMinutes int     `json:"TimezoneOffsetMinutes" envconfig:"TZ_OFFSET_MINUTES"`
	BaseExp               int     `json:"BaseExp" envconfig:"BASE_EXP"`
	LevelBonusPercent     int     `json:"LevelBonusPercent" envconfig:"LEVEL_BONUS_PERCENT"`
	StreakExpPerDay       int     `json:"StreakExpPerDay" envconfig:"STREAK_EXP_PER_DAY"`
	AmountFloor           string  `json:"AmountFloor" envconfig:"AMOUNT_FLOOR"`
	LevelAmountStep       string  `json:"LevelAmountStep" envconfig:"LEVEL_AMOUNT_STEP"`
	// AmountSteps is "minDays:bonus" pairs, e.g. "7:0.5,15:1.0,30:2.0".
	AmountSteps         string  `json:"AmountSteps" envconfig:"AMOUNT_STEPS"`
	LevelThresholds     []int64 `json:"LevelThresholds" envconfig:"LEVEL_THRESHOLDS"`
	MatchAmount         bool    `json:"MatchAmount" envconfig:"MATCH_AMOUNT"`
	ClaimAttempts       int     `json:"ClaimAttempts" envconfig:"CLAIM_ATTEMPTS"`
	MaxRetries          int     `json:"MaxRetries" envconfig:"MAX_RETRIES"`
	PendingSweepMinutes int     `json:"PendingSweepMinutes" envconfig:"PENDING_SWEEP_MINUTES"`
	LeaderboardCacheSec int     `json:"LeaderboardCacheSec" envconfig:"LEADERBOARD_CACHE_SEC"`
}

// AppConfig holds environment driven configuration values.
// Secrets have no defaults in code and must come from config.json, .env or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	JWTTTLHours        int
	RateLimitPerMinute int
	AllowedOrigins     []string
	OAuthRedirectBase  string
	// database
	DBDriver    string // mysql | postgres
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	// oauth
	GitHubClientID     string
	GitHubClientSecret string
	GoogleClientID     string
	GoogleClientSecret string
	// gin
	GinMode string
	GinPath string
	// redis; an empty host disables redis and the in-memory fallbacks are used
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// logging
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// object storage for ledger exports; an empty bucket disables exports
	StorageBucket    string
	StorageRegion    string
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StoragePrefix    string
	// admins
	AdminUsernames []string
	AdminTokenHash string

	Checkin CheckinConfig
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}
	c, err := build(filepath.Join("config", "config.json"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg = c
	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// Set replaces the cached configuration. Intended for tests and tools.
func Set(c AppConfig) {
	cfg = c
	loaded = true
}

// build applies: config.json -> defaults -> .env / environment overrides.
func build(path string) (AppConfig, error) {
	// zero is a valid offset, so it is seeded here rather than in applyDefaults
	c := AppConfig{Checkin: CheckinConfig{TimezoneOffsetMinutes: 8 * 60}}
	if err := loadJSONConfig(path, &c); err != nil {
		return c, fmt.Errorf("read %s: %w", path, err)
	}
	applyDefaults(&c)

	// .env is optional; real environment variables win over it
	_ = godotenv.Load()
	applyEnvOverrides(&c)
	if err := envconfig.Process("checkin", &c.Checkin); err != nil {
		return c, fmt.Errorf("checkin env: %w", err)
	}

	if c.JWTSecret == "" {
		return c, fmt.Errorf("JWT_SECRET must be set")
	}
	switch c.DBDriver {
	case "mysql", "postgres":
	default:
		return c, fmt.Errorf("unsupported DB driver %q", c.DBDriver)
	}
	return c, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads grouped sections from path if present. A missing file is not an error.
func loadJSONConfig(path string, out *AppConfig) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	section := func(name string) map[string]any {
		m := map[string]any{}
		if r, ok := raw[name]; ok {
			_ = json.Unmarshal(r, &m)
		}
		return m
	}
	getString := func(m map[string]any, key string) string {
		if s, ok := m[key].(string); ok {
			return s
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		if f, ok := m[key].(float64); ok {
			return int(f)
		}
		return 0
	}
	getBool := func(m map[string]any, key string) bool {
		b, _ := m[key].(bool)
		return b
	}
	getStringSlice := func(m map[string]any, key string) []string {
		arr, ok := m[key].([]any)
		if !ok {
			return nil
		}
		res := make([]string, 0, len(arr))
		for _, it := range arr {
			if s, ok := it.(string); ok {
				res = append(res, s)
			}
		}
		return res
	}

	app := section("app")
	out.AppPort = getString(app, "AppPort")
	out.JWTSecret = getString(app, "JWTSecret")
	out.JWTTTLHours = getInt(app, "JWTTTLHours")
	out.RateLimitPerMinute = getInt(app, "RateLimitPerMinute")
	out.AllowedOrigins = getStringSlice(app, "AllowedOrigins")
	out.OAuthRedirectBase = getString(app, "OAuthRedirectBase")

	dbs := section("database")
	out.DBDriver = getString(dbs, "Driver")
	out.DatabaseURI = getString(dbs, "DatabaseURI")
	out.DBHost = getString(dbs, "DBHost")
	out.DBPort = getString(dbs, "DBPort")
	out.DBUser = getString(dbs, "DBUser")
	out.DBPassword = getString(dbs, "DBPassword")
	out.DBName = getString(dbs, "DBName")
	out.DBSSLMode = getString(dbs, "SSLMode")

	rds := section("redis")
	out.RedisHost = getString(rds, "RedisHost")
	out.RedisPort = getInt(rds, "RedisPort")
	out.RedisDB = getInt(rds, "RedisDB")
	out.RedisPassword = getString(rds, "RedisPassword")

	oa := section("oauth")
	out.GitHubClientID = getString(oa, "GitHubClientID")
	out.GitHubClientSecret = getString(oa, "GitHubClientSecret")
	out.GoogleClientID = getString(oa, "GoogleClientID")
	out.GoogleClientSecret = getString(oa, "GoogleClientSecret")

	lg := section("log")
	out.LogLevel = getString(lg, "Level")
	out.LogPath = getString(lg, "Path")
	out.GinMode = getString(lg, "GinMode")
	out.GinPath = getString(lg, "GinPath")
	out.LogMaxSizeMB = getInt(lg, "MaxSizeMB")
	out.LogMaxBackups = getInt(lg, "MaxBackups")
	out.LogMaxAgeDays = getInt(lg, "MaxAgeDays")
	out.LogCompress = getBool(lg, "Compress")

	st := section("storage")
	out.StorageBucket = getString(st, "Bucket")
	out.StorageRegion = getString(st, "Region")
	out.StorageEndpoint = getString(st, "Endpoint")
	out.StorageAccessKey = getString(st, "AccessKey")
	out.StorageSecretKey = getString(st, "SecretKey")
	out.StoragePrefix = getString(st, "Prefix")

	adm := section("admin")
	out.AdminUsernames = getStringSlice(adm, "Usernames")
	out.AdminTokenHash = getString(adm, "TokenHash")

	if r, ok := raw["checkin"]; ok {
		if err := json.Unmarshal(r, &out.Checkin); err != nil {
			return fmt.Errorf("checkin section: %w", err)
		}
	}
	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.JWTTTLHours == 0 {
		c.JWTTTLHours = 72
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.OAuthRedirectBase == "" {
		c.OAuthRedirectBase = "http://localhost:8080"
	}
	if c.DBDriver == "" {
		c.DBDriver = "mysql"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		if c.DBDriver == "postgres" {
			c.DBPort = "5432"
		} else {
			c.DBPort = "3306"
		}
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "checkin"
	}
	if c.DBSSLMode == "" {
		c.DBSSLMode = "disable"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if c.StorageRegion == "" {
		c.StorageRegion = "auto"
	}

	ck := &c.Checkin
	if ck.BaseExp == 0 {
		ck.BaseExp = 10
	}
	if ck.LevelBonusPercent == 0 {
		ck.LevelBonusPercent = 10
	}
	if ck.StreakExpPerDay == 0 {
		ck.StreakExpPerDay = 2
	}
	if ck.AmountFloor == "" {
		ck.AmountFloor = "1.00"
	}
	if ck.LevelAmountStep == "" {
		ck.LevelAmountStep = "0.10"
	}
	if ck.AmountSteps == "" {
		ck.AmountSteps = "7:0.5,15:1.0,30:2.0"
	}
	if ck.ClaimAttempts == 0 {
		ck.ClaimAttempts = 5
	}
	if ck.MaxRetries == 0 {
		ck.MaxRetries = 3
	}
	if ck.PendingSweepMinutes == 0 {
		ck.PendingSweepMinutes = 5
	}
	if ck.LeaderboardCacheSec == 0 {
		ck.LeaderboardCacheSec = 60
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("JWT_TTL_HOURS", ""); v != "" {
		c.JWTTTLHours = mustParseInt(v)
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("DB_DRIVER", ""); v != "" {
		c.DBDriver = v
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("DB_SSLMODE", ""); v != "" {
		c.DBSSLMode = v
	}
	if v := getEnv("GITHUB_CLIENT_ID", ""); v != "" {
		c.GitHubClientID = v
	}
	if v := getEnv("GITHUB_CLIENT_SECRET", ""); v != "" {
		c.GitHubClientSecret = v
	}
	if v := getEnv("GOOGLE_CLIENT_ID", ""); v != "" {
		c.GoogleClientID = v
	}
	if v := getEnv("GOOGLE_CLIENT_SECRET", ""); v != "" {
		c.GoogleClientSecret = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}
	if v := getEnv("OAUTH_REDIRECT_BASE_URL", ""); v != "" {
		c.OAuthRedirectBase = v
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
	if v := getEnv("STORAGE_BUCKET", ""); v != "" {
		c.StorageBucket = v
	}
	if v := getEnv("STORAGE_REGION", ""); v != "" {
		c.StorageRegion = v
	}
	if v := getEnv("STORAGE_ENDPOINT", ""); v != "" {
		c.StorageEndpoint = v
	}
	if v := getEnv("STORAGE_ACCESS_KEY", ""); v != "" {
		c.StorageAccessKey = v
	}
	if v := getEnv("STORAGE_SECRET_KEY", ""); v != "" {
		c.StorageSecretKey = v
	}
	if v := getEnv("STORAGE_PREFIX", ""); v != "" {
		c.StoragePrefix = v
	}
	if v := getEnv("ADMIN_USERNAMES", ""); v != "" {
		c.AdminUsernames = splitAndTrim(v)
	}
	if v := getEnv("ADMIN_TOKEN_HASH", ""); v != "" {
		c.AdminTokenHash = v
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
