package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/example/shift-compliance/internal/application"
	"github.com/example/shift-compliance/internal/clock"
	"github.com/example/shift-compliance/internal/compliance"
)

// Environment keys recognised by Load.
const (
	KeyDotenv               = "CONFIG_DOTENV"
	KeyTimeZone             = "CORE_TZ"
	KeySweepInterval        = "COMPLIANCE_SWEEP_INTERVAL_MIN"
	KeyExcessDedupWindow    = "EXCESS_HOURS_DEDUP_WINDOW_MIN"
	KeyEntryGrace           = "GRACE_ENTRY_MIN"
	KeyComplianceGrace      = "GRACE_COMPLIANCE_MIN"
	KeyMaxShiftHours        = "MAX_SHIFT_HOURS"
	KeyMaxCourseHours       = "MAX_COURSE_HOURS"
	KeyAlertHours           = "MAX_SESSION_HOURS_BEFORE_ALERT"
	KeyWarningHours         = "SESSION_WARNING_HOURS"
	KeyCriticalHours        = "SESSION_CRITICAL_HOURS"
	KeyHTTPPort             = "HTTP_PORT"
	KeyDatabaseDriver       = "DATABASE_DRIVER"
	KeyDatabaseDSN          = "DATABASE_DSN"
	KeyRedisAddr            = "REDIS_ADDR"
	KeyRedisStream          = "REDIS_STREAM"
	KeyWebhookURL           = "NOTIFY_WEBHOOK_URL"
	KeyDailySummaryHour     = "DAILY_SUMMARY_HOUR"
	KeySweepLookbackHours   = "SWEEP_LOOKBACK_HOURS"
	KeyAllowCrossAdminEdits = "ALLOW_CROSS_ADMIN_EDITS"
	KeyRequestTimeout       = "REQUEST_TIMEOUT_SEC"
)

// Supported DATABASE_DRIVER values.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures environment driven configuration values for the monitor service.
type Config struct {
	Location          *time.Location
	SweepInterval     time.Duration
	ExcessDedupWindow time.Duration
	EntryGrace        time.Duration
	ComplianceGrace   time.Duration
	MaxShiftDuration  time.Duration
	MaxCourseDuration time.Duration
	Thresholds        compliance.Thresholds

	HTTPPort       int
	DatabaseDriver string
	DatabaseDSN    string
	RedisAddr      string
	RedisStream    string
	WebhookURL     string

	DailySummaryHour     int
	SweepLookback        time.Duration
	AllowCrossAdminEdits bool
	RequestTimeout       time.Duration
}

// Error lists every configuration key whose value could not be used.
type Error struct {
	Invalid map[string]string
}

func (e *Error) Error() string {
	keys := make([]string, 0, len(e.Invalid))
	for k := range e.Invalid {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Invalid[k]))
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

func (e *Error) add(key, reason string) {
	if e.Invalid == nil {
		e.Invalid = make(map[string]string)
	}
	e.Invalid[key] = reason
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyTimeZone, clock.DefaultZone)
	v.SetDefault(KeySweepInterval, "15")
	v.SetDefault(KeyExcessDedupWindow, "60")
	v.SetDefault(KeyEntryGrace, "10")
	v.SetDefault(KeyComplianceGrace, "20")
	v.SetDefault(KeyMaxShiftHours, "12")
	v.SetDefault(KeyMaxCourseHours, "8")
	v.SetDefault(KeyAlertHours, "8")
	v.SetDefault(KeyWarningHours, "7")
	v.SetDefault(KeyCriticalHours, "12")
	v.SetDefault(KeyHTTPPort, "8080")
	v.SetDefault(KeyDatabaseDriver, DriverSQLite)
	v.SetDefault(KeyDatabaseDSN, "file:monitor.db")
	v.SetDefault(KeyRedisAddr, "")
	v.SetDefault(KeyRedisStream, "notifications")
	v.SetDefault(KeyWebhookURL, "")
	v.SetDefault(KeyDailySummaryHour, "22")
	v.SetDefault(KeySweepLookbackHours, "24")
	v.SetDefault(KeyAllowCrossAdminEdits, "true")
	v.SetDefault(KeyRequestTimeout, "10")
	v.AutomaticEnv()
	return v
}

// Load reads configuration from the process environment, after applying an
// optional dotenv file named by CONFIG_DOTENV (".env" by default). A missing
// dotenv file is not an error. Variables already present in the environment
// win over the file.
func Load() (Config, error) {
	path := strings.TrimSpace(os.Getenv(KeyDotenv))
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	return fromViper(newViper())
}

func fromViper(v *viper.Viper) (Config, error) {
	var bad Error
	minutes := func(key string, min int) time.Duration {
		return time.Duration(integer(v, &bad, key, min, -1)) * time.Minute
	}
	hours := func(key string, min int) time.Duration {
		return time.Duration(integer(v, &bad, key, min, -1)) * time.Hour
	}

	cfg := Config{
		SweepInterval:     minutes(KeySweepInterval, 1),
		ExcessDedupWindow: minutes(KeyExcessDedupWindow, 0),
		EntryGrace:        minutes(KeyEntryGrace, 0),
		ComplianceGrace:   minutes(KeyComplianceGrace, 0),
		MaxShiftDuration:  hours(KeyMaxShiftHours, 1),
		MaxCourseDuration: hours(KeyMaxCourseHours, 1),
		Thresholds: compliance.Thresholds{
			Warning:  hours(KeyWarningHours, 0),
			Alert:    hours(KeyAlertHours, 1),
			Critical: hours(KeyCriticalHours, 0),
		},
		HTTPPort:         integer(v, &bad, KeyHTTPPort, 1, 65535),
		DatabaseDriver:   strings.ToLower(strings.TrimSpace(v.GetString(KeyDatabaseDriver))),
		DatabaseDSN:      strings.TrimSpace(v.GetString(KeyDatabaseDSN)),
		RedisAddr:        strings.TrimSpace(v.GetString(KeyRedisAddr)),
		RedisStream:      strings.TrimSpace(v.GetString(KeyRedisStream)),
		WebhookURL:       strings.TrimSpace(v.GetString(KeyWebhookURL)),
		DailySummaryHour: integer(v, &bad, KeyDailySummaryHour, -1, 23),
		SweepLookback:    hours(KeySweepLookbackHours, 1),
		RequestTimeout:   time.Duration(integer(v, &bad, KeyRequestTimeout, 1, -1)) * time.Second,
	}

	loc, err := clock.LoadLocation(strings.TrimSpace(v.GetString(KeyTimeZone)))
	if err != nil {
		bad.add(KeyTimeZone, "unknown time zone")
	}
	cfg.Location = loc

	switch cfg.DatabaseDriver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		bad.add(KeyDatabaseDriver, "must be sqlite, postgres or memory")
	}
	if cfg.DatabaseDriver != DriverMemory && cfg.DatabaseDSN == "" {
		bad.add(KeyDatabaseDSN, "required for "+cfg.DatabaseDriver)
	}
	if cfg.RedisAddr != "" && cfg.RedisStream == "" {
		bad.add(KeyRedisStream, "required when REDIS_ADDR is set")
	}

	allow, err := strconv.ParseBool(strings.TrimSpace(v.GetString(KeyAllowCrossAdminEdits)))
	if err != nil {
		bad.add(KeyAllowCrossAdminEdits, "not a boolean")
	}
	cfg.AllowCrossAdminEdits = allow

	th := cfg.Thresholds
	if th.Warning > 0 && th.Warning >= th.Alert {
		bad.add(KeyWarningHours, "must be below "+KeyAlertHours)
	}
	if th.Critical > 0 && th.Critical <= th.Alert {
		bad.add(KeyCriticalHours, "must be above "+KeyAlertHours)
	}

	if len(bad.Invalid) > 0 {
		return Config{}, &bad
	}
	return cfg, nil
}

// integer parses key as a base-10 integer within [min, max]. A negative max
// leaves the upper bound open.
func integer(v *viper.Viper, bad *Error, key string, min, max int) int {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		bad.add(key, "not an integer")
		return 0
	}
	if n < min || (max >= 0 && n > max) {
		if max >= 0 {
			bad.add(key, fmt.Sprintf("must be between %d and %d", min, max))
		} else {
			bad.add(key, fmt.Sprintf("must be at least %d", min))
		}
		return 0
	}
	return n
}

// Policy converts the configuration into the rules consumed by the services.
func (c Config) Policy() application.Policy {
	p := application.DefaultPolicy()
	p.MaxShiftDuration = c.MaxShiftDuration
	p.MaxCourseDuration = c.MaxCourseDuration
	p.EntryGrace = c.EntryGrace
	p.ComplianceGrace = c.ComplianceGrace
	p.ExcessDedupWindow = c.ExcessDedupWindow
	p.Thresholds = c.Thresholds
	p.SweepLookback = c.SweepLookback
	p.DailySummaryHour = c.DailySummaryHour
	p.AllowCrossAdminEdits = c.AllowCrossAdminEdits
	return p
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.HTTPPort)
}
