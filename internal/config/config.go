package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	DefaultTenantID int64

	OTLPEndpoint    string
	MetricsEnabled  bool
	MetricsExporter string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Reconciliation ReconciliationConfig
	Depreciation   DepreciationConfig
	Scheduler      SchedulerConfig
}

// ReconciliationConfig carries the fuzzy-matching tolerance windows.
// Thresholds are deployment configuration, never hardcoded in the matcher.
type ReconciliationConfig struct {
	AmountToleranceMinor int64
	DateToleranceDays    int
	FeedTimeoutSeconds   int
	MinDistinctActors    int
}

// DepreciationConfig carries method parameters such as the
// declining-balance rate multiple (200 = double declining). MACRS rate
// tables come from configuration, keyed by recovery period in years,
// each value a list of annual percentages summing to 100.
type DepreciationConfig struct {
	DecliningBalanceRatePct int64
	MACRSTables             map[int][]string
}

type SchedulerConfig struct {
	Enabled         bool
	IntervalSeconds int
	BatchSize       int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:         getenv("APP_SERVICE", "glcore"),
		AppVersion:      getenv("APP_VERSION", "0.1.0"),
		Environment:     getenv("ENVIRONMENT", "development"),
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		DefaultTenantID: getenvInt64("DEFAULT_TENANT", 0),

		OTLPEndpoint:    getenv("OTLP_ENDPOINT", "localhost:4317"),
		MetricsEnabled:  getenvBool("METRICS_ENABLED", false),
		MetricsExporter: strings.ToLower(getenv("METRICS_EXPORTER", "grpc")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "glcore"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		Reconciliation: ReconciliationConfig{
			AmountToleranceMinor: getenvInt64("RECON_AMOUNT_TOLERANCE_MINOR", 0),
			DateToleranceDays:    getenvInt("RECON_DATE_TOLERANCE_DAYS", 3),
			FeedTimeoutSeconds:   getenvInt("RECON_FEED_TIMEOUT_SECONDS", 30),
			MinDistinctActors:    getenvInt("RECON_MIN_DISTINCT_ACTORS", 3),
		},
		Depreciation: DepreciationConfig{
			DecliningBalanceRatePct: getenvInt64("DEPR_DECLINING_BALANCE_RATE_PCT", 200),
			MACRSTables:             getenvMACRSTables("DEPR_MACRS_TABLES"),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getenvBool("SCHEDULER_ENABLED", true),
			IntervalSeconds: getenvInt("SCHEDULER_INTERVAL_SECONDS", 60),
			BatchSize:       getenvInt("SCHEDULER_BATCH_SIZE", 100),
		},
	}

	return cfg
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("config: invalid int for %s: %q", key, raw)
		return fallback
	}
	return value
}

func getenvInt64(key string, fallback int64) int64 {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		log.Printf("config: invalid int64 for %s: %q", key, raw)
		return fallback
	}
	return value
}

// getenvMACRSTables parses "5:20,32,19.2,11.52,11.52,5.76;7:..." into a
// map of recovery-period years to annual percentage strings.
func getenvMACRSTables(key string) map[int][]string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	tables := make(map[int][]string)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			log.Printf("config: invalid MACRS table entry %q", entry)
			continue
		}
		years, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || years <= 0 {
			log.Printf("config: invalid MACRS recovery period %q", parts[0])
			continue
		}
		var rates []string
		for _, rate := range strings.Split(parts[1], ",") {
			if rate = strings.TrimSpace(rate); rate != "" {
				rates = append(rates, rate)
			}
		}
		if len(rates) > 0 {
			tables[years] = rates
		}
	}
	if len(tables) == 0 {
		return nil
	}
	return tables
}

func getenvBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}
