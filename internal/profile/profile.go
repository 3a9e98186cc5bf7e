package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the routing service.
type Profile struct {
	// Server
	Mode   string // prod, dev, demo
	Addr   string
	Port   int
	Data   string
	Driver string // postgres, sqlite, memory
	DSN    string

	// Worker registry definition file (YAML).
	WorkersConfig string

	// Routing options
	TimeAwareRouting  bool
	LocalFirstRouting bool
	// Local-only window: hours [start, end) during which every decision is
	// forced onto local-capable workers. Disabled when start == end.
	LocalOnlyStartHour int
	LocalOnlyEndHour   int

	// Batch analysis options
	MinDriftSampleSize         int
	DriftSignificanceThreshold float64
	SuggestionConfidenceFloor  float64
	DriftSchedule              string // cron spec for scheduled drift analysis, empty disables

	Version string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
// Flags and viper-bound values take precedence; env vars fill the rest.
func (p *Profile) FromEnv() {
	if p.WorkersConfig == "" {
		p.WorkersConfig = getEnvOrDefault("MODELPILOT_WORKERS_CONFIG", "")
	}

	p.TimeAwareRouting = getEnvOrDefault("MODELPILOT_TIME_AWARE_ROUTING", boolString(p.TimeAwareRouting)) == "true"
	p.LocalFirstRouting = getEnvOrDefault("MODELPILOT_LOCAL_FIRST_ROUTING", boolString(p.LocalFirstRouting)) == "true"
	p.LocalOnlyStartHour = getEnvOrDefaultInt("MODELPILOT_LOCAL_ONLY_START_HOUR", p.LocalOnlyStartHour)
	p.LocalOnlyEndHour = getEnvOrDefaultInt("MODELPILOT_LOCAL_ONLY_END_HOUR", p.LocalOnlyEndHour)

	p.MinDriftSampleSize = getEnvOrDefaultInt("MODELPILOT_MIN_DRIFT_SAMPLE_SIZE", p.MinDriftSampleSize)
	p.DriftSignificanceThreshold = getEnvOrDefaultFloat("MODELPILOT_DRIFT_SIGNIFICANCE_THRESHOLD", p.DriftSignificanceThreshold)
	p.SuggestionConfidenceFloor = getEnvOrDefaultFloat("MODELPILOT_SUGGESTION_CONFIDENCE_FLOOR", p.SuggestionConfidenceFloor)
	if p.DriftSchedule == "" {
		p.DriftSchedule = getEnvOrDefault("MODELPILOT_DRIFT_SCHEDULE", "")
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies.
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver != "postgres" && p.Driver != "sqlite" && p.Driver != "memory" {
		return errors.Errorf("unsupported database driver %q", p.Driver)
	}

	if p.LocalOnlyStartHour < 0 || p.LocalOnlyStartHour > 23 ||
		p.LocalOnlyEndHour < 0 || p.LocalOnlyEndHour > 23 {
		return errors.New("local-only window hours must be within 0..23")
	}

	if p.MinDriftSampleSize <= 0 {
		p.MinDriftSampleSize = 10
	}
	if p.DriftSignificanceThreshold <= 0 || p.DriftSignificanceThreshold > 1 {
		p.DriftSignificanceThreshold = 0.2
	}
	if p.SuggestionConfidenceFloor <= 0 || p.SuggestionConfidenceFloor > 1 {
		p.SuggestionConfidenceFloor = 0.65
	}

	if p.Driver == "memory" {
		return nil
	}

	if p.Data == "" && p.Driver == "sqlite" {
		p.Data = "."
	}
	if p.Driver == "sqlite" {
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir
		if p.DSN == "" {
			dbFile := fmt.Sprintf("modelpilot_%s.db", p.Mode)
			p.DSN = filepath.Join(dataDir, dbFile) + "?_loc=auto"
		}
	}

	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn required for postgres driver")
	}

	return nil
}
