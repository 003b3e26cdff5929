// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root configuration object.
type Config struct {
	Service   ServiceConfig
	Server    ServerConfig
	Database  DatabaseConfig
	NATS      NATSConfig
	Scheduler SchedulerConfig
	Leave     LeavePolicy
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
}

// NATSConfig holds the notification bus settings.
type NATSConfig struct {
	URL string
}

// SchedulerConfig holds the cron expressions for the background jobs.
type SchedulerConfig struct {
	DailySweepCron  string
	RemindersCron   string
	AnnualResetCron string
	CarryOverCron   string
}

// LeavePolicy holds the labor-law policy knobs. All values have statutory
// defaults; deployments override them per jurisdiction.
type LeavePolicy struct {
	// DefaultAnnualDays is the base yearly entitlement restored on reset.
	DefaultAnnualDays int
	// OnDemandYearlyCap limits on-demand leave days per calendar year.
	OnDemandYearlyCap int
	// HireDayCutoff: hires on or before this day of the month count the
	// hire month as a full month for proportional entitlement. The statute
	// leaves the exact boundary to the employer; 15 is this deployment's
	// default and must not be assumed elsewhere in the code.
	HireDayCutoff int
	// CarryOverExpiryMonth/Day: unused carried-over days are void after
	// this date of the new year (statutory September 30).
	CarryOverExpiryMonth time.Month
	CarryOverExpiryDay   int
	// CarryOverReminderMonth/Day: users holding carried-over days are
	// warned on this date.
	CarryOverReminderMonth time.Month
	CarryOverReminderDay   int
	// SickLeaveZusThresholdDays: sick leave longer than this requires a
	// ZUS certification document.
	SickLeaveZusThresholdDays int
	// CancellationWindowDays: approvers may cancel a started vacation for
	// this many days after its start date.
	CancellationWindowDays int
	// ApprovalSLADays: pending steps older than this are flagged overdue.
	ApprovalSLADays int
	// CircumstantialCaps maps reason category to its yearly day cap.
	CircumstantialCaps map[string]int
	// CircumstantialDocThreshold maps reason category to the day count
	// above which supporting documentation is required.
	CircumstantialDocThreshold map[string]int
}

// DefaultLeavePolicy returns the statutory defaults.
func DefaultLeavePolicy() LeavePolicy {
	return LeavePolicy{
		DefaultAnnualDays:         26,
		OnDemandYearlyCap:         4,
		HireDayCutoff:             15,
		CarryOverExpiryMonth:      time.September,
		CarryOverExpiryDay:        30,
		CarryOverReminderMonth:    time.September,
		CarryOverReminderDay:      1,
		SickLeaveZusThresholdDays: 33,
		CancellationWindowDays:    1,
		ApprovalSLADays:           3,
		CircumstantialCaps: map[string]int{
			"marriage": 2,
			"birth":    2,
			"funeral":  2,
		},
		CircumstantialDocThreshold: map[string]int{
			"marriage": 1,
			"birth":    1,
			"funeral":  1,
		},
	}
}

// Load reads configuration from the environment. A missing .env file is not
// an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", "be-hr-leave"),
			Version:     getEnv("SERVICE_VERSION", "dev"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 8086),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", ""),
			Database:    getEnv("DB_NAME", "hr_leave"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			MaxConns:    int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns:    int32(getEnvInt("DB_MIN_CONNS", 2)),
			MaxConnTime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxIdleTime: getEnvDuration("DB_MAX_CONN_IDLE", 30*time.Minute),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", ""),
		},
		Scheduler: SchedulerConfig{
			DailySweepCron:  getEnv("CRON_DAILY_SWEEP", "0 5 * * *"),
			RemindersCron:   getEnv("CRON_REMINDERS", "30 5 * * *"),
			AnnualResetCron: getEnv("CRON_ANNUAL_RESET", "0 6 1 1 *"),
			CarryOverCron:   getEnv("CRON_CARRY_OVER", "0 6 * * *"),
		},
		Leave: DefaultLeavePolicy(),
	}

	cfg.Leave.DefaultAnnualDays = getEnvInt("LEAVE_DEFAULT_ANNUAL_DAYS", cfg.Leave.DefaultAnnualDays)
	cfg.Leave.OnDemandYearlyCap = getEnvInt("LEAVE_ON_DEMAND_CAP", cfg.Leave.OnDemandYearlyCap)
	cfg.Leave.HireDayCutoff = getEnvInt("LEAVE_HIRE_DAY_CUTOFF", cfg.Leave.HireDayCutoff)
	cfg.Leave.SickLeaveZusThresholdDays = getEnvInt("LEAVE_ZUS_THRESHOLD_DAYS", cfg.Leave.SickLeaveZusThresholdDays)
	cfg.Leave.CancellationWindowDays = getEnvInt("LEAVE_CANCELLATION_WINDOW_DAYS", cfg.Leave.CancellationWindowDays)
	cfg.Leave.ApprovalSLADays = getEnvInt("LEAVE_APPROVAL_SLA_DAYS", cfg.Leave.ApprovalSLADays)

	if cfg.Leave.HireDayCutoff < 1 || cfg.Leave.HireDayCutoff > 28 {
		return nil, fmt.Errorf("LEAVE_HIRE_DAY_CUTOFF must be within 1..28, got %d", cfg.Leave.HireDayCutoff)
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT out of range: %d", cfg.Server.Port)
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return i
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
