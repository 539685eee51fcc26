// Package config assembles the letterdesk configuration from the layered
// loader in pkg/config.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"letterdesk/internal/apperr"
	"letterdesk/pkg/backoff"
	"letterdesk/pkg/config"
)

type Config struct {
	Env      string `yaml:"-"`
	LogLevel string `yaml:"log_level"`

	Server config.ServerConfig `yaml:"server"`
	DB     config.DBConfig     `yaml:"db"`
	MQ     config.MQConfig     `yaml:"mq"`
	Redis  config.RedisConfig  `yaml:"redis"`
	JWT    config.JWTConfig    `yaml:"jwt"`
	Sheets config.SheetsConfig `yaml:"sheets"`
	SES    config.SESConfig    `yaml:"ses"`

	Store     StoreConfig          `yaml:"store"`
	Backoff   backoff.Config       `yaml:"backoff"`
	Auth      AuthConfig           `yaml:"auth"`
	Plans     map[string]PlanLimit `yaml:"plans"`
	Business  BusinessConfig       `yaml:"business"`
	Jobs      JobsConfig           `yaml:"jobs"`
	Reminders ReminderConfig       `yaml:"reminders"`
}

// StoreConfig selects and tunes the row store.
type StoreConfig struct {
	Backend   string        `yaml:"backend"` // sheets | memory
	HandleTTL time.Duration `yaml:"handle_ttl"`
	Tables    TableNames    `yaml:"tables"`
	CacheTTL  CacheTTLs     `yaml:"cache_ttl"`
	Gate      GateConfig    `yaml:"gate"`
}

type TableNames struct {
	Accounts  string `yaml:"accounts"`
	Jobs      string `yaml:"jobs"`
	Ledger    string `yaml:"ledger"`
	Reminders string `yaml:"reminders"`
}

type CacheTTLs struct {
	Default   time.Duration `yaml:"default"`
	Accounts  time.Duration `yaml:"accounts"`
	Jobs      time.Duration `yaml:"jobs"`
	Ledger    time.Duration `yaml:"ledger"`
	Reminders time.Duration `yaml:"reminders"`
}

// GateConfig picks the cross-process fetch gate. Mode "auto" uses Redis when
// it is configured and the marker file otherwise.
type GateConfig struct {
	Mode        string        `yaml:"mode"` // auto | redis | file | none
	MinInterval time.Duration `yaml:"min_interval"`
	Dir         string        `yaml:"dir"`
}

type AuthConfig struct {
	Pepper      string   `yaml:"pepper"`
	BcryptCost  int      `yaml:"bcrypt_cost"`
	DefaultPlan string   `yaml:"default_plan"`
	AdminEmails []string `yaml:"admin_emails"`
}

// PlanLimit is a per-plan quota; -1 means unlimited.
type PlanLimit struct {
	Daily   int `yaml:"daily"`
	Monthly int `yaml:"monthly"`
}

type BusinessConfig struct {
	Timezone string `yaml:"timezone"`
}

type JobsConfig struct {
	ListCacheTTL  time.Duration `yaml:"list_cache_ttl"`
	FirstSMSAfter time.Duration `yaml:"first_sms_after"`
}

type ReminderConfig struct {
	Cadence       []CadenceStep `yaml:"cadence"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	BatchSize     int           `yaml:"batch_size"`
	StaleAfter    time.Duration `yaml:"stale_after"`
}

type CadenceStep struct {
	Topic string        `yaml:"topic"`
	After time.Duration `yaml:"after"`
}

// Load reads the configuration for CONFIG_ENV from CONFIG_DIR and exits on
// failure.
func Load() *Config {
	env := config.GetConfigEnv()
	dir := config.GetEnv("CONFIG_DIR", "config")
	cfg, err := LoadFrom(env, dir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom is Load without the exit.
func LoadFrom(env, dir string) (*Config, error) {
	cfg := Defaults()
	if err := config.Decode(env, dir, cfg); err != nil {
		return nil, err
	}
	cfg.Env = env

	// Environment variables win over files.
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideSheetsFromEnv(&cfg.Sheets)
	config.OverrideSESFromEnv(&cfg.SES)
	if pepper := os.Getenv("AUTH_PEPPER"); pepper != "" {
		cfg.Auth.Pepper = pepper
	}
	if admins := os.Getenv("ADMIN_EMAILS"); admins != "" {
		cfg.Auth.AdminEmails = splitList(admins)
	}
	if backend := os.Getenv("STORE_BACKEND"); backend != "" {
		cfg.Store.Backend = backend
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults is the configuration with no files present.
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		Server:   config.ServerConfig{Port: ":8080"},
		JWT:      config.JWTConfig{TTLHours: 24},
		SES:      config.SESConfig{Region: "us-east-1"},
		Store: StoreConfig{
			Backend:   "sheets",
			HandleTTL: 5 * time.Minute,
			Tables: TableNames{
				Accounts:  "Users",
				Jobs:      "Jobs",
				Ledger:    "LetterLog",
				Reminders: "Reminders",
			},
			CacheTTL: CacheTTLs{
				Default:   time.Minute,
				Accounts:  180 * time.Second,
				Jobs:      time.Minute,
				Ledger:    120 * time.Second,
				Reminders: time.Minute,
			},
			Gate: GateConfig{Mode: "auto", MinInterval: 2500 * time.Millisecond},
		},
		Backoff: backoff.DefaultConfig(),
		Auth: AuthConfig{
			BcryptCost:  10,
			DefaultPlan: "individual",
		},
		Plans: map[string]PlanLimit{
			"individual": {Daily: 1, Monthly: 15},
			"pro":        {Daily: 15, Monthly: 200},
		},
		Business: BusinessConfig{Timezone: "America/New_York"},
		Jobs: JobsConfig{
			ListCacheTTL:  20 * time.Second,
			FirstSMSAfter: 10 * 24 * time.Hour,
		},
		Reminders: ReminderConfig{
			Cadence: []CadenceStep{
				{Topic: "mail_nudge", After: 2 * 24 * time.Hour},
				{Topic: "status_check", After: 15 * 24 * time.Hour},
				{Topic: "next_round_ready", After: 35 * 24 * time.Hour},
			},
			SweepInterval: time.Minute,
			BatchSize:     25,
			StaleAfter:    30 * time.Minute,
		},
	}
}

// Validate rejects settings that would only fail later at first use.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "sheets":
		if c.Sheets.SpreadsheetID == "" {
			return &apperr.ConfigurationError{Component: "store", Setting: "sheets.spreadsheet_id"}
		}
		if c.Sheets.CredentialsFile == "" && c.Sheets.CredentialsB64 == "" {
			return &apperr.ConfigurationError{Component: "store", Setting: "sheets.credentials_file"}
		}
	default:
		return &apperr.ConfigurationError{
			Component: "store",
			Setting:   "store.backend",
			Err:       fmt.Errorf("unknown backend %q", c.Store.Backend),
		}
	}

	switch c.Store.Gate.Mode {
	case "auto", "file", "none":
	case "redis":
		if c.Redis.Addr == "" {
			return &apperr.ConfigurationError{Component: "fetch gate", Setting: "redis.addr"}
		}
	default:
		return &apperr.ConfigurationError{
			Component: "fetch gate",
			Setting:   "store.gate.mode",
			Err:       fmt.Errorf("unknown mode %q", c.Store.Gate.Mode),
		}
	}

	for name, ttl := range map[string]time.Duration{
		"accounts":  c.Store.CacheTTL.Accounts,
		"jobs":      c.Store.CacheTTL.Jobs,
		"ledger":    c.Store.CacheTTL.Ledger,
		"reminders": c.Store.CacheTTL.Reminders,
	} {
		if ttl < time.Minute || ttl > 3*time.Minute {
			return &apperr.ConfigurationError{
				Component: "store",
				Setting:   "store.cache_ttl." + name,
				Err:       fmt.Errorf("%s outside 1m..3m", ttl),
			}
		}
	}

	if c.Auth.Pepper == "" {
		return &apperr.ConfigurationError{Component: "account", Setting: "auth.pepper"}
	}
	if c.JWT.Secret == "" {
		return &apperr.ConfigurationError{Component: "api", Setting: "jwt.secret"}
	}
	if _, ok := c.Plans[c.Auth.DefaultPlan]; !ok {
		return &apperr.ConfigurationError{
			Component: "account",
			Setting:   "auth.default_plan",
			Err:       fmt.Errorf("plan %q not defined", c.Auth.DefaultPlan),
		}
	}
	if _, err := time.LoadLocation(c.Business.Timezone); err != nil {
		return &apperr.ConfigurationError{Component: "business", Setting: "business.timezone", Err: err}
	}
	return nil
}

// Location is the business timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Business.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
