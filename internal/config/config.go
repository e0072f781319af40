package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env              string
	LogLevel         string
	LogPath          string
	MilterPort       string
	ApiPort          string
	DatabaseURL      string
	MaxDBConnections int
	RedisURL         string
	RedisTimeout     time.Duration
	HTTPTimeout      time.Duration
	RulesPath        string // directory of .cf rule files loaded at startup, or a single file

	Scoring ScoringConfig
	Auth    AuthConfig
	Bayes   BayesConfig
	Daemon  DaemonConfig
}

// ScoringConfig carries the MTA-facing action thresholds layered on top of
// the rule engine's own required_score verdict: a message may be a spam
// verdict yet still only be quarantined, with reject reserved for scores
// well past the threshold.
type ScoringConfig struct {
	RejectThreshold     float64
	QuarantineThreshold float64
}

// AuthConfig carries per-protocol timeouts and cache lifetimes for the
// eval-callback network plugins (internal/auth/{dkim,spf,dmarc}).
type AuthConfig struct {
	DKIM AuthProtoConfig
	SPF  AuthProtoConfig
	DMARC AuthProtoConfig
}

type AuthProtoConfig struct {
	Timeout  time.Duration
	CacheTTL time.Duration
}

// BayesConfig selects and tunes the C4 token store backend.
type BayesConfig struct {
	Backend       string // "redis" or "bolt"
	BoltPath      string
	ExpiryMinSize int
}

// DaemonConfig carries the C6/C7 prefork/wire-protocol listener settings.
type DaemonConfig struct {
	ListenAddr   string
	PreforkMode  string // only logged at startup; workers always run in-process
	MinChildren  int
	MaxChildren  int
	MinIdle      int
	MaxIdle      int
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("cmd/spamd")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Load environment variables
	viper.AutomaticEnv()

	cfg := &Config{
		Env:              viper.GetString("env"),
		LogLevel:         viper.GetString("log.level"),
		LogPath:          viper.GetString("log.path"),
		MilterPort:       viper.GetString("milter.port"),
		ApiPort:          viper.GetString("api.port"),
		DatabaseURL:      viper.GetString("database.url"),
		MaxDBConnections: viper.GetInt("database.max_connections"),
		RedisURL:         viper.GetString("redis.url"),
		RedisTimeout:     viper.GetDuration("redis.timeout"),
		HTTPTimeout:      viper.GetDuration("http.timeout"),
		RulesPath:        viper.GetString("rules.path"),

		Scoring: ScoringConfig{
			RejectThreshold:     viper.GetFloat64("scoring.reject_threshold"),
			QuarantineThreshold: viper.GetFloat64("scoring.quarantine_threshold"),
		},
		Auth: AuthConfig{
			DKIM:  AuthProtoConfig{Timeout: viper.GetDuration("auth.dkim.timeout"), CacheTTL: viper.GetDuration("auth.dkim.cache_ttl")},
			SPF:   AuthProtoConfig{Timeout: viper.GetDuration("auth.spf.timeout"), CacheTTL: viper.GetDuration("auth.spf.cache_ttl")},
			DMARC: AuthProtoConfig{Timeout: viper.GetDuration("auth.dmarc.timeout"), CacheTTL: viper.GetDuration("auth.dmarc.cache_ttl")},
		},
		Bayes: BayesConfig{
			Backend:       viper.GetString("bayes.backend"),
			BoltPath:      viper.GetString("bayes.bolt_path"),
			ExpiryMinSize: viper.GetInt("bayes.expiry_min_size"),
		},
		Daemon: DaemonConfig{
			ListenAddr:  viper.GetString("daemon.listen_addr"),
			PreforkMode: viper.GetString("daemon.prefork_mode"),
			MinChildren: viper.GetInt("daemon.min_children"),
			MaxChildren: viper.GetInt("daemon.max_children"),
			MinIdle:     viper.GetInt("daemon.min_idle"),
			MaxIdle:     viper.GetInt("daemon.max_idle"),
		},
	}
	applyConfigDefaults(cfg)

	return cfg, nil
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Scoring.RejectThreshold == 0 {
		cfg.Scoring.RejectThreshold = 10.0
	}
	if cfg.Scoring.QuarantineThreshold == 0 {
		cfg.Scoring.QuarantineThreshold = 5.0
	}
	if cfg.Auth.DKIM.Timeout == 0 {
		cfg.Auth.DKIM.Timeout = 5 * time.Second
	}
	if cfg.Auth.DKIM.CacheTTL == 0 {
		cfg.Auth.DKIM.CacheTTL = time.Hour
	}
	if cfg.Auth.SPF.Timeout == 0 {
		cfg.Auth.SPF.Timeout = 5 * time.Second
	}
	if cfg.Auth.SPF.CacheTTL == 0 {
		cfg.Auth.SPF.CacheTTL = time.Hour
	}
	if cfg.Auth.DMARC.Timeout == 0 {
		cfg.Auth.DMARC.Timeout = 10 * time.Second
	}
	if cfg.Auth.DMARC.CacheTTL == 0 {
		cfg.Auth.DMARC.CacheTTL = 4 * time.Hour
	}
	if cfg.Bayes.Backend == "" {
		cfg.Bayes.Backend = "bolt"
	}
	if cfg.Bayes.ExpiryMinSize == 0 {
		cfg.Bayes.ExpiryMinSize = 100000
	}
	if cfg.Daemon.PreforkMode == "" {
		cfg.Daemon.PreforkMode = "inprocess"
	}
	if cfg.Daemon.MinChildren == 0 {
		cfg.Daemon.MinChildren = 1
	}
	if cfg.Daemon.MaxChildren == 0 {
		cfg.Daemon.MaxChildren = 5
	}
	if cfg.Daemon.MinIdle == 0 {
		cfg.Daemon.MinIdle = 1
	}
	if cfg.Daemon.MaxIdle == 0 {
		cfg.Daemon.MaxIdle = 2
	}
	if cfg.RulesPath == "" {
		cfg.RulesPath = "/etc/spamassassin"
	}
}
