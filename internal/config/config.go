// Package config loads the service configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// TableName is the DynamoDB table holding users and conversations.
	TableName string `mapstructure:"TABLE_NAME"`
	// OwnerIndex is the GSI used to list a user's conversations newest first.
	OwnerIndex string `mapstructure:"OWNER_INDEX"`
	// ParamPrefix is the SSM path prefix; the JWT secret lives at <prefix>/jwt_secret.
	ParamPrefix string `mapstructure:"PARAM_PREFIX"`
	// JWTSecret overrides the SSM secret, mainly for local runs.
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	JWTIssuer   string `mapstructure:"JWT_ISSUER"`
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTTTL is the token lifetime (e.g. "120h").
	JWTTTL     string `mapstructure:"JWT_TTL"`
	BcryptCost int    `mapstructure:"BCRYPT_COST"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	LogPretty  bool   `mapstructure:"LOG_PRETTY"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("TABLE_NAME", "")
	v.SetDefault("OWNER_INDEX", "owner-index")
	v.SetDefault("PARAM_PREFIX", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "conversation-api")
	v.SetDefault("JWT_AUDIENCE", "conversation-api")
	v.SetDefault("JWT_TTL", "120h")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if strings.TrimSpace(cfg.TableName) == "" {
		return nil, errors.New("config: TABLE_NAME must be set")
	}
	if cfg.JWTSecret == "" && cfg.ParamPrefix == "" {
		return nil, errors.New("config: one of JWT_SECRET or PARAM_PREFIX must be set")
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// TokenTTL parses JWTTTL. Returns 120h if unset or invalid.
func (c *Config) TokenTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTTTL)
	if err != nil || d <= 0 {
		return 120 * time.Hour
	}
	return d
}

// SecretParam is the SSM name of the JWT signing secret.
func (c *Config) SecretParam() string {
	if c.ParamPrefix == "" {
		return ""
	}
	return c.ParamPrefix + "/jwt_secret"
}
