// Package config provides environment-based configuration for PlaceKit.
//
// Configuration is loaded from environment variables using Viper, with sensible
// defaults for development. This package handles database connection settings,
// logging levels, server ports, the identity provider selection, and the
// timeout policy of the session store.
//
// # Environment Variables
//
//   - DB_TYPE: Database type (sqlite, postgres, mysql). Default: sqlite
//   - DSN: Database connection string. Default: placekit.db
//   - REDIS_ADDR: Redis address for the token store. Empty disables Redis.
//   - LOG_LEVEL: Logging level (debug, info, warn, error). Default: info
//   - PORT: HTTP server port. Default: 8080
//   - PROVIDER: Identity provider adapter (oidc, jwt). Default: jwt
//   - JWT_SECRET: HS256 secret for the local JWT provider.
//   - OIDC_ISSUER, OIDC_CLIENT_ID, OIDC_CLIENT_SECRET: OIDC provider settings.
//
// # Timeout Policy
//
// The session store timeouts were tuned empirically and are deliberately
// configurable rather than fixed:
//
//   - FETCH_TIMEOUT: Bound on the one-shot session fetch. Default: 3s
//   - SETTLE_TIMEOUT: Store-level safety bound forcing an auth decision. Default: 8s
//   - RENDER_FALLBACK: Gate-level bound forcing protected content to render. Default: 8s
//   - REFRESH_INTERVAL: OIDC token refresh cadence. Default: 15m
//
// # Example Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Starting on port %d with %s database\n", cfg.Port, cfg.DBType)
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBType    string `mapstructure:"DB_TYPE"` // sqlite, postgres, mysql
	DSN       string `mapstructure:"DSN"`
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	Port      int    `mapstructure:"PORT"`

	Provider         string `mapstructure:"PROVIDER"` // oidc, jwt
	JWTSecret        string `mapstructure:"JWT_SECRET"`
	OIDCIssuer       string `mapstructure:"OIDC_ISSUER"`
	OIDCClientID     string `mapstructure:"OIDC_CLIENT_ID"`
	OIDCClientSecret string `mapstructure:"OIDC_CLIENT_SECRET"`

	FetchTimeout    time.Duration `mapstructure:"FETCH_TIMEOUT"`
	SettleTimeout   time.Duration `mapstructure:"SETTLE_TIMEOUT"`
	RenderFallback  time.Duration `mapstructure:"RENDER_FALLBACK"`
	RefreshInterval time.Duration `mapstructure:"REFRESH_INTERVAL"`

	LoginRoute string `mapstructure:"LOGIN_ROUTE"`
	HomeRoute  string `mapstructure:"HOME_ROUTE"`
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("PORT", 8080)
	viper.SetDefault("DB_TYPE", "sqlite")
	viper.SetDefault("DSN", "placekit.db") // Default to sqlite if not provided
	viper.SetDefault("REDIS_ADDR", "")
	viper.SetDefault("PROVIDER", "jwt")
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("OIDC_ISSUER", "")
	viper.SetDefault("OIDC_CLIENT_ID", "")
	viper.SetDefault("OIDC_CLIENT_SECRET", "")
	viper.SetDefault("FETCH_TIMEOUT", "3s")
	viper.SetDefault("SETTLE_TIMEOUT", "8s")
	viper.SetDefault("RENDER_FALLBACK", "8s")
	viper.SetDefault("REFRESH_INTERVAL", "15m")
	viper.SetDefault("LOGIN_ROUTE", "/login")
	viper.SetDefault("HOME_ROUTE", "/lists")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
