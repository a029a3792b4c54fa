package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime string
}

type AuthConfig struct {
	AccessSecret string
}

// CanjeConfig carries the per-company account/journal/tax references the
// settlement engines post against. Everything is validated present
// before any posting.
type CanjeConfig struct {
	// Journal and producer current account for settlement entries.
	Journal string
	Account string

	// Clearing (bridge) account and journal for liquidations.
	ClearingAccount    string
	LiquidationJournal string

	// Netting entry journal and payment journal for LSG payments.
	NettingJournal        string
	NettingPaymentJournal string

	// Default purchase tax rules per liquidation type. The rates seed
	// the in-process accounting collaborator when no external one is
	// attached.
	LPGTax     string
	LSGTax     string
	LPGTaxRate float64
	LSGTaxRate float64

	// NettingAutoCap clamps oversized compensation requests to the
	// maximum compensable amount instead of failing.
	NettingAutoCap bool

	BaseCurrency string
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Canje       CanjeConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")
	v.SetDefault("NETTING_AUTO_CAP", true)
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetString("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Canje: CanjeConfig{
			Journal:               v.GetString("CANJE_JOURNAL"),
			Account:               v.GetString("CANJE_ACCOUNT"),
			ClearingAccount:       v.GetString("GRAIN_CLEARING_ACCOUNT"),
			LiquidationJournal:    v.GetString("GRAIN_LIQUIDATION_JOURNAL"),
			NettingJournal:        v.GetString("GRAIN_NETTING_JOURNAL"),
			NettingPaymentJournal: v.GetString("GRAIN_NETTING_PAYMENT_JOURNAL"),
			LPGTax:                v.GetString("GRAIN_LPG_TAX"),
			LSGTax:                v.GetString("GRAIN_LSG_TAX"),
			LPGTaxRate:            v.GetFloat64("GRAIN_LPG_TAX_RATE"),
			LSGTaxRate:            v.GetFloat64("GRAIN_LSG_TAX_RATE"),
			NettingAutoCap:        v.GetBool("NETTING_AUTO_CAP"),
			BaseCurrency:          v.GetString("BASE_CURRENCY"),
		},
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 7090
	}
	if cfg.Canje.BaseCurrency == "" {
		cfg.Canje.BaseCurrency = "ARS"
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	return nil
}
