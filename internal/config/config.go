// internal/config/config.go
//
// Package config 由環境變數載入服務設定。
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// 支援的儲存後端。
const (
	StorageJSON     = "json"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config 為服務啟動所需的全部設定。
type Config struct {
	Addr        string        `env:"BANKAPP_ADDR" envDefault:":8080"`
	Storage     string        `env:"BANKAPP_STORAGE" envDefault:"json"`
	DataPath    string        `env:"BANKAPP_DATA_PATH" envDefault:"data/bank.json"`
	SQLitePath  string        `env:"BANKAPP_SQLITE_PATH" envDefault:"data/bank.db"`
	DatabaseURL string        `env:"BANKAPP_DATABASE_URL"`
	JWTSecret   string        `env:"BANKAPP_JWT_SECRET,required,notEmpty"`
	SessionTTL  time.Duration `env:"BANKAPP_SESSION_TTL" envDefault:"24h"`

	OTelEndpoint string `env:"BANKAPP_OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"BANKAPP_OTEL_ENABLED" envDefault:"true"`
}

// ParseEnv 將環境變數解析進 target（帶 env tag 的 struct 指標）。
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load 讀取並檢查設定。
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 檢查儲存後端與其必要參數。
func (c Config) Validate() error {
	switch c.Storage {
	case StorageJSON:
		if c.DataPath == "" {
			return fmt.Errorf("BANKAPP_DATA_PATH is required for %s storage", c.Storage)
		}
	case StorageSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("BANKAPP_SQLITE_PATH is required for %s storage", c.Storage)
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("BANKAPP_DATABASE_URL is required for %s storage", c.Storage)
		}
	default:
		return fmt.Errorf("unknown storage %q (want json, sqlite or postgres)", c.Storage)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("BANKAPP_SESSION_TTL must be positive")
	}
	return nil
}
