package config

import (
	"encoding/json"
	"fmt"
	"os"

	"grid-trader-go/internal/models"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	cfg := &models.Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults 填充缺省配置项
func applyDefaults(cfg *models.Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "data/grid_trading.db"
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = 8080
	}
	if cfg.TickIntervalSec == 0 {
		cfg.TickIntervalSec = 5
	}
	if cfg.Oracle.WSBaseURL == "" {
		cfg.Oracle.WSBaseURL = "wss://fstream.binance.com"
	}
	if cfg.Oracle.CachePath == "" {
		cfg.Oracle.CachePath = "data/price_cache"
	}
	if cfg.Oracle.CacheTTLSec == 0 {
		cfg.Oracle.CacheTTLSec = 3
	}
	if cfg.Oracle.StalenessSec == 0 {
		cfg.Oracle.StalenessSec = 60
	}
}

func validate(cfg *models.Config) error {
	if cfg.TickIntervalSec < 1 {
		return fmt.Errorf("tick_interval_sec 必须为正数, 当前值: %d", cfg.TickIntervalSec)
	}
	if cfg.Oracle.StalenessSec < cfg.Oracle.CacheTTLSec {
		return fmt.Errorf("staleness_sec (%d) 不能小于 cache_ttl_sec (%d)",
			cfg.Oracle.StalenessSec, cfg.Oracle.CacheTTLSec)
	}
	return nil
}
