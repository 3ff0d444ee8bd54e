package main

import (
	"fmt"
	"time"

	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/pkg/config"
)

// Config 风控服务配置
type Config struct {
	config.Config `mapstructure:",squash"`

	Risk   domain.RiskEngineConfig `mapstructure:"risk"`
	Worker WorkerConfig            `mapstructure:"worker"`
}

// WorkerConfig 后台任务参数
type WorkerConfig struct {
	// 告警升级/过期扫描间隔
	AlertSweepInterval time.Duration `mapstructure:"alert_sweep_interval"`
	// Outbox 投递
	OutboxInterval    time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize   int           `mapstructure:"outbox_batch_size"`
	OutboxMaxAttempts int           `mapstructure:"outbox_max_attempts"`
	OutboxRetention   time.Duration `mapstructure:"outbox_retention"`
	// 组合批量重算
	SweepConcurrency int           `mapstructure:"sweep_concurrency"`
	SweepTimeout     time.Duration `mapstructure:"sweep_timeout"`
	MetricsTTL       time.Duration `mapstructure:"metrics_ttl"`
}

func defaultConfig() *Config {
	return &Config{
		Risk: domain.DefaultRiskEngineConfig(),
		Worker: WorkerConfig{
			AlertSweepInterval: time.Minute,
			OutboxInterval:     time.Second,
			OutboxBatchSize:    100,
			OutboxMaxAttempts:  5,
			OutboxRetention:    7 * 24 * time.Hour,
			SweepConcurrency:   4,
			SweepTimeout:       30 * time.Second,
			MetricsTTL:         24 * time.Hour,
		},
	}
}

// loadConfig 读取配置文件，引擎参数以默认值为底并校验
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if err := config.Load(path, cfg); err != nil {
		return nil, err
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "risk"
	}
	if err := cfg.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Risk.Validate(); err != nil {
		return nil, err
	}
	if cfg.Worker.AlertSweepInterval <= 0 || cfg.Worker.OutboxInterval <= 0 {
		return nil, fmt.Errorf("invalid config: worker intervals must be positive")
	}
	return cfg, nil
}
