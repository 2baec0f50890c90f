package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個資料存取層的配置
type Config struct {
	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		MinIdleConns int           `yaml:"min_idle_conns"`
		MaxRetries   int           `yaml:"max_retries"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	// Consistency 各讀取路徑的一致性級別
	//
	// 測試時將 default_read 設為 strong 可以得到確定性行為，
	// 不必等待 Redis 鏡像同步。
	Consistency struct {
		DefaultRead   string `yaml:"default_read"`   // strong / eventual
		AccessControl string `yaml:"access_control"` // 權限判斷類讀取，應保持 strong
	} `yaml:"consistency"`

	// Relationship 關注/收藏集合的變更策略
	Relationship struct {
		Strategy      string `yaml:"strategy"`        // set（預設）/ cas
		CASMaxRetries int    `yaml:"cas_max_retries"` // CAS 版本衝突的重試上限
	} `yaml:"relationship"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// LoadConfig 從 yaml 檔案載入配置
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - path 來自部署配置，非使用者直接輸入
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults 填入未設置欄位的預設值
func (c *Config) applyDefaults() {
	if c.Consistency.DefaultRead == "" {
		c.Consistency.DefaultRead = "eventual"
	}
	if c.Consistency.AccessControl == "" {
		c.Consistency.AccessControl = "strong"
	}
	if c.Relationship.Strategy == "" {
		c.Relationship.Strategy = "set"
	}
	if c.Relationship.CASMaxRetries <= 0 {
		c.Relationship.CASMaxRetries = 3
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// PostgresDSN 生成 PostgreSQL 連線字串
func (c *Config) PostgresDSN() string {
	// 支援環境變數覆蓋（生產環境常用）
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.DBName,
	)
}
