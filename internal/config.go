package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 配置檔時長的包裝型別
//
// yaml.v3 不會把 "15s" 這類字串解析進 time.Duration，
// 這裡以 time.ParseDuration 補上。
type Duration time.Duration

// UnmarshalYAML 實現 yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("解析時長 %q 失敗: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std 轉回標準庫型別
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int      `yaml:"port"`
		ReadTimeout  Duration `yaml:"read_timeout"`
		WriteTimeout Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Redis struct {
		Addr         string   `yaml:"addr"`
		Password     string   `yaml:"password"`
		DB           int      `yaml:"db"`
		PoolSize     int      `yaml:"pool_size"`
		MinIdleConns int      `yaml:"min_idle_conns"`
		MaxRetries   int      `yaml:"max_retries"`
		ReadTimeout  Duration `yaml:"read_timeout"`
		WriteTimeout Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	Auth struct {
		Secret string `yaml:"secret"`
	} `yaml:"auth"`

	Game struct {
		// RoomTTL 房間與成員集合的閒置過期時間。
		// 每次寫入都會重置，過期後房間連同所有狀態一起消失，
		// 這是系統唯一的自動資源回收機制。
		RoomTTL Duration `yaml:"room_ttl"`

		// ReadyFieldCount 判定「雙方都完成佈船」的雜湊欄位數。
		// 房間創建時寫入 member/guest/messages 三個欄位，
		// 兩位玩家各貢獻一個 selected_cells，合計 5。
		// 這個數字與房間欄位結構耦合：任何新增的固定欄位都會改變觸發時機。
		ReadyFieldCount int `yaml:"ready_field_count"`

		// FleetCells 艦隊總格數，dead_cells 達到此數即判負。
		// 固定常數，不隨棋盤配置推導。
		FleetCells int `yaml:"fleet_cells"`
	} `yaml:"game"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultConfig 回傳帶預設值的配置
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = Duration(15 * time.Second)
	cfg.Server.WriteTimeout = Duration(15 * time.Second)
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.MinIdleConns = 2
	cfg.Redis.MaxRetries = 3
	cfg.Redis.ReadTimeout = Duration(3 * time.Second)
	cfg.Redis.WriteTimeout = Duration(3 * time.Second)
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.Auth.Secret = "dev-secret"
	cfg.Game.RoomTTL = Duration(3600 * time.Second)
	cfg.Game.ReadyFieldCount = 5
	cfg.Game.FleetCells = 20
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// LoadConfig 載入配置檔
//
// 檔案不存在時直接使用預設值（開發環境常見），
// 環境變數 REDIS_ADDR / NATS_URL / AUTH_SECRET 優先於檔案內容。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置檔失敗: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NATS.URL = url
	}
	if secret := os.Getenv("AUTH_SECRET"); secret != "" {
		cfg.Auth.Secret = secret
	}

	return cfg, nil
}
