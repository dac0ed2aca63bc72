package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	RoomCapacity    int           `mapstructure:"room_capacity"`
	RoomTTL         time.Duration `mapstructure:"room_ttl"`
	EmptyGrace      time.Duration `mapstructure:"empty_grace"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	KeyTTL           time.Duration `mapstructure:"key_ttl"`
	KeyHistoryLimit  int           `mapstructure:"key_history_limit"`
	KeyAutoRotate    bool          `mapstructure:"key_auto_rotate"`
	RotationInterval time.Duration `mapstructure:"rotation_interval"`

	MaxAnnotations   int           `mapstructure:"max_annotations"`
	SessionRetention time.Duration `mapstructure:"session_retention"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	v.SetDefault("room_capacity", 10)
	v.SetDefault("room_ttl", "24h")
	v.SetDefault("empty_grace", "10m")
	v.SetDefault("cleanup_interval", "5m")

	v.SetDefault("key_ttl", "24h")
	v.SetDefault("key_history_limit", 5)
	v.SetDefault("key_auto_rotate", true)
	v.SetDefault("rotation_interval", "1h")

	v.SetDefault("max_annotations", 500)
	v.SetDefault("session_retention", "30m")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Static: %s\n", cfg.Mode, cfg.Port, cfg.StaticPath)
	return &cfg, nil
}
