package rtsa

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config holds runtime settings. Defaults can be loaded from the
// environment with LoadConfig.
type Config struct {
	// AppID identifies the application to the service. ENV: RTSA_APP_ID
	AppID string `env:"RTSA_APP_ID"`
	// AreaCode restricts service regions. ENV: RTSA_AREA_CODE
	AreaCode uint32 `env:"RTSA_AREA_CODE,default=4294967295"`
	// ProductID is reported to the service. ENV: RTSA_PRODUCT_ID
	ProductID string `env:"RTSA_PRODUCT_ID"`

	// Engine-side logging. ENV: RTSA_SDK_LOG_DISABLE, RTSA_SDK_LOG_LEVEL,
	// RTSA_SDK_LOG_PATH, RTSA_SDK_LOG_SIZE
	SDKLogDisable bool   `env:"RTSA_SDK_LOG_DISABLE,default=false"`
	SDKLogLevel   int    `env:"RTSA_SDK_LOG_LEVEL,default=0"`
	SDKLogPath    string `env:"RTSA_SDK_LOG_PATH"`
	SDKLogSize    int    `env:"RTSA_SDK_LOG_SIZE,default=0"`

	// LogLevel is the bridge's own slog level. ENV: RTSA_LOG_LEVEL
	LogLevel string `env:"RTSA_LOG_LEVEL,default=info"`

	// JoinTimeout bounds Join. ENV: RTSA_JOIN_TIMEOUT
	JoinTimeout time.Duration `env:"RTSA_JOIN_TIMEOUT,default=3s"`
	// EventQueueSize bounds pending handler notifications. ENV: RTSA_EVENT_QUEUE
	EventQueueSize int `env:"RTSA_EVENT_QUEUE,default=256"`
}

// DefaultConfig returns the built-in defaults without reading the
// environment.
func DefaultConfig() Config {
	return Config{
		AreaCode:       AreaGlobal,
		LogLevel:       "info",
		JoinTimeout:    DefaultJoinTimeout,
		EventQueueSize: 256,
	}
}

// LoadConfig reads Config from the environment. A variable that is set
// but cannot be parsed is an error.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the config can bootstrap an engine.
func (c Config) Validate() error {
	if c.AppID == "" {
		return errors.New("app id is required")
	}
	if c.JoinTimeout < 0 {
		return fmt.Errorf("join timeout must not be negative: %s", c.JoinTimeout)
	}
	if c.EventQueueSize < 0 {
		return fmt.Errorf("event queue size must not be negative: %d", c.EventQueueSize)
	}
	return nil
}

// ServiceOptions returns the engine bootstrap options.
func (c Config) ServiceOptions() ServiceOptions {
	return ServiceOptions{
		AreaCode:   c.AreaCode,
		ProductID:  c.ProductID,
		LogDisable: c.SDKLogDisable,
		LogLevel:   c.SDKLogLevel,
		LogPath:    c.SDKLogPath,
		LogSize:    c.SDKLogSize,
	}
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
