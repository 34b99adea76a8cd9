package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port      int      `env:"PORT,default=5001"`
	LogLevel  string   `env:"LOG_LEVEL,default=info"`
	LogFormat string   `env:"LOG_FORMAT,default=text"`
	StaticDir string   `env:"STATIC_DIR,default=./public"`
	Origins   []string `env:"ALLOWED_ORIGINS"`

	CanvasSize   int     `env:"CANVAS_SIZE,default=2048"`
	CanvasStore  string  `env:"CANVAS_STORE,default=canvas.png"`
	MaxBrushSize float64 `env:"MAX_BRUSH_SIZE,default=128"`

	// DrawCeiling <= 0 disables draw admission limits.
	DrawCeiling       int           `env:"DRAW_CEILING,default=2000"`
	DrawResetInterval time.Duration `env:"DRAW_RESET_INTERVAL,default=10s"`

	AutosaveInterval time.Duration `env:"AUTOSAVE_INTERVAL,default=1m"`
	PersistTimeout   time.Duration `env:"PERSIST_TIMEOUT,default=10s"`

	CursorRate float64 `env:"CURSOR_RATE,default=30"`

	TwitchClientID string `env:"TWITCH_CLIENT_ID"`
	TwitchAPIURL   string `env:"TWITCH_API_URL,default=https://api.twitch.tv/helix"`
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom reads the configuration through l and validates it.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT: out of range: %d", c.Port))
	}
	if c.CanvasSize <= 0 || c.CanvasSize > 8192 {
		errs = append(errs, fmt.Errorf("CANVAS_SIZE: must be in 1..8192, got %d", c.CanvasSize))
	}
	if c.MaxBrushSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_BRUSH_SIZE: must be positive, got %v", c.MaxBrushSize))
	}
	if c.DrawResetInterval <= 0 {
		errs = append(errs, fmt.Errorf("DRAW_RESET_INTERVAL: must be positive, got %v", c.DrawResetInterval))
	}
	if c.AutosaveInterval < 0 {
		errs = append(errs, fmt.Errorf("AUTOSAVE_INTERVAL: must not be negative, got %v", c.AutosaveInterval))
	}
	if c.PersistTimeout <= 0 {
		errs = append(errs, fmt.Errorf("PERSIST_TIMEOUT: must be positive, got %v", c.PersistTimeout))
	}
	if c.CursorRate < 0 {
		errs = append(errs, fmt.Errorf("CURSOR_RATE: must not be negative, got %v", c.CursorRate))
	}
	if strings.TrimSpace(c.CanvasStore) == "" {
		errs = append(errs, errors.New("CANVAS_STORE: required"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT: want text or json, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
