// Package config loads and watches the service configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "PICAM_"

// Config is the service configuration. Environment variables override
// file values; see applyEnv for the supported keys.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Camera    CameraConfig    `yaml:"camera"`
	Streaming StreamingConfig `yaml:"streaming"`
	Bus       BusConfig       `yaml:"bus"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`

	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey protects the /v1 routes. Empty disables authentication.
	APIKey      string   `yaml:"api_key"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// CameraConfig holds the startup capture settings.
type CameraConfig struct {
	Width     int     `yaml:"width"`
	Height    int     `yaml:"height"`
	Framerate float64 `yaml:"framerate"`
	FOVMode   string  `yaml:"fov_mode"`
}

// StreamingConfig holds the RTSP publish settings.
type StreamingConfig struct {
	// Destination is the MediaMTX path the pipeline publishes to.
	Destination string `yaml:"destination"`
	// AutoStart begins streaming at boot.
	AutoStart bool `yaml:"auto_start"`
	// CaptureBinary and FFmpegBinary override PATH lookup.
	CaptureBinary string `yaml:"capture_binary"`
	FFmpegBinary  string `yaml:"ffmpeg_binary"`
}

// BusConfig holds the embedded NATS settings.
type BusConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the sqlite settings.
type DatabaseConfig struct {
	DataDir string `yaml:"data_dir"`
	// RetentionDays bounds the event audit trail.
	RetentionDays int `yaml:"retention_days"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// BufferSize is the number of entries kept for the logs endpoint.
	BufferSize int `yaml:"buffer_size"`
}

// Load reads the config file, applies environment overrides and defaults,
// and validates the result. A missing file is not an error; the defaults
// plus environment are used.
func Load(path string) (*Config, error) {
	cfg := &Config{path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err):
		// Defaults and environment only.
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values from PICAM_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPrefix + "HOST"); v != "" {
		c.Server.Host = v
	}
	if v := envInt("PORT"); v != 0 {
		c.Server.Port = v
	}
	if v := os.Getenv(EnvPrefix + "API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := envInt("WIDTH"); v != 0 {
		c.Camera.Width = v
	}
	if v := envInt("HEIGHT"); v != 0 {
		c.Camera.Height = v
	}
	if v := envFloat("FRAMERATE"); v != 0 {
		c.Camera.Framerate = v
	}
	if v := os.Getenv(EnvPrefix + "FOV_MODE"); v != "" {
		c.Camera.FOVMode = v
	}
	if v := os.Getenv(EnvPrefix + "RTSP_DESTINATION"); v != "" {
		c.Streaming.Destination = v
	}
	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		c.Database.DataDir = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(EnvPrefix + key))
	if err != nil {
		return 0
	}
	return v
}

func envFloat(key string) float64 {
	v, err := strconv.ParseFloat(os.Getenv(EnvPrefix+key), 64)
	if err != nil {
		return 0
	}
	return v
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Camera.Width == 0 {
		c.Camera.Width = 1920
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 1080
	}
	if c.Camera.Framerate == 0 {
		c.Camera.Framerate = 30
	}
	if c.Camera.FOVMode == "" {
		c.Camera.FOVMode = "scale"
	}
	if c.Streaming.Destination == "" {
		c.Streaming.Destination = "rtsp://127.0.0.1:8554/cam"
	}
	if c.Bus.Host == "" {
		c.Bus.Host = "127.0.0.1"
	}
	if c.Bus.Port == 0 {
		c.Bus.Port = 12101
	}
	if c.Database.DataDir == "" {
		c.Database.DataDir = "/var/lib/picamd"
	}
	if c.Database.RetentionDays == 0 {
		c.Database.RetentionDays = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.BufferSize == 0 {
		c.Logging.BufferSize = 1000
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Camera.Width < 64 || c.Camera.Height < 64 {
		return fmt.Errorf("camera resolution %dx%d below minimum 64x64", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.Framerate <= 0 {
		return fmt.Errorf("camera.framerate must be positive")
	}
	switch c.Camera.FOVMode {
	case "scale", "crop":
	default:
		return fmt.Errorf("camera.fov_mode %q must be scale or crop", c.Camera.FOVMode)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q unknown", c.Logging.Level)
	}
	if c.Logging.BufferSize < 1 {
		return fmt.Errorf("logging.buffer_size %d must be positive", c.Logging.BufferSize)
	}
	return nil
}

// LogLevel converts the configured level to a slog level.
func (c *Config) LogLevel() slog.Level {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Watch reloads the file on changes and notifies OnChange callbacks.
// Only non-reconfiguring settings take effect on reload; camera changes go
// through the API.
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond) // debounce
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.path)
}

// OnChange registers a callback run after each successful reload.
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

func (c *Config) reload() {
	newCfg, err := Load(c.path)
	if err != nil {
		slog.Error("config reload failed", "error", err)
		return
	}

	c.mu.Lock()
	c.Server = newCfg.Server
	c.Camera = newCfg.Camera
	c.Streaming = newCfg.Streaming
	c.Bus = newCfg.Bus
	c.Database = newCfg.Database
	c.Logging = newCfg.Logging
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("configuration reloaded")
	for _, fn := range watchers {
		fn(c)
	}
}
