package player

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"wsplay/pkg/wsmedia"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// DefaultConfigPath is used when no --config flag is given.
var DefaultConfigPath = filepath.Join("configs", "default.yaml")

type Config struct {
	Stream   StreamConfig   `yaml:"stream" toml:"stream"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	EventLog EventLogConfig `yaml:"event_log" toml:"event_log"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
	Output   OutputConfig   `yaml:"output" toml:"output"`
}

type StreamConfig struct {
	URL          string            `yaml:"url" toml:"url"`
	InitID       uint32            `yaml:"init_id" toml:"init_id"`
	SessionKey   string            `yaml:"session_key" toml:"session_key"`
	UserName     string            `yaml:"user_name" toml:"user_name"`
	Channel      string            `yaml:"channel" toml:"channel"`
	OS           string            `yaml:"os" toml:"os"`
	Browser      string            `yaml:"browser" toml:"browser"`
	ScreenWidth  int               `yaml:"screen_width" toml:"screen_width"`
	ScreenHeight int               `yaml:"screen_height" toml:"screen_height"`
	Headers      map[string]string `yaml:"headers" toml:"headers"`
}

type SessionConfig struct {
	PipeCapacity       int `yaml:"pipe_capacity" toml:"pipe_capacity"`
	ChunkDurationMs    int `yaml:"chunk_duration_ms" toml:"chunk_duration_ms"`
	ReportIntervalMs   int `yaml:"report_interval_ms" toml:"report_interval_ms"`
	RebufferIntervalMs int `yaml:"rebuffer_interval_ms" toml:"rebuffer_interval_ms"`
	BufferThresholdS   int `yaml:"buffer_threshold_s" toml:"buffer_threshold_s"`
	OpenTimeoutMs      int `yaml:"open_timeout_ms" toml:"open_timeout_ms"`
	DialTimeoutMs      int `yaml:"dial_timeout_ms" toml:"dial_timeout_ms"`
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

type EventLogConfig struct {
	Path string `yaml:"path" toml:"path"` // empty disables the event log
}

type MetricsConfig struct {
	Addr string `yaml:"addr" toml:"addr"` // empty disables the /metrics endpoint
}

type OutputConfig struct {
	Path string `yaml:"path" toml:"path"` // empty discards media
}

// DefaultConfig returns the values used for every field a file leaves out.
func DefaultConfig() *Config {
	return &Config{
		Stream: StreamConfig{
			InitID:       298665506,
			UserName:     "wsplay",
			OS:           "linux",
			Browser:      "wsplay",
			ScreenWidth:  1440,
			ScreenHeight: 900,
		},
		Session: SessionConfig{
			ChunkDurationMs:    int(wsmedia.DefaultChunkDuration / time.Millisecond),
			ReportIntervalMs:   int(wsmedia.DefaultReportInterval / time.Millisecond),
			RebufferIntervalMs: int(wsmedia.DefaultRebufferInterval / time.Millisecond),
			BufferThresholdS:   int(wsmedia.DefaultBufferThreshold / time.Second),
			OpenTimeoutMs:      int(wsmedia.DefaultOpenTimeout / time.Millisecond),
			DialTimeoutMs:      int(wsmedia.DefaultDialTimeout / time.Millisecond),
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig loads configuration from a yaml or toml file and validates it
func LoadConfig(path string) (*Config, error) {
	config, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// ReadConfig parses a config file over DefaultConfig without validating it,
// so that command line flags can still fill in missing values.
func ReadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	// 파일 존재 확인
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	config := DefaultConfig()

	// 확장자로 포맷 결정
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// 스트림 URL 검증
	if c.Stream.URL == "" {
		return fmt.Errorf("stream url is required")
	}
	u, err := url.Parse(c.Stream.URL)
	if err != nil {
		return fmt.Errorf("invalid stream url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid stream url scheme: %s (must be ws or wss)", u.Scheme)
	}

	if c.Stream.ScreenWidth < 0 || c.Stream.ScreenHeight < 0 {
		return fmt.Errorf("invalid screen size: %dx%d", c.Stream.ScreenWidth, c.Stream.ScreenHeight)
	}

	// 로그 레벨 검증
	if !slices.Contains(logLevels, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("invalid log level: %s (must be one of: %v)", c.Logging.Level, logLevels)
	}

	// 세션 설정 검증
	s := c.Session
	if s.PipeCapacity < 0 {
		return fmt.Errorf("invalid pipe_capacity: %d (must be non-negative)", s.PipeCapacity)
	}
	for name, v := range map[string]int{
		"chunk_duration_ms":    s.ChunkDurationMs,
		"report_interval_ms":   s.ReportIntervalMs,
		"rebuffer_interval_ms": s.RebufferIntervalMs,
		"buffer_threshold_s":   s.BufferThresholdS,
		"open_timeout_ms":      s.OpenTimeoutMs,
		"dial_timeout_ms":      s.DialTimeoutMs,
	} {
		if v <= 0 {
			return fmt.Errorf("invalid %s: %d (must be positive)", name, v)
		}
	}

	return nil
}

// GetSlogLevel returns the configured level, falling back to info.
func (c *Config) GetSlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// SourceConfig converts the file settings into a wsmedia.Config.
func (c *Config) SourceConfig() wsmedia.Config {
	var headers http.Header
	if len(c.Stream.Headers) > 0 {
		headers = http.Header{}
		for k, v := range c.Stream.Headers {
			headers.Set(k, v)
		}
	}

	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }

	return wsmedia.Config{
		Params: wsmedia.SessionParams{
			InitID:       c.Stream.InitID,
			SessionKey:   c.Stream.SessionKey,
			UserName:     c.Stream.UserName,
			Channel:      c.Stream.Channel,
			OS:           c.Stream.OS,
			Browser:      c.Stream.Browser,
			ScreenWidth:  c.Stream.ScreenWidth,
			ScreenHeight: c.Stream.ScreenHeight,
		},
		Headers:          headers,
		PipeCapacity:     c.Session.PipeCapacity,
		ChunkDuration:    ms(c.Session.ChunkDurationMs),
		ReportInterval:   ms(c.Session.ReportIntervalMs),
		RebufferInterval: ms(c.Session.RebufferIntervalMs),
		BufferThreshold:  time.Duration(c.Session.BufferThresholdS) * time.Second,
		OpenTimeout:      ms(c.Session.OpenTimeoutMs),
		DialTimeout:      ms(c.Session.DialTimeoutMs),
	}
}
