package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAPIURL           = "http://localhost:8000/api/v1"
	defaultWSURL            = "ws://localhost:8000/ws"
	defaultAvatarURL        = "http://localhost:8000/static/avatars/default.png"
	defaultFallbackURL      = "https://via.placeholder.com/200?text=Avatar"
	defaultHTTPTimeout      = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultMockAvatarDelay  = 1500 * time.Millisecond
)

// Config 聚合客户端与本地模拟后端的配置项。
type Config struct {
	Client ClientConfig
	Mock   MockConfig
	Log    LogConfig
}

// ClientConfig 描述同步引擎访问后端所需的配置。
type ClientConfig struct {
	APIURL              string
	WSURL               string
	DefaultAvatarURL    string
	FallbackAvatarURL   string
	HTTPTimeout         time.Duration
	HandshakeTimeout    time.Duration
	PingInterval        time.Duration
	ReselectAfterDelete bool
}

// MockConfig 描述本地模拟后端（开发与集成测试用）。
type MockConfig struct {
	Addr        string
	PublicURL   string
	AvatarDelay time.Duration
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level string
}

// fileConfig mirrors Config for the optional YAML overlay. Pointers mark
// which keys were present in the file.
type fileConfig struct {
	Client struct {
		APIURL              *string `yaml:"api_url"`
		WSURL               *string `yaml:"ws_url"`
		DefaultAvatarURL    *string `yaml:"default_avatar_url"`
		FallbackAvatarURL   *string `yaml:"fallback_avatar_url"`
		HTTPTimeoutSeconds  *int    `yaml:"http_timeout_seconds"`
		HandshakeSeconds    *int    `yaml:"ws_handshake_timeout_seconds"`
		PingIntervalSeconds *int    `yaml:"ws_ping_interval_seconds"`
		ReselectAfterDelete *bool   `yaml:"reselect_after_delete"`
	} `yaml:"client"`
	Mock struct {
		Port          *string `yaml:"port"`
		PublicURL     *string `yaml:"public_url"`
		AvatarDelayMS *int    `yaml:"avatar_delay_ms"`
	} `yaml:"mock"`
	Log struct {
		Level *string `yaml:"level"`
	} `yaml:"log"`
}

// Load 从可选的 YAML 文件与环境变量加载配置，环境变量优先。
func Load() (*Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("CHAT_CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	return &Config{
		Client: ClientConfig{
			APIURL:            defaultAPIURL,
			WSURL:             defaultWSURL,
			DefaultAvatarURL:  defaultAvatarURL,
			FallbackAvatarURL: defaultFallbackURL,
			HTTPTimeout:       defaultHTTPTimeout,
			HandshakeTimeout:  defaultHandshakeTimeout,
			PingInterval:      defaultPingInterval,
		},
		Mock: MockConfig{
			Addr:        ":8000",
			PublicURL:   "http://localhost:8000",
			AvatarDelay: defaultMockAvatarDelay,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Client.APIURL == "" {
		return fmt.Errorf("CHAT_API_URL cannot be empty")
	}
	if c.Client.WSURL == "" {
		return fmt.Errorf("CHAT_WS_URL cannot be empty")
	}
	if !strings.HasPrefix(c.Client.WSURL, "ws://") && !strings.HasPrefix(c.Client.WSURL, "wss://") {
		return fmt.Errorf("CHAT_WS_URL must use ws:// or wss://, got %q", c.Client.WSURL)
	}
	if c.Client.HTTPTimeout <= 0 {
		return fmt.Errorf("CHAT_HTTP_TIMEOUT must be > 0")
	}
	if c.Client.HandshakeTimeout <= 0 {
		return fmt.Errorf("CHAT_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if c.Mock.AvatarDelay < 0 {
		return fmt.Errorf("MOCK_AVATAR_DELAY_MS cannot be negative")
	}
	return nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Client.APIURL, fc.Client.APIURL)
	setString(&c.Client.WSURL, fc.Client.WSURL)
	setString(&c.Client.DefaultAvatarURL, fc.Client.DefaultAvatarURL)
	setString(&c.Client.FallbackAvatarURL, fc.Client.FallbackAvatarURL)
	setSeconds(&c.Client.HTTPTimeout, fc.Client.HTTPTimeoutSeconds)
	setSeconds(&c.Client.HandshakeTimeout, fc.Client.HandshakeSeconds)
	setSeconds(&c.Client.PingInterval, fc.Client.PingIntervalSeconds)
	if fc.Client.ReselectAfterDelete != nil {
		c.Client.ReselectAfterDelete = *fc.Client.ReselectAfterDelete
	}

	if fc.Mock.Port != nil {
		addr, err := parseListenAddr(*fc.Mock.Port)
		if err != nil {
			return err
		}
		c.Mock.Addr = addr
	}
	setString(&c.Mock.PublicURL, fc.Mock.PublicURL)
	if fc.Mock.AvatarDelayMS != nil {
		c.Mock.AvatarDelay = time.Duration(*fc.Mock.AvatarDelayMS) * time.Millisecond
	}
	setString(&c.Log.Level, fc.Log.Level)
	return nil
}

func (c *Config) applyEnv() error {
	c.Client.APIURL = strings.TrimRight(getEnvOrDefault("CHAT_API_URL", c.Client.APIURL), "/")
	c.Client.WSURL = strings.TrimRight(getEnvOrDefault("CHAT_WS_URL", c.Client.WSURL), "/")
	c.Client.DefaultAvatarURL = getEnvOrDefault("CHAT_DEFAULT_AVATAR_URL", c.Client.DefaultAvatarURL)
	c.Client.FallbackAvatarURL = getEnvOrDefault("CHAT_FALLBACK_AVATAR_URL", c.Client.FallbackAvatarURL)

	for key, target := range map[string]*time.Duration{
		"CHAT_HTTP_TIMEOUT":         &c.Client.HTTPTimeout,
		"CHAT_WS_HANDSHAKE_TIMEOUT": &c.Client.HandshakeTimeout,
		"CHAT_WS_PING_INTERVAL":     &c.Client.PingInterval,
	} {
		seconds, err := parseOptionalIntEnv(key)
		if err != nil {
			return err
		}
		setSeconds(target, seconds)
	}

	reselect, err := parseBoolEnv("CHAT_RESELECT_AFTER_DELETE", c.Client.ReselectAfterDelete)
	if err != nil {
		return err
	}
	c.Client.ReselectAfterDelete = reselect

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		addr, err := parseListenAddr(port)
		if err != nil {
			return err
		}
		c.Mock.Addr = addr
	}
	c.Mock.PublicURL = strings.TrimRight(getEnvOrDefault("MOCK_PUBLIC_URL", c.Mock.PublicURL), "/")

	delay, err := parseOptionalIntEnv("MOCK_AVATAR_DELAY_MS")
	if err != nil {
		return err
	}
	if delay != nil {
		c.Mock.AvatarDelay = time.Duration(*delay) * time.Millisecond
	}

	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	return nil
}

// parseListenAddr 解析服务器监听地址。
func parseListenAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		return port, nil
	}
	if port == "" || strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	return ":" + port, nil
}

func setString(dst *string, src *string) {
	if src != nil && strings.TrimSpace(*src) != "" {
		*dst = strings.TrimSpace(*src)
	}
}

func setSeconds(dst *time.Duration, seconds *int) {
	if seconds != nil {
		*dst = time.Duration(*seconds) * time.Second
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
