// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Clamp bounds for numeric knobs. Values outside the range are pulled back
// in rather than rejected so a bad environment cannot stall or overload a run.
const (
	minTimeoutSeconds = 5
	maxTimeoutSeconds = 20

	minHTTPConcurrency = 1
	maxHTTPConcurrency = 128

	minBrowserConcurrency = 1
	maxBrowserConcurrency = 4

	minShardSize = 50
	maxShardSize = 5000
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Env       string          `mapstructure:"env"`
	DataDir   string          `mapstructure:"data_dir"`
	URLsPath  string          `mapstructure:"urls_path"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Shard     ShardConfig     `mapstructure:"shard"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Proxy     ProxyFileConfig `mapstructure:"proxy"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// HTTPConfig configures the fast-path HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// BrowserConfig configures the headless browser path.
type BrowserConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	Headless          bool `mapstructure:"headless"`
	MaxConcurrency    int  `mapstructure:"max_concurrency"`
	NavTimeoutSeconds int  `mapstructure:"nav_timeout_seconds"`
}

// ShardConfig governs URL list partitioning.
type ShardConfig struct {
	Size int `mapstructure:"size"`
}

// SchedulerConfig tunes admission control and circuit-breaking.
type SchedulerConfig struct {
	PerDomainDefault int            `mapstructure:"per_domain_default"`
	DomainOverrides  map[string]int `mapstructure:"domain_overrides"`
	JitterMinMs      int            `mapstructure:"jitter_min_ms"`
	JitterMaxMs      int            `mapstructure:"jitter_max_ms"`
	MaxErrors        int            `mapstructure:"max_errors_for_browser"`
	MaxCaptchas      int            `mapstructure:"max_captchas_for_browser"`
}

// FetchConfig holds knobs shared by both fetch strategies.
type FetchConfig struct {
	UserAgent       string   `mapstructure:"user_agent"`
	MaxContentBytes int64    `mapstructure:"max_content_bytes"`
	SuccessTarget   int      `mapstructure:"success_target"`
	BlockedDomains  []string `mapstructure:"blocked_domains"`
}

// ProxyFileConfig points at an optional proxy descriptor on disk.
type ProxyFileConfig struct {
	ConfigPath string `mapstructure:"config_path"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. Environment variables use the
// HYBRIDFETCH_ prefix with dots replaced by underscores.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HYBRIDFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.clamp()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "local")
	v.SetDefault("data_dir", "data")
	v.SetDefault("urls_path", "data/urls.txt")
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.max_concurrency", 32)
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.max_concurrency", 2)
	v.SetDefault("browser.nav_timeout_seconds", 20)
	v.SetDefault("shard.size", 500)
	v.SetDefault("scheduler.per_domain_default", 4)
	v.SetDefault("scheduler.domain_overrides", map[string]int{
		"www.google.com": 1,
		"google.com":     1,
		"www.bing.com":   1,
		"bing.com":       1,
	})
	v.SetDefault("scheduler.jitter_min_ms", 0)
	v.SetDefault("scheduler.jitter_max_ms", 0)
	v.SetDefault("scheduler.max_errors_for_browser", 5)
	v.SetDefault("scheduler.max_captchas_for_browser", 5)
	v.SetDefault("fetch.user_agent", "hybridfetch/1.0")
	v.SetDefault("fetch.max_content_bytes", int64(5*1024*1024))
	v.SetDefault("fetch.success_target", 0)
	v.SetDefault("logging.development", false)
}

// clamp pulls numeric knobs into their safe ranges.
func (c *Config) clamp() {
	c.HTTP.TimeoutSeconds = clampInt(c.HTTP.TimeoutSeconds, minTimeoutSeconds, maxTimeoutSeconds)
	c.HTTP.MaxConcurrency = clampInt(c.HTTP.MaxConcurrency, minHTTPConcurrency, maxHTTPConcurrency)
	c.Browser.MaxConcurrency = clampInt(c.Browser.MaxConcurrency, minBrowserConcurrency, maxBrowserConcurrency)
	c.Browser.NavTimeoutSeconds = clampInt(c.Browser.NavTimeoutSeconds, minTimeoutSeconds, 60)
	c.Shard.Size = clampInt(c.Shard.Size, minShardSize, maxShardSize)
}

// Validate enforces values the clamps cannot repair.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Fetch.MaxContentBytes <= 0 {
		return fmt.Errorf("fetch.max_content_bytes must be > 0")
	}
	if c.Scheduler.PerDomainDefault <= 0 {
		return fmt.Errorf("scheduler.per_domain_default must be > 0")
	}
	if c.Fetch.SuccessTarget < 0 {
		return fmt.Errorf("fetch.success_target must be >= 0")
	}
	return nil
}

// HTTPTimeout converts the clamped timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavTimeout converts the browser navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}

func clampInt(v, lower, upper int) int {
	if v < lower {
		return lower
	}
	if v > upper {
		return upper
	}
	return v
}

// ProxyConfig describes one upstream proxy endpoint.
type ProxyConfig struct {
	Host       string
	HTTPPort   int
	HTTPSPort  int
	SOCKS5Port int
	Username   string
	Password   string
}

// proxyFile mirrors the JSON layout of the proxy descriptor file.
type proxyFile struct {
	Proxy struct {
		Hostname string `json:"hostname"`
		Port     struct {
			HTTP   int `json:"http"`
			HTTPS  int `json:"https"`
			SOCKS5 int `json:"socks5"`
		} `json:"port"`
		Username string `json:"username"`
		Password string `json:"password"`
	} `json:"proxy"`
}

// LoadProxy reads a proxy descriptor from a JSON file. An empty path yields
// a nil proxy, meaning direct connections.
func LoadProxy(path string) (*ProxyConfig, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proxy config: %w", err)
	}
	var pf proxyFile
	if err := json.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse proxy config: %w", err)
	}
	// The hostname field may carry a stray port; keep only the host.
	host, _, _ := strings.Cut(pf.Proxy.Hostname, ":")
	if host == "" {
		return nil, fmt.Errorf("proxy config: hostname must be set")
	}
	return &ProxyConfig{
		Host:       host,
		HTTPPort:   pf.Proxy.Port.HTTP,
		HTTPSPort:  pf.Proxy.Port.HTTPS,
		SOCKS5Port: pf.Proxy.Port.SOCKS5,
		Username:   pf.Proxy.Username,
		Password:   pf.Proxy.Password,
	}, nil
}

// URL renders the proxy as a URL for transport configuration, preferring
// SOCKS5 when available.
func (p *ProxyConfig) URL() *url.URL {
	if p == nil {
		return nil
	}
	u := &url.URL{Scheme: "socks5", Host: fmt.Sprintf("%s:%d", p.Host, p.SOCKS5Port)}
	if p.SOCKS5Port <= 0 {
		u.Scheme = "http"
		u.Host = fmt.Sprintf("%s:%d", p.Host, p.HTTPPort)
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}
