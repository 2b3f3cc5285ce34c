package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// 环境变量覆盖（逗号分隔）
const (
	EnvAssets     = "NUMISMATIC_ASSETS"
	EnvCurrencies = "NUMISMATIC_CURRENCIES"
)

const (
	DefaultAsset       = "BTC"
	DefaultCurrency    = "USD"
	DefaultTimeoutSec  = 15
	DefaultGraceMs     = 1000
	DefaultBusSize     = 1024
	DefaultDialRetries = 3
	DefaultOutput      = "-"
	DefaultBatchSize   = 1
	DefaultMetricsAddr = ":9108"
)

type Listen struct {
	Exchange   string   `toml:"exchange"`
	Assets     []string `toml:"assets"`
	Currencies []string `toml:"currencies"`
	Channel    string   `toml:"channel"`
}

// Pairs 资产 × 计价货币
func (l Listen) Pairs() []string {
	out := make([]string, 0, len(l.Assets)*len(l.Currencies))
	for _, a := range l.Assets {
		for _, c := range l.Currencies {
			out = append(out, a+c)
		}
	}
	return out
}

type Exchange struct {
	WsURL        string `toml:"ws_url"`
	APIKeyID     string `toml:"api_key_id"`
	APIKeySecret string `toml:"api_key_secret"`
	DialRetries  int    `toml:"dial_retries"`
}

type Config struct {
	App struct {
		LogLevel   string `toml:"log_level"`
		TimeoutSec *int   `toml:"timeout_sec"` // nil → default, 0 → unbounded
		GraceMs    int    `toml:"grace_ms"`
		BusSize    int    `toml:"bus_size"`
	} `toml:"app"`

	Listen []Listen `toml:"listen"`

	Collect struct {
		Type      string   `toml:"type"`
		Filters   []string `toml:"filters"`
		Format    string   `toml:"format"`
		Output    string   `toml:"output"`
		RawOutput string   `toml:"raw_output"`
		BatchSize int      `toml:"batch_size"` // raw output frames per flush
	} `toml:"collect"`

	Exchange map[string]Exchange `toml:"exchange"`

	Sinks struct {
		SQLite struct {
			Enabled bool   `toml:"enabled"`
			Path    string `toml:"path"`
		} `toml:"sqlite"`

		Postgres struct {
			Enabled bool   `toml:"enabled"`
			DSN     string `toml:"dsn"`
		} `toml:"postgres"`

		Redis struct {
			Enabled bool   `toml:"enabled"`
			Addr    string `toml:"addr"`
			DB      int    `toml:"db"`
			Stream  string `toml:"stream"`
			Channel string `toml:"channel"` // empty disables PUBLISH
		} `toml:"redis"`

		NATS struct {
			Enabled bool   `toml:"enabled"`
			URL     string `toml:"url"`
			Subject string `toml:"subject"`
		} `toml:"nats"`

		Influx struct {
			Enabled bool   `toml:"enabled"`
			URL     string `toml:"url"`
			Token   string `toml:"token"`
			Org     string `toml:"org"`
			Bucket  string `toml:"bucket"`
		} `toml:"influx"`
	} `toml:"sinks"`

	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`
}

// Load 读取 toml 配置；path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	return finish(&cfg)
}

// Parse decodes an in-memory document, same rules as Load.
func Parse(doc string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(doc, &cfg); err != nil {
		return nil, err
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AddListen 追加一个订阅组（命令行使用）。未给出的资产/货币按环境变量、默认值补齐
func (c *Config) AddListen(l Listen) error {
	if len(l.Assets) == 0 {
		l.Assets = splitList(os.Getenv(EnvAssets))
	}
	if len(l.Currencies) == 0 {
		l.Currencies = splitList(os.Getenv(EnvCurrencies))
	}
	c.Listen = append(c.Listen, l)
	applyDefaults(c)
	return validate(c)
}

// Timeout 运行预算；0 表示不限时
func (c *Config) Timeout() time.Duration {
	if c.App.TimeoutSec == nil {
		return DefaultTimeoutSec * time.Second
	}
	return time.Duration(*c.App.TimeoutSec) * time.Second
}

func (c *Config) SetTimeout(d time.Duration) {
	sec := int(d / time.Second)
	c.App.TimeoutSec = &sec
}

func (c *Config) Grace() time.Duration {
	return time.Duration(c.App.GraceMs) * time.Millisecond
}

// ExchangeConfig returns the [exchange.<name>] block with defaults filled.
func (c *Config) ExchangeConfig(name string) Exchange {
	ex := c.Exchange[name]
	if ex.DialRetries <= 0 {
		ex.DialRetries = DefaultDialRetries
	}
	return ex
}

func applyEnv(cfg *Config) {
	assets := splitList(os.Getenv(EnvAssets))
	currencies := splitList(os.Getenv(EnvCurrencies))
	if len(assets) == 0 && len(currencies) == 0 {
		return
	}
	for i := range cfg.Listen {
		if len(assets) > 0 {
			cfg.Listen[i].Assets = assets
		}
		if len(currencies) > 0 {
			cfg.Listen[i].Currencies = currencies
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.GraceMs <= 0 {
		cfg.App.GraceMs = DefaultGraceMs
	}
	if cfg.App.BusSize <= 0 {
		cfg.App.BusSize = DefaultBusSize
	}
	if strings.TrimSpace(cfg.Collect.Output) == "" {
		cfg.Collect.Output = DefaultOutput
	}
	if cfg.Collect.BatchSize <= 0 {
		cfg.Collect.BatchSize = DefaultBatchSize
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = DefaultMetricsAddr
	}
	if cfg.Sinks.Redis.Stream == "" {
		cfg.Sinks.Redis.Stream = "coin:events"
	}
	if cfg.Sinks.NATS.Subject == "" {
		cfg.Sinks.NATS.Subject = "coin.events"
	}
	for i := range cfg.Listen {
		l := &cfg.Listen[i]
		l.Exchange = strings.ToLower(strings.TrimSpace(l.Exchange))
		if len(l.Assets) == 0 {
			l.Assets = []string{DefaultAsset}
		}
		if len(l.Currencies) == 0 {
			l.Currencies = []string{DefaultCurrency}
		}
		l.Assets = normalizeSymbols(l.Assets)
		l.Currencies = normalizeSymbols(l.Currencies)
	}
}

func validate(cfg *Config) error {
	if cfg.App.TimeoutSec != nil && *cfg.App.TimeoutSec < 0 {
		return errors.New("app.timeout_sec must be >= 0")
	}
	for i, l := range cfg.Listen {
		if l.Exchange == "" {
			return fmt.Errorf("listen[%d].exchange is empty", i)
		}
		if len(l.Assets) == 0 || len(l.Currencies) == 0 {
			return fmt.Errorf("listen[%d] has no pairs", i)
		}
	}

	s := cfg.Sinks
	if s.SQLite.Enabled && strings.TrimSpace(s.SQLite.Path) == "" {
		return errors.New("sinks.sqlite.path empty but enabled")
	}
	if s.Postgres.Enabled && strings.TrimSpace(s.Postgres.DSN) == "" {
		return errors.New("sinks.postgres.dsn empty but enabled")
	}
	if s.Redis.Enabled && strings.TrimSpace(s.Redis.Addr) == "" {
		return errors.New("sinks.redis.addr empty but enabled")
	}
	if s.NATS.Enabled && strings.TrimSpace(s.NATS.URL) == "" {
		return errors.New("sinks.nats.url empty but enabled")
	}
	if s.Influx.Enabled && (strings.TrimSpace(s.Influx.URL) == "" || s.Influx.Bucket == "") {
		return errors.New("sinks.influx.url/bucket empty but enabled")
	}
	return nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return normalizeSymbols(strings.Split(s, ","))
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
