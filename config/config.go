// Package config loads service and client settings from YAML with
// environment overrides.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
	Source SourceConfig `yaml:"source"`
	Chart  ChartConfig  `yaml:"chart"`
	Redis  RedisConfig  `yaml:"redis"`
	Client ClientConfig `yaml:"client"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"console"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" env:"SERVER_LISTEN_ADDR" env-default:":50051"`
}

type SourceConfig struct {
	RestURL      string        `yaml:"rest_url" env:"SOURCE_REST_URL" env-default:"http://localhost:8080"`
	FeedURL      string        `yaml:"feed_url" env:"SOURCE_FEED_URL"`
	Timeout      time.Duration `yaml:"timeout" env:"SOURCE_TIMEOUT" env-default:"10s"`
	HistoryLimit int           `yaml:"history_limit" env:"SOURCE_HISTORY_LIMIT" env-default:"1440"`
	PingInterval time.Duration `yaml:"ping_interval" env:"SOURCE_PING_INTERVAL" env-default:"20s"`
}

type ChartConfig struct {
	LargeGap     time.Duration `yaml:"large_gap" env:"CHART_LARGE_GAP" env-default:"48h"`
	QuietPeriod  time.Duration `yaml:"quiet_period" env:"CHART_QUIET_PERIOD" env-default:"3s"`
	PollInterval time.Duration `yaml:"poll_interval" env:"CHART_POLL_INTERVAL" env-default:"10s"`
	MaxCandles   int           `yaml:"max_candles" env:"CHART_MAX_CANDLES" env-default:"1500"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"5s"`
}

type ClientConfig struct {
	ServerAddr string `yaml:"server_addr" env:"SERVER_ADDR" env-default:"localhost:50051"`
	Symbol     string `yaml:"symbol" env:"SYMBOL" env-default:"BTC-PERP"`
	Resolution string `yaml:"resolution" env:"RESOLUTION" env-default:"1m"`
	NKline     int    `yaml:"n_kline" env:"N_KLINE" env-default:"48"`
}

// Load reads path, then applies environment overrides. An empty path reads
// the environment only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
		return &cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return &cfg, nil
}

// MustLoad resolves the path from -config or CONFIG_PATH and panics on
// failure.
func MustLoad() *Config {
	cfg, err := Load(fetchConfigPath())
	if err != nil {
		panic("cannot read config: " + err.Error())
	}
	return cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "config path")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
