// Package config loads the pipeline's configuration with Viper,
// following the generic MustLoad[T] pattern used by the teacher's
// services/marketfeeds/common/cfg package: defaults are set first,
// then a config file and environment variables are layered on top.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration struct; every field corresponds
// to a "Configuration options" entry in spec.md §6.
type Config struct {
	Network  NetworkConfig  `mapstructure:"network"`
	Security SecurityConfig `mapstructure:"security"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Feeds    FeedsConfig    `mapstructure:"feeds"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type NetworkConfig struct {
	PubSubPort    int `mapstructure:"pubsub_port"`
	CtrlHTTPPort  int `mapstructure:"ctrl_http_port"`
	WSMetricsPort int `mapstructure:"ws_metrics_port"`
}

type SecurityConfig struct {
	Token string `mapstructure:"token"`
}

type StorageConfig struct {
	Dir           string `mapstructure:"dir"`
	RollBytes     int64  `mapstructure:"roll_bytes"`
	IndexInterval int    `mapstructure:"index_interval"`
}

type PipelineConfig struct {
	PublisherLanes   int `mapstructure:"publisher_lanes"`
	NormalizerThreads int `mapstructure:"normalizer_threads"`
	RecorderFsyncMs  int `mapstructure:"recorder_fsync_ms"`
}

type FeedsConfig struct {
	DefaultSymbols  []string `mapstructure:"default_symbols"`
	MockEnabled     bool     `mapstructure:"mock_enabled"`
	BinanceEnabled  bool     `mapstructure:"binance_enabled"`
	KafkaEnabled    bool     `mapstructure:"kafka_enabled"`
	KafkaBrokers    []string `mapstructure:"kafka_brokers"`
	KafkaTopic      string   `mapstructure:"kafka_topic"`
}

// MetricsConfig supplements spec.md's distillation with the
// histogram bucket boundaries carried by
// _examples/original_source/src/common/config.hpp's MetricsConfig
// but dropped from spec.md's enumerated options.
type MetricsConfig struct {
	HistogramBucketsNs []uint64 `mapstructure:"histogram_buckets_ns"`
	RedisAuxEnabled    bool     `mapstructure:"redis_aux_enabled"`
	RedisAddr          string   `mapstructure:"redis_addr"`
	RedisChannel       string   `mapstructure:"redis_channel"`
	KafkaAuxEnabled    bool     `mapstructure:"kafka_aux_enabled"`
	KafkaAuxBrokers    []string `mapstructure:"kafka_aux_brokers"`
	KafkaAuxTopic      string   `mapstructure:"kafka_aux_topic"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network.pubsub_port", 9100)
	v.SetDefault("network.ctrl_http_port", 8080)
	v.SetDefault("network.ws_metrics_port", 8081)

	v.SetDefault("security.token", "devtoken")

	v.SetDefault("storage.dir", "./data")
	v.SetDefault("storage.roll_bytes", int64(2*1024*1024*1024))
	v.SetDefault("storage.index_interval", 10000)

	v.SetDefault("pipeline.publisher_lanes", 8)
	v.SetDefault("pipeline.normalizer_threads", 4)
	v.SetDefault("pipeline.recorder_fsync_ms", 50)

	v.SetDefault("feeds.default_symbols", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	v.SetDefault("feeds.mock_enabled", true)
	v.SetDefault("feeds.binance_enabled", false)
	v.SetDefault("feeds.kafka_enabled", false)

	v.SetDefault("metrics.histogram_buckets_ns", []uint64{
		100_000, 500_000, 1_000_000, 2_000_000, 5_000_000, 10_000_000, 50_000_000,
	})
	v.SetDefault("metrics.redis_aux_enabled", false)
	v.SetDefault("metrics.redis_addr", "localhost:6379")
	v.SetDefault("metrics.redis_channel", "marketspine.frames")
	v.SetDefault("metrics.kafka_aux_enabled", false)
	v.SetDefault("metrics.kafka_aux_topic", "marketspine.frames")
}

// MustLoad reads configPath (if it exists) plus MARKETSPINE_*
// environment overrides into a new T, panicking on decode failure.
// Mirrors services/marketfeeds/common/cfg.MustLoad[T] in the
// teacher, generalized from a single concrete struct to any target
// type so callers (mainly tests) can load partial configs too.
func MustLoad[T any](configPath string) T {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MARKETSPINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				panic(fmt.Errorf("config: reading %s: %w", configPath, err))
			}
		}
	}

	var out T
	if err := v.Unmarshal(&out); err != nil {
		panic(fmt.Errorf("config: unmarshal: %w", err))
	}
	return out
}

// Load is the non-panicking counterpart used by the control glue's
// config-reload path (internal/ctrlglue's POST /config/reload, backed
// by cmd/marketspine's feedManager.ReloadConfig), which wants to
// report a bad config file back over HTTP instead of crashing the
// process.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MARKETSPINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("config: reading %s: %w", configPath, err)
			}
		}
	}

	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return out, nil
}
