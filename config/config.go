// Copyright 2026 goryl Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
	"github.com/spf13/viper"
	"github.com/zaillisy/goryl/storage"
)

// Config is the configuration of goryl.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// DatabaseConfig is the configuration of the item and event store.
type DatabaseConfig struct {
	DataStore   string        `mapstructure:"data_store" validate:"required,data_store"`
	TablePrefix string        `mapstructure:"table_prefix"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// ServerConfig is the configuration of the REST server.
type ServerConfig struct {
	Host               string        `mapstructure:"host" validate:"required"`
	Port               int           `mapstructure:"port" validate:"gte=1,lte=65535"`
	APIKey             string        `mapstructure:"api_key"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
	SideChannelWorkers int           `mapstructure:"side_channel_workers" validate:"gt=0"`
}

// RecommendConfig holds the tunable parameters of aggregation, scoring and retrieval.
type RecommendConfig struct {
	InteractionWeights  map[string]float64 `mapstructure:"interaction_weights" validate:"dive,gt=0"`
	AffinityWeight      float64            `mapstructure:"affinity_weight" validate:"gte=0,lte=1"`
	PopularityWeight    float64            `mapstructure:"popularity_weight" validate:"gte=0,lte=1"`
	RecencyWeight       float64            `mapstructure:"recency_weight" validate:"gte=0,lte=1"`
	RecencyCutoff       time.Duration      `mapstructure:"recency_cutoff" validate:"gt=0"`
	DecayHalfLife       time.Duration      `mapstructure:"decay_half_life" validate:"gt=0"`
	RecentItemsCapacity int                `mapstructure:"recent_items_capacity" validate:"gt=0"`
	CandidateSize       int                `mapstructure:"candidate_size" validate:"gt=0"`
	SignalConcurrency   int                `mapstructure:"signal_concurrency" validate:"gt=0"`
	MaxLimit            int                `mapstructure:"max_limit" validate:"gt=0"`
	DefaultLimit        int                `mapstructure:"default_limit" validate:"gt=0,ltefield=MaxLimit"`
	AggregateTTL        time.Duration      `mapstructure:"aggregate_ttl" validate:"gte=0"`
	ItemCacheTTL        time.Duration      `mapstructure:"item_cache_ttl" validate:"gte=0"`
	CandidateFilter     string             `mapstructure:"candidate_filter"`
}

// CacheConfig is the configuration of the response coordinator.
type CacheConfig struct {
	RecommendTTL  time.Duration `mapstructure:"recommend_ttl" validate:"gte=0"`
	SimilarTTL    time.Duration `mapstructure:"similar_ttl" validate:"gte=0"`
	SweepPeriod   time.Duration `mapstructure:"sweep_period" validate:"gte=0"`
	SweepPrefixes []string      `mapstructure:"sweep_prefixes"`
}

// InteractionTypes lists the recognized interaction types in canonical order.
var InteractionTypes = []string{"view", "like", "save", "share", "purchase", "comment"}

var defaultInteractionWeights = map[string]float64{
	"view":     1,
	"like":     3,
	"save":     4,
	"share":    5,
	"purchase": 10,
	"comment":  3,
}

func GetDefaultConfig() *Config {
	weights := make(map[string]float64, len(defaultInteractionWeights))
	for k, v := range defaultInteractionWeights {
		weights[k] = v
	}
	return &Config{
		Database: DatabaseConfig{
			Timeout: 5 * time.Second,
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8087,
			ShutdownTimeout:    10 * time.Second,
			SideChannelWorkers: 16,
		},
		Recommend: RecommendConfig{
			InteractionWeights:  weights,
			AffinityWeight:      0.5,
			PopularityWeight:    0.3,
			RecencyWeight:       0.2,
			RecencyCutoff:       90 * 24 * time.Hour,
			DecayHalfLife:       7 * 24 * time.Hour,
			RecentItemsCapacity: 50,
			CandidateSize:       500,
			SignalConcurrency:   16,
			MaxLimit:            100,
			DefaultLimit:        20,
			AggregateTTL:        time.Minute,
			ItemCacheTTL:        5 * time.Minute,
		},
		Cache: CacheConfig{
			RecommendTTL:  30 * time.Second,
			SimilarTTL:    5 * time.Minute,
			SweepPeriod:   5 * time.Minute,
			SweepPrefixes: []string{"recommend/"},
		},
		Tracing: TracingConfig{
			Exporter:          "otlp",
			CollectorEndpoint: "localhost:4317",
			Sampler:           "always",
			Ratio:             1,
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [database]
	viper.SetDefault("database.timeout", defaultConfig.Database.Timeout)
	// [server]
	viper.SetDefault("server.host", defaultConfig.Server.Host)
	viper.SetDefault("server.port", defaultConfig.Server.Port)
	viper.SetDefault("server.shutdown_timeout", defaultConfig.Server.ShutdownTimeout)
	viper.SetDefault("server.side_channel_workers", defaultConfig.Server.SideChannelWorkers)
	// [recommend]
	for name, weight := range defaultConfig.Recommend.InteractionWeights {
		viper.SetDefault("recommend.interaction_weights."+name, weight)
	}
	viper.SetDefault("recommend.affinity_weight", defaultConfig.Recommend.AffinityWeight)
	viper.SetDefault("recommend.popularity_weight", defaultConfig.Recommend.PopularityWeight)
	viper.SetDefault("recommend.recency_weight", defaultConfig.Recommend.RecencyWeight)
	viper.SetDefault("recommend.recency_cutoff", defaultConfig.Recommend.RecencyCutoff)
	viper.SetDefault("recommend.decay_half_life", defaultConfig.Recommend.DecayHalfLife)
	viper.SetDefault("recommend.recent_items_capacity", defaultConfig.Recommend.RecentItemsCapacity)
	viper.SetDefault("recommend.candidate_size", defaultConfig.Recommend.CandidateSize)
	viper.SetDefault("recommend.signal_concurrency", defaultConfig.Recommend.SignalConcurrency)
	viper.SetDefault("recommend.max_limit", defaultConfig.Recommend.MaxLimit)
	viper.SetDefault("recommend.default_limit", defaultConfig.Recommend.DefaultLimit)
	viper.SetDefault("recommend.aggregate_ttl", defaultConfig.Recommend.AggregateTTL)
	viper.SetDefault("recommend.item_cache_ttl", defaultConfig.Recommend.ItemCacheTTL)
	// [cache]
	viper.SetDefault("cache.recommend_ttl", defaultConfig.Cache.RecommendTTL)
	viper.SetDefault("cache.similar_ttl", defaultConfig.Cache.SimilarTTL)
	viper.SetDefault("cache.sweep_period", defaultConfig.Cache.SweepPeriod)
	viper.SetDefault("cache.sweep_prefixes", defaultConfig.Cache.SweepPrefixes)
	// [tracing]
	viper.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	viper.SetDefault("tracing.collector_endpoint", defaultConfig.Tracing.CollectorEndpoint)
	viper.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	viper.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

type configBinding struct {
	key string
	env string
}

func bindEnv() error {
	bindings := []configBinding{
		{"database.data_store", "GORYL_DATA_STORE"},
		{"database.table_prefix", "GORYL_TABLE_PREFIX"},
		{"server.host", "GORYL_SERVER_HOST"},
		{"server.port", "GORYL_SERVER_PORT"},
		{"server.api_key", "GORYL_SERVER_API_KEY"},
		{"tracing.enable_tracing", "GORYL_ENABLE_TRACING"},
		{"tracing.collector_endpoint", "GORYL_COLLECTOR_ENDPOINT"},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.key, binding.env); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// LoadConfig loads configuration from a TOML file. Keys missing from the file
// fall back to defaults and environment variables override the file.
func LoadConfig(path string) (*Config, error) {
	setDefault()
	if err := bindEnv(); err != nil {
		return nil, errors.Trace(err)
	}
	viper.SetConfigType("toml")
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, errors.Annotatef(err, "failed to read config %s", path)
	}
	var conf Config
	if err := viper.Unmarshal(&conf); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

var validate = validator.New()

func init() {
	if err := validate.RegisterValidation("data_store", func(fl validator.FieldLevel) bool {
		dsn := fl.Field().String()
		for _, prefix := range storage.DataStorePrefixes {
			if strings.HasPrefix(dsn, prefix) {
				return true
			}
		}
		return false
	}); err != nil {
		panic(err)
	}
}

// Validate checks struct constraints plus the cross-field rules: scoring
// weights must sum to 1 and interaction weights may only name known types.
func (config *Config) Validate() error {
	if err := validate.Struct(config); err != nil {
		return errors.NewNotValid(err, "invalid config")
	}
	sum := config.Recommend.AffinityWeight + config.Recommend.PopularityWeight + config.Recommend.RecencyWeight
	if math.Abs(sum-1) > 1e-6 {
		return errors.WithType(errors.Errorf("scoring weights sum to %v instead of 1", sum), errors.NotValid)
	}
	var unknown []string
	for name := range config.Recommend.InteractionWeights {
		if _, ok := defaultInteractionWeights[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errors.WithType(errors.Errorf("unknown interaction types [%s] in recommend.interaction_weights",
			strings.Join(unknown, ",")), errors.NotValid)
	}
	return nil
}
