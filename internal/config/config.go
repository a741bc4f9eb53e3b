package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the correlator engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Engine     EngineConfig     `yaml:"engine"`
	Rules      RulesConfig      `yaml:"rules"`
	SLA        SLAConfig        `yaml:"sla"`
	FaultStore FaultStoreConfig `yaml:"faultStore"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP intake/query listener and metrics endpoint.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// EngineConfig sizes the correlation shard pool.
type EngineConfig struct {
	Shards     int `yaml:"shards"`
	QueueDepth int `yaml:"queueDepth"`
	LinkDepth  int `yaml:"linkDepth"`
}

// RulesConfig controls correlation rule-pack loading and hot reload.
type RulesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// SLAConfig controls SLA instance loading and the detector cadence.
type SLAConfig struct {
	InstancesPath string        `yaml:"instancesPath"`
	TickInterval  time.Duration `yaml:"tickInterval"`
}

// FaultStoreConfig configures the persistence collaborator.
type FaultStoreConfig struct {
	BaseURL         string        `yaml:"baseURL"`
	AlarmsPath      string        `yaml:"alarmsPath"`
	GroupsPath      string        `yaml:"groupsPath"`
	SLAPath         string        `yaml:"slaPath"`
	BreachesPath    string        `yaml:"breachesPath"`
	MaintenancePath string        `yaml:"maintenancePath"`
	Timeout         time.Duration `yaml:"timeout"`
}

// DispatchConfig configures outbound escalation delivery.
type DispatchConfig struct {
	QueueDepth int           `yaml:"queueDepth"`
	Workers    int           `yaml:"workers"`
	MaxRetries uint64        `yaml:"maxRetries"`
	DedupeTTL  time.Duration `yaml:"dedupeTTL"`

	Ticketing     CollaboratorConfig `yaml:"ticketing"`
	Notifications CollaboratorConfig `yaml:"notifications"`
}

// CollaboratorConfig points at one outbound collaborator endpoint.
type CollaboratorConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls the Valkey-backed escalation dedupe cache.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("FAULTLINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			Shards:     8,
			QueueDepth: 256,
			LinkDepth:  64,
		},
		Rules: RulesConfig{
			Path:  "configs/rules/default.yaml",
			Watch: true,
		},
		SLA: SLAConfig{
			InstancesPath: "configs/sla/instances.yaml",
			TickInterval:  30 * time.Second,
		},
		FaultStore: FaultStoreConfig{
			AlarmsPath:      "/api/v1/alarms",
			GroupsPath:      "/api/v1/groups",
			SLAPath:         "/api/v1/sla/instances",
			BreachesPath:    "/api/v1/sla/breaches",
			MaintenancePath: "/api/v1/maintenance",
			Timeout:         5 * time.Second,
		},
		Dispatch: DispatchConfig{
			QueueDepth: 512,
			Workers:    4,
			MaxRetries: 4,
			DedupeTTL:  24 * time.Hour,
			Ticketing: CollaboratorConfig{
				Path:    "/api/v1/tickets",
				Timeout: 10 * time.Second,
			},
			Notifications: CollaboratorConfig{
				Path:    "/api/v1/notify",
				Timeout: 10 * time.Second,
			},
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FAULTLINE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("FAULTLINE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("FAULTLINE_ENGINE_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.Shards = n
		}
	}
	if v := os.Getenv("FAULTLINE_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("FAULTLINE_RULES_WATCH"); v != "" {
		cfg.Rules.Watch = isTrue(v)
	}
	if v := os.Getenv("FAULTLINE_SLA_INSTANCES_PATH"); v != "" {
		cfg.SLA.InstancesPath = v
	}
	if v := os.Getenv("FAULTLINE_SLA_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SLA.TickInterval = d
		}
	}
	if v := os.Getenv("FAULTLINE_FAULT_STORE_URL"); v != "" {
		cfg.FaultStore.BaseURL = v
	}
	if v := os.Getenv("FAULTLINE_TICKETING_URL"); v != "" {
		cfg.Dispatch.Ticketing.BaseURL = v
	}
	if v := os.Getenv("FAULTLINE_NOTIFICATIONS_URL"); v != "" {
		cfg.Dispatch.Notifications.BaseURL = v
	}
	if v := os.Getenv("FAULTLINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FAULTLINE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("FAULTLINE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = isTrue(v)
	}
	if v := os.Getenv("FAULTLINE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("FAULTLINE_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("FAULTLINE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("FAULTLINE_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("FAULTLINE_CACHE_TLS"); isTrue(v) {
		cfg.Cache.TLS = true
	}
}

func isTrue(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
