// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2018 Datadog, Inc.

// Package config loads and validates the agent configuration
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/DataDog/viper"
	"github.com/cihub/seelog"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to the environment variable of every setting
const EnvPrefix = "CONNBEAT"

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is a concurrency safe wrapper around viper
type Config struct {
	sync.RWMutex
	v         *viper.Viper
	envPrefix string
	replacer  *strings.Replacer
}

// NewConfig returns a new Config object.
func NewConfig(name string, envPrefix string, envKeyReplacer *strings.Replacer) *Config {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.SetTypeByDefaultValue(true)
	return &Config{v: v, envPrefix: envPrefix, replacer: envKeyReplacer}
}

// envName derives the environment variable bound to key. The "connbeat."
// section is implied by the prefix: connbeat.poll_interval is read from
// CONNBEAT_POLL_INTERVAL.
func (c *Config) envName(key string) string {
	key = strings.TrimPrefix(key, "connbeat.")
	name := strings.ToUpper(c.envPrefix + "_" + key)
	if c.replacer != nil {
		name = c.replacer.Replace(name)
	}
	return name
}

// BindEnvAndSetDefault sets the default value of key and binds it to its
// environment variables. Without envvars the name is derived from the key,
// otherwise the envvars are looked up in order.
func (c *Config) BindEnvAndSetDefault(key string, val interface{}, envvars ...string) {
	c.Lock()
	defer c.Unlock()

	if len(envvars) == 0 {
		envvars = []string{c.envName(key)}
	}
	c.v.SetDefault(key, val)
	_ = c.v.BindEnv(append([]string{key}, envvars...)...) //nolint:errcheck
}

// Set overrides a setting, used by command line flags and tests
func (c *Config) Set(key string, value interface{}) {
	c.Lock()
	defer c.Unlock()
	c.v.Set(key, value)
}

// ReadInConfig reads the YAML file at path
func (c *Config) ReadInConfig(path string) error {
	c.Lock()
	defer c.Unlock()
	c.v.SetConfigFile(path)
	return c.v.ReadInConfig()
}

// GetString wraps Viper for concurrent access
func (c *Config) GetString(key string) string {
	c.RLock()
	defer c.RUnlock()
	return c.v.GetString(key)
}

// GetBool wraps Viper for concurrent access
func (c *Config) GetBool(key string) bool {
	c.RLock()
	defer c.RUnlock()
	return c.v.GetBool(key)
}

// GetInt wraps Viper for concurrent access
func (c *Config) GetInt(key string) int {
	c.RLock()
	defer c.RUnlock()
	return c.v.GetInt(key)
}

// GetDuration wraps Viper for concurrent access
func (c *Config) GetDuration(key string) time.Duration {
	c.RLock()
	defer c.RUnlock()
	return c.v.GetDuration(key)
}

// GetStringSlice wraps Viper for concurrent access. A comma separated
// string, as set from the environment, is split.
func (c *Config) GetStringSlice(key string) []string {
	c.RLock()
	defer c.RUnlock()

	values := c.v.GetStringSlice(key)
	if len(values) == 1 && strings.Contains(values[0], ",") {
		values = strings.Split(values[0], ",")
	}
	out := make([]string, 0, len(values))
	for _, s := range values {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// initConfig registers every setting and its default
func initConfig(config *Config) {
	config.BindEnvAndSetDefault("log_level", "info")
	config.BindEnvAndSetDefault("log_file", "")

	config.BindEnvAndSetDefault("connbeat.poll_interval", 2*time.Second)
	config.BindEnvAndSetDefault("connbeat.resolve_timeout", 500*time.Millisecond)
	config.BindEnvAndSetDefault("connbeat.shutdown_grace_period", 5*time.Second)
	config.BindEnvAndSetDefault("connbeat.enable_docker", false)
	config.BindEnvAndSetDefault("connbeat.docker_environment", []string{})
	config.BindEnvAndSetDefault("connbeat.docker_host_ips", []string{})
	config.BindEnvAndSetDefault("connbeat.docker_cache_duration", 10*time.Second)
	config.BindEnvAndSetDefault("connbeat.enable_local_connections", true)
	config.BindEnvAndSetDefault("connbeat.emit_closed", false)
	config.BindEnvAndSetDefault("connbeat.expose_process_info", true)
	config.BindEnvAndSetDefault("connbeat.expose_cmdline", true)
	config.BindEnvAndSetDefault("connbeat.republish_interval", time.Duration(0))
	config.BindEnvAndSetDefault("connbeat.enable_tcp_diag", false)
	config.BindEnvAndSetDefault("connbeat.process_cache_size", 4096)
	config.BindEnvAndSetDefault("connbeat.proc_root", "", "CONNBEAT_PROC_ROOT", "HOST_PROC")
	config.BindEnvAndSetDefault("connbeat.tcp_table", "", "CONNBEAT_TCP_TABLE", "PROC_NET_TCP")
	config.BindEnvAndSetDefault("connbeat.tcp6_table", "", "CONNBEAT_TCP6_TABLE", "PROC_NET_TCP6")

	config.BindEnvAndSetDefault("output.url", "")
	config.BindEnvAndSetDefault("output.health_url", "")
	config.BindEnvAndSetDefault("output.workers", 2)
	config.BindEnvAndSetDefault("output.queue_size", 1024)
	config.BindEnvAndSetDefault("output.batch_size", 100)
	config.BindEnvAndSetDefault("output.timeout", 5*time.Second)

	config.BindEnvAndSetDefault("peers.url", "")
	config.BindEnvAndSetDefault("peers.sync_interval", 30*time.Second)

	config.BindEnvAndSetDefault("telemetry.enabled", false)
	config.BindEnvAndSetDefault("telemetry.address", "localhost:5051")
}

// AgentConfig is the typed view of the settings, read once at startup
type AgentConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	Connbeat  ConnbeatConfig  `yaml:"connbeat"`
	Output    OutputConfig    `yaml:"output"`
	Peers     PeersConfig     `yaml:"peers"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ConnbeatConfig holds the collection settings
type ConnbeatConfig struct {
	PollInterval           time.Duration `yaml:"poll_interval"`
	ResolveTimeout         time.Duration `yaml:"resolve_timeout"`
	ShutdownGracePeriod    time.Duration `yaml:"shutdown_grace_period"`
	EnableDocker           bool          `yaml:"enable_docker"`
	DockerEnvironment      []string      `yaml:"docker_environment"`
	DockerHostIPs          []string      `yaml:"docker_host_ips"`
	DockerCacheDuration    time.Duration `yaml:"docker_cache_duration"`
	EnableLocalConnections bool          `yaml:"enable_local_connections"`
	EmitClosed             bool          `yaml:"emit_closed"`
	ExposeProcessInfo      bool          `yaml:"expose_process_info"`
	ExposeCmdline          bool          `yaml:"expose_cmdline"`
	RepublishInterval      time.Duration `yaml:"republish_interval"`
	EnableTCPDiag          bool          `yaml:"enable_tcp_diag"`
	ProcessCacheSize       int           `yaml:"process_cache_size"`
	ProcRoot               string        `yaml:"proc_root"`
	TCPTable               string        `yaml:"tcp_table"`
	TCP6Table              string        `yaml:"tcp6_table"`
}

// OutputConfig tells where events go. An empty URL prints them on stdout.
type OutputConfig struct {
	URL       string        `yaml:"url"`
	HealthURL string        `yaml:"health_url"`
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// PeersConfig points at a collector sharing the identities of other hosts
type PeersConfig struct {
	URL          string        `yaml:"url"`
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// TelemetryConfig controls the /metrics endpoint
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// New returns a Config holding the defaults and bound to the environment
func New() *Config {
	cfg := NewConfig("connbeat", EnvPrefix, strings.NewReplacer(".", "_"))
	initConfig(cfg)
	return cfg
}

// Load reads the optional YAML file at path on top of the defaults and the
// environment, then validates the result
func Load(path string) (*AgentConfig, error) {
	cfg := New()
	if path != "" {
		if err := cfg.ReadInConfig(path); err != nil {
			return nil, fmt.Errorf("unable to load config file %s: %w", path, err)
		}
	}
	return FromConfig(cfg)
}

// FromConfig builds and validates the typed settings
func FromConfig(cfg *Config) (*AgentConfig, error) {
	ac := &AgentConfig{
		LogLevel: cfg.GetString("log_level"),
		LogFile:  cfg.GetString("log_file"),
		Connbeat: ConnbeatConfig{
			PollInterval:           cfg.GetDuration("connbeat.poll_interval"),
			ResolveTimeout:         cfg.GetDuration("connbeat.resolve_timeout"),
			ShutdownGracePeriod:    cfg.GetDuration("connbeat.shutdown_grace_period"),
			EnableDocker:           cfg.GetBool("connbeat.enable_docker"),
			DockerEnvironment:      cfg.GetStringSlice("connbeat.docker_environment"),
			DockerHostIPs:          cfg.GetStringSlice("connbeat.docker_host_ips"),
			DockerCacheDuration:    cfg.GetDuration("connbeat.docker_cache_duration"),
			EnableLocalConnections: cfg.GetBool("connbeat.enable_local_connections"),
			EmitClosed:             cfg.GetBool("connbeat.emit_closed"),
			ExposeProcessInfo:      cfg.GetBool("connbeat.expose_process_info"),
			ExposeCmdline:          cfg.GetBool("connbeat.expose_cmdline"),
			RepublishInterval:      cfg.GetDuration("connbeat.republish_interval"),
			EnableTCPDiag:          cfg.GetBool("connbeat.enable_tcp_diag"),
			ProcessCacheSize:       cfg.GetInt("connbeat.process_cache_size"),
			ProcRoot:               cfg.GetString("connbeat.proc_root"),
			TCPTable:               cfg.GetString("connbeat.tcp_table"),
			TCP6Table:              cfg.GetString("connbeat.tcp6_table"),
		},
		Output: OutputConfig{
			URL:       cfg.GetString("output.url"),
			HealthURL: cfg.GetString("output.health_url"),
			Workers:   cfg.GetInt("output.workers"),
			QueueSize: cfg.GetInt("output.queue_size"),
			BatchSize: cfg.GetInt("output.batch_size"),
			Timeout:   cfg.GetDuration("output.timeout"),
		},
		Peers: PeersConfig{
			URL:          cfg.GetString("peers.url"),
			SyncInterval: cfg.GetDuration("peers.sync_interval"),
		},
		Telemetry: TelemetryConfig{
			Enabled: cfg.GetBool("telemetry.enabled"),
			Address: cfg.GetString("telemetry.address"),
		},
	}
	if err := ac.Validate(); err != nil {
		return nil, err
	}
	return ac, nil
}

// Validate reports every invalid setting at once
func (c *AgentConfig) Validate() error {
	var result *multierror.Error

	if _, ok := seelog.LogLevelFromString(strings.ToLower(c.LogLevel)); !ok {
		result = multierror.Append(result, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}

	cb := c.Connbeat
	if cb.PollInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("connbeat.poll_interval: must be positive, got %s", cb.PollInterval))
	}
	if cb.ResolveTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("connbeat.resolve_timeout: must be positive, got %s", cb.ResolveTimeout))
	} else if cb.PollInterval > 0 && cb.ResolveTimeout >= cb.PollInterval {
		result = multierror.Append(result, fmt.Errorf("connbeat.resolve_timeout: %s must be shorter than the poll interval %s", cb.ResolveTimeout, cb.PollInterval))
	}
	if cb.ShutdownGracePeriod < 0 {
		result = multierror.Append(result, fmt.Errorf("connbeat.shutdown_grace_period: must not be negative"))
	}
	if cb.RepublishInterval < 0 {
		result = multierror.Append(result, fmt.Errorf("connbeat.republish_interval: must not be negative"))
	}
	if cb.ProcessCacheSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("connbeat.process_cache_size: must be positive"))
	}
	for _, p := range []setting{
		{"connbeat.proc_root", cb.ProcRoot},
		{"connbeat.tcp_table", cb.TCPTable},
		{"connbeat.tcp6_table", cb.TCP6Table},
	} {
		if p.value == "" {
			continue
		}
		if _, err := os.Stat(p.value); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", p.key, err))
		}
	}

	for _, u := range []setting{
		{"output.url", c.Output.URL},
		{"output.health_url", c.Output.HealthURL},
		{"peers.url", c.Peers.URL},
	} {
		if u.value == "" {
			continue
		}
		if err := validateURL(u.value); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", u.key, err))
		}
	}
	if c.Output.Workers <= 0 {
		result = multierror.Append(result, fmt.Errorf("output.workers: must be positive"))
	}
	if c.Output.QueueSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("output.queue_size: must be positive"))
	}
	if c.Output.BatchSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("output.batch_size: must be positive"))
	}
	if c.Output.Timeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("output.timeout: must be positive"))
	}
	if c.Peers.URL != "" && c.Peers.SyncInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("peers.sync_interval: must be positive"))
	}
	if c.Telemetry.Enabled && c.Telemetry.Address == "" {
		result = multierror.Append(result, fmt.Errorf("telemetry.address: required when telemetry is enabled"))
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	return nil
}

// setting is a config key and its raw value, checked in declaration order
type setting struct {
	key   string
	value string
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// YAML renders the effective settings
func (c *AgentConfig) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
