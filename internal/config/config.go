// Package config owns the gateway's routing configuration: typed parsing, environment overlay,
// validation, and a hot-reloadable atomic snapshot.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Config is the immutable, versioned configuration snapshot consulted by every stage of the
// gateway. A new Config is constructed on load or reload; existing values are never mutated.
type Config struct {
	Server                ServerConfig         `yaml:"server"`
	Security              SecurityConfig       `yaml:"security"`
	Observability         ObservabilityConfig  `yaml:"observability"`
	Caching               CachingConfig        `yaml:"caching"`
	Retry                 RetryConfig          `yaml:"retry"`
	CircuitBreaker        CircuitBreakerConfig `yaml:"circuit_breaker"`
	LoadBalancingStrategy string               `yaml:"load_balancing_strategy"`
	Policies              []Policy             `yaml:"policies"`
}

type ServerConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	ConnectionPoolSize int           `yaml:"connection_pool_size"`
}

type SecurityConfig struct {
	APIKeys   []string         `yaml:"api_keys"`
	JWTSecret string           `yaml:"jwt_secret"`
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
	PerIP             bool    `yaml:"per_ip"`
}

type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	JSONLogging bool   `yaml:"json_logging"`
}

type CachingConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	MaxSize int           `yaml:"max_size"`
}

type RetryConfig struct {
	MaxRetries       int `yaml:"max_retries"`
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
}

type CircuitBreakerConfig struct {
	Enabled          bool `yaml:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold"`
	ResetTimeoutSecs int  `yaml:"reset_timeout_secs"`
}

type Policy struct {
	Name          string `yaml:"name"`
	ClassifierURL string `yaml:"classifier_url"`
	LLMs          []LLM  `yaml:"llms"`
}

type LLM struct {
	Name    string `yaml:"name"`
	APIBase string `yaml:"api_base"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// defaults grounded on the original router's config.rs.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8084,
			RequestTimeout:     60 * time.Second,
			ConnectionPoolSize: 100,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			JSONLogging: false,
		},
		Caching: CachingConfig{
			Enabled: true,
			TTL:     300 * time.Second,
			MaxSize: 1000,
		},
		Retry: RetryConfig{
			MaxRetries:       2,
			InitialBackoffMs: 100,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			ResetTimeoutSecs: 30,
		},
		LoadBalancingStrategy: "round_robin",
	}
}

// Load reads and parses path, applies environment overrides and placeholder resolution, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yamlv3.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	warnings := cfg.applyEnvOverrides()
	warnings = cfg.resolvePlaceholders(warnings)
	for _, w := range warnings {
		logrus.Warn(w)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides shadows YAML values with LLM_ROUTER__<SECTION>__<FIELD> environment
// variables. Returns a slice of human-readable warnings (e.g. an unparsable port value), which
// Load logs through logrus's standard logger, since config has no logger of its own.
func (c *Config) applyEnvOverrides() []string {
	var warnings []string

	get := func(section, field string) (string, bool) {
		key := "LLM_ROUTER__" + strings.ToUpper(section) + "__" + strings.ToUpper(field)
		v, ok := os.LookupEnv(key)
		return v, ok
	}

	if v, ok := get("server", "host"); ok {
		c.Server.Host = v
	}
	if v, ok := get("server", "port"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		} else {
			warnings = append(warnings, fmt.Sprintf("invalid LLM_ROUTER__SERVER__PORT value %q", v))
		}
	}
	if v, ok := get("server", "request_timeout"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.Server.RequestTimeout = d
		} else {
			warnings = append(warnings, fmt.Sprintf("invalid LLM_ROUTER__SERVER__REQUEST_TIMEOUT value %q", v))
		}
	}
	if v, ok := get("server", "connection_pool_size"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.ConnectionPoolSize = n
		}
	}
	if v, ok := get("security", "api_keys"); ok {
		c.Security.APIKeys = splitCSV(v)
	}
	if v, ok := get("security", "jwt_secret"); ok {
		c.Security.JWTSecret = v
	}
	if v, ok := get("observability", "log_level"); ok {
		c.Observability.LogLevel = v
	}
	if v, ok := get("observability", "json_logging"); ok {
		c.Observability.JSONLogging = v == "true" || v == "1"
	}
	if v, ok := get("caching", "enabled"); ok {
		c.Caching.Enabled = v == "true" || v == "1"
	}
	if v, ok := get("caching", "ttl"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.Caching.TTL = d
		}
	}
	if v, ok := get("caching", "max_size"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Caching.MaxSize = n
		}
	}
	if v, ok := get("retry", "max_retries"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.MaxRetries = n
		}
	}
	if v, ok := get("retry", "initial_backoff_ms"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.InitialBackoffMs = n
		}
	}
	if v, ok := get("circuit_breaker", "enabled"); ok {
		c.CircuitBreaker.Enabled = v == "true" || v == "1"
	}
	if v, ok := get("circuit_breaker", "failure_threshold"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.CircuitBreaker.FailureThreshold = n
		}
	}
	if v, ok := get("circuit_breaker", "reset_timeout_secs"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.CircuitBreaker.ResetTimeoutSecs = n
		}
	}
	if v, ok := get("", "load_balancing_strategy"); ok {
		c.LoadBalancingStrategy = v
	}

	return warnings
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolvePlaceholders resolves ${NAME} placeholders inside every llm.api_key against the
// environment. Unresolved placeholders are left as-is and appended to warnings.
func (c *Config) resolvePlaceholders(warnings []string) []string {
	for pi := range c.Policies {
		for li := range c.Policies[pi].LLMs {
			llm := &c.Policies[pi].LLMs[li]
			if strings.HasPrefix(llm.APIKey, "${") && strings.HasSuffix(llm.APIKey, "}") {
				name := llm.APIKey[2 : len(llm.APIKey)-1]
				if v, ok := os.LookupEnv(name); ok {
					llm.APIKey = v
				} else {
					warnings = append(warnings, fmt.Sprintf("unresolved placeholder %s in llm %q api_key", llm.APIKey, llm.Name))
				}
			}
		}
	}
	return warnings
}

// Validate checks the invariants described in the configuration data model.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	switch c.LoadBalancingStrategy {
	case "round_robin", "random", "first":
	default:
		return fmt.Errorf("invalid load_balancing_strategy: %s", c.LoadBalancingStrategy)
	}
	if len(c.Policies) == 0 {
		return fmt.Errorf("at least one policy must be configured")
	}
	for _, p := range c.Policies {
		if p.Name == "" {
			return fmt.Errorf("policy name must not be empty")
		}
		if len(p.LLMs) == 0 {
			return fmt.Errorf("policy %q must have at least one llm", p.Name)
		}
		for _, l := range p.LLMs {
			if l.Name == "" {
				return fmt.Errorf("policy %q: llm name must not be empty", p.Name)
			}
			if l.APIBase == "" {
				return fmt.Errorf("policy %q: llm %q api_base must not be empty", p.Name, l.Name)
			}
			if l.Model == "" {
				return fmt.Errorf("policy %q: llm %q model must not be empty", p.Name, l.Name)
			}
			if l.APIKey == "" {
				return fmt.Errorf("policy %q: llm %q api_key must not be empty", p.Name, l.Name)
			}
		}
	}
	return nil
}

// FindPolicy returns the policy with the given name, if any.
func (c *Config) FindPolicy(name string) (*Policy, bool) {
	for i := range c.Policies {
		if c.Policies[i].Name == name {
			return &c.Policies[i], true
		}
	}
	return nil, false
}

// Instances returns every LLM instance in p sharing the logical name.
func (p *Policy) Instances(name string) []LLM {
	var out []LLM
	for _, l := range p.LLMs {
		if l.Name == name {
			out = append(out, l)
		}
	}
	return out
}

// Sanitized returns a YAML-marshaled copy of c with every api_key replaced by "[REDACTED]".
// Marshaled with yaml.v2, the reference router's secondary YAML dependency, to keep both YAML
// libraries genuinely exercised.
func (c *Config) Sanitized() ([]byte, error) {
	clone := *c
	clone.Policies = make([]Policy, len(c.Policies))
	for i, p := range c.Policies {
		np := p
		np.LLMs = make([]LLM, len(p.LLMs))
		for j, l := range p.LLMs {
			nl := l
			if nl.APIKey != "" {
				nl.APIKey = "[REDACTED]"
			}
			np.LLMs[j] = nl
		}
		clone.Policies[i] = np
	}
	if clone.Security.JWTSecret != "" {
		clone.Security.JWTSecret = "[REDACTED]"
	}
	redactedKeys := make([]string, len(clone.Security.APIKeys))
	for i := range redactedKeys {
		redactedKeys[i] = "[REDACTED]"
	}
	clone.Security.APIKeys = redactedKeys

	return yaml.Marshal(&clone)
}
