package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Redis      RedisConfig      `json:"redis"`
	Postgres   PostgresConfig   `json:"postgres"`
	Admission  AdmissionConfig  `json:"admission"`
	Suspicious SuspiciousConfig `json:"suspicious"`
	Services   []ServiceConfig  `json:"services"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

// Limits for the dual-tier sliding window. The IP ceiling is generous on
// purpose: corporate NAT and public Wi-Fi put many legitimate users behind
// one address, while an authenticated individual gets the stricter ceiling.
type AdmissionConfig struct {
	IPLimit        int  `json:"ip_limit"`
	UserLimit      int  `json:"user_limit"`
	WindowSeconds  int  `json:"window_seconds"`
	StoreTimeoutMs int  `json:"store_timeout_ms"`
	FailOpen       bool `json:"fail_open"`
}

type SuspiciousConfig struct {
	WindowSeconds               int `json:"window_seconds"`
	CredentialStuffingThreshold int `json:"credential_stuffing_threshold"`
	EndpointScanningThreshold   int `json:"endpoint_scanning_threshold"`
	AbuseThreshold              int `json:"abuse_threshold"`
}

type ServiceConfig struct {
	Path                 string   `json:"path"`
	Targets              []string `json:"targets"`
	LoadBalancerStrategy string   `json:"load_balancer_strategy"`
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

func (a AdmissionConfig) Window() time.Duration {
	return time.Duration(a.WindowSeconds) * time.Second
}

func (a AdmissionConfig) StoreTimeout() time.Duration {
	return time.Duration(a.StoreTimeoutMs) * time.Millisecond
}

func (s SuspiciousConfig) Window() time.Duration {
	return time.Duration(s.WindowSeconds) * time.Second
}

// Loads configuration from a JSON file, then applies environment overrides
func Load(path string) (*Config, error) {
	cfg := defaults()

	file, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			Environment: "development",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
		},
		Admission: AdmissionConfig{
			IPLimit:        200,
			UserLimit:      60,
			WindowSeconds:  60,
			StoreTimeoutMs: 50,
			FailOpen:       true,
		},
		Suspicious: SuspiciousConfig{
			WindowSeconds:               300,
			CredentialStuffingThreshold: 5,
			EndpointScanningThreshold:   10,
			AbuseThreshold:              20,
		},
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Server.Environment = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		c.Redis.Port = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("IP_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Admission.IPLimit = n
		}
	}
	if v := os.Getenv("USER_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Admission.UserLimit = n
		}
	}
	if v := os.Getenv("WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Admission.WindowSeconds = n
		}
	}
	if v := os.Getenv("STORE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Admission.StoreTimeoutMs = n
		}
	}
	if v := os.Getenv("FAIL_OPEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Admission.FailOpen = b
		}
	}
}

// A misconfigured limiter silently disables protection, so the service
// refuses to start instead of running with a broken policy.
func (c *Config) Validate() error {
	if c.Admission.IPLimit <= 0 {
		return fmt.Errorf("ip_limit must be positive, got %d", c.Admission.IPLimit)
	}
	if c.Admission.UserLimit <= 0 {
		return fmt.Errorf("user_limit must be positive, got %d", c.Admission.UserLimit)
	}
	if c.Admission.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive, got %d", c.Admission.WindowSeconds)
	}
	if c.Admission.StoreTimeoutMs <= 0 {
		return fmt.Errorf("store_timeout_ms must be positive, got %d", c.Admission.StoreTimeoutMs)
	}
	if c.Suspicious.WindowSeconds <= 0 {
		return fmt.Errorf("suspicious window_seconds must be positive, got %d", c.Suspicious.WindowSeconds)
	}
	if c.Suspicious.CredentialStuffingThreshold <= 0 {
		return fmt.Errorf("credential_stuffing_threshold must be positive, got %d", c.Suspicious.CredentialStuffingThreshold)
	}
	if c.Suspicious.EndpointScanningThreshold <= 0 {
		return fmt.Errorf("endpoint_scanning_threshold must be positive, got %d", c.Suspicious.EndpointScanningThreshold)
	}
	if c.Suspicious.AbuseThreshold <= 0 {
		return fmt.Errorf("abuse_threshold must be positive, got %d", c.Suspicious.AbuseThreshold)
	}
	return nil
}
