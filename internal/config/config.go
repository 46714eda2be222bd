package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"stockfeed/internal/logging"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

// ProxyPool is one egress host with its port list.
type ProxyPool struct {
	Host  string `json:"host"`
	Ports []int  `json:"ports"`
}

type Proxy struct {
	Username string `json:"username"`
	// EncodedSecret is the proxy password already percent-encoded
	// (e.g. '=' as %3D); it is embedded verbatim in proxy URLs.
	EncodedSecret    string      `json:"encoded_secret"`
	Pools            []ProxyPool `json:"pools"`
	RememberLastGood bool        `json:"remember_last_good"`
	FailureThreshold int         `json:"failure_threshold"`
}

type Chart struct {
	BaseURL              string `json:"base_url"`
	UserAgent            string `json:"user_agent"`
	Accept               string `json:"accept"`
	TimeoutSec           int    `json:"timeout_sec"`
	MaxAttemptsPerPort   int    `json:"max_attempts_per_port"`
	SleepBetweenPortsMS  int    `json:"sleep_between_ports_ms"`
	BackoffOnErrorMS     int    `json:"backoff_on_error_ms"`
	CacheTTLSeconds      int    `json:"cache_ttl_sec"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
}

type Tencent struct {
	QuoteURL   string `json:"quote_url"`
	MinuteURL  string `json:"minute_url"`
	TimeoutSec int    `json:"timeout_sec"`
}

type Directory struct {
	Path string `json:"path"`
}

type Config struct {
	Server    Server         `json:"server"`
	Proxy     Proxy          `json:"proxy"`
	Chart     Chart          `json:"chart"`
	Tencent   Tencent        `json:"tencent"`
	Directory Directory      `json:"directory"`
	Logging   logging.Config `json:"logging"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 30},
		Proxy: Proxy{
			Pools: []ProxyPool{
				{Host: "fr.decodo.com", Ports: []int{40001, 40002, 40003}},
				{Host: "au.decodo.com", Ports: []int{30001, 30002, 30003}},
			},
			RememberLastGood: true,
			FailureThreshold: 3,
		},
		Chart: Chart{
			UserAgent:           "Mozilla/5.0",
			Accept:              "application/json,text/plain,*/*",
			TimeoutSec:          25,
			MaxAttemptsPerPort:  1,
			SleepBetweenPortsMS: 800,
			BackoffOnErrorMS:    2000,
			CacheTTLSeconds:     120,
		},
		Tencent: Tencent{TimeoutSec: 10},
		Directory: Directory{
			Path: "data/stockfeed.db",
		},
		Logging: logging.Config{Level: "info", Format: "text", Output: "stdout"},
	}
}

// Load reads JSON config from path. If path is empty or the file does not
// exist, it returns defaults. Environment variables override select fields
// for secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := getenvInt("REQUEST_TIMEOUT_SEC"); v > 0 {
		cfg.Server.RequestTimeoutSec = v
	}
	if v := os.Getenv("PROXY_USER"); v != "" {
		cfg.Proxy.Username = v
	}
	if v := os.Getenv("PROXY_PASS_ENC"); v != "" {
		cfg.Proxy.EncodedSecret = v
	}
	if v := os.Getenv("PROXY_REMEMBER_LAST_GOOD"); v != "" {
		cfg.Proxy.RememberLastGood = truthy(v)
	}
	if v := getenvInt("PROXY_FAILURE_THRESHOLD"); v >= 0 && os.Getenv("PROXY_FAILURE_THRESHOLD") != "" {
		cfg.Proxy.FailureThreshold = v
	}
	if v := os.Getenv("CHART_BASE_URL"); v != "" {
		cfg.Chart.BaseURL = v
	}
	if v := getenvInt("CHART_TIMEOUT_SEC"); v > 0 {
		cfg.Chart.TimeoutSec = v
	}
	if v := getenvInt("CHART_MAX_ATTEMPTS_PER_PORT"); v > 0 {
		cfg.Chart.MaxAttemptsPerPort = v
	}
	if v := getenvInt("CHART_CACHE_TTL_SEC"); v > 0 {
		cfg.Chart.CacheTTLSeconds = v
	}
	if v := getenvInt("CHART_MAX_RPM"); v > 0 {
		cfg.Chart.MaxRequestsPerMinute = v
	}
	if v := os.Getenv("TENCENT_QUOTE_URL"); v != "" {
		cfg.Tencent.QuoteURL = v
	}
	if v := os.Getenv("TENCENT_MINUTE_URL"); v != "" {
		cfg.Tencent.MinuteURL = v
	}
	if v := os.Getenv("DIRECTORY_PATH"); v != "" {
		cfg.Directory.Path = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
}

func getenvInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	x, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return x
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}
