package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port          int
	OpsPort       int
	DBPath        string
	ControlSocket string
	ReadTimeout   int // seconds
	WriteTimeout  int // seconds
	LogLevel      string
	LogFormat     string // "text" или "json"
	RateLimit     float64
	RateBurst     int
}

// fileConfig повторяет Config для разбора YAML, нулевые значения не применяются
type fileConfig struct {
	Port          int     `yaml:"port"`
	OpsPort       int     `yaml:"ops_port"`
	DBPath        string  `yaml:"db_path"`
	ControlSocket string  `yaml:"control_socket"`
	ReadTimeout   int     `yaml:"read_timeout"`
	WriteTimeout  int     `yaml:"write_timeout"`
	LogLevel      string  `yaml:"log_level"`
	LogFormat     string  `yaml:"log_format"`
	RateLimit     float64 `yaml:"rate_limit"`
	RateBurst     int     `yaml:"rate_burst"`
}

func Load() *Config {
	cfg := &Config{
		Port:          8765,
		OpsPort:       8766,
		DBPath:        "sechat.db",
		ControlSocket: "/tmp/sechat.sock",
		ReadTimeout:   120,
		WriteTimeout:  30,
		LogLevel:      "info",
		LogFormat:     "text",
		RateLimit:     20,
		RateBurst:     40,
	}

	// Файл конфигурации применяется до переменных окружения
	if path := os.Getenv("SECHAT_CONFIG"); path != "" {
		cfg.applyFile(path)
	}

	// PORT поддерживается как запасной вариант для PaaS-окружений
	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if portStr := os.Getenv("SECHAT_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if portStr := os.Getenv("SECHAT_OPS_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.OpsPort = port
		}
	}

	if dbPath := os.Getenv("SECHAT_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if socket := os.Getenv("SECHAT_CONTROL_SOCKET"); socket != "" {
		cfg.ControlSocket = socket
	}

	if timeoutStr := os.Getenv("SECHAT_READ_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.ReadTimeout = timeout
		}
	}

	if timeoutStr := os.Getenv("SECHAT_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	if level := os.Getenv("SECHAT_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if format := os.Getenv("SECHAT_LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}

	if limitStr := os.Getenv("SECHAT_RATE_LIMIT"); limitStr != "" {
		if limit, err := strconv.ParseFloat(limitStr, 64); err == nil && limit > 0 {
			cfg.RateLimit = limit
		}
	}

	if burstStr := os.Getenv("SECHAT_RATE_BURST"); burstStr != "" {
		if burst, err := strconv.Atoi(burstStr); err == nil && burst > 0 {
			cfg.RateBurst = burst
		}
	}

	return cfg
}

func (cfg *Config) applyFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return
	}

	if fc.Port != 0 {
		cfg.Port = fc.Port
	}
	if fc.OpsPort != 0 {
		cfg.OpsPort = fc.OpsPort
	}
	if fc.DBPath != "" {
		cfg.DBPath = fc.DBPath
	}
	if fc.ControlSocket != "" {
		cfg.ControlSocket = fc.ControlSocket
	}
	if fc.ReadTimeout != 0 {
		cfg.ReadTimeout = fc.ReadTimeout
	}
	if fc.WriteTimeout != 0 {
		cfg.WriteTimeout = fc.WriteTimeout
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.LogFormat != "" {
		cfg.LogFormat = fc.LogFormat
	}
	if fc.RateLimit != 0 {
		cfg.RateLimit = fc.RateLimit
	}
	if fc.RateBurst != 0 {
		cfg.RateBurst = fc.RateBurst
	}
}
