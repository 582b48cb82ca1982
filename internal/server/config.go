package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/lcdsniff/internal/link"
	"github.com/shaunagostinho/lcdsniff/internal/logging"
	"github.com/shaunagostinho/lcdsniff/internal/report"
)

// Config holds all sniffer configuration.
type Config struct {
	mu sync.RWMutex

	// Serial link to the display
	Serial SerialConfig `yaml:"serial" json:"serial"`

	// Console frame report
	Report report.Config `yaml:"report" json:"report"`

	// Process logging
	Logging logging.Config `yaml:"logging" json:"logging"`

	// Live view / metrics
	Server ServerConfig `yaml:"server" json:"server"`

	path string
}

type SerialConfig struct {
	Source        string `yaml:"source" json:"source"`       // "serial" or "demo"
	PortPath      string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyUSB0
	BaudRate      int    `yaml:"baud_rate" json:"baudRate"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms" json:"readTimeoutMs"`
	// ExitOnTimeout stops the process when the link goes silent instead of
	// reconnecting.
	ExitOnTimeout bool `yaml:"exit_on_timeout" json:"exitOnTimeout"`
	DemoPeriodMs  int  `yaml:"demo_period_ms" json:"demoPeriodMs"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"` // empty disables the HTTP side
}

// Link converts the serial section into the link package's config.
func (s SerialConfig) Link() link.SerialConfig {
	return link.SerialConfig{
		PortPath:    s.PortPath,
		BaudRate:    s.BaudRate,
		ReadTimeout: time.Duration(s.ReadTimeoutMs) * time.Millisecond,
	}
}

// DefaultConfig returns a config matching the reference bench setup.
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			Source:        "serial",
			PortPath:      "/dev/ttyUSB0",
			BaudRate:      link.DefaultBaudRate,
			ReadTimeoutMs: int(link.DefaultReadTimeout / time.Millisecond),
			DemoPeriodMs:  100,
		},
		Report: report.Config{
			Enabled: true,
			Raw:     true,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
			File: logging.FileConfig{
				MaxSizeMB:  10,
				MaxBackups: 3,
				MaxAgeDays: 7,
			},
		},
		Server: ServerConfig{
			ListenAddr: "",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if the file is missing or bad.
// Messages are returned rather than logged since logging is configured from
// the result.
func LoadConfig(path string) (*Config, []string) {
	var notes []string
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		notes = append(notes, "no config at "+path+", using defaults")
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		notes = append(notes, "error parsing "+path+": "+err.Error()+", using defaults")
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		notes = append(notes, "loaded from "+path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		if loadEnvFile(ep) {
			notes = append(notes, "loaded .env from "+ep)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, notes
}

// LogNotes writes the messages returned by LoadConfig.
func LogNotes(log *zap.Logger, notes []string) {
	for _, n := range notes {
		log.Info(n)
	}
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
	return true
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: LCD_SOURCE, LCD_PORT, LCD_BAUD, LCD_TIMEOUT_MS,
// LCD_EXIT_ON_TIMEOUT, LISTEN_ADDR, LOG_LEVEL, LOG_FORMAT, LOG_FILE, REPORT_RAW
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LCD_SOURCE"); v != "" {
		c.Serial.Source = v
	}
	if v := os.Getenv("LCD_PORT"); v != "" {
		c.Serial.PortPath = v
	}
	if v := os.Getenv("LCD_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.BaudRate = n
		}
	}
	if v := os.Getenv("LCD_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.ReadTimeoutMs = n
		}
	}
	if v := os.Getenv("LCD_EXIT_ON_TIMEOUT"); v != "" {
		c.Serial.ExitOnTimeout = truthy(v)
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Logging.File.Filename = v
	}
	if v := os.Getenv("REPORT_RAW"); v != "" {
		c.Report.Raw = truthy(v)
	}
}

func truthy(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}
