// Package xcconfig loads broker connection settings from a .env file and
// environment variables, the same layering the USB-hasher bridge used for
// its device credentials, generalised to the gateway's own settings.
// Command-line flags (cmd/xcomfortd) take precedence over everything
// here; this package only supplies the defaults flags fall back to.
package xcconfig

import (
	"os"
	"path/filepath"
	"strings"
)

// BrokerConfig holds the MQTT broker settings a .env file or the
// environment can supply.
type BrokerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

var (
	loaded        *BrokerConfig
	loadAttempted bool
)

// Load reads .env (if present) and overlays XCOMFORTD_* environment
// variables on top. Results are cached for the process lifetime.
func Load() *BrokerConfig {
	if loadAttempted {
		return loaded
	}

	cfg := &BrokerConfig{Host: "localhost", Port: 1883}

	envPath := filepath.Join(findProjectRoot(), ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), cfg)
	}

	if v := os.Getenv("XCOMFORTD_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("XCOMFORTD_PORT"); v != "" {
		if port, ok := parsePort(v); ok {
			cfg.Port = port
		}
	}
	if v := os.Getenv("XCOMFORTD_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("XCOMFORTD_PASSWORD"); v != "" {
		cfg.Password = v
	}

	loaded = cfg
	loadAttempted = true
	return cfg
}

func parseEnvFile(content string, cfg *BrokerConfig) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "XCOMFORTD_HOST":
			cfg.Host = value
		case "XCOMFORTD_PORT":
			if port, ok := parsePort(value); ok {
				cfg.Port = port
			}
		case "XCOMFORTD_USERNAME":
			cfg.Username = value
		case "XCOMFORTD_PASSWORD":
			cfg.Password = value
		}
	}
}

func parsePort(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func findProjectRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}
