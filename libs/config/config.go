package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	loadOnce sync.Once
	v        *viper.Viper
)

// Load reads an optional config file (CONFIG_FILE) into the shared store.
// Environment variables always take precedence over file values.
func Load() error {
	var loadErr error
	loadOnce.Do(func() {
		v = newStore()
		loadErr = readFile(v)
	})
	return loadErr
}

func readFile(s *viper.Viper) error {
	file := strings.TrimSpace(s.GetString("CONFIG_FILE"))
	if file == "" {
		return nil
	}
	s.SetConfigFile(file)
	if err := s.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", file, err)
	}
	return nil
}

func newStore() *viper.Viper {
	s := viper.New()
	s.AutomaticEnv()
	return s
}

func store() *viper.Viper {
	loadOnce.Do(func() {
		v = newStore()
	})
	return v
}

func String(key, fallback string) string {
	s := store().GetString(key)
	if s == "" {
		return fallback
	}
	return s
}

func RequiredString(key string) (string, error) {
	s := store().GetString(key)
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

func Port(key, fallback string) (string, error) {
	s := String(key, fallback)
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", key, s)
	}
	return s, nil
}

// Int returns a positive integer setting, or fallback when unset or invalid.
func Int(key string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(String(key, "")))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// Duration parses Go duration syntax ("90s", "2m").
func Duration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(String(key, ""))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func Bool(key string, fallback bool) bool {
	raw := strings.TrimSpace(String(key, ""))
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}
