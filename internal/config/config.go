// Package config resolves default Options for the lynxkv demo CLI. The
// engine itself never reads configuration (NewDatabase only accepts an
// Options value); this package exists solely so cmd/lynxkv can pick up
// lynxkv.yaml / environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper singleton. Should be called once at CLI
// startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("lynxkv")

	configFileSet := false

	// Walk up from cwd looking for lynxkv.yaml.
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, "lynxkv.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	v.SetEnvPrefix("LYNXKV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("isolation-level", "read-latest")
	v.SetDefault("lock-timeout-ms", 5000)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// IsolationLevel resolves the "isolation-level" key.
func IsolationLevel() string { return GetString("isolation-level") }

// LockTimeoutMs resolves the "lock-timeout-ms" key.
func LockTimeoutMs() int { return GetInt("lock-timeout-ms") }
