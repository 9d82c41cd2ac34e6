package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

const configName = "lms-session"

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for lms-session.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself, which
// shares the base name, is never picked up.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then returns ConfigFileNotFoundError, which callers tolerate.
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}

	// Environment variable support: LMS_SESSION_API_BASE_URL
	viper.SetEnvPrefix("LMS_SESSION")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an lms-session config file.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".lms-session"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, configName))
		}
	} else {
		paths = append(paths, "/etc/lms-session")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for lms-session.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested keys so AutomaticEnv can see them during
// Unmarshal. Example: LMS_SESSION_SESSION_IDLE_TIMEOUT overrides session.idle_timeout.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("api.base_url")
	_ = viper.BindEnv("api.timeout")
	_ = viper.BindEnv("api.refresh_path")
	_ = viper.BindEnv("api.login_path")
	_ = viper.BindEnv("api.register_path")
	_ = viper.BindEnv("api.me_path")
	_ = viper.BindEnv("api.reset_password_path")

	_ = viper.BindEnv("session.idle_timeout")
	_ = viper.BindEnv("session.activity_filter")

	_ = viper.BindEnv("storage.driver")
	_ = viper.BindEnv("storage.path")

	_ = viper.BindEnv("telemetry.metrics_addr")
	_ = viper.BindEnv("telemetry.trace")
	_ = viper.BindEnv("telemetry.otel_metrics")
	_ = viper.BindEnv("telemetry.otel_interval")

	_ = viper.BindEnv("log_level")
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults and validates the result.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file: env vars and defaults only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
