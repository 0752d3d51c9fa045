package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/leslieo2/devreload/internal/constants"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration with precedence:
// 1. Explicit CLI flags (highest priority)
// 2. Environment variables (including those loaded from the .env file)
// 3. Configuration file values
// 4. Default configuration values (lowest priority)
func LoadConfig(configFile string, cliFlags *CLIFlags) (*Config, error) {
	config := DefaultConfig()

	if err := loadEnvFile(cliFlags); err != nil {
		return nil, err
	}

	if configFile == "" {
		configFile = os.Getenv(constants.EnvConfigFile)
	}
	if configFile != "" {
		if err := loadFromFile(configFile, config); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	loadFromEnv(config)

	if cliFlags != nil {
		overrideWithCLI(config, cliFlags)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// CLIFlags contains CLI flag values that can override configuration.
// A flag only overrides when FlagSet reports it as changed; with a nil
// FlagSet every non-nil value is applied.
type CLIFlags struct {
	FlagSet *pflag.FlagSet

	EnvFile        *string
	WatchPaths     *[]string
	PollInterval   *time.Duration
	QuietPeriod    *time.Duration
	TriggerFile    *string
	Exclude        *[]string
	LiveReloadPort *int
	NoLiveReload   *bool
	MetricsPort    *string
	LogLevel       *string
	LogFormat      *string
}

func (f *CLIFlags) changed(name string) bool {
	if f.FlagSet == nil {
		return true
	}
	flag := f.FlagSet.Lookup(name)
	return flag != nil && flag.Changed
}

// loadEnvFile loads a dotenv file into the process environment. Variables
// already present in the environment win. A missing default file is not an
// error; a missing explicit file is.
func loadEnvFile(flags *CLIFlags) error {
	path := constants.DefaultEnvFile
	explicit := false
	if flags != nil && flags.EnvFile != nil && *flags.EnvFile != "" {
		path = *flags.EnvFile
		explicit = true
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// loadFromFile decodes a YAML or JSON file on top of config. Keys absent
// from the file keep their current values.
func loadFromFile(filePath string, config *Config) error {
	if !filepath.IsAbs(filePath) {
		absPath, err := filepath.Abs(filePath)
		if err != nil {
			return fmt.Errorf("failed to get absolute path for %s: %w", filePath, err)
		}
		filePath = absPath
	}

	if err := validateFilePath(filePath); err != nil {
		return fmt.Errorf("invalid config file path %s: %w", filePath, err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	if ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	data, err := os.ReadFile(filePath) // #nosec G304 - file path validated by validateFilePath()
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	// JSON is decoded with the YAML decoder so durations such as "1s" work
	// in both formats.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(config *Config) {
	// Watch configuration
	if val := os.Getenv(constants.EnvWatchPaths); val != "" {
		config.Watch.Paths = splitPathList(val)
	}
	if val := os.Getenv(constants.EnvPollInterval); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			config.Watch.PollInterval = duration
		}
	}
	if val := os.Getenv(constants.EnvQuietPeriod); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			config.Watch.QuietPeriod = duration
		}
	}
	if val := os.Getenv(constants.EnvWatchNotify); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.Watch.Notify = enabled
		}
	}
	if val := os.Getenv(constants.EnvContentHash); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.Watch.ContentHash = enabled
		}
	}

	// Restart configuration
	if val := os.Getenv(constants.EnvRestartEnabled); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.Restart.Enabled = enabled
		}
	}
	if val := os.Getenv(constants.EnvTriggerFile); val != "" {
		config.Restart.TriggerFile = val
	}
	if val := os.Getenv(constants.EnvAdditionalExclude); val != "" {
		config.Restart.AdditionalExclude = splitList(val)
	}
	if val := os.Getenv(constants.EnvShutdownTimeout); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			config.Restart.ShutdownTimeout = duration
		}
	}

	// LiveReload configuration
	if val := os.Getenv(constants.EnvLiveReload); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.LiveReload.Enabled = enabled
		}
	}
	if val := os.Getenv(constants.EnvLiveReloadHost); val != "" {
		config.LiveReload.Host = val
	}
	if val := os.Getenv(constants.EnvLiveReloadPort); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.LiveReload.Port = port
		}
	}

	// Observability configuration
	if val := os.Getenv(constants.EnvMetricsEnabled); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.Observability.Metrics.Enabled = enabled
		}
	}
	if val := os.Getenv(constants.EnvMetricsPort); val != "" {
		config.Observability.Metrics.Port = val
	}
	if val := os.Getenv(constants.EnvLogLevel); val != "" {
		config.Observability.Logging.Level = val
	}
	if val := os.Getenv(constants.EnvLogFormat); val != "" {
		config.Observability.Logging.Format = val
	}
	if val := os.Getenv(constants.EnvTracingEnabled); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.Observability.Tracing.Enabled = enabled
		}
	}

	// Events configuration
	if val := os.Getenv(constants.EnvRedisEnabled); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.Events.Redis.Enabled = enabled
		}
	}
	if val := os.Getenv(constants.EnvRedisURL); val != "" {
		config.Events.Redis.URL = val
	}
	if val := os.Getenv(constants.EnvRedisChannel); val != "" {
		config.Events.Redis.Channel = val
	}

	// Remote update configuration
	if val := os.Getenv(constants.EnvRemoteEnabled); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			config.Remote.Enabled = enabled
		}
	}
	if val := os.Getenv(constants.EnvRemotePort); val != "" {
		config.Remote.Port = val
	}
	if val := os.Getenv(constants.EnvRemoteSecret); val != "" {
		config.Remote.Secret = val
	}
}

// overrideWithCLI overrides configuration with CLI flag values
func overrideWithCLI(config *Config, flags *CLIFlags) {
	if flags.WatchPaths != nil && len(*flags.WatchPaths) > 0 && flags.changed("watch") {
		config.Watch.Paths = append([]string(nil), (*flags.WatchPaths)...)
	}
	if flags.PollInterval != nil && flags.changed("poll-interval") {
		config.Watch.PollInterval = *flags.PollInterval
	}
	if flags.QuietPeriod != nil && flags.changed("quiet-period") {
		config.Watch.QuietPeriod = *flags.QuietPeriod
	}
	if flags.TriggerFile != nil && flags.changed("trigger-file") {
		config.Restart.TriggerFile = *flags.TriggerFile
	}
	if flags.Exclude != nil && flags.changed("exclude") {
		config.Restart.AdditionalExclude = append(config.Restart.AdditionalExclude, (*flags.Exclude)...)
	}
	if flags.LiveReloadPort != nil && flags.changed("livereload-port") {
		config.LiveReload.Port = *flags.LiveReloadPort
	}
	if flags.NoLiveReload != nil && *flags.NoLiveReload && flags.changed("no-livereload") {
		config.LiveReload.Enabled = false
	}
	if flags.MetricsPort != nil && flags.changed("metrics-port") {
		config.Observability.Metrics.Enabled = true
		config.Observability.Metrics.Port = *flags.MetricsPort
	}
	if flags.LogLevel != nil && flags.changed("log-level") {
		config.Observability.Logging.Level = *flags.LogLevel
	}
	if flags.LogFormat != nil && flags.changed("log-format") {
		config.Observability.Logging.Format = *flags.LogFormat
	}
}

func splitPathList(val string) []string {
	var out []string
	for _, p := range filepath.SplitList(val) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitList(val string) []string {
	var out []string
	for _, p := range strings.Split(val, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validateFilePath checks if the file path is safe to read
func validateFilePath(filePath string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	cleanPath := filepath.Clean(absPath)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal attempts")
	}

	return nil
}
