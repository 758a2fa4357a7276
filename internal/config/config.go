package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Dataset     DatasetConfig     `yaml:"dataset"`
	Training    TrainingConfig    `yaml:"training"`
	Artifact    ArtifactConfig    `yaml:"artifact"`
	Server      ServerConfig      `yaml:"server"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Remediation RemediationConfig `yaml:"remediation"`
	Registry    RegistryConfig    `yaml:"registry"`
	History     HistoryConfig     `yaml:"history"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// DatasetConfig locates the training input and the cleaned side artifact
type DatasetConfig struct {
	InputPath   string  `yaml:"input_path"`
	CleanedPath string  `yaml:"cleaned_path"`
	CapQuantile float64 `yaml:"cap_quantile"`
}

// TrainingConfig contains model selection settings
type TrainingConfig struct {
	Contaminations []float64 `yaml:"contaminations"`
	TestSize       float64   `yaml:"test_size"`
	Seed           uint64    `yaml:"seed"`
	NumTrees       int       `yaml:"num_trees"`
	MaxSamples     int       `yaml:"max_samples"`
}

// ArtifactConfig points to the persisted model
type ArtifactConfig struct {
	Path             string `yaml:"path"`
	CompressionLevel int    `yaml:"compression_level"` // 1 (fastest) .. 4 (best)
}

// ServerConfig contains inference API settings
type ServerConfig struct {
	Host                string   `yaml:"host"`
	Port                int      `yaml:"port"`
	ReadTimeoutSecs     int      `yaml:"read_timeout_secs"`
	WriteTimeoutSecs    int      `yaml:"write_timeout_secs"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs"`
	CorsAllowedOrigins  []string `yaml:"cors_allowed_origins"`
}

// MonitorConfig contains watch mode settings
type MonitorConfig struct {
	LatencyPath     string `yaml:"latency_path"`
	LatencyFormat   string `yaml:"latency_format"` // "json", "csv" or "plain"
	WindowSize      int    `yaml:"window_size"`
	StreakThreshold int    `yaml:"streak_threshold"`
	TickMs          int    `yaml:"tick_ms"`
}

// DashboardConfig contains web dashboard settings
type DashboardConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Port         int    `yaml:"port"`
	Host         string `yaml:"host"`
	MaxAnomalies int    `yaml:"max_anomalies"`
}

// RemediationConfig configures the service restart collaborator
type RemediationConfig struct {
	Service            string `yaml:"service"`
	StopWaitSecs       int    `yaml:"stop_wait_secs"`
	StartWaitSecs      int    `yaml:"start_wait_secs"`
	CommandTimeoutSecs int    `yaml:"command_timeout_secs"`
	CooldownSecs       int    `yaml:"cooldown_secs"`
}

// RegistryConfig locates the training run database. Empty path disables it.
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig locates the anomaly history store. Empty path disables it.
type HistoryConfig struct {
	Path           string `yaml:"path"`
	RetentionHours int    `yaml:"retention_hours"`
}

// LoggingConfig contains log verbosity and format
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// LoadConfig loads configuration from a YAML file. Values missing in the file
// keep their defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		// Return default configuration if file doesn't exist
		return cfg, nil

	} else if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Dataset: DatasetConfig{
			InputPath:   "synthetic_latency.csv",
			CleanedPath: "synthetic_latency_clean.csv",
			CapQuantile: 0.99,
		},
		Training: TrainingConfig{
			Contaminations: []float64{0.01, 0.02, 0.05, 0.1},
			TestSize:       0.2,
			Seed:           42,
			NumTrees:       100,
			MaxSamples:     256,
		},
		Artifact: ArtifactConfig{
			Path:             "isolation_forest_latency_best.lgif",
			CompressionLevel: 3,
		},
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                5000,
			ReadTimeoutSecs:     10,
			WriteTimeoutSecs:    10,
			ShutdownTimeoutSecs: 10,
		},
		Monitor: MonitorConfig{
			LatencyPath:     "/var/log/smart-uptime/latency.log",
			LatencyFormat:   "json",
			WindowSize:      100,
			StreakThreshold: 3,
			TickMs:          1000,
		},
		Dashboard: DashboardConfig{
			Enabled:      true,
			Port:         8080,
			Host:         "localhost",
			MaxAnomalies: 50,
		},
		Remediation: RemediationConfig{
			StopWaitSecs:       2,
			StartWaitSecs:      3,
			CommandTimeoutSecs: 30,
			CooldownSecs:       300,
		},
		History: HistoryConfig{
			RetentionHours: 24 * 7,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate reports the first invalid setting found
func (c *Config) Validate() error {
	if c.Dataset.CapQuantile <= 0 || c.Dataset.CapQuantile > 1 {
		return fmt.Errorf("dataset.cap_quantile must be in (0, 1], got %v", c.Dataset.CapQuantile)
	}
	if len(c.Training.Contaminations) == 0 {
		return errors.New("training.contaminations must not be empty")
	}
	for _, v := range c.Training.Contaminations {
		if v <= 0 || v > 0.5 {
			return fmt.Errorf("contamination must be in (0, 0.5], got %v", v)
		}
	}
	if c.Training.TestSize <= 0 || c.Training.TestSize >= 1 {
		return fmt.Errorf("training.test_size must be in (0, 1), got %v", c.Training.TestSize)
	}
	if c.Training.NumTrees <= 0 {
		return fmt.Errorf("training.num_trees must be positive, got %d", c.Training.NumTrees)
	}
	if c.Training.MaxSamples <= 0 {
		return fmt.Errorf("training.max_samples must be positive, got %d", c.Training.MaxSamples)
	}
	if c.Artifact.Path == "" {
		return errors.New("artifact.path must be set")
	}
	if c.Artifact.CompressionLevel < 1 || c.Artifact.CompressionLevel > 4 {
		return fmt.Errorf("artifact.compression_level must be in 1..4, got %d", c.Artifact.CompressionLevel)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Monitor.WindowSize <= 0 || c.Monitor.StreakThreshold <= 0 || c.Monitor.TickMs <= 0 {
		return errors.New("monitor.window_size, monitor.streak_threshold and monitor.tick_ms must be positive")
	}
	switch c.Monitor.LatencyFormat {
	case "json", "csv", "plain":
	default:
		return fmt.Errorf("unsupported monitor.latency_format %q", c.Monitor.LatencyFormat)
	}
	return nil
}
