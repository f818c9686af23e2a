package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Database and output paths
	SQLitePath string `mapstructure:"sqlite-path"`
	ResultsDir string `mapstructure:"results-dir"`

	// Site identity
	FactoryID      string `mapstructure:"factory-id"`
	FactoryName    string `mapstructure:"factory-name"`
	MillingProcess string `mapstructure:"milling-process"`
	TotalDumps     int    `mapstructure:"total-dumps"`

	// Stream sources
	RTSPBase string `mapstructure:"rtsp-base"`
	ClipPath string `mapstructure:"clip-path"`
	Testing  bool   `mapstructure:"testing"`

	// Inference
	AIEnabled        bool          `mapstructure:"ai-enabled"`
	PlateModelPath   string        `mapstructure:"plate-model-path"`
	OCRModelPath     string        `mapstructure:"ocr-model-path"`
	CaneModelPath    string        `mapstructure:"cane-model-path"`
	PlateConfidence  float64       `mapstructure:"plate-confidence"`
	AnalysisInterval time.Duration `mapstructure:"analysis-interval"`

	// Status API
	ServerAddr string `mapstructure:"server-addr"`

	// Composite archival (disabled when the bucket is empty)
	S3Bucket string `mapstructure:"s3-bucket"`
	S3Region string `mapstructure:"s3-region"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("sqlite-path", ".artifacts/dumpwatch.db")
	viper.SetDefault("results-dir", ".artifacts/results")
	viper.SetDefault("factory-id", "FACTORY-01")
	viper.SetDefault("factory-name", "FACTORY-01")
	viper.SetDefault("milling-process", "2026/27")
	viper.SetDefault("total-dumps", 1)
	viper.SetDefault("rtsp-base", "")
	viper.SetDefault("clip-path", "")
	viper.SetDefault("testing", false)
	viper.SetDefault("ai-enabled", true)
	viper.SetDefault("plate-model-path", "models/plate.onnx")
	viper.SetDefault("ocr-model-path", "")
	viper.SetDefault("cane-model-path", "models/cane.onnx")
	viper.SetDefault("plate-confidence", 0.5)
	viper.SetDefault("analysis-interval", 500*time.Millisecond)
	viper.SetDefault("server-addr", ":8080")
	viper.SetDefault("s3-bucket", "")
	viper.SetDefault("s3-region", "us-east-1")

	// Environment variables (will be DUMPWATCH_SQLITE_PATH, etc.)
	viper.SetEnvPrefix("DUMPWATCH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.dumpwatch")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Unmarshal into config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.ResultsDir == "" {
		return fmt.Errorf("results-dir cannot be empty")
	}
	if c.TotalDumps < 1 {
		return fmt.Errorf("total-dumps must be at least 1")
	}
	if c.RTSPBase == "" && c.ClipPath == "" {
		return fmt.Errorf("either rtsp-base or clip-path must be set")
	}
	if c.AIEnabled {
		if c.PlateModelPath == "" {
			return fmt.Errorf("plate-model-path cannot be empty when AI is enabled")
		}
		if c.CaneModelPath == "" {
			return fmt.Errorf("cane-model-path cannot be empty when AI is enabled")
		}
	}
	if c.PlateConfidence <= 0 || c.PlateConfidence > 1 {
		return fmt.Errorf("plate-confidence must be in (0, 1]")
	}
	if c.AnalysisInterval <= 0 {
		return fmt.Errorf("analysis-interval must be positive")
	}
	return nil
}
