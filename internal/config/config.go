package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        App        `mapstructure:"app"`
	Storage    Storage    `mapstructure:"storage"`
	Feeds      Feeds      `mapstructure:"feeds"`
	Clustering Clustering `mapstructure:"clustering"`
	Scoring    Scoring    `mapstructure:"scoring"`
	Selection  Selection  `mapstructure:"selection"`
	Pipeline   Pipeline   `mapstructure:"pipeline"`
	Server     Server     `mapstructure:"server"`
}

// App holds general application configuration
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// Storage holds database configuration
type Storage struct {
	DatabasePath string `mapstructure:"database_path"`
	Timeout      string `mapstructure:"timeout"`
}

// Feeds holds feed ingestion configuration
type Feeds struct {
	Sources         []string `mapstructure:"sources"`
	Timeout         string   `mapstructure:"timeout"`
	RateLimit       string   `mapstructure:"rate_limit"`
	UserAgent       string   `mapstructure:"user_agent"`
	MaxItemsPerFeed int      `mapstructure:"max_items_per_feed"`
}

// Clustering holds content clustering parameters
type Clustering struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	Strategy            string  `mapstructure:"strategy"`
	MinClusterSize      int     `mapstructure:"min_cluster_size"`
	EmbeddingDim        int     `mapstructure:"embedding_dim"`
}

// Scoring holds cluster scoring parameters
type Scoring struct {
	ViralWeight     float64 `mapstructure:"viral_weight"`
	FreshnessWeight float64 `mapstructure:"freshness_weight"`
	DiversityWeight float64 `mapstructure:"diversity_weight"`
	VolumeWeight    float64 `mapstructure:"volume_weight"`
	QualityWeight   float64 `mapstructure:"quality_weight"`
	TauHours        float64 `mapstructure:"tau_hours"`
	MinItems        int     `mapstructure:"min_items"`
}

// Selection holds final pick selection limits
type Selection struct {
	KGlobal            int     `mapstructure:"k_global"`
	MaxPostsPerRun     int     `mapstructure:"max_posts_per_run"`
	DuplicateThreshold float64 `mapstructure:"duplicate_threshold"`
}

// Pipeline holds orchestrator configuration
type Pipeline struct {
	WindowHours      int    `mapstructure:"window_hours"`
	TopicsFile       string `mapstructure:"topics_file"`
	TopicConcurrency int    `mapstructure:"topic_concurrency"`
}

// Server holds HTTP API configuration
type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	// Configure viper
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".trender")
		viper.SetConfigType("yaml")
	}

	setDefaults()

	viper.SetEnvPrefix("TRENDER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", ".trender-data")

	// Storage defaults
	viper.SetDefault("storage.database_path", ".trender-data/trender.db")
	viper.SetDefault("storage.timeout", "5s")

	// Feed defaults
	viper.SetDefault("feeds.sources", []string{})
	viper.SetDefault("feeds.timeout", "30s")
	viper.SetDefault("feeds.rate_limit", "1s")
	viper.SetDefault("feeds.user_agent", "trender/1.0 (+https://github.com/trender)")
	viper.SetDefault("feeds.max_items_per_feed", 100)

	// Clustering defaults
	viper.SetDefault("clustering.similarity_threshold", 0.78)
	viper.SetDefault("clustering.strategy", "incremental")
	viper.SetDefault("clustering.min_cluster_size", 2)
	viper.SetDefault("clustering.embedding_dim", 512)

	// Scoring defaults
	viper.SetDefault("scoring.viral_weight", 0.25)
	viper.SetDefault("scoring.freshness_weight", 0.20)
	viper.SetDefault("scoring.diversity_weight", 0.20)
	viper.SetDefault("scoring.volume_weight", 0.15)
	viper.SetDefault("scoring.quality_weight", 0.20)
	viper.SetDefault("scoring.tau_hours", 12.0)
	viper.SetDefault("scoring.min_items", 3)

	// Selection defaults
	viper.SetDefault("selection.k_global", 10)
	viper.SetDefault("selection.max_posts_per_run", 100)
	viper.SetDefault("selection.duplicate_threshold", 0.9)

	// Pipeline defaults
	viper.SetDefault("pipeline.window_hours", 24)
	viper.SetDefault("pipeline.topics_file", "config/topics.yaml")
	viper.SetDefault("pipeline.topic_concurrency", 4)

	// Server defaults
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8080)
}

// validateConfig checks configuration invariants that would otherwise
// surface as confusing behavior deep in the pipeline
func validateConfig(config *Config) error {
	if t := config.Clustering.SimilarityThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("clustering.similarity_threshold must be in (0, 1], got %f", t)
	}
	if t := config.Selection.DuplicateThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("selection.duplicate_threshold must be in (0, 1], got %f", t)
	}
	if config.Selection.KGlobal <= 0 {
		return fmt.Errorf("selection.k_global must be positive, got %d", config.Selection.KGlobal)
	}
	if config.Pipeline.WindowHours <= 0 {
		return fmt.Errorf("pipeline.window_hours must be positive, got %d", config.Pipeline.WindowHours)
	}
	if config.Scoring.TauHours <= 0 {
		return fmt.Errorf("scoring.tau_hours must be positive, got %f", config.Scoring.TauHours)
	}
	switch config.Clustering.Strategy {
	case "incremental", "batch":
	default:
		return fmt.Errorf("clustering.strategy must be incremental or batch, got %q", config.Clustering.Strategy)
	}
	return nil
}

// Reset clears the cached global configuration. Intended for tests.
func Reset() {
	globalConfig = nil
	viper.Reset()
}
