package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Discovery strategies
const (
	StrategySitemap = "sitemap"
	StrategyCrawl   = "crawl"
	StrategyAuto    = "auto"
)

// Config holds all application configuration
type Config struct {
	// Discovery configuration
	Discovery DiscoveryConfig `mapstructure:"discovery"`

	// Crawler configuration
	Crawler CrawlerConfig `mapstructure:"crawler"`

	// Classifier configuration
	Classifier ClassifierConfig `mapstructure:"classifier"`

	// Storage configuration
	Storage StorageConfig `mapstructure:"storage"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// DiscoveryConfig controls how candidate content URLs are found
type DiscoveryConfig struct {
	Strategy           string   `mapstructure:"strategy"` // "sitemap", "crawl" or "auto"
	SitemapURL         string   `mapstructure:"sitemap_url"`
	SeedURL            string   `mapstructure:"seed_url"`
	PathPrefixes       []string `mapstructure:"path_prefixes"`
	MaxDepth           int      `mapstructure:"max_depth"`
	MaxPages           int      `mapstructure:"max_pages"`
	ContentMinSegments int      `mapstructure:"content_min_segments"`
	FollowRobotsTxt    bool     `mapstructure:"follow_robots_txt"`
}

// CrawlerConfig holds fetch loop configuration
type CrawlerConfig struct {
	UserAgent               string        `mapstructure:"user_agent"`
	Timeout                 time.Duration `mapstructure:"timeout"`
	Delay                   time.Duration `mapstructure:"delay"`
	MaxItems                int           `mapstructure:"max_items"`
	ForceRefresh            bool          `mapstructure:"force_refresh"`
	CheckpointEvery         int           `mapstructure:"checkpoint_every"`
	FailureThresholdPercent int           `mapstructure:"failure_threshold_percent"`
	MaxBodyBytes            int64         `mapstructure:"max_body_bytes"`
}

// ClassifierConfig holds business rules that are data, not code
type ClassifierConfig struct {
	// B2BAudience maps a content type to the audience assumed when no
	// explicit audience pattern matched.
	B2BAudience map[string]string `mapstructure:"b2b_audience"`
}

// StorageConfig holds corpus persistence configuration
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from file, environment and any flags already
// bound to v. An empty configPath searches the default locations. The
// result is not validated; commands that crawl call Validate.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("compwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.compwatch")
	}

	setDefaults(v)
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error, we'll use defaults and env
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Discovery defaults
	v.SetDefault("discovery.strategy", StrategySitemap)
	v.SetDefault("discovery.sitemap_url", "")
	v.SetDefault("discovery.seed_url", "")
	v.SetDefault("discovery.path_prefixes", []string{"/resources/"})
	v.SetDefault("discovery.max_depth", 3)
	v.SetDefault("discovery.max_pages", 200)
	v.SetDefault("discovery.content_min_segments", 3)
	v.SetDefault("discovery.follow_robots_txt", true)

	// Crawler defaults
	v.SetDefault("crawler.user_agent", "compwatch/1.0 (+content research)")
	v.SetDefault("crawler.timeout", "30s")
	v.SetDefault("crawler.delay", "1s")
	v.SetDefault("crawler.max_items", 0)
	v.SetDefault("crawler.force_refresh", false)
	v.SetDefault("crawler.checkpoint_every", 10)
	v.SetDefault("crawler.failure_threshold_percent", 20)
	v.SetDefault("crawler.max_body_bytes", 10*1024*1024)

	// Classifier defaults
	v.SetDefault("classifier.b2b_audience", map[string]string{
		"case-study":   "employers",
		"report-guide": "health-plans",
		"webinar":      "employers",
	})

	// Storage defaults
	v.SetDefault("storage.path", "./data/competitor-content.json")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// bindEnvVars binds environment variables
func bindEnvVars(v *viper.Viper) {
	v.SetEnvPrefix("COMPWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Discovery.Strategy {
	case StrategySitemap:
		if c.Discovery.SitemapURL == "" {
			return fmt.Errorf("discovery.sitemap_url is required for the %q strategy", c.Discovery.Strategy)
		}
	case StrategyCrawl:
		if c.Discovery.SeedURL == "" {
			return fmt.Errorf("discovery.seed_url is required for the %q strategy", c.Discovery.Strategy)
		}
	case StrategyAuto:
		if c.Discovery.SitemapURL == "" && c.Discovery.SeedURL == "" {
			return fmt.Errorf("discovery.sitemap_url or discovery.seed_url is required")
		}
	default:
		return fmt.Errorf("unknown discovery.strategy %q", c.Discovery.Strategy)
	}
	if len(c.Discovery.PathPrefixes) == 0 {
		return fmt.Errorf("discovery.path_prefixes must not be empty")
	}
	if c.Discovery.MaxDepth <= 0 {
		return fmt.Errorf("discovery.max_depth must be positive")
	}
	if c.Discovery.MaxPages <= 0 {
		return fmt.Errorf("discovery.max_pages must be positive")
	}
	if c.Crawler.Timeout <= 0 {
		return fmt.Errorf("crawler.timeout must be positive")
	}
	if c.Crawler.Delay < 0 {
		return fmt.Errorf("crawler.delay must not be negative")
	}
	if c.Crawler.MaxItems < 0 {
		return fmt.Errorf("crawler.max_items must not be negative")
	}
	if c.Crawler.CheckpointEvery <= 0 {
		return fmt.Errorf("crawler.checkpoint_every must be positive")
	}
	if c.Crawler.FailureThresholdPercent < 0 || c.Crawler.FailureThresholdPercent > 100 {
		return fmt.Errorf("crawler.failure_threshold_percent must be within 0-100")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must be set")
	}
	return nil
}
