package config

import (
	"fmt"
	"os"
	"time"

	"endless-chord/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	AI          AIConfig          `yaml:"ai"`
	YouTube     YouTubeConfig     `yaml:"youtube"`
	Recommender RecommenderConfig `yaml:"recommender"`
	Search      SearchConfig      `yaml:"search"`
	Logging     LoggingConfig     `yaml:"logging"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Channels    []models.Channel  `yaml:"channels"`
	Schedule    string            `yaml:"schedule"`
}

type ServerConfig struct {
	Port string `yaml:"port" env:"PORT"`
}

type DatabaseConfig struct {
	URL string `yaml:"url" env:"DATABASE_URL"`
}

type RedisConfig struct {
	URL string `yaml:"url" env:"REDIS_URL"`
}

type AIConfig struct {
	GeminiAPIKey string        `yaml:"gemini_api_key" env:"GEMINI_API_KEY"`
	Model        string        `yaml:"model"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

type YouTubeConfig struct {
	APIKey       string `yaml:"api_key" env:"YOUTUBE_API_KEY"`
	ClientID     string `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
	TokenFile    string `yaml:"token_file"`
	// Scrape enables the key-less results-page resolver.
	Scrape          bool    `yaml:"scrape"`
	ScrapeRateLimit float64 `yaml:"scrape_rate_limit"`
}

type RecommenderConfig struct {
	MinimumSongCount   int           `yaml:"minimum_song_count"`
	DefaultSongCount   int           `yaml:"default_song_count"`
	InitialSongCount   int           `yaml:"initial_song_count"`
	MaxRounds          int           `yaml:"max_rounds"`
	ResolveConcurrency int           `yaml:"resolve_concurrency"`
	CacheBatchSize     int           `yaml:"cache_batch_size"`
	CacheReturnCount   int           `yaml:"cache_return_count"`
	RefreshLease       time.Duration `yaml:"refresh_lease"`
	MinRefreshInterval time.Duration `yaml:"min_refresh_interval"`
	RecentlyPlayed     time.Duration `yaml:"recently_played"`
	PlayHistoryDir     string        `yaml:"play_history_dir"`
}

type SearchConfig struct {
	ConfidenceThreshold float64            `yaml:"confidence_threshold"`
	FieldWeights        map[string]float64 `yaml:"field_weights"`
	CandidateLimit      int                `yaml:"candidate_limit"`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

type MonitoringConfig struct {
	HealthPort int `yaml:"health_port"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, fills secrets from the environment and
// applies defaults before validating.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	setFromEnv(&c.Server.Port, "PORT")
	setFromEnv(&c.Database.URL, "DATABASE_URL")
	setFromEnv(&c.Redis.URL, "REDIS_URL")
	setFromEnv(&c.AI.GeminiAPIKey, "GEMINI_API_KEY")
	setFromEnv(&c.YouTube.APIKey, "YOUTUBE_API_KEY")
	setFromEnv(&c.YouTube.ClientID, "GOOGLE_CLIENT_ID")
	setFromEnv(&c.YouTube.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setFromEnv(&c.Logging.Level, "LOG_LEVEL")
}

func setFromEnv(field *string, key string) {
	if *field == "" {
		*field = os.Getenv(key)
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "5000"
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379"
	}
	if c.AI.Model == "" {
		c.AI.Model = "gemini-2.5-flash"
	}
	if c.AI.MaxAttempts <= 0 {
		c.AI.MaxAttempts = 3
	}
	if c.AI.RetryDelay == 0 {
		c.AI.RetryDelay = time.Second
	}
	if c.YouTube.TokenFile == "" {
		c.YouTube.TokenFile = "youtube_token.json"
	}
	if c.YouTube.ScrapeRateLimit <= 0 {
		c.YouTube.ScrapeRateLimit = 5
	}

	r := &c.Recommender
	if r.MinimumSongCount <= 0 {
		r.MinimumSongCount = 5
	}
	if r.DefaultSongCount <= 0 {
		r.DefaultSongCount = 20
	}
	if r.InitialSongCount <= 0 {
		r.InitialSongCount = 10
	}
	if r.MaxRounds <= 0 {
		r.MaxRounds = 3
	}
	if r.ResolveConcurrency <= 0 {
		r.ResolveConcurrency = 5
	}
	if r.CacheBatchSize <= 0 {
		r.CacheBatchSize = 10
	}
	if r.CacheReturnCount <= 0 {
		r.CacheReturnCount = 4
	}
	if r.RefreshLease <= 0 {
		r.RefreshLease = 2 * time.Minute
	}
	if r.RecentlyPlayed <= 0 {
		r.RecentlyPlayed = 36 * time.Hour
	}
	if r.PlayHistoryDir == "" {
		r.PlayHistoryDir = "data"
	}

	if c.Search.ConfidenceThreshold <= 0 {
		c.Search.ConfidenceThreshold = 0.3
	}
	if c.Search.CandidateLimit <= 0 {
		c.Search.CandidateLimit = 50
	}

	if c.Monitoring.HealthPort == 0 {
		c.Monitoring.HealthPort = 8080
	}
	if c.Schedule == "" {
		c.Schedule = "0 */30 * * * *" // every 30 minutes
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required (set DATABASE_URL or database.url)")
	}
	if c.AI.GeminiAPIKey == "" {
		return fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY or ai.gemini_api_key)")
	}
	if c.YouTube.APIKey == "" && c.YouTube.ClientID == "" && !c.YouTube.Scrape {
		return fmt.Errorf("no video resolver configured (set YOUTUBE_API_KEY, GOOGLE_CLIENT_ID or youtube.scrape)")
	}
	if c.YouTube.ClientID != "" && c.YouTube.ClientSecret == "" {
		return fmt.Errorf("YouTube client secret is required with a client ID (set GOOGLE_CLIENT_SECRET or youtube.client_secret)")
	}
	if c.Recommender.MinimumSongCount > c.Recommender.DefaultSongCount {
		return fmt.Errorf("recommender.minimum_song_count (%d) exceeds default_song_count (%d)",
			c.Recommender.MinimumSongCount, c.Recommender.DefaultSongCount)
	}
	if c.Search.ConfidenceThreshold > 1 {
		return fmt.Errorf("search.confidence_threshold must be within [0,1], got %v", c.Search.ConfidenceThreshold)
	}
	for field, w := range c.Search.FieldWeights {
		if w < 0 {
			return fmt.Errorf("search.field_weights.%s must not be negative", field)
		}
	}
	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channels[%d]: name is required", i)
		}
		if seen[ch.Name] {
			return fmt.Errorf("channels[%d]: duplicate channel name %q", i, ch.Name)
		}
		seen[ch.Name] = true
		if len(ch.Languages) == 0 {
			return fmt.Errorf("channel %q: at least one language is required", ch.Name)
		}
	}
	return nil
}
