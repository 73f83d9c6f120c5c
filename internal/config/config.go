package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// DefaultFeedURL is the Seattle Fire Department real-time 911 page for today,
// newest incidents first.
const DefaultFeedURL = "http://www2.seattle.gov/fire/realtime911/getRecsForDatePub.asp?action=Today&incDate=&rad1=des"

// Config holds all service settings, populated from environment variables.
type Config struct {
	FeedURL         string
	FeedTimeout     time.Duration
	PollSchedule    string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Posting behaviour.
	DryRun           bool
	PostInterval     time.Duration
	MaxPostsPerCycle int
	StatusHashtag    string

	// Bluesky account the statuses are posted to.
	BlueskyHost        string
	BlueskyHandle      string
	BlueskyAppPassword string

	// Optional Kafka sink for parsed incidents.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	// Optional SQLite ledger of posted incidents.
	LedgerPath string
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	feedTimeout, err := parsePositiveDuration("FEED_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	postInterval, err := time.ParseDuration(sharedcfg.EnvOrDefault("POST_INTERVAL", "1s"))
	if err != nil || postInterval < 0 {
		return nil, errors.New("invalid POST_INTERVAL")
	}

	maxPosts, err := strconv.Atoi(sharedcfg.EnvOrDefault("MAX_POSTS_PER_CYCLE", "20"))
	if err != nil || maxPosts < 1 {
		return nil, errors.New("invalid MAX_POSTS_PER_CYCLE")
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}
	kafkaEnabled := len(brokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		FeedURL:         sharedcfg.EnvOrDefault("FEED_URL", DefaultFeedURL),
		FeedTimeout:     feedTimeout,
		PollSchedule:    sharedcfg.EnvOrDefault("POLL_SCHEDULE", "*/5 * * * *"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DryRun:           os.Getenv("DRY_RUN") == "true",
		PostInterval:     postInterval,
		MaxPostsPerCycle: maxPosts,
		StatusHashtag:    sharedcfg.EnvOrDefault("STATUS_HASHTAG", "#Seattle"),

		BlueskyHost:        sharedcfg.EnvOrDefault("BLUESKY_HOST", "https://bsky.social"),
		BlueskyHandle:      os.Getenv("BLUESKY_HANDLE"),
		BlueskyAppPassword: os.Getenv("BLUESKY_APP_PASSWORD"),

		KafkaEnabled: kafkaEnabled,
		KafkaBrokers: brokers,
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "fire-dispatch-incidents"),

		LedgerPath: os.Getenv("LEDGER_PATH"),
	}

	if cfg.FeedURL == "" {
		return nil, errors.New("FEED_URL is required")
	}
	hasHandle, hasPassword := cfg.BlueskyHandle != "", cfg.BlueskyAppPassword != ""
	if !cfg.DryRun && (!hasHandle || !hasPassword) {
		return nil, errors.New("BLUESKY_HANDLE and BLUESKY_APP_PASSWORD are required unless DRY_RUN is true")
	}
	if hasHandle != hasPassword {
		return nil, errors.New("BLUESKY_HANDLE and BLUESKY_APP_PASSWORD must be set together")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, errors.New("invalid " + key)
	}
	return d, nil
}
