package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Portal     PortalConfig     `mapstructure:"portal"`
	Selectors  SelectorsConfig  `mapstructure:"selectors"`
	Indicators IndicatorsConfig `mapstructure:"indicators"`
	Solver     SolverConfig     `mapstructure:"solver"`
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Storage    StorageConfig    `mapstructure:"storage"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type WorkersConfig struct {
	Count          int           `mapstructure:"count"`
	PollWait       time.Duration `mapstructure:"poll_wait"`
	InterItemDelay time.Duration `mapstructure:"inter_item_delay"`
}

type BrowserConfig struct {
	Driver    string        `mapstructure:"driver"` // chrome or http
	Headless  bool          `mapstructure:"headless"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// PortalConfig points at the two portals an item passes through.
type PortalConfig struct {
	LoginURL     string        `mapstructure:"login_url"`
	SearchURL    string        `mapstructure:"search_url"`
	SecondaryURL string        `mapstructure:"secondary_url"`
	LoadDelay    time.Duration `mapstructure:"load_delay"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
}

// SelectorsConfig lists CSS selector candidates, tried in order.
type SelectorsConfig struct {
	IdentifierInput []string                 `mapstructure:"identifier_input"`
	ChallengeImage  []string                 `mapstructure:"challenge_image"`
	ChallengeInput  []string                 `mapstructure:"challenge_input"`
	SubmitButton    []string                 `mapstructure:"submit_button"`
	Secondary       SecondarySelectorsConfig `mapstructure:"secondary"`
}

type SecondarySelectorsConfig struct {
	Name         []string `mapstructure:"name"`
	NationalID   []string `mapstructure:"national_id"`
	Identifier   []string `mapstructure:"identifier"`
	BirthDate    []string `mapstructure:"birth_date"`
	SubmitButton []string `mapstructure:"submit_button"`
}

// IndicatorsConfig holds the lowercase markers used to classify portal responses.
type IndicatorsConfig struct {
	Positive           []string `mapstructure:"positive"`
	Negative           []string `mapstructure:"negative"`
	SecondarySuccess   []string `mapstructure:"secondary_success"`
	AlternateURLMarker string   `mapstructure:"alternate_url_marker"`
	ProcessedMarker    string   `mapstructure:"processed_marker"`
}

type SolverConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxPolls     int           `mapstructure:"max_polls"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type ExtractorConfig struct {
	PayloadAttribute string `mapstructure:"payload_attribute"`
	SectionHeading   string `mapstructure:"section_heading"`
	Window           int    `mapstructure:"window"`
}

type SnapshotConfig struct {
	Path  string `mapstructure:"path"`
	Every int    `mapstructure:"every"`
}

// StorageConfig configures the optional object-storage mirror for snapshots.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // r2, s3, s3compatible
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Key       string `mapstructure:"key"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment URLs usually come from the environment
	v.BindEnv("solver.api_key", "SOLVER_API_KEY")
	v.BindEnv("solver.base_url", "SOLVER_BASE_URL")
	v.BindEnv("portal.login_url", "PORTAL_LOGIN_URL")
	v.BindEnv("portal.search_url", "PORTAL_SEARCH_URL")
	v.BindEnv("portal.secondary_url", "PORTAL_SECONDARY_URL")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("workers.count", 3)
	v.SetDefault("workers.poll_wait", "5s")
	v.SetDefault("workers.inter_item_delay", "3s")

	v.SetDefault("browser.driver", "chrome")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout", "60s")
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	v.SetDefault("portal.load_delay", "2s")
	v.SetDefault("portal.settle_delay", "5s")

	v.SetDefault("selectors.identifier_input", []string{`input[name="identifier"]`, `input[id="identifier"]`, `#identifier`, `input[type="text"]`, `.form-control`})
	v.SetDefault("selectors.challenge_image", []string{`#captcha_img`, `img[src*="captcha"]`, `.captcha-img`, `img[alt*="captcha"]`})
	v.SetDefault("selectors.challenge_input", []string{`input[name="captcha"]`, `input[id="captcha"]`, `#captcha`, `input[placeholder*="captcha"]`})
	v.SetDefault("selectors.submit_button", []string{`button[type="submit"]`, `input[type="submit"]`, `.btn-primary`})
	v.SetDefault("selectors.secondary.name", []string{`input[name="name"]`, `#name`, `input[placeholder*="name"]`})
	v.SetDefault("selectors.secondary.national_id", []string{`input[name="national_id"]`, `#national_id`, `input[placeholder*="national"]`})
	v.SetDefault("selectors.secondary.identifier", []string{`input[name="identifier"]`, `#identifier`, `input[placeholder*="identifier"]`})
	v.SetDefault("selectors.secondary.birth_date", []string{`input[name="birth_date"]`, `#birth_date`, `input[placeholder*="birth"]`})
	v.SetDefault("selectors.secondary.submit_button", []string{`button[type="submit"]`, `input[type="submit"]`, `.btn-success`, `.btn-primary`})

	v.SetDefault("indicators.positive", []string{"success", "record found", "participant name", "active status"})
	v.SetDefault("indicators.negative", []string{"not found", "invalid", "challenge incorrect", "expired", "failed"})
	v.SetDefault("indicators.secondary_success", []string{"success", "registered", "submitted", "valid"})
	v.SetDefault("indicators.alternate_url_marker", "mobile")
	v.SetDefault("indicators.processed_marker", "processed")

	v.SetDefault("solver.max_attempts", 3)
	v.SetDefault("solver.poll_interval", "2s")
	v.SetDefault("solver.max_polls", 30)
	v.SetDefault("solver.retry_backoff", "3s")
	v.SetDefault("solver.timeout", "30s")

	v.SetDefault("extractor.payload_attribute", "data-record")
	v.SetDefault("extractor.section_heading", "Participant Name")
	v.SetDefault("extractor.window", 500)

	v.SetDefault("snapshot.path", "./data/results.json")
	v.SetDefault("snapshot.every", 5)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.key", "snapshots/results.json")
}

func (c *Config) validate() error {
	if c.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be at least 1, got %d", c.Workers.Count)
	}
	if c.Queue.Capacity < 1 {
		return fmt.Errorf("queue.capacity must be at least 1, got %d", c.Queue.Capacity)
	}
	switch c.Browser.Driver {
	case "chrome", "http":
	default:
		return fmt.Errorf("unknown browser.driver %q", c.Browser.Driver)
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}
	return nil
}
