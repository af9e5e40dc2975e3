package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Scraping ScrapingConfig         `yaml:"scraping"`
	Database DatabaseConfig         `yaml:"database"`
	Logging  LoggingConfig          `yaml:"logging"`
	Mirror   MirrorConfig           `yaml:"mirror"`
	HTTP     HTTPConfig             `yaml:"http"`
	Sites    map[string]*SiteConfig `yaml:"websites"`
}

type ScrapingConfig struct {
	IntervalMinutes int           `yaml:"interval_minutes"`
	Cron            string        `yaml:"cron"`
	MaxPages        int           `yaml:"max_pages"`
	PageDelay       time.Duration `yaml:"page_delay"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ParallelSources bool          `yaml:"parallel_sources"`
	// StaleAfter is how long a listing may go unseen before it is marked
	// inactive.
	StaleAfter      time.Duration `yaml:"stale_after"`
}

func (s ScrapingConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
}

type LoggingConfig struct {
	Level     string       `yaml:"level"`
	File      string       `yaml:"file"`
	MaxSizeMB int          `yaml:"max_size_mb"`
	Backups   int          `yaml:"backups"`
	Format    string       `yaml:"format"`
	Color     bool         `yaml:"color"`
	Fluent    FluentConfig `yaml:"fluent"`
}

type FluentConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	TagPrefix string `yaml:"tag_prefix"`
}

type MirrorConfig struct {
	GoogleSheets SheetsConfig `yaml:"google_sheets"`
	S3           S3Config     `yaml:"s3"`
	AMQP         AMQPConfig   `yaml:"amqp"`
}

type SheetsConfig struct {
	Enabled            bool   `yaml:"enabled"`
	ServiceAccountFile string `yaml:"service_account_file"`
	SheetID            string `yaml:"sheet_id"`
	WorksheetName      string `yaml:"worksheet_name"`
}

// S3Config holds configuration for S3-compatible storage
type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"` // Optional: for DO Spaces, R2, MinIO
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`
}

type AMQPConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	Exchange     string `yaml:"exchange"`
	ExchangeType string `yaml:"exchange_type"`
	RoutingKey   string `yaml:"routing_key"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type SiteConfig struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Handler     string      `yaml:"handler"`
	Profile     string      `yaml:"profile"`
	BaseURL     string      `yaml:"base_url"`
	RateLimitMS int         `yaml:"rate_limit_ms"`
	IDPattern   string      `yaml:"id_pattern"`
	PageParam   string      `yaml:"page_param"`
	UserAgent   string      `yaml:"user_agent"`
	Selectors   Selectors   `yaml:"selectors"`
	SearchURLs  []SearchURL `yaml:"search_urls"`
}

type SearchURL struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Selectors overrides a profile's built-in selector lists. Empty fields keep
// the profile default.
type Selectors struct {
	Cards                 []string `yaml:"cards"`
	FallbackCards         []string `yaml:"fallback_cards"`
	Title                 []string `yaml:"title"`
	Price                 []string `yaml:"price"`
	Location              []string `yaml:"location"`
	Details               []string `yaml:"details"`
	DetailTitle           []string `yaml:"detail_title"`
	Description           []string `yaml:"description"`
	Gallery               []string `yaml:"gallery"`
	DefaultLocation       string   `yaml:"default_location"`
	DetailDefaultLocation string   `yaml:"detail_default_location"`
}

var envRefRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// DefaultPath is the config file used when no -config flag is given.
func DefaultPath() string {
	return getEnv("HOMEUS_CONFIG", "config/config.yaml")
}

// Load reads .env, the YAML file at path with ${VAR} and ${VAR:default}
// references expanded, and any site files under <dir>/sites.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{Sites: make(map[string]*SiteConfig)}
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Sites == nil {
		cfg.Sites = make(map[string]*SiteConfig)
	}

	if err := cfg.loadSiteConfigs(filepath.Join(filepath.Dir(path), "sites")); err != nil {
		return nil, fmt.Errorf("load site configs: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces ${VAR} and ${VAR:default}. Unset variables without a
// default expand to the empty string.
func ExpandEnv(s string) string {
	return envRefRegex.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRefRegex.FindStringSubmatch(ref)
		if val, ok := os.LookupEnv(m[1]); ok && val != "" {
			return val
		}
		return m[2]
	})
}

func (c *Config) loadSiteConfigs(configDir string) error {
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var site SiteConfig
		if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), &site); err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}
		if site.ID == "" {
			site.ID = strings.TrimSuffix(entry.Name(), ".yaml")
		}

		c.Sites[site.ID] = &site
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Scraping.IntervalMinutes <= 0 {
		c.Scraping.IntervalMinutes = 30
	}
	if c.Scraping.MaxPages <= 0 {
		c.Scraping.MaxPages = 5
	}
	if c.Scraping.PageDelay <= 0 {
		c.Scraping.PageDelay = 2 * time.Second
	}
	if c.Scraping.RequestTimeout <= 0 {
		c.Scraping.RequestTimeout = 30 * time.Second
	}
	if c.Scraping.StaleAfter <= 0 {
		c.Scraping.StaleAfter = 14 * 24 * time.Hour
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/properties.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.Backups <= 0 {
		c.Logging.Backups = 5
	}
	if c.Logging.Fluent.TagPrefix == "" {
		c.Logging.Fluent.TagPrefix = "homeus"
	}

	if c.Mirror.GoogleSheets.WorksheetName == "" {
		c.Mirror.GoogleSheets.WorksheetName = "Properties"
	}
	if c.Mirror.AMQP.RoutingKey == "" {
		c.Mirror.AMQP.RoutingKey = "listings.new"
	}

	for id, site := range c.Sites {
		if site.ID == "" {
			site.ID = id
		}
		if site.Name == "" {
			site.Name = site.ID
		}
		if site.Handler == "" {
			site.Handler = "html"
		}
		if site.Profile == "" {
			site.Profile = site.ID
		}
		if site.PageParam == "" {
			site.PageParam = "page"
		}
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}

	if len(c.Sites) == 0 {
		return fmt.Errorf("no websites configured")
	}
	for id, site := range c.Sites {
		if len(site.SearchURLs) == 0 {
			return fmt.Errorf("website %s has no search_urls", id)
		}
		if site.IDPattern != "" {
			if _, err := regexp.Compile(site.IDPattern); err != nil {
				return fmt.Errorf("website %s: invalid id_pattern: %w", id, err)
			}
		}
	}

	if s := c.Mirror.GoogleSheets; s.Enabled && (s.SheetID == "" || s.ServiceAccountFile == "") {
		return fmt.Errorf("google_sheets mirror needs sheet_id and service_account_file")
	}
	if s := c.Mirror.S3; s.Enabled && s.Bucket == "" {
		return fmt.Errorf("s3 mirror needs a bucket")
	}
	if a := c.Mirror.AMQP; a.Enabled && a.URL == "" {
		return fmt.Errorf("amqp mirror needs a url")
	}
	return nil
}

// SiteIDs returns configured site ids in a stable order.
func (c *Config) SiteIDs() []string {
	ids := make([]string, 0, len(c.Sites))
	for id := range c.Sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
