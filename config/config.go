package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"supplier_ingest/extract"
)

// Duplicate policies
const (
	DuplicateCreate = "create"
	DuplicateSkip   = "skip"
)

type Config struct {
	Supplier    string
	Credentials CredentialsConfig
	Database    DatabaseConfig
	S3          S3Config
	Proxy       ProxyConfig
	Scraper     ScraperConfig
	Scheduler   SchedulerConfig
	MetricsAddr string
	DBPath      string
	LogFile     string
	ProfileDir  string
	Suppliers   map[string]*SupplierProfile
}

type CredentialsConfig struct {
	Username string
	Password string
}

type DatabaseConfig struct {
	URL string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for DO Spaces, R2, MinIO, etc.
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
}

type ProxyConfig struct {
	URL      string // HTTP proxy for supplier traffic
	RelayURL string // fetch relay prefix, target URL is appended query-escaped
}

type ScraperConfig struct {
	ListingDelay     time.Duration
	CategoryDelay    time.Duration
	Timeout          time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	RetryBackoffMax  time.Duration
	Multiplier       float64
	LimitPerCategory int
	DuplicatePolicy  string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

// LoginConfig describes the supplier's login form
type LoginConfig struct {
	Path            string            `yaml:"path"`
	UsernameField   string            `yaml:"username_field"`
	PasswordField   string            `yaml:"password_field"`
	ExtraFields     map[string]string `yaml:"extra_fields"`
	CSRFField       string            `yaml:"csrf_field"` // hidden input read from the login page first
	TokenHeader     string            `yaml:"token_header"`
	FailureSelector string            `yaml:"failure_selector"`
}

// SupplierProfile is loaded from config/suppliers/<id>.yaml
type SupplierProfile struct {
	ID               string           `yaml:"id"`
	Name             string           `yaml:"name"`
	BaseURL          string           `yaml:"base_url"`
	LandingPath      string           `yaml:"landing_path"`
	UserAgent        string           `yaml:"user_agent"`
	RequireAuth      bool             `yaml:"require_auth"`
	CloudflareBypass bool             `yaml:"cloudflare_bypass"`
	DefaultCondition string           `yaml:"default_condition"`
	Login            LoginConfig      `yaml:"login"`
	Selectors        extract.Strategy `yaml:"selectors"`
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Supplier: getEnv("SUPPLIER", "demo"),
		Credentials: CredentialsConfig{
			Username: os.Getenv("SUPPLIER_USERNAME"),
			Password: os.Getenv("SUPPLIER_PASSWORD"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			PublicBaseURL:   os.Getenv("S3_PUBLIC_BASE_URL"),
		},
		Proxy: ProxyConfig{
			URL:      os.Getenv("HTTP_PROXY_URL"),
			RelayURL: os.Getenv("FETCH_RELAY_URL"),
		},
		Scraper: ScraperConfig{
			ListingDelay:     getEnvDuration("LISTING_DELAY", 2*time.Second),
			CategoryDelay:    getEnvDuration("CATEGORY_DELAY", 3*time.Second),
			Timeout:          getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
			MaxRetries:       getEnvInt("FETCH_MAX_RETRIES", 2),
			RetryBackoff:     getEnvDuration("FETCH_RETRY_BACKOFF", 500*time.Millisecond),
			RetryBackoffMax:  getEnvDuration("FETCH_RETRY_BACKOFF_MAX", 5*time.Second),
			Multiplier:       getEnvFloat("PRICE_MULTIPLIER", 1.3),
			LimitPerCategory: getEnvInt("LIMIT_PER_CATEGORY", 0),
			DuplicatePolicy:  getEnv("DUPLICATE_POLICY", DuplicateCreate),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		DBPath:      getEnv("DB_PATH", "ingest.db"),
		LogFile:     getEnv("LOG_FILE", "ingest.log"),
		ProfileDir:  getEnv("SUPPLIER_PROFILE_DIR", "config/suppliers"),
		Suppliers:   make(map[string]*SupplierProfile),
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadSupplierProfiles(); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.Scraper.ListingDelay < 0 || c.Scraper.CategoryDelay < 0 {
		return fmt.Errorf("delays cannot be negative")
	}
	if c.Scraper.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Scraper.RetryBackoffMax > 0 && c.Scraper.RetryBackoff > c.Scraper.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.Scraper.RetryBackoff, c.Scraper.RetryBackoffMax)
	}
	if c.Scraper.Multiplier <= 0 {
		return fmt.Errorf("price multiplier must be positive")
	}
	if c.Scraper.LimitPerCategory < 0 {
		return fmt.Errorf("limit per category cannot be negative")
	}
	if c.Scraper.DuplicatePolicy != DuplicateCreate && c.Scraper.DuplicatePolicy != DuplicateSkip {
		return fmt.Errorf("duplicate policy must be %q or %q", DuplicateCreate, DuplicateSkip)
	}
	if c.Proxy.RelayURL != "" {
		if u, err := url.Parse(c.Proxy.RelayURL); err != nil || u.Host == "" {
			return fmt.Errorf("invalid fetch relay url %q", c.Proxy.RelayURL)
		}
	}
	return nil
}

// Profile returns the active supplier profile.
func (c *Config) Profile() (*SupplierProfile, error) {
	p, ok := c.Suppliers[c.Supplier]
	if !ok {
		return nil, fmt.Errorf("unknown supplier: %s", c.Supplier)
	}
	return p, nil
}

func (c *Config) loadSupplierProfiles() error {
	entries, err := os.ReadDir(c.ProfileDir)
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

		profile, err := LoadProfile(filepath.Join(c.ProfileDir, entry.Name()))
		if err != nil {
			return err
		}
		c.Suppliers[profile.ID] = profile
	}

	return nil
}

// LoadProfile reads one supplier profile and fills in defaults.
func LoadProfile(path string) (*SupplierProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseProfile(data)
}

func ParseProfile(data []byte) (*SupplierProfile, error) {
	var p SupplierProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse supplier profile: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("supplier profile missing id")
	}
	if u, err := url.Parse(p.BaseURL); err != nil || u.Host == "" {
		return nil, fmt.Errorf("supplier %s: invalid base_url %q", p.ID, p.BaseURL)
	}

	if p.UserAgent == "" {
		p.UserAgent = defaultUserAgent
	}
	if p.LandingPath == "" {
		p.LandingPath = "/"
	}
	if p.DefaultCondition == "" {
		p.DefaultCondition = "new"
	}
	if p.Login.Path == "" {
		p.Login.Path = "/login"
	}
	if p.Login.UsernameField == "" {
		p.Login.UsernameField = "username"
	}
	if p.Login.PasswordField == "" {
		p.Login.PasswordField = "password"
	}
	p.Selectors = extract.DefaultStrategy().Merge(p.Selectors)

	return &p, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
