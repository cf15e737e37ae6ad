package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/lazywall/pkg/backoff"
	"github.com/Sternrassler/lazywall/pkg/logging"
	"github.com/Sternrassler/lazywall/pkg/pagination"
	"github.com/Sternrassler/lazywall/pkg/resource"
	"github.com/Sternrassler/lazywall/pkg/visibility"
	"github.com/Sternrassler/lazywall/pkg/wall"
	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceHTTP   = "http"
	SourceSQLite = "sqlite"
	SourceHTML   = "html"
)

// Config defines configuration for the lazywall binary.
type Config struct {
	PageSize       int           `yaml:"page_size"`
	InitialPage    int           `yaml:"initial_page"`
	MaxRetries     int           `yaml:"max_retries"`
	PageMaxRetries int           `yaml:"page_max_retries"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	RootMargin     float64       `yaml:"root_margin"`
	Threshold      float64       `yaml:"threshold"`
	ViewportHeight float64       `yaml:"viewport_height"`
	Columns        int           `yaml:"columns"`
	RowHeight      float64       `yaml:"row_height"`

	// DisableVisibility loads every item without waiting for it to scroll
	// into view.
	DisableVisibility bool `yaml:"disable_visibility"`

	Source    SourceConfig `yaml:"source"`
	Redis     RedisConfig  `yaml:"redis"`
	UserAgent string       `yaml:"user_agent"`
	Listen    string       `yaml:"listen"`
	Log       LogConfig    `yaml:"log"`
}

// SourceConfig selects where listing pages come from.
type SourceConfig struct {
	Kind string `yaml:"kind"`
	URL  string `yaml:"url"`
	Path string `yaml:"path"`

	// ImagesDir serves file:// image locators from this directory.
	ImagesDir string `yaml:"images_dir"`
}

// RedisConfig enables the listing cache and the shared rate-limit budget.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	pc := pagination.DefaultConfig()
	rc := resource.DefaultConfig()
	vo := visibility.DefaultOptions()
	wc := wall.DefaultConfig()
	return Config{
		PageSize:       pc.PageSize,
		InitialPage:    pc.InitialPage,
		MaxRetries:     rc.MaxRetries,
		PageMaxRetries: pc.MaxRetries,
		BaseDelay:      rc.Backoff.BaseDelay,
		MaxDelay:       rc.Backoff.MaxDelay,
		RootMargin:     vo.RootMargin,
		Threshold:      vo.Threshold,
		ViewportHeight: wc.ViewportHeight,
		Columns:        wc.Grid.Columns,
		RowHeight:      wc.Grid.RowHeight,
		Source:         SourceConfig{Kind: SourceHTTP},
		UserAgent:      "lazywall/0.1.0",
		Listen:         ":8080",
		Log:            LogConfig{Level: string(logging.LevelInfo)},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations. Retry
// counts are pointers because zero is a meaningful value.
type yamlConfig struct {
	PageSize          int          `yaml:"page_size"`
	InitialPage       *int         `yaml:"initial_page"`
	MaxRetries        *int         `yaml:"max_retries"`
	PageMaxRetries    *int         `yaml:"page_max_retries"`
	BaseDelay         string       `yaml:"base_delay"`
	MaxDelay          string       `yaml:"max_delay"`
	RootMargin        *float64     `yaml:"root_margin"`
	Threshold         *float64     `yaml:"threshold"`
	ViewportHeight    float64      `yaml:"viewport_height"`
	Columns           int          `yaml:"columns"`
	RowHeight         float64      `yaml:"row_height"`
	DisableVisibility bool         `yaml:"disable_visibility"`
	Source            SourceConfig `yaml:"source"`
	Redis             RedisConfig  `yaml:"redis"`
	UserAgent         string       `yaml:"user_agent"`
	Listen            string       `yaml:"listen"`
	Log               LogConfig    `yaml:"log"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of Default.
func Parse(data []byte) (Config, error) {
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.PageSize != 0 {
		cfg.PageSize = yc.PageSize
	}
	if yc.InitialPage != nil {
		cfg.InitialPage = *yc.InitialPage
	}
	if yc.MaxRetries != nil {
		cfg.MaxRetries = *yc.MaxRetries
	}
	if yc.PageMaxRetries != nil {
		cfg.PageMaxRetries = *yc.PageMaxRetries
	}
	if yc.BaseDelay != "" {
		d, err := time.ParseDuration(yc.BaseDelay)
		if err != nil {
			return Config{}, fmt.Errorf("parse base_delay: %w", err)
		}
		cfg.BaseDelay = d
	}
	if yc.MaxDelay != "" {
		d, err := time.ParseDuration(yc.MaxDelay)
		if err != nil {
			return Config{}, fmt.Errorf("parse max_delay: %w", err)
		}
		cfg.MaxDelay = d
	}
	if yc.RootMargin != nil {
		cfg.RootMargin = *yc.RootMargin
	}
	if yc.Threshold != nil {
		cfg.Threshold = *yc.Threshold
	}
	if yc.ViewportHeight != 0 {
		cfg.ViewportHeight = yc.ViewportHeight
	}
	if yc.Columns != 0 {
		cfg.Columns = yc.Columns
	}
	if yc.RowHeight != 0 {
		cfg.RowHeight = yc.RowHeight
	}
	cfg.DisableVisibility = yc.DisableVisibility
	if yc.Source.Kind != "" {
		cfg.Source.Kind = yc.Source.Kind
	}
	cfg.Source.URL = yc.Source.URL
	cfg.Source.Path = yc.Source.Path
	cfg.Source.ImagesDir = yc.Source.ImagesDir
	cfg.Redis = yc.Redis
	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}
	if yc.Listen != "" {
		cfg.Listen = yc.Listen
	}
	if yc.Log.Level != "" {
		cfg.Log.Level = yc.Log.Level
	}
	cfg.Log.Pretty = yc.Log.Pretty

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the LAZYWALL_ prefix.
func (c *Config) LoadFromEnv() error {
	ints := map[string]*int{
		"LAZYWALL_PAGE_SIZE":        &c.PageSize,
		"LAZYWALL_INITIAL_PAGE":     &c.InitialPage,
		"LAZYWALL_MAX_RETRIES":      &c.MaxRetries,
		"LAZYWALL_PAGE_MAX_RETRIES": &c.PageMaxRetries,
		"LAZYWALL_COLUMNS":          &c.Columns,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", key, err)
			}
			*dst = n
		}
	}

	floats := map[string]*float64{
		"LAZYWALL_ROOT_MARGIN":     &c.RootMargin,
		"LAZYWALL_THRESHOLD":       &c.Threshold,
		"LAZYWALL_VIEWPORT_HEIGHT": &c.ViewportHeight,
		"LAZYWALL_ROW_HEIGHT":      &c.RowHeight,
	}
	for key, dst := range floats {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("parse %s: %w", key, err)
			}
			*dst = f
		}
	}

	durations := map[string]*time.Duration{
		"LAZYWALL_BASE_DELAY": &c.BaseDelay,
		"LAZYWALL_MAX_DELAY":  &c.MaxDelay,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", key, err)
			}
			*dst = d
		}
	}

	strs := map[string]*string{
		"LAZYWALL_SOURCE_KIND": &c.Source.Kind,
		"LAZYWALL_SOURCE_URL":  &c.Source.URL,
		"LAZYWALL_SOURCE_PATH": &c.Source.Path,
		"LAZYWALL_IMAGES_DIR":  &c.Source.ImagesDir,
		"LAZYWALL_REDIS_ADDR":  &c.Redis.Addr,
		"LAZYWALL_USER_AGENT":  &c.UserAgent,
		"LAZYWALL_LISTEN":      &c.Listen,
		"LAZYWALL_LOG_LEVEL":   &c.Log.Level,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("LAZYWALL_LOG_PRETTY"); v != "" {
		c.Log.Pretty = v == "true" || v == "1"
	}
	if v := os.Getenv("LAZYWALL_DISABLE_VISIBILITY"); v != "" {
		c.DisableVisibility = v == "true" || v == "1"
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.PageSize <= 0 {
		return errors.New("config: page_size must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("config: max_retries must not be negative")
	}
	if c.PageMaxRetries < 0 {
		return errors.New("config: page_max_retries must not be negative")
	}
	if err := c.backoff().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := (visibility.Options{RootMargin: c.RootMargin, Threshold: c.Threshold}).Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.ViewportHeight <= 0 {
		return errors.New("config: viewport_height must be positive")
	}
	if err := (wall.Grid{Columns: c.Columns, RowHeight: c.RowHeight}).Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch c.Source.Kind {
	case SourceHTTP, SourceHTML:
		if c.Source.URL == "" {
			return fmt.Errorf("config: source.url is required for %s sources", c.Source.Kind)
		}
	case SourceSQLite:
		if c.Source.Path == "" {
			return errors.New("config: source.path is required for sqlite sources")
		}
	default:
		return fmt.Errorf("config: unknown source kind %q", c.Source.Kind)
	}
	if c.UserAgent == "" {
		return errors.New("config: user_agent is required")
	}
	return nil
}

func (c *Config) backoff() backoff.Policy {
	return backoff.Policy{BaseDelay: c.BaseDelay, MaxDelay: c.MaxDelay}
}

// Wall converts the configuration into wall settings. Page and resource
// retries share one backoff policy.
func (c *Config) Wall() wall.Config {
	wc := wall.DefaultConfig()

	wc.Pagination.PageSize = c.PageSize
	wc.Pagination.InitialPage = c.InitialPage
	wc.Pagination.MaxRetries = c.PageMaxRetries
	wc.Pagination.Backoff = c.backoff()

	wc.Resource.MaxRetries = c.MaxRetries
	wc.Resource.Backoff = c.backoff()

	wc.Visibility = visibility.Options{RootMargin: c.RootMargin, Threshold: c.Threshold}
	wc.ViewportHeight = c.ViewportHeight
	wc.Grid = wall.Grid{Columns: c.Columns, RowHeight: c.RowHeight}
	wc.DisableVisibility = c.DisableVisibility
	return wc
}

// Logging converts the configuration into logger settings. Call Validate
// first; an unknown level falls back to info.
func (c *Config) Logging() logging.Config {
	lc := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		lc.Level = level
	}
	lc.Pretty = c.Log.Pretty
	return lc
}
