// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Fill      FillConfig      `mapstructure:"fill" yaml:"fill"`
	Columns   ColumnsConfig   `mapstructure:"columns" yaml:"columns"`
	Selectors SelectorsConfig `mapstructure:"selectors" yaml:"selectors"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Trigger   TriggerConfig   `mapstructure:"trigger" yaml:"trigger"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// FillConfig tunes a fill pass. DelayMs, Verbose and AutoMode are the user facing
// settings; they can be overridden per run by the persisted settings store.
type FillConfig struct {
	DelayMs             int           `mapstructure:"delay_ms" yaml:"delay_ms"`
	Verbose             bool          `mapstructure:"verbose" yaml:"verbose"`
	AutoMode            bool          `mapstructure:"auto_mode" yaml:"auto_mode"`
	DropdownMaxAttempts int           `mapstructure:"dropdown_max_attempts" yaml:"dropdown_max_attempts"`
	DropdownRetryDelay  time.Duration `mapstructure:"dropdown_retry_delay" yaml:"dropdown_retry_delay"`
	SearchTimeout       time.Duration `mapstructure:"search_timeout" yaml:"search_timeout"`
	SubmitDelay         time.Duration `mapstructure:"submit_delay" yaml:"submit_delay"`
	PageSettleDelay     time.Duration `mapstructure:"page_settle_delay" yaml:"page_settle_delay"`
	ReadyTimeout        time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	MaxPages            int           `mapstructure:"max_pages" yaml:"max_pages"`
}

// FieldDelay returns the inter-field pause as a duration.
func (f FillConfig) FieldDelay() time.Duration {
	return time.Duration(f.DelayMs) * time.Millisecond
}

// ColumnsConfig names the CSV header columns that feed each form field.
type ColumnsConfig struct {
	Name          string `mapstructure:"name" yaml:"name"`
	Type          string `mapstructure:"type" yaml:"type"`
	PricingGroup  string `mapstructure:"pricing_group" yaml:"pricing_group"`
	PricingOption string `mapstructure:"pricing_option" yaml:"pricing_option"`
	Discount      string `mapstructure:"discount" yaml:"discount"`
	// NoSelection is the discount value meaning "intentionally empty".
	NoSelection string `mapstructure:"no_selection" yaml:"no_selection"`
}

// SelectorsConfig holds XPath expressions used to locate form elements. Row
// relative expressions start with "./" and are evaluated against a row.
type SelectorsConfig struct {
	Rows          string `mapstructure:"rows" yaml:"rows"`
	NameCell      string `mapstructure:"name_cell" yaml:"name_cell"`
	Type          string `mapstructure:"type" yaml:"type"`
	PricingGroup  string `mapstructure:"pricing_group" yaml:"pricing_group"`
	PricingOption string `mapstructure:"pricing_option" yaml:"pricing_option"`
	Discount      string `mapstructure:"discount" yaml:"discount"`
	SearchInput   string `mapstructure:"search_input" yaml:"search_input"`
	SearchResults string `mapstructure:"search_results" yaml:"search_results"`
	Form          string `mapstructure:"form" yaml:"form"`
	SaveButton    string `mapstructure:"save_button" yaml:"save_button"`
	NextPage      string `mapstructure:"next_page" yaml:"next_page"`
}

// BrowserConfig holds settings for the Chrome instance driven over CDP.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	RemoteURL         string        `mapstructure:"remote_url" yaml:"remote_url"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	Debug             bool          `mapstructure:"debug" yaml:"debug"`
}

// StoreConfig selects where settings and pass history are persisted.
type StoreConfig struct {
	// Backend is "file" or "postgres".
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Path        string `mapstructure:"path" yaml:"path"`
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	HistorySize int    `mapstructure:"history_size" yaml:"history_size"`
}

// TriggerConfig configures the local command endpoint.
type TriggerConfig struct {
	Addr          string        `mapstructure:"addr" yaml:"addr"`
	RatePerSecond float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst         int           `mapstructure:"burst" yaml:"burst"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
}

// classContains builds the XPath equivalent of a CSS class selector.
func classContains(class string) string {
	return fmt.Sprintf("contains(concat(' ', normalize-space(@class), ' '), ' %s ')", class)
}

// DefaultDataDir returns ~/.rosterfill, falling back to the working directory.
func DefaultDataDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".rosterfill"
	}
	return filepath.Join(home, ".rosterfill")
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "rosterfill")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Fill --
	v.SetDefault("fill.delay_ms", 250)
	v.SetDefault("fill.verbose", true)
	v.SetDefault("fill.auto_mode", false)
	v.SetDefault("fill.dropdown_max_attempts", 5)
	v.SetDefault("fill.dropdown_retry_delay", "200ms")
	v.SetDefault("fill.search_timeout", "8s")
	v.SetDefault("fill.submit_delay", "300ms")
	v.SetDefault("fill.page_settle_delay", "2s")
	v.SetDefault("fill.ready_timeout", "30s")
	v.SetDefault("fill.max_pages", 50)

	// -- Columns --
	v.SetDefault("columns.name", "Child Name")
	v.SetDefault("columns.type", "Child Type")
	v.SetDefault("columns.pricing_group", "Pricing Group")
	v.SetDefault("columns.pricing_option", "Pricing Option")
	v.SetDefault("columns.discount", "Discounts")
	v.SetDefault("columns.no_selection", "0")

	// -- Selectors --
	v.SetDefault("selectors.rows", "//table/tbody/tr")
	v.SetDefault("selectors.name_cell", "./td[2]")
	v.SetDefault("selectors.type", ".//*["+classContains("child-type")+"]")
	v.SetDefault("selectors.pricing_group", ".//*["+classContains("child-pricing-group")+"]")
	v.SetDefault("selectors.pricing_option", ".//*["+classContains("child-pricing-options")+"]")
	v.SetDefault("selectors.discount", "./td[4]//*["+classContains("select2-container")+"]")
	v.SetDefault("selectors.search_input", ".//*["+classContains("select2-search__field")+"]")
	v.SetDefault("selectors.search_results", "//*["+classContains("select2-results__option")+"]")
	v.SetDefault("selectors.form", "(//form)[1]")
	v.SetDefault("selectors.save_button", "//input["+classContains("btn-success")+" and @value='Save']")
	v.SetDefault("selectors.next_page", "//a[@aria-label='Next page']")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.action_timeout", "15s")
	v.SetDefault("browser.post_load_wait", "1s")
	v.SetDefault("browser.debug", false)

	// -- Store --
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", filepath.Join(DefaultDataDir(), "settings.json"))
	v.SetDefault("store.history_size", 100)

	// -- Trigger --
	v.SetDefault("trigger.addr", "127.0.0.1:8765")
	v.SetDefault("trigger.rate_per_second", 1.0)
	v.SetDefault("trigger.burst", 2)
	v.SetDefault("trigger.shutdown_grace", "10s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.BindEnv("store.database_url", "ROSTERFILL_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Fill.Validate(); err != nil {
		return fmt.Errorf("fill configuration invalid: %w", err)
	}
	if c.Columns.Name == "" {
		return fmt.Errorf("columns.name is required")
	}
	if err := c.Selectors.Validate(); err != nil {
		return fmt.Errorf("selectors configuration invalid: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the fill tuning knobs.
func (f *FillConfig) Validate() error {
	if f.DelayMs < 0 {
		return fmt.Errorf("delay_ms must be zero or greater")
	}
	if f.DropdownMaxAttempts <= 0 {
		return fmt.Errorf("dropdown_max_attempts must be a positive integer")
	}
	if f.DropdownRetryDelay < 0 {
		return fmt.Errorf("dropdown_retry_delay must not be negative")
	}
	if f.SearchTimeout <= 0 {
		return fmt.Errorf("search_timeout must be a positive duration")
	}
	if f.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be a positive integer")
	}
	return nil
}

// Validate checks that every element locator is present.
func (s *SelectorsConfig) Validate() error {
	required := map[string]string{
		"rows":           s.Rows,
		"name_cell":      s.NameCell,
		"type":           s.Type,
		"pricing_group":  s.PricingGroup,
		"pricing_option": s.PricingOption,
		"discount":       s.Discount,
		"search_input":   s.SearchInput,
		"search_results": s.SearchResults,
		"form":           s.Form,
		"save_button":    s.SaveButton,
		"next_page":      s.NextPage,
	}
	for name, expr := range required {
		if expr == "" {
			return fmt.Errorf("%s selector is required", name)
		}
	}
	return nil
}

// Validate checks the store backend selection.
func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case "file":
		if s.Path == "" {
			return fmt.Errorf("path is required for the file backend")
		}
	case "postgres":
		if s.DatabaseURL == "" {
			return fmt.Errorf("database_url is required for the postgres backend (ROSTERFILL_DATABASE_URL)")
		}
	default:
		return fmt.Errorf("unknown backend %q, expected 'file' or 'postgres'", s.Backend)
	}
	if s.HistorySize < 0 {
		return fmt.Errorf("history_size must not be negative")
	}
	return nil
}
