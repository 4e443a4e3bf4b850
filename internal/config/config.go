// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/cadence-cli/internal/clock"
)

// Supported page driver backends.
const (
	BackendChromedp = "chromedp"
	BackendRod      = "rod"
)

// Supported session history drivers. An empty driver disables persistence.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Account    AccountConfig    `mapstructure:"account" yaml:"account"`
	Navigator  NavigatorConfig  `mapstructure:"navigator" yaml:"navigator"`
	Engagement EngagementConfig `mapstructure:"engagement" yaml:"engagement"`
	Schedule   ScheduleConfig   `mapstructure:"schedule" yaml:"schedule"`
	Journal    JournalConfig    `mapstructure:"journal" yaml:"journal"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Status     StatusConfig     `mapstructure:"status" yaml:"status"`
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

// BrowserConfig holds settings for the controlled browser.
type BrowserConfig struct {
	Backend  string `mapstructure:"backend" yaml:"backend"`
	Headless bool   `mapstructure:"headless" yaml:"headless"`
	ExecPath string `mapstructure:"exec_path" yaml:"exec_path"`
	// UserDataDir keeps cookies between sessions so a login can survive a restart.
	UserDataDir      string   `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	ProfileDirectory string   `mapstructure:"profile_directory" yaml:"profile_directory"`
	Args             []string `mapstructure:"args" yaml:"args"`
	WindowWidth      int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight     int      `mapstructure:"window_height" yaml:"window_height"`
	// ImplicitWait bounds how long an element lookup waits for a first match.
	ImplicitWait    time.Duration `mapstructure:"implicit_wait" yaml:"implicit_wait"`
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout" yaml:"page_load_timeout"`
}

// AccountConfig holds the automated account's credentials. Both values are secrets and are
// never written back out.
type AccountConfig struct {
	Username string `mapstructure:"username" yaml:"-"`
	Password string `mapstructure:"password" yaml:"-"`
}

// HasCredentials reports whether both halves of the credential pair are present.
func (a AccountConfig) HasCredentials() bool {
	return a.Username != "" && a.Password != ""
}

// LoginSelectors locate the login form.
type LoginSelectors struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Submit   string `mapstructure:"submit" yaml:"submit"`
}

// NavigatorConfig drives authentication and tag discovery.
type NavigatorConfig struct {
	LoginURL          string         `mapstructure:"login_url" yaml:"login_url"`
	TagURL            string         `mapstructure:"tag_url" yaml:"tag_url"`
	Tags              []string       `mapstructure:"tags" yaml:"tags"`
	Selectors         LoginSelectors `mapstructure:"selectors" yaml:"selectors"`
	FieldPause        time.Duration  `mapstructure:"field_pause" yaml:"field_pause"`
	SubmitPause       time.Duration  `mapstructure:"submit_pause" yaml:"submit_pause"`
	PostSubmit        clock.Range    `mapstructure:"post_submit" yaml:"post_submit"`
	DiscoverSettle    clock.Range    `mapstructure:"discover_settle" yaml:"discover_settle"`
	PostDiscoverPause time.Duration  `mapstructure:"post_discover_pause" yaml:"post_discover_pause"`
}

// FeedSelectors locate the first post of each feed variant.
type FeedSelectors struct {
	Trending string `mapstructure:"trending" yaml:"trending"`
	Recent   string `mapstructure:"recent" yaml:"recent"`
}

// EngagementConfig drives the engagement loop.
type EngagementConfig struct {
	Budget    clock.IntRange `mapstructure:"budget" yaml:"budget"`
	FirstPost FeedSelectors  `mapstructure:"first_post" yaml:"first_post"`
	// ControlSelector is the engagement control itself; StateSelector is the node whose
	// StateAttribute tells whether the action was already applied.
	ControlSelector    string        `mapstructure:"control_selector" yaml:"control_selector"`
	StateSelector      string        `mapstructure:"state_selector" yaml:"state_selector"`
	StateAttribute     string        `mapstructure:"state_attribute" yaml:"state_attribute"`
	UnappliedValue     string        `mapstructure:"unapplied_value" yaml:"unapplied_value"`
	PaginationSelector string        `mapstructure:"pagination_selector" yaml:"pagination_selector"`
	EntrySettle        clock.Range   `mapstructure:"entry_settle" yaml:"entry_settle"`
	ActionPause        time.Duration `mapstructure:"action_pause" yaml:"action_pause"`
	AdvanceBackoff     clock.Nested  `mapstructure:"advance_backoff" yaml:"advance_backoff"`
	// MaxActionsPerHour caps applied actions across sessions. Zero disables the cap.
	MaxActionsPerHour int `mapstructure:"max_actions_per_hour" yaml:"max_actions_per_hour"`
	// Seed fixes the random sequence. Zero seeds from the wall clock.
	Seed uint64 `mapstructure:"seed" yaml:"seed"`
}

// ScheduleConfig drives the outer session loop.
type ScheduleConfig struct {
	CoolDown clock.Nested `mapstructure:"cooldown" yaml:"cooldown"`
	// MaxSessions stops the scheduler after that many sessions. Zero runs forever.
	MaxSessions    int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	ReleaseTimeout time.Duration `mapstructure:"release_timeout" yaml:"release_timeout"`
}

// JournalConfig configures the human-readable action journal.
type JournalConfig struct {
	Path       string `mapstructure:"path" yaml:"path"`
	Timestamps bool   `mapstructure:"timestamps" yaml:"timestamps"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	// Keep is how many recent lines stay in memory for the status surface.
	Keep int `mapstructure:"keep" yaml:"keep"`
}

// DatabaseConfig holds the session history store connection details.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	URL    string `mapstructure:"url" yaml:"-"`
}

// StatusConfig configures the read-only HTTP status surface.
type StatusConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	RequestsPerMin int           `mapstructure:"requests_per_min" yaml:"requests_per_min"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
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
	v.SetDefault("logger.service_name", "cadence")
	v.SetDefault("logger.log_file", "cadence.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.backend", BackendChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.implicit_wait", "60s")
	v.SetDefault("browser.page_load_timeout", "480s")

	// -- Navigator --
	v.SetDefault("navigator.login_url", "https://www.instagram.com/accounts/login/?source=auth_switcher")
	v.SetDefault("navigator.tag_url", "https://www.instagram.com/explore/tags/")
	v.SetDefault("navigator.tags", []string{"起業", "独立"})
	v.SetDefault("navigator.selectors.username", `input[name="username"]`)
	v.SetDefault("navigator.selectors.password", `input[name="password"]`)
	v.SetDefault("navigator.selectors.submit", `button[type="submit"]`)
	v.SetDefault("navigator.field_pause", "1s")
	v.SetDefault("navigator.submit_pause", "5s")
	v.SetDefault("navigator.post_submit.min", "2s")
	v.SetDefault("navigator.post_submit.max", "5s")
	v.SetDefault("navigator.discover_settle.min", "2s")
	v.SetDefault("navigator.discover_settle.max", "10s")
	v.SetDefault("navigator.post_discover_pause", "10s")

	// -- Engagement --
	v.SetDefault("engagement.budget.min", 3)
	v.SetDefault("engagement.budget.max", 5)
	v.SetDefault("engagement.first_post.trending", "div._aagw")
	v.SetDefault("engagement.first_post.recent", "article > div:nth-child(3) div._aagw")
	v.SetDefault("engagement.control_selector", "span._aamw > button")
	v.SetDefault("engagement.state_selector", "span._aamw > button svg")
	v.SetDefault("engagement.state_attribute", "aria-label")
	v.SetDefault("engagement.unapplied_value", "いいね！")
	v.SetDefault("engagement.pagination_selector", "div._aaqh > button")
	v.SetDefault("engagement.entry_settle.min", "2s")
	v.SetDefault("engagement.entry_settle.max", "10s")
	v.SetDefault("engagement.action_pause", "1s")
	v.SetDefault("engagement.advance_backoff.lower.min", "2s")
	v.SetDefault("engagement.advance_backoff.lower.max", "5s")
	v.SetDefault("engagement.advance_backoff.upper.min", "10s")
	v.SetDefault("engagement.advance_backoff.upper.max", "15s")
	v.SetDefault("engagement.max_actions_per_hour", 0)
	v.SetDefault("engagement.seed", 0)

	// -- Schedule --
	v.SetDefault("schedule.cooldown.lower.min", "20m")
	v.SetDefault("schedule.cooldown.lower.max", "30m")
	v.SetDefault("schedule.cooldown.upper.min", "40m")
	v.SetDefault("schedule.cooldown.upper.max", "50m")
	v.SetDefault("schedule.max_sessions", 0)
	v.SetDefault("schedule.release_timeout", "30s")

	// -- Journal --
	v.SetDefault("journal.path", "journal.txt")
	v.SetDefault("journal.timestamps", false)
	v.SetDefault("journal.max_size", 10)
	v.SetDefault("journal.max_backups", 3)
	v.SetDefault("journal.max_age", 0)
	v.SetDefault("journal.keep", 200)

	// -- Database --
	v.SetDefault("database.driver", "")
	v.SetDefault("database.url", "")

	// -- Status --
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.addr", "127.0.0.1:8089")
	v.SetDefault("status.requests_per_min", 60)
	v.SetDefault("status.shutdown_grace", "5s")
}

// BindSecrets binds the credential and database settings to explicit environment variables.
func BindSecrets(v *viper.Viper) {
	_ = v.BindEnv("account.username", "CADENCE_ACCOUNT_USERNAME")
	_ = v.BindEnv("account.password", "CADENCE_ACCOUNT_PASSWORD")
	_ = v.BindEnv("database.url", "CADENCE_DATABASE_URL")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	BindSecrets(v)

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves "~" in every filesystem path setting.
func (c *Config) ExpandPaths() error {
	paths := []*string{&c.Journal.Path, &c.Logger.LogFile, &c.Browser.UserDataDir, &c.Browser.ExecPath}
	if c.Database.Driver == DriverSQLite {
		paths = append(paths, &c.Database.URL)
	}
	for _, p := range paths {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("could not resolve path '%s': %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser: %w", err)
	}
	if err := c.Navigator.Validate(); err != nil {
		return fmt.Errorf("navigator: %w", err)
	}
	if err := c.Engagement.Validate(); err != nil {
		return fmt.Errorf("engagement: %w", err)
	}
	if err := c.Schedule.Validate(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Journal.Path == "" {
		return errors.New("journal.path is required")
	}
	if c.Status.Enabled && c.Status.Addr == "" {
		return errors.New("status.addr is required when the status server is enabled")
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	switch b.Backend {
	case BackendChromedp, BackendRod:
	default:
		return fmt.Errorf("unknown backend %q (want %q or %q)", b.Backend, BackendChromedp, BackendRod)
	}
	if b.ImplicitWait <= 0 {
		return errors.New("implicit_wait must be a positive duration")
	}
	if b.PageLoadTimeout <= 0 {
		return errors.New("page_load_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the navigator settings.
func (n *NavigatorConfig) Validate() error {
	if len(n.Tags) == 0 {
		return errors.New("tags must contain at least one tag")
	}
	for _, tag := range n.Tags {
		if strings.TrimSpace(tag) == "" {
			return errors.New("tags must not contain blank entries")
		}
	}
	if n.LoginURL == "" || n.TagURL == "" {
		return errors.New("login_url and tag_url are required")
	}
	if err := n.PostSubmit.Validate(); err != nil {
		return fmt.Errorf("post_submit: %w", err)
	}
	if err := n.DiscoverSettle.Validate(); err != nil {
		return fmt.Errorf("discover_settle: %w", err)
	}
	return nil
}

// Validate checks the engagement settings.
func (e *EngagementConfig) Validate() error {
	if e.Budget.Min < 1 {
		return errors.New("budget.min must be at least 1")
	}
	if err := e.Budget.Validate(); err != nil {
		return fmt.Errorf("budget: %w", err)
	}
	if e.ControlSelector == "" || e.StateSelector == "" || e.PaginationSelector == "" {
		return errors.New("control_selector, state_selector and pagination_selector are required")
	}
	if e.FirstPost.Trending == "" || e.FirstPost.Recent == "" {
		return errors.New("first_post.trending and first_post.recent are required")
	}
	if err := e.EntrySettle.Validate(); err != nil {
		return fmt.Errorf("entry_settle: %w", err)
	}
	if err := e.AdvanceBackoff.Validate(); err != nil {
		return fmt.Errorf("advance_backoff: %w", err)
	}
	if e.MaxActionsPerHour < 0 {
		return errors.New("max_actions_per_hour must not be negative")
	}
	return nil
}

// Validate checks the schedule settings.
func (s *ScheduleConfig) Validate() error {
	if err := s.CoolDown.Validate(); err != nil {
		return fmt.Errorf("cooldown: %w", err)
	}
	if s.CoolDown.Lower.Min <= 0 || s.CoolDown.Upper.Min <= 0 {
		return errors.New("cooldown bounds must be strictly positive")
	}
	if s.MaxSessions < 0 {
		return errors.New("max_sessions must not be negative")
	}
	if s.ReleaseTimeout <= 0 {
		return errors.New("release_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the database settings.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case "":
		return nil
	case DriverPostgres, DriverSQLite:
		if d.URL == "" {
			return fmt.Errorf("url is required for driver %q", d.Driver)
		}
		return nil
	default:
		return fmt.Errorf("unknown driver %q (want %q, %q or empty)", d.Driver, DriverPostgres, DriverSQLite)
	}
}
