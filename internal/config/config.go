package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	_ "time/tzdata" // IANA zones on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultGranularityMinutes = 30
	DefaultHorizonDays        = 7
	DefaultRefreshCron        = "*/15 * * * *"
	DefaultListen             = "127.0.0.1:8080"
	DefaultTimezone           = "UTC"
	DefaultCacheDir           = "./var/ics-cache"

	envPrefix = "HANGOUTCAL"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// SourceID returns ID, falling back to Name and then URL.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone whose calendar defines day boundaries.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron drives re-population of the busy index.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is the number of days (starting today) kept in the busy index.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// GranularityMinutes is the length of one selectable slot.
	GranularityMinutes int `yaml:"granularity_minutes" json:"granularity_minutes"`

	// DurationsMinutes lists the meeting lengths offered in time-slots mode.
	// Each must be a positive multiple of GranularityMinutes.
	DurationsMinutes []int `yaml:"durations_minutes" json:"durations_minutes"`

	// CacheDir holds per-URL ICS bodies and HTTP cache metadata.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Log LogConfig `yaml:"log" json:"log"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:             DefaultListen,
		Timezone:           DefaultTimezone,
		RefreshCron:        DefaultRefreshCron,
		HorizonDays:        DefaultHorizonDays,
		GranularityMinutes: DefaultGranularityMinutes,
		DurationsMinutes:   []int{30, 60},
		CacheDir:           DefaultCacheDir,
		ICS:                []ICSConfig{},
		Log:                LogConfig{Level: "info", Format: "json"},
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly. Durations that are not a positive multiple of the
// granularity are dropped; an empty list falls back to one and two units.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = DefaultRefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = DefaultHorizonDays
	}
	if c.GranularityMinutes <= 0 || c.GranularityMinutes > 60 || 60%c.GranularityMinutes != 0 {
		c.GranularityMinutes = DefaultGranularityMinutes
	}

	seen := make(map[int]bool, len(c.DurationsMinutes))
	durations := make([]int, 0, len(c.DurationsMinutes))
	for _, d := range c.DurationsMinutes {
		if d <= 0 || d%c.GranularityMinutes != 0 || seen[d] {
			continue
		}
		seen[d] = true
		durations = append(durations, d)
	}
	if len(durations) == 0 {
		durations = []int{c.GranularityMinutes, 2 * c.GranularityMinutes}
	}
	sort.Ints(durations)
	c.DurationsMinutes = durations

	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Granularity returns GranularityMinutes as a time.Duration.
func (c *Config) Granularity() time.Duration {
	return time.Duration(c.GranularityMinutes) * time.Minute
}

// Durations returns DurationsMinutes as time.Durations.
func (c *Config) Durations() []time.Duration {
	out := make([]time.Duration, 0, len(c.DurationsMinutes))
	for _, m := range c.DurationsMinutes {
		out = append(out, time.Duration(m)*time.Minute)
	}
	return out
}

// Location resolves Timezone, falling back to UTC when it cannot be loaded.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC, err
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600 perms
//     and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
//   - In both cases HANGOUTCAL_* environment variables (optionally from a
//     .env file in the working directory) override file values.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := loadFile(path)
	if err != nil {
		return cfg, err
	}
	ApplyEnv(cfg)
	cfg.Normalize()
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// ApplyEnv overrides scalar settings from the environment.
func ApplyEnv(cfg *Config) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if s := v.GetString("listen"); s != "" {
		cfg.Listen = s
	}
	if s := v.GetString("timezone"); s != "" {
		cfg.Timezone = s
	}
	if s := v.GetString("refresh"); s != "" {
		cfg.RefreshCron = s
	}
	if s := v.GetString("cache_dir"); s != "" {
		cfg.CacheDir = s
	}
	if n := v.GetInt("horizon_days"); n > 0 {
		cfg.HorizonDays = n
	}
	if s := v.GetString("log.level"); s != "" {
		cfg.Log.Level = s
	}
	if s := v.GetString("log.format"); s != "" {
		cfg.Log.Format = s
	}
}

// Save writes the given configuration to the specified path atomically
// (temp file in the same directory, chmod 0600, rename).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".hangoutcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
