// Package config loads layered configuration: built-in defaults, an
// optional YAML file, then MOV_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/movreport/internal/archive"
	"github.com/dshills/movreport/internal/llm"
	"github.com/dshills/movreport/internal/logging"
	"github.com/dshills/movreport/internal/profile"
	"github.com/dshills/movreport/internal/store"
	"github.com/dshills/movreport/internal/verdict"
)

// EnvPrefix prefixes every environment override, e.g. MOV_LLM_PROVIDER.
const EnvPrefix = "MOV"

type Config struct {
	LLM        LLM        `mapstructure:"llm"`
	Extraction Extraction `mapstructure:"extraction"`
	Store      Store      `mapstructure:"store"`
	Archive    Archive    `mapstructure:"archive"`
	Log        Log        `mapstructure:"log"`
	Server     Server     `mapstructure:"server"`
}

type LLM struct {
	Provider        string        `mapstructure:"provider"`
	Model           string        `mapstructure:"model"`
	BaseURL         string        `mapstructure:"base_url"`
	AzureAPIVersion string        `mapstructure:"azure_api_version"`
	APIKey          string        `mapstructure:"api_key"`
	// Temperature overrides the profile's temperature when non-negative.
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RPM         int           `mapstructure:"rpm"`
	Burst       int           `mapstructure:"burst"`
	Retries     int           `mapstructure:"retries"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

type Extraction struct {
	Profile             string  `mapstructure:"profile"`
	QuestionWorkers     int     `mapstructure:"question_workers"`
	AuxWorkers          int     `mapstructure:"aux_workers"`
	ActionItemCharCap   int     `mapstructure:"action_item_char_cap"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

type Store struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type Archive struct {
	Driver    string `mapstructure:"driver"`
	Root      string `mapstructure:"root"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	Prefix    string `mapstructure:"prefix"`
	PathStyle bool   `mapstructure:"path_style"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type Server struct {
	Addr        string `mapstructure:"addr"`
	MaxUploadMB int    `mapstructure:"max_upload_mb"`
}

var defaults = map[string]any{
	"llm.provider":          "anthropic",
	"llm.model":             "",
	"llm.base_url":          "",
	"llm.azure_api_version": "",
	"llm.api_key":           "",
	"llm.temperature":       -1.0,
	"llm.max_tokens":        8192,
	"llm.timeout":           "120s",
	"llm.rpm":               0,
	"llm.burst":             1,
	"llm.retries":           0,
	"llm.backoff":           "2s",

	"extraction.profile":              profile.Default,
	"extraction.question_workers":     3,
	"extraction.aux_workers":          2,
	"extraction.action_item_char_cap": 150000,
	"extraction.confidence_threshold": 0.7,

	"store.driver": store.DriverSQLite,
	"store.path":   store.DefaultSQLitePath,
	"store.dsn":    "",

	"archive.driver":     archive.DriverNone,
	"archive.root":       "./data/archive",
	"archive.bucket":     "",
	"archive.region":     "",
	"archive.endpoint":   "",
	"archive.prefix":     "",
	"archive.path_style": false,

	"log.level":  "info",
	"log.format": "json",
	"log.file":   "",

	"server.addr":          ":8080",
	"server.max_upload_mb": 50,
}

// providerKeyEnv lists the conventional key variable of each provider,
// consulted when llm.api_key is unset.
var providerKeyEnv = map[string][]string{
	"anthropic":  {"ANTHROPIC_API_KEY"},
	"openai":     {"OPENAI_API_KEY"},
	"google":     {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	"azure":      {"AZURE_OPENAI_API_KEY"},
	"compatible": {"OPENAI_API_KEY"},
}

// Load reads configuration. An empty path skips the file layer; a named
// file that cannot be read is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for k := range defaults {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", k, err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	if cfg.LLM.APIKey == "" {
		for _, name := range providerKeyEnv[cfg.LLM.Provider] {
			if key := os.Getenv(name); key != "" {
				cfg.LLM.APIKey = key
				break
			}
		}
	}
	return cfg, nil
}

// Validate reports every invalid setting at once. A missing API key is not
// an error here; commands that never call a model run without one.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.LLM.Provider {
	case "anthropic", "openai", "google":
	case "compatible", "azure":
		if c.LLM.BaseURL == "" {
			bad("llm.base_url is required for provider %q", c.LLM.Provider)
		}
	default:
		bad("llm.provider %q is not one of anthropic, openai, google, compatible, azure", c.LLM.Provider)
	}
	if c.LLM.MaxTokens <= 0 {
		bad("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.Temperature > 2 {
		bad("llm.temperature must be at most 2, got %v", c.LLM.Temperature)
	}
	if c.LLM.Retries < 0 || c.LLM.RPM < 0 {
		bad("llm.retries and llm.rpm must not be negative")
	}
	if _, err := profile.Load(c.Extraction.Profile); err != nil {
		errs = append(errs, err)
	}
	if c.Extraction.QuestionWorkers < 1 || c.Extraction.AuxWorkers < 1 {
		bad("extraction.question_workers and extraction.aux_workers must be at least 1")
	}
	if t := c.Extraction.ConfidenceThreshold; t <= 0 || t > 1 {
		bad("extraction.confidence_threshold must be in (0, 1], got %v", t)
	}
	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverMemory:
	case store.DriverPostgres:
		if c.Store.DSN == "" {
			bad("store.dsn is required for the postgres driver")
		}
	default:
		bad("store.driver %q is not one of sqlite, postgres, memory", c.Store.Driver)
	}
	switch c.Archive.Driver {
	case archive.DriverNone, archive.DriverFS, "":
	case archive.DriverS3:
		if c.Archive.Bucket == "" {
			bad("archive.bucket is required for the s3 driver")
		}
	default:
		bad("archive.driver %q is not one of none, fs, s3", c.Archive.Driver)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		bad("log.format %q is not one of json, console", c.Log.Format)
	}
	if c.Server.MaxUploadMB <= 0 {
		bad("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) LLMConfig() llm.Config {
	return llm.Config{
		Provider:        c.LLM.Provider,
		Model:           c.LLM.Model,
		APIKey:          c.LLM.APIKey,
		BaseURL:         c.LLM.BaseURL,
		AzureAPIVersion: c.LLM.AzureAPIVersion,
		Timeout:         c.LLM.Timeout,
	}
}

func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Driver:  c.Store.Driver,
		Path:    c.Store.Path,
		DSN:     c.Store.DSN,
		Grading: verdict.Options{ConfidenceThreshold: c.Extraction.ConfidenceThreshold},
	}
}

func (c *Config) ArchiveConfig() archive.Config {
	a := c.Archive
	return archive.Config{
		Driver: a.Driver, Root: a.Root, Bucket: a.Bucket, Region: a.Region,
		Endpoint: a.Endpoint, Prefix: a.Prefix, PathStyle: a.PathStyle,
	}
}

func (c *Config) LogOptions() logging.Options {
	return logging.Options{Level: c.Log.Level, Format: c.Log.Format, File: c.Log.File}
}

// Profile resolves the extraction profile with the temperature override
// applied.
func (c *Config) Profile() (profile.Profile, error) {
	p, err := profile.Load(c.Extraction.Profile)
	if err != nil {
		return profile.Profile{}, err
	}
	if c.LLM.Temperature >= 0 {
		p.Temperature = c.LLM.Temperature
	}
	return p, nil
}
