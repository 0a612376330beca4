// Package config loads engine configuration from .gao-dev/config.yaml
// with environment-variable overrides.
//
// Precedence (highest to lowest):
//  1. Environment variables (GAO_ prefix, underscores for nesting:
//     GAO_DATABASE_PATH, GAO_CACHE_MAX_SIZE)
//  2. The configuration file
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gao-dev/devstate/internal/docs"
)

// DatabaseConfig locates the state database.
type DatabaseConfig struct {
	// Path is the database file, relative to the project root.
	Path string `mapstructure:"path"`
}

// DocsConfig locates the document tree.
type DocsConfig struct {
	// Root is the directory containing docs/, relative to the project
	// root. Usually ".".
	Root string `mapstructure:"root"`
}

// MigrationConfig controls the document-to-database migration.
type MigrationConfig struct {
	// Branch is the working branch for migration commits.
	Branch string `mapstructure:"branch"`

	// AutoMerge merges the migration branch back after success.
	AutoMerge bool `mapstructure:"auto_merge"`
}

// CacheConfig sizes the document context cache.
type CacheConfig struct {
	MaxSize int           `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// RetentionConfig bounds append-only history growth.
type RetentionConfig struct {
	// UsageDays is how long document access records are kept.
	// Range 1-730; 0 disables pruning.
	UsageDays int `mapstructure:"usage_days"`

	// ActionItemDays is how long completed action items are kept
	// before cleanup. Range 1-365; 0 disables cleanup.
	ActionItemDays int `mapstructure:"action_item_days"`
}

// LoggingConfig shapes log output.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `mapstructure:"level"`

	// Format is text or json.
	Format string `mapstructure:"format"`
}

// Config is the engine configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Docs      DocsConfig      `mapstructure:"docs"`
	Migration MigrationConfig `mapstructure:"migration"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`

	// Paths overrides individual document path templates by their
	// configuration key, e.g. prd_location or epic_folder.
	Paths map[string]string `mapstructure:"paths"`
}

// File is the configuration file location inside a project.
const File = ".gao-dev/config.yaml"

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", ".gao-dev/documents.db")
	v.SetDefault("docs.root", ".")
	v.SetDefault("migration.branch", "migration/hybrid-architecture")
	v.SetDefault("migration.auto_merge", true)
	v.SetDefault("cache.max_size", 256)
	v.SetDefault("cache.ttl", "30m")
	v.SetDefault("retention.usage_days", 90)
	v.SetDefault("retention.action_item_days", 30)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load reads the project configuration. A missing config file is not an
// error; defaults and environment variables apply.
func Load(projectRoot string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	path := filepath.Join(projectRoot, File)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("GAO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Migration.Branch == "" {
		return fmt.Errorf("migration.branch must not be empty")
	}
	if c.Cache.MaxSize < 1 || c.Cache.MaxSize > 100000 {
		return fmt.Errorf("cache.max_size must be between 1 and 100000 (got %d)", c.Cache.MaxSize)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl cannot be negative (got %s)", c.Cache.TTL)
	}
	if c.Retention.UsageDays < 0 || c.Retention.UsageDays > 730 {
		return fmt.Errorf("retention.usage_days must be between 0 and 730 (got %d)", c.Retention.UsageDays)
	}
	if c.Retention.ActionItemDays < 0 || c.Retention.ActionItemDays > 365 {
		return fmt.Errorf("retention.action_item_days must be between 0 and 365 (got %d)", c.Retention.ActionItemDays)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
	}
	for key := range c.Paths {
		if _, ok := templateKeys[key]; !ok {
			return fmt.Errorf("unknown path template key %q", key)
		}
	}
	return nil
}

// templateKeys maps configuration keys to PathTemplates field setters.
var templateKeys = map[string]func(*docs.PathTemplates, string){
	"prd_location":           func(t *docs.PathTemplates, v string) { t.PRDLocation = v },
	"architecture_location":  func(t *docs.PathTemplates, v string) { t.ArchitectureLocation = v },
	"readme_location":        func(t *docs.PathTemplates, v string) { t.ReadmeLocation = v },
	"changelog_location":     func(t *docs.PathTemplates, v string) { t.ChangelogLocation = v },
	"migration_guide":        func(t *docs.PathTemplates, v string) { t.MigrationGuide = v },
	"feature_folder":         func(t *docs.PathTemplates, v string) { t.FeatureFolder = v },
	"epic_folder":            func(t *docs.PathTemplates, v string) { t.EpicFolder = v },
	"epic_overview":          func(t *docs.PathTemplates, v string) { t.EpicOverview = v },
	"story_location":         func(t *docs.PathTemplates, v string) { t.StoryLocation = v },
	"story_context_location": func(t *docs.PathTemplates, v string) { t.StoryContextLocation = v },
	"qa_folder":              func(t *docs.PathTemplates, v string) { t.QAFolder = v },
	"retrospectives_folder":  func(t *docs.PathTemplates, v string) { t.RetrospectivesFolder = v },
	"ceremonies_folder":      func(t *docs.PathTemplates, v string) { t.CeremoniesFolder = v },
	"bugs_folder":            func(t *docs.PathTemplates, v string) { t.BugsFolder = v },
	"legacy_epic_location":   func(t *docs.PathTemplates, v string) { t.LegacyEpicLocation = v },
	"legacy_story_location":  func(t *docs.PathTemplates, v string) { t.LegacyStoryLocation = v },
	"coding_standards":       func(t *docs.PathTemplates, v string) { t.CodingStandards = v },
	"global_prd_location":    func(t *docs.PathTemplates, v string) { t.GlobalPRDLocation = v },
	"global_architecture":    func(t *docs.PathTemplates, v string) { t.GlobalArchitecture = v },
}

// Templates returns the document path templates with configured
// overrides applied.
func (c *Config) Templates() docs.PathTemplates {
	t := docs.DefaultTemplates()
	for key, value := range c.Paths {
		if set, ok := templateKeys[key]; ok {
			set(&t, value)
		}
	}
	return t
}

// DatabasePath resolves the database file against the project root.
func (c *Config) DatabasePath(projectRoot string) string {
	if filepath.IsAbs(c.Database.Path) {
		return c.Database.Path
	}
	return filepath.Join(projectRoot, c.Database.Path)
}

// DocsRoot resolves the document tree root against the project root.
func (c *Config) DocsRoot(projectRoot string) string {
	if filepath.IsAbs(c.Docs.Root) {
		return c.Docs.Root
	}
	return filepath.Join(projectRoot, c.Docs.Root)
}

// String summarizes the effective configuration for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Database: %s, Migration: %s, Cache: %d/%s, Retention: %dd/%dd, Logging: %s/%s}",
		c.Database.Path, c.Migration.Branch, c.Cache.MaxSize, c.Cache.TTL,
		c.Retention.UsageDays, c.Retention.ActionItemDays,
		c.Logging.Level, c.Logging.Format,
	)
}
