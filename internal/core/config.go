// Package core contains the consistency rules of QuestSync: tombstone
// filtering, conflict resolution, agenda bucketing, episodic visibility,
// guarded answer submission and configuration.
package core

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/valter-silva-au/questsync/pkg/models"
)

// ConfigFileName is the base name of the global configuration file.
const ConfigFileName = ".qsyncconfig"

// ConfigurationManager loads and validates the global .qsyncconfig file.
type ConfigurationManager interface {
	LoadGlobalConfig() (*models.GlobalConfig, error)
	ValidateConfig(cfg *models.GlobalConfig) error
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading YAML configuration files.
type viperConfigManager struct {
	// basePath is the root directory where .qsyncconfig resides.
	basePath string
}

// NewConfigurationManager creates a new ConfigurationManager that reads
// configuration files relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultGlobalConfig returns a GlobalConfig populated with defaults.
func DefaultGlobalConfig() *models.GlobalConfig {
	return &models.GlobalConfig{
		Store: models.StoreConfig{
			Path:            "data",
			CacheSizeBytes:  1 << 20,
			WatchDebounceMS: 100,
		},
		Display: models.DisplayConfig{
			Timezone:   "Local",
			TimeLayout: DefaultTimeLayout,
			DateLayout: DefaultDateLayout,
			Locale:     "en",
		},
		Submission: models.SubmissionConfig{
			DefaultStatus: models.StatusCompleted,
		},
		Notifications: models.NotificationConfig{
			Alerts: models.AlertConfig{
				MaxSubmissionFailures: 3,
				MaxConflictsPerHour:   20,
			},
		},
	}
}

// LoadGlobalConfig reads .qsyncconfig from the base path. Environment
// variables prefixed QSYNC_ override file values. A missing file yields
// the defaults.
func (cm *viperConfigManager) LoadGlobalConfig() (*models.GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix("QSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("store.cache_size_bytes", cfg.Store.CacheSizeBytes)
	v.SetDefault("store.watch_debounce_ms", cfg.Store.WatchDebounceMS)
	v.SetDefault("display.timezone", cfg.Display.Timezone)
	v.SetDefault("display.time_layout", cfg.Display.TimeLayout)
	v.SetDefault("display.date_layout", cfg.Display.DateLayout)
	v.SetDefault("display.locale", cfg.Display.Locale)
	v.SetDefault("submission.default_status", string(cfg.Submission.DefaultStatus))
	v.SetDefault("notifications.enabled", cfg.Notifications.Enabled)
	v.SetDefault("notifications.webhook_url", cfg.Notifications.WebhookURL)
	v.SetDefault("notifications.alerts.max_submission_failures", cfg.Notifications.Alerts.MaxSubmissionFailures)
	v.SetDefault("notifications.alerts.max_conflicts_per_hour", cfg.Notifications.Alerts.MaxConflictsPerHour)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", ConfigFileName, err)
	}
	return cfg, nil
}

// ValidateConfig checks the configuration for invalid values and reports
// every problem found, not just the first.
func (cm *viperConfigManager) ValidateConfig(cfg *models.GlobalConfig) error {
	return ValidateGlobalConfig(cfg)
}

// ValidateGlobalConfig is ValidateConfig without a manager.
func ValidateGlobalConfig(cfg *models.GlobalConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if strings.TrimSpace(cfg.Store.Path) == "" {
		errs = append(errs, "store.path must not be empty")
	}
	if cfg.Store.WatchDebounceMS < 0 {
		errs = append(errs, fmt.Sprintf("store.watch_debounce_ms must be non-negative, got %d", cfg.Store.WatchDebounceMS))
	}

	if tz := strings.TrimSpace(cfg.Display.Timezone); tz != "" && !strings.EqualFold(tz, "local") {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Sprintf("display.timezone %q is not a known location", tz))
		}
	}
	if cfg.Display.Locale != "" {
		if _, err := language.Parse(cfg.Display.Locale); err != nil {
			errs = append(errs, fmt.Sprintf("display.locale %q is not a valid BCP 47 tag", cfg.Display.Locale))
		}
	}

	if s := cfg.Submission.DefaultStatus; s != "" && !models.IsValidStatus(s) {
		errs = append(errs, fmt.Sprintf("submission.default_status %q is not a valid task status", s))
	}

	for kind, fields := range cfg.Conflict.IdentityFields {
		if len(fields) == 0 {
			errs = append(errs, fmt.Sprintf("conflict.identity_fields.%s must list at least one field", kind))
		}
	}

	n := cfg.Notifications
	if n.Enabled && n.WebhookURL == "" {
		errs = append(errs, "notifications.webhook_url is required when notifications are enabled")
	}
	if n.WebhookURL != "" {
		if u, err := url.Parse(n.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("notifications.webhook_url %q must be an http(s) URL", n.WebhookURL))
		}
	}
	if n.Alerts.MaxSubmissionFailures < 0 {
		errs = append(errs, fmt.Sprintf("notifications.alerts.max_submission_failures must be non-negative, got %d", n.Alerts.MaxSubmissionFailures))
	}
	if n.Alerts.MaxConflictsPerHour < 0 {
		errs = append(errs, fmt.Sprintf("notifications.alerts.max_conflicts_per_hour must be non-negative, got %d", n.Alerts.MaxConflictsPerHour))
	}

	if len(errs) > 0 {
		return fmt.Errorf("global config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IdentityFieldsFromConfig converts the configured identity table to the
// resolver's key type. Viper lower-cases map keys, so known kinds are
// matched case-insensitively and restored to their canonical spelling.
func IdentityFieldsFromConfig(cfg models.ConflictConfig) map[models.EntityKind][]string {
	if len(cfg.IdentityFields) == 0 {
		return nil
	}
	out := make(map[models.EntityKind][]string, len(cfg.IdentityFields))
	for kind, fields := range cfg.IdentityFields {
		out[canonicalKind(kind)] = fields
	}
	return out
}

func canonicalKind(name string) models.EntityKind {
	for _, k := range []models.EntityKind{
		models.KindTask, models.KindTaskAnswer, models.KindQuestion,
		models.KindActivity, models.KindDataPoint,
	} {
		if strings.EqualFold(string(k), name) {
			return k
		}
	}
	return models.EntityKind(name)
}
