package models

// StoreConfig controls the local replica store.
type StoreConfig struct {
	Path            string `yaml:"path" mapstructure:"path"`
	CacheSizeBytes  uint64 `yaml:"cache_size_bytes" mapstructure:"cache_size_bytes"`
	WatchDebounceMS int    `yaml:"watch_debounce_ms" mapstructure:"watch_debounce_ms"`
}

// DisplayConfig controls how the agenda is bucketed and rendered.
type DisplayConfig struct {
	Timezone   string `yaml:"timezone" mapstructure:"timezone"`
	TimeLayout string `yaml:"time_layout" mapstructure:"time_layout"`
	DateLayout string `yaml:"date_layout" mapstructure:"date_layout"`
	Locale     string `yaml:"locale" mapstructure:"locale"`
}

// ConflictConfig extends the resolver's identity-field table. Keys are
// entity kinds, values the fields any one of which marks a local copy as
// structurally complete.
type ConflictConfig struct {
	IdentityFields map[string][]string `yaml:"identity_fields,omitempty" mapstructure:"identity_fields"`
}

// SubmissionConfig controls the answer submission flow.
type SubmissionConfig struct {
	DefaultStatus TaskStatus `yaml:"default_status" mapstructure:"default_status"`
}

// AlertConfig holds alert thresholds.
type AlertConfig struct {
	MaxSubmissionFailures int `yaml:"max_submission_failures" mapstructure:"max_submission_failures"`
	MaxConflictsPerHour   int `yaml:"max_conflicts_per_hour" mapstructure:"max_conflicts_per_hour"`
}

// NotificationConfig configures outbound alert notifications.
type NotificationConfig struct {
	Enabled    bool        `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL string      `yaml:"webhook_url" mapstructure:"webhook_url"`
	Alerts     AlertConfig `yaml:"alerts" mapstructure:"alerts"`
}

// GlobalConfig holds system-wide settings read from .qsyncconfig via Viper.
type GlobalConfig struct {
	Store         StoreConfig        `yaml:"store" mapstructure:"store"`
	Display       DisplayConfig      `yaml:"display" mapstructure:"display"`
	Conflict      ConflictConfig     `yaml:"conflict" mapstructure:"conflict"`
	Submission    SubmissionConfig   `yaml:"submission" mapstructure:"submission"`
	Notifications NotificationConfig `yaml:"notifications" mapstructure:"notifications"`
}
