package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/valter-silva-au/questsync/pkg/models"
)

// InitConfig holds the parameters for initializing a replica workspace.
type InitConfig struct {
	BasePath   string
	Timezone   string
	Locale     string
	WebhookURL string
}

// InitResult holds a summary of what was created vs. skipped.
type InitResult struct {
	Created []string
	Skipped []string
}

// WorkspaceInitializer lays out a new replica workspace.
type WorkspaceInitializer interface {
	Init(config InitConfig) (*InitResult, error)
}

type workspaceInitializer struct{}

// NewWorkspaceInitializer creates a new WorkspaceInitializer.
func NewWorkspaceInitializer() WorkspaceInitializer {
	return &workspaceInitializer{}
}

// Init writes a starter .qsyncconfig.yaml and creates the store directory.
// Files and directories that already exist are skipped and not overwritten.
func (wi *workspaceInitializer) Init(config InitConfig) (*InitResult, error) {
	if config.BasePath == "" {
		return nil, errors.New("base path required")
	}
	result := &InitResult{}

	cfg := DefaultGlobalConfig()
	if config.Timezone != "" {
		cfg.Display.Timezone = config.Timezone
	}
	if config.Locale != "" {
		cfg.Display.Locale = config.Locale
	}
	if config.WebhookURL != "" {
		cfg.Notifications.Enabled = true
		cfg.Notifications.WebhookURL = config.WebhookURL
	}
	if err := ValidateGlobalConfig(cfg); err != nil {
		return nil, err
	}

	for _, dir := range []string{config.BasePath, filepath.Join(config.BasePath, cfg.Store.Path)} {
		created, err := ensureWorkspaceDir(dir)
		if err != nil {
			return nil, err
		}
		if created {
			result.Created = append(result.Created, dir)
		} else {
			result.Skipped = append(result.Skipped, dir)
		}
	}

	cfgPath := filepath.Join(config.BasePath, ConfigFileName+".yaml")
	if _, err := os.Stat(cfgPath); err == nil {
		result.Skipped = append(result.Skipped, cfgPath)
		return result, nil
	}
	data, err := marshalConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", cfgPath, err)
	}
	result.Created = append(result.Created, cfgPath)

	return result, nil
}

func marshalConfig(cfg *models.GlobalConfig) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	header := []byte("# QuestSync configuration. Environment variables prefixed QSYNC_ override\n# these values, e.g. QSYNC_DISPLAY_TIMEZONE=Europe/Berlin.\n")
	return append(header, data...), nil
}

func ensureWorkspaceDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("%s exists and is not a directory", path)
		}
		return false, nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return false, fmt.Errorf("creating %s: %w", path, err)
	}
	return true, nil
}
