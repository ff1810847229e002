package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/caremesh/ssocore/pkg/observability"
	"github.com/caremesh/ssocore/pkg/sso"
)

// providerFile is the on-disk shape of the provider definitions.
type providerFile struct {
	Providers []yaml.Node `yaml:"providers"`
}

// enabledFlag sniffs whether an entry sets "enabled" explicitly; entries in
// the file default to enabled.
type enabledFlag struct {
	Enabled *bool `yaml:"enabled"`
}

// LoadProviders reads and validates provider definitions from a YAML file.
// Every entry must be valid; a file with one broken provider is rejected
// whole so a partial reload cannot silently drop an IdP.
func LoadProviders(path string) ([]*sso.ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider file: %w", err)
	}

	var file providerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse provider file: %w", err)
	}

	configs := make([]*sso.ProviderConfig, 0, len(file.Providers))
	for i := range file.Providers {
		node := &file.Providers[i]

		cfg := &sso.ProviderConfig{}
		if err := node.Decode(cfg); err != nil {
			return nil, fmt.Errorf("provider entry %d: %w", i, err)
		}
		var flag enabledFlag
		if err := node.Decode(&flag); err != nil {
			return nil, fmt.Errorf("provider entry %d: %w", i, err)
		}
		if flag.Enabled == nil {
			cfg.Enabled = true
		}

		if err := sso.ValidateConfig(cfg); err != nil {
			return nil, fmt.Errorf("provider %q: %w", cfg.Name, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// WatchProviders reloads the provider file whenever it changes and hands the
// result to apply. A reload that fails validation is logged and skipped; the
// previous provider set stays live. Blocks until ctx is done.
func WatchProviders(ctx context.Context, path string, logger *observability.Logger, apply func([]*sso.ProviderConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and configmap mounts replace the file
	// by rename, which drops a watch on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			configs, err := LoadProviders(path)
			if err != nil {
				logger.WithError(err).Warn("provider reload failed, keeping previous set")
				continue
			}
			logger.WithField("providers", len(configs)).Info("provider file reloaded")
			apply(configs)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("provider watcher error")
		}
	}
}
