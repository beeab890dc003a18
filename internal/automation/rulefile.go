package automation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 250 * time.Millisecond

// RuleFile is the on-disk YAML layout for rule definitions.
type RuleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRuleFile reads and parses a YAML rule file. Rules are returned with
// defaults applied but are not validated; Registry.Import does that.
func LoadRuleFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}

	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidRule, path, err)
	}

	for i := range file.Rules {
		ApplyDefaults(&file.Rules[i])
	}
	return file.Rules, nil
}

// WatchRuleFile calls reload whenever path is written, created or renamed
// into place. It watches the parent directory so atomic-rename saves are
// seen. Blocks until ctx is cancelled.
func WatchRuleFile(ctx context.Context, path string, reload func(), logger Logger) error {
	if logger == nil {
		logger = noopLogger{}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating rule file watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving rule file path: %w", err)
	}
	dir := filepath.Dir(abs)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	logger.Info("watching rule file", "path", abs)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("rule file changed", "path", event.Name, "op", event.Op.String())
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("rule file watcher error", "error", err)
		}
	}
}
