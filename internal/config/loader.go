package config

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"factor-lab/internal/domain"
	"factor-lab/internal/observability"
)

// DefaultReloadInterval is how often Watch rescans the directory.
const DefaultReloadInterval = 10 * time.Second

// Loader holds the strategy configs found in a directory.
// Safe for concurrent use.
type Loader struct {
	dir     string
	logger  *log.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	configs map[string]domain.StrategyConfig
}

// NewLoader creates a Loader for dir. A nil logger discards output.
func NewLoader(dir string, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Loader{
		dir:     dir,
		logger:  logger,
		configs: make(map[string]domain.StrategyConfig),
	}
}

// WithMetrics records reloads on m.
func (l *Loader) WithMetrics(m *observability.Metrics) *Loader {
	l.metrics = m
	return l
}

// Load scans the directory for *.yaml and *.yml files and replaces the
// loaded set. Files that fail to parse are logged and skipped; a strategy
// loaded earlier under the same name keeps its previous value.
func (l *Loader) Load() (err error) {
	defer func() {
		if l.metrics != nil {
			l.metrics.RecordConfigReload(err, len(l.Names()))
		}
	}()

	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(l.dir, pattern))
		if err != nil {
			return fmt.Errorf("scan %s: %w", l.dir, err)
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	l.mu.RLock()
	previous := l.configs
	l.mu.RUnlock()

	next := make(map[string]domain.StrategyConfig, len(paths))
	for _, path := range paths {
		cfg, err := LoadFile(path)
		if err != nil {
			l.logger.Printf("skip %s: %v", path, err)
			if old, ok := previous[stem(path)]; ok {
				next[old.Name] = old
			}
			continue
		}
		next[cfg.Name] = cfg
	}

	l.mu.Lock()
	l.configs = next
	l.mu.Unlock()
	return nil
}

// Get returns the config registered under name.
func (l *Loader) Get(name string) (domain.StrategyConfig, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cfg, ok := l.configs[name]
	if !ok {
		return domain.StrategyConfig{}, fmt.Errorf("%w: %s", ErrStrategyNotFound, name)
	}
	return cfg, nil
}

// Names returns the loaded strategy names, sorted.
func (l *Loader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.configs))
	for name := range l.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watch reloads the directory every interval until ctx is cancelled.
// Reload errors are logged; the last good set stays in place.
func (l *Loader) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Load(); err != nil {
				l.logger.Printf("reload failed: %v", err)
			}
		}
	}
}
