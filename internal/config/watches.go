package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Watch is one monitored search. Name scopes the dedup state; when empty it
// is derived from the search query. The optional overrides replace the global
// knobs for this watch only.
type Watch struct {
	Name            string   `yaml:"name"`
	URL             string   `yaml:"url"`
	FreshnessWindow Duration `yaml:"freshness_window"`
	MaxPages        int      `yaml:"max_pages"`
}

type watchFile struct {
	Watches []Watch `yaml:"watches"`
}

// LoadWatches reads the watch list, trying in order:
// 1. The YAML file at WATCHES_CONFIG_PATH (or ./watches.yaml).
// 2. SEARCH_URL plus any SEARCH_URL_* environment variables, each holding one
//    or more comma-separated search URLs.
func LoadWatches() ([]Watch, error) {
	path := envOr("WATCHES_CONFIG_PATH", "watches.yaml")
	if data, err := os.ReadFile(path); err == nil {
		watches, parseErr := parseWatchFile(data)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, parseErr)
		}
		slog.Info("Loaded watch list from file", "path", path, "count", len(watches))
		return watches, nil
	}

	watches := watchesFromEnv()
	if len(watches) == 0 {
		return nil, fmt.Errorf("no watches configured: %s missing and no SEARCH_URL* variables set", path)
	}
	slog.Info("Loaded watch list from environment", "count", len(watches))
	return watches, nil
}

func parseWatchFile(data []byte) ([]Watch, error) {
	var parsed watchFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Watches) == 0 {
		return nil, fmt.Errorf("watch file contains no watches")
	}
	for i, w := range parsed.Watches {
		if strings.TrimSpace(w.URL) == "" {
			return nil, fmt.Errorf("watch %d has no url", i)
		}
	}
	return parsed.Watches, nil
}

func watchesFromEnv() []Watch {
	var names []string
	for _, entry := range os.Environ() {
		key, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if key == "SEARCH_URL" || strings.HasPrefix(key, "SEARCH_URL_") {
			names = append(names, key)
		}
	}
	sort.Strings(names)

	seen := make(map[string]bool)
	var watches []Watch
	for _, name := range names {
		for _, raw := range strings.Split(os.Getenv(name), ",") {
			u := strings.TrimSpace(raw)
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			watches = append(watches, Watch{URL: u})
		}
	}
	return watches
}
