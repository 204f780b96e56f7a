package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Entry is a stored review result for one file at one diff version.
type Entry struct {
	Identity    string          `json:"identity"`
	Fingerprint string          `json:"fingerprint"`
	Risk        string          `json:"risk,omitempty"`
	Reasoning   string          `json:"reasoning,omitempty"`
	Findings    json.RawMessage `json:"findings,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	TTL         int             `json:"ttl"`
}

// Store provides file-based caching of per-file review results.
type Store struct {
	dir        string
	ttlSeconds int
	enabled    bool
}

// New creates a Store. If dir is empty, the default cache directory is used.
func New(enabled bool, dir string, ttlSeconds int) (*Store, error) {
	if !enabled {
		return &Store{enabled: false}, nil
	}
	if dir == "" {
		d, err := defaultCacheDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Store{
		dir:        dir,
		ttlSeconds: ttlSeconds,
		enabled:    true,
	}, nil
}

// Get retrieves the entry for (identity, fingerprint). It misses when no
// entry exists, when the stored fingerprint differs, or when the entry has
// expired.
func (s *Store) Get(identity, fingerprint string) (Entry, bool) {
	if !s.enabled {
		return Entry{}, false
	}
	data, err := os.ReadFile(s.entryPath(identity))
	if err != nil {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false
	}
	if entry.Fingerprint != fingerprint {
		return Entry{}, false
	}
	if s.ttlSeconds > 0 && time.Since(entry.CreatedAt) > time.Duration(s.ttlSeconds)*time.Second {
		os.Remove(s.entryPath(identity))
		return Entry{}, false
	}
	return entry, true
}

// Put stores an entry under (identity, fingerprint), superseding any prior
// fingerprint for the same identity.
func (s *Store) Put(identity, fingerprint string, entry Entry) error {
	if !s.enabled {
		return nil
	}
	entry.Identity = identity
	entry.Fingerprint = fingerprint
	entry.CreatedAt = time.Now()
	entry.TTL = s.ttlSeconds
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}
	return os.WriteFile(s.entryPath(identity), data, 0o644)
}

// Invalidate removes the entries for the given identities, all fingerprints
// included. Missing entries are ignored.
func (s *Store) Invalidate(identities []string) {
	if !s.enabled {
		return
	}
	for _, id := range identities {
		os.Remove(s.entryPath(id))
	}
}

// Clear removes all cache entries.
func (s *Store) Clear() error {
	if !s.enabled || s.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading cache directory: %w", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			os.Remove(filepath.Join(s.dir, e.Name()))
		}
	}
	return nil
}

// Stats holds cache statistics.
type Stats struct {
	Dir        string `json:"dir"`
	Entries    int    `json:"entries"`
	TotalBytes int64  `json:"totalBytes"`
	Expired    int    `json:"expired"`
}

// GetStats returns information about the cache.
func (s *Store) GetStats() (Stats, error) {
	stats := Stats{Dir: s.dir}
	if !s.enabled || s.dir == "" {
		return stats, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("reading cache directory: %w", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.Entries++
		stats.TotalBytes += info.Size()

		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		if s.ttlSeconds > 0 && time.Since(entry.CreatedAt) > time.Duration(s.ttlSeconds)*time.Second {
			stats.Expired++
		}
	}
	return stats, nil
}

// Dir returns the cache directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Enabled returns whether caching is enabled.
func (s *Store) Enabled() bool {
	return s.enabled
}

func (s *Store) entryPath(identity string) string {
	return filepath.Join(s.dir, identity+".json")
}

func defaultCacheDir() (string, error) {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "reviewd"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "reviewd"), nil
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, "reviewd", "cache"), nil
		}
		return filepath.Join(home, "AppData", "Local", "reviewd", "cache"), nil
	default:
		return filepath.Join(home, ".cache", "reviewd"), nil
	}
}
