package fsdaemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Config is the on-disk `.braidfs/config` layout of spec.md §6's "Persisted
// state layout", loaded and rewritten as a whole file (matching
// teacher_server's JSON-config-plus-functional-options ambient style, here
// applied to a mutable document instead of process options).
type Config struct {
	PeerID         string            `json:"peer_id"`
	Sync           map[string]bool   `json:"sync"`
	Cookies        map[string]string `json:"cookies"`
	Port           int               `json:"port"`
	IgnorePatterns []string          `json:"ignore_patterns"`
	DebounceMs     int               `json:"debounce_ms"`
}

// DefaultConfig returns the configuration a fresh BRAID_ROOT starts with.
func DefaultConfig(peerID string) Config {
	return Config{
		PeerID:     peerID,
		Sync:       map[string]bool{},
		Cookies:    map[string]string{},
		Port:       45678,
		DebounceMs: 10,
	}
}

// ConfigStore guards the config file with a single-writer lock and persists
// it via whole-file atomic rewrite, per spec.md §5's "Config file: global,
// whole-file atomic rewrite under a lock".
type ConfigStore struct {
	mu   sync.Mutex
	path string
	cfg  Config
}

// LoadConfigStore reads path (creating it with DefaultConfig if absent).
func LoadConfigStore(path string, peerID string) (*ConfigStore, error) {
	cfg, err := readConfig(path)
	if os.IsNotExist(err) {
		cfg = DefaultConfig(peerID)
		cs := &ConfigStore{path: path, cfg: cfg}
		if err := cs.persist(); err != nil {
			return nil, err
		}
		return cs, nil
	}
	if err != nil {
		return nil, err
	}
	return &ConfigStore{path: path, cfg: cfg}, nil
}

func readConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("fsdaemon: parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Snapshot returns a copy of the current config.
func (cs *ConfigStore) Snapshot() Config {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cloneConfig(cs.cfg)
}

// IsSynced reports whether url is marked true in the sync table.
func (cs *ConfigStore) IsSynced(url string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.cfg.Sync[url]
}

// SetSynced updates the sync table for url and persists the whole file.
func (cs *ConfigStore) SetSynced(url string, synced bool) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.cfg.Sync == nil {
		cs.cfg.Sync = map[string]bool{}
	}
	cs.cfg.Sync[url] = synced
	return cs.persist()
}

// EnsureTracked auto-inserts url -> true if it isn't present at all yet,
// matching spec.md §4.8's "create previously-unwatched URLs auto-insert
// url -> true". It is a no-op if url is already tracked (synced or not).
func (cs *ConfigStore) EnsureTracked(url string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.cfg.Sync[url]; ok {
		return nil
	}
	if cs.cfg.Sync == nil {
		cs.cfg.Sync = map[string]bool{}
	}
	cs.cfg.Sync[url] = true
	return cs.persist()
}

// persist writes the whole config file atomically. Caller must hold cs.mu.
func (cs *ConfigStore) persist() error {
	data, err := json.MarshalIndent(cs.cfg, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(cs.path, data)
}

func cloneConfig(c Config) Config {
	out := c
	out.Sync = make(map[string]bool, len(c.Sync))
	for k, v := range c.Sync {
		out.Sync[k] = v
	}
	out.Cookies = make(map[string]string, len(c.Cookies))
	for k, v := range c.Cookies {
		out.Cookies[k] = v
	}
	out.IgnorePatterns = append([]string(nil), c.IgnorePatterns...)
	return out
}

// atomicWriteFile implements spec.md §8 property 6: write to a temp file
// in a sibling directory, fsync, then rename over the destination, so a
// kill mid-write never leaves dest partially updated.
func atomicWriteFile(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, dest)
}
