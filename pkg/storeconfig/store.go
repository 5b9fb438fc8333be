// Package storeconfig implements the per-store configuration store: menu
// catalog, allowed modifications, and LLM credentials, hot-reloaded from
// JSON files on disk and versioned by content hash.
package storeconfig

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"dario.cat/mergo"
	"golang.org/x/sync/singleflight"

	"github.com/posgateway/posgateway/pkg/atomicfile"
	"github.com/posgateway/posgateway/pkg/posmodel"
)

// ErrInvalidMenuCatalog is returned when a menu_catalog.json payload is
// neither a list of item objects nor a mapping of id to item object.
var ErrInvalidMenuCatalog = errors.New("storeconfig: menu_catalog must be a list or mapping of item objects")

// ErrInvalidAllowedMods is returned when allowed_mods.json is not a list
// of strings.
var ErrInvalidAllowedMods = errors.New("storeconfig: allowed_mods must be a list of strings")

const (
	menuCatalogFile = "menu_catalog.json"
	allowedModsFile = "allowed_mods.json"
	llmConfigFile   = "llm_config.json"
)

type fingerprint struct {
	size    int64
	modTime time.Time
}

func statFingerprint(path string) (fingerprint, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return fingerprint{}, false
	}
	return fingerprint{size: info.Size(), modTime: info.ModTime()}, true
}

type entry struct {
	cfg          posmodel.StoreConfig
	menuFP       fingerprint
	modsFP       fingerprint
	llmFP        fingerprint
}

// Store is the file-backed, hot-reloading per-store configuration
// registry. A single in-process instance owns one baseDir; concurrent
// reads/writes across stores are independent. Concurrent same-store
// reloads collapse into one through singleflight; same-store writes take
// no lock beyond each file's atomic replacement.
type Store struct {
	baseDir string
	log     *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	sf singleflight.Group
}

// New creates a Store rooted at baseDir. baseDir is created if missing.
func New(baseDir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storeconfig: create base dir: %w", err)
	}
	return &Store{
		baseDir: baseDir,
		log:     log,
		entries: make(map[string]*entry),
	}, nil
}

func (s *Store) storeDir(storeID string) string {
	return filepath.Join(s.baseDir, storeID)
}

// GetConfig returns the normalized configuration for storeID, reloading
// from disk when any of the three files' fingerprints have changed since
// the last read. Concurrent GetConfig calls for the same storeID collapse
// into a single file read via singleflight.
func (s *Store) GetConfig(storeID string) (posmodel.StoreConfig, error) {
	storeID = NormalizeStoreID(storeID)

	s.mu.RLock()
	cached, ok := s.entries[storeID]
	s.mu.RUnlock()

	dir := s.storeDir(storeID)
	menuFP, _ := statFingerprint(filepath.Join(dir, menuCatalogFile))
	modsFP, _ := statFingerprint(filepath.Join(dir, allowedModsFile))
	llmFP, _ := statFingerprint(filepath.Join(dir, llmConfigFile))

	if ok && cached.menuFP == menuFP && cached.modsFP == modsFP && cached.llmFP == llmFP {
		return cached.cfg, nil
	}

	v, err, _ := s.sf.Do(storeID, func() (any, error) {
		return s.reload(storeID)
	})
	if err != nil {
		return posmodel.StoreConfig{}, err
	}
	return v.(posmodel.StoreConfig), nil
}

func (s *Store) reload(storeID string) (posmodel.StoreConfig, error) {
	dir := s.storeDir(storeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return posmodel.StoreConfig{}, fmt.Errorf("storeconfig: create store dir: %w", err)
	}

	menuPath := filepath.Join(dir, menuCatalogFile)
	modsPath := filepath.Join(dir, allowedModsFile)
	llmPath := filepath.Join(dir, llmConfigFile)

	menu, menuRaw, err := loadOrSeedMenu(menuPath)
	if err != nil {
		return posmodel.StoreConfig{}, err
	}
	mods, modsRaw, err := loadOrSeedMods(modsPath)
	if err != nil {
		return posmodel.StoreConfig{}, err
	}
	llm, llmRaw, err := loadOrSeedLLM(llmPath)
	if err != nil {
		return posmodel.StoreConfig{}, err
	}
	llm = NormalizeLLMConfig(llm)
	mods = dedupeMods(mods)

	cfg := posmodel.StoreConfig{
		StoreID:            storeID,
		MenuCatalog:        menu,
		MenuCatalogVersion: contentVersion(menuRaw),
		AllowedMods:        mods,
		AllowedModsVersion: contentVersion(modsRaw),
		LLMConfig:          llm,
		LLMConfigVersion:   contentVersion(llmRaw),
	}

	menuFP, _ := statFingerprint(menuPath)
	modsFP, _ := statFingerprint(modsPath)
	llmFP, _ := statFingerprint(llmPath)

	s.mu.Lock()
	s.entries[storeID] = &entry{cfg: cfg, menuFP: menuFP, modsFP: modsFP, llmFP: llmFP}
	s.mu.Unlock()

	s.log.Debug("storeconfig reloaded", "store_id", storeID,
		"menu_catalog_version", cfg.MenuCatalogVersion,
		"allowed_mods_version", cfg.AllowedModsVersion,
		"llm_config_version", cfg.LLMConfigVersion)

	return cfg, nil
}

// ConfigPatch is the partial update accepted by UpdateConfig.
type ConfigPatch struct {
	MenuCatalog []posmodel.MenuItem
	AllowedMods []string
	HasMenu     bool
	HasMods     bool
}

// UpdateConfig applies patch to storeID's menu_catalog/allowed_mods files
// atomically, invalidates the in-memory entry, and returns the fresh
// config.
func (s *Store) UpdateConfig(storeID string, patch ConfigPatch) (posmodel.StoreConfig, error) {
	storeID = NormalizeStoreID(storeID)
	dir := s.storeDir(storeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return posmodel.StoreConfig{}, fmt.Errorf("storeconfig: create store dir: %w", err)
	}

	if patch.HasMenu {
		raw, err := json.MarshalIndent(patch.MenuCatalog, "", "  ")
		if err != nil {
			return posmodel.StoreConfig{}, fmt.Errorf("storeconfig: marshal menu_catalog: %w", err)
		}
		if err := atomicfile.Write(filepath.Join(dir, menuCatalogFile), raw); err != nil {
			return posmodel.StoreConfig{}, err
		}
	}
	if patch.HasMods {
		raw, err := json.MarshalIndent(dedupeMods(patch.AllowedMods), "", "  ")
		if err != nil {
			return posmodel.StoreConfig{}, fmt.Errorf("storeconfig: marshal allowed_mods: %w", err)
		}
		if err := atomicfile.Write(filepath.Join(dir, allowedModsFile), raw); err != nil {
			return posmodel.StoreConfig{}, err
		}
	}

	s.Invalidate(storeID)
	return s.GetConfig(storeID)
}

// LLMConfigPatch is a partial update to a store's LLM configuration; only
// non-nil fields are applied.
type LLMConfigPatch struct {
	Provider *string
	Model    *string
	TimeoutS *int
	Enabled  *bool
	APIKey   *string
}

// UpdateLLMConfig applies patch on top of the current llm_config.json,
// writes it atomically, invalidates the cache, and returns the fresh
// config (with a redacted api_key).
func (s *Store) UpdateLLMConfig(storeID string, patch LLMConfigPatch) (posmodel.LLMConfig, error) {
	storeID = NormalizeStoreID(storeID)
	cur, err := s.GetConfig(storeID)
	if err != nil {
		return posmodel.LLMConfig{}, err
	}
	next := cur.LLMConfig
	partial := posmodel.LLMConfig{}
	if patch.Provider != nil {
		partial.Provider = *patch.Provider
	}
	if patch.Model != nil {
		partial.Model = *patch.Model
	}
	if patch.TimeoutS != nil {
		partial.TimeoutS = *patch.TimeoutS
	}
	if patch.Enabled != nil {
		partial.Enabled = patch.Enabled
	}
	if patch.APIKey != nil {
		partial.APIKey = *patch.APIKey
	}
	if err := mergo.Merge(&next, partial, mergo.WithOverride); err != nil {
		return posmodel.LLMConfig{}, fmt.Errorf("storeconfig: merge llm_config patch: %w", err)
	}
	// mergo treats a zero src value as "unset" and leaves dst alone even
	// under WithOverride, so an explicit patch.TimeoutS of 0 would
	// otherwise silently fail to apply. Re-assert it directly since we
	// already know it was explicitly provided.
	if patch.TimeoutS != nil {
		next.TimeoutS = *patch.TimeoutS
	}
	next = NormalizeLLMConfig(next)

	dir := s.storeDir(storeID)
	raw, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return posmodel.LLMConfig{}, fmt.Errorf("storeconfig: marshal llm_config: %w", err)
	}
	if err := atomicfile.Write(filepath.Join(dir, llmConfigFile), raw); err != nil {
		return posmodel.LLMConfig{}, err
	}

	s.Invalidate(storeID)
	fresh, err := s.GetConfig(storeID)
	if err != nil {
		return posmodel.LLMConfig{}, err
	}
	redacted := fresh.LLMConfig
	redacted.APIKey = RedactAPIKey(redacted.APIKey)
	return redacted, nil
}

// GetLLMConfig returns storeID's LLM config with its api_key redacted.
func (s *Store) GetLLMConfig(storeID string) (posmodel.LLMConfig, error) {
	cfg, err := s.GetConfig(storeID)
	if err != nil {
		return posmodel.LLMConfig{}, err
	}
	out := cfg.LLMConfig
	out.APIKey = RedactAPIKey(out.APIKey)
	return out, nil
}

// ListStores returns the ids of every store directory under baseDir.
func (s *Store) ListStores() ([]string, error) {
	dirEntries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storeconfig: list stores: %w", err)
	}
	ids := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			ids = append(ids, de.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Invalidate drops the in-memory entry for storeID, or every entry when
// storeID is empty.
func (s *Store) Invalidate(storeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if storeID == "" {
		s.entries = make(map[string]*entry)
		return
	}
	delete(s.entries, NormalizeStoreID(storeID))
}

// contentVersion is the 16-hex-char prefix of SHA-256 over canonicalized
// JSON content.
func contentVersion(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%x", sum)[:16]
}

