// Package cache implements the pipeline cache: three namespaces
// (item-mapping, note-mods, group-pattern) keyed by a SHA-256 over
// canonicalized required fields, each entry carrying its own TTL.
//
// Grounded on the teacher's runbook.Cache TTL-with-lazy-expiry idiom,
// generalized from a single URL-keyed namespace to several
// field-keyed namespaces with per-namespace default TTLs.
package cache

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/posgateway/posgateway/pkg/posmodel"
)

// Namespace identifies one of the three cache partitions.
type Namespace string

const (
	ItemMapping  Namespace = "item-mapping"
	NoteMods     Namespace = "note-mods"
	GroupPattern Namespace = "group-pattern"
)

// requiredFields lists the key fields each namespace's cache key must be
// derived from.
var requiredFields = map[Namespace][]string{
	ItemMapping:  {"name_raw", "menu_catalog_version"},
	NoteMods:     {"note_raw", "allowed_mods_version"},
	GroupPattern: {"group_pattern", "menu_catalog_version", "allowed_mods_version"},
}

// DefaultTTL is the per-namespace default time-to-live.
var DefaultTTL = map[Namespace]time.Duration{
	ItemMapping:  3600 * time.Second,
	NoteMods:     3600 * time.Second,
	GroupPattern: 1800 * time.Second,
}

// ErrUnknownNamespace is returned for a namespace outside the closed set.
var ErrUnknownNamespace = errors.New("cache: unknown namespace")

// ErrMissingKeyField is returned when a namespace's required key fields
// are incomplete.
var ErrMissingKeyField = errors.New("cache: missing required key field")

// DeriveKey computes the namespaced cache key for fields: values are
// string-normalized (trimmed), maps/arrays recursively normalized (keys
// sorted), then SHA-256'd over the canonical JSON encoding. Missing
// required fields fail construction.
func DeriveKey(ns Namespace, fields map[string]any) (string, error) {
	required, ok := requiredFields[ns]
	if !ok {
		return "", ErrUnknownNamespace
	}
	keyed := make(map[string]any, len(required))
	for _, f := range required {
		v, present := fields[f]
		if !present {
			return "", fmt.Errorf("%w: %s.%s", ErrMissingKeyField, ns, f)
		}
		keyed[f] = v
	}
	canonical, err := json.Marshal(normalize(keyed))
	if err != nil {
		return "", fmt.Errorf("cache: marshal key fields: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%s:%x", ns, sum), nil
}

// normalize trims string leaves and recursively normalizes arrays/maps.
// Map keys are sorted implicitly by encoding/json when the value is a
// map[string]any.
func normalize(v any) any {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return t
	}
}

// Cache is the thread-safe in-memory pipeline cache. Entries expire
// lazily on Get; there is no background sweeper.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]posmodel.CacheEntry
}

// New creates an empty pipeline cache.
func New() *Cache {
	return &Cache{entries: make(map[string]posmodel.CacheEntry)}
}

// Get looks up fields in namespace ns. A hit returns the stored entry;
// an expired entry is deleted and reported as a miss — idempotently, a
// second Get on the same now-missing key is also a miss.
func (c *Cache) Get(ns Namespace, fields map[string]any, now time.Time) (posmodel.CacheEntry, bool, error) {
	key, err := DeriveKey(ns, fields)
	if err != nil {
		return posmodel.CacheEntry{}, false, err
	}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return posmodel.CacheEntry{}, false, nil
	}

	if entry.ExpiresAt != nil && !now.Before(*entry.ExpiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.ExpiresAt != nil && !now.Before(*cur.ExpiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return posmodel.CacheEntry{}, false, nil
	}

	return entry, true, nil
}

// Set stores value under fields in namespace ns. ttl of zero uses the
// namespace default; a negative ttl means "never expires".
func (c *Cache) Set(ns Namespace, fields map[string]any, value any, confidence float64, meta posmodel.Metadata, ttl time.Duration, now time.Time) error {
	key, err := DeriveKey(ns, fields)
	if err != nil {
		return err
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	if ttl == 0 {
		ttl = DefaultTTL[ns]
	}

	entry := posmodel.CacheEntry{
		Value:      value,
		Confidence: confidence,
		Meta:       meta,
		CreatedAt:  now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		entry.ExpiresAt = &exp
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

// Len reports the current number of live (not necessarily unexpired)
// entries — useful for tests and diagnostics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
