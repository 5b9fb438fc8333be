package storeconfig

import (
	"regexp"
	"strings"

	"github.com/posgateway/posgateway/pkg/posmodel"
)

var storeIDScrub = regexp.MustCompile(`[^a-z0-9_-]`)

// NormalizeStoreID lowercases and strips any character outside
// [a-z0-9_-], truncating to 64 characters.
func NormalizeStoreID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = storeIDScrub.ReplaceAllString(id, "")
	if len(id) > 64 {
		id = id[:64]
	}
	if id == "" {
		id = "default"
	}
	return id
}

// dedupeMods deduplicates mods preserving first-seen order, dropping
// empty strings.
func dedupeMods(mods []string) []string {
	seen := make(map[string]bool, len(mods))
	out := make([]string, 0, len(mods))
	for _, m := range mods {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

var supportedProviders = map[string]bool{"openai": true}

// NormalizeLLMConfig clamps/defaults an LLM config per spec §4.2: provider
// coerced into the supported set, timeout clamped to [2,60] default 15,
// enabled left nil (auto) when unset.
func NormalizeLLMConfig(c posmodel.LLMConfig) posmodel.LLMConfig {
	if !supportedProviders[c.Provider] {
		c.Provider = "openai"
	}
	if c.TimeoutS == 0 {
		c.TimeoutS = 15
	}
	if c.TimeoutS < 2 {
		c.TimeoutS = 2
	}
	if c.TimeoutS > 60 {
		c.TimeoutS = 60
	}
	return c
}

// EffectiveEnabled resolves the tri-state Enabled flag: explicit
// true/false wins, nil auto-enables iff an api key is present.
func EffectiveEnabled(c posmodel.LLMConfig) bool {
	if c.Enabled != nil {
		return *c.Enabled
	}
	return c.APIKey != ""
}

// RedactAPIKey renders an API key as "prefix***suffix", or "***" when too
// short to redact meaningfully.
func RedactAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "***" + key[len(key)-4:]
}
