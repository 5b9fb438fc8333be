package storeconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/posgateway/posgateway/pkg/atomicfile"
	"github.com/posgateway/posgateway/pkg/posmodel"
)

// canonicalize decodes raw JSON into a generic value and re-encodes it so
// that map keys are sorted and whitespace is normalized — the basis for
// content-hash versioning.
func canonicalize(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	// encoding/json sorts map[string]any keys on Marshal.
	return json.Marshal(v)
}

func loadOrSeedMenu(path string) ([]posmodel.MenuItem, []byte, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		raw = []byte("[]")
		if werr := atomicfile.Write(path, raw); werr != nil {
			return nil, nil, werr
		}
	} else if err != nil {
		return nil, nil, fmt.Errorf("storeconfig: read menu_catalog: %w", err)
	}

	items, err := parseMenuCatalog(raw)
	if err != nil {
		return nil, nil, err
	}
	canon, err := canonicalize(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("storeconfig: canonicalize menu_catalog: %w", err)
	}
	return items, canon, nil
}

// parseMenuCatalog accepts either a JSON list of item objects or a
// mapping from id to item object, per spec §4.2.
func parseMenuCatalog(raw []byte) ([]posmodel.MenuItem, error) {
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return itemsFromObjects(list)
	}

	var mapping map[string]map[string]any
	if err := json.Unmarshal(raw, &mapping); err == nil {
		ids := make([]string, 0, len(mapping))
		for id := range mapping {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		objs := make([]map[string]any, 0, len(mapping))
		for _, id := range ids {
			obj := mapping[id]
			if _, ok := obj["item_id"]; !ok {
				if _, ok2 := obj["id"]; !ok2 {
					obj["item_id"] = id
				}
			}
			objs = append(objs, obj)
		}
		return itemsFromObjects(objs)
	}

	return nil, ErrInvalidMenuCatalog
}

func itemsFromObjects(objs []map[string]any) ([]posmodel.MenuItem, error) {
	out := make([]posmodel.MenuItem, 0, len(objs))
	for _, obj := range objs {
		itemID, _ := stringField(obj, "item_id")
		if itemID == "" {
			itemID, _ = stringField(obj, "id")
		}
		name, _ := stringField(obj, "canonical_name")
		if name == "" {
			name, _ = stringField(obj, "name")
		}
		if itemID == "" && name == "" {
			return nil, ErrInvalidMenuCatalog
		}
		if itemID == "" {
			itemID = name
		}
		if name == "" {
			name = itemID
		}
		var aliases []string
		if raw, ok := obj["aliases"]; ok {
			if arr, ok := raw.([]any); ok {
				for _, a := range arr {
					if s, ok := a.(string); ok {
						aliases = append(aliases, s)
					}
				}
			}
		}
		soldOut, _ := obj["sold_out"].(bool)
		out = append(out, posmodel.MenuItem{
			ItemID:        itemID,
			CanonicalName: name,
			Aliases:       aliases,
			SoldOut:       soldOut,
		})
	}
	return out, nil
}

func stringField(obj map[string]any, key string) (string, bool) {
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func loadOrSeedMods(path string) ([]string, []byte, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		raw = []byte("[]")
		if werr := atomicfile.Write(path, raw); werr != nil {
			return nil, nil, werr
		}
	} else if err != nil {
		return nil, nil, fmt.Errorf("storeconfig: read allowed_mods: %w", err)
	}

	var mods []string
	if err := json.Unmarshal(raw, &mods); err != nil {
		return nil, nil, ErrInvalidAllowedMods
	}
	canon, err := canonicalize(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("storeconfig: canonicalize allowed_mods: %w", err)
	}
	return mods, canon, nil
}

// defaultLLMConfig seeds a new store's llm_config.json from the
// process-level POS_LLM_* environment variables (spec.md §6), falling
// back to hardcoded values when unset.
func defaultLLMConfig() posmodel.LLMConfig {
	cfg := posmodel.LLMConfig{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		TimeoutS: 15,
		APIKey:   os.Getenv("POS_LLM_API_KEY"),
	}
	if v := os.Getenv("POS_LLM_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("POS_LLM_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("POS_LLM_TIMEOUT_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TimeoutS = n
		}
	}
	if v := os.Getenv("POS_LLM_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = &b
		}
	}
	return cfg
}

func loadOrSeedLLM(path string) (posmodel.LLMConfig, []byte, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		seed, mErr := json.MarshalIndent(defaultLLMConfig(), "", "  ")
		if mErr != nil {
			return posmodel.LLMConfig{}, nil, mErr
		}
		raw = seed
		if werr := atomicfile.Write(path, raw); werr != nil {
			return posmodel.LLMConfig{}, nil, werr
		}
	} else if err != nil {
		return posmodel.LLMConfig{}, nil, fmt.Errorf("storeconfig: read llm_config: %w", err)
	}

	var cfg posmodel.LLMConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return posmodel.LLMConfig{}, nil, fmt.Errorf("storeconfig: parse llm_config: %w", err)
	}
	canon, err := canonicalize(raw)
	if err != nil {
		return posmodel.LLMConfig{}, nil, fmt.Errorf("storeconfig: canonicalize llm_config: %w", err)
	}
	return cfg, canon, nil
}
