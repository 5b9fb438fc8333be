package merge

import (
	"regexp"
	"strings"
)

var conjunctionSplit = regexp.MustCompile(`跟|和|與|、|,|，`)

var modPrefix = regexp.MustCompile(`^(不要加|不加|不要|去|多加|加)`)

var prefixNormalize = map[string]string{
	"不要加": "不加",
	"不加":  "不加",
	"不要":  "不加",
	"去":   "不加",
	"加":   "加",
	"多加":  "加",
}

// ExtractRuleMods recognizes "加辣"/"不加香菜"-style modification clauses
// in a free-form note, splitting multi-clause notes ("不要加薑絲跟香菜")
// on common conjunctions. A clause with no explicit add/remove prefix
// inherits the polarity of the previous clause in the same note — the
// conjunction's negation scope carries across "跟薑絲跟香菜".
func ExtractRuleMods(noteRaw string) []string {
	noteRaw = strings.TrimSpace(noteRaw)
	if noteRaw == "" {
		return nil
	}

	clauses := conjunctionSplit.Split(noteRaw, -1)
	var mods []string
	lastPrefix := "加"
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		prefix := lastPrefix
		rest := clause
		if m := modPrefix.FindString(clause); m != "" {
			prefix = prefixNormalize[m]
			rest = strings.TrimSpace(clause[len(m):])
		}
		if rest == "" {
			continue
		}
		lastPrefix = prefix
		mods = append(mods, prefix+rest)
	}
	return mods
}

// MergeMods combines llmMods with rule-extracted mods, deduplicating
// while preserving first-seen order (LLM mods win the earlier slots).
func MergeMods(llmMods, ruleMods []string) []string {
	seen := make(map[string]bool, len(llmMods)+len(ruleMods))
	out := make([]string, 0, len(llmMods)+len(ruleMods))
	for _, m := range append(append([]string{}, llmMods...), ruleMods...) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
