// Package merge combines parsed lines, menu candidates, and an optional
// LLM structured reply into a validated NormalizedOrder, and provides the
// deterministic rule-based reconstruction used when the LLM path is
// unavailable entirely.
package merge

import (
	"fmt"
	"strings"
	"time"

	"github.com/posgateway/posgateway/pkg/cache"
	"github.com/posgateway/posgateway/pkg/llmadapter"
	"github.com/posgateway/posgateway/pkg/posmodel"
)

// itemThreshold is the confidence floor below which an item is routed to
// review even when an item_code was assigned.
const itemThreshold = 0.85

// Merge implements spec.md §4.8: items use the LLM selection when present
// and valid, else the top candidate when its score clears itemThreshold,
// else a null item_code; mods combine LLM mods with rule-extracted ones;
// groups prefer LLM groups when valid, else rule hints from standalone
// note lines ("同袋", "分裝", "上面兩項" adjacency); the result is then
// validated and overall_needs_review computed.
//
// This is a thin wrapper over the zero-value Merger, which runs the same
// steps without a pipeline cache; see Merger.Merge for the cache-backed
// variant the ingest service uses in production.
func Merge(sourceText string, lines []posmodel.RawLine, candidates []posmodel.CandidateSet, llmOutput *llmadapter.Output, allowedMods []string) posmodel.NormalizedOrder {
	return Merger{}.Merge(sourceText, lines, candidates, llmOutput, allowedMods)
}

// Merger runs the merge step, optionally resolving note-mods and
// group-pattern lookups through a shared pipeline cache instead of
// recomputing ExtractRuleMods/detectGroupHint on every call. A zero-value
// Merger (Cache == nil) behaves identically to the package-level Merge
// function.
type Merger struct {
	Cache              *cache.Cache
	MenuCatalogVersion string
	AllowedModsVersion string

	// OnCacheEvent, when set, is notified of every namespace lookup this
	// Merger performs (hit=true on a cache hit, false on a miss that was
	// then computed and written back) — the ingest service uses this to
	// emit cache_hit/cache_miss/cache_write audit events.
	OnCacheEvent func(ns cache.Namespace, hit bool)

	// Now overrides time.Now for tests; nil uses the real clock.
	Now func() time.Time
}

func (m Merger) clock() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m Merger) notify(ns cache.Namespace, hit bool) {
	if m.OnCacheEvent != nil {
		m.OnCacheEvent(ns, hit)
	}
}

// ruleMods resolves a note's rule-based mods, through m.Cache's
// note-mods namespace when a cache is configured.
func (m Merger) ruleMods(noteRaw string) []string {
	if m.Cache == nil || strings.TrimSpace(noteRaw) == "" {
		return ExtractRuleMods(noteRaw)
	}
	fields := map[string]any{"note_raw": noteRaw, "allowed_mods_version": m.AllowedModsVersion}
	now := m.clock()
	if entry, ok, err := m.Cache.Get(cache.NoteMods, fields, now); err == nil && ok {
		if mods, ok := entry.Value.([]string); ok {
			m.notify(cache.NoteMods, true)
			return mods
		}
	}
	m.notify(cache.NoteMods, false)
	mods := ExtractRuleMods(noteRaw)
	_ = m.Cache.Set(cache.NoteMods, fields, mods, 1, nil, 0, now)
	return mods
}

// groupHint resolves a standalone note's rule-based group hint, through
// m.Cache's group-pattern namespace when a cache is configured. A
// cached "no hint" result is stored as the zero ruleGroupHint so a
// second lookup for the same pattern is still a hit.
func (m Merger) groupHint(note string) (ruleGroupHint, bool) {
	if m.Cache == nil || strings.TrimSpace(note) == "" {
		return detectGroupHint(note)
	}
	fields := map[string]any{
		"group_pattern":        note,
		"menu_catalog_version": m.MenuCatalogVersion,
		"allowed_mods_version": m.AllowedModsVersion,
	}
	now := m.clock()
	if entry, ok, err := m.Cache.Get(cache.GroupPattern, fields, now); err == nil && ok {
		if hint, ok := entry.Value.(ruleGroupHint); ok {
			m.notify(cache.GroupPattern, true)
			return hint, hint != (ruleGroupHint{})
		}
	}
	m.notify(cache.GroupPattern, false)
	hint, ok := detectGroupHint(note)
	_ = m.Cache.Set(cache.GroupPattern, fields, hint, 1, nil, 0, now)
	return hint, ok
}

// Merge runs the merge step described on the package-level Merge function.
func (m Merger) Merge(sourceText string, lines []posmodel.RawLine, candidates []posmodel.CandidateSet, llmOutput *llmadapter.Output, allowedMods []string) posmodel.NormalizedOrder {
	candByLine := make(map[int][]posmodel.Candidate, len(candidates))
	for _, cs := range candidates {
		candByLine[cs.LineIndex] = cs.Candidates
	}

	var llmItems map[int]llmadapter.ItemSelection
	if llmOutput != nil {
		llmItems = make(map[int]llmadapter.ItemSelection, len(llmOutput.Items))
		for _, it := range llmOutput.Items {
			llmItems[it.LineIndex] = it
		}
	}

	order := posmodel.NormalizedOrder{SourceText: sourceText, Lines: lines}
	var events []string

	itemLines, hintLines := splitLines(lines)

	if len(itemLines) == 0 {
		events = append(events, "no_items_detected")
	}

	for _, rl := range itemLines {
		item := buildItem(rl, candByLine[rl.LineIndex], llmItems[rl.LineIndex], llmOutput != nil, m.ruleMods)
		if item.ItemCode == nil {
			events = append(events, fmt.Sprintf("item_below_threshold:line=%d", rl.LineIndex))
		}
		order.Items = append(order.Items, item)
	}

	if llmOutput == nil {
		events = append(events, "llm_fallback")
	}

	groups, groupEvents := buildGroups(llmOutput, hintLines, itemLines, m.groupHint)
	order.Groups = groups
	events = append(events, groupEvents...)

	order.AuditEvents = events
	order.Recompute()
	return order
}

// splitLines separates lines with a parsed item name from standalone
// note-only lines (empty name, non-empty note) that carry only a
// cross-line grouping instruction — e.g. a lone "備註:分裝" line.
func splitLines(lines []posmodel.RawLine) (itemLines, hintLines []posmodel.RawLine) {
	for _, l := range lines {
		if l.NameRaw == "" && l.NoteRaw != "" {
			hintLines = append(hintLines, l)
			continue
		}
		itemLines = append(itemLines, l)
	}
	return itemLines, hintLines
}

func buildItem(rl posmodel.RawLine, cands []posmodel.Candidate, sel llmadapter.ItemSelection, hasLLM bool, ruleMods func(string) []string) posmodel.NormalizedItem {
	var itemCode *string
	var confidenceItem *float64
	var llmMods []string
	var confidenceMods *float64
	needsReview := rl.QtyUnparsed

	llmSelected := hasLLM && sel.ItemID != "" && candidateContains(cands, sel.ItemID)
	switch {
	case llmSelected:
		code := sel.ItemID
		itemCode = &code
		ci := sel.ConfidenceItem
		confidenceItem = &ci
		cm := sel.ConfidenceMods
		confidenceMods = &cm
		llmMods = sel.Mods
		if sel.NeedsReview {
			needsReview = true
		}
	case len(cands) > 0 && cands[0].Score >= itemThreshold:
		code := cands[0].ItemID
		itemCode = &code
		score := cands[0].Score
		confidenceItem = &score
	default:
		if len(cands) > 0 {
			score := cands[0].Score
			confidenceItem = &score
		}
	}

	mods := MergeMods(llmMods, ruleMods(rl.NoteRaw))

	if confidenceMods == nil && len(mods) > 0 {
		v := 0.6
		confidenceMods = &v
	}

	if itemCode == nil || *itemCode == "" {
		needsReview = true
	}
	if rl.Qty < 1 {
		needsReview = true
	}
	if confidenceItem != nil && *confidenceItem < itemThreshold {
		needsReview = true
	}

	var notePtr *string
	if rl.NoteRaw != "" {
		note := rl.NoteRaw
		notePtr = &note
	}

	return posmodel.NormalizedItem{
		LineIndex:      rl.LineIndex,
		RawLine:        rl.RawLine,
		NameRaw:        rl.NameRaw,
		NameNormalized: rl.NameRaw,
		ItemCode:       itemCode,
		Qty:            rl.Qty,
		NoteRaw:        notePtr,
		Mods:           mods,
		ConfidenceItem: confidenceItem,
		ConfidenceMods: confidenceMods,
		NeedsReview:    needsReview,
		Version:        1,
	}
}

func candidateContains(cands []posmodel.Candidate, itemID string) bool {
	for _, c := range cands {
		if c.ItemID == itemID {
			return true
		}
	}
	return false
}

func buildGroups(llmOutput *llmadapter.Output, hintLines, itemLines []posmodel.RawLine, groupHint func(string) (ruleGroupHint, bool)) ([]posmodel.Group, []string) {
	itemLineSet := make(map[int]bool, len(itemLines))
	for _, l := range itemLines {
		itemLineSet[l.LineIndex] = true
	}

	var events []string

	if llmOutput != nil && len(llmOutput.Groups) > 0 {
		var groups []posmodel.Group
		for i, g := range llmOutput.Groups {
			if !validGroupMembership(g.LineIndices, itemLineSet) {
				events = append(events, fmt.Sprintf("group_rejected:index=%d", i))
				continue
			}
			groups = append(groups, posmodel.Group{
				GroupID:         g.GroupID,
				Type:            posmodel.GroupType(g.Type),
				Label:           g.Label,
				LineIndices:     g.LineIndices,
				ConfidenceGroup: g.ConfidenceGroup,
				NeedsReview:     g.NeedsReview || g.ConfidenceGroup < itemThreshold || g.Label == "",
				Version:         1,
			})
		}
		return groups, events
	}

	// Rule hints: each standalone note line groups the run of item
	// lines that immediately precede it.
	var groups []posmodel.Group
	lastBoundary := -1
	groupSeq := 0
	for _, hint := range hintLines {
		hintInfo, ok := groupHint(hint.NoteRaw)
		if !ok {
			continue
		}
		var members []int
		for _, l := range itemLines {
			if l.LineIndex > lastBoundary && l.LineIndex < hint.LineIndex {
				members = append(members, l.LineIndex)
			}
		}
		lastBoundary = hint.LineIndex
		if !validGroupMembership(members, itemLineSet) {
			events = append(events, "group_rejected:rule_hint")
			continue
		}
		groupSeq++
		groups = append(groups, posmodel.Group{
			GroupID:         fmt.Sprintf("g%d", groupSeq),
			Type:            posmodel.GroupType(hintInfo.groupType),
			Label:           hintInfo.label,
			LineIndices:     members,
			ConfidenceGroup: 0.9,
			Version:         1,
		})
	}
	return groups, events
}

func validGroupMembership(lineIndices []int, itemLineSet map[int]bool) bool {
	if len(lineIndices) < 2 {
		return false
	}
	seen := make(map[int]bool, len(lineIndices))
	for _, idx := range lineIndices {
		if seen[idx] || !itemLineSet[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}
