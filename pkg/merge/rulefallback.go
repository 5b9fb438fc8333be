package merge

import "github.com/posgateway/posgateway/pkg/posmodel"

// RuleFallback implements spec.md §4.9: the deterministic reconstruction
// used when the LLM path is unavailable entirely (not merely absent from
// one request — see Merge, which also runs rule-based mods/groups when
// llmOutput is nil). No groups are produced. An empty source yields an
// empty order with a single no_items_detected event and
// overall_needs_review=true.
func RuleFallback(sourceText string, lines []posmodel.RawLine, candidates []posmodel.CandidateSet) posmodel.NormalizedOrder {
	order := posmodel.NormalizedOrder{SourceText: sourceText, Lines: lines}

	if len(lines) == 0 {
		order.AuditEvents = []string{"no_items_detected"}
		order.OverallNeedsReview = true
		return order
	}

	candByLine := make(map[int][]posmodel.Candidate, len(candidates))
	for _, cs := range candidates {
		candByLine[cs.LineIndex] = cs.Candidates
	}

	for _, rl := range lines {
		cands := candByLine[rl.LineIndex]

		var itemCode *string
		confidence := 0.4
		if len(cands) > 0 {
			confidence = cands[0].Score
			if cands[0].Score >= itemThreshold {
				code := cands[0].ItemID
				itemCode = &code
			}
		}

		var notePtr *string
		if rl.NoteRaw != "" {
			note := rl.NoteRaw
			notePtr = &note
		}

		order.Items = append(order.Items, posmodel.NormalizedItem{
			LineIndex:      rl.LineIndex,
			RawLine:        rl.RawLine,
			NameRaw:        rl.NameRaw,
			NameNormalized: rl.NameRaw,
			ItemCode:       itemCode,
			Qty:            rl.Qty,
			NoteRaw:        notePtr,
			ConfidenceItem: &confidence,
			NeedsReview:    itemCode == nil,
			Version:        1,
		})
	}

	order.AuditEvents = []string{"llm_fallback"}
	order.Recompute()
	return order
}
