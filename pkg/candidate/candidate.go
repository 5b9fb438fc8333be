// Package candidate ranks menu items against raw receipt lines by string
// similarity, producing the candidate sets the merge step and LLM adapter
// consume.
package candidate

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/posgateway/posgateway/pkg/posmodel"
)

const maxCandidates = 5

// Generate ranks the store's menu catalog against each raw line's
// name_raw, combining substring containment with normalized edit
// distance. An empty catalog yields an empty candidate list for every
// line — every line will need review downstream.
func Generate(lines []posmodel.RawLine, catalog []posmodel.MenuItem) []posmodel.CandidateSet {
	out := make([]posmodel.CandidateSet, 0, len(lines))
	for _, line := range lines {
		out = append(out, posmodel.CandidateSet{
			LineIndex:  line.LineIndex,
			Candidates: rankFor(line.NameRaw, catalog),
		})
	}
	return out
}

func rankFor(nameRaw string, catalog []posmodel.MenuItem) []posmodel.Candidate {
	if len(catalog) == 0 {
		return nil
	}
	norm := normalize(nameRaw)

	type scored struct {
		idx   int
		cand  posmodel.Candidate
	}
	scoredItems := make([]scored, 0, len(catalog))
	for i, item := range catalog {
		best := scoreName(norm, normalize(item.CanonicalName))
		for _, alias := range item.Aliases {
			if s := scoreName(norm, normalize(alias)); s > best {
				best = s
			}
		}
		if item.SoldOut {
			best *= 0.8
		}
		scoredItems = append(scoredItems, scored{idx: i, cand: posmodel.Candidate{
			ItemID:        item.ItemID,
			CanonicalName: item.CanonicalName,
			Score:         best,
		}})
	}

	sort.SliceStable(scoredItems, func(i, j int) bool {
		if scoredItems[i].cand.Score != scoredItems[j].cand.Score {
			return scoredItems[i].cand.Score > scoredItems[j].cand.Score
		}
		return scoredItems[i].idx < scoredItems[j].idx // stable tie-break on catalog position
	})

	k := maxCandidates
	if k > len(scoredItems) {
		k = len(scoredItems)
	}
	top := make([]posmodel.Candidate, 0, k)
	for _, s := range scoredItems[:k] {
		top = append(top, s.cand)
	}
	return top
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// scoreName combines substring containment with normalized edit distance
// into a single score in [0,1].
func scoreName(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	containScore := 0.0
	if strings.Contains(b, a) || strings.Contains(a, b) {
		shorterLen, longerLen := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
		if shorterLen > longerLen {
			shorterLen, longerLen = longerLen, shorterLen
		}
		containScore = float64(shorterLen) / float64(longerLen)
	}

	dist := levenshtein(a, b)
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	editScore := 1 - float64(dist)/float64(maxLen)
	if editScore < 0 {
		editScore = 0
	}

	score := containScore
	if editScore > score {
		score = editScore
	}
	// Blend: containment-exact matches stay at 1, otherwise average the
	// two signals so neither alone dominates a weak match.
	return (containScore + editScore + score) / 3
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			best := del
			if ins < best {
				best = ins
			}
			if sub < best {
				best = sub
			}
			cur[j] = best
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
