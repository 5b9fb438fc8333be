package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/posgateway/posgateway/pkg/cache"
	"github.com/posgateway/posgateway/pkg/candidate"
	"github.com/posgateway/posgateway/pkg/llmadapter"
	"github.com/posgateway/posgateway/pkg/parser"
	"github.com/posgateway/posgateway/pkg/posmodel"
)

func catalog() []posmodel.MenuItem {
	return []posmodel.MenuItem{
		{ItemID: "I001", CanonicalName: "招牌鍋貼"},
		{ItemID: "I002", CanonicalName: "酸辣湯"},
		{ItemID: "I003", CanonicalName: "咖哩鍋貼"},
	}
}

func TestMergeHighConfidenceHappyPath(t *testing.T) {
	source := "招牌鍋貼 x5\n酸辣湯 x1"
	lines := parser.Parse(source)
	cands := candidate.Generate(lines, catalog())

	order := Merge(source, lines, cands, nil, nil)
	require.False(t, order.OverallNeedsReview)
	require.Len(t, order.Items, 2)
	require.Empty(t, order.Groups)
	for _, it := range order.Items {
		require.NotNil(t, it.ItemCode)
	}
}

func TestMergeUnparseableQtyNeedsReview(t *testing.T) {
	source := "咖哩鍋貼 xO"
	lines := parser.Parse(source)
	cands := candidate.Generate(lines, catalog())

	order := Merge(source, lines, cands, nil, nil)
	require.Len(t, order.Items, 1)
	require.Equal(t, 1, order.Items[0].Qty)
	require.True(t, order.Items[0].NeedsReview)
	require.True(t, order.OverallNeedsReview)
}

func TestMergeCrossLineGrouping(t *testing.T) {
	source := "招牌鍋貼 x5\n咖哩鍋貼 x3\n備註:分裝"
	lines := parser.Parse(source)
	cands := candidate.Generate(lines, catalog())

	order := Merge(source, lines, cands, nil, nil)
	require.Len(t, order.Items, 2)
	require.Len(t, order.Groups, 1)
	require.Equal(t, posmodel.GroupSeparate, order.Groups[0].Type)
	require.Equal(t, []int{0, 1}, order.Groups[0].LineIndices)
	require.Equal(t, "分裝", order.Groups[0].Label)
}

func TestMergeLLMSelectionWins(t *testing.T) {
	source := "鍋貼 x5"
	lines := parser.Parse(source)
	cands := candidate.Generate(lines, catalog())

	out := &llmadapter.Output{Items: []llmadapter.ItemSelection{
		{LineIndex: 0, ItemID: "I001", ConfidenceItem: 0.99, ConfidenceMods: 1},
	}}
	order := Merge(source, lines, cands, out, nil)
	require.Equal(t, "I001", *order.Items[0].ItemCode)
	require.False(t, order.Items[0].NeedsReview)
}

func TestExtractRuleModsMultiClauseNegationCarries(t *testing.T) {
	mods := ExtractRuleMods("不要加薑絲跟香菜")
	require.Equal(t, []string{"不加薑絲", "不加香菜"}, mods)
}

func TestExtractRuleModsSimple(t *testing.T) {
	require.Equal(t, []string{"加辣"}, ExtractRuleMods("加辣"))
}

func TestRuleFallbackEmptySource(t *testing.T) {
	order := RuleFallback("", nil, nil)
	require.Empty(t, order.Items)
	require.True(t, order.OverallNeedsReview)
	require.Equal(t, []string{"no_items_detected"}, order.AuditEvents)
}

func TestRuleFallbackNoGroups(t *testing.T) {
	source := "招牌鍋貼 x5\n咖哩鍋貼 x3"
	lines := parser.Parse(source)
	cands := candidate.Generate(lines, catalog())
	order := RuleFallback(source, lines, cands)
	require.Empty(t, order.Groups)
}

func TestMergerCachesNoteModsAndGroupPattern(t *testing.T) {
	source := "招牌鍋貼 x5\n咖哩鍋貼 x3\n備註:分裝"
	lines := parser.Parse(source)
	cands := candidate.Generate(lines, catalog())

	c := cache.New()
	var events []struct {
		ns  cache.Namespace
		hit bool
	}
	m := Merger{
		Cache:              c,
		MenuCatalogVersion: "v1",
		AllowedModsVersion: "v1",
		OnCacheEvent: func(ns cache.Namespace, hit bool) {
			events = append(events, struct {
				ns  cache.Namespace
				hit bool
			}{ns, hit})
		},
		Now: func() time.Time { return time.Unix(0, 0) },
	}

	first := m.Merge(source, lines, cands, nil, nil)
	require.Len(t, first.Groups, 1)

	var misses int
	for _, ev := range events {
		if !ev.hit {
			misses++
		}
	}
	require.Equal(t, 1, misses, "first pass should only miss (and write) the group-pattern lookup")

	events = nil
	second := m.Merge(source, lines, cands, nil, nil)
	require.Equal(t, first.Groups, second.Groups)

	var hits int
	for _, ev := range events {
		if ev.hit {
			hits++
		}
	}
	require.Equal(t, 1, hits, "second pass should reuse the cached group-pattern lookup")
}
