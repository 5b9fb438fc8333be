package candidate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/posgateway/posgateway/pkg/posmodel"
)

func catalog() []posmodel.MenuItem {
	return []posmodel.MenuItem{
		{ItemID: "I001", CanonicalName: "招牌鍋貼", Aliases: []string{"鍋貼"}},
		{ItemID: "I002", CanonicalName: "酸辣湯"},
		{ItemID: "I003", CanonicalName: "韭菜鍋貼", SoldOut: true},
	}
}

func TestGenerateExactMatchRanksFirst(t *testing.T) {
	lines := []posmodel.RawLine{{LineIndex: 0, NameRaw: "招牌鍋貼"}}
	sets := Generate(lines, catalog())
	require.Len(t, sets, 1)
	require.NotEmpty(t, sets[0].Candidates)
	require.Equal(t, "I001", sets[0].Candidates[0].ItemID)
	require.InDelta(t, 1.0, sets[0].Candidates[0].Score, 0.001)
}

func TestGenerateSoldOutPenalized(t *testing.T) {
	lines := []posmodel.RawLine{{LineIndex: 0, NameRaw: "韭菜鍋貼"}}
	sets := Generate(lines, catalog())
	require.Equal(t, "I003", sets[0].Candidates[0].ItemID)
	require.Less(t, sets[0].Candidates[0].Score, 1.0)
}

func TestGenerateEmptyCatalogYieldsEmptyCandidates(t *testing.T) {
	lines := []posmodel.RawLine{{LineIndex: 0, NameRaw: "招牌鍋貼"}}
	sets := Generate(lines, nil)
	require.Empty(t, sets[0].Candidates)
}

func TestGenerateCapsAtFive(t *testing.T) {
	var cat []posmodel.MenuItem
	for i := 0; i < 10; i++ {
		cat = append(cat, posmodel.MenuItem{ItemID: string(rune('A' + i)), CanonicalName: "item"})
	}
	lines := []posmodel.RawLine{{LineIndex: 0, NameRaw: "item"}}
	sets := Generate(lines, cat)
	require.LessOrEqual(t, len(sets[0].Candidates), 5)
}
