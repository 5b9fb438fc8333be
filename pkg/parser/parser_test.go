package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHappyPath(t *testing.T) {
	lines := Parse("招牌鍋貼 x5\n酸辣湯 x1")
	require.Len(t, lines, 2)
	require.Equal(t, "招牌鍋貼", lines[0].NameRaw)
	require.Equal(t, 5, lines[0].Qty)
	require.False(t, lines[0].QtyUnparsed)
	require.Equal(t, 1, lines[1].Qty)
}

func TestParseUnparseableQty(t *testing.T) {
	lines := Parse("咖哩鍋貼 xO")
	require.Len(t, lines, 1)
	require.Equal(t, 1, lines[0].Qty)
	require.True(t, lines[0].QtyUnparsed)
}

func TestParseNoteMarker(t *testing.T) {
	lines := Parse("招牌鍋貼 x5\n咖哩鍋貼 x3\n備註:分裝")
	require.Len(t, lines, 3)
	require.Equal(t, "分裝", lines[2].NoteRaw)
}

func TestParseDropsEmptyLines(t *testing.T) {
	lines := Parse("招牌鍋貼 x5\n\n   \n酸辣湯 x1")
	require.Len(t, lines, 2)
	require.Equal(t, 0, lines[0].LineIndex)
	require.Equal(t, 1, lines[1].LineIndex)
}

func TestParseChineseCountUnit(t *testing.T) {
	lines := Parse("韭菜鍋貼 2份")
	require.Len(t, lines, 1)
	require.Equal(t, 2, lines[0].Qty)
	require.False(t, lines[0].QtyUnparsed)
}

func TestParseEmptySource(t *testing.T) {
	require.Empty(t, Parse(""))
	require.Empty(t, Parse("   \n  "))
}
