package legacybridge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleWire() string {
	return "HDR#2#" +
		"^牛肉麵^12:00^1^0^D1^ORD1^S1^^2^分裝#" +
		"^珍珠奶茶^12:00^2^0^D1^ORD1^S2^^1^#" +
		"TAIL"
}

func TestParseWireExtractsFields(t *testing.T) {
	records, err := ParseWire(sampleWire())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "牛肉麵", records[0].ItemName)
	require.Equal(t, 1, records[0].Qty)
	require.Equal(t, "ORD1", records[0].OrderNo)
	require.Equal(t, 2, records[0].Seq)
	require.Equal(t, "分裝", records[0].NoteRaw)
}

func TestParseWireRejectsCountMismatch(t *testing.T) {
	_, err := ParseWire("HDR#5#rec1#TAIL")
	require.Error(t, err)
}

// TestParseWireSpecE4Literal reproduces spec.md's own E4 scenario verbatim:
// a wire payload with no trailing tail segment after the last record.
func TestParseWireSpecE4Literal(t *testing.T) {
	wire := "ok#2#0^招牌鍋貼^2026-02-15 10:00:00^5^0^012^ORD-A^SER-1^^1^^#" +
		"0^韭菜鍋貼^2026-02-15 10:00:01^10^0^012^ORD-A^SER-2^^2^同袋^"
	records, err := ParseWire(wire)
	require.NoError(t, err)
	require.Len(t, records, 2)

	orders := GroupOrders(records)
	require.Len(t, orders, 1)
	text := SourceText(orders[0])
	require.Contains(t, text, "招牌鍋貼 x5")
	require.Contains(t, text, "韭菜鍋貼 x10 備註:同袋")
}

func TestGroupOrdersSortsBySeqThenPosition(t *testing.T) {
	records, err := ParseWire(sampleWire())
	require.NoError(t, err)
	orders := GroupOrders(records)
	require.Len(t, orders, 1)
	// seq=1 (珍珠奶茶) sorts before seq=2 (牛肉麵) despite arriving second.
	require.Equal(t, "珍珠奶茶", orders[0].Records[0].ItemName)
	require.Equal(t, "牛肉麵", orders[0].Records[1].ItemName)
	require.Equal(t, []string{"S1", "S2"}, orders[0].SerialNos)
}

func TestSourceTextDedupesExactLines(t *testing.T) {
	o := Order{Records: []Record{
		{ItemName: "牛肉麵", Qty: 1},
		{ItemName: "牛肉麵", Qty: 1},
		{ItemName: "珍珠奶茶", Qty: 2, NoteRaw: "少糖"},
	}}
	text := SourceText(o)
	require.Equal(t, "牛肉麵 x1\n珍珠奶茶 x2 備註:少糖", text)
}

func TestFingerprintStableForSameOrder(t *testing.T) {
	o := Order{OrderNo: "ORD1", SerialNos: []string{"S1"}, Records: []Record{{ItemName: "牛肉麵", Qty: 1}}}
	require.Equal(t, fingerprint(o), fingerprint(o))

	o2 := Order{OrderNo: "ORD2", SerialNos: []string{"S1"}, Records: []Record{{ItemName: "牛肉麵", Qty: 1}}}
	require.NotEqual(t, fingerprint(o), fingerprint(o2))
}
