// Package legacybridge parses the legacy POS wire format and polls a
// legacy endpoint on a timer, forwarding newly-seen orders into the
// ingest pipeline.
package legacybridge

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TableCode enumerates the legacy table_code sentinels (field [4]).
const (
	TableCodeTakeout  = "0"
	TableCodeCall     = "-1"
	TableCodeDelivery = "-2"
	TableCodeDineIn   = "-3"
)

// Record is one parsed `^`-separated legacy record.
type Record struct {
	ItemName    string
	PrintedAt   string
	Qty         int
	TableCode   string
	DisplayOrderNo string
	OrderNo     string
	SerialNo    string
	Seq         int
	NoteRaw     string
	SelectedRaw string
}

// Order groups the records sharing an order_no. SerialNos lists the
// distinct serial numbers in wire arrival order; Records is sorted by seq.
type Order struct {
	OrderNo   string
	SerialNos []string
	Records   []Record
}

// ParseWire parses `header#count#record1#...#tail`, ignoring header/tail
// and decoding each `^`-separated record per the field map in
// spec.md §4.13: [1]=item_name [2]=printed_at [3]=qty [4]=table_code
// [5]=display_order_no [6]=order_no [7]=serial_no [9]=seq [10]=note_raw
// [11]=selected_raw.
func ParseWire(wire string) ([]Record, error) {
	parts := strings.Split(wire, "#")
	if len(parts) < 3 {
		return nil, fmt.Errorf("legacybridge: malformed wire payload")
	}
	count, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("legacybridge: invalid record count: %w", err)
	}
	// Records start at parts[2]; a trailing tail segment is optional, so
	// count-delimit from the front rather than assuming one is present.
	rest := parts[2:]
	if len(rest) < count || len(rest) > count+1 {
		return nil, fmt.Errorf("legacybridge: record count mismatch: header says %d, found %d", count, len(rest))
	}
	recordParts := rest[:count]

	records := make([]Record, 0, len(recordParts))
	for _, rp := range recordParts {
		fields := strings.Split(rp, "^")
		rec := Record{
			ItemName:       field(fields, 1),
			PrintedAt:      field(fields, 2),
			Qty:            atoiOr(field(fields, 3), 1),
			TableCode:      field(fields, 4),
			DisplayOrderNo: field(fields, 5),
			OrderNo:        field(fields, 6),
			SerialNo:       field(fields, 7),
			Seq:            atoiOr(field(fields, 9), 0),
			NoteRaw:        field(fields, 10),
			SelectedRaw:    field(fields, 11),
		}
		records = append(records, rec)
	}
	return records, nil
}

func field(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[idx])
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// GroupOrders buckets records by order_no, sorting each group's records
// by seq then original input position (stable sort preserves position
// ties), and returns groups in first-seen order_no order.
func GroupOrders(records []Record) []Order {
	index := make(map[string]int)
	var orders []Order
	for _, rec := range records {
		i, ok := index[rec.OrderNo]
		if !ok {
			i = len(orders)
			index[rec.OrderNo] = i
			orders = append(orders, Order{OrderNo: rec.OrderNo})
		}
		orders[i].Records = append(orders[i].Records, rec)
	}

	for i := range orders {
		seen := make(map[string]bool)
		var serials []string
		for _, rec := range orders[i].Records {
			if rec.SerialNo != "" && !seen[rec.SerialNo] {
				seen[rec.SerialNo] = true
				serials = append(serials, rec.SerialNo)
			}
		}
		orders[i].SerialNos = serials
		sort.SliceStable(orders[i].Records, func(a, b int) bool {
			return orders[i].Records[a].Seq < orders[i].Records[b].Seq
		})
	}
	return orders
}

// SourceText concatenates an order's records into
// "<name> x<qty>[ 備註:<note>]" lines, one per record, deduplicated on
// exact line match.
func SourceText(o Order) string {
	seen := make(map[string]bool, len(o.Records))
	var lines []string
	for _, rec := range o.Records {
		line := fmt.Sprintf("%s x%d", rec.ItemName, rec.Qty)
		if rec.NoteRaw != "" {
			line += " 備註:" + rec.NoteRaw
		}
		if seen[line] {
			continue
		}
		seen[line] = true
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
