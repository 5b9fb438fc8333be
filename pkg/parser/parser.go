// Package parser splits raw receipt text into line records, extracting a
// quantity and an optional note from each line.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/posgateway/posgateway/pkg/posmodel"
)

const noteMarker = "備註:"

var (
	qtyLatin  = regexp.MustCompile(`^(.*?)\s*[xX*](\d+)\s*$`)
	qtyChinese = regexp.MustCompile(`^(.*?)\s*(\d+)\s*份\s*$`)
)

// Parse splits sourceText on line breaks, trims each line, drops empty
// lines, and extracts {name, qty, note} per spec §4.5.
func Parse(sourceText string) []posmodel.RawLine {
	rawLines := strings.Split(strings.ReplaceAll(sourceText, "\r\n", "\n"), "\n")

	var out []posmodel.RawLine
	idx := 0
	for _, raw := range rawLines {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}

		body := trimmed
		var note string
		if pos := strings.Index(trimmed, noteMarker); pos >= 0 {
			body = strings.TrimSpace(trimmed[:pos])
			note = strings.TrimSpace(trimmed[pos+len(noteMarker):])
		}

		name, qty, unparsed := extractQty(body)

		out = append(out, posmodel.RawLine{
			LineIndex:   idx,
			RawLine:     trimmed,
			NameRaw:     name,
			Qty:         qty,
			NoteRaw:     note,
			QtyUnparsed: unparsed,
		})
		idx++
	}
	return out
}

// extractQty tries "<name> x<int>"/"<name>*<int>" then "<name> <int>份",
// defaulting to qty=1 with unparsed=true on failure.
func extractQty(body string) (name string, qty int, unparsed bool) {
	if m := qtyLatin.FindStringSubmatch(body); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil && n >= 1 {
			return strings.TrimSpace(m[1]), n, false
		}
	}
	if m := qtyChinese.FindStringSubmatch(body); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil && n >= 1 {
			return strings.TrimSpace(m[1]), n, false
		}
	}
	return body, 1, true
}
