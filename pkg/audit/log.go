// Package audit implements the append-only structured audit log:
// sensitive-value masking on write, an unresolved-review index, and
// per-order trace reconstruction.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/posgateway/posgateway/pkg/lock"
	"github.com/posgateway/posgateway/pkg/posmodel"
)

// Log is the file-backed, append-only audit log. Writes for a single
// order_id are serialized via a per-order lock; the file append itself
// is additionally serialized so line framing is never interleaved.
type Log struct {
	path string
	log  *slog.Logger

	orderLocks *lock.Keyed
	writeMu    sync.Mutex
}

// New opens (creating if absent) the audit log at path.
func New(path string, log *slog.Logger) (*Log, error) {
	if log == nil {
		log = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	f.Close()
	return &Log{path: path, log: log, orderLocks: lock.NewKeyed()}, nil
}

// Append masks sensitive fields in event and writes it as one JSON line,
// serialized per order_id so a single order's events land in emission
// order; cross-order interleaving is best-effort.
func (l *Log) Append(event posmodel.AuditEvent) error {
	var appendErr error
	l.orderLocks.With(event.OrderID, func() {
		masked := maskEvent(event)
		raw, err := json.Marshal(masked)
		if err != nil {
			appendErr = fmt.Errorf("audit: marshal event: %w", err)
			return
		}
		raw = append(raw, '\n')

		l.writeMu.Lock()
		defer l.writeMu.Unlock()
		f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			appendErr = fmt.Errorf("audit: open for append: %w", err)
			return
		}
		defer f.Close()
		if _, err := f.Write(raw); err != nil {
			appendErr = fmt.Errorf("audit: write event: %w", err)
			return
		}
	})
	return appendErr
}

func maskEvent(event posmodel.AuditEvent) posmodel.AuditEvent {
	out := event
	out.ParseResult = MaskValue("parse_result", event.ParseResult)
	out.Candidates = MaskValue("candidates", event.Candidates)
	out.LLMRequest = MaskValue("llm_request", event.LLMRequest)
	out.LLMResponse = MaskValue("llm_response", event.LLMResponse)
	out.MergeResult = MaskValue("merge_result", event.MergeResult)
	out.FinalOutput = MaskValue("final_output", event.FinalOutput)
	out.HumanCorrection = MaskValue("human_correction", event.HumanCorrection)
	if event.Metadata != nil {
		masked := MaskValue("metadata", map[string]any(event.Metadata))
		if m, ok := masked.(map[string]any); ok {
			out.Metadata = posmodel.Metadata(m)
		}
	}
	return out
}

// ReadAll returns every well-formed event in the log, discarding an
// unparseable trailing line (a torn write at the OS append boundary).
func (l *Log) ReadAll() ([]posmodel.AuditEvent, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	var events []posmodel.AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan log: %w", err)
	}

	for i, line := range lines {
		var ev posmodel.AuditEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			if i == len(lines)-1 {
				l.log.Warn("audit: discarding unparseable trailing line")
				continue
			}
			l.log.Warn("audit: discarding unparseable line", "line_index", i)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// EventsForOrder returns every event recorded for orderID, in file
// order.
func (l *Log) EventsForOrder(orderID string) ([]posmodel.AuditEvent, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	out := make([]posmodel.AuditEvent, 0)
	for _, ev := range all {
		if ev.OrderID == orderID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// UnresolvedEntry summarizes one unresolved order for the index view.
type UnresolvedEntry struct {
	OrderID       string `json:"order_id"`
	LatestAt      int64  `json:"latest_at_unix"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// UnresolvedReviews returns orders with at least one needs_review (or
// truthy fallback_reason, or final_output.overall_needs_review) event
// occurring after their most recent manual_correction (or with no such
// correction), sorted by latest event timestamp descending, limited to
// limit entries (0 = no limit).
func (l *Log) UnresolvedReviews(limit int) ([]UnresolvedEntry, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}

	byOrder := make(map[string][]posmodel.AuditEvent)
	for _, ev := range all {
		byOrder[ev.OrderID] = append(byOrder[ev.OrderID], ev)
	}

	var out []UnresolvedEntry
	for orderID, events := range byOrder {
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].Timestamp.Before(events[j].Timestamp)
		})

		var lastCorrectionIdx = -1
		for i, ev := range events {
			if ev.EventType == posmodel.EventManualCorrection {
				lastCorrectionIdx = i
			}
		}

		unresolved := false
		var latestTs int64
		var reason string
		for i := lastCorrectionIdx + 1; i < len(events); i++ {
			ev := events[i]
			if eventIndicatesUnresolved(ev) {
				unresolved = true
				if ev.FallbackReason != nil {
					reason = *ev.FallbackReason
				}
			}
		}
		if len(events) > 0 {
			latestTs = events[len(events)-1].Timestamp.Unix()
		}

		if unresolved {
			out = append(out, UnresolvedEntry{OrderID: orderID, LatestAt: latestTs, FallbackReason: reason})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].LatestAt > out[j].LatestAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func eventIndicatesUnresolved(ev posmodel.AuditEvent) bool {
	if ev.NeedsReview {
		return true
	}
	if ev.FallbackReason != nil && *ev.FallbackReason != "" {
		return true
	}
	if m, ok := ev.FinalOutput.(map[string]any); ok {
		if v, ok := m["overall_needs_review"].(bool); ok && v {
			return true
		}
	}
	return false
}

// Trace is the concatenated per-order view returned by GetOrderTrace.
type Trace struct {
	OrderID          string `json:"order_id"`
	RawText          any    `json:"raw_text,omitempty"`
	ParseResult      any    `json:"parse_result,omitempty"`
	Candidates       any    `json:"candidates,omitempty"`
	LLMRequest       any    `json:"llm_request,omitempty"`
	LLMResponse      any    `json:"llm_response,omitempty"`
	MergeResult      any    `json:"merge_result,omitempty"`
	FinalOutput      any    `json:"final_output,omitempty"`
	ManualCorrections []any `json:"manual_corrections"`
}

// GetOrderTrace concatenates the latest non-null value of each pipeline
// stage field across orderID's events, plus the full list of manual
// corrections.
func (l *Log) GetOrderTrace(orderID string) (Trace, error) {
	events, err := l.EventsForOrder(orderID)
	if err != nil {
		return Trace{}, err
	}

	t := Trace{OrderID: orderID, ManualCorrections: []any{}}
	for _, ev := range events {
		if ev.RawText != nil {
			t.RawText = *ev.RawText
		}
		if ev.ParseResult != nil {
			t.ParseResult = ev.ParseResult
		}
		if ev.Candidates != nil {
			t.Candidates = ev.Candidates
		}
		if ev.LLMRequest != nil {
			t.LLMRequest = ev.LLMRequest
		}
		if ev.LLMResponse != nil {
			t.LLMResponse = ev.LLMResponse
		}
		if ev.MergeResult != nil {
			t.MergeResult = ev.MergeResult
		}
		if ev.FinalOutput != nil {
			t.FinalOutput = ev.FinalOutput
		}
		if ev.EventType == posmodel.EventManualCorrection && ev.HumanCorrection != nil {
			t.ManualCorrections = append(t.ManualCorrections, ev.HumanCorrection)
		}
	}
	return t, nil
}
