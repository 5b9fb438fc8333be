// Package llmadapter builds the normalization prompt, invokes the
// external completion service over HTTP, and validates its JSON reply
// against the pipeline's structural constraints.
//
// The teacher's pkg/llm drives a gRPC Gemini-thinking streaming client;
// that contract does not fit here (spec.md §4.7 wants a single
// JSON-in/JSON-out response, not token streaming), so this adapter is a
// plain net/http client instead — see DESIGN.md for the full accounting.
package llmadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/posgateway/posgateway/pkg/posmodel"
)

// FallbackReason is a short token naming why the LLM path was not used.
type FallbackReason string

const (
	ReasonEnvDisabled           FallbackReason = "env_disabled"
	ReasonUnsupportedProvider   FallbackReason = "unsupported_provider"
	ReasonMissingAPIKey         FallbackReason = "missing_api_key"
	ReasonLLMTimeout            FallbackReason = "llm_timeout"
	ReasonLLMHTTPError          FallbackReason = "llm_http_error"
	ReasonLLMInvalidJSON        FallbackReason = "llm_invalid_json"
	ReasonLLMSchemaViolation    FallbackReason = "llm_schema_violation"
	ReasonLLMItemNotInCandidate FallbackReason = "llm_item_not_in_candidates"
)

// ItemSelection is one item entry in the LLM's structured reply.
type ItemSelection struct {
	LineIndex      int      `json:"line_index"`
	ItemID         string   `json:"item_id"`
	Mods           []string `json:"mods"`
	ConfidenceItem float64  `json:"confidence_item"`
	ConfidenceMods float64  `json:"confidence_mods"`
	NeedsReview    bool     `json:"needs_review"`
}

// GroupSelection is one group entry in the LLM's structured reply.
type GroupSelection struct {
	GroupID         string   `json:"group_id"`
	Type            string   `json:"type"`
	Label           string   `json:"label"`
	LineIndices     []int    `json:"line_indices"`
	ConfidenceGroup float64  `json:"confidence_group"`
	NeedsReview     bool     `json:"needs_review"`
}

// Output is the LLM's validated structured reply.
type Output struct {
	Items  []ItemSelection  `json:"items"`
	Groups []GroupSelection `json:"groups"`
}

// Result is the outcome of Invoke: exactly one of Output/Reason is set.
// Request/Response carry the raw JSON wire bodies (when Invoke got far
// enough to build/receive them) so callers can thread them onto the
// ingest_pipeline audit event for trace reconstruction.
type Result struct {
	Output   *Output
	Reason   FallbackReason
	Request  json.RawMessage
	Response json.RawMessage
}

// Default chat-completions endpoint for the "openai" provider. Overridable
// per Adapter for tests and alternate deployments.
const defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"

// Adapter invokes the external completion service.
type Adapter struct {
	Endpoint   string
	HTTPClient *http.Client
}

// New builds an Adapter against the default OpenAI endpoint with a
// plain http.Client (per-request timeout is applied via context).
func New() *Adapter {
	return &Adapter{Endpoint: defaultOpenAIEndpoint, HTTPClient: &http.Client{}}
}

// Invoke drives the completion request for one order. It enforces
// response_format=json and a timeout of llmConfig.TimeoutS; zero
// application-level retries. Failure returns a Result carrying the
// specific FallbackReason instead of an error — transport/content
// failures never propagate as Go errors to the caller.
func (a *Adapter) Invoke(ctx context.Context, lines []posmodel.RawLine, candidates []posmodel.CandidateSet, allowedMods []string, llmConfig posmodel.LLMConfig) Result {
	if llmConfig.Provider != "openai" {
		return Result{Reason: ReasonUnsupportedProvider}
	}
	if llmConfig.APIKey == "" {
		return Result{Reason: ReasonMissingAPIKey}
	}

	timeout := time.Duration(llmConfig.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := buildRequestBody(lines, candidates, allowedMods, llmConfig)
	if err != nil {
		return Result{Reason: ReasonLLMHTTPError}
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Reason: ReasonLLMHTTPError, Request: body}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+llmConfig.APIKey)

	client := a.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return Result{Reason: ReasonLLMTimeout, Request: body}
		}
		return Result{Reason: ReasonLLMHTTPError, Request: body}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Reason: ReasonLLMHTTPError, Request: body}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Reason: ReasonLLMHTTPError, Request: body, Response: raw}
	}

	var out Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{Reason: ReasonLLMInvalidJSON, Request: body, Response: raw}
	}

	if reason, ok := validateOutput(out, lines, candidates); !ok {
		return Result{Reason: reason, Request: body, Response: raw}
	}

	return Result{Output: &out, Request: body, Response: raw}
}

// buildRequestBody constructs the response_format=json chat-completion
// request body carrying the normalization prompt.
func buildRequestBody(lines []posmodel.RawLine, candidates []posmodel.CandidateSet, allowedMods []string, llmConfig posmodel.LLMConfig) ([]byte, error) {
	prompt := BuildPrompt(lines, candidates, allowedMods)
	req := map[string]any{
		"model":           llmConfig.Model,
		"response_format": map[string]string{"type": "json_object"},
		"messages": []map[string]string{
			{"role": "system", "content": "You normalize point-of-sale receipt lines into structured items and groups."},
			{"role": "user", "content": prompt},
		},
	}
	return json.Marshal(req)
}

// BuildPrompt renders the normalization instructions for one order. The
// prompt constrains mods to allowedMods — the stricter of the two
// variants observed in the source corpus (see DESIGN.md open-question
// resolution); item_id must be drawn from that line's candidate set.
func BuildPrompt(lines []posmodel.RawLine, candidates []posmodel.CandidateSet, allowedMods []string) string {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "Lines:")
	for _, l := range lines {
		fmt.Fprintf(&buf, "  [%d] %q qty=%d note=%q\n", l.LineIndex, l.NameRaw, l.Qty, l.NoteRaw)
	}
	fmt.Fprintln(&buf, "Candidates:")
	for _, cs := range candidates {
		fmt.Fprintf(&buf, "  [%d]:", cs.LineIndex)
		for _, c := range cs.Candidates {
			fmt.Fprintf(&buf, " %s(%s,%.2f)", c.ItemID, c.CanonicalName, c.Score)
		}
		fmt.Fprintln(&buf)
	}
	fmt.Fprintf(&buf, "Allowed mods: %v\n", allowedMods)
	fmt.Fprintln(&buf, `Reply with JSON: {"items":[{"line_index","item_id","mods","confidence_item","confidence_mods","needs_review"}],"groups":[{"group_id","type","label","line_indices","confidence_group","needs_review"}]}. mods must be drawn from Allowed mods; item_id must be one of that line's Candidates.`)
	return buf.String()
}

// validateOutput enforces the schema: every input line_index appears
// exactly once in items, and each item_id is drawn from that line's
// candidate set.
func validateOutput(out Output, lines []posmodel.RawLine, candidates []posmodel.CandidateSet) (FallbackReason, bool) {
	candByLine := make(map[int][]posmodel.Candidate, len(candidates))
	for _, cs := range candidates {
		candByLine[cs.LineIndex] = cs.Candidates
	}

	seen := make(map[int]bool, len(out.Items))
	for _, it := range out.Items {
		if seen[it.LineIndex] {
			return ReasonLLMSchemaViolation, false
		}
		seen[it.LineIndex] = true

		cands, ok := candByLine[it.LineIndex]
		if !ok {
			return ReasonLLMSchemaViolation, false
		}
		if it.ItemID != "" {
			found := false
			for _, c := range cands {
				if c.ItemID == it.ItemID {
					found = true
					break
				}
			}
			if !found {
				return ReasonLLMItemNotInCandidate, false
			}
		}
	}
	for _, l := range lines {
		if !seen[l.LineIndex] {
			return ReasonLLMSchemaViolation, false
		}
	}
	return "", true
}
