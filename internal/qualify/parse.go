package qualify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"leadscout-engine/internal/domain"
)

const maxIntentSignals = 10

// wireResult mirrors the requested JSON. Pointers distinguish missing or
// null fields from zero values.
type wireResult struct {
	IsGovernment       *bool     `json:"is_government"`
	OrgName            string    `json:"org_name"`
	OrgType            string    `json:"org_type"`
	Summary            string    `json:"summary"`
	ServiceMatches     *[]string `json:"service_matches"`
	IntentSignals      *[]string `json:"intent_signals"`
	ConfidenceScore    *float64  `json:"confidence_score"`
	RelevanceReasoning *string   `json:"relevance_reasoning"`
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractObject trims any text around the outermost JSON object.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// Parse validates raw model text against the qualification schema. Missing
// required fields are errors; out-of-range confidence is clamped and tags
// outside the taxonomy are dropped.
func Parse(raw string, taxonomy []domain.Service) (domain.Qualification, error) {
	var q domain.Qualification
	body := extractObject(stripCodeFence(raw))
	if body == "" {
		return q, errors.New("empty response")
	}

	var w wireResult
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	if err := dec.Decode(&w); err != nil {
		return q, fmt.Errorf("decode: %w", err)
	}

	var missing []string
	if w.ConfidenceScore == nil {
		missing = append(missing, "confidence_score")
	}
	if w.RelevanceReasoning == nil {
		missing = append(missing, "relevance_reasoning")
	}
	if w.ServiceMatches == nil {
		missing = append(missing, "service_matches")
	}
	if w.IntentSignals == nil {
		missing = append(missing, "intent_signals")
	}
	if w.IsGovernment == nil {
		missing = append(missing, "is_government")
	}
	if len(missing) > 0 {
		return q, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	q.Confidence = clamp01(*w.ConfidenceScore)
	q.Reasoning = strings.TrimSpace(*w.RelevanceReasoning)
	q.ServiceMatches = filterTags(*w.ServiceMatches, taxonomy)
	q.IntentSignals = cleanSignals(*w.IntentSignals)
	q.IsGovernment = *w.IsGovernment
	q.OrgName = strings.TrimSpace(w.OrgName)
	q.OrgType = normalizeOrgType(w.OrgType)
	q.Summary = strings.TrimSpace(w.Summary)
	return q, nil
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// filterTags keeps known ids once each, in taxonomy order.
func filterTags(tags []string, taxonomy []domain.Service) []string {
	want := map[string]bool{}
	for _, t := range tags {
		want[strings.ToLower(strings.TrimSpace(t))] = true
	}
	out := []string{}
	for _, s := range taxonomy {
		if want[strings.ToLower(s.ID)] {
			out = append(out, s.ID)
		}
	}
	return out
}

func cleanSignals(in []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		k := strings.ToLower(s)
		if s == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
		if len(out) == maxIntentSignals {
			break
		}
	}
	return out
}

func normalizeOrgType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return ""
	}
	for _, ok := range orgTypes {
		if t == ok {
			return t
		}
	}
	return "other"
}
