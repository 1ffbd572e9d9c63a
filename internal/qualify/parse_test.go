package qualify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadscout-engine/internal/domain"
)

var tax = domain.DefaultTaxonomy()

func TestParseValid(t *testing.T) {
	raw := "```json\n" + `{
  "is_government": false,
  "org_name": "Riverside Land Trust",
  "org_type": "Foundation",
  "summary": "Website redesign.",
  "service_matches": ["digital_storytelling", "made_up", "knowledge_systems", "digital_storytelling"],
  "intent_signals": ["seeks proposals", " ", "Seeks proposals", "website redesign"],
  "confidence_score": 0.82,
  "relevance_reasoning": "Explicit RFP for a redesign."
}` + "\n```"

	q, err := Parse(raw, tax)
	require.NoError(t, err)
	assert.InDelta(t, 0.82, q.Confidence, 1e-9)
	assert.Equal(t, []string{"knowledge_systems", "digital_storytelling"}, q.ServiceMatches)
	assert.Equal(t, []string{"seeks proposals", "website redesign"}, q.IntentSignals)
	assert.Equal(t, "foundation", q.OrgType)
	assert.False(t, q.IsGovernment)
	assert.Equal(t, "Explicit RFP for a redesign.", q.Reasoning)
}

func TestParseClampsConfidence(t *testing.T) {
	base := `"is_government": true, "service_matches": [], "intent_signals": [], "relevance_reasoning": "x"`

	q, err := Parse(`{"confidence_score": 1.7, `+base+`}`, tax)
	require.NoError(t, err)
	assert.Equal(t, 1.0, q.Confidence)

	q, err = Parse(`{"confidence_score": -3, `+base+`}`, tax)
	require.NoError(t, err)
	assert.Equal(t, 0.0, q.Confidence)
	assert.True(t, q.IsGovernment)
}

func TestParseToleratesSurroundingProse(t *testing.T) {
	raw := `Here is my evaluation: {"confidence_score": 0.4, "is_government": false, "service_matches": ["interactive_tools"], "intent_signals": [], "relevance_reasoning": "weak"} Thanks!`
	q, err := Parse(raw, tax)
	require.NoError(t, err)
	assert.Equal(t, []string{"interactive_tools"}, q.ServiceMatches)
}

func TestParseRejectsMissingOrNullFields(t *testing.T) {
	cases := map[string]string{
		"missing confidence": `{"is_government": false, "service_matches": [], "intent_signals": [], "relevance_reasoning": "x"}`,
		"null reasoning":     `{"confidence_score": 0.5, "is_government": false, "service_matches": [], "intent_signals": [], "relevance_reasoning": null}`,
		"missing tags":       `{"confidence_score": 0.5, "is_government": false, "intent_signals": [], "relevance_reasoning": "x"}`,
		"wrong type":         `{"confidence_score": "high", "is_government": false, "service_matches": [], "intent_signals": [], "relevance_reasoning": "x"}`,
		"not json":           `I cannot evaluate this.`,
		"empty":              ``,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(raw, tax)
			assert.Error(t, err)
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}

func TestUserPromptTruncatesText(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'a'
	}
	p := UserPrompt(domain.RawOpportunity{Title: "T", RawText: string(long)}, tax)
	assert.Contains(t, p, "Organization: Unknown")
	assert.NotContains(t, p, string(long[:3001]))
	assert.Contains(t, p, "knowledge_systems, digital_tools")
	assert.Contains(t, SystemPrompt(tax), "- custom_applications: Custom Applications")
}
