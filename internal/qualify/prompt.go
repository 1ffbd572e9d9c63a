package qualify

import (
	"fmt"
	"strings"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/scrape/util"
)

const promptTextLimit = 3000

var orgTypes = []string{"ngo", "association", "foundation", "educational", "law_firm", "professional_services", "advocacy", "other"}

// SystemPrompt describes the services on offer and the answer contract.
func SystemPrompt(taxonomy []domain.Service) string {
	var b strings.Builder
	b.WriteString("You qualify business-development opportunities for a studio that builds digital products for mission-driven organizations.\n\n")
	b.WriteString("Services offered (use these ids in service_matches):\n")
	for _, s := range taxonomy {
		fmt.Fprintf(&b, "- %s: %s", s.ID, s.Label)
		if s.Description != "" {
			fmt.Fprintf(&b, ". %s", s.Description)
		}
		b.WriteByte('\n')
	}
	b.WriteString(`
Target clients are nonprofits, NGOs, associations, foundations, educational institutions, advocacy groups, law firms and professional services firms.
Government entities (federal, state, county or city agencies) are NOT target clients; flag them with is_government=true.

Respond with a single JSON object and nothing else. No prose, no markdown.`)
	return b.String()
}

// UserPrompt embeds one opportunity and the required answer shape.
func UserPrompt(o domain.RawOpportunity, taxonomy []domain.Service) string {
	text := o.RawText
	if text == "" {
		text = o.Summary
	}
	text = util.Truncate(text, promptTextLimit)

	var b strings.Builder
	b.WriteString("Evaluate this opportunity.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", o.Title)
	fmt.Fprintf(&b, "Source: %s (%s)\n", o.SourceName, o.SourceType)
	fmt.Fprintf(&b, "Organization: %s\n", orUnknown(o.OrgName))
	fmt.Fprintf(&b, "URL: %s\n", orUnknown(o.SourceURL))
	fmt.Fprintf(&b, "Full Text:\n%s\n\n", orUnknown(text))

	fmt.Fprintf(&b, `Return JSON with exactly these fields:
{
  "is_government": boolean,
  "org_name": string,
  "org_type": one of %s,
  "summary": string, two sentences at most,
  "service_matches": array of ids from [%s],
  "intent_signals": array of short phrases quoted or paraphrased from the text that show buying intent,
  "confidence_score": number between 0 and 1,
  "relevance_reasoning": string, one or two sentences
}

Confidence guide: 0.8-1.0 explicit request for services we offer; 0.5-0.79 clear need, no explicit request;
0.2-0.49 weak or indirect signal; 0-0.19 unrelated or government.`,
		quoteList(orgTypes), strings.Join(domain.ServiceIDs(taxonomy), ", "))
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

func quoteList(xs []string) string {
	q := make([]string, len(xs))
	for i, x := range xs {
		q[i] = `"` + x + `"`
	}
	return strings.Join(q, "|")
}
