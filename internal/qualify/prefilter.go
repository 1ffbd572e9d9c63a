package qualify

import (
	"context"
	"strings"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/scrape/util"
)

type Keywords struct {
	Intent     []string
	Sector     []string
	Government []string
}

// Prefilter screens opportunities with keyword rules before they reach Next,
// saving model calls on obvious misses.
type Prefilter struct {
	Next     Qualifier
	Keywords Keywords
}

func (p Prefilter) Qualify(ctx context.Context, o domain.RawOpportunity, taxonomy []domain.Service) (domain.Qualification, error) {
	if reason, gov := p.Screen(o); reason != "" {
		return domain.Qualification{}, &SkipError{Reason: reason, IsGovernment: gov}
	}
	return p.Next.Qualify(ctx, o, taxonomy)
}

// Screen returns a non-empty reason when o should not be sent to the model.
func (p Prefilter) Screen(o domain.RawOpportunity) (reason string, government bool) {
	head := strings.Join([]string{o.OrgName, o.Title}, " ")
	if kw, ok := util.ContainsAny(head+" ", p.Keywords.Government); ok {
		return "government entity (" + strings.TrimSpace(kw) + ")", true
	}
	blob := strings.Join([]string{o.Title, o.OrgName, o.Summary, o.RawText}, " ")
	_, intent := util.ContainsAny(blob, p.Keywords.Intent)
	_, sector := util.ContainsAny(blob, p.Keywords.Sector)
	if !intent && !sector {
		return "no intent or sector signal", false
	}
	return "", false
}
