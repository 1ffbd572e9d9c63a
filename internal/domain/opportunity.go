package domain

// SourceType selects the adapter that handles a SourceConfig.
type SourceType string

const (
	SourceRSSRFP     SourceType = "rss_rfp"
	SourceRSSNews    SourceType = "rss_news"
	SourceGrantsGov  SourceType = "grants_gov"
	SourceProPublica SourceType = "propublica"
	SourceWebScrape  SourceType = "web_scrape"
	SourceEmailAlert SourceType = "email_alert"
)

var sourceTypes = map[SourceType]bool{
	SourceRSSRFP:     true,
	SourceRSSNews:    true,
	SourceGrantsGov:  true,
	SourceProPublica: true,
	SourceWebScrape:  true,
	SourceEmailAlert: true,
}

func (t SourceType) Valid() bool { return sourceTypes[t] }

// RawOpportunity is what an adapter yields. It has no identity beyond its
// source and is discarded once it has been turned into a Lead.
type RawOpportunity struct {
	OrgName    string
	OrgURL     string
	Title      string
	Summary    string
	RawText    string
	SourceURL  string
	SourceType SourceType
	SourceName string

	Enrichment *Enrichment
}

// Enrichment holds organization financials. Zero values mean unknown.
type Enrichment struct {
	EIN      string
	Revenue  *int64
	Assets   *int64
	City     string
	State    string
	NTEECode string
	TaxYear  int
}

// Label names the item in run errors and logs.
func (o RawOpportunity) Label() string {
	if o.Title != "" {
		return o.Title
	}
	if o.SourceURL != "" {
		return o.SourceURL
	}
	return "(untitled)"
}
