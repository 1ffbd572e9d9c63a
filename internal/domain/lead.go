package domain

import (
	"errors"
	"fmt"
	"time"
)

type LeadStatus string

const (
	StatusNew          LeadStatus = "new"
	StatusReviewing    LeadStatus = "reviewing"
	StatusQualified    LeadStatus = "qualified"
	StatusDisqualified LeadStatus = "disqualified"
	StatusContacted    LeadStatus = "contacted"
	StatusArchived     LeadStatus = "archived"
)

var (
	ErrInvalidStatus     = errors.New("invalid lead status")
	ErrInvalidTransition = errors.New("lead status transition not allowed")
)

var transitions = map[LeadStatus][]LeadStatus{
	StatusNew:          {StatusReviewing, StatusQualified, StatusDisqualified, StatusArchived},
	StatusReviewing:    {StatusQualified, StatusDisqualified, StatusArchived},
	StatusQualified:    {StatusContacted, StatusDisqualified, StatusArchived},
	StatusDisqualified: {StatusReviewing, StatusArchived},
	StatusContacted:    {StatusQualified, StatusArchived},
	StatusArchived:     nil,
}

// AllStatuses lists statuses in pipeline order.
func AllStatuses() []LeadStatus {
	return []LeadStatus{StatusNew, StatusReviewing, StatusQualified, StatusDisqualified, StatusContacted, StatusArchived}
}

func ParseLeadStatus(s string) (LeadStatus, error) {
	st := LeadStatus(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// CanTransition reports whether from -> to is an allowed edge.
// Setting the current status again is always allowed.
func CanTransition(from, to LeadStatus) bool {
	if from == to {
		_, ok := transitions[from]
		return ok
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition validates a status change.
func CheckTransition(from LeadStatus, to string) (LeadStatus, error) {
	st, err := ParseLeadStatus(to)
	if err != nil {
		return "", err
	}
	if !CanTransition(from, st) {
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, st)
	}
	return st, nil
}

// Qualification is the validated output of a qualifier.
type Qualification struct {
	Confidence     float64
	Reasoning      string
	ServiceMatches []string
	IntentSignals  []string
	IsGovernment   bool
	OrgName        string
	OrgType        string
	Summary        string
}

type Lead struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrgName    string     `json:"org_name"`
	OrgType    string     `json:"org_type,omitempty"`
	OrgURL     string     `json:"org_url,omitempty"`
	Title      string     `json:"title"`
	Summary    string     `json:"summary"`
	RawText    string     `json:"raw_text,omitempty"`
	SourceURL  string     `json:"source_url"`
	SourceType SourceType `json:"source_type"`
	SourceName string     `json:"source_name"`

	Confidence     *float64 `json:"confidence_score"`
	Reasoning      string   `json:"relevance_reasoning"`
	ServiceMatches []string `json:"service_matches"`
	IntentSignals  []string `json:"intent_signals"`
	IsGovernment   bool     `json:"is_government"`

	Status      LeadStatus `json:"status"`
	Notes       string     `json:"notes"`
	ContentHash string     `json:"content_hash"`
	ScrapeRunID *int64     `json:"scrape_run_id"`

	OrgEIN     string `json:"org_ein,omitempty"`
	OrgRevenue *int64 `json:"org_revenue,omitempty"`
	OrgAssets  *int64 `json:"org_assets,omitempty"`
	OrgCity    string `json:"org_city,omitempty"`
	OrgState   string `json:"org_state,omitempty"`
}

// NewLead builds an unscored lead with status new.
func NewLead(o RawOpportunity, hash string, runID int64) Lead {
	l := Lead{
		OrgName:        o.OrgName,
		OrgURL:         o.OrgURL,
		Title:          o.Title,
		Summary:        o.Summary,
		RawText:        o.RawText,
		SourceURL:      o.SourceURL,
		SourceType:     o.SourceType,
		SourceName:     o.SourceName,
		ServiceMatches: []string{},
		IntentSignals:  []string{},
		Status:         StatusNew,
		ContentHash:    hash,
	}
	if runID > 0 {
		l.ScrapeRunID = &runID
	}
	if o.Enrichment != nil {
		l.ApplyEnrichment(*o.Enrichment)
	}
	return l
}

// ApplyQualification copies qualifier output onto the lead. Org name and
// summary are only filled when the source left them empty.
func (l *Lead) ApplyQualification(q Qualification) {
	c := q.Confidence
	l.Confidence = &c
	l.Reasoning = q.Reasoning
	l.ServiceMatches = append([]string{}, q.ServiceMatches...)
	l.IntentSignals = append([]string{}, q.IntentSignals...)
	l.IsGovernment = q.IsGovernment
	l.OrgType = q.OrgType
	if l.OrgName == "" {
		l.OrgName = q.OrgName
	}
	if l.Summary == "" {
		l.Summary = q.Summary
	}
}

func (l *Lead) ApplyEnrichment(e Enrichment) {
	l.OrgEIN = e.EIN
	l.OrgRevenue = e.Revenue
	l.OrgAssets = e.Assets
	l.OrgCity = e.City
	l.OrgState = e.State
}
