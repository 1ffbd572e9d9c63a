package types

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"leadscout-engine/internal/domain"
)

// Adapter turns one external source into a lazy sequence of opportunities.
//
// A *SourceFetchError yielded by the sequence ends the source. An
// *ItemParseError marks one skipped item and the sequence continues.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, src domain.SourceConfig) iter.Seq2[domain.RawOpportunity, error]
}

// Enricher augments an organization with data from an enrichment-only source.
type Enricher interface {
	Enrich(ctx context.Context, org string) (domain.Enrichment, error)
}

var ErrNotFound = errors.New("organization not found")

type SourceFetchError struct {
	Source string
	Kind   domain.ErrorKind
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

func FetchErr(source string, kind domain.ErrorKind, err error) *SourceFetchError {
	return &SourceFetchError{Source: source, Kind: kind, Err: err}
}

// StatusKind maps an HTTP status to a fetch error kind.
func StatusKind(code int) domain.ErrorKind {
	switch {
	case code == 401 || code == 403:
		return domain.KindAuth
	case code == 429:
		return domain.KindRateLimit
	case code >= 500:
		return domain.KindNetwork
	default:
		return domain.KindMalformed
	}
}

type ItemParseError struct {
	Source string
	Item   string
	Err    error
}

func (e *ItemParseError) Error() string {
	return fmt.Sprintf("%s: item %q: %v", e.Source, e.Item, e.Err)
}

func (e *ItemParseError) Unwrap() error { return e.Err }

// SourceStatus is the last-run snapshot the API reports per source.
type SourceStatus struct {
	Source    string `json:"source"`
	LastRunAt string `json:"last_run_at"`
	LastOkAt  string `json:"last_ok_at"`
	LastError string `json:"last_error"`
	LastFound int    `json:"last_found"`
	LastAdded int    `json:"last_added"`
}

func (s *SourceStatus) Record(at time.Time, found, added int, err error) {
	s.LastRunAt = at.UTC().Format(time.RFC3339)
	s.LastFound = found
	s.LastAdded = added
	if err != nil {
		s.LastError = err.Error()
		return
	}
	s.LastError = ""
	s.LastOkAt = s.LastRunAt
}
