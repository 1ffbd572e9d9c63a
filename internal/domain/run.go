package domain

import (
	"fmt"
	"strings"
	"time"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ErrorKind classifies a non-fatal problem recorded against a run.
type ErrorKind string

const (
	KindNetwork       ErrorKind = "network"
	KindAuth          ErrorKind = "auth"
	KindRateLimit     ErrorKind = "rate_limit"
	KindMalformed     ErrorKind = "malformed_payload"
	KindItemParse     ErrorKind = "item_parse"
	KindQualification ErrorKind = "qualification"
	KindEnrichment    ErrorKind = "enrichment"
	KindCancelled     ErrorKind = "cancelled"
	KindInternal      ErrorKind = "internal"
)

type RunError struct {
	Source  string    `json:"source"`
	Kind    ErrorKind `json:"kind"`
	Item    string    `json:"item,omitempty"`
	Message string    `json:"message"`
}

func (e RunError) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Source, e.Kind)
	if e.Item != "" {
		fmt.Fprintf(&b, " (item %q)", e.Item)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// FormatRunErrors renders errors one per line for the scrape_runs.errors column.
func FormatRunErrors(errs []RunError) string {
	if len(errs) == 0 {
		return ""
	}
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}

type RunCounts struct {
	Found     int `json:"items_found"`
	New       int `json:"items_new"`
	Qualified int `json:"items_qualified"`
}

type ScrapeRun struct {
	ID          int64      `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	SourceType  *string    `json:"source_type"`
	SourceName  *string    `json:"source_name"`
	RunCounts
	Errors     []RunError `json:"-"`
	ErrorsText string     `json:"errors"`
	Status     RunStatus  `json:"status"`
}
