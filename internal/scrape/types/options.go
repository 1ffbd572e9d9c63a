package types

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/scrape/util"
)

// Options carries the shared plumbing every adapter needs.
type Options struct {
	Client     *http.Client
	Limiter    *util.HostLimiter
	UserAgent  string
	MaxResults int
	Logger     *slog.Logger
}

const (
	DefaultMaxResults = 50
	DefaultUserAgent  = "leadscout/1.0 (+https://github.com/leadscout)"
	RawTextLimit      = 5000
)

func (o Options) WithDefaults() Options {
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 25 * time.Second}
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Classify wraps err as a *SourceFetchError with a kind derived from its cause.
func Classify(source string, err error) *SourceFetchError {
	var fe *SourceFetchError
	if errors.As(err, &fe) {
		return fe
	}
	var se *util.StatusError
	var syn *json.SyntaxError
	var ute *json.UnmarshalTypeError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FetchErr(source, domain.KindCancelled, err)
	case errors.As(err, &se):
		return FetchErr(source, StatusKind(se.Code), err)
	case errors.As(err, &syn), errors.As(err, &ute):
		return FetchErr(source, domain.KindMalformed, err)
	default:
		return FetchErr(source, domain.KindNetwork, err)
	}
}
