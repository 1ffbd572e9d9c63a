package grantsgov

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/scrape/types"
)

func hit(id, title string) map[string]any {
	return map[string]any{"id": id, "number": "N-" + id, "title": title, "agency": "Institute of Museum and Library Services", "openDate": "03/04/2025", "closeDate": ""}
}

func TestFetchPaginatesLazily(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search2", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		calls.Add(1)

		var req searchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "posted", req.OppStatuses)
		assert.Equal(t, 2, req.Rows)

		var hits []map[string]any
		switch req.StartRecordNum {
		case 0:
			hits = []map[string]any{hit("1", "Digital Archive Modernization"), hit("2", "Data Dashboard")}
		case 2:
			hits = []map[string]any{hit("3", "Knowledge Portal")}
		}
		json.NewEncoder(w).Encode(map[string]any{"errorcode": 0, "data": map[string]any{"hitCount": 3, "oppHits": hits}})
	}))
	defer srv.Close()

	s := New(types.Options{})
	src := domain.SourceConfig{Name: "Grants.gov", URL: srv.URL, Config: map[string]any{"keywords": []any{"dashboard"}, "rows": 2}}

	var got []domain.RawOpportunity
	for o, err := range s.Fetch(context.Background(), src) {
		require.NoError(t, err)
		got = append(got, o)
	}
	require.Len(t, got, 3)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "https://www.grants.gov/search-results-detail/1", got[0].SourceURL)
	assert.Equal(t, domain.SourceGrantsGov, got[0].SourceType)
	assert.Equal(t, "Institute of Museum and Library Services", got[0].OrgName)
	assert.Contains(t, got[0].Summary, "Opens 2025-03-04.")
}

func TestFetchStopsWhenConsumerStops(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"hitCount": 100, "oppHits": []map[string]any{hit(fmt.Sprint(calls.Load()), "T")}}})
	}))
	defer srv.Close()

	s := New(types.Options{})
	for range s.Fetch(context.Background(), domain.SourceConfig{Name: "g", URL: srv.URL, Config: map[string]any{"keywords": []any{"a"}}}) {
		break
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchDedupesAcrossKeywords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"hitCount": 1, "oppHits": []map[string]any{hit("9", "Same Grant")}}})
	}))
	defer srv.Close()

	s := New(types.Options{})
	n := 0
	for _, err := range s.Fetch(context.Background(), domain.SourceConfig{Name: "g", URL: srv.URL, Config: map[string]any{"keywords": []any{"a", "b", "c"}}}) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 1, n)
}

func TestFetchAPIErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"errorcode": 1, "msg": "bad request"})
	}))
	defer srv.Close()

	var errs []error
	for _, err := range New(types.Options{}).Fetch(context.Background(), domain.SourceConfig{Name: "g", URL: srv.URL}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	var fe *types.SourceFetchError
	assert.True(t, errors.As(errs[0], &fe))
}

func TestMissingIDIsItemParseError(t *testing.T) {
	_, err := toOpportunity(domain.SourceConfig{Name: "g"}, oppHit{Title: "No id"})
	var ipe *types.ItemParseError
	assert.True(t, errors.As(err, &ipe))
}
