package domain

import (
	"encoding/json"
	"time"
)

type SourceConfig struct {
	ID               int64          `json:"id"`
	Name             string         `json:"name"`
	Type             SourceType     `json:"source_type"`
	URL              string         `json:"url"`
	Active           bool           `json:"is_active"`
	LastScrapedAt    *time.Time     `json:"last_scraped_at"`
	FrequencyMinutes int            `json:"scrape_frequency_minutes"`
	Config           map[string]any `json:"config"`
}

// Due reports whether the source should be scraped at now.
func (s SourceConfig) Due(now time.Time) bool {
	if s.LastScrapedAt == nil || s.FrequencyMinutes <= 0 {
		return true
	}
	return !now.Before(s.LastScrapedAt.Add(time.Duration(s.FrequencyMinutes) * time.Minute))
}

// Decode unmarshals the source-specific config blob into v.
func (s SourceConfig) Decode(v any) error {
	if len(s.Config) == 0 {
		return nil
	}
	b, err := json.Marshal(s.Config)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (s SourceConfig) Bool(key string) bool {
	b, _ := s.Config[key].(bool)
	return b
}
