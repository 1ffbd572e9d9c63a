package config

import (
	"leadscout-engine/internal/domain"
)

const DefaultModel = "claude-sonnet-4-5-20250929"

func Default() Config {
	var c Config
	c.App.Port = 8787
	c.App.DataDir = "data"
	c.App.LogLevel = "info"

	c.Scrape.IntervalMinutes = 360
	c.Scrape.RunTimeoutMinutes = 30
	c.Scrape.FetchWorkers = 4
	c.Scrape.MaxResultsPerSource = 50
	c.Scrape.RequestsPerSecond = 2
	c.Scrape.Burst = 2

	c.Qualification.Model = DefaultModel
	c.Qualification.BaseURL = "https://api.anthropic.com"
	c.Qualification.MaxTokens = 1024
	c.Qualification.TimeoutSeconds = 60
	c.Qualification.MaxRetries = 2
	c.Qualification.RetryBackoffMS = 500
	c.Qualification.Concurrency = 2
	c.Qualification.RequestsPerSecond = 1
	c.Qualification.ConfidenceThreshold = 0.6

	c.Taxonomy = domain.DefaultTaxonomy()
	c.Keywords = DefaultKeywords()

	c.Email.IMAPPort = 993
	c.Email.Mailbox = "INBOX"
	c.Email.SinceDays = 14
	c.Email.MarkSeen = true
	return c
}

func DefaultKeywords() Keywords {
	return Keywords{
		Intent: []string{
			"data silo", "fragmented system", "digital transformation", "knowledge management",
			"modernization", "interactive dashboard", "custom application", "custom tool",
			"website redesign", "digital strategy", "data management", "content management",
			"information architecture", "digital storytelling", "data visualization",
			"user experience", "ux", "technology upgrade", "system integration",
			"rfp", "rfi", "request for proposal",
		},
		Sector: []string{
			"nonprofit", "non-profit", "ngo", "foundation", "association", "advocacy",
			"educational", "professional association", "law firm", "legal",
		},
		Government: []string{
			"federal agency", "government agency", "state agency", "city of ",
			"county of ", "department of ", "bureau of ", "office of the ",
		},
	}
}
