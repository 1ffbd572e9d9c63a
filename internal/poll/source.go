package poll

import (
	"context"
	"errors"

	"leadscout-engine/internal/dedup"
	"leadscout-engine/internal/domain"
	"leadscout-engine/internal/events"
	"leadscout-engine/internal/qualify"
	"leadscout-engine/internal/scrape/types"
)

// runSource drains one adapter sequence. Items are handled in fetch order.
// It returns a *CoordinatorFault only when persistence fails.
func (c *Coordinator) runSource(ctx context.Context, runID int64, src domain.SourceConfig, q qualify.Qualifier, t *tally) error {
	log := c.log.With("source", src.Name, "type", src.Type)

	adapter, ok := c.adapters.Adapter(src.Type)
	if !ok {
		t.fail(domain.RunError{Source: src.Name, Kind: domain.KindInternal, Message: "no adapter for source type " + string(src.Type)})
		return nil
	}

	var (
		found, added int
		fetchErr     *types.SourceFetchError
	)
	for o, err := range adapter.Fetch(ctx, src) {
		if err != nil {
			var ipe *types.ItemParseError
			if errors.As(err, &ipe) {
				t.fail(domain.RunError{Source: src.Name, Kind: domain.KindItemParse, Item: ipe.Item, Message: ipe.Err.Error()})
				log.Debug("item skipped", "item", ipe.Item, "err", ipe.Err)
				continue
			}
			if ctx.Err() != nil {
				break
			}
			fetchErr = types.Classify(src.Name, err)
			t.fail(domain.RunError{Source: src.Name, Kind: fetchErr.Kind, Message: fetchErr.Err.Error()})
			log.Warn("source failed", "kind", fetchErr.Kind, "err", fetchErr.Err)
			break
		}

		found++
		t.found.Add(1)
		if o.SourceType == "" {
			o.SourceType = src.Type
		}
		if o.SourceName == "" {
			o.SourceName = src.Name
		}

		inserted, err := c.processItem(ctx, runID, src, o, q, t)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return &CoordinatorFault{RunID: runID, Op: "store lead", Err: err}
		}
		if inserted {
			added++
		}
	}

	if ctx.Err() != nil {
		log.Info("source interrupted", "found", found, "new", added)
		return nil
	}

	now := c.now()
	var statusErr error
	if fetchErr != nil {
		statusErr = fetchErr
	} else if err := c.store.MarkSourceScraped(ctx, src.Name, now); err != nil {
		return &CoordinatorFault{RunID: runID, Op: "mark source scraped", Err: err}
	}
	c.recordStatus(src.Name, now, found, added, statusErr)
	log.Info("source done", "found", found, "new", added)
	return nil
}

// processItem dedups, qualifies and stores one opportunity. Returned
// errors are persistence failures.
func (c *Coordinator) processItem(ctx context.Context, runID int64, src domain.SourceConfig, o domain.RawOpportunity, q qualify.Qualifier, t *tally) (bool, error) {
	hash := dedup.Fingerprint(o)
	exists, err := c.store.LeadExists(ctx, hash)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	lead := domain.NewLead(o, hash, runID)
	qual, err := q.Qualify(ctx, o, c.opts.Taxonomy)
	var (
		skip *qualify.SkipError
		qe   *qualify.Error
	)
	switch {
	case err == nil:
		lead.ApplyQualification(qual)
	case errors.As(err, &skip):
		lead.Reasoning = skip.Error()
		lead.IsGovernment = skip.IsGovernment
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.As(err, &qe) && qe.Kind == qualify.KindDisabled:
		// stored unscored without a per-item note
	default:
		t.fail(domain.RunError{Source: src.Name, Kind: domain.KindQualification, Item: o.Label(), Message: err.Error()})
		c.log.Warn("qualification failed", "source", src.Name, "item", o.Label(), "err", err)
	}

	inserted, err := c.store.InsertLeadIfAbsent(ctx, &lead)
	if err != nil || !inserted {
		return false, err
	}
	t.added.Add(1)
	if lead.Confidence != nil && *lead.Confidence > c.opts.Threshold {
		t.qualified.Add(1)
	}
	c.publish(events.LeadCreated, map[string]any{
		"id":               lead.ID,
		"title":            lead.Title,
		"org_name":         lead.OrgName,
		"source_type":      lead.SourceType,
		"confidence_score": lead.Confidence,
	})

	if src.Bool("enrich") {
		if err := c.enrich(ctx, src, &lead, t); err != nil {
			return true, err
		}
	}
	return true, nil
}

// enrich attaches nonprofit financials to a freshly stored lead. Lookup
// failures are recorded; only a failed update is returned.
func (c *Coordinator) enrich(ctx context.Context, src domain.SourceConfig, lead *domain.Lead, t *tally) error {
	en := c.adapters.Enricher()
	if en == nil || lead.OrgName == "" || lead.OrgEIN != "" || lead.IsGovernment {
		return nil
	}
	e, err := en.Enrich(ctx, lead.OrgName)
	switch {
	case errors.Is(err, types.ErrNotFound):
		c.log.Debug("no nonprofit match", "org", lead.OrgName)
		return nil
	case err != nil:
		if ctx.Err() != nil {
			return nil
		}
		t.fail(domain.RunError{Source: src.Name, Kind: domain.KindEnrichment, Item: lead.Title, Message: err.Error()})
		return nil
	}
	lead.ApplyEnrichment(e)
	return c.store.UpdateLeadEnrichment(ctx, lead.ID, e)
}
