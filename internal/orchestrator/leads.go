package orchestrator

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/outreachly/lead-engine/internal/tenant"
	"github.com/outreachly/lead-engine/pkg/airtable"
)

// Lead-table field names inside each tenant's base.
const (
	leadFieldName     = "Name"
	leadFieldHeadline = "Headline"
	leadFieldAbout    = "About"
	leadFieldURL      = "Profile URL"
	leadFieldQueued   = "Queued"
	leadFieldCriteria = "Criteria"
)

// leadsTable is the per-tenant lead queue. Tenant bases share this schema.
var leadsTable = airtable.Table{
	Name: "Leads",
	Fields: map[string]struct{}{
		leadFieldName:     {},
		leadFieldHeadline: {},
		leadFieldAbout:    {},
		leadFieldURL:      {},
		leadFieldQueued:   {},
	},
}

// settingsTable holds the tenant's scoring criteria.
var settingsTable = airtable.Table{
	Name: "Settings",
	Fields: map[string]struct{}{
		leadFieldCriteria: {},
	},
}

// ClientFactory opens a gateway client against a tenant's own base.
type ClientFactory func(baseID string) airtable.Client

// AirtableLeadSource reads each tenant's queued leads and scoring criteria
// from the tenant's own base.
type AirtableLeadSource struct {
	clients ClientFactory
	limit   int
}

// NewAirtableLeadSource creates a LeadSource over per-tenant bases. limit
// bounds how many queued leads one run picks up; 0 means no bound.
func NewAirtableLeadSource(clients ClientFactory, limit int) *AirtableLeadSource {
	return &AirtableLeadSource{clients: clients, limit: limit}
}

func (s *AirtableLeadSource) Fetch(ctx context.Context, t tenant.Tenant) (*ClientBatch, error) {
	client := s.clients(t.BaseID)

	records, err := client.List(ctx, leadsTable, airtable.Checked(leadFieldQueued), s.limit)
	if err != nil {
		return nil, eris.Wrapf(err, "leads: list queued for %s", t.ID)
	}

	batch := &ClientBatch{Leads: make([]Lead, 0, len(records))}
	for i := range records {
		rec := &records[i]
		batch.Leads = append(batch.Leads, Lead{
			ID:       rec.ID,
			Name:     rec.Str(leadFieldName),
			Headline: rec.Str(leadFieldHeadline),
			About:    rec.Str(leadFieldAbout),
			URL:      rec.Str(leadFieldURL),
		})
	}

	settings, err := client.FindOne(ctx, settingsTable, "")
	if err != nil {
		return nil, eris.Wrapf(err, "leads: read criteria for %s", t.ID)
	}
	if settings != nil {
		batch.Criteria = settings.Str(leadFieldCriteria)
	}
	return batch, nil
}
