package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreachly/lead-engine/internal/store"
	"github.com/outreachly/lead-engine/internal/tracking"
	"github.com/outreachly/lead-engine/pkg/airtable"
)

// stubGateway answers every lookup with canned records, keyed by the Run ID
// inside the formula.
type stubGateway struct {
	records []airtable.Record
}

func (s *stubGateway) FindOne(_ context.Context, _ airtable.Table, formula string) (*airtable.Record, error) {
	for i := range s.records {
		id, _ := s.records[i].Fields["Run ID"].(string)
		if strings.Contains(formula, `"`+id+`"`) {
			return &s.records[i], nil
		}
	}
	return nil, nil
}

func (s *stubGateway) Get(context.Context, airtable.Table, string) (*airtable.Record, error) {
	return nil, nil
}

func (s *stubGateway) Create(context.Context, airtable.Table, map[string]any) (*airtable.Record, error) {
	panic("read-only stub")
}

func (s *stubGateway) Update(context.Context, airtable.Table, string, map[string]any) (*airtable.Record, error) {
	panic("read-only stub")
}

func (s *stubGateway) List(context.Context, airtable.Table, string, int) ([]airtable.Record, error) {
	return nil, nil
}

func TestShowJobNotFound(t *testing.T) {
	repo := tracking.NewRepository(&stubGateway{})

	var buf bytes.Buffer
	err := showJob(context.Background(), repo, "251007-041822", &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Empty(t, buf.String())
}

func TestShowJob(t *testing.T) {
	gw := &stubGateway{records: []airtable.Record{
		{ID: "recJOB", Fields: map[string]any{
			"Run ID": "251007-041822",
			"Status": "Completed",
		}},
	}}
	repo := tracking.NewRepository(gw)

	var buf bytes.Buffer
	require.NoError(t, showJob(context.Background(), repo, "251007-041822", &buf))
	assert.Contains(t, buf.String(), `"Run ID": "251007-041822"`)
	assert.Contains(t, buf.String(), `"clients"`)
}

func TestFormatJobsList(t *testing.T) {
	jobs := []airtable.Record{
		{ID: "rec1", Fields: map[string]any{
			tracking.FieldRunID:             "251007-041822",
			tracking.FieldStream:            float64(1),
			tracking.FieldStatus:            "Completed",
			tracking.FieldClientsProcessed:  float64(3),
			tracking.FieldClientsWithErrors: float64(1),
			tracking.FieldStart:             "2025-10-07T04:18:22Z",
			tracking.FieldEnd:               "2025-10-07T04:25:10Z",
		}},
	}

	var buf bytes.Buffer
	formatJobsList(&buf, jobs)

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "RUN_ID")
	assert.Contains(t, lines[1], "251007-041822")
	assert.Contains(t, lines[1], "Completed")
	assert.Contains(t, lines[1], "2025-10-07T04:18:22Z")
}

func TestFormatReceipts(t *testing.T) {
	receipts := []store.WebhookReceipt{
		{
			ActorRunID: "apify-abc",
			Status:     "SUCCEEDED",
			Outcome:    store.OutcomeApplied,
			ReceivedAt: time.Date(2025, 10, 7, 5, 0, 0, 0, time.UTC),
		},
		{
			ActorRunID: "apify-xyz",
			Status:     "FAILED",
			Outcome:    store.OutcomeUnmapped,
			ReceivedAt: time.Date(2025, 10, 7, 5, 1, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	formatReceipts(&buf, receipts)

	out := buf.String()
	assert.Contains(t, out, "apify-abc")
	assert.Contains(t, out, "applied")
	assert.Contains(t, out, "unmapped")
	assert.Contains(t, out, "2025-10-07 05:00:00")
}

func TestRecordFields(t *testing.T) {
	records := []airtable.Record{
		{ID: "rec1", Fields: map[string]any{"Run ID": "a"}},
		{ID: "rec2", Fields: map[string]any{"Run ID": "b"}},
	}
	fields := recordFields(records)
	assert.Len(t, fields, 2)
	assert.Equal(t, "a", fields[0]["Run ID"])
	assert.Equal(t, "b", fields[1]["Run ID"])
}
