package webhook

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/outreachly/lead-engine/internal/store"
	"github.com/outreachly/lead-engine/internal/tracking"
	"github.com/outreachly/lead-engine/pkg/airtable"
)

// memStore is an in-memory store.Store.
type memStore struct {
	mappings map[string]store.ActorRunMapping
	receipts []store.WebhookReceipt
}

func newMemStore() *memStore {
	return &memStore{mappings: map[string]store.ActorRunMapping{}}
}

func (m *memStore) SaveMapping(_ context.Context, am store.ActorRunMapping) error {
	m.mappings[am.ActorRunID] = am
	return nil
}

func (m *memStore) GetMapping(_ context.Context, actorRunID string) (*store.ActorRunMapping, error) {
	am, ok := m.mappings[actorRunID]
	if !ok {
		return nil, nil
	}
	return &am, nil
}

func (m *memStore) UpdateMapping(_ context.Context, actorRunID, status, datasetID string) error {
	am := m.mappings[actorRunID]
	am.Status = status
	am.DatasetID = datasetID
	m.mappings[actorRunID] = am
	return nil
}

func (m *memStore) DeleteStaleMappings(context.Context, time.Duration) (int, error) { return 0, nil }

func (m *memStore) RecordReceipt(_ context.Context, r store.WebhookReceipt) error {
	m.receipts = append(m.receipts, r)
	return nil
}

func (m *memStore) ListReceipts(context.Context, int) ([]store.WebhookReceipt, error) {
	return m.receipts, nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

// recordStore is a minimal airtable.Client holding client run records keyed
// by run ID.
type recordStore struct {
	records map[string]*airtable.Record
	updates int
}

func (s *recordStore) FindOne(_ context.Context, _ airtable.Table, formula string) (*airtable.Record, error) {
	for id, rec := range s.records {
		if strings.Contains(formula, `"`+id+`"`) {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *recordStore) Get(_ context.Context, _ airtable.Table, recordID string) (*airtable.Record, error) {
	for _, rec := range s.records {
		if rec.ID == recordID {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *recordStore) Create(context.Context, airtable.Table, map[string]any) (*airtable.Record, error) {
	panic("correlator must never create records")
}

func (s *recordStore) Update(_ context.Context, _ airtable.Table, recordID string, fields map[string]any) (*airtable.Record, error) {
	for _, rec := range s.records {
		if rec.ID == recordID {
			for k, v := range fields {
				rec.Fields[k] = v
			}
			s.updates++
			return rec, nil
		}
	}
	return nil, nil
}

func (s *recordStore) List(context.Context, airtable.Table, string, int) ([]airtable.Record, error) {
	return nil, nil
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantID      string
		wantStatus  string
		wantDataset string
		wantErr     bool
	}{
		{
			name:        "resource shape",
			body:        `{"resource":{"id":"apify-abc","status":"SUCCEEDED","defaultDatasetId":"ds-1"}}`,
			wantID:      "apify-abc",
			wantStatus:  "SUCCEEDED",
			wantDataset: "ds-1",
		},
		{
			name:       "runId shape",
			body:       `{"runId":"apify-abc","status":"FAILED"}`,
			wantID:     "apify-abc",
			wantStatus: "FAILED",
		},
		{
			name:   "id shape",
			body:   `{"id":"apify-abc"}`,
			wantID: "apify-abc",
		},
		{name: "no identifier", body: `{"status":"SUCCEEDED"}`, wantErr: true},
		{name: "not json", body: `status=SUCCEEDED`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePayload([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, got.ActorRunID)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantDataset, got.DatasetID)
		})
	}
}

func newTestCorrelator(records *recordStore, mappings *memStore) *Correlator {
	repo := tracking.NewRepository(records)
	return NewCorrelator(repo, mappings, zap.NewNop())
}

func TestHandleApplied(t *testing.T) {
	records := &recordStore{records: map[string]*airtable.Record{
		"251007-041822-Guy-Wilson": {
			ID:     "recGW1",
			Fields: map[string]any{tracking.FieldRunID: "251007-041822-Guy-Wilson", tracking.FieldStatus: "Running"},
		},
	}}
	mappings := newMemStore()
	require.NoError(t, mappings.SaveMapping(context.Background(), store.ActorRunMapping{
		ActorRunID: "apify-abc",
		RunID:      "251007-041822-Guy-Wilson",
		ClientID:   "Guy-Wilson",
		Status:     "RUNNING",
	}))

	c := newTestCorrelator(records, mappings)
	out, err := c.Handle(context.Background(), &Payload{
		ActorRunID: "apify-abc",
		Status:     "SUCCEEDED",
		DatasetID:  "ds-1",
	})
	require.NoError(t, err)

	assert.Equal(t, store.OutcomeApplied, out.Result)
	assert.Equal(t, "251007-041822-Guy-Wilson", out.RunID)
	assert.Equal(t, "Guy-Wilson", out.ClientID)
	assert.NotEmpty(t, out.ReceiptID)

	// Mapping advanced and record touched.
	m, _ := mappings.GetMapping(context.Background(), "apify-abc")
	assert.Equal(t, "SUCCEEDED", m.Status)
	assert.Equal(t, "ds-1", m.DatasetID)
	assert.Equal(t, 1, records.updates)
	rec := records.records["251007-041822-Guy-Wilson"]
	assert.Equal(t, "apify-abc", rec.Str(tracking.FieldActorRunID))
	assert.Contains(t, rec.Str(tracking.FieldNotes), "Actor run apify-abc reported SUCCEEDED")

	require.Len(t, mappings.receipts, 1)
	assert.Equal(t, store.OutcomeApplied, mappings.receipts[0].Outcome)
}

func TestHandleUnmapped(t *testing.T) {
	records := &recordStore{records: map[string]*airtable.Record{}}
	mappings := newMemStore()

	c := newTestCorrelator(records, mappings)
	out, err := c.Handle(context.Background(), &Payload{ActorRunID: "apify-xyz", Status: "SUCCEEDED"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnmappedActorRun)
	assert.Equal(t, store.OutcomeUnmapped, out.Result)
	assert.Zero(t, records.updates)
	require.Len(t, mappings.receipts, 1)
	assert.Equal(t, store.OutcomeUnmapped, mappings.receipts[0].Outcome)
}

func TestHandlePostTerminalNoOp(t *testing.T) {
	records := &recordStore{records: map[string]*airtable.Record{
		"251007-041822-Guy-Wilson": {
			ID:     "recGW1",
			Fields: map[string]any{tracking.FieldRunID: "251007-041822-Guy-Wilson", tracking.FieldStatus: "Completed"},
		},
	}}
	mappings := newMemStore()
	require.NoError(t, mappings.SaveMapping(context.Background(), store.ActorRunMapping{
		ActorRunID: "apify-abc",
		RunID:      "251007-041822-Guy-Wilson",
		ClientID:   "Guy-Wilson",
		Status:     "SUCCEEDED",
	}))

	c := newTestCorrelator(records, mappings)
	out, err := c.Handle(context.Background(), &Payload{ActorRunID: "apify-abc", Status: "SUCCEEDED"})

	require.NoError(t, err)
	assert.Equal(t, store.OutcomeAlreadyTerminal, out.Result)
	assert.Zero(t, records.updates)

	// Mapping unchanged by the duplicate.
	m, _ := mappings.GetMapping(context.Background(), "apify-abc")
	assert.Equal(t, "SUCCEEDED", m.Status)
}

func TestHandleMappedButRecordMissing(t *testing.T) {
	records := &recordStore{records: map[string]*airtable.Record{}}
	mappings := newMemStore()
	require.NoError(t, mappings.SaveMapping(context.Background(), store.ActorRunMapping{
		ActorRunID: "apify-abc",
		RunID:      "251007-041822-Guy-Wilson",
		ClientID:   "Guy-Wilson",
		Status:     "RUNNING",
	}))

	c := newTestCorrelator(records, mappings)
	out, err := c.Handle(context.Background(), &Payload{ActorRunID: "apify-abc", Status: "SUCCEEDED"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnmappedActorRun)
	assert.Equal(t, store.OutcomeUnmapped, out.Result)
	assert.Zero(t, records.updates)
}
