package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/outreachly/lead-engine/internal/store"
	"github.com/outreachly/lead-engine/internal/tenant"
	"github.com/outreachly/lead-engine/pkg/actor"
	"github.com/outreachly/lead-engine/pkg/airtable"
	"github.com/outreachly/lead-engine/pkg/gemini"
)

// fakeGateway is an in-memory airtable.Client understanding the formula
// shapes the repository emits.
type fakeGateway struct {
	mu      sync.Mutex
	tables  map[string][]airtable.Record
	nextID  int
	creates int
	updates int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{tables: make(map[string][]airtable.Record)}
}

var (
	equalsRe  = regexp.MustCompile(`^\{(.+?)\} = "((?:[^"\\]|\\.)*)"$`)
	prefixRe  = regexp.MustCompile(`^LEFT\(\{(.+?)\}, \d+\) = "((?:[^"\\]|\\.)*)"$`)
	checkedRe = regexp.MustCompile(`^\{(.+?)\} = TRUE\(\)$`)
)

func formulaMatches(rec airtable.Record, formula string) bool {
	if formula == "" {
		return true
	}
	if m := checkedRe.FindStringSubmatch(formula); m != nil {
		b, _ := rec.Fields[m[1]].(bool)
		return b
	}
	if m := equalsRe.FindStringSubmatch(formula); m != nil {
		return rec.Str(m[1]) == strings.ReplaceAll(m[2], `\"`, `"`)
	}
	if m := prefixRe.FindStringSubmatch(formula); m != nil {
		return strings.HasPrefix(rec.Str(m[1]), strings.ReplaceAll(m[2], `\"`, `"`))
	}
	panic(fmt.Sprintf("fakeGateway: unsupported formula %q", formula))
}

func (f *fakeGateway) FindOne(_ context.Context, table airtable.Table, formula string) (*airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.tables[table.Name] {
		if formulaMatches(rec, formula) {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeGateway) Get(_ context.Context, table airtable.Table, recordID string) (*airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.tables[table.Name] {
		if rec.ID == recordID {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeGateway) Create(_ context.Context, table airtable.Table, fields map[string]any) (*airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.nextID++
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	rec := airtable.Record{ID: fmt.Sprintf("rec%03d", f.nextID), Fields: copied}
	f.tables[table.Name] = append(f.tables[table.Name], rec)
	out := rec
	return &out, nil
}

func (f *fakeGateway) Update(_ context.Context, table airtable.Table, recordID string, fields map[string]any) (*airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	for i, rec := range f.tables[table.Name] {
		if rec.ID == recordID {
			for k, v := range fields {
				f.tables[table.Name][i].Fields[k] = v
			}
			out := f.tables[table.Name][i]
			return &out, nil
		}
	}
	return nil, fmt.Errorf("fakeGateway: no record %s in %s", recordID, table.Name)
}

func (f *fakeGateway) List(_ context.Context, table airtable.Table, formula string, limit int) ([]airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []airtable.Record
	for _, rec := range f.tables[table.Name] {
		if formulaMatches(rec, formula) {
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeGateway) byRunID(table airtable.Table, runID string) *airtable.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.tables[table.Name] {
		if rec.Str("Run ID") == runID {
			out := rec
			return &out
		}
	}
	return nil
}

// fakeTenants is a static TenantLister.
type fakeTenants struct {
	tenants []tenant.Tenant
	err     error
}

func (f *fakeTenants) List(context.Context) ([]tenant.Tenant, error) {
	return f.tenants, f.err
}

// fakeLeads is a static LeadSource.
type fakeLeads struct {
	batches map[string]*ClientBatch // keyed by tenant ID
	err     error
}

func (f *fakeLeads) Fetch(_ context.Context, t tenant.Tenant) (*ClientBatch, error) {
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.batches[t.ID]; ok {
		return b, nil
	}
	return &ClientBatch{}, nil
}

// fakeScorer is a canned gemini.Scorer.
type fakeScorer struct {
	profiles   *gemini.Result
	profileErr error
	posts      *gemini.Result
	postErr    error
}

func (f *fakeScorer) ScoreProfiles(_ context.Context, _ string, in []gemini.Profile) (*gemini.Result, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	if f.profiles != nil {
		return f.profiles, nil
	}
	return &gemini.Result{Examined: len(in), Scored: len(in)}, nil
}

func (f *fakeScorer) ScorePosts(_ context.Context, _ string, in []gemini.Post) (*gemini.Result, error) {
	if f.postErr != nil {
		return nil, f.postErr
	}
	if f.posts != nil {
		return f.posts, nil
	}
	return &gemini.Result{Examined: len(in), Scored: len(in)}, nil
}

// fakeActor is a canned actor.Client whose runs finish immediately.
type fakeActor struct {
	mu       sync.Mutex
	starts   int
	startErr error
	status   string
	items    []actor.DatasetItem
	lastTag  string
}

func (f *fakeActor) StartRun(_ context.Context, _ string, input actor.RunInput) (*actor.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.starts++
	f.lastTag = input.ClientTag
	return &actor.Run{ID: "apify-abc", Status: actor.StatusRunning}, nil
}

func (f *fakeActor) GetRun(context.Context, string) (*actor.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.status
	if status == "" {
		status = actor.StatusSucceeded
	}
	return &actor.Run{
		ID:               "apify-abc",
		Status:           status,
		DefaultDatasetID: "ds-1",
		Stats:            actor.RunStats{ComputeUnits: 0.5, ResultCount: len(f.items)},
	}, nil
}

func (f *fakeActor) DatasetItems(context.Context, string, int) ([]actor.DatasetItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items, nil
}

// memStore is an in-memory store.Store.
type memStore struct {
	mu       sync.Mutex
	mappings map[string]store.ActorRunMapping
	receipts []store.WebhookReceipt
}

func newMemStore() *memStore {
	return &memStore{mappings: map[string]store.ActorRunMapping{}}
}

func (m *memStore) SaveMapping(_ context.Context, am store.ActorRunMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[am.ActorRunID] = am
	return nil
}

func (m *memStore) GetMapping(_ context.Context, actorRunID string) (*store.ActorRunMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	am, ok := m.mappings[actorRunID]
	if !ok {
		return nil, nil
	}
	return &am, nil
}

func (m *memStore) UpdateMapping(_ context.Context, actorRunID, status, datasetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	am := m.mappings[actorRunID]
	am.Status = status
	am.DatasetID = datasetID
	m.mappings[actorRunID] = am
	return nil
}

func (m *memStore) DeleteStaleMappings(context.Context, time.Duration) (int, error) { return 0, nil }

func (m *memStore) RecordReceipt(_ context.Context, r store.WebhookReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts = append(m.receipts, r)
	return nil
}

func (m *memStore) ListReceipts(context.Context, int) ([]store.WebhookReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receipts, nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }
