package tracking

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/outreachly/lead-engine/pkg/airtable"
)

// fakeStore is an in-memory airtable.Client that understands the formula
// shapes the repository emits.
type fakeStore struct {
	mu      sync.Mutex
	tables  map[string][]airtable.Record
	nextID  int
	creates int
	updates int
	finds   int

	failCreate error
	failFind   error
	failUpdate error

	// missFinds makes the next n FindOne calls report no match, to simulate
	// a record that lands between lookup and create.
	missFinds int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tables: make(map[string][]airtable.Record)}
}

var (
	equalsRe = regexp.MustCompile(`^\{(.+?)\} = "((?:[^"\\]|\\.)*)"$`)
	prefixRe = regexp.MustCompile(`^LEFT\(\{(.+?)\}, \d+\) = "((?:[^"\\]|\\.)*)"$`)
)

func matches(rec airtable.Record, formula string) bool {
	if formula == "" {
		return true
	}
	if m := equalsRe.FindStringSubmatch(formula); m != nil {
		return rec.Str(m[1]) == strings.ReplaceAll(m[2], `\"`, `"`)
	}
	if m := prefixRe.FindStringSubmatch(formula); m != nil {
		return strings.HasPrefix(rec.Str(m[1]), strings.ReplaceAll(m[2], `\"`, `"`))
	}
	panic(fmt.Sprintf("fakeStore: unsupported formula %q", formula))
}

func (f *fakeStore) FindOne(ctx context.Context, table airtable.Table, formula string) (*airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	if f.failFind != nil {
		return nil, f.failFind
	}
	if f.missFinds > 0 {
		f.missFinds--
		return nil, nil
	}
	for _, rec := range f.tables[table.Name] {
		if matches(rec, formula) {
			out := cloneRecord(rec)
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Get(ctx context.Context, table airtable.Table, recordID string) (*airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.tables[table.Name] {
		if rec.ID == recordID {
			out := cloneRecord(rec)
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Create(ctx context.Context, table airtable.Table, fields map[string]any) (*airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	if err := checkWhitelist(table, fields); err != nil {
		return nil, err
	}
	f.nextID++
	rec := airtable.Record{
		ID:     fmt.Sprintf("rec%03d", f.nextID),
		Fields: cloneFields(fields),
	}
	f.tables[table.Name] = append(f.tables[table.Name], rec)
	out := cloneRecord(rec)
	return &out, nil
}

func (f *fakeStore) Update(ctx context.Context, table airtable.Table, recordID string, fields map[string]any) (*airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.failUpdate != nil {
		return nil, f.failUpdate
	}
	if err := checkWhitelist(table, fields); err != nil {
		return nil, err
	}
	for i, rec := range f.tables[table.Name] {
		if rec.ID == recordID {
			for k, v := range fields {
				f.tables[table.Name][i].Fields[k] = v
			}
			out := cloneRecord(f.tables[table.Name][i])
			return &out, nil
		}
	}
	return nil, fmt.Errorf("fakeStore: no record %s in %s", recordID, table.Name)
}

func (f *fakeStore) List(ctx context.Context, table airtable.Table, formula string, limit int) ([]airtable.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFind != nil {
		return nil, f.failFind
	}
	var out []airtable.Record
	for _, rec := range f.tables[table.Name] {
		if matches(rec, formula) {
			out = append(out, cloneRecord(rec))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) records(table airtable.Table) []airtable.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]airtable.Record, 0, len(f.tables[table.Name]))
	for _, rec := range f.tables[table.Name] {
		out = append(out, cloneRecord(rec))
	}
	return out
}

func checkWhitelist(table airtable.Table, fields map[string]any) error {
	for name := range fields {
		if !table.Allows(name) {
			return fmt.Errorf("%w: %s", airtable.ErrFieldUnknown, name)
		}
	}
	return nil
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func cloneRecord(rec airtable.Record) airtable.Record {
	return airtable.Record{ID: rec.ID, Fields: cloneFields(rec.Fields), CreatedTime: rec.CreatedTime}
}
