package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreachly/lead-engine/pkg/airtable"
)

type fakeDirectory struct {
	records []airtable.Record
	err     error
}

func (f *fakeDirectory) List(_ context.Context, _ airtable.Table, _ string, _ int) ([]airtable.Record, error) {
	return f.records, f.err
}

func (f *fakeDirectory) FindOne(context.Context, airtable.Table, string) (*airtable.Record, error) {
	return nil, nil
}

func (f *fakeDirectory) Get(context.Context, airtable.Table, string) (*airtable.Record, error) {
	return nil, nil
}

func (f *fakeDirectory) Create(context.Context, airtable.Table, map[string]any) (*airtable.Record, error) {
	return nil, nil
}

func (f *fakeDirectory) Update(context.Context, airtable.Table, string, map[string]any) (*airtable.Record, error) {
	return nil, nil
}

func entry(name, baseID string, level, posts int) airtable.Record {
	return airtable.Record{
		ID: "rec" + name,
		Fields: map[string]any{
			FieldName:         name,
			FieldBaseID:       baseID,
			FieldServiceLevel: float64(level),
			FieldPostsWanted:  float64(posts),
		},
	}
}

func TestListSkipsUnprocessableEntries(t *testing.T) {
	dir := NewDirectory(&fakeDirectory{records: []airtable.Record{
		entry("Guy Wilson", "appGW123", 2, 120),
		entry("No Base Yet", "", 1, 0),
		entry("Acme Leads", "appAC456", 1, 0),
	}})

	tenants, err := dir.List(context.Background())
	require.NoError(t, err)
	require.Len(t, tenants, 2)

	assert.Equal(t, "Guy-Wilson", tenants[0].ID)
	assert.Equal(t, "Guy Wilson", tenants[0].Name)
	assert.Equal(t, "appGW123", tenants[0].BaseID)
	assert.Equal(t, 2, tenants[0].ServiceLevel)
	assert.Equal(t, 120, tenants[0].PostsWanted)
	assert.True(t, tenants[0].ExpectsHarvest())

	assert.Equal(t, "Acme-Leads", tenants[1].ID)
	assert.False(t, tenants[1].ExpectsHarvest())
}

func TestGetMatchesSanitizedID(t *testing.T) {
	dir := NewDirectory(&fakeDirectory{records: []airtable.Record{
		entry("Guy Wilson", "appGW123", 2, 120),
	}})

	got, err := dir.Get(context.Background(), "guy-wilson")
	require.NoError(t, err)
	assert.Equal(t, "appGW123", got.BaseID)

	_, err = dir.Get(context.Background(), "nobody")
	assert.Error(t, err)
}
