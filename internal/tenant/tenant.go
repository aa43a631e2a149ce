// Package tenant reads the per-client directory table in the master base.
// Each entry carries the tenant's own Airtable base handle plus the service
// level that decides which pipeline stages apply to it.
package tenant

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/outreachly/lead-engine/internal/runid"
	"github.com/outreachly/lead-engine/pkg/airtable"
)

// Directory table field names.
const (
	FieldName         = "Client Name"
	FieldBaseID       = "Base ID"
	FieldServiceLevel = "Service Level"
	FieldActive       = "Active"
	FieldPostsWanted  = "Posts Per Run"
)

// DirectoryTable is the tenant directory in the master base.
var DirectoryTable = airtable.Table{
	Name: "Clients",
	Fields: map[string]struct{}{
		FieldName:         {},
		FieldBaseID:       {},
		FieldServiceLevel: {},
		FieldActive:       {},
		FieldPostsWanted:  {},
	},
}

// Tenant is one directory entry. ID is the sanitized form of the display
// name and doubles as the client slug in run IDs.
type Tenant struct {
	ID           string
	Name         string
	BaseID       string
	ServiceLevel int
	PostsWanted  int
	RecordID     string
}

// ExpectsHarvest reports whether the tenant's tier includes post harvesting.
func (t Tenant) ExpectsHarvest() bool {
	return t.ServiceLevel >= 2
}

// Directory lists eligible tenants from the master base.
type Directory struct {
	store airtable.Client
}

func NewDirectory(store airtable.Client) *Directory {
	return &Directory{store: store}
}

// List returns all active tenants. Entries without a base ID are skipped,
// they cannot be processed.
func (d *Directory) List(ctx context.Context) ([]Tenant, error) {
	records, err := d.store.List(ctx, DirectoryTable, airtable.Checked(FieldActive), 0)
	if err != nil {
		return nil, eris.Wrap(err, "tenant: list directory")
	}

	out := make([]Tenant, 0, len(records))
	for i := range records {
		t := fromRecord(&records[i])
		if t.BaseID == "" || t.ID == "" {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Get returns the tenant whose sanitized ID matches clientID, or an error
// when the directory has no such entry.
func (d *Directory) Get(ctx context.Context, clientID string) (Tenant, error) {
	tenants, err := d.List(ctx)
	if err != nil {
		return Tenant{}, err
	}
	for _, t := range tenants {
		if strings.EqualFold(t.ID, clientID) {
			return t, nil
		}
	}
	return Tenant{}, eris.Errorf("tenant: %q not in directory", clientID)
}

func fromRecord(r *airtable.Record) Tenant {
	name := r.Str(FieldName)
	return Tenant{
		ID:           runid.SanitizeClientID(name),
		Name:         name,
		BaseID:       r.Str(FieldBaseID),
		ServiceLevel: r.Int(FieldServiceLevel),
		PostsWanted:  r.Int(FieldPostsWanted),
		RecordID:     r.ID,
	}
}
