package tracking

import "context"

// Positional wrappers preserved for older call sites that predate the
// params-struct convention. New code should use the params forms directly.

// CreateClientRunLegacy rewrites a positional call into CreateClientRunParams.
func (r *Repository) CreateClientRunLegacy(ctx context.Context, runID, clientID, clientName string, opts Options) (*Result, error) {
	return r.CreateClientRun(ctx, CreateClientRunParams{
		RunID:      runID,
		ClientID:   clientID,
		ClientName: clientName,
		Options:    opts,
	})
}

// UpdateClientRunLegacy rewrites a positional call into UpdateClientRunParams.
func (r *Repository) UpdateClientRunLegacy(ctx context.Context, runID, clientID string, updates map[string]any, opts Options) (*Result, error) {
	return r.UpdateClientRun(ctx, UpdateClientRunParams{
		RunID:    runID,
		ClientID: clientID,
		Updates:  updates,
		Options:  opts,
	})
}

// CompleteClientRunLegacy rewrites a positional call into CompleteClientRunParams.
func (r *Repository) CompleteClientRunLegacy(ctx context.Context, runID, clientID string, status Status, note string, opts Options) (*Result, error) {
	return r.CompleteClientRun(ctx, CompleteClientRunParams{
		RunID:    runID,
		ClientID: clientID,
		Status:   status,
		Note:     note,
		Options:  opts,
	})
}
