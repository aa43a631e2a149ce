package tracking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReporter(t *testing.T) (*Reporter, *Repository, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	repo := newTestRepo(store)
	return NewReporter(repo), repo, store
}

func seedClientRun(t *testing.T, repo *Repository) {
	t.Helper()
	_, err := repo.CreateClientRun(context.Background(), CreateClientRunParams{
		RunID:    "251007-041822",
		ClientID: "Guy-Wilson",
	})
	require.NoError(t, err)
}

func TestReportLeadScoring(t *testing.T) {
	reporter, repo, store := newTestReporter(t)
	seedClientRun(t, repo)

	res, err := reporter.ReportLeadScoring(context.Background(), "251007-041822", "Guy-Wilson",
		LeadScoringReport{ProfilesExamined: 40, ProfilesScored: 37, Tokens: 12345},
		Options{Source: "lead-scorer"},
	)
	require.NoError(t, err)
	assert.True(t, res.Success)

	rec := store.records(ClientRunsTable)[0]
	assert.Equal(t, 40, rec.Int(FieldProfilesExamined))
	assert.Equal(t, 37, rec.Int(FieldProfilesScored))
	assert.Equal(t, 12345, rec.Int(FieldProfileTokens))
	assert.Contains(t, rec.Str(FieldNotes), "lead scoring: examined 40, scored 37, tokens 12345")
	assert.Contains(t, rec.Str(FieldNotes), "lead-scorer")
	// Stage reports never complete a record.
	assert.Equal(t, string(StatusRunning), rec.Str(FieldStatus))
}

func TestReportPostHarvest(t *testing.T) {
	reporter, repo, store := newTestReporter(t)
	seedClientRun(t, repo)

	res, err := reporter.ReportPostHarvest(context.Background(), "251007-041822-Guy-Wilson", "",
		PostHarvestReport{PostsHarvested: 120, ProfilesSubmitted: 30, EstimatedCost: 0.42, ActorRunID: "apify-abc"},
		Options{},
	)
	require.NoError(t, err)
	assert.True(t, res.Success)

	rec := store.records(ClientRunsTable)[0]
	assert.Equal(t, 120, rec.Int(FieldPostsHarvested))
	assert.Equal(t, 30, rec.Int(FieldProfilesSubmitted))
	assert.Equal(t, "apify-abc", rec.Str(FieldActorRunID))
}

func TestReportPostScoring(t *testing.T) {
	reporter, repo, store := newTestReporter(t)
	seedClientRun(t, repo)

	res, err := reporter.ReportPostScoring(context.Background(), "251007-041822", "Guy-Wilson",
		PostScoringReport{PostsExamined: 120, PostsScored: 118, Tokens: 9876},
		Options{},
	)
	require.NoError(t, err)
	assert.True(t, res.Success)

	rec := store.records(ClientRunsTable)[0]
	assert.Equal(t, 118, rec.Int(FieldPostsScored))
	assert.Equal(t, 9876, rec.Int(FieldPostTokens))
}

func TestReportRefusesToCreate(t *testing.T) {
	reporter, _, store := newTestReporter(t)

	// Record was never created: the report is skipped, nothing is written.
	res, err := reporter.ReportPostScoring(context.Background(), "251007-041822", "Guy-Wilson",
		PostScoringReport{PostsExamined: 10}, Options{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonNotFound, res.Reason)
	assert.Zero(t, store.creates)
	assert.Zero(t, store.updates)
}

func TestReportStandalone(t *testing.T) {
	reporter, _, store := newTestReporter(t)

	res, err := reporter.ReportLeadScoring(context.Background(), "251007-041822", "Guy-Wilson",
		LeadScoringReport{ProfilesExamined: 40}, Options{Standalone: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonStandalone, res.Reason)
	assert.Zero(t, store.finds)
}

func TestReportValidationFailure(t *testing.T) {
	reporter, _, _ := newTestReporter(t)

	_, err := reporter.ReportLeadScoring(context.Background(), "garbage", "Guy-Wilson",
		LeadScoringReport{}, Options{})
	require.ErrorIs(t, err, ErrInvalidRunID)
}
