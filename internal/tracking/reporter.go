package tracking

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Stage names the three pipeline stages that report metrics.
type Stage string

const (
	StageLeadScoring Stage = "lead_scoring"
	StagePostHarvest Stage = "post_harvest"
	StagePostScoring Stage = "post_scoring"
)

// stageFields maps each stage to the fields it is allowed to touch.
var stageFields = map[Stage][]string{
	StageLeadScoring: leadScoringFields,
	StagePostHarvest: postHarvestFields,
	StagePostScoring: postScoringFields,
}

// Reporter is the stage-facing entry point for tracking updates. All three
// stages share one template: validate, short-circuit on standalone, check
// existence, then update the record with the stage's metric subset and a
// System Notes line. A reporter never creates a record; creation is the
// orchestrator's job, which keeps every record created exactly once at job
// start.
type Reporter struct {
	repo *Repository
}

// NewReporter creates a Reporter over the repository.
func NewReporter(repo *Repository) *Reporter {
	return &Reporter{repo: repo}
}

// LeadScoringReport carries the lead-scoring stage's metric subset.
type LeadScoringReport struct {
	ProfilesExamined int
	ProfilesScored   int
	Tokens           int
	Errors           int
}

// ReportLeadScoring records lead-scoring results on the client run record.
func (rp *Reporter) ReportLeadScoring(ctx context.Context, runID, clientID string, report LeadScoringReport, opts Options) (*Result, error) {
	return rp.report(ctx, StageLeadScoring, runID, clientID, map[string]any{
		FieldProfilesExamined: report.ProfilesExamined,
		FieldProfilesScored:   report.ProfilesScored,
		FieldProfileTokens:    report.Tokens,
		FieldScoringErrors:    report.Errors,
	}, fmt.Sprintf("lead scoring: examined %d, scored %d, tokens %d",
		report.ProfilesExamined, report.ProfilesScored, report.Tokens), opts)
}

// PostHarvestReport carries the post-harvesting stage's metric subset.
type PostHarvestReport struct {
	PostsHarvested    int
	ProfilesSubmitted int
	EstimatedCost     float64
	ActorRunID        string
}

// ReportPostHarvest records harvesting results, including the external
// actor's run ID, on the client run record.
func (rp *Reporter) ReportPostHarvest(ctx context.Context, runID, clientID string, report PostHarvestReport, opts Options) (*Result, error) {
	updates := map[string]any{
		FieldPostsHarvested:    report.PostsHarvested,
		FieldProfilesSubmitted: report.ProfilesSubmitted,
		FieldEstimatedCost:     report.EstimatedCost,
	}
	if report.ActorRunID != "" {
		updates[FieldActorRunID] = report.ActorRunID
	}
	return rp.report(ctx, StagePostHarvest, runID, clientID, updates,
		fmt.Sprintf("post harvest: %d posts from %d profiles",
			report.PostsHarvested, report.ProfilesSubmitted), opts)
}

// PostScoringReport carries the post-scoring stage's metric subset.
type PostScoringReport struct {
	PostsExamined int
	PostsScored   int
	Tokens        int
}

// ReportPostScoring records post-scoring results on the client run record.
func (rp *Reporter) ReportPostScoring(ctx context.Context, runID, clientID string, report PostScoringReport, opts Options) (*Result, error) {
	return rp.report(ctx, StagePostScoring, runID, clientID, map[string]any{
		FieldPostsExamined: report.PostsExamined,
		FieldPostsScored:   report.PostsScored,
		FieldPostTokens:    report.Tokens,
	}, fmt.Sprintf("post scoring: examined %d, scored %d, tokens %d",
		report.PostsExamined, report.PostsScored, report.Tokens), opts)
}

func (rp *Reporter) report(ctx context.Context, stage Stage, runID, clientID string, updates map[string]any, note string, opts Options) (*Result, error) {
	perClient, _, err := resolveClientRunID(runID, clientID)
	if err != nil {
		return nil, err
	}
	if opts.Standalone {
		return standaloneResult(), nil
	}

	log := opts.logger().With(
		zap.String("stage", string(stage)),
		zap.String("run_id", perClient),
		zap.String("client", clientID),
	)

	// Stage updates touch only the stage's own field subset.
	allowed := make(map[string]struct{}, len(stageFields[stage]))
	for _, f := range stageFields[stage] {
		allowed[f] = struct{}{}
	}
	for field := range updates {
		if _, ok := allowed[field]; !ok {
			return nil, fmt.Errorf("tracking: field %q is not writable by stage %s", field, stage)
		}
	}

	clean, invalid := ValidateMetrics(updates)
	if len(invalid) > 0 {
		log.Warn("tracking: invalid metrics replaced", zap.Any("invalid", invalid))
		note = note + "; " + FormatInvalid(invalid)
	}

	if !rp.repo.CheckExists(ctx, perClient) {
		log.Warn("tracking: stage report for unknown record, skipping")
		return &Result{Success: false, Skipped: true, Reason: ReasonNotFound}, nil
	}

	if opts.Source == "" {
		opts.Source = string(stage)
	}

	res, err := rp.repo.UpdateClientRun(ctx, UpdateClientRunParams{
		RunID:   perClient,
		Updates: clean,
		Note:    note,
		Options: opts,
	})
	if err != nil {
		// The record vanished between the existence check and the update.
		if errors.Is(err, ErrRecordNotFound) {
			return &Result{Success: false, Skipped: true, Reason: ReasonNotFound}, nil
		}
		return nil, err
	}
	return res, nil
}
