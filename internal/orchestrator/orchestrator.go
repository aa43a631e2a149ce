// Package orchestrator owns the job lifecycle: one parent record per batch,
// one client record per eligible tenant, stage sequencing gated by service
// tier, and the single aggregation pass that closes the parent.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/outreachly/lead-engine/internal/cost"
	"github.com/outreachly/lead-engine/internal/logging"
	"github.com/outreachly/lead-engine/internal/runid"
	"github.com/outreachly/lead-engine/internal/store"
	"github.com/outreachly/lead-engine/internal/tenant"
	"github.com/outreachly/lead-engine/internal/tracking"
	"github.com/outreachly/lead-engine/pkg/actor"
	"github.com/outreachly/lead-engine/pkg/gemini"
)

// Lead is one profile pulled from a tenant's base for scoring and harvest.
type Lead struct {
	ID       string
	Name     string
	Headline string
	About    string
	URL      string
}

// ClientBatch is everything the pipeline needs for one tenant's run.
type ClientBatch struct {
	Leads    []Lead
	Criteria string
}

// LeadSource yields the leads to process for a tenant.
type LeadSource interface {
	Fetch(ctx context.Context, t tenant.Tenant) (*ClientBatch, error)
}

// TenantLister narrows tenant.Directory for testing.
type TenantLister interface {
	List(ctx context.Context) ([]tenant.Tenant, error)
}

// Config tunes a batch run.
type Config struct {
	Stream               int
	ActorID              string
	GeminiModel          string
	MaxConcurrentClients int
	Standalone           bool
	Source               string
}

// ClientOutcome records how one tenant's run ended.
type ClientOutcome struct {
	ClientID string
	RunID    string
	Status   tracking.Status
	Err      error
}

// BatchResult summarizes one full batch.
type BatchResult struct {
	BaseRunID string
	Status    tracking.Status
	Clients   []ClientOutcome
}

// Orchestrator drives job batches end to end.
type Orchestrator struct {
	gen       *runid.Generator
	repo      *tracking.Repository
	reporter  *tracking.Reporter
	directory TenantLister
	leads     LeadSource
	scorer    gemini.Scorer
	actors    actor.Client
	mappings  store.Store
	costs     *cost.Calculator
	logger    *zap.Logger
	logs      *logging.Binder
	cfg       Config
}

// New creates an Orchestrator. The actor client and mapping store may be nil
// when no tenant in the directory is above tier 1.
func New(
	repo *tracking.Repository,
	reporter *tracking.Reporter,
	directory TenantLister,
	leads LeadSource,
	scorer gemini.Scorer,
	actors actor.Client,
	mappings store.Store,
	costs *cost.Calculator,
	logger *zap.Logger,
	cfg Config,
) *Orchestrator {
	if logger == nil {
		logger = zap.L()
	}
	if cfg.MaxConcurrentClients <= 0 {
		cfg.MaxConcurrentClients = 4
	}
	if cfg.Source == "" {
		cfg.Source = "orchestrator"
	}
	if costs == nil {
		costs = cost.NewCalculator(cost.DefaultRates())
	}
	return &Orchestrator{
		gen:       runid.NewGenerator(),
		repo:      repo,
		reporter:  reporter,
		directory: directory,
		leads:     leads,
		scorer:    scorer,
		actors:    actors,
		mappings:  mappings,
		costs:     costs,
		logger:    logger,
		logs:      logging.NewBinder(logger, zapcore.DebugLevel, nil),
		cfg:       cfg,
	}
}

// WithGenerator swaps the run-ID generator, for tests.
func (o *Orchestrator) WithGenerator(g *runid.Generator) *Orchestrator {
	o.gen = g
	return o
}

// WithBinder installs a binder carrying per-stage log levels. Stage loggers
// inside the pipeline then honor those levels instead of the flat base level.
func (o *Orchestrator) WithBinder(b *logging.Binder) *Orchestrator {
	o.logs = b
	o.logger = b.Root()
	return o
}

func (o *Orchestrator) stageLog(stage, runID, clientID string) *zap.Logger {
	return o.logs.Run(runID, clientID, o.cfg.Source).Stage(stage)
}

// RunBatch executes one job batch. onlyClient, when non-empty, restricts the
// batch to a single tenant. Per-client failures never fail the batch; the
// parent goes Failed only when every attempted client failed or the closing
// aggregation pass fails.
func (o *Orchestrator) RunBatch(ctx context.Context, onlyClient string) (*BatchResult, error) {
	base := o.gen.Generate()
	opts := tracking.Options{Logger: o.logger, Source: o.cfg.Source, Standalone: o.cfg.Standalone}
	log := o.logger.With(zap.String("run_id", base))

	if _, err := o.repo.CreateJobRecord(ctx, tracking.CreateJobParams{
		RunID:   base,
		Stream:  o.cfg.Stream,
		Options: opts,
	}); err != nil {
		return nil, eris.Wrap(err, "orchestrator: create job record")
	}

	tenants, err := o.directory.List(ctx)
	if err != nil {
		// Without a directory nothing was attempted, close the job as Failed.
		o.completeJob(ctx, base, tracking.StatusFailed, "tenant directory unavailable", opts)
		return nil, eris.Wrap(err, "orchestrator: list tenants")
	}
	if onlyClient != "" {
		tenants = filterTenant(tenants, onlyClient)
	}
	if len(tenants) == 0 {
		o.completeJob(ctx, base, tracking.StatusCompleted, "no eligible tenants", opts)
		return &BatchResult{BaseRunID: base, Status: tracking.StatusCompleted}, nil
	}

	outcomes := make([]ClientOutcome, len(tenants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrentClients)
	for i, t := range tenants {
		g.Go(func() error {
			outcomes[i] = o.processClient(gctx, base, t, opts)
			return nil
		})
	}
	g.Wait()

	status := o.closeJob(ctx, base, outcomes, opts)
	log.Info("orchestrator: batch finished",
		zap.String("status", string(status)),
		zap.Int("clients", len(outcomes)),
	)
	return &BatchResult{BaseRunID: base, Status: status, Clients: outcomes}, nil
}

// processClient runs all expected stages for one tenant and completes its
// record. Stage failures set the fatal flag but keep reporting whatever the
// earlier stages produced.
func (o *Orchestrator) processClient(ctx context.Context, base string, t tenant.Tenant, opts tracking.Options) ClientOutcome {
	perClient, err := runid.WithClient(base, t.ID)
	if err != nil {
		o.logger.Error("orchestrator: bad per-client run ID",
			zap.String("run_id", base), zap.String("client", t.ID), zap.Error(err))
		return ClientOutcome{ClientID: t.ID, Status: tracking.StatusFailed, Err: err}
	}
	log := o.logger.With(zap.String("run_id", perClient), zap.String("client", t.ID))
	out := ClientOutcome{ClientID: t.ID, RunID: perClient}

	if _, err := o.repo.CreateClientRun(ctx, tracking.CreateClientRunParams{
		RunID:      base,
		ClientID:   t.ID,
		ClientName: t.Name,
		Options:    opts,
	}); err != nil {
		log.Error("orchestrator: client record create failed", zap.Error(err))
		out.Status = tracking.StatusFailed
		out.Err = err
		return out
	}

	var (
		fatal            bool
		profilesExamined int
		postsExamined    int
		harvested        int
	)

	batch, err := o.leads.Fetch(ctx, t)
	if err != nil {
		log.Error("orchestrator: lead fetch failed", zap.Error(err))
		o.noteFailure(ctx, perClient, "lead fetch failed: "+err.Error(), opts)
		fatal = true
		batch = &ClientBatch{}
	}

	// Lead scoring runs for every tier.
	var leadTokens int
	if !fatal {
		result, err := o.scoreLeads(ctx, perClient, t, batch, opts)
		if err != nil {
			log.Error("orchestrator: lead scoring failed", zap.Error(err))
			o.noteFailure(ctx, perClient, "lead scoring failed: "+err.Error(), opts)
			fatal = true
		} else {
			profilesExamined = result.Examined
			leadTokens = result.InputTokens + result.OutputTokens
		}
	}

	// Harvest and post scoring apply from tier 2 up.
	if !fatal && t.ExpectsHarvest() && len(batch.Leads) > 0 {
		items, actorRunID, computeUnits, err := o.harvest(ctx, perClient, t, batch, opts)
		if err != nil {
			log.Error("orchestrator: harvest failed", zap.Error(err))
			o.noteFailure(ctx, perClient, "harvest failed: "+err.Error(), opts)
			fatal = true
		} else {
			harvested = len(items)
			estimated := o.costs.ClientRun(o.cfg.GeminiModel, 0, leadTokens, computeUnits, harvested)
			if _, err := o.reporter.ReportPostHarvest(ctx, perClient, t.ID, tracking.PostHarvestReport{
				PostsHarvested:    harvested,
				ProfilesSubmitted: len(batch.Leads),
				EstimatedCost:     estimated,
				ActorRunID:        actorRunID,
			}, opts); err != nil {
				log.Warn("orchestrator: harvest report failed", zap.Error(err))
			}

			if harvested > 0 {
				examined, err := o.scorePosts(ctx, perClient, t, batch.Criteria, items, opts)
				if err != nil {
					log.Error("orchestrator: post scoring failed", zap.Error(err))
					o.noteFailure(ctx, perClient, "post scoring failed: "+err.Error(), opts)
					fatal = true
				} else {
					postsExamined = examined
				}
			}
		}
	}

	out.Status = DeriveClientStatus(profilesExamined, postsExamined, fatal)
	if _, err := o.repo.CompleteClientRun(ctx, tracking.CompleteClientRunParams{
		RunID:    base,
		ClientID: t.ID,
		Status:   out.Status,
		Options:  opts,
	}); err != nil {
		log.Error("orchestrator: client completion failed", zap.Error(err))
		out.Err = err
	}
	return out
}

// scoreLeads submits the tenant's profiles to the LLM and reports the stage.
func (o *Orchestrator) scoreLeads(ctx context.Context, perClient string, t tenant.Tenant, batch *ClientBatch, opts tracking.Options) (*gemini.Result, error) {
	profiles := make([]gemini.Profile, len(batch.Leads))
	for i, l := range batch.Leads {
		profiles[i] = gemini.Profile{ID: l.ID, Name: l.Name, Headline: l.Headline, About: l.About}
	}

	log := o.stageLog("lead", perClient, t.ID)
	log.Debug("scoring profiles", zap.Int("count", len(profiles)))

	result, err := o.scorer.ScoreProfiles(ctx, batch.Criteria, profiles)
	if err != nil {
		return nil, err
	}
	log.Info("profiles scored",
		zap.Int("examined", result.Examined),
		zap.Int("scored", result.Scored))

	if _, err := o.reporter.ReportLeadScoring(ctx, perClient, t.ID, tracking.LeadScoringReport{
		ProfilesExamined: result.Examined,
		ProfilesScored:   result.Scored,
		Tokens:           result.InputTokens + result.OutputTokens,
		Errors:           result.Examined - len(result.Scores),
	}, opts); err != nil {
		return nil, err
	}
	return result, nil
}

// harvest dispatches the actor over the tenant's profile URLs, records the
// mapping for webhook correlation, and waits for the run synchronously.
func (o *Orchestrator) harvest(ctx context.Context, perClient string, t tenant.Tenant, batch *ClientBatch, opts tracking.Options) ([]actor.DatasetItem, string, float64, error) {
	if o.actors == nil {
		return nil, "", 0, eris.New("orchestrator: no actor client configured")
	}

	urls := make([]string, 0, len(batch.Leads))
	for _, l := range batch.Leads {
		if l.URL != "" {
			urls = append(urls, l.URL)
		}
	}
	if len(urls) == 0 {
		return nil, "", 0, nil
	}

	log := o.stageLog("harvest", perClient, t.ID)

	run, err := o.actors.StartRun(ctx, o.cfg.ActorID, actor.RunInput{
		ProfileURLs: urls,
		PostsWanted: t.PostsWanted,
		ClientTag:   t.ID,
	})
	if err != nil {
		return nil, "", 0, err
	}
	log.Info("actor run dispatched",
		zap.String("actor_run_id", run.ID),
		zap.Int("profiles", len(urls)))

	if o.mappings != nil && !o.cfg.Standalone {
		if err := o.mappings.SaveMapping(ctx, store.ActorRunMapping{
			ActorRunID:   run.ID,
			RunID:        perClient,
			ClientID:     t.ID,
			Status:       run.Status,
			DispatchedAt: time.Now().UTC(),
		}); err != nil {
			o.logger.Warn("orchestrator: mapping save failed",
				zap.String("actor_run_id", run.ID), zap.Error(err))
		}
	}

	final, err := actor.PollRun(ctx, o.actors, run.ID)
	if err != nil {
		return nil, run.ID, 0, err
	}
	if final.Status != actor.StatusSucceeded {
		return nil, run.ID, final.Stats.ComputeUnits,
			eris.Errorf("orchestrator: actor run %s ended %s", run.ID, final.Status)
	}

	if o.mappings != nil && !o.cfg.Standalone {
		if err := o.mappings.UpdateMapping(ctx, run.ID, final.Status, final.DefaultDatasetID); err != nil {
			o.logger.Warn("orchestrator: mapping update failed", zap.Error(err))
		}
	}

	items, err := o.actors.DatasetItems(ctx, final.DefaultDatasetID, 0)
	if err != nil {
		return nil, run.ID, final.Stats.ComputeUnits, err
	}
	log.Info("dataset fetched",
		zap.String("dataset_id", final.DefaultDatasetID),
		zap.Int("items", len(items)))
	return items, run.ID, final.Stats.ComputeUnits, nil
}

// scorePosts submits harvested posts to the LLM and reports the stage.
func (o *Orchestrator) scorePosts(ctx context.Context, perClient string, t tenant.Tenant, criteria string, items []actor.DatasetItem, opts tracking.Options) (int, error) {
	posts := make([]gemini.Post, len(items))
	for i, item := range items {
		posts[i] = gemini.Post{
			ID:   fmt.Sprintf("post-%d", i),
			URL:  item.Str("url"),
			Text: item.Str("text"),
		}
	}

	result, err := o.scorer.ScorePosts(ctx, criteria, posts)
	if err != nil {
		return 0, err
	}
	o.stageLog("post", perClient, t.ID).Info("posts scored",
		zap.Int("examined", result.Examined),
		zap.Int("scored", result.Scored))

	if _, err := o.reporter.ReportPostScoring(ctx, perClient, t.ID, tracking.PostScoringReport{
		PostsExamined: result.Examined,
		PostsScored:   result.Scored,
		Tokens:        result.InputTokens + result.OutputTokens,
	}, opts); err != nil {
		return 0, err
	}
	return result.Examined, nil
}

// closeJob runs the single aggregation pass and writes the parent's terminal
// status.
func (o *Orchestrator) closeJob(ctx context.Context, base string, outcomes []ClientOutcome, opts tracking.Options) tracking.Status {
	aggFailed := false

	records, err := o.repo.ListClientRuns(ctx, base)
	if err != nil {
		o.logger.Error("orchestrator: aggregation read failed", zap.Error(err))
		aggFailed = true
	} else if rollup := tracking.Aggregate(records); len(rollup) > 0 {
		if _, err := o.repo.UpdateJobRecord(ctx, tracking.UpdateJobParams{
			RunID:   base,
			Updates: rollup,
			Options: opts,
		}); err != nil {
			o.logger.Error("orchestrator: rollup write failed", zap.Error(err))
			aggFailed = true
		}
	}

	status := DeriveParentStatus(outcomes, aggFailed)
	o.completeJob(ctx, base, status, "", opts)
	return status
}

func (o *Orchestrator) completeJob(ctx context.Context, base string, status tracking.Status, note string, opts tracking.Options) {
	if _, err := o.repo.CompleteJobRecord(ctx, tracking.CompleteJobParams{
		RunID:   base,
		Status:  status,
		Note:    note,
		Options: opts,
	}); err != nil {
		o.logger.Error("orchestrator: job completion failed",
			zap.String("run_id", base), zap.Error(err))
	}
}

func (o *Orchestrator) noteFailure(ctx context.Context, perClient, note string, opts tracking.Options) {
	if _, err := o.repo.UpdateClientRun(ctx, tracking.UpdateClientRunParams{
		RunID:   perClient,
		Note:    note,
		Options: opts,
	}); err != nil {
		o.logger.Warn("orchestrator: failure note not recorded",
			zap.String("run_id", perClient), zap.Error(err))
	}
}

// DeriveClientStatus maps a client's stage results to its terminal status.
// Nothing examined anywhere means there was nothing to do, which is not a
// failure.
func DeriveClientStatus(profilesExamined, postsExamined int, fatal bool) tracking.Status {
	if profilesExamined == 0 && postsExamined == 0 {
		return tracking.StatusNoLeadsToScore
	}
	if fatal {
		return tracking.StatusFailed
	}
	return tracking.StatusCompleted
}

// DeriveParentStatus maps client outcomes to the parent's terminal status.
// One failed client never fails the batch; only a clean sweep of failures or
// a broken aggregation pass does.
func DeriveParentStatus(outcomes []ClientOutcome, aggFailed bool) tracking.Status {
	if aggFailed {
		return tracking.StatusFailed
	}
	if len(outcomes) == 0 {
		return tracking.StatusCompleted
	}
	failed := 0
	for _, out := range outcomes {
		if out.Status == tracking.StatusFailed {
			failed++
		}
	}
	if failed == len(outcomes) {
		return tracking.StatusFailed
	}
	return tracking.StatusCompleted
}

func filterTenant(tenants []tenant.Tenant, clientID string) []tenant.Tenant {
	for _, t := range tenants {
		if t.ID == clientID {
			return []tenant.Tenant{t}
		}
	}
	return nil
}
