package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/outreachly/lead-engine/internal/runid"
	"github.com/outreachly/lead-engine/pkg/airtable"
)

// Sentinel errors for the record lifecycle contract.
var (
	ErrInvalidRunID    = errors.New("tracking: invalid run ID")
	ErrRecordNotFound  = errors.New("tracking: record not found")
	ErrAlreadyTerminal = errors.New("tracking: record already terminal")
)

// Skip reasons carried on Result.
const (
	ReasonStandalone = "standalone_run"
	ReasonDuplicate  = "duplicate_creation_attempt"
	ReasonNotFound   = "record_not_found"
	ReasonTerminal   = "already_terminal"
)

// Options is the per-call options bag every mutating operation accepts.
type Options struct {
	Logger     *zap.Logger
	Source     string
	Standalone bool
}

func (o Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.L()
}

// Result is the uniform outcome shape for mutating repository operations.
// Skipped results carry the reason and, for duplicate creates, the source
// tag of the call that won the race.
type Result struct {
	Success        bool
	Skipped        bool
	Reason         string
	OriginalSource string
	Record         *airtable.Record
}

// How long a (kind, key) create claim blocks rival creators.
const dedupTTL = 3 * time.Minute

type inflightEntry struct {
	source string
	at     time.Time
}

// Repository enforces the create-once / update-many / error-if-missing
// contract over the two tracking tables. All store I/O goes through the
// gateway client; the dedup set and handle cache are process-local.
type Repository struct {
	store airtable.Client
	cache *runid.Cache
	now   func() time.Time

	mu       sync.Mutex
	inflight map[string]inflightEntry
	ttl      time.Duration
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) { r.now = now }
}

// WithDedupTTL overrides how long create claims are held.
func WithDedupTTL(ttl time.Duration) RepositoryOption {
	return func(r *Repository) { r.ttl = ttl }
}

// NewRepository creates a Repository over the given gateway client.
func NewRepository(store airtable.Client, opts ...RepositoryOption) *Repository {
	r := &Repository{
		store:    store,
		cache:    runid.NewCache(0),
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]inflightEntry),
		ttl:      dedupTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// claim registers a create-in-flight for (kind, key). If another caller
// holds an unexpired claim, the winner's source tag is returned instead.
func (r *Repository) claim(kind, key, source string) (winner string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for k, e := range r.inflight {
		if now.Sub(e.at) > r.ttl {
			delete(r.inflight, k)
		}
	}

	id := kind + "|" + key
	if e, exists := r.inflight[id]; exists {
		return e.source, false
	}
	r.inflight[id] = inflightEntry{source: source, at: now}
	return "", true
}

// CreateClientRunParams names the inputs for CreateClientRun.
type CreateClientRunParams struct {
	RunID      string // base or per-client form
	ClientID   string
	ClientName string
	Fields     map[string]any // optional extra initial fields
	Options    Options
}

// CreateClientRun creates the per-client tracking record for (base, client),
// exactly once. A second create for the same key, whether absorbed by the
// dedup set or discovered in the store, returns the existing record with a
// duplicate-skip marker instead of racing.
func (r *Repository) CreateClientRun(ctx context.Context, p CreateClientRunParams) (*Result, error) {
	perClient, _, err := resolveClientRunID(p.RunID, p.ClientID)
	if err != nil {
		return nil, err
	}
	if p.Options.Standalone {
		return standaloneResult(), nil
	}

	log := p.Options.logger().With(
		zap.String("run_id", perClient),
		zap.String("client", p.ClientID),
		zap.String("source", p.Options.Source),
	)

	if winner, ok := r.claim("client_run", perClient, p.Options.Source); !ok {
		log.Info("tracking: duplicate client run create absorbed", zap.String("winner", winner))
		existing, findErr := r.findClientRun(ctx, perClient)
		if findErr != nil {
			log.Warn("tracking: duplicate re-read failed", zap.Error(findErr))
		}
		return &Result{
			Success:        true,
			Skipped:        true,
			Reason:         ReasonDuplicate,
			OriginalSource: winner,
			Record:         existing,
		}, nil
	}

	if existing, findErr := r.findClientRun(ctx, perClient); findErr != nil {
		return nil, findErr
	} else if existing != nil {
		log.Info("tracking: client run already exists, skipping create")
		return &Result{Success: true, Skipped: true, Reason: ReasonDuplicate, Record: existing}, nil
	}

	fields := map[string]any{
		FieldRunID:    perClient,
		FieldClientID: p.ClientID,
		FieldStart:    r.now().Format(time.RFC3339),
		FieldStatus:   string(StatusRunning),
	}
	if p.ClientName != "" {
		fields[FieldClient] = p.ClientName
	}
	for k, v := range p.Fields {
		fields[k] = v
	}

	rec, err := r.store.Create(ctx, ClientRunsTable, fields)
	if err != nil {
		if errors.Is(err, airtable.ErrAmbiguousCreate) {
			// The create may have committed. The uniqueness key decides.
			if existing, findErr := r.findClientRun(ctx, perClient); findErr == nil && existing != nil {
				log.Warn("tracking: ambiguous create resolved by re-read")
				return &Result{Success: true, Record: existing}, nil
			}
		}
		return nil, eris.Wrap(err, "tracking: create client run")
	}

	r.cache.Put(perClient, rec.ID)
	log.Info("tracking: client run created", zap.String("record", rec.ID))
	return &Result{Success: true, Record: rec}, nil
}

// UpdateClientRunParams names the inputs for UpdateClientRun.
type UpdateClientRunParams struct {
	RunID    string
	ClientID string
	Updates  map[string]any
	Note     string
	Options  Options
}

// UpdateClientRun applies metric updates to an existing client run record.
// It never creates, and it never touches Status or End Time; those belong
// to CompleteClientRun.
func (r *Repository) UpdateClientRun(ctx context.Context, p UpdateClientRunParams) (*Result, error) {
	perClient, _, err := resolveClientRunID(p.RunID, p.ClientID)
	if err != nil {
		return nil, err
	}
	if p.Options.Standalone {
		return standaloneResult(), nil
	}

	existing, err := r.findClientRun(ctx, perClient)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, eris.Wrap(ErrRecordNotFound, fmt.Sprintf("client run %s", perClient))
	}

	updates := make(map[string]any, len(p.Updates)+1)
	for k, v := range p.Updates {
		if k == FieldStatus || k == FieldEnd {
			continue
		}
		updates[k] = v
	}
	if p.Note != "" {
		updates[FieldNotes] = appendNote(existing.Str(FieldNotes), p.Options.Source, r.now(), p.Note)
	}
	if len(updates) == 0 {
		return &Result{Success: true, Record: existing}, nil
	}

	rec, err := r.store.Update(ctx, ClientRunsTable, existing.ID, updates)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("tracking: update client run %s", perClient))
	}
	return &Result{Success: true, Record: rec}, nil
}

// CompleteClientRunParams names the inputs for CompleteClientRun.
type CompleteClientRunParams struct {
	RunID    string
	ClientID string
	Status   Status
	Note     string
	Options  Options
}

// CompleteClientRun transitions a client run record to a terminal status,
// exactly once. A second completion returns the current terminal record and
// ErrAlreadyTerminal.
func (r *Repository) CompleteClientRun(ctx context.Context, p CompleteClientRunParams) (*Result, error) {
	perClient, _, err := resolveClientRunID(p.RunID, p.ClientID)
	if err != nil {
		return nil, err
	}
	if !p.Status.Terminal() {
		return nil, fmt.Errorf("tracking: %q is not a terminal status", p.Status)
	}
	if p.Options.Standalone {
		return standaloneResult(), nil
	}

	existing, err := r.findClientRun(ctx, perClient)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, eris.Wrap(ErrRecordNotFound, fmt.Sprintf("client run %s", perClient))
	}

	if current, parseErr := ParseStatus(existing.Str(FieldStatus)); parseErr == nil && current.Terminal() {
		return &Result{
			Success: false,
			Skipped: true,
			Reason:  ReasonTerminal,
			Record:  existing,
		}, eris.Wrap(ErrAlreadyTerminal, fmt.Sprintf("client run %s is %s", perClient, current))
	}

	updates := map[string]any{
		FieldStatus: string(p.Status),
		FieldEnd:    r.now().Format(time.RFC3339),
	}
	if p.Note != "" {
		updates[FieldNotes] = appendNote(existing.Str(FieldNotes), p.Options.Source, r.now(), p.Note)
	}

	rec, err := r.store.Update(ctx, ClientRunsTable, existing.ID, updates)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("tracking: complete client run %s", perClient))
	}
	p.Options.logger().Info("tracking: client run completed",
		zap.String("run_id", perClient),
		zap.String("status", string(p.Status)),
	)
	return &Result{Success: true, Record: rec}, nil
}

// CreateJobParams names the inputs for CreateJobRecord.
type CreateJobParams struct {
	RunID   string // base form
	Stream  int
	Fields  map[string]any
	Options Options
}

// CreateJobRecord creates the parent job record for a base run ID, exactly
// once, with the same duplicate semantics as CreateClientRun.
func (r *Repository) CreateJobRecord(ctx context.Context, p CreateJobParams) (*Result, error) {
	base, ok := runid.ToBase(p.RunID)
	if !ok {
		return nil, eris.Wrap(ErrInvalidRunID, p.RunID)
	}
	if p.Options.Standalone {
		return standaloneResult(), nil
	}

	log := p.Options.logger().With(zap.String("run_id", base), zap.String("source", p.Options.Source))

	if winner, claimed := r.claim("job", base, p.Options.Source); !claimed {
		log.Info("tracking: duplicate job create absorbed", zap.String("winner", winner))
		existing, _ := r.findJob(ctx, base)
		return &Result{
			Success:        true,
			Skipped:        true,
			Reason:         ReasonDuplicate,
			OriginalSource: winner,
			Record:         existing,
		}, nil
	}

	if existing, findErr := r.findJob(ctx, base); findErr != nil {
		return nil, findErr
	} else if existing != nil {
		return &Result{Success: true, Skipped: true, Reason: ReasonDuplicate, Record: existing}, nil
	}

	fields := map[string]any{
		FieldRunID:  base,
		FieldStream: p.Stream,
		FieldStart:  r.now().Format(time.RFC3339),
		FieldStatus: string(StatusRunning),
	}
	for k, v := range p.Fields {
		fields[k] = v
	}

	rec, err := r.store.Create(ctx, JobsTable, fields)
	if err != nil {
		if errors.Is(err, airtable.ErrAmbiguousCreate) {
			if existing, findErr := r.findJob(ctx, base); findErr == nil && existing != nil {
				log.Warn("tracking: ambiguous job create resolved by re-read")
				return &Result{Success: true, Record: existing}, nil
			}
		}
		return nil, eris.Wrap(err, "tracking: create job record")
	}

	r.cache.Put(base, rec.ID)
	log.Info("tracking: job record created", zap.String("record", rec.ID))
	return &Result{Success: true, Record: rec}, nil
}

// UpdateJobParams names the inputs for UpdateJobRecord.
type UpdateJobParams struct {
	RunID   string
	Updates map[string]any
	Note    string
	Options Options
}

// UpdateJobRecord applies rollup or narrative updates to an existing parent
// job record. Status and End Time are reserved for CompleteJobRecord.
func (r *Repository) UpdateJobRecord(ctx context.Context, p UpdateJobParams) (*Result, error) {
	base, ok := runid.ToBase(p.RunID)
	if !ok {
		return nil, eris.Wrap(ErrInvalidRunID, p.RunID)
	}
	if p.Options.Standalone {
		return standaloneResult(), nil
	}

	existing, err := r.findJob(ctx, base)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, eris.Wrap(ErrRecordNotFound, fmt.Sprintf("job %s", base))
	}

	updates := make(map[string]any, len(p.Updates)+1)
	for k, v := range p.Updates {
		if k == FieldStatus || k == FieldEnd {
			continue
		}
		updates[k] = v
	}
	if p.Note != "" {
		updates[FieldNotes] = appendNote(existing.Str(FieldNotes), p.Options.Source, r.now(), p.Note)
	}
	if len(updates) == 0 {
		return &Result{Success: true, Record: existing}, nil
	}

	rec, err := r.store.Update(ctx, JobsTable, existing.ID, updates)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("tracking: update job %s", base))
	}
	return &Result{Success: true, Record: rec}, nil
}

// CompleteJobParams names the inputs for CompleteJobRecord.
type CompleteJobParams struct {
	RunID   string
	Status  Status
	Note    string
	Options Options
}

// CompleteJobRecord transitions the parent job record to a terminal status,
// exactly once.
func (r *Repository) CompleteJobRecord(ctx context.Context, p CompleteJobParams) (*Result, error) {
	base, ok := runid.ToBase(p.RunID)
	if !ok {
		return nil, eris.Wrap(ErrInvalidRunID, p.RunID)
	}
	if !p.Status.Terminal() {
		return nil, fmt.Errorf("tracking: %q is not a terminal status", p.Status)
	}
	if p.Options.Standalone {
		return standaloneResult(), nil
	}

	existing, err := r.findJob(ctx, base)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, eris.Wrap(ErrRecordNotFound, fmt.Sprintf("job %s", base))
	}

	if current, parseErr := ParseStatus(existing.Str(FieldStatus)); parseErr == nil && current.Terminal() {
		return &Result{
			Success: false,
			Skipped: true,
			Reason:  ReasonTerminal,
			Record:  existing,
		}, eris.Wrap(ErrAlreadyTerminal, fmt.Sprintf("job %s is %s", base, current))
	}

	updates := map[string]any{
		FieldStatus: string(p.Status),
		FieldEnd:    r.now().Format(time.RFC3339),
	}
	if p.Note != "" {
		updates[FieldNotes] = appendNote(existing.Str(FieldNotes), p.Options.Source, r.now(), p.Note)
	}

	rec, err := r.store.Update(ctx, JobsTable, existing.ID, updates)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("tracking: complete job %s", base))
	}
	return &Result{Success: true, Record: rec}, nil
}

// CheckExists reports whether a tracking record exists for the given run ID.
// Per-client IDs are checked against the client-run table, base IDs against
// the job table. Matching tries the exact form, the standardised form, and
// finally the date prefix. Any store error reads as "does not exist".
func (r *Repository) CheckExists(ctx context.Context, id string) bool {
	shape, parts := runid.Detect(id)
	if shape == runid.ShapeNone {
		return false
	}

	table := JobsTable
	exact := parts.Base
	if parts.ClientID != "" {
		table = ClientRunsTable
		exact = parts.Base + "-" + parts.ClientID
	}

	// Exact form.
	if rec, err := r.store.FindOne(ctx, table, airtable.Equals(FieldRunID, exact)); err == nil && rec != nil {
		r.cache.Put(exact, rec.ID)
		return true
	}

	// Standardised form (raw input as given, trimmed).
	if raw := strings.TrimSpace(id); raw != exact {
		if rec, err := r.store.FindOne(ctx, table, airtable.Equals(FieldRunID, raw)); err == nil && rec != nil {
			return true
		}
	}

	// Date-prefix match.
	rec, err := r.store.FindOne(ctx, table, airtable.HasPrefix(FieldRunID, runid.DatePrefix(parts.Base)))
	return err == nil && rec != nil
}

// ListClientRuns returns every client run record for a base run ID.
func (r *Repository) ListClientRuns(ctx context.Context, baseRunID string) ([]airtable.Record, error) {
	base, ok := runid.ToBase(baseRunID)
	if !ok {
		return nil, eris.Wrap(ErrInvalidRunID, baseRunID)
	}
	records, err := r.store.List(ctx, ClientRunsTable, airtable.HasPrefix(FieldRunID, base+"-"), 0)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("tracking: list client runs for %s", base))
	}
	return records, nil
}

// GetJob returns the parent record for a base run ID, or nil when missing.
func (r *Repository) GetJob(ctx context.Context, baseRunID string) (*airtable.Record, error) {
	base, ok := runid.ToBase(baseRunID)
	if !ok {
		return nil, eris.Wrap(ErrInvalidRunID, baseRunID)
	}
	return r.findJob(ctx, base)
}

// ListJobs returns the most recent parent job records.
func (r *Repository) ListJobs(ctx context.Context, limit int) ([]airtable.Record, error) {
	records, err := r.store.List(ctx, JobsTable, "", limit)
	if err != nil {
		return nil, eris.Wrap(err, "tracking: list jobs")
	}
	return records, nil
}

func (r *Repository) findClientRun(ctx context.Context, perClient string) (*airtable.Record, error) {
	return r.findByRunID(ctx, ClientRunsTable, perClient)
}

func (r *Repository) findJob(ctx context.Context, base string) (*airtable.Record, error) {
	return r.findByRunID(ctx, JobsTable, base)
}

func (r *Repository) findByRunID(ctx context.Context, table airtable.Table, id string) (*airtable.Record, error) {
	if handle, ok := r.cache.Get(id); ok {
		rec, err := r.store.Get(ctx, table, handle)
		if err == nil && rec != nil {
			return rec, nil
		}
		// Stale or failing handle: drop it and fall through to the lookup.
		r.cache.Remove(id)
	}

	rec, err := r.store.FindOne(ctx, table, airtable.Equals(FieldRunID, id))
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("tracking: find %s in %s", id, table.Name))
	}
	if rec != nil {
		r.cache.Put(id, rec.ID)
	}
	return rec, nil
}

// resolveClientRunID normalises (runID, clientID) into the per-client form.
// The run ID may arrive in base or per-client form; a per-client form must
// agree with the supplied client ID.
func resolveClientRunID(id, clientID string) (perClient, base string, err error) {
	shape, parts := runid.Detect(id)
	switch shape {
	case runid.ShapeBase:
		if clientID == "" {
			return "", "", eris.Wrap(ErrInvalidRunID, "client ID required with a base run ID")
		}
		pc, wErr := runid.WithClient(parts.Base, clientID)
		if wErr != nil {
			return "", "", eris.Wrap(ErrInvalidRunID, wErr.Error())
		}
		return pc, parts.Base, nil
	case runid.ShapePerClient, runid.ShapeActorTag:
		if parts.ClientID == "" {
			return "", "", eris.Wrap(ErrInvalidRunID, fmt.Sprintf("%s carries no client", id))
		}
		if clientID != "" && runid.SanitizeClientID(clientID) != parts.ClientID {
			return "", "", eris.Wrap(ErrInvalidRunID,
				fmt.Sprintf("run ID client %q does not match %q", parts.ClientID, clientID))
		}
		return parts.Base + "-" + parts.ClientID, parts.Base, nil
	default:
		return "", "", eris.Wrap(ErrInvalidRunID, id)
	}
}

func standaloneResult() *Result {
	return &Result{Success: true, Skipped: true, Reason: ReasonStandalone}
}

// appendNote appends one timestamped narrative line to the existing System
// Notes, keeping them append-only.
func appendNote(existing, source string, at time.Time, line string) string {
	entry := fmt.Sprintf("[%s %s] %s", at.Format(time.RFC3339), source, line)
	if source == "" {
		entry = fmt.Sprintf("[%s] %s", at.Format(time.RFC3339), line)
	}
	if existing == "" {
		return entry
	}
	return existing + "\n" + entry
}
