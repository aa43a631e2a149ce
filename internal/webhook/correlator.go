// Package webhook correlates inbound scraping-actor callbacks with the
// client run they were dispatched for, and applies the actor's result to the
// tracking record. Every callback is receipted, including rejected ones.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/outreachly/lead-engine/internal/store"
	"github.com/outreachly/lead-engine/internal/tracking"
	"github.com/outreachly/lead-engine/pkg/actor"
)

// ErrUnmappedActorRun is returned for callbacks whose actor run ID has no
// dispatch mapping. Such callbacks are acknowledged and logged, never
// retried.
var ErrUnmappedActorRun = errors.New("webhook: unmapped actor run")

// Outcome summarizes how one callback was handled.
type Outcome struct {
	ReceiptID  string
	ActorRunID string
	RunID      string
	ClientID   string
	Status     string
	Result     string // store.Outcome* value
}

// Payload is the decoded callback body. The platform has shipped three
// shapes over time; all three are accepted.
type Payload struct {
	ActorRunID string
	Status     string
	DatasetID  string
}

type rawPayload struct {
	Resource *struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"resource"`
	RunID     string `json:"runId"`
	ID        string `json:"id"`
	Status    string `json:"status"`
	DatasetID string `json:"datasetId"`
}

// ParsePayload decodes a callback body, accepting the {resource:{id}},
// {runId} and {id} shapes.
func ParsePayload(body []byte) (*Payload, error) {
	var raw rawPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, eris.Wrap(err, "webhook: decode payload")
	}

	p := &Payload{Status: raw.Status, DatasetID: raw.DatasetID}
	switch {
	case raw.Resource != nil && raw.Resource.ID != "":
		p.ActorRunID = raw.Resource.ID
		if raw.Resource.Status != "" {
			p.Status = raw.Resource.Status
		}
		if raw.Resource.DefaultDatasetID != "" {
			p.DatasetID = raw.Resource.DefaultDatasetID
		}
	case raw.RunID != "":
		p.ActorRunID = raw.RunID
	case raw.ID != "":
		p.ActorRunID = raw.ID
	default:
		return nil, eris.New("webhook: payload carries no actor run ID")
	}
	return p, nil
}

// Correlator resolves actor callbacks to client runs.
type Correlator struct {
	repo     *tracking.Repository
	mappings store.Store
	logger   *zap.Logger
	now      func() time.Time
}

// NewCorrelator creates a Correlator.
func NewCorrelator(repo *tracking.Repository, mappings store.Store, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.L()
	}
	return &Correlator{
		repo:     repo,
		mappings: mappings,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle applies one callback. Unmapped runs return ErrUnmappedActorRun;
// callbacks arriving after the mapping already reached a terminal actor
// status are no-ops. Both cases still produce a receipt.
func (c *Correlator) Handle(ctx context.Context, p *Payload) (*Outcome, error) {
	out := &Outcome{
		ReceiptID:  uuid.NewString(),
		ActorRunID: p.ActorRunID,
		Status:     p.Status,
	}

	mapping, err := c.mappings.GetMapping(ctx, p.ActorRunID)
	if err != nil {
		return nil, eris.Wrap(err, "webhook: mapping lookup")
	}
	if mapping == nil {
		out.Result = store.OutcomeUnmapped
		c.receipt(ctx, out)
		c.logger.Warn("webhook: no mapping for actor run",
			zap.String("actor_run_id", p.ActorRunID),
			zap.String("status", p.Status),
		)
		return out, eris.Wrap(ErrUnmappedActorRun, p.ActorRunID)
	}

	out.RunID = mapping.RunID
	out.ClientID = mapping.ClientID

	if actor.TerminalStatus(mapping.Status) {
		out.Result = store.OutcomeAlreadyTerminal
		c.receipt(ctx, out)
		c.logger.Info("webhook: duplicate callback after terminal status",
			zap.String("actor_run_id", p.ActorRunID),
			zap.String("run_id", mapping.RunID),
		)
		return out, nil
	}

	if err := c.mappings.UpdateMapping(ctx, p.ActorRunID, p.Status, p.DatasetID); err != nil {
		return nil, eris.Wrap(err, "webhook: update mapping")
	}

	note := fmt.Sprintf("Actor run %s reported %s", p.ActorRunID, p.Status)
	_, err = c.repo.UpdateClientRun(ctx, tracking.UpdateClientRunParams{
		RunID:    mapping.RunID,
		ClientID: mapping.ClientID,
		Updates:  map[string]any{tracking.FieldActorRunID: p.ActorRunID},
		Note:     note,
		Options:  tracking.Options{Logger: c.logger, Source: "webhook"},
	})
	if err != nil {
		if errors.Is(err, tracking.ErrRecordNotFound) {
			out.Result = store.OutcomeUnmapped
			c.receipt(ctx, out)
			c.logger.Warn("webhook: no tracking record for mapped run",
				zap.String("actor_run_id", p.ActorRunID),
				zap.String("run_id", mapping.RunID),
			)
			return out, eris.Wrap(ErrUnmappedActorRun, p.ActorRunID)
		}
		return nil, err
	}

	out.Result = store.OutcomeApplied
	c.receipt(ctx, out)
	c.logger.Info("webhook: callback applied",
		zap.String("actor_run_id", p.ActorRunID),
		zap.String("run_id", mapping.RunID),
		zap.String("status", p.Status),
	)
	return out, nil
}

func (c *Correlator) receipt(ctx context.Context, out *Outcome) {
	err := c.mappings.RecordReceipt(ctx, store.WebhookReceipt{
		ID:         out.ReceiptID,
		ActorRunID: out.ActorRunID,
		Status:     out.Status,
		Outcome:    out.Result,
		ReceivedAt: c.now(),
	})
	if err != nil {
		c.logger.Warn("webhook: receipt write failed", zap.Error(err))
	}
}
