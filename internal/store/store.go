// Package store persists the actor-run mappings that correlate external
// scraper callbacks with internal client runs, plus an audit log of webhook
// receipts. Two drivers are provided: SQLite for local use and Postgres for
// deployed processes.
package store

import (
	"context"
	"time"
)

// ActorRunMapping pairs an actor-supplied run ID with the internal
// per-client run it was dispatched for. Created at dispatch, updated when
// the actor reports back.
type ActorRunMapping struct {
	ActorRunID   string    `json:"actor_run_id"`
	RunID        string    `json:"run_id"` // per-client form
	ClientID     string    `json:"client_id"`
	Status       string    `json:"status"`
	DatasetID    string    `json:"dataset_id,omitempty"`
	DispatchedAt time.Time `json:"dispatched_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// WebhookReceipt records one inbound actor callback, including rejected
// ones, for audit.
type WebhookReceipt struct {
	ID         string    `json:"id"`
	ActorRunID string    `json:"actor_run_id"`
	Status     string    `json:"status"`
	Outcome    string    `json:"outcome"` // applied, unmapped, already_terminal
	ReceivedAt time.Time `json:"received_at"`
}

// Receipt outcomes.
const (
	OutcomeApplied         = "applied"
	OutcomeUnmapped        = "unmapped"
	OutcomeAlreadyTerminal = "already_terminal"
)

// Store defines the persistence interface for actor-run correlation.
// GetMapping returns (nil, nil) when no mapping exists.
type Store interface {
	SaveMapping(ctx context.Context, m ActorRunMapping) error
	GetMapping(ctx context.Context, actorRunID string) (*ActorRunMapping, error)
	UpdateMapping(ctx context.Context, actorRunID, status, datasetID string) error
	DeleteStaleMappings(ctx context.Context, olderThan time.Duration) (int, error)

	RecordReceipt(ctx context.Context, r WebhookReceipt) error
	ListReceipts(ctx context.Context, limit int) ([]WebhookReceipt, error)

	Migrate(ctx context.Context) error
	Close() error
}
