package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/outreachly/lead-engine/internal/store"
	"github.com/outreachly/lead-engine/internal/tracking"
	"github.com/outreachly/lead-engine/pkg/airtable"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Job metrics (within lookback window).
	JobsTotal     int     `json:"jobs_total"`
	JobsCompleted int     `json:"jobs_completed"`
	JobsFailed    int     `json:"jobs_failed"`
	JobsNoLeads   int     `json:"jobs_no_leads"`
	JobsRunning   int     `json:"jobs_running"`
	JobFailRate   float64 `json:"job_fail_rate"`
	TotalTokens   int     `json:"total_tokens"`
	TotalPosts    int     `json:"total_posts"`

	// Webhook receipt outcomes (within lookback window).
	WebhooksApplied  int `json:"webhooks_applied"`
	WebhooksUnmapped int `json:"webhooks_unmapped"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobLister abstracts the repository read the collector needs.
type JobLister interface {
	ListJobs(ctx context.Context, limit int) ([]airtable.Record, error)
}

// ReceiptLister abstracts the receipt read. May be nil when no mapping
// store is configured.
type ReceiptLister interface {
	ListReceipts(ctx context.Context, limit int) ([]store.WebhookReceipt, error)
}

// Collector gathers metrics from the tracking tables and the receipt log.
type Collector struct {
	jobs     JobLister
	receipts ReceiptLister
	now      func() time.Time
}

// NewCollector creates a metrics collector.
func NewCollector(jobs JobLister, receipts ReceiptLister) *Collector {
	return &Collector{jobs: jobs, receipts: receipts, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot of pipeline metrics over the given lookback
// window. Jobs whose Start timestamp cannot be parsed are counted anyway.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   c.now(),
	}

	cutoff := c.now().Add(-time.Duration(lookbackHours) * time.Hour)

	jobs, err := c.jobs.ListJobs(ctx, 0)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	for i := range jobs {
		j := &jobs[i]
		if started, err := time.Parse(time.RFC3339, j.Str(tracking.FieldStart)); err == nil && started.Before(cutoff) {
			continue
		}
		snap.JobsTotal++
		switch tracking.Status(j.Str(tracking.FieldStatus)) {
		case tracking.StatusCompleted:
			snap.JobsCompleted++
		case tracking.StatusFailed:
			snap.JobsFailed++
		case tracking.StatusNoLeadsToScore:
			snap.JobsNoLeads++
		case tracking.StatusRunning:
			snap.JobsRunning++
		}
		snap.TotalTokens += j.Int(tracking.FieldProfileTokens) + j.Int(tracking.FieldPostTokens)
		snap.TotalPosts += j.Int(tracking.FieldPostsHarvested)
	}

	finished := snap.JobsCompleted + snap.JobsFailed
	if finished > 0 {
		snap.JobFailRate = float64(snap.JobsFailed) / float64(finished)
	}

	if c.receipts != nil {
		receipts, err := c.receipts.ListReceipts(ctx, 0)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list receipts")
		}
		for _, r := range receipts {
			if r.ReceivedAt.Before(cutoff) {
				continue
			}
			switch r.Outcome {
			case store.OutcomeApplied:
				snap.WebhooksApplied++
			case store.OutcomeUnmapped:
				snap.WebhooksUnmapped++
			}
		}
	}

	return snap, nil
}
