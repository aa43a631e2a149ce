package tracking

import "github.com/outreachly/lead-engine/pkg/airtable"

// Field names for the two tracking tables. The whitelists below are the only
// fields the gateway will let a write touch, so a typo here or at a call
// site surfaces before any request is made.
const (
	FieldRunID    = "Run ID"
	FieldClientID = "Client ID"
	FieldClient   = "Client Name"
	FieldStream   = "Stream"
	FieldStart    = "Start Time"
	FieldEnd      = "End Time"
	FieldStatus   = "Status"
	FieldNotes    = "System Notes"

	FieldProfilesExamined  = "Profiles Examined for Scoring"
	FieldProfilesScored    = "Profiles Successfully Scored"
	FieldPostsHarvested    = "Total Posts Harvested"
	FieldProfilesSubmitted = "Profiles Submitted for Post Harvesting"
	FieldPostsExamined     = "Posts Examined for Scoring"
	FieldPostsScored       = "Posts Successfully Scored"
	FieldProfileTokens     = "Profile Scoring Tokens"
	FieldPostTokens        = "Post Scoring Tokens"
	FieldScoringErrors     = "Profile Scoring Errors"
	FieldActorRunID        = "Apify Run ID"
	FieldEstimatedCost     = "Estimated Cost"

	FieldClientsProcessed  = "Clients Processed"
	FieldClientsWithErrors = "Clients With Errors"
)

// JobsTable is the parent job-tracking table.
var JobsTable = airtable.Table{
	Name: "Job Tracking",
	Fields: map[string]struct{}{
		FieldRunID:             {},
		FieldStream:            {},
		FieldStart:             {},
		FieldEnd:               {},
		FieldStatus:            {},
		FieldNotes:             {},
		FieldClientsProcessed:  {},
		FieldClientsWithErrors: {},
		FieldProfilesExamined:  {},
		FieldProfilesScored:    {},
		FieldPostsHarvested:    {},
		FieldPostsExamined:     {},
		FieldPostsScored:       {},
		FieldProfileTokens:     {},
		FieldPostTokens:        {},
	},
}

// ClientRunsTable is the per-client run-tracking table.
var ClientRunsTable = airtable.Table{
	Name: "Client Run Tracking",
	Fields: map[string]struct{}{
		FieldRunID:             {},
		FieldClientID:          {},
		FieldClient:            {},
		FieldStart:             {},
		FieldEnd:               {},
		FieldStatus:            {},
		FieldNotes:             {},
		FieldProfilesExamined:  {},
		FieldProfilesScored:    {},
		FieldPostsHarvested:    {},
		FieldProfilesSubmitted: {},
		FieldPostsExamined:     {},
		FieldPostsScored:       {},
		FieldProfileTokens:     {},
		FieldPostTokens:        {},
		FieldScoringErrors:     {},
		FieldActorRunID:        {},
		FieldEstimatedCost:     {},
	},
}

// Stage field subsets. Each reporter may touch only its own slice of the
// client-run whitelist; everything else belongs to the orchestrator.
var (
	leadScoringFields = []string{
		FieldProfilesExamined,
		FieldProfilesScored,
		FieldProfileTokens,
		FieldScoringErrors,
	}
	postHarvestFields = []string{
		FieldPostsHarvested,
		FieldProfilesSubmitted,
		FieldEstimatedCost,
		FieldActorRunID,
	}
	postScoringFields = []string{
		FieldPostsExamined,
		FieldPostsScored,
		FieldPostTokens,
	}
)
