package tracking

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/outreachly/lead-engine/pkg/airtable"
)

// MetricKind declares how a metric value is typed and checked.
type MetricKind int

const (
	KindCount MetricKind = iota // non-negative integer
	KindInstant
	KindStatus
	KindMoney // non-negative decimal
)

// AggRule declares how a metric rolls up across client records.
type AggRule int

const (
	AggSum AggRule = iota
	AggMin
	AggMax
	AggLast
)

// MetricDecl declares one metric's kind, rollup rule, and default.
type MetricDecl struct {
	Kind    MetricKind
	Agg     AggRule
	Default any
}

// Schema maps field names to their metric declarations. It covers every
// numeric and lifecycle field a stage or the aggregator may touch.
var Schema = map[string]MetricDecl{
	FieldProfilesExamined:  {Kind: KindCount, Agg: AggSum, Default: 0},
	FieldProfilesScored:    {Kind: KindCount, Agg: AggSum, Default: 0},
	FieldPostsHarvested:    {Kind: KindCount, Agg: AggSum, Default: 0},
	FieldProfilesSubmitted: {Kind: KindCount, Agg: AggSum, Default: 0},
	FieldPostsExamined:     {Kind: KindCount, Agg: AggSum, Default: 0},
	FieldPostsScored:       {Kind: KindCount, Agg: AggSum, Default: 0},
	FieldProfileTokens:     {Kind: KindCount, Agg: AggSum, Default: 0},
	FieldPostTokens:        {Kind: KindCount, Agg: AggSum, Default: 0},
	FieldScoringErrors:     {Kind: KindCount, Agg: AggSum, Default: 0},
	FieldEstimatedCost:     {Kind: KindMoney, Agg: AggSum, Default: 0.0},
	FieldStart:             {Kind: KindInstant, Agg: AggMin},
	FieldEnd:               {Kind: KindInstant, Agg: AggMax},
	FieldStatus:            {Kind: KindStatus, Agg: AggLast, Default: string(StatusUnknown)},
}

// InvalidMetric records one rejected input value and what replaced it.
type InvalidMetric struct {
	Field    string
	Value    any
	Replaced any
}

// ValidateMetrics normalises a metric update map against the Schema. Values
// that coerce cleanly (numeric strings, floats with no fraction) are kept;
// anything else falls back to the declared default and is reported. Fields
// without a schema entry pass through untouched (the table whitelist is the
// authority on whether they may be written at all).
func ValidateMetrics(updates map[string]any) (map[string]any, []InvalidMetric) {
	clean := make(map[string]any, len(updates))
	var invalid []InvalidMetric

	for field, value := range updates {
		decl, ok := Schema[field]
		if !ok {
			clean[field] = value
			continue
		}

		v, ok := coerce(decl, value)
		if !ok {
			invalid = append(invalid, InvalidMetric{Field: field, Value: value, Replaced: decl.Default})
			if decl.Default != nil {
				clean[field] = decl.Default
			}
			continue
		}
		clean[field] = v
	}

	return clean, invalid
}

func coerce(decl MetricDecl, value any) (any, bool) {
	switch decl.Kind {
	case KindCount:
		n, ok := toInt(value)
		if !ok || n < 0 {
			return nil, false
		}
		return n, true
	case KindMoney:
		f, ok := toFloat(value)
		if !ok || f < 0 {
			return nil, false
		}
		return f, true
	case KindInstant:
		t, ok := toTime(value)
		if !ok {
			return nil, false
		}
		return t.UTC().Format(time.RFC3339), true
	case KindStatus:
		s, ok := value.(string)
		if !ok {
			return nil, false
		}
		status, err := ParseStatus(s)
		if err != nil {
			return nil, false
		}
		return string(status), true
	default:
		return value, true
	}
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000Z07:00", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// Aggregate rolls a set of client run records for one base run ID up into a
// parent update map by each metric's declared rule, plus the derived client
// counts. Empty input yields an empty map.
func Aggregate(records []airtable.Record) map[string]any {
	if len(records) == 0 {
		return map[string]any{}
	}

	rollup := make(map[string]any)
	sums := make(map[string]int)
	var minStart, maxEnd string
	failed := 0

	for _, rec := range records {
		for field, decl := range Schema {
			raw, present := rec.Fields[field]
			if !present {
				continue
			}
			switch decl.Agg {
			case AggSum:
				// Only fields the parent table persists roll up; cost and
				// per-stage bookkeeping stay on the client records.
				if decl.Kind == KindMoney || !JobsTable.Allows(field) {
					continue
				}
				if n, ok := toInt(raw); ok {
					sums[field] += n
				}
			case AggMin:
				if t, ok := toTime(raw); ok {
					s := t.UTC().Format(time.RFC3339)
					if minStart == "" || s < minStart {
						minStart = s
					}
				}
			case AggMax:
				if t, ok := toTime(raw); ok {
					s := t.UTC().Format(time.RFC3339)
					if s > maxEnd {
						maxEnd = s
					}
				}
			}
		}

		if status, err := ParseStatus(rec.Str(FieldStatus)); err == nil && status == StatusFailed {
			failed++
		}
	}

	for field, n := range sums {
		rollup[field] = n
	}
	if minStart != "" {
		rollup[FieldStart] = minStart
	}
	if maxEnd != "" {
		rollup[FieldEnd] = maxEnd
	}
	rollup[FieldClientsProcessed] = len(records)
	rollup[FieldClientsWithErrors] = failed

	return rollup
}

// FormatInvalid renders an invalid-metrics report for System Notes.
func FormatInvalid(invalid []InvalidMetric) string {
	if len(invalid) == 0 {
		return ""
	}
	parts := make([]string, 0, len(invalid))
	for _, im := range invalid {
		parts = append(parts, fmt.Sprintf("%s=%v", im.Field, im.Value))
	}
	return "invalid metrics replaced with defaults: " + strings.Join(parts, ", ")
}
