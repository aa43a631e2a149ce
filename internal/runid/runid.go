// Package runid generates, parses, and normalises the run identifiers that
// key every tracking record: the base form (YYMMDD-HHMMSS), the per-client
// form (base plus a client slug), and the tagged form embedded in actor
// process names.
package runid

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Shape identifies which of the recognised run-ID forms an input matched.
type Shape int

const (
	ShapeNone Shape = iota
	ShapeBase
	ShapePerClient
	ShapeActorTag
)

func (s Shape) String() string {
	switch s {
	case ShapeBase:
		return "base"
	case ShapePerClient:
		return "per_client"
	case ShapeActorTag:
		return "actor_tag"
	default:
		return "none"
	}
}

// Parts holds the components recovered from a recognised run ID.
type Parts struct {
	Base     string
	ClientID string
	Tag      string
}

const baseLayout = "060102-150405"

var (
	basePattern      = regexp.MustCompile(`^(\d{6}-\d{6})$`)
	perClientPattern = regexp.MustCompile(`^(\d{6}-\d{6})-([A-Za-z0-9][A-Za-z0-9-]*)$`)
	actorTagPattern  = regexp.MustCompile(`^([a-z][a-z0-9-]*)_(\d{6}-\d{6})(?:-([A-Za-z0-9][A-Za-z0-9-]*))?$`)
)

// Generator produces base run IDs at one-second resolution. Two calls inside
// the same second advance the stamp by one second so every generated base is
// unique and strictly increasing within a process.
type Generator struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewGenerator returns a Generator using wall-clock UTC time.
func NewGenerator() *Generator {
	return &Generator{now: func() time.Time { return time.Now().UTC() }}
}

// NewGeneratorAt returns a Generator with an injected clock, for tests.
func NewGeneratorAt(now func() time.Time) *Generator {
	return &Generator{now: now}
}

// Generate returns a new base run ID.
func (g *Generator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := g.now().Truncate(time.Second)
	if !t.After(g.last) {
		t = g.last.Add(time.Second)
	}
	g.last = t
	return t.Format(baseLayout)
}

// Detect classifies s as one of the recognised shapes. It is pure and never
// errors; unrecognised input reports ShapeNone.
func Detect(s string) (Shape, Parts) {
	s = strings.TrimSpace(s)
	if m := basePattern.FindStringSubmatch(s); m != nil {
		if validStamp(m[1]) {
			return ShapeBase, Parts{Base: m[1]}
		}
		return ShapeNone, Parts{}
	}
	if m := perClientPattern.FindStringSubmatch(s); m != nil {
		if validStamp(m[1]) {
			return ShapePerClient, Parts{Base: m[1], ClientID: m[2]}
		}
		return ShapeNone, Parts{}
	}
	if m := actorTagPattern.FindStringSubmatch(s); m != nil {
		if validStamp(m[2]) {
			return ShapeActorTag, Parts{Tag: m[1], Base: m[2], ClientID: m[3]}
		}
	}
	return ShapeNone, Parts{}
}

// ToBase recovers the canonical base form from any recognised shape.
func ToBase(s string) (string, bool) {
	shape, parts := Detect(s)
	if shape == ShapeNone {
		return "", false
	}
	return parts.Base, true
}

// WithClient appends a client slug to a canonical base. It rejects input
// that is not in base form, including per-client IDs (no double suffixing).
func WithClient(base, clientID string) (string, error) {
	if shape, _ := Detect(base); shape != ShapeBase {
		return "", fmt.Errorf("runid: %q is not a canonical base run ID", base)
	}
	slug := SanitizeClientID(clientID)
	if slug == "" {
		return "", fmt.Errorf("runid: client ID %q reduces to an empty slug", clientID)
	}
	return base + "-" + slug, nil
}

// ClientOf extracts the client slug from a recognised run ID, if present.
func ClientOf(s string) (string, bool) {
	shape, parts := Detect(s)
	if shape == ShapeNone || parts.ClientID == "" {
		return "", false
	}
	return parts.ClientID, true
}

// Parse returns the timestamp encoded in a base run ID.
func Parse(base string) (time.Time, error) {
	t, err := time.Parse(baseLayout, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("runid: parse %q: %w", base, err)
	}
	return t, nil
}

// Format renders a timestamp as a base run ID.
func Format(t time.Time) string {
	return t.UTC().Format(baseLayout)
}

// DatePrefix returns the YYMMDD prefix of a base run ID.
func DatePrefix(base string) string {
	if len(base) < 6 {
		return base
	}
	return base[:6]
}

var slugStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// SanitizeClientID folds a tenant display name into a run-ID-safe slug:
// diacritics stripped, spaces collapsed to single hyphens, anything outside
// [A-Za-z0-9-] dropped.
func SanitizeClientID(name string) string {
	folded, _, err := transform.String(slugStripper, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	lastHyphen := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r == ' ' || r == '-' || r == '_':
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func validStamp(s string) bool {
	_, err := time.Parse(baseLayout, s)
	return err == nil
}
