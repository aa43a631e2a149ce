// Package gemini scores harvested lead profiles and posts with a Gemini
// model. Scoring is best-effort: a profile the model skips or returns
// malformed output for counts as examined but not scored.
package gemini

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"
)

// Profile is one lead profile submitted for scoring.
type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Headline string `json:"headline,omitempty"`
	About    string `json:"about,omitempty"`
}

// Post is one harvested post submitted for scoring.
type Post struct {
	ID   string `json:"id"`
	URL  string `json:"url,omitempty"`
	Text string `json:"text"`
}

// Score is the model's verdict on one item.
type Score struct {
	ID     string  `json:"id"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

// Result summarizes one scoring call.
type Result struct {
	Examined     int
	Scored       int
	Scores       []Score
	InputTokens  int
	OutputTokens int
}

// Scorer scores profiles and posts against a client's criteria.
type Scorer interface {
	ScoreProfiles(ctx context.Context, criteria string, profiles []Profile) (*Result, error)
	ScorePosts(ctx context.Context, criteria string, posts []Post) (*Result, error)
}

// Option configures the scorer.
type Option func(*scorer)

// WithTimeout bounds each scoring call.
func WithTimeout(d time.Duration) Option {
	return func(s *scorer) { s.timeout = d }
}

// WithThreshold sets the minimum score (0-100) that counts an item as
// scored. Default 50.
func WithThreshold(min float64) Option {
	return func(s *scorer) { s.threshold = min }
}

type scorer struct {
	client    *genai.Client
	model     string
	timeout   time.Duration
	threshold float64
}

// NewScorer creates a Scorer backed by the Gemini API.
func NewScorer(ctx context.Context, apiKey, model string, opts ...Option) (Scorer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}

	s := &scorer{
		client:    client,
		model:     model,
		timeout:   2 * time.Minute,
		threshold: 50,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

const profileInstruction = `You are a lead qualification analyst. Score each
profile from 0 to 100 for fit against the criteria. Respond with a JSON array
of {"id", "score", "reason"} objects, one per profile, nothing else.`

const postInstruction = `You are a social engagement analyst. Score each post
from 0 to 100 for buying-signal relevance against the criteria. Respond with
a JSON array of {"id", "score", "reason"} objects, one per post, nothing else.`

func (s *scorer) ScoreProfiles(ctx context.Context, criteria string, profiles []Profile) (*Result, error) {
	if len(profiles) == 0 {
		return &Result{}, nil
	}
	payload, err := json.Marshal(profiles)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: marshal profiles")
	}
	return s.score(ctx, profileInstruction, criteria, string(payload), len(profiles))
}

func (s *scorer) ScorePosts(ctx context.Context, criteria string, posts []Post) (*Result, error) {
	if len(posts) == 0 {
		return &Result{}, nil
	}
	payload, err := json.Marshal(posts)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: marshal posts")
	}
	return s.score(ctx, postInstruction, criteria, string(payload), len(posts))
}

func (s *scorer) score(ctx context.Context, instruction, criteria, payload string, examined int) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(0.2)),
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
	}

	prompt := "Criteria:\n" + criteria + "\n\nItems:\n" + payload
	resp, err := s.client.Models.GenerateContent(ctx, s.model, []*genai.Content{
		{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{genai.NewPartFromText(prompt)},
		},
	}, config)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: generate content")
	}

	result := &Result{Examined: examined}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
		if text.Len() > 0 {
			break
		}
	}

	scores, err := parseScores(text.String())
	if err != nil {
		return nil, err
	}
	result.Scores = scores
	for _, sc := range scores {
		if sc.Score >= s.threshold {
			result.Scored++
		}
	}
	return result, nil
}

// parseScores decodes the model's JSON array, tolerating markdown fences.
func parseScores(text string) ([]Score, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, eris.New("gemini: empty response")
	}

	var scores []Score
	if err := json.Unmarshal([]byte(text), &scores); err != nil {
		return nil, eris.Wrap(err, "gemini: decode scores")
	}
	return scores, nil
}
