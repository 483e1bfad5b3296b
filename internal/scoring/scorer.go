// Package scoring holds the engagement scorer, the error taxonomy, and
// the sequential run orchestrator.
package scoring

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/apexsales/leadscore/internal/config"
	"github.com/apexsales/leadscore/internal/model"
	"github.com/apexsales/leadscore/pkg/anthropic"
)

// Result is the outcome of scoring one lead profile.
type Result struct {
	Score  int
	Reason string
}

// Scorer scores a single lead's extracted text profile. Implementations
// must return an error only for transport-level failures; a malformed
// model response degrades to the neutral fallback instead.
type Scorer interface {
	Score(ctx context.Context, profile string) (Result, error)
}

const systemPrompt = "You are a sales lead scoring expert. Always respond with SCORE: [number] and REASON: [explanation] format."

const promptTemplate = `You are an expert sales lead scorer. Analyze the following lead's COMMUNICATION ACTIVITY (messages, calls, notes) and provide a score from 1-10 based on engagement quality and likelihood to convert.

Scoring criteria based on COMMUNICATION ACTIVITY:
- 1-3: No activity, or very limited/negative engagement
- 4-5: Some activity present (calls, messages, notes showing basic interest)
- 6-7: Good engagement (multiple touchpoints, responsive, asking questions, notes show interest)
- 8-9: Strong engagement (frequent communication, detailed discussions, budget/timeline mentions in notes)
- 10: Excellent (high volume of positive interactions, notes indicate ready to buy, decision-maker involved)

Analyze these communication indicators:
- Call activity: incoming/outgoing calls show engagement level
- Message activity: incoming/outgoing messages indicate interest
- Notes content: look for keywords like "interested", "budget", "timeline", "will call back", "scheduled", "confirmed"
- Communication frequency: more touchpoints = higher engagement
- Responsiveness: quick responses or callbacks show interest

If very limited communication data, score based on:
- Has contact info + some activity: score 4-5
- Has contact info only: score 3
- No contact info or communication: score 2

Lead Data:
%s

Provide your response in this exact format:
SCORE: [number from 1-10]
REASON: [brief explanation based on communication activity analysis]`

var (
	scoreRe  = regexp.MustCompile(`SCORE:\s*(\d+)`)
	reasonRe = regexp.MustCompile(`REASON:\s*(.+)`)
)

// EngagementScorer scores lead profiles via the Anthropic message API.
type EngagementScorer struct {
	client anthropic.Client
	cfg    config.AnthropicConfig
}

// NewEngagementScorer creates a Scorer backed by the given client.
func NewEngagementScorer(client anthropic.Client, cfg config.AnthropicConfig) *EngagementScorer {
	return &EngagementScorer{client: client, cfg: cfg}
}

// Score issues one model call for the profile. Transport errors are
// returned for the orchestrator to classify; an unparseable response is
// the neutral fallback, not an error.
func (s *EngagementScorer) Score(ctx context.Context, profile string) (Result, error) {
	temp := s.cfg.Temperature
	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       s.cfg.Model,
		MaxTokens:   int64(s.cfg.MaxTokens),
		System:      systemPrompt,
		Temperature: &temp,
		Messages: []anthropic.Message{
			{Role: "user", Content: strings.Replace(promptTemplate, "%s", profile, 1)},
		},
	})
	if err != nil {
		return Result{}, eris.Wrap(err, "scoring: model call")
	}

	return ParseResponse(resp.Text), nil
}

// ParseResponse extracts SCORE/REASON from a model response. Parser
// leniency is deliberate: a malformed response returns the neutral
// fallback so one bad completion never aborts a run.
func ParseResponse(text string) Result {
	m := scoreRe.FindStringSubmatch(text)
	if m == nil {
		return Result{Score: model.NeutralScore, Reason: "Unable to parse AI response"}
	}
	score, err := strconv.Atoi(m[1])
	if err != nil {
		return Result{Score: model.NeutralScore, Reason: "Unable to parse AI response"}
	}
	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}

	reason := "No reason provided"
	if rm := reasonRe.FindStringSubmatch(text); rm != nil {
		reason = strings.TrimSpace(rm[1])
	}
	return Result{Score: score, Reason: reason}
}
