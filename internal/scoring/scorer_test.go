package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexsales/leadscore/internal/config"
	"github.com/apexsales/leadscore/pkg/anthropic"
)

type fakeAnthropicClient struct {
	resp *anthropic.MessageResponse
	err  error

	lastRequest anthropic.MessageRequest
}

func (f *fakeAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		wantScore  int
		wantReason string
	}{
		{
			name:       "well formed",
			text:       "SCORE: 8\nREASON: Frequent communication with budget mentions",
			wantScore:  8,
			wantReason: "Frequent communication with budget mentions",
		},
		{
			name:       "extra prose around markers",
			text:       "Here is my analysis.\nSCORE: 6\nREASON: Good engagement overall",
			wantScore:  6,
			wantReason: "Good engagement overall",
		},
		{
			name:       "score above range clamped",
			text:       "SCORE: 12\nREASON: off the charts",
			wantScore:  10,
			wantReason: "off the charts",
		},
		{
			name:       "score below range clamped",
			text:       "SCORE: 0\nREASON: nothing here",
			wantScore:  1,
			wantReason: "nothing here",
		},
		{
			name:       "missing score falls back",
			text:       "The lead looks promising.",
			wantScore:  5,
			wantReason: "Unable to parse AI response",
		},
		{
			name:       "score without reason",
			text:       "SCORE: 7",
			wantScore:  7,
			wantReason: "No reason provided",
		},
		{
			name:       "empty response",
			text:       "",
			wantScore:  5,
			wantReason: "Unable to parse AI response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParseResponse(tt.text)
			assert.Equal(t, tt.wantScore, got.Score)
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}

func TestEngagementScorer_RequestShape(t *testing.T) {
	t.Parallel()

	fake := &fakeAnthropicClient{
		resp: &anthropic.MessageResponse{Text: "SCORE: 9\nREASON: Ready to buy"},
	}
	scorer := NewEngagementScorer(fake, config.AnthropicConfig{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   150,
		Temperature: 0.3,
	})

	res, err := scorer.Score(context.Background(), "Lead Information:\n- Name: Acme deal\n")

	require.NoError(t, err)
	assert.Equal(t, 9, res.Score)
	assert.Equal(t, "Ready to buy", res.Reason)

	req := fake.lastRequest
	assert.Equal(t, "claude-haiku-4-5-20251001", req.Model)
	assert.Equal(t, int64(150), req.MaxTokens)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.3, *req.Temperature, 1e-9)
	assert.NotEmpty(t, req.System)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, "- Name: Acme deal")
}

func TestEngagementScorer_TransportErrorPropagates(t *testing.T) {
	t.Parallel()

	fake := &fakeAnthropicClient{err: assert.AnError}
	scorer := NewEngagementScorer(fake, config.AnthropicConfig{Model: "m", MaxTokens: 150})

	_, err := scorer.Score(context.Background(), "profile")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model call")
}
