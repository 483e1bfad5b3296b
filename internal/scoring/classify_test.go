package scoring

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, Recoverable},
		{"status 429", eris.New("kommo: status 429: too many requests"), Fatal},
		{"rate limit text", eris.New("anthropic: rate limit exceeded"), Fatal},
		{"capitalized rate limit", eris.New("Rate limit reached for requests"), Fatal},
		{"quota", eris.New("you have exceeded your quota"), Fatal},
		{"insufficient quota", eris.New("error code insufficient_quota"), Fatal},
		{"billing", eris.New("billing hard limit reached"), Fatal},
		{"payment", eris.New("payment required"), Fatal},
		{"typed rate limit error", &RateLimitError{Message: "slow down"}, Fatal},
		{"wrapped typed error", eris.Wrap(&RateLimitError{Message: "slow down"}, "scoring: model call"), Fatal},
		{"timeout", eris.New("context deadline exceeded"), Recoverable},
		{"server error", eris.New("status 500: internal error"), Recoverable},
		{"parse failure", eris.New("unexpected end of JSON input"), Recoverable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
