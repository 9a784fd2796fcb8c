package insight

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/convertlab/siteaudit/internal/audit"
	"github.com/convertlab/siteaudit/internal/backoff"
)

const validReport = `{
	"strengths": ["Clear value proposition in the hero", "Fast first paint"],
	"opportunities": [
		{"title": "Add social proof above the fold", "detail": "No testimonials are visible before scrolling.", "impact": "high", "priority": 1},
		{"title": "Compress hero image", "detail": "LCP is dominated by a 2MB image.", "impact": "medium", "priority": 3}
	],
	"strategic_observations": ["The stack suggests an ecommerce focus; cart abandonment tooling is absent."],
	"overall_score": 72,
	"score_rationale": "Solid fundamentals held back by missing trust signals."
}`

type fakeCompleter struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return openai.ChatCompletionResponse{}, f.errs[i]
	}
	content := ""
	if i < len(f.responses) {
		content = f.responses[i]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: content}}},
	}, nil
}

func testInputs() (audit.ContentPayload, []audit.Technology, audit.PerformancePayload) {
	content := audit.ContentPayload{
		Title:    "Acme Outdoor Gear",
		Headings: map[string][]string{"h1": {"Acme Outdoor Gear"}},
	}
	technologies := []audit.Technology{{Name: "Shopify", Category: "Ecommerce"}}
	performance := audit.PerformancePayload{Score: 85}
	return content, technologies, performance
}

func TestGenerateDecodesReport(t *testing.T) {
	t.Parallel()
	fake := &fakeCompleter{responses: []string{validReport}}
	g := newWithClient(Config{}, fake, zap.NewNop())

	content, technologies, performance := testInputs()
	payload, err := g.Generate(context.Background(), content, technologies, performance)
	require.NoError(t, err)
	require.Equal(t, 72, payload.OverallScore)
	require.Len(t, payload.Strengths, 2)
	require.Len(t, payload.Opportunities, 2)
	require.Equal(t, audit.ImpactHigh, payload.Opportunities[0].Impact)
	require.Equal(t, 1, payload.Opportunities[0].Priority)
	require.Empty(t, payload.DegradedNote)
}

func TestGenerateRetries429ThenSucceeds(t *testing.T) {
	t.Parallel()
	fake := &fakeCompleter{
		errs:      []error{&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}},
		responses: []string{"", validReport},
	}
	g := newWithClient(Config{Retry: backoff.Config{MaxAttempts: 2, InitialDelay: time.Millisecond}}, fake, zap.NewNop())

	content, technologies, performance := testInputs()
	payload, err := g.Generate(context.Background(), content, technologies, performance)
	require.NoError(t, err)
	require.Equal(t, 2, fake.calls)
	require.Equal(t, 72, payload.OverallScore)
}

func TestGenerateExhaustedQuotaSurfacesRateLimit(t *testing.T) {
	t.Parallel()
	quota := &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}
	fake := &fakeCompleter{errs: []error{quota, quota, quota}}
	g := newWithClient(Config{Retry: backoff.Config{MaxAttempts: 2, InitialDelay: time.Millisecond}}, fake, zap.NewNop())

	content, technologies, performance := testInputs()
	_, err := g.Generate(context.Background(), content, technologies, performance)
	require.Error(t, err)
	require.True(t, audit.IsRateLimit(err))
	require.Equal(t, 3, fake.calls)
}

func TestGenerateOtherAPIErrorNotRetried(t *testing.T) {
	t.Parallel()
	fake := &fakeCompleter{errs: []error{errors.New("model overloaded")}}
	g := newWithClient(Config{Retry: backoff.Config{MaxAttempts: 5, InitialDelay: time.Millisecond}}, fake, zap.NewNop())

	content, technologies, performance := testInputs()
	_, err := g.Generate(context.Background(), content, technologies, performance)
	require.Error(t, err)
	require.False(t, audit.IsRateLimit(err))
	require.Equal(t, 1, fake.calls)
}

func TestDecodeInsightsRejectsSchemaViolations(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"unknown field": `{"strengths":["a"],"opportunities":[{"title":"t","detail":"d","impact":"high","priority":1}],` +
			`"strategic_observations":[],"overall_score":50,"score_rationale":"r","bonus":true}`,
		"score out of range": `{"strengths":["a"],"opportunities":[{"title":"t","detail":"d","impact":"high","priority":1}],` +
			`"strategic_observations":[],"overall_score":140,"score_rationale":"r"}`,
		"bad impact tier": `{"strengths":["a"],"opportunities":[{"title":"t","detail":"d","impact":"severe","priority":1}],` +
			`"strategic_observations":[],"overall_score":50,"score_rationale":"r"}`,
		"priority out of range": `{"strengths":["a"],"opportunities":[{"title":"t","detail":"d","impact":"low","priority":9}],` +
			`"strategic_observations":[],"overall_score":50,"score_rationale":"r"}`,
		"empty strengths": `{"strengths":[],"opportunities":[{"title":"t","detail":"d","impact":"low","priority":2}],` +
			`"strategic_observations":[],"overall_score":50,"score_rationale":"r"}`,
		"not json": `the site looks great!`,
	}
	for name, raw := range cases {
		_, err := decodeInsights(raw)
		require.Error(t, err, name)
	}
}
