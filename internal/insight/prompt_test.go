package insight

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/convertlab/siteaudit/internal/audit"
)

func TestBuildUserPromptTruncatesTextAtRuneBoundary(t *testing.T) {
	t.Parallel()
	content := audit.ContentPayload{
		Title:       "Acme",
		VisibleText: "a" + strings.Repeat("é", 3000),
	}
	prompt := buildUserPrompt(content, nil, audit.PerformancePayload{Score: 80})
	require.True(t, utf8.ValidString(prompt))
	require.NotContains(t, prompt, string(utf8.RuneError))
}

func TestBuildUserPromptRendersEvidence(t *testing.T) {
	t.Parallel()
	content := audit.ContentPayload{
		Title:            "Acme Outdoor Gear",
		MetaDescription:  "Gear for every trail.",
		Headings:         map[string][]string{"h1": {"Acme Outdoor Gear"}},
		MarketingScripts: []string{"Google Tag Manager"},
	}
	technologies := []audit.Technology{{Name: "Shopify", Category: "Ecommerce"}}
	performance := audit.PerformancePayload{
		Score:                85,
		FirstContentfulPaint: audit.Metric{DisplayValue: "1.2 s"},
	}

	prompt := buildUserPrompt(content, technologies, performance)
	require.Contains(t, prompt, "Acme Outdoor Gear")
	require.Contains(t, prompt, "Shopify (Ecommerce)")
	require.Contains(t, prompt, "Performance score: 85/100")
	require.Contains(t, prompt, "1.2 s")
}
