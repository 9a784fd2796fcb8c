package insight

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/convertlab/siteaudit/internal/audit"
)

// promptTextLimit bounds how much visible page text goes into the prompt.
const promptTextLimit = 4000

const systemPrompt = `You are a conversion-rate optimization consultant.
You are given structural content, the detected technology stack, and web
performance measurements for one website. Produce a JSON object with exactly
these fields and no others:
{
  "strengths": ["..."],
  "opportunities": [{"title": "...", "detail": "...", "impact": "high|medium|low", "priority": 1}],
  "strategic_observations": ["..."],
  "overall_score": 0,
  "score_rationale": "..."
}
Rules: strengths and opportunities are ordered most important first;
priority is an integer 1 (most urgent) to 5; impact is one of high, medium,
low; overall_score is an integer 0-100 reflecting conversion readiness.
Respond with the JSON object only.`

// buildUserPrompt renders the collected evidence for the model.
func buildUserPrompt(content audit.ContentPayload, technologies []audit.Technology, performance audit.PerformancePayload) string {
	var b strings.Builder

	b.WriteString("## Page content\n")
	fmt.Fprintf(&b, "Title: %s\n", content.Title)
	fmt.Fprintf(&b, "Meta description: %s\n", content.MetaDescription)
	for _, level := range []string{"h1", "h2", "h3"} {
		if headings := content.Headings[level]; len(headings) > 0 {
			fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(level), strings.Join(headings, " | "))
		}
	}
	fmt.Fprintf(&b, "Links: %d internal, %d external\n", content.InternalLinks, content.ExternalLinks)
	fmt.Fprintf(&b, "Images: %d total, %d with alt text\n", content.ImageCount, content.ImagesWithAlt)
	if len(content.MarketingScripts) > 0 {
		fmt.Fprintf(&b, "Marketing tools on page: %s\n", strings.Join(content.MarketingScripts, ", "))
	}
	fmt.Fprintf(&b, "Visible text excerpt: %s\n", truncateAtRune(content.VisibleText, promptTextLimit))

	b.WriteString("\n## Technology stack\n")
	if len(technologies) == 0 {
		b.WriteString("(no technologies detected)\n")
	}
	for _, tech := range technologies {
		fmt.Fprintf(&b, "- %s (%s)\n", tech.Name, tech.Category)
	}

	b.WriteString("\n## Performance\n")
	fmt.Fprintf(&b, "Performance score: %d/100\n", performance.Score)
	fmt.Fprintf(&b, "First Contentful Paint: %s\n", performance.FirstContentfulPaint.DisplayValue)
	fmt.Fprintf(&b, "Speed Index: %s\n", performance.SpeedIndex.DisplayValue)
	fmt.Fprintf(&b, "Largest Contentful Paint: %s\n", performance.LargestContentfulPaint.DisplayValue)
	fmt.Fprintf(&b, "Total Blocking Time: %s\n", performance.TotalBlockingTime.DisplayValue)
	fmt.Fprintf(&b, "Cumulative Layout Shift: %s\n", performance.CumulativeLayoutShift.DisplayValue)

	return b.String()
}

// truncateAtRune cuts s to at most limit bytes without bisecting a rune.
func truncateAtRune(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
