package pipeline

import (
	"fmt"

	"github.com/convertlab/siteaudit/internal/audit"
)

// Thresholds for the rule-based report.
const (
	strongPerformanceScore = 90
	poorPerformanceScore   = 50
	poorLayoutShift        = 0.25
)

// buildFallback synthesizes a deterministic conversion report from the data
// already collected. The overall score mirrors the measured performance score
// so the report never claims more certainty than the data supports.
func buildFallback(
	content audit.ContentPayload,
	technologies []audit.Technology,
	performance audit.PerformancePayload,
	cause error,
) audit.InsightPayload {
	payload := audit.InsightPayload{
		OverallScore:   performance.Score,
		ScoreRationale: fmt.Sprintf("Score mirrors the measured performance score of %d; a full conversion review was not available.", performance.Score),
		DegradedNote:   fmt.Sprintf("automated insight generation unavailable: %v", cause),
	}

	if performance.Score >= strongPerformanceScore {
		payload.Strengths = append(payload.Strengths, fmt.Sprintf("Excellent performance score of %d keeps visitors from abandoning during load.", performance.Score))
	}
	if content.Title != "" {
		payload.Strengths = append(payload.Strengths, fmt.Sprintf("The page declares a clear title (%q) for search and social previews.", content.Title))
	}
	if len(content.MarketingScripts) > 0 {
		payload.Strengths = append(payload.Strengths, fmt.Sprintf("Measurement tooling is in place (%d marketing or analytics scripts detected).", len(content.MarketingScripts)))
	}
	if len(payload.Strengths) == 0 {
		payload.Strengths = append(payload.Strengths, "The site is reachable and renders successfully.")
	}

	if performance.Score < poorPerformanceScore {
		payload.Opportunities = append(payload.Opportunities, audit.Opportunity{
			Title:    "Improve general page performance",
			Detail:   fmt.Sprintf("The performance score of %d is well below the competitive range; slow pages lose conversions before the content is seen.", performance.Score),
			Impact:   audit.ImpactHigh,
			Priority: 1,
		})
	}
	if performance.CumulativeLayoutShift.NumericValue > poorLayoutShift {
		payload.Opportunities = append(payload.Opportunities, audit.Opportunity{
			Title:    "Reduce layout shift",
			Detail:   fmt.Sprintf("Cumulative layout shift of %s exceeds the stable threshold; shifting elements cause misclicks and erode trust.", performance.CumulativeLayoutShift.DisplayValue),
			Impact:   audit.ImpactMedium,
			Priority: 2,
		})
	}
	if content.MetaDescription == "" {
		payload.Opportunities = append(payload.Opportunities, audit.Opportunity{
			Title:    "Add a meta description",
			Detail:   "The page has no meta description, so search engines pick an arbitrary snippet for the result listing.",
			Impact:   audit.ImpactMedium,
			Priority: 3,
		})
	}
	if len(content.MarketingScripts) == 0 {
		payload.Opportunities = append(payload.Opportunities, audit.Opportunity{
			Title:    "Install analytics",
			Detail:   "No analytics or marketing scripts were detected, so conversion funnels cannot be measured.",
			Impact:   audit.ImpactMedium,
			Priority: 3,
		})
	}
	if content.ImageCount > 0 && content.ImagesWithAlt < content.ImageCount {
		payload.Opportunities = append(payload.Opportunities, audit.Opportunity{
			Title:    "Add alt text to images",
			Detail:   fmt.Sprintf("%d of %d images are missing alt text, hurting accessibility and image search visibility.", content.ImageCount-content.ImagesWithAlt, content.ImageCount),
			Impact:   audit.ImpactLow,
			Priority: 4,
		})
	}
	if len(payload.Opportunities) == 0 {
		payload.Opportunities = append(payload.Opportunities, audit.Opportunity{
			Title:    "Commission a full conversion review",
			Detail:   "Automated checks found no obvious issues; a manual review can surface funnel-specific improvements.",
			Impact:   audit.ImpactLow,
			Priority: 5,
		})
	}

	byCategory := map[string][]string{}
	for _, tech := range technologies {
		category := tech.Category
		if category == "" {
			category = "Other"
		}
		byCategory[category] = append(byCategory[category], tech.Name)
	}
	if names, ok := byCategory["Ecommerce"]; ok {
		payload.StrategicObservations = append(payload.StrategicObservations,
			fmt.Sprintf("The stack includes ecommerce tooling (%s); cart and checkout friction should be the next area of study.", joinNames(names)))
	}
	if len(technologies) == 0 {
		payload.StrategicObservations = append(payload.StrategicObservations,
			"No technology stack could be identified; the site may be custom-built or behind a CDN that masks its stack.")
	} else if len(payload.StrategicObservations) == 0 {
		payload.StrategicObservations = append(payload.StrategicObservations,
			fmt.Sprintf("The detected stack spans %d technologies across %d categories.", len(technologies), len(byCategory)))
	}

	return payload
}

func joinNames(names []string) string {
	out := ""
	for i, name := range names {
		if i > 0 {
			out += ", "
		}
		out += name
	}
	return out
}
