// Package audit defines the domain model for website conversion audits:
// the analysis record, the four stage payloads, and the interfaces the
// pipeline collaborators implement.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an analysis record.
type Status string

// Analysis statuses persisted in analysis_records.status.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Stage identifies one of the four pipeline steps.
type Stage string

// Pipeline stages in execution order.
const (
	StageContent      Stage = "content"
	StageTechnologies Stage = "technologies"
	StagePerformance  Stage = "performance"
	StageInsights     Stage = "insights"
)

// StageOrder returns the stages in the order the orchestrator runs them.
func StageOrder() []Stage {
	return []Stage{StageContent, StageTechnologies, StagePerformance, StageInsights}
}

// AnalysisRequest captures the submitter and target at launch time. Immutable
// after creation.
type AnalysisRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Company   string `json:"company"`
	TargetURL string `json:"target_url"`
	Phone     string `json:"phone,omitempty"`
}

// AnalysisRecord is the durable state of one audit run. The four payload
// slots are independently nullable; once set they are never cleared.
type AnalysisRecord struct {
	ID      uuid.UUID       `json:"id"`
	Status  Status          `json:"status"`
	Request AnalysisRequest `json:"request"`

	Content      *ContentPayload     `json:"content,omitempty"`
	Technologies *TechnologyPayload  `json:"technologies,omitempty"`
	Performance  *PerformancePayload `json:"performance,omitempty"`
	Insights     *InsightPayload     `json:"insights,omitempty"`

	// StageErrors records the failure note for stages that were attempted
	// and produced no payload.
	StageErrors map[Stage]string `json:"stage_errors,omitempty"`

	// ErrorMessage is set only when Status is StatusError.
	ErrorMessage *string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HasOutput reports whether the payload slot for the stage is populated.
func (r AnalysisRecord) HasOutput(stage Stage) bool {
	switch stage {
	case StageContent:
		return r.Content != nil
	case StageTechnologies:
		return r.Technologies != nil
	case StagePerformance:
		return r.Performance != nil
	case StageInsights:
		return r.Insights != nil
	default:
		return false
	}
}

// Attempted reports whether the stage reached a final state: either its
// payload is present or a stage error was recorded for it.
func (r AnalysisRecord) Attempted(stage Stage) bool {
	if r.HasOutput(stage) {
		return true
	}
	_, failed := r.StageErrors[stage]
	return failed
}

// ContentPayload is the structural extraction of the target page.
type ContentPayload struct {
	Title           string              `json:"title"`
	MetaDescription string              `json:"meta_description"`
	MetaKeywords    string              `json:"meta_keywords"`
	Headings        map[string][]string `json:"headings"`
	InternalLinks   int                 `json:"internal_links"`
	ExternalLinks   int                 `json:"external_links"`
	ImageCount      int                 `json:"image_count"`
	ImagesWithAlt   int                 `json:"images_with_alt"`
	// MarketingScripts lists the third-party tracking/marketing script
	// signatures found on the page (e.g. gtag, fbq, hubspot).
	MarketingScripts []string `json:"marketing_scripts"`
	VisibleText      string   `json:"visible_text"`
	HTMLSize         int      `json:"html_size"`
	// SnapshotURI references the stored visual snapshot (file://, gs://, mem://).
	SnapshotURI string `json:"snapshot_uri,omitempty"`
	// RenderedHeadless records whether a headless browser produced the DOM.
	RenderedHeadless bool `json:"rendered_headless"`
}

// Technology is one detected stack entry.
type Technology struct {
	Name          string `json:"name"`
	Category      string `json:"category"`
	FirstDetected string `json:"first_detected,omitempty"`
	LastDetected  string `json:"last_detected,omitempty"`
}

// TechnologyPayload is the fingerprinting result. An empty Technologies
// slice is a valid success.
type TechnologyPayload struct {
	Technologies []Technology        `json:"technologies"`
	ByCategory   map[string][]string `json:"by_category"`
}

// GroupByCategory rebuilds the ByCategory view from the flat list.
func (p *TechnologyPayload) GroupByCategory() {
	grouped := make(map[string][]string)
	for _, tech := range p.Technologies {
		category := tech.Category
		if category == "" {
			category = "Other"
		}
		grouped[category] = append(grouped[category], tech.Name)
	}
	p.ByCategory = grouped
}

// Metric pairs the human display string with the raw numeric value of one
// timing measurement.
type Metric struct {
	DisplayValue string  `json:"display_value"`
	NumericValue float64 `json:"numeric_value"`
}

// PerformancePayload is the page-speed scoring result.
type PerformancePayload struct {
	// Score is the overall performance score, 0-100.
	Score                  int    `json:"score"`
	FirstContentfulPaint   Metric `json:"first_contentful_paint"`
	SpeedIndex             Metric `json:"speed_index"`
	LargestContentfulPaint Metric `json:"largest_contentful_paint"`
	TotalBlockingTime      Metric `json:"total_blocking_time"`
	CumulativeLayoutShift  Metric `json:"cumulative_layout_shift"`
}

// Impact tiers for improvement opportunities.
const (
	ImpactHigh   = "high"
	ImpactMedium = "medium"
	ImpactLow    = "low"
)

// Opportunity is one ranked improvement recommendation.
type Opportunity struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	// Impact is one of high/medium/low.
	Impact string `json:"impact"`
	// Priority ranks the opportunity, 1 (most urgent) to 5.
	Priority int `json:"priority"`
}

// InsightPayload is the conversion-optimization report, either AI-generated
// or synthesized by the rule-based fallback.
type InsightPayload struct {
	Strengths             []string      `json:"strengths"`
	Opportunities         []Opportunity `json:"opportunities"`
	StrategicObservations []string      `json:"strategic_observations"`
	OverallScore          int           `json:"overall_score"`
	ScoreRationale        string        `json:"score_rationale"`
	// DegradedNote is set when the payload came from the rule-based
	// fallback; it carries the triggering error for visibility.
	DegradedNote string `json:"degraded_note,omitempty"`
}
