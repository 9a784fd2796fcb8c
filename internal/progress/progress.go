// Package progress derives the normalized progress view a polling client
// sees from a raw analysis record. It is a pure function of the record; it
// has no knowledge of orchestrator internals.
package progress

import (
	"math"
	"time"

	"github.com/convertlab/siteaudit/internal/audit"
)

// TotalStages is the fixed stage count of the pipeline.
const TotalStages = 4

// Report is the derived progress view.
type Report struct {
	CompletedCount int    `json:"completed_count"`
	TotalCount     int    `json:"total_count"`
	Percentage     int    `json:"percentage"`
	CurrentStep    string `json:"current_step"`
	// EstimatedSecondsRemaining is set while processing, zero once
	// completed, and nil on error.
	EstimatedSecondsRemaining *int `json:"estimated_seconds_remaining,omitempty"`
}

// Human-readable labels for the step a poller is waiting on.
var stepLabels = map[audit.Stage]string{
	audit.StageContent:      "collecting content",
	audit.StageTechnologies: "detecting technologies",
	audit.StagePerformance:  "measuring performance",
	audit.StageInsights:     "generating insights",
}

// Build derives a Report from the record. A stage counts as completed once
// it is in a final state: payload present, or attempted with a recorded
// error. Counting stops at the first stage that has not been attempted, so
// the count never decreases across polls of the same record.
func Build(record audit.AnalysisRecord, now time.Time, totalBudget time.Duration) Report {
	report := Report{TotalCount: TotalStages}

	nextStage := ""
	for _, stage := range audit.StageOrder() {
		if !record.Attempted(stage) {
			nextStage = stepLabels[stage]
			break
		}
		report.CompletedCount++
	}
	report.Percentage = int(math.Round(100 * float64(report.CompletedCount) / TotalStages))

	switch record.Status {
	case audit.StatusCompleted:
		report.CurrentStep = "completed"
		zero := 0
		report.EstimatedSecondsRemaining = &zero
	case audit.StatusError:
		report.CurrentStep = "error"
	default:
		report.CurrentStep = nextStage
		if report.CurrentStep == "" {
			report.CurrentStep = stepLabels[audit.StageInsights]
		}
		remaining := int(math.Max(0, totalBudget.Seconds()-now.Sub(record.CreatedAt).Seconds()))
		report.EstimatedSecondsRemaining = &remaining
	}
	return report
}
