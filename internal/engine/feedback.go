package engine

import (
	"context"
	"fmt"

	"skywatch.live/sentinel/internal/globaltime"
)

// RecordFeedback validates and appends one human correction. The engine
// never reads these back; offline tuning tooling does.
func RecordFeedback(ctx context.Context, sink FeedbackSink, record FeedbackRecord) error {
	if sink == nil {
		return fmt.Errorf("feedback sink is not configured")
	}
	if record.IncidentA <= 0 || record.IncidentB <= 0 {
		return &ValidationError{Field: "incident ids", Reason: "must be positive"}
	}
	if record.IncidentA == record.IncidentB {
		return &ValidationError{Field: "incident ids", Reason: "must differ"}
	}
	switch record.Tier {
	case TierExact, TierFuzzy, TierSemantic, TierReasoning, TierGeographic, TierNone:
	default:
		return &ValidationError{Field: "tier", Reason: fmt.Sprintf("unknown value %q", record.Tier)}
	}
	switch record.Decision {
	case DecisionCreated, DecisionMerged, DecisionRefreshed:
	default:
		return &ValidationError{Field: "decision", Reason: fmt.Sprintf("unknown value %q", record.Decision)}
	}
	switch record.CorrectedTo {
	case DecisionCreated, DecisionMerged:
	default:
		return &ValidationError{Field: "corrected_to", Reason: fmt.Sprintf("unknown value %q", record.CorrectedTo)}
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = globaltime.UTC()
	}
	if err := sink.AppendFeedback(ctx, record); err != nil {
		return &StorageError{Op: "append_feedback", Err: err}
	}
	return nil
}
