package engine

import (
	"context"
	"testing"
)

func TestRecordFeedbackAppends(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	note := "these were two separate airfields"
	record := FeedbackRecord{
		IncidentA:   1,
		IncidentB:   2,
		Tier:        TierSemantic,
		Decision:    DecisionMerged,
		CorrectedTo: DecisionCreated,
		Note:        &note,
	}

	if err := RecordFeedback(context.Background(), store, record); err != nil {
		t.Fatalf("record feedback failed: %v", err)
	}
	if len(store.feedback) != 1 {
		t.Fatalf("expected 1 feedback record, got %d", len(store.feedback))
	}
	if store.feedback[0].CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be defaulted")
	}
}

func TestRecordFeedbackValidation(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	base := FeedbackRecord{
		IncidentA:   1,
		IncidentB:   2,
		Tier:        TierFuzzy,
		Decision:    DecisionMerged,
		CorrectedTo: DecisionCreated,
	}

	cases := []struct {
		name   string
		mutate func(*FeedbackRecord)
	}{
		{"zero incident id", func(r *FeedbackRecord) { r.IncidentA = 0 }},
		{"same incident twice", func(r *FeedbackRecord) { r.IncidentB = r.IncidentA }},
		{"unknown tier", func(r *FeedbackRecord) { r.Tier = "psychic" }},
		{"unknown decision", func(r *FeedbackRecord) { r.Decision = "shrugged" }},
		{"invalid correction", func(r *FeedbackRecord) { r.CorrectedTo = DecisionRefreshed }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			record := base
			tc.mutate(&record)
			err := RecordFeedback(context.Background(), store, record)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !IsValidation(err) {
				t.Fatalf("expected ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestRecordFeedbackRequiresSink(t *testing.T) {
	t.Parallel()

	err := RecordFeedback(context.Background(), nil, FeedbackRecord{})
	if err == nil {
		t.Fatalf("expected error without a sink")
	}
}
