package engine

import (
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestScoreEvidenceTiers(t *testing.T) {
	t.Parallel()

	policy := TrustPolicy{OfficialMin: 4, CredibleMin: 2, MaxWeight: 4}

	cases := []struct {
		name    string
		sources []Source
		want    int
	}{
		{"no sources", nil, 1},
		{"single social", []Source{{TrustWeight: 1}}, 1},
		{"single credible", []Source{{TrustWeight: 2}}, 2},
		{"two credible no quote", []Source{{TrustWeight: 2}, {TrustWeight: 3}}, 2},
		{"two credible with quote", []Source{{TrustWeight: 2, Quote: strPtr("confirmed by tower")}, {TrustWeight: 3}}, 3},
		{"quote on low trust ignored", []Source{{TrustWeight: 1, Quote: strPtr("saw it myself")}, {TrustWeight: 2}}, 2},
		{"official wins alone", []Source{{TrustWeight: 4}}, 4},
		{"official wins in crowd", []Source{{TrustWeight: 1}, {TrustWeight: 2}, {TrustWeight: 4}}, 4},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ScoreEvidence(tc.sources, policy); got != tc.want {
				t.Fatalf("expected score %d, got %d", tc.want, got)
			}
		})
	}
}

func TestScoreEvidenceMonotonic(t *testing.T) {
	t.Parallel()

	policy := TrustPolicy{OfficialMin: 4, CredibleMin: 2, MaxWeight: 4}

	// Adding any source never lowers the score.
	additions := []Source{
		{TrustWeight: 1},
		{TrustWeight: 2},
		{TrustWeight: 3, Quote: strPtr("officials confirmed the closure")},
		{TrustWeight: 1},
		{TrustWeight: 4},
	}

	var sources []Source
	previous := ScoreEvidence(sources, policy)
	for i, addition := range additions {
		sources = append(sources, addition)
		score := ScoreEvidence(sources, policy)
		if score < previous {
			t.Fatalf("score dropped from %d to %d after addition %d", previous, score, i)
		}
		previous = score
	}
	if previous != 4 {
		t.Fatalf("expected final score 4, got %d", previous)
	}
}

func TestBuildMergeUnionsAndWidens(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	now := time.Now().UTC()
	occurred := time.Date(2026, 3, 1, 21, 15, 0, 0, time.UTC)

	incident := &Incident{
		ID:          7,
		Title:       "Drone at airport",
		Narrative:   "Short note.",
		FirstSeenAt: occurred,
		LastSeenAt:  occurred,
		Sources: []Source{
			{URL: "https://a.example.org/1", TrustWeight: 2, AddedAt: occurred},
		},
	}

	candidate, err := NormalizeCandidate(testCandidate(), nil, cfg, now)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	update := BuildMerge(incident, candidate, cfg.Trust, now)
	if update.Title != candidate.Title {
		t.Fatalf("expected longer title to win, got %q", update.Title)
	}
	if update.Narrative != candidate.Narrative {
		t.Fatalf("expected longer narrative to win, got %q", update.Narrative)
	}
	if update.NewSource == nil || update.NewSource.URL != candidate.Source.URL {
		t.Fatalf("expected new source for unseen URL, got %+v", update.NewSource)
	}
	if update.EvidenceScore != 2 {
		t.Fatalf("expected score 2 with two uncorroborated credible sources, got %d", update.EvidenceScore)
	}
	if !update.LastSeenAt.Equal(now) {
		t.Fatalf("expected last seen widened to now, got %v", update.LastSeenAt)
	}
}

func TestBuildMergeIsIdempotentForKnownURL(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	now := time.Now().UTC()

	candidate, err := NormalizeCandidate(testCandidate(), nil, cfg, now)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	incident := SeedIncident(candidate, cfg.Trust, now)
	incident.ID = 3

	update := BuildMerge(incident, candidate, cfg.Trust, now)
	if update.NewSource != nil {
		t.Fatalf("expected no new source for an already attached URL")
	}
	if update.EvidenceScore != incident.EvidenceScore {
		t.Fatalf("expected stable score, got %d -> %d", incident.EvidenceScore, update.EvidenceScore)
	}
}

func TestSeedIncidentCarriesDerivedState(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	now := time.Now().UTC()

	official := testCandidate()
	official.Source.TrustWeight = 4

	candidate, err := NormalizeCandidate(official, nil, cfg, now)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	seed := SeedIncident(candidate, cfg.Trust, now)
	if seed.EvidenceScore != 4 {
		t.Fatalf("expected official source to score 4, got %d", seed.EvidenceScore)
	}
	if len(seed.ContentHash) == 0 || seed.BucketKey == "" {
		t.Fatalf("expected derived keys on seed")
	}
	if !seed.FirstSeenAt.Equal(candidate.OccurredAt) {
		t.Fatalf("expected first seen at occurrence, got %v", seed.FirstSeenAt)
	}
}
