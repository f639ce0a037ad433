package engine

import (
	"strings"
	"time"
)

// ScoreEvidence recomputes an incident's evidence level from its full
// source set. Total order, highest applicable rule wins:
//
//	4: any source at the official tier
//	3: two or more credible-media-or-above sources, one carrying a quote
//	2: at least one credible-media-or-above source, uncorroborated
//	1: only low-trust sources
//
// Always recomputed whole; never incremented, so the score stays derivable
// from stored sources alone.
func ScoreEvidence(sources []Source, policy TrustPolicy) int {
	credible := 0
	quoted := false
	for _, source := range sources {
		if source.TrustWeight >= policy.OfficialMin {
			return 4
		}
		if source.TrustWeight >= policy.CredibleMin {
			credible++
			if source.Quote != nil && strings.TrimSpace(*source.Quote) != "" {
				quoted = true
			}
		}
	}
	switch {
	case credible >= 2 && quoted:
		return 3
	case credible >= 1:
		return 2
	default:
		return 1
	}
}

// BuildMerge computes the aggregate state after folding a candidate into an
// existing incident: sources unioned by URL, the longer narrative and the
// more descriptive title retained, the seen window widened.
func BuildMerge(incident *Incident, candidate Normalized, policy TrustPolicy, now time.Time) MergeUpdate {
	update := MergeUpdate{
		Title:       incident.Title,
		Narrative:   incident.Narrative,
		FirstSeenAt: incident.FirstSeenAt,
		LastSeenAt:  incident.LastSeenAt,
	}

	if len(candidate.Title) > len(incident.Title) {
		update.Title = candidate.Title
	}
	if len(candidate.Narrative) > len(incident.Narrative) {
		update.Narrative = candidate.Narrative
	}
	if candidate.OccurredAt.Before(update.FirstSeenAt) {
		update.FirstSeenAt = candidate.OccurredAt
	}
	if candidate.OccurredAt.After(update.LastSeenAt) {
		update.LastSeenAt = candidate.OccurredAt
	}
	if now.After(update.LastSeenAt) {
		update.LastSeenAt = now
	}

	merged := incident.Sources
	if !hasSourceURL(incident.Sources, candidate.Source.URL) {
		newSource := Source{
			URL:         candidate.Source.URL,
			TrustWeight: candidate.Source.TrustWeight,
			Publisher:   candidate.Source.Publisher,
			Quote:       candidate.Source.Quote,
			AddedAt:     now,
		}
		update.NewSource = &newSource
		merged = append(append([]Source(nil), incident.Sources...), newSource)
	}
	update.EvidenceScore = ScoreEvidence(merged, policy)

	return update
}

// SeedIncident builds the new aggregate for a candidate nothing matched.
func SeedIncident(candidate Normalized, policy TrustPolicy, now time.Time) *Incident {
	seed := Source{
		URL:         candidate.Source.URL,
		TrustWeight: candidate.Source.TrustWeight,
		Publisher:   candidate.Source.Publisher,
		Quote:       candidate.Source.Quote,
		AddedAt:     now,
	}
	return &Incident{
		Title:         candidate.Title,
		Narrative:     candidate.Narrative,
		OccurredAt:    candidate.OccurredAt,
		Latitude:      candidate.Latitude,
		Longitude:     candidate.Longitude,
		Category:      candidate.Category,
		ContentHash:   candidate.ContentHash,
		BucketKey:     candidate.BucketKey,
		Language:      candidate.Language,
		EvidenceScore: ScoreEvidence([]Source{seed}, policy),
		FirstSeenAt:   candidate.OccurredAt,
		LastSeenAt:    now,
		Sources:       []Source{seed},
	}
}

func hasSourceURL(sources []Source, url string) bool {
	for _, source := range sources {
		if source.URL == url {
			return true
		}
	}
	return false
}
