package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"skywatch.live/sentinel/internal/globaltime"
)

const (
	fuzzyCandidateLimit    = 200
	semanticCandidateLimit = 20
)

// Resolver runs the tier cascade for one candidate at a time. Tiers run in
// strict order and short-circuit: the first confident match wins. Embedder
// and judge may be nil, in which case their tiers are skipped and the
// geographic fallback carries the load.
type Resolver struct {
	store    Store
	embedder Embedder
	judge    Judge
	detector LanguageDetector
	cfg      Config
	logger   zerolog.Logger
}

func NewResolver(store Store, embedder Embedder, judge Judge, detector LanguageDetector, cfg Config, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		embedder: embedder,
		judge:    judge,
		detector: detector,
		cfg:      cfg,
		logger:   logger,
	}
}

// Resolve decides create-or-merge for one candidate. Only a ValidationError
// or a StorageError is returned; capability failures degrade to later tiers.
func (r *Resolver) Resolve(ctx context.Context, raw Candidate) (Resolution, error) {
	now := globaltime.UTC()

	candidate, err := NormalizeCandidate(raw, r.detector, r.cfg, now)
	if err != nil {
		return Resolution{}, err
	}

	// Tier 1: exact source URL. A hit means this item was already ingested;
	// nothing new to merge, only the observation window moves.
	known, err := r.store.FindBySourceURL(ctx, candidate.Source.URL)
	if err != nil {
		return Resolution{}, storageErr("find_source_url", err)
	}
	if known != nil {
		if err := r.store.TouchLastSeen(ctx, known.ID, now); err != nil {
			return Resolution{}, storageErr("touch_last_seen", err)
		}
		if err := r.appendEvent(ctx, candidate, DecisionRefreshed, TierExact, &known.ID, nil, floatPtr(1), nil, now); err != nil {
			return Resolution{}, err
		}
		return Resolution{
			Decision:      DecisionRefreshed,
			Tier:          TierExact,
			IncidentID:    known.ID,
			IncidentUUID:  known.UUID,
			EvidenceScore: known.EvidenceScore,
			Similarity:    floatPtr(1),
		}, nil
	}

	// Tier 1: content hash. Unconditional duplicate by construction.
	if incident, err := r.store.FindByContentHash(ctx, candidate.ContentHash); err != nil {
		return Resolution{}, storageErr("find_content_hash", err)
	} else if incident != nil {
		return r.merge(ctx, incident, candidate, TierExact, floatPtr(1), nil, now)
	}

	// Tier 1.5: fuzzy title match inside a tight spatial-temporal window.
	if incident, similarity, err := r.fuzzyMatch(ctx, candidate); err != nil {
		return Resolution{}, err
	} else if incident != nil {
		return r.merge(ctx, incident, candidate, TierFuzzy, floatPtr(similarity), nil, now)
	}

	// Tiers 2 and 3: semantic search, arbiter for the borderline band.
	vector, semantic, err := r.semanticMatch(ctx, candidate)
	if err != nil {
		return Resolution{}, err
	}
	if semantic != nil && semantic.accepted {
		return r.merge(ctx, semantic.incident, candidate, semantic.tier, floatPtr(semantic.cosine), semantic.confidence, now)
	}

	// Geographic fallback: bucket key or category radius. Always available.
	if incident, err := r.fallbackMatch(ctx, candidate); err != nil {
		return Resolution{}, err
	} else if incident != nil {
		return r.merge(ctx, incident, candidate, TierGeographic, nil, nil, now)
	}

	return r.create(ctx, candidate, vector, semantic, now)
}

type semanticOutcome struct {
	incident   *Incident
	cosine     float64
	tier       Tier
	confidence *float64
	accepted   bool
}

func (r *Resolver) fuzzyMatch(ctx context.Context, candidate Normalized) (*Incident, float64, error) {
	box := BoundingBox(candidate.Latitude, candidate.Longitude, r.cfg.FuzzyRadiusKM)
	from := candidate.OccurredAt.Add(-r.cfg.FuzzyWindow)
	to := candidate.OccurredAt.Add(r.cfg.FuzzyWindow)

	incidents, err := r.store.FindInWindow(ctx, box, from, to, fuzzyCandidateLimit)
	if err != nil {
		return nil, 0, storageErr("find_fuzzy_window", err)
	}

	var best *Incident
	bestScore := 0.0
	for _, incident := range incidents {
		score := TitleSimilarity(candidate.Title, incident.Title, r.cfg.TitleSynonyms)
		if score > bestScore {
			best = incident
			bestScore = score
		}
	}
	if best == nil || bestScore < r.cfg.FuzzyThreshold {
		return nil, 0, nil
	}
	return best, bestScore, nil
}

// semanticMatch returns the candidate's embedding (nil when the capability
// was unavailable) plus the best semantic outcome, accepted or not. The
// unaccepted best match is still recorded in the audit event on create.
func (r *Resolver) semanticMatch(ctx context.Context, candidate Normalized) ([]float64, *semanticOutcome, error) {
	if r.embedder == nil {
		return nil, nil, nil
	}

	vector, err := r.embedder.Embed(ctx, EmbeddingInput(candidate.Title, candidate.Narrative))
	if err != nil {
		unavailable := &ServiceUnavailable{Capability: "embedding", Err: err}
		r.logger.Warn().Err(unavailable).Msg("embedding tier skipped; proceeding to geographic fallback")
		return nil, nil, nil
	}

	box := BoundingBox(candidate.Latitude, candidate.Longitude, r.cfg.SemanticRadiusKM)
	from := candidate.OccurredAt.Add(-r.cfg.SemanticWindow)
	to := candidate.OccurredAt.Add(r.cfg.SemanticWindow)

	matches, err := r.store.NearestByEmbedding(ctx, vector, box, from, to, semanticCandidateLimit)
	if err != nil {
		return vector, nil, storageErr("nearest_embedding", err)
	}
	if len(matches) == 0 {
		return vector, nil, nil
	}

	best := matches[0]
	outcome := &semanticOutcome{incident: best.Incident, cosine: best.Cosine, tier: TierSemantic}

	switch {
	case best.Cosine >= r.cfg.SemanticAccept:
		outcome.accepted = true
	case best.Cosine >= r.cfg.SemanticBorderline:
		verdict, ok := r.arbitrate(ctx, candidate, best.Incident)
		if ok && verdict.Verdict == VerdictDuplicate && verdict.Confidence >= r.cfg.JudgeConfidence {
			outcome.accepted = true
			outcome.tier = TierReasoning
			outcome.confidence = floatPtr(verdict.Confidence)
		}
	}
	return vector, outcome, nil
}

// arbitrate asks the reasoning capability about a borderline pair. Any
// failure means "no verdict" and the pair stays distinct at this tier.
func (r *Resolver) arbitrate(ctx context.Context, candidate Normalized, incident *Incident) (Verdict, bool) {
	if r.judge == nil {
		return Verdict{}, false
	}
	verdict, err := r.judge.Judge(ctx, summarizeCandidate(candidate), summarizeIncident(incident))
	if err != nil {
		unavailable := &ServiceUnavailable{Capability: "reasoning", Err: err}
		r.logger.Warn().Err(unavailable).Int64("incident_id", incident.ID).Msg("arbiter unavailable; treating pair as distinct")
		return Verdict{}, false
	}
	return verdict, true
}

func (r *Resolver) fallbackMatch(ctx context.Context, candidate Normalized) (*Incident, error) {
	radius := r.cfg.CategoryRadiusKM[candidate.Category]
	if radius <= 0 {
		return nil, nil
	}

	box := BoundingBox(candidate.Latitude, candidate.Longitude, radius)
	from := candidate.OccurredAt.Add(-r.cfg.FuzzyWindow)
	to := candidate.OccurredAt.Add(r.cfg.FuzzyWindow)

	incidents, err := r.store.FindInWindow(ctx, box, from, to, fuzzyCandidateLimit)
	if err != nil {
		return nil, storageErr("find_fallback_window", err)
	}

	var nearest *Incident
	nearestKM := radius
	for _, incident := range incidents {
		if incident.Category != candidate.Category {
			continue
		}
		if incident.BucketKey == candidate.BucketKey {
			return incident, nil
		}
		distance := HaversineKM(candidate.Latitude, candidate.Longitude, incident.Latitude, incident.Longitude)
		if distance <= nearestKM {
			nearest = incident
			nearestKM = distance
		}
	}
	return nearest, nil
}

func (r *Resolver) create(ctx context.Context, candidate Normalized, vector []float64, semantic *semanticOutcome, now time.Time) (Resolution, error) {
	seed := SeedIncident(candidate, r.cfg.Trust, now)

	err := r.store.CreateIncident(ctx, seed, vector)
	if errors.Is(err, ErrUniquenessConflict) {
		// Lost the create race: another worker just stored this event.
		incident, findErr := r.store.FindByContentHash(ctx, candidate.ContentHash)
		if findErr != nil {
			return Resolution{}, storageErr("find_after_conflict", findErr)
		}
		if incident == nil {
			return Resolution{}, storageErr("find_after_conflict", fmt.Errorf("conflict on hash but incident not found"))
		}
		return r.merge(ctx, incident, candidate, TierExact, floatPtr(1), nil, now)
	}
	if err != nil {
		return Resolution{}, storageErr("create_incident", err)
	}

	var bestCandidateID *int64
	var similarity *float64
	if semantic != nil {
		bestCandidateID = int64Ptr(semantic.incident.ID)
		similarity = floatPtr(semantic.cosine)
	}
	if err := r.appendEvent(ctx, candidate, DecisionCreated, TierNone, &seed.ID, bestCandidateID, similarity, nil, now); err != nil {
		return Resolution{}, err
	}

	r.logger.Info().
		Int64("incident_id", seed.ID).
		Str("category", candidate.Category).
		Int("evidence_score", seed.EvidenceScore).
		Msg("created incident")

	return Resolution{
		Decision:      DecisionCreated,
		Tier:          TierNone,
		IncidentID:    seed.ID,
		IncidentUUID:  seed.UUID,
		EvidenceScore: seed.EvidenceScore,
	}, nil
}

func (r *Resolver) merge(
	ctx context.Context,
	incident *Incident,
	candidate Normalized,
	tier Tier,
	similarity *float64,
	confidence *float64,
	now time.Time,
) (Resolution, error) {
	update := BuildMerge(incident, candidate, r.cfg.Trust, now)
	if err := r.store.MergeIncident(ctx, incident.ID, update); err != nil {
		return Resolution{}, storageErr("merge_incident", err)
	}
	if err := r.appendEvent(ctx, candidate, DecisionMerged, tier, &incident.ID, &incident.ID, similarity, confidence, now); err != nil {
		return Resolution{}, err
	}

	r.logger.Info().
		Int64("incident_id", incident.ID).
		Str("tier", string(tier)).
		Int("evidence_score", update.EvidenceScore).
		Msg("merged candidate into incident")

	return Resolution{
		Decision:      DecisionMerged,
		Tier:          tier,
		IncidentID:    incident.ID,
		IncidentUUID:  incident.UUID,
		EvidenceScore: update.EvidenceScore,
		Similarity:    similarity,
		Confidence:    confidence,
	}, nil
}

func (r *Resolver) appendEvent(
	ctx context.Context,
	candidate Normalized,
	decision Decision,
	tier Tier,
	incidentID *int64,
	bestCandidateID *int64,
	similarity *float64,
	confidence *float64,
	now time.Time,
) error {
	event := ResolutionEvent{
		ContentHash:     candidate.ContentHash,
		SourceURL:       candidate.Source.URL,
		Decision:        decision,
		Tier:            tier,
		IncidentID:      incidentID,
		BestCandidateID: bestCandidateID,
		Similarity:      similarity,
		Confidence:      confidence,
		CreatedAt:       now,
	}
	if err := r.store.AppendResolutionEvent(ctx, event); err != nil {
		return storageErr("append_resolution_event", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	var existing *StorageError
	if errors.As(err, &existing) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
