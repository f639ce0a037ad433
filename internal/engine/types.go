package engine

import "time"

// SourceRef is the evidentiary reference a candidate carries: where the
// report came from and how authoritative that origin is.
type SourceRef struct {
	URL         string
	TrustWeight int
	Publisher   string
	Quote       *string
}

// Candidate is one normalized-but-unresolved sighting emitted by a feed.
type Candidate struct {
	Title      string
	Narrative  string
	OccurredAt time.Time
	Latitude   float64
	Longitude  float64
	Category   string
	Source     SourceRef
}

// Normalized is a candidate after validation plus the derived keys every
// tier operates on.
type Normalized struct {
	Candidate
	NormalizedTitle string
	Language        string
	ContentHash     []byte
	BucketKey       string
}

// Source is a stored evidentiary reference owned by exactly one incident.
type Source struct {
	URL         string
	TrustWeight int
	Publisher   string
	Quote       *string
	AddedAt     time.Time
}

// Incident is the durable aggregate a candidate resolves against.
type Incident struct {
	ID            int64
	UUID          string
	Title         string
	Narrative     string
	OccurredAt    time.Time
	Latitude      float64
	Longitude     float64
	Category      string
	ContentHash   []byte
	BucketKey     string
	EvidenceScore int
	Language      string
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
	Sources       []Source
}

type Tier string

const (
	TierExact      Tier = "exact"
	TierFuzzy      Tier = "fuzzy"
	TierSemantic   Tier = "semantic"
	TierReasoning  Tier = "reasoning"
	TierGeographic Tier = "geographic"
	TierNone       Tier = "none"
)

type Decision string

const (
	DecisionCreated   Decision = "created"
	DecisionMerged    Decision = "merged"
	DecisionRefreshed Decision = "refreshed"
)

// Resolution describes what the cascade did with one candidate.
type Resolution struct {
	Decision      Decision
	Tier          Tier
	IncidentID    int64
	IncidentUUID  string
	EvidenceScore int
	Similarity    *float64
	Confidence    *float64
}

// ResolutionEvent is the append-only audit record of one decision.
type ResolutionEvent struct {
	ContentHash     []byte
	SourceURL       string
	Decision        Decision
	Tier            Tier
	IncidentID      *int64
	BestCandidateID *int64
	Similarity      *float64
	Confidence      *float64
	CreatedAt       time.Time
}

// FeedbackRecord captures a human correction of a tier decision. Append
// only; consumed by offline threshold tuning, never read by the engine.
type FeedbackRecord struct {
	IncidentA   int64
	IncidentB   int64
	Tier        Tier
	Decision    Decision
	CorrectedTo Decision
	Note        *string
	CreatedAt   time.Time
}

// Config carries every tunable the cascade depends on. Constructed once at
// startup and passed into NewResolver; nothing in the engine reads globals.
type Config struct {
	FuzzyRadiusKM  float64
	FuzzyWindow    time.Duration
	FuzzyThreshold float64

	SemanticRadiusKM   float64
	SemanticWindow     time.Duration
	SemanticAccept     float64
	SemanticBorderline float64

	JudgeConfidence float64

	EmbedDimensions int

	Trust TrustPolicy

	// CategoryRadiusKM doubles as the category enum: candidates with a
	// category outside this table fail validation.
	CategoryRadiusKM map[string]float64

	TitleSynonyms map[string]string
}

// TrustPolicy is the discrete trust-tier table behind evidence scoring.
type TrustPolicy struct {
	OfficialMin int
	CredibleMin int
	MaxWeight   int
}

func (c Config) CategoryKnown(category string) bool {
	_, ok := c.CategoryRadiusKM[category]
	return ok
}

func floatPtr(v float64) *float64 {
	p := new(float64)
	*p = v
	return p
}

func int64Ptr(v int64) *int64 {
	p := new(int64)
	*p = v
	return p
}
