package engine

import (
	"context"
	"time"
)

// EmbeddingMatch is one nearest-neighbor hit from the vector index.
type EmbeddingMatch struct {
	Incident *Incident
	Cosine   float64
}

// MergeUpdate is the full recomputed state applied to an incident when a
// candidate merges into it. The engine computes it; the store applies it.
type MergeUpdate struct {
	Title         string
	Narrative     string
	EvidenceScore int
	FirstSeenAt   time.Time
	LastSeenAt    time.Time

	// NewSource is nil when the candidate's URL is already attached.
	NewSource *Source
}

// Store is the persistence seam of the engine. The Postgres implementation
// lives in internal/db; tests use an in-memory fake. Implementations wrap
// failures other than "not found" so the resolver can classify them.
type Store interface {
	// FindBySourceURL returns the incident already carrying a source with
	// this exact URL, or nil.
	FindBySourceURL(ctx context.Context, url string) (*Incident, error)

	// FindByContentHash returns the incident with this content hash, or nil.
	FindByContentHash(ctx context.Context, hash []byte) (*Incident, error)

	// FindInWindow returns incidents inside the box whose occurrence falls
	// in [from, to], sources loaded. Bounded by limit.
	FindInWindow(ctx context.Context, box GeoBox, from, to time.Time, limit int) ([]*Incident, error)

	// NearestByEmbedding runs the vector similarity query restricted to the
	// box and time range, best cosine first.
	NearestByEmbedding(ctx context.Context, vector []float64, box GeoBox, from, to time.Time, limit int) ([]EmbeddingMatch, error)

	// CreateIncident atomically inserts the incident, its seed source and
	// its embedding (nil when the embedding tier was skipped). Returns
	// ErrUniquenessConflict when the content hash already exists.
	CreateIncident(ctx context.Context, incident *Incident, embedding []float64) error

	// MergeIncident applies a recomputed aggregate. Idempotent: the source
	// insert is a no-op when the URL is already present.
	MergeIncident(ctx context.Context, incidentID int64, update MergeUpdate) error

	// TouchLastSeen extends the observation window without adding evidence.
	TouchLastSeen(ctx context.Context, incidentID int64, seenAt time.Time) error

	AppendResolutionEvent(ctx context.Context, event ResolutionEvent) error
}

// FeedbackSink records human corrections. Write-only from the engine.
type FeedbackSink interface {
	AppendFeedback(ctx context.Context, record FeedbackRecord) error
}
