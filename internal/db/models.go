package db

import (
	"fmt"
	"time"
)

// EmbeddingDimensions is the pgvector column width baked into the
// migration. EMBED_DIMENSIONS must match it; re-dimensioning requires a
// manual column rebuild plus re-embedding every incident.
const EmbeddingDimensions = 1024

func validateEmbeddingDimensions(dims int) error {
	if dims != EmbeddingDimensions {
		return fmt.Errorf("EMBED_DIMENSIONS=%d does not match the vector(%d) embedding column; re-dimensioning requires a manual migration", dims, EmbeddingDimensions)
	}
	return nil
}

// Incident maps airspace.incidents.
type Incident struct {
	IncidentID    int64      `gorm:"column:incident_id;primaryKey;autoIncrement"`
	IncidentUUID  string     `gorm:"column:incident_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Category      string     `gorm:"column:category;type:text;not null"`
	Title         string     `gorm:"column:title;type:text;not null"`
	Narrative     string     `gorm:"column:narrative;type:text;not null;default:''"`
	OccurredAt    time.Time  `gorm:"column:occurred_at;type:timestamptz;not null"`
	Latitude      float64    `gorm:"column:latitude;type:double precision;not null"`
	Longitude     float64    `gorm:"column:longitude;type:double precision;not null"`
	ContentHash   []byte     `gorm:"column:content_hash;type:bytea;not null"`
	BucketKey     string     `gorm:"column:bucket_key;type:text;not null"`
	EvidenceScore int16      `gorm:"column:evidence_score;type:smallint;not null;default:1"`
	Language      string     `gorm:"column:language;type:text;not null;default:und"`
	Status        string     `gorm:"column:status;type:text;not null;default:active"`
	FirstSeenAt   time.Time  `gorm:"column:first_seen_at;type:timestamptz;not null"`
	LastSeenAt    time.Time  `gorm:"column:last_seen_at;type:timestamptz;not null"`
	DeletedAt     *time.Time `gorm:"column:deleted_at;type:timestamptz"`
	CreatedAt     time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Incident) TableName() string { return "airspace.incidents" }

// IncidentSource maps airspace.incident_sources. Owned by its incident;
// deleting the incident cascades here.
type IncidentSource struct {
	SourceID    int64     `gorm:"column:source_id;primaryKey;autoIncrement"`
	SourceUUID  string    `gorm:"column:source_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	IncidentID  int64     `gorm:"column:incident_id;type:bigint;not null;index"`
	URL         string    `gorm:"column:url;type:text;not null"`
	TrustWeight int16     `gorm:"column:trust_weight;type:smallint;not null"`
	Publisher   string    `gorm:"column:publisher;type:text;not null;default:''"`
	Quote       *string   `gorm:"column:quote;type:text"`
	AddedAt     time.Time `gorm:"column:added_at;type:timestamptz;not null;default:now()"`
}

func (IncidentSource) TableName() string { return "airspace.incident_sources" }

// IncidentEmbedding maps airspace.incident_embeddings. One per incident,
// written at creation time and never mutated afterward.
type IncidentEmbedding struct {
	EmbeddingID     int64     `gorm:"column:embedding_id;primaryKey;autoIncrement"`
	IncidentID      int64     `gorm:"column:incident_id;type:bigint;not null;unique"`
	ModelName       string    `gorm:"column:model_name;type:text;not null"`
	ModelVersion    string    `gorm:"column:model_version;type:text;not null"`
	Embedding       string    `gorm:"column:embedding;type:vector(1024);not null"`
	EmbeddedAt      time.Time `gorm:"column:embedded_at;type:timestamptz;not null;default:now()"`
	ServiceEndpoint string    `gorm:"column:service_endpoint;type:text;not null;default:''"`
}

func (IncidentEmbedding) TableName() string { return "airspace.incident_embeddings" }

// ResolutionEvent maps airspace.resolution_events, the append-only audit
// log of every cascade decision. Merge history lives here, never as live
// graph edges between incidents.
type ResolutionEvent struct {
	EventID         int64     `gorm:"column:event_id;primaryKey;autoIncrement"`
	EventUUID       string    `gorm:"column:event_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	ContentHash     []byte    `gorm:"column:content_hash;type:bytea;not null"`
	SourceURL       string    `gorm:"column:source_url;type:text;not null"`
	Decision        string    `gorm:"column:decision;type:text;not null"`
	Tier            string    `gorm:"column:tier;type:text;not null"`
	IncidentID      *int64    `gorm:"column:incident_id;type:bigint"`
	BestCandidateID *int64    `gorm:"column:best_candidate_id;type:bigint"`
	Similarity      *float64  `gorm:"column:similarity;type:double precision"`
	Confidence      *float64  `gorm:"column:confidence;type:double precision"`
	CreatedAt       time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (ResolutionEvent) TableName() string { return "airspace.resolution_events" }

// FeedbackRecord maps airspace.feedback_records.
type FeedbackRecord struct {
	FeedbackID  int64     `gorm:"column:feedback_id;primaryKey;autoIncrement"`
	IncidentA   int64     `gorm:"column:incident_a;type:bigint;not null"`
	IncidentB   int64     `gorm:"column:incident_b;type:bigint;not null"`
	Tier        string    `gorm:"column:tier;type:text;not null"`
	Decision    string    `gorm:"column:decision;type:text;not null"`
	CorrectedTo string    `gorm:"column:corrected_to;type:text;not null"`
	Note        *string   `gorm:"column:note;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (FeedbackRecord) TableName() string { return "airspace.feedback_records" }

func autoMigrateModels() []any {
	return []any{
		&Incident{},
		&IncidentSource{},
		&IncidentEmbedding{},
		&ResolutionEvent{},
		&FeedbackRecord{},
	}
}
