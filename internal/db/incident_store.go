package db

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"skywatch.live/sentinel/internal/engine"
	"skywatch.live/sentinel/internal/globaltime"
)

const semanticSearchEF = 64

// IncidentStore is the Postgres implementation of engine.Store and
// engine.FeedbackSink. Raw SQL through the pool, same as every other
// query in this package.
type IncidentStore struct {
	pool            *Pool
	modelName       string
	modelVersion    string
	serviceEndpoint string
	dimensions      int
}

func NewIncidentStore(pool *Pool, modelName, modelVersion, serviceEndpoint string, dimensions int) *IncidentStore {
	return &IncidentStore{
		pool:            pool,
		modelName:       modelName,
		modelVersion:    modelVersion,
		serviceEndpoint: serviceEndpoint,
		dimensions:      dimensions,
	}
}

const incidentColumns = `
	i.incident_id,
	i.incident_uuid,
	i.category,
	i.title,
	i.narrative,
	i.occurred_at,
	i.latitude,
	i.longitude,
	i.content_hash,
	i.bucket_key,
	i.evidence_score,
	i.language,
	i.first_seen_at,
	i.last_seen_at
`

func (s *IncidentStore) FindBySourceURL(ctx context.Context, url string) (*engine.Incident, error) {
	q := `
SELECT ` + incidentColumns + `
FROM airspace.incidents i
JOIN airspace.incident_sources src ON src.incident_id = i.incident_id
WHERE i.status = 'active'
  AND i.deleted_at IS NULL
  AND src.url = $1
ORDER BY i.last_seen_at DESC
LIMIT 1
`
	incident, err := s.queryOneIncident(ctx, q, url)
	if err != nil {
		return nil, fmt.Errorf("find incident by source url: %w", err)
	}
	return incident, nil
}

func (s *IncidentStore) FindByContentHash(ctx context.Context, hash []byte) (*engine.Incident, error) {
	if len(hash) == 0 {
		return nil, nil
	}
	q := `
SELECT ` + incidentColumns + `
FROM airspace.incidents i
WHERE i.status = 'active'
  AND i.deleted_at IS NULL
  AND i.content_hash = $1
LIMIT 1
`
	incident, err := s.queryOneIncident(ctx, q, hash)
	if err != nil {
		return nil, fmt.Errorf("find incident by content hash: %w", err)
	}
	return incident, nil
}

func (s *IncidentStore) FindInWindow(ctx context.Context, box engine.GeoBox, from, to time.Time, limit int) ([]*engine.Incident, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
SELECT ` + incidentColumns + `
FROM airspace.incidents i
WHERE i.status = 'active'
  AND i.deleted_at IS NULL
  AND i.latitude BETWEEN $1 AND $2
  AND i.longitude BETWEEN $3 AND $4
  AND i.occurred_at BETWEEN $5 AND $6
ORDER BY i.last_seen_at DESC
LIMIT $7
`
	rows, err := s.pool.Query(ctx, q, box.LatMin, box.LatMax, box.LonMin, box.LonMax, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query incident window: %w", err)
	}
	defer rows.Close()

	incidents, err := scanIncidents(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachSources(ctx, incidents); err != nil {
		return nil, err
	}
	return incidents, nil
}

func (s *IncidentStore) NearestByEmbedding(ctx context.Context, vector []float64, box engine.GeoBox, from, to time.Time, limit int) ([]engine.EmbeddingMatch, error) {
	if limit <= 0 {
		limit = 20
	}
	literal, err := vectorLiteral(vector, s.dimensions)
	if err != nil {
		return nil, fmt.Errorf("build query vector: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin vector search tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", semanticSearchEF)); err != nil {
		return nil, fmt.Errorf("set hnsw.ef_search: %w", err)
	}

	q := `
SELECT ` + incidentColumns + `,
	(1 - (e.embedding <=> $1::vector))::DOUBLE PRECISION AS cosine
FROM airspace.incidents i
JOIN airspace.incident_embeddings e
	ON e.incident_id = i.incident_id
	AND e.model_name = $2
	AND e.model_version = $3
WHERE i.status = 'active'
  AND i.deleted_at IS NULL
  AND i.latitude BETWEEN $4 AND $5
  AND i.longitude BETWEEN $6 AND $7
  AND i.occurred_at BETWEEN $8 AND $9
ORDER BY e.embedding <=> $1::vector ASC
LIMIT $10
`
	rows, err := tx.Query(ctx, q, literal, s.modelName, s.modelVersion, box.LatMin, box.LatMax, box.LonMin, box.LonMax, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest embeddings: %w", err)
	}

	matches := make([]engine.EmbeddingMatch, 0, limit)
	for rows.Next() {
		incident := &engine.Incident{}
		var cosine float64
		if err := scanIncidentInto(rows, incident, &cosine); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan embedding match: %w", err)
		}
		matches = append(matches, engine.EmbeddingMatch{Incident: incident, Cosine: cosine})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate embedding matches: %w", err)
	}
	rows.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit vector search tx: %w", err)
	}

	incidents := make([]*engine.Incident, 0, len(matches))
	for _, match := range matches {
		incidents = append(incidents, match.Incident)
	}
	if err := s.attachSources(ctx, incidents); err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *IncidentStore) CreateIncident(ctx context.Context, incident *engine.Incident, embedding []float64) error {
	tx, err := s.pool.BeginTx(ctx, TxOptions{})
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := globaltime.UTC()
	const insertIncident = `
INSERT INTO airspace.incidents (
	category,
	title,
	narrative,
	occurred_at,
	latitude,
	longitude,
	content_hash,
	bucket_key,
	evidence_score,
	language,
	status,
	first_seen_at,
	last_seen_at,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'active', $11, $12, $13, $13)
RETURNING incident_id, incident_uuid
`
	err = tx.QueryRow(
		ctx,
		insertIncident,
		incident.Category,
		incident.Title,
		incident.Narrative,
		incident.OccurredAt,
		incident.Latitude,
		incident.Longitude,
		incident.ContentHash,
		incident.BucketKey,
		incident.EvidenceScore,
		incident.Language,
		incident.FirstSeenAt,
		incident.LastSeenAt,
		now,
	).Scan(&incident.ID, &incident.UUID)
	if err != nil {
		if isUniqueViolation(err) {
			return engine.ErrUniquenessConflict
		}
		return fmt.Errorf("insert incident: %w", err)
	}

	for _, source := range incident.Sources {
		if err := insertSourceTx(ctx, tx, incident.ID, source); err != nil {
			return err
		}
	}

	if len(embedding) > 0 {
		literal, err := vectorLiteral(embedding, s.dimensions)
		if err != nil {
			return fmt.Errorf("build incident embedding: %w", err)
		}
		const insertEmbedding = `
INSERT INTO airspace.incident_embeddings (
	incident_id,
	model_name,
	model_version,
	embedding,
	embedded_at,
	service_endpoint
)
VALUES ($1, $2, $3, $4::vector, $5, $6)
ON CONFLICT (incident_id) DO NOTHING
`
		if _, err := tx.Exec(ctx, insertEmbedding, incident.ID, s.modelName, s.modelVersion, literal, now, s.serviceEndpoint); err != nil {
			return fmt.Errorf("insert incident embedding incident_id=%d: %w", incident.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return engine.ErrUniquenessConflict
		}
		return fmt.Errorf("commit create tx: %w", err)
	}
	return nil
}

func (s *IncidentStore) MergeIncident(ctx context.Context, incidentID int64, update engine.MergeUpdate) error {
	tx, err := s.pool.BeginTx(ctx, TxOptions{})
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := globaltime.UTC()
	const updateIncident = `
UPDATE airspace.incidents
SET
	title = $2,
	narrative = $3,
	evidence_score = $4,
	first_seen_at = LEAST(first_seen_at, $5),
	last_seen_at = GREATEST(last_seen_at, $6),
	updated_at = $7
WHERE incident_id = $1
`
	if _, err := tx.Exec(ctx, updateIncident, incidentID, update.Title, update.Narrative, update.EvidenceScore, update.FirstSeenAt, update.LastSeenAt, now); err != nil {
		return fmt.Errorf("update incident incident_id=%d: %w", incidentID, err)
	}

	if update.NewSource != nil {
		if err := insertSourceTx(ctx, tx, incidentID, *update.NewSource); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge tx: %w", err)
	}
	return nil
}

func (s *IncidentStore) TouchLastSeen(ctx context.Context, incidentID int64, seenAt time.Time) error {
	const q = `
UPDATE airspace.incidents
SET last_seen_at = GREATEST(last_seen_at, $2), updated_at = $2
WHERE incident_id = $1
`
	if _, err := s.pool.Exec(ctx, q, incidentID, seenAt); err != nil {
		return fmt.Errorf("touch incident incident_id=%d: %w", incidentID, err)
	}
	return nil
}

func (s *IncidentStore) AppendResolutionEvent(ctx context.Context, event engine.ResolutionEvent) error {
	const q = `
INSERT INTO airspace.resolution_events (
	content_hash,
	source_url,
	decision,
	tier,
	incident_id,
	best_candidate_id,
	similarity,
	confidence,
	created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err := s.pool.Exec(
		ctx,
		q,
		event.ContentHash,
		event.SourceURL,
		string(event.Decision),
		string(event.Tier),
		event.IncidentID,
		event.BestCandidateID,
		event.Similarity,
		event.Confidence,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert resolution event: %w", err)
	}
	return nil
}

func (s *IncidentStore) AppendFeedback(ctx context.Context, record engine.FeedbackRecord) error {
	const q = `
INSERT INTO airspace.feedback_records (
	incident_a,
	incident_b,
	tier,
	decision,
	corrected_to,
	note,
	created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	_, err := s.pool.Exec(
		ctx,
		q,
		record.IncidentA,
		record.IncidentB,
		string(record.Tier),
		string(record.Decision),
		string(record.CorrectedTo),
		record.Note,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert feedback record: %w", err)
	}
	return nil
}

func insertSourceTx(ctx context.Context, tx Tx, incidentID int64, source engine.Source) error {
	const q = `
INSERT INTO airspace.incident_sources (
	incident_id,
	url,
	trust_weight,
	publisher,
	quote,
	added_at
)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (incident_id, url) DO NOTHING
`
	if _, err := tx.Exec(ctx, q, incidentID, source.URL, source.TrustWeight, source.Publisher, source.Quote, source.AddedAt); err != nil {
		return fmt.Errorf("insert incident source incident_id=%d: %w", incidentID, err)
	}
	return nil
}

func (s *IncidentStore) queryOneIncident(ctx context.Context, query string, args ...any) (*engine.Incident, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	incidents, err := scanIncidents(rows)
	if err != nil {
		return nil, err
	}
	if len(incidents) == 0 {
		return nil, nil
	}
	if err := s.attachSources(ctx, incidents); err != nil {
		return nil, err
	}
	return incidents[0], nil
}

func scanIncidents(rows *Rows) ([]*engine.Incident, error) {
	var incidents []*engine.Incident
	for rows.Next() {
		incident := &engine.Incident{}
		if err := scanIncidentInto(rows, incident); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return incidents, nil
}

func scanIncidentInto(rows *Rows, incident *engine.Incident, extra ...any) error {
	var score int16
	dest := []any{
		&incident.ID,
		&incident.UUID,
		&incident.Category,
		&incident.Title,
		&incident.Narrative,
		&incident.OccurredAt,
		&incident.Latitude,
		&incident.Longitude,
		&incident.ContentHash,
		&incident.BucketKey,
		&score,
		&incident.Language,
		&incident.FirstSeenAt,
		&incident.LastSeenAt,
	}
	dest = append(dest, extra...)
	if err := rows.Scan(dest...); err != nil {
		return err
	}
	incident.EvidenceScore = int(score)
	return nil
}

func (s *IncidentStore) attachSources(ctx context.Context, incidents []*engine.Incident) error {
	if len(incidents) == 0 {
		return nil
	}

	byID := make(map[int64]*engine.Incident, len(incidents))
	ids := make([]string, 0, len(incidents))
	for _, incident := range incidents {
		byID[incident.ID] = incident
		incident.Sources = nil
		ids = append(ids, strconv.FormatInt(incident.ID, 10))
	}

	q := fmt.Sprintf(`
SELECT incident_id, url, trust_weight, publisher, quote, added_at
FROM airspace.incident_sources
WHERE incident_id IN (%s)
ORDER BY incident_id, source_id
`, strings.Join(ids, ","))

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("query incident sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var incidentID int64
		var source engine.Source
		var trust int16
		if err := rows.Scan(&incidentID, &source.URL, &trust, &source.Publisher, &source.Quote, &source.AddedAt); err != nil {
			return fmt.Errorf("scan incident source: %w", err)
		}
		source.TrustWeight = int(trust)
		if incident, ok := byID[incidentID]; ok {
			incident.Sources = append(incident.Sources, source)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate incident sources: %w", err)
	}
	return nil
}

func vectorLiteral(values []float64, dimensions int) (string, error) {
	if dimensions > 0 && len(values) != dimensions {
		return "", fmt.Errorf("expected %d dimensions, got %d", dimensions, len(values))
	}

	var builder strings.Builder
	builder.Grow(len(values) * 8)
	builder.WriteByte('[')
	for i, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return "", fmt.Errorf("vector has non-finite value at index %d", i)
		}
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(value, 'f', -1, 64))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicateKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") || strings.Contains(msg, "duplicate key value")
}
