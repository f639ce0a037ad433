package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"skywatch.live/sentinel/internal/engine"
)

// IncidentFilter narrows the incident listing. Zero values mean "no
// constraint".
type IncidentFilter struct {
	Category string
	MinScore int
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

func (s *IncidentStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]*engine.Incident, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var (
		conditions = []string{"i.status = 'active'", "i.deleted_at IS NULL"}
		args       []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Category != "" {
		conditions = append(conditions, "i.category = "+arg(filter.Category))
	}
	if filter.MinScore > 0 {
		conditions = append(conditions, "i.evidence_score >= "+arg(filter.MinScore))
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "i.occurred_at >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "i.occurred_at <= "+arg(filter.To))
	}

	q := `
SELECT ` + incidentColumns + `
FROM airspace.incidents i
WHERE ` + strings.Join(conditions, "\n  AND ") + `
ORDER BY i.occurred_at DESC, i.incident_id DESC
LIMIT ` + arg(limit) + ` OFFSET ` + arg(max(0, filter.Offset))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
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

func (s *IncidentStore) GetIncidentByUUID(ctx context.Context, uuid string) (*engine.Incident, error) {
	q := `
SELECT ` + incidentColumns + `
FROM airspace.incidents i
WHERE i.incident_uuid = $1
  AND i.deleted_at IS NULL
LIMIT 1
`
	incident, err := s.queryOneIncident(ctx, q, uuid)
	if err != nil {
		return nil, fmt.Errorf("get incident by uuid: %w", err)
	}
	return incident, nil
}

func (s *IncidentStore) ListResolutionEvents(ctx context.Context, incidentID int64, limit int) ([]engine.ResolutionEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `
SELECT
	content_hash,
	source_url,
	decision,
	tier,
	incident_id,
	best_candidate_id,
	similarity,
	confidence,
	created_at
FROM airspace.resolution_events
WHERE incident_id = $1
ORDER BY event_id DESC
LIMIT $2
`
	rows, err := s.pool.Query(ctx, q, incidentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list resolution events: %w", err)
	}
	defer rows.Close()

	var events []engine.ResolutionEvent
	for rows.Next() {
		var (
			event    engine.ResolutionEvent
			decision string
			tier     string
		)
		if err := rows.Scan(
			&event.ContentHash,
			&event.SourceURL,
			&decision,
			&tier,
			&event.IncidentID,
			&event.BestCandidateID,
			&event.Similarity,
			&event.Confidence,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan resolution event: %w", err)
		}
		event.Decision = engine.Decision(decision)
		event.Tier = engine.Tier(tier)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolution events: %w", err)
	}
	return events, nil
}

// ResolutionStats aggregates the audit log per decision and tier.
type ResolutionStats struct {
	ActiveIncidents int64            `json:"active_incidents"`
	Decisions       map[string]int64 `json:"decisions"`
	Tiers           map[string]int64 `json:"tiers"`
}

func (s *IncidentStore) Stats(ctx context.Context) (*ResolutionStats, error) {
	stats := &ResolutionStats{
		Decisions: make(map[string]int64),
		Tiers:     make(map[string]int64),
	}

	const countActive = `
SELECT COUNT(*)
FROM airspace.incidents
WHERE status = 'active' AND deleted_at IS NULL
`
	if err := s.pool.QueryRow(ctx, countActive).Scan(&stats.ActiveIncidents); err != nil {
		return nil, fmt.Errorf("count active incidents: %w", err)
	}

	const countEvents = `
SELECT decision, tier, COUNT(*)
FROM airspace.resolution_events
GROUP BY decision, tier
`
	rows, err := s.pool.Query(ctx, countEvents)
	if err != nil {
		return nil, fmt.Errorf("count resolution events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			decision string
			tier     string
			count    int64
		)
		if err := rows.Scan(&decision, &tier, &count); err != nil {
			return nil, fmt.Errorf("scan resolution stats: %w", err)
		}
		stats.Decisions[decision] += count
		stats.Tiers[tier] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolution stats: %w", err)
	}
	return stats, nil
}
