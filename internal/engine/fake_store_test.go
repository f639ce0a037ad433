package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// fakeStore is an in-memory Store and FeedbackSink with per-method call
// counters, so tests can assert which tiers actually ran.
type fakeStore struct {
	mu         sync.Mutex
	nextID     int64
	incidents  map[int64]*Incident
	embeddings map[int64][]float64
	events     []ResolutionEvent
	feedback   []FeedbackRecord

	findSourceURLCalls int
	findHashCalls      int
	windowCalls        int
	nearestCalls       int
	createCalls        int
	mergeCalls         int
	touchCalls         int

	windowErr  error
	createErr  error
	nearestErr error

	// onCreateConflict runs while createErr is consumed, letting a test
	// insert the "winning" incident as if a concurrent worker just did.
	onCreateConflict func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		incidents:  make(map[int64]*Incident),
		embeddings: make(map[int64][]float64),
	}
}

func (f *fakeStore) FindBySourceURL(_ context.Context, url string) (*Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findSourceURLCalls++
	for _, incident := range f.incidents {
		for _, source := range incident.Sources {
			if source.URL == url {
				return cloneIncident(incident), nil
			}
		}
	}
	return nil, nil
}

func (f *fakeStore) FindByContentHash(_ context.Context, hash []byte) (*Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findHashCalls++
	for _, incident := range f.incidents {
		if string(incident.ContentHash) == string(hash) {
			return cloneIncident(incident), nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindInWindow(_ context.Context, box GeoBox, from, to time.Time, limit int) ([]*Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windowCalls++
	if f.windowErr != nil {
		return nil, f.windowErr
	}

	var out []*Incident
	for _, incident := range f.incidents {
		if inWindow(incident, box, from, to) {
			out = append(out, cloneIncident(incident))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) NearestByEmbedding(_ context.Context, vector []float64, box GeoBox, from, to time.Time, limit int) ([]EmbeddingMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nearestCalls++
	if f.nearestErr != nil {
		return nil, f.nearestErr
	}

	var matches []EmbeddingMatch
	for id, incident := range f.incidents {
		embedding, ok := f.embeddings[id]
		if !ok || !inWindow(incident, box, from, to) {
			continue
		}
		matches = append(matches, EmbeddingMatch{
			Incident: cloneIncident(incident),
			Cosine:   cosineSim(vector, embedding),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Cosine > matches[j].Cosine })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (f *fakeStore) CreateIncident(_ context.Context, incident *Incident, embedding []float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		err := f.createErr
		f.createErr = nil
		if f.onCreateConflict != nil {
			f.onCreateConflict()
		}
		return err
	}

	for _, existing := range f.incidents {
		if string(existing.ContentHash) == string(incident.ContentHash) {
			return ErrUniquenessConflict
		}
	}

	f.nextID++
	incident.ID = f.nextID
	incident.UUID = fmt.Sprintf("00000000-0000-0000-0000-%012d", f.nextID)
	f.incidents[incident.ID] = cloneIncident(incident)
	if len(embedding) > 0 {
		f.embeddings[incident.ID] = append([]float64(nil), embedding...)
	}
	return nil
}

func (f *fakeStore) MergeIncident(_ context.Context, incidentID int64, update MergeUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mergeCalls++

	incident, ok := f.incidents[incidentID]
	if !ok {
		return fmt.Errorf("incident %d not found", incidentID)
	}
	incident.Title = update.Title
	incident.Narrative = update.Narrative
	incident.EvidenceScore = update.EvidenceScore
	if update.FirstSeenAt.Before(incident.FirstSeenAt) {
		incident.FirstSeenAt = update.FirstSeenAt
	}
	if update.LastSeenAt.After(incident.LastSeenAt) {
		incident.LastSeenAt = update.LastSeenAt
	}
	if update.NewSource != nil && !hasSourceURL(incident.Sources, update.NewSource.URL) {
		incident.Sources = append(incident.Sources, *update.NewSource)
	}
	return nil
}

func (f *fakeStore) TouchLastSeen(_ context.Context, incidentID int64, seenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchCalls++

	incident, ok := f.incidents[incidentID]
	if !ok {
		return fmt.Errorf("incident %d not found", incidentID)
	}
	if seenAt.After(incident.LastSeenAt) {
		incident.LastSeenAt = seenAt
	}
	return nil
}

func (f *fakeStore) AppendResolutionEvent(_ context.Context, event ResolutionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeStore) AppendFeedback(_ context.Context, record FeedbackRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, record)
	return nil
}

// insertLocked stores an incident without going through CreateIncident.
// Caller must hold f.mu (or be inside a store callback).
func (f *fakeStore) insertLocked(incident *Incident) {
	f.nextID++
	incident.ID = f.nextID
	incident.UUID = fmt.Sprintf("00000000-0000-0000-0000-%012d", f.nextID)
	f.incidents[incident.ID] = cloneIncident(incident)
}

func (f *fakeStore) incidentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.incidents)
}

func (f *fakeStore) get(id int64) *Incident {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneIncident(f.incidents[id])
}

func inWindow(incident *Incident, box GeoBox, from, to time.Time) bool {
	if incident.Latitude < box.LatMin || incident.Latitude > box.LatMax {
		return false
	}
	if incident.Longitude < box.LonMin || incident.Longitude > box.LonMax {
		return false
	}
	return !incident.OccurredAt.Before(from) && !incident.OccurredAt.After(to)
}

func cloneIncident(incident *Incident) *Incident {
	if incident == nil {
		return nil
	}
	clone := *incident
	clone.Sources = append([]Source(nil), incident.Sources...)
	clone.ContentHash = append([]byte(nil), incident.ContentHash...)
	return &clone
}

func cosineSim(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// stubEmbedder maps exact input text to a fixed vector.
type stubEmbedder struct {
	mu          sync.Mutex
	vectors     map[string][]float64
	fallbackVec []float64
	err         error
	calls       int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if vector, ok := s.vectors[text]; ok {
		return vector, nil
	}
	if s.fallbackVec != nil {
		return s.fallbackVec, nil
	}
	return []float64{1, 0, 0}, nil
}

// stubJudge returns a fixed verdict.
type stubJudge struct {
	mu      sync.Mutex
	verdict Verdict
	err     error
	calls   int
}

func (s *stubJudge) Judge(_ context.Context, _, _ IncidentSummary) (Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return Verdict{}, s.err
	}
	return s.verdict, nil
}

type stubDetector struct{ code string }

func (s stubDetector) DetectISO6391(string) string { return s.code }
