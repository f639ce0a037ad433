package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// IncidentSummary is the structured comparison payload the arbiter sees.
type IncidentSummary struct {
	Title     string    `json:"title"`
	Narrative string    `json:"narrative"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Category  string    `json:"category"`
	Occurred  time.Time `json:"occurred_at"`
}

const (
	VerdictDuplicate = "duplicate"
	VerdictDistinct  = "distinct"
)

// Verdict is the arbiter's answer for one borderline pair.
type Verdict struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Judge is the reasoning capability seam used only for Tier-2 borderline
// scores. Implementations carry their own timeout and at most one retry.
type Judge interface {
	Judge(ctx context.Context, a, b IncidentSummary) (Verdict, error)
}

// HTTPJudge submits the pair to an external reasoning service. One retry;
// a malformed response is an error, which the resolver treats as distinct.
type HTTPJudge struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
	Client   *http.Client
}

type judgeRequest struct {
	Model string          `json:"model,omitempty"`
	A     IncidentSummary `json:"a"`
	B     IncidentSummary `json:"b"`
}

func (j *HTTPJudge) Judge(ctx context.Context, a, b IncidentSummary) (Verdict, error) {
	verdict, err := j.call(ctx, a, b)
	if err == nil {
		return verdict, nil
	}
	if ctx.Err() != nil {
		return Verdict{}, err
	}
	return j.call(ctx, a, b)
}

func (j *HTTPJudge) call(ctx context.Context, a, b IncidentSummary) (Verdict, error) {
	body, err := json.Marshal(judgeRequest{Model: j.Model, A: a, B: b})
	if err != nil {
		return Verdict{}, fmt.Errorf("marshal judge request: %w", err)
	}

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	requestCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, j.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("build judge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := j.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("judge request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Verdict{}, fmt.Errorf("read judge response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Verdict{}, fmt.Errorf("judge service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var verdict Verdict
	if err := json.Unmarshal(respBody, &verdict); err != nil {
		return Verdict{}, fmt.Errorf("decode judge response: %w", err)
	}
	switch verdict.Verdict {
	case VerdictDuplicate, VerdictDistinct:
	default:
		return Verdict{}, fmt.Errorf("judge returned unknown verdict %q", verdict.Verdict)
	}
	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return Verdict{}, fmt.Errorf("judge confidence %f outside [0,1]", verdict.Confidence)
	}
	return verdict, nil
}

func summarizeIncident(incident *Incident) IncidentSummary {
	return IncidentSummary{
		Title:     incident.Title,
		Narrative: excerpt(incident.Narrative, 600),
		Latitude:  incident.Latitude,
		Longitude: incident.Longitude,
		Category:  incident.Category,
		Occurred:  incident.OccurredAt,
	}
}

func summarizeCandidate(candidate Normalized) IncidentSummary {
	return IncidentSummary{
		Title:     candidate.Title,
		Narrative: excerpt(candidate.Narrative, 600),
		Latitude:  candidate.Latitude,
		Longitude: candidate.Longitude,
		Category:  candidate.Category,
		Occurred:  candidate.OccurredAt,
	}
}

func excerpt(text string, limit int) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= limit {
		return trimmed
	}
	runes := []rune(trimmed)
	if len(runes) <= limit {
		return trimmed
	}
	return string(runes[:limit])
}
