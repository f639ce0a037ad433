package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"skywatch.live/sentinel/internal/engine"
)

//go:embed candidate_report.schema.json
var candidateReportSchemaJSON string

type CandidateSource struct {
	URL         string  `json:"url"`
	TrustWeight int     `json:"trust_weight"`
	Publisher   string  `json:"publisher,omitempty"`
	Quote       *string `json:"quote,omitempty"`
}

type CandidateReport struct {
	PayloadVersion string          `json:"payload_version"`
	Title          string          `json:"title"`
	Narrative      string          `json:"narrative,omitempty"`
	OccurredAt     string          `json:"occurred_at"`
	Latitude       float64         `json:"latitude"`
	Longitude      float64         `json:"longitude"`
	Category       string          `json:"category"`
	Source         CandidateSource `json:"source"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func ValidateCandidatePayload(payload json.RawMessage) (*CandidateReport, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var report CandidateReport
	if err := json.Unmarshal(normalized, &report); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&report); err != nil {
		return nil, err
	}

	return &report, nil
}

// ToCandidate converts a validated report into the engine's input shape.
// The cascade revalidates domain rules on its own; this only maps fields.
func (r *CandidateReport) ToCandidate() (engine.Candidate, error) {
	occurredAt, err := time.Parse(time.RFC3339, strings.TrimSpace(r.OccurredAt))
	if err != nil {
		return engine.Candidate{}, fmt.Errorf("parse occurred_at: %w", err)
	}

	return engine.Candidate{
		Title:      r.Title,
		Narrative:  r.Narrative,
		OccurredAt: occurredAt.UTC(),
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		Category:   strings.ToLower(strings.TrimSpace(r.Category)),
		Source: engine.SourceRef{
			URL:         strings.TrimSpace(r.Source.URL),
			TrustWeight: r.Source.TrustWeight,
			Publisher:   r.Source.Publisher,
			Quote:       r.Source.Quote,
		},
	}, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("candidate_report.schema.json", strings.NewReader(candidateReportSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("candidate_report.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(report *CandidateReport) error {
	if report == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(report.PayloadVersion) != "v1" {
		return fmt.Errorf("payload_version must be v1")
	}
	if strings.TrimSpace(report.Title) == "" {
		return fmt.Errorf("title must not be empty")
	}
	if strings.TrimSpace(report.Category) == "" {
		return fmt.Errorf("category must not be empty")
	}

	if _, err := time.Parse(time.RFC3339, strings.TrimSpace(report.OccurredAt)); err != nil {
		return fmt.Errorf("occurred_at must be RFC3339: %w", err)
	}

	if err := validateURI("source.url", report.Source.URL); err != nil {
		return err
	}
	if report.Source.Quote != nil && strings.TrimSpace(*report.Source.Quote) == "" {
		return fmt.Errorf("source.quote must not be blank when present")
	}

	return nil
}

func validateURI(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", fieldName)
	}
	return nil
}
