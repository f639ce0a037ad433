package payloadschema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidateCandidatePayload_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"title":"Drone spotted over Kastrup runway 22L",
		"narrative":"Tower reported a quadcopter hovering near the approach path.",
		"occurred_at":"2026-03-01T21:15:00Z",
		"latitude":55.618,
		"longitude":12.656,
		"category":"airport",
		"source":{
			"url":"https://example.org/reports/4411",
			"trust_weight":4,
			"publisher":"Civil Aviation Authority",
			"quote":"Operations were suspended for 25 minutes."
		}
	}`)

	report, err := ValidateCandidatePayload(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}

	if report.Category != "airport" {
		t.Fatalf("expected category=airport, got %q", report.Category)
	}
	if report.Source.TrustWeight != 4 {
		t.Fatalf("expected trust_weight=4, got %d", report.Source.TrustWeight)
	}

	candidate, err := report.ToCandidate()
	if err != nil {
		t.Fatalf("expected candidate conversion to succeed, got: %v", err)
	}
	if candidate.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be parsed")
	}
	if candidate.Source.Quote == nil {
		t.Fatalf("expected quote to survive conversion")
	}
}

func TestValidateCandidatePayload_MissingRequired(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"title":"No coordinates",
		"occurred_at":"2026-03-01T21:15:00Z",
		"category":"airport",
		"source":{"url":"https://example.org/reports/1","trust_weight":2}
	}`)

	_, err := ValidateCandidatePayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for missing coordinates")
	}
}

func TestValidateCandidatePayload_WhitespaceTitle(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"title":"   ",
		"occurred_at":"2026-03-01T21:15:00Z",
		"latitude":55.6,
		"longitude":12.6,
		"category":"airport",
		"source":{"url":"https://example.org/reports/2","trust_weight":2}
	}`)

	_, err := ValidateCandidatePayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for whitespace-only title")
	}
	if !strings.Contains(err.Error(), "title must not be empty") {
		t.Fatalf("expected title semantic error, got: %v", err)
	}
}

func TestValidateCandidatePayload_BadSourceScheme(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"title":"Sighting",
		"occurred_at":"2026-03-01T21:15:00Z",
		"latitude":55.6,
		"longitude":12.6,
		"category":"airport",
		"source":{"url":"ftp://example.org/reports/3","trust_weight":2}
	}`)

	_, err := ValidateCandidatePayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for non-http source url")
	}
	if !strings.Contains(err.Error(), "http or https") {
		t.Fatalf("expected scheme error, got: %v", err)
	}
}

func TestValidateCandidatePayload_TrailingContent(t *testing.T) {
	payload := json.RawMessage(`{"payload_version":"v1"} {"extra":true}`)

	_, err := ValidateCandidatePayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for trailing content")
	}
}

func TestValidateCandidatePayload_TrustWeightOutOfRange(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"title":"Sighting",
		"occurred_at":"2026-03-01T21:15:00Z",
		"latitude":55.6,
		"longitude":12.6,
		"category":"airport",
		"source":{"url":"https://example.org/reports/5","trust_weight":9}
	}`)

	_, err := ValidateCandidatePayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for trust_weight out of range")
	}
}
