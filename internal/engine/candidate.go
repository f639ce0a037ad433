package engine

import (
	"crypto/sha256"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode"
)

// LanguageDetector tags the narrative language during normalization.
// Best effort: an empty result is stored as "und".
type LanguageDetector interface {
	DetectISO6391(text string) string
}

const (
	// coordPrecision rounds latitude/longitude to 3 decimal places, about
	// 100 m of ground distance. Both the content hash and the bucket key
	// depend on it, so changing it invalidates stored hashes.
	coordPrecision = 3

	earliestOccurrence = "2000-01-01T00:00:00Z"
	maxFutureSkew      = 24 * time.Hour
)

// NormalizeCandidate validates a raw candidate and derives the keys every
// downstream tier needs. Pure apart from language detection; rejected
// candidates never reach a matcher.
func NormalizeCandidate(raw Candidate, detector LanguageDetector, cfg Config, now time.Time) (Normalized, error) {
	if err := validateCandidate(raw, cfg, now); err != nil {
		return Normalized{}, err
	}

	normalized := Normalized{Candidate: raw}
	normalized.Title = strings.TrimSpace(raw.Title)
	normalized.Narrative = strings.TrimSpace(raw.Narrative)
	normalized.OccurredAt = raw.OccurredAt.UTC()
	normalized.Category = strings.ToLower(strings.TrimSpace(raw.Category))
	normalized.Source.URL = strings.TrimSpace(raw.Source.URL)
	normalized.Source.Publisher = strings.TrimSpace(raw.Source.Publisher)

	normalized.NormalizedTitle = normalizeText(normalized.Title)
	normalized.Language = "und"
	if detector != nil {
		if code := detector.DetectISO6391(normalized.Narrative + " " + normalized.Title); code != "" {
			normalized.Language = code
		}
	}

	normalized.ContentHash = contentHash(normalized)
	normalized.BucketKey = bucketKey(normalized.Latitude, normalized.Longitude, normalized.Category)
	return normalized, nil
}

func validateCandidate(raw Candidate, cfg Config, now time.Time) error {
	if strings.TrimSpace(raw.Title) == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if raw.OccurredAt.IsZero() {
		return &ValidationError{Field: "occurred_at", Reason: "is required"}
	}
	earliest, _ := time.Parse(time.RFC3339, earliestOccurrence)
	if raw.OccurredAt.Before(earliest) {
		return &ValidationError{Field: "occurred_at", Reason: fmt.Sprintf("before %s", earliestOccurrence)}
	}
	if raw.OccurredAt.After(now.Add(maxFutureSkew)) {
		return &ValidationError{Field: "occurred_at", Reason: "too far in the future"}
	}
	if math.IsNaN(raw.Latitude) || raw.Latitude < -90 || raw.Latitude > 90 {
		return &ValidationError{Field: "latitude", Reason: "outside [-90,90]"}
	}
	if math.IsNaN(raw.Longitude) || raw.Longitude < -180 || raw.Longitude > 180 {
		return &ValidationError{Field: "longitude", Reason: "outside [-180,180]"}
	}
	category := strings.ToLower(strings.TrimSpace(raw.Category))
	if !cfg.CategoryKnown(category) {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown value %q", raw.Category)}
	}
	sourceURL := strings.TrimSpace(raw.Source.URL)
	if sourceURL == "" {
		return &ValidationError{Field: "source.url", Reason: "is required"}
	}
	if parsed, err := url.Parse(sourceURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return &ValidationError{Field: "source.url", Reason: "is not an absolute URL"}
	}
	maxWeight := cfg.Trust.MaxWeight
	if maxWeight <= 0 {
		maxWeight = 4
	}
	if raw.Source.TrustWeight < 1 || raw.Source.TrustWeight > maxWeight {
		return &ValidationError{Field: "source.trust_weight", Reason: fmt.Sprintf("outside [1,%d]", maxWeight)}
	}
	return nil
}

// contentHash digests the fields that identify one real-world sighting:
// rounded occurrence date, rounded location, alphanumeric title, category.
func contentHash(n Normalized) []byte {
	key := strings.Join([]string{
		n.OccurredAt.UTC().Format("2006-01-02"),
		roundCoord(n.Latitude),
		roundCoord(n.Longitude),
		alnumTitleKey(n.NormalizedTitle),
		n.Category,
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return append([]byte(nil), sum[:]...)
}

func bucketKey(latitude, longitude float64, category string) string {
	return roundCoord(latitude) + ":" + roundCoord(longitude) + ":" + category
}

func roundCoord(v float64) string {
	factor := math.Pow10(coordPrecision)
	rounded := math.Round(v*factor) / factor
	if rounded == 0 {
		rounded = 0 // normalize -0
	}
	return fmt.Sprintf("%.*f", coordPrecision, rounded)
}

func alnumTitleKey(normalizedTitle string) string {
	var b strings.Builder
	b.Grow(len(normalizedTitle))
	for _, r := range normalizedTitle {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func normalizeText(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}
