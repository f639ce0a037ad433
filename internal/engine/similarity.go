package engine

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var diacriticFolder = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// foldTitle lowercases, strips diacritics and rewrites synonym tokens so
// "Drohne über Flughafen" and "drone over flughafen" compare equal.
func foldTitle(title string, synonyms map[string]string) string {
	folded, _, err := transform.String(diacriticFolder, normalizeText(title))
	if err != nil {
		folded = normalizeText(title)
	}

	tokens := tokenize(folded)
	if len(tokens) == 0 {
		return ""
	}
	for i, token := range tokens {
		if canonical, ok := synonyms[token]; ok {
			tokens[i] = canonical
		}
	}
	return strings.Join(tokens, " ")
}

// TitleSimilarity is the fuzzy-tier score in [0,1]: the better of token
// jaccard (robust to reordering) and trigram jaccard (robust to inflection)
// over folded, synonym-expanded titles.
func TitleSimilarity(left, right string, synonyms map[string]string) float64 {
	a := foldTitle(left, synonyms)
	b := foldTitle(right, synonyms)
	if a == "" || b == "" {
		return 0
	}
	token := tokenJaccard(a, b)
	trigram := trigramJaccard(a, b)
	if token > trigram {
		return token
	}
	return trigram
}

func tokenize(text string) []string {
	normalized := normalizeText(text)
	if normalized == "" {
		return nil
	}

	parts := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		tokens = append(tokens, p)
	}
	return tokens
}

func tokenSet(text string) map[string]struct{} {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

func tokenJaccard(left, right string) float64 {
	return jaccard(tokenSet(left), tokenSet(right))
}

func trigramJaccard(left, right string) float64 {
	return jaccard(trigramSet(left), trigramSet(right))
}

func trigramSet(text string) map[string]struct{} {
	normalized := normalizeText(text)
	if normalized == "" {
		return nil
	}

	runes := []rune(normalized)
	if len(runes) < 3 {
		return map[string]struct{}{string(runes): {}}
	}

	set := make(map[string]struct{}, len(runes)-2)
	for i := 0; i <= len(runes)-3; i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

func jaccard(left, right map[string]struct{}) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	intersection := 0
	for key := range left {
		if _, ok := right[key]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}

	union := len(left) + len(right) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
