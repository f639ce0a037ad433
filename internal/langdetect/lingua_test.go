package langdetect

import "testing"

func TestDetectISO6391SkipsShortInput(t *testing.T) {
	t.Parallel()

	// Inputs with fewer than six letters never reach the model.
	if code := DetectISO6391(""); code != "" {
		t.Fatalf("expected empty code for empty input, got %q", code)
	}
	if code := DetectISO6391("  42  "); code != "" {
		t.Fatalf("expected empty code for numeric input, got %q", code)
	}
	if code := DetectISO6391("ok"); code != "" {
		t.Fatalf("expected empty code for short input, got %q", code)
	}
}

func TestDetectISO6391KnownLanguages(t *testing.T) {
	if testing.Short() {
		t.Skip("language models are slow to load")
	}
	t.Parallel()

	cases := map[string]string{
		"A drone was observed hovering above the airport perimeter fence for several minutes.": "en",
		"Eine Drohne wurde über dem Flughafengelände gesichtet und die Polizei wurde alarmiert.": "de",
		"En drone blev observeret over lufthavnen og flytrafikken blev indstillet i en periode.": "da",
	}

	for text, want := range cases {
		if got := DetectISO6391(text); got != want {
			t.Fatalf("expected %q for %q, got %q", want, text, got)
		}
	}
}
