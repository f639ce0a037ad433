package db

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestValidateEmbeddingDimensions(t *testing.T) {
	t.Parallel()

	if err := validateEmbeddingDimensions(EmbeddingDimensions); err != nil {
		t.Fatalf("pinned dimensions rejected: %v", err)
	}
	if err := validateEmbeddingDimensions(4096); err == nil {
		t.Fatalf("expected mismatched dimensions to be rejected")
	}
}

func TestEmbeddingColumnMatchesPinnedDimensions(t *testing.T) {
	t.Parallel()

	field, ok := reflect.TypeOf(IncidentEmbedding{}).FieldByName("Embedding")
	if !ok {
		t.Fatalf("embedding field missing from model")
	}
	want := fmt.Sprintf("vector(%d)", EmbeddingDimensions)
	if tag := field.Tag.Get("gorm"); !strings.Contains(tag, want) {
		t.Fatalf("embedding column tag %q does not pin %s", tag, want)
	}
}
