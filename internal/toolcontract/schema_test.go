package toolcontract

import "testing"

func TestValidateLenientAcceptsMinimalSchema(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
	if err := ValidateLenient(schema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateLenientRejectsNonObjectType(t *testing.T) {
	schema := map[string]any{"type": "string"}
	if err := ValidateLenient(schema); err == nil {
		t.Fatal("expected error for non-object top-level type")
	}
}

func TestValidateLenientRejectsMissingRequiredProperty(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"a": map[string]any{"type": "string"}},
		"required":   []any{"b"},
	}
	if err := ValidateLenient(schema); err == nil {
		t.Fatal("expected error for required field absent from properties")
	}
}

func TestValidateLenientRejectsArrayWithoutItems(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"list": map[string]any{"type": "array"},
		},
	}
	if err := ValidateLenient(schema); err == nil {
		t.Fatal("expected error for array property missing items")
	}
}

func TestValidateLenientAllowsPropertyWithoutType(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"anything": map[string]any{},
		},
	}
	if err := ValidateLenient(schema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateLenientRecursesIntoNestedObjects(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"nested": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"inner": map[string]any{"type": "array"},
				},
			},
		},
	}
	if err := ValidateLenient(schema); err == nil {
		t.Fatal("expected error from nested array property missing items")
	}
}

func TestStrictValidateRejectsMalformedSchema(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": "not-an-object",
	}
	if err := StrictValidate("t", schema); err == nil {
		t.Fatal("expected strict validation to reject a malformed schema")
	}
}

func TestStrictValidateAcceptsWellFormedSchema(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "string"},
		},
	}
	if err := StrictValidate("t", schema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
