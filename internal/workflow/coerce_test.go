package workflow

import (
	"reflect"
	"testing"

	"server/internal/provider"
)

func TestCoerceParams(t *testing.T) {
	schema := map[string]provider.ParamSpec{
		"image_urls": {Type: provider.ParamArray},
		"seed":       {Type: provider.ParamNumber},
		"size":       {Type: provider.ParamString},
		"watermark":  {Type: provider.ParamBoolean},
	}

	params := map[string]any{
		"image_urls": "https://cdn.test/one.png",
		"seed":       "42",
		"size":       []any{"1024x1024"},
		"watermark":  "yes",
		"extra":      "untouched",
	}

	got := CoerceParams(params, schema)

	if !reflect.DeepEqual(got["image_urls"], []any{"https://cdn.test/one.png"}) {
		t.Fatalf("image_urls = %v, want wrapped array", got["image_urls"])
	}
	if got["seed"] != float64(42) {
		t.Fatalf("seed = %v (%T), want 42", got["seed"], got["seed"])
	}
	if got["size"] != "1024x1024" {
		t.Fatalf("size = %v, want unwrapped scalar", got["size"])
	}
	if got["watermark"] != true {
		t.Fatalf("watermark = %v, want true", got["watermark"])
	}
	if got["extra"] != "untouched" {
		t.Fatalf("undeclared param must pass through")
	}
}

func TestCoerceParamsEmptySchema(t *testing.T) {
	params := map[string]any{"anything": []any{1, 2}}
	if got := CoerceParams(params, nil); !reflect.DeepEqual(got, params) {
		t.Fatalf("empty schema must pass params through")
	}
}

func TestCoerceValueArrayKeepsArray(t *testing.T) {
	v := coerceValue([]any{"a", "b"}, provider.ParamSpec{Type: provider.ParamArray})
	if !reflect.DeepEqual(v, []any{"a", "b"}) {
		t.Fatalf("array input changed: %v", v)
	}
}

func TestCoerceValueUncoercible(t *testing.T) {
	// An unparseable number stays as provided; the provider reports the error.
	v := coerceValue("not-a-number", provider.ParamSpec{Type: provider.ParamNumber})
	if v != "not-a-number" {
		t.Fatalf("value = %v", v)
	}
}

func TestCoerceBoolForms(t *testing.T) {
	spec := provider.ParamSpec{Type: provider.ParamBoolean}
	truthy := []any{true, "true", "1", "yes", float64(1)}
	for _, in := range truthy {
		if v := coerceValue(in, spec); v != true {
			t.Fatalf("%v (%T) = %v, want true", in, in, v)
		}
	}
	falsy := []any{false, "false", "0", "no", float64(0)}
	for _, in := range falsy {
		if v := coerceValue(in, spec); v != false {
			t.Fatalf("%v (%T) = %v, want false", in, in, v)
		}
	}
}
