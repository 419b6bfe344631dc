package mapping

import (
	"testing"
)

func TestResolverBuiltinAliases(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	resolver := NewResolver(nil)

	tests := []struct {
		header string
		want   string
	}{
		{"sku", FieldSKU},
		{"SKU", FieldSKU},
		{"item_code", FieldSKU},
		{"ItemCode", FieldSKU},
		{"name", FieldName},
		{"title", FieldName},
		{"description", FieldDescription},
		{"desc", FieldDescription},
		{"  Desc  ", FieldDescription},
		{"\ufeffsku", FieldSKU},
		{"unknown_column", "unknown_column"},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if got := resolver.Resolve(tt.header); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestResolverConfigOverridesBuiltin(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	resolver := NewResolver(&Config{
		ColumnAliases: map[string]string{
			"Title":    "description", // overrides the built-in title → name
			"art_nr":   "sku",
			"EAN Code": "sku",
		},
	})

	tests := []struct {
		header string
		want   string
	}{
		{"title", FieldDescription},
		{"art_nr", FieldSKU},
		{"ean code", FieldSKU},
		{"name", FieldName},
	}

	for _, tt := range tests {
		if got := resolver.Resolve(tt.header); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
