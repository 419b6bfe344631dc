package mapping

import "strings"

// Canonical field names the parser consumes.
const (
	FieldSKU         = "sku"
	FieldName        = "name"
	FieldDescription = "description"
)

// builtinAliases cover the export formats seen in the wild without any
// configuration. Config aliases take precedence over these.
var builtinAliases = map[string]string{
	"desc":      FieldDescription,
	"item_code": FieldSKU,
	"itemcode":  FieldSKU,
	"title":     FieldName,
}

// Resolver resolves source column headers to canonical field names.
// Thread-safe for concurrent use (immutable after construction).
//
// Resolution order: configured aliases, then built-in aliases, then the
// header itself (lowercased and trimmed). Unknown headers resolve to their
// own normalized form and are ignored by the parser.
type Resolver struct {
	aliases map[string]string
}

// NewResolver creates a Resolver from configuration. A nil config yields a
// resolver with only the built-in aliases.
func NewResolver(cfg *Config) *Resolver {
	aliases := make(map[string]string, len(builtinAliases))

	for alias, canonical := range builtinAliases {
		aliases[alias] = canonical
	}

	if cfg != nil {
		for alias, canonical := range cfg.ColumnAliases {
			aliases[normalizeHeader(alias)] = normalizeHeader(canonical)
		}
	}

	return &Resolver{aliases: aliases}
}

// Resolve maps a source column header to its canonical field name.
func (r *Resolver) Resolve(header string) string {
	normalized := normalizeHeader(header)

	if canonical, ok := r.aliases[normalized]; ok {
		return canonical
	}

	return normalized
}

// normalizeHeader lowercases and trims a header, including a UTF-8 BOM left
// by spreadsheet exports on the first header cell.
func normalizeHeader(header string) string {
	header = strings.TrimPrefix(header, "\ufeff")

	return strings.ToLower(strings.TrimSpace(header))
}
