package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skuflow-io/skuflow/internal/mapping"
)

func collect(t *testing.T, p *Parser, src string) []CandidateRecord {
	t.Helper()

	var records []CandidateRecord

	err := p.Each(strings.NewReader(src), func(record CandidateRecord) error {
		records = append(records, record)

		return nil
	})
	require.NoError(t, err)

	return records
}

func TestParserEach(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	parser := NewParser(nil)

	src := "sku,name,description\n" +
		"abc-1,Widget,First widget\n" +
		"abc-2,Gadget,Second widget\n"

	records := collect(t, parser, src)

	require.Len(t, records, 2)
	assert.Equal(t, CandidateRecord{SKU: "ABC-1", Name: "Widget", Description: "First widget", Active: true}, records[0])
	assert.Equal(t, CandidateRecord{SKU: "ABC-2", Name: "Gadget", Description: "Second widget", Active: true}, records[1])
}

func TestParserResolvesHeaderAliases(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	parser := NewParser(nil)

	// Built-in aliases: item_code → sku, title → name, desc → description.
	src := "item_code,title,desc\n" +
		"x1,Thing,Something\n"

	records := collect(t, parser, src)

	require.Len(t, records, 1)
	assert.Equal(t, "X1", records[0].SKU)
	assert.Equal(t, "Thing", records[0].Name)
	assert.Equal(t, "Something", records[0].Description)
}

func TestParserConfiguredAliasesTakePrecedence(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	resolver := mapping.NewResolver(&mapping.Config{
		ColumnAliases: map[string]string{"Artikelnummer": "sku", "Bezeichnung": "name"},
	})
	parser := NewParser(resolver)

	src := "artikelnummer,bezeichnung\n" +
		"de-1,Schraube\n"

	records := collect(t, parser, src)

	require.Len(t, records, 1)
	assert.Equal(t, "DE-1", records[0].SKU)
	assert.Equal(t, "Schraube", records[0].Name)
}

func TestParserHandlesBOMHeader(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	parser := NewParser(nil)

	src := "\ufeffSKU,Name\n" +
		"b1,Bolt\n"

	records := collect(t, parser, src)

	require.Len(t, records, 1)
	assert.Equal(t, "B1", records[0].SKU)
}

func TestParserDropsInvalidRows(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	parser := NewParser(nil)

	src := "sku,name,description\n" +
		",No SKU,dropped\n" +
		"nan,Missing SKU,dropped\n" +
		"ok-1,nan,dropped\n" +
		"ok-2,Valid,kept\n"

	records := collect(t, parser, src)

	require.Len(t, records, 1)
	assert.Equal(t, "OK-2", records[0].SKU)
}

func TestParserSkipsShortRows(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	parser := NewParser(nil)

	// The name column is missing entirely on the second row; validation drops it.
	src := "sku,name\n" +
		"a1,Widget\n" +
		"a2\n" +
		"a3,Gadget\n"

	records := collect(t, parser, src)

	require.Len(t, records, 2)
	assert.Equal(t, "A1", records[0].SKU)
	assert.Equal(t, "A3", records[1].SKU)
}

func TestParserEmptySource(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	parser := NewParser(nil)

	records := collect(t, parser, "")
	assert.Empty(t, records)

	count, err := parser.Count(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestParserHeaderOnly(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	parser := NewParser(nil)

	count, err := parser.Count(strings.NewReader("sku,name\n"))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestParserCountMatchesEach(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	parser := NewParser(nil)

	src := "sku,name\n" +
		"a1,One\n" +
		",Invalid\n" +
		"a2,Two\n" +
		"a1,Duplicate kept by parser\n"

	count, err := parser.Count(strings.NewReader(src))
	require.NoError(t, err)

	records := collect(t, parser, src)

	// Duplicates survive parsing; only validation drops rows. Both passes
	// must agree or the batch sizing would drift from reality.
	assert.Equal(t, len(records), count)
	assert.Equal(t, 3, count)
}

func TestParserPropagatesCallbackError(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	parser := NewParser(nil)

	src := "sku,name\na1,One\na2,Two\n"

	calls := 0
	err := parser.Each(strings.NewReader(src), func(CandidateRecord) error {
		calls++

		return assert.AnError
	})

	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}
