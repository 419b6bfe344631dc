package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/skuflow-io/skuflow/internal/mapping"
)

// ErrMissingHeader indicates the source has no header row defining field names.
var ErrMissingHeader = errors.New("source has no header row")

// Parser turns a delimited-text byte stream into a lazy sequence of normalized
// candidate records, in file order.
//
// The first row is a header defining field names; headers are resolved to
// canonical fields through the column-alias resolver, so "desc" and
// "description" both feed the description field. Rows that fail normalization
// (empty or missing SKU/name) are dropped silently and never counted. Rows
// that fail to decode are skipped without aborting the stream; only transport
// errors on the underlying reader are fatal to the pass.
type Parser struct {
	resolver *mapping.Resolver
}

// NewParser creates a Parser with the given column-alias resolver.
// A nil resolver falls back to the built-in aliases.
func NewParser(resolver *mapping.Resolver) *Parser {
	if resolver == nil {
		resolver = mapping.NewResolver(nil)
	}

	return &Parser{resolver: resolver}
}

// Each streams candidate records from r, invoking fn once per valid record.
// The sequence is finite and non-restartable: re-reading requires re-opening
// the source. An error returned by fn aborts the pass and is propagated.
func (p *Parser) Each(r io.Reader, fn func(CandidateRecord) error) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // rows may be ragged; validation decides what survives
	reader.ReuseRecord = true

	fields, err := p.readHeader(reader)
	if err != nil {
		if errors.Is(err, ErrMissingHeader) {
			// Empty source: nothing to stream.
			return nil
		}

		return err
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			// A malformed line must not abort the stream.
			continue
		}

		if err != nil {
			return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}

		candidate, ok := p.candidateFromRow(fields, row)
		if !ok {
			continue
		}

		if err := fn(candidate); err != nil {
			return err
		}
	}
}

// Count streams the source once and returns how many records pass validation.
// This is the counting pass: the result sizes the batching strategy and is
// never persisted mid-pass.
func (p *Parser) Count(r io.Reader) (int, error) {
	count := 0

	err := p.Each(r, func(CandidateRecord) error {
		count++

		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// fieldIndex maps canonical field names to their column position.
type fieldIndex map[string]int

// readHeader consumes the header row and resolves each column to a canonical
// field. The first resolution of a field wins when a source repeats columns.
func (p *Parser) readHeader(reader *csv.Reader) (fieldIndex, error) {
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrMissingHeader
	}

	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrSourceUnavailable, err)
	}

	fields := make(fieldIndex, len(header))

	for i, column := range header {
		canonical := p.resolver.Resolve(column)
		if _, ok := fields[canonical]; !ok {
			fields[canonical] = i
		}
	}

	return fields, nil
}

func (p *Parser) candidateFromRow(fields fieldIndex, row []string) (CandidateRecord, bool) {
	return NewCandidate(
		fieldValue(fields, row, mapping.FieldSKU),
		fieldValue(fields, row, mapping.FieldName),
		fieldValue(fields, row, mapping.FieldDescription),
	)
}

func fieldValue(fields fieldIndex, row []string, name string) string {
	idx, ok := fields[name]
	if !ok || idx >= len(row) {
		return ""
	}

	return row[idx]
}
