package ingest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchSize(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		total int
		want  int
	}{
		{0, 1},
		{1, 1},
		{50, 50},
		{99, 99},
		{100, 200},
		{500, 200},
		{999, 200},
		{1000, 10},
		{1050, 11}, // 10.5 rounds half away from zero
		{100000, 1000},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("total=%d", tt.total), func(t *testing.T) {
			if got := BatchSize(tt.total); got != tt.want {
				t.Errorf("BatchSize(%d) = %d, want %d", tt.total, got, tt.want)
			}
		})
	}
}

func TestAssemblerEmitsFullBatches(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assembler := NewAssembler(2)

	require.Nil(t, assembler.Append(CandidateRecord{SKU: "A"}))

	batch := assembler.Append(CandidateRecord{SKU: "B"})
	require.Len(t, batch, 2)
	assert.Equal(t, "A", batch[0].SKU)
	assert.Equal(t, "B", batch[1].SKU)

	// A new batch starts after emission.
	require.Nil(t, assembler.Append(CandidateRecord{SKU: "C"}))

	flushed := assembler.Flush()
	require.Len(t, flushed, 1)
	assert.Equal(t, "C", flushed[0].SKU)

	// Flush is idempotent once drained.
	assert.Nil(t, assembler.Flush())
}

func TestAssemblerClampsSize(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assembler := NewAssembler(0)

	batch := assembler.Append(CandidateRecord{SKU: "A"})
	require.Len(t, batch, 1)
}

func TestDedupe(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name        string
		batch       []CandidateRecord
		wantSKUs    []string
		wantNames   []string
		wantRemoved int
	}{
		{
			name:        "no duplicates",
			batch:       []CandidateRecord{{SKU: "A"}, {SKU: "B"}},
			wantSKUs:    []string{"A", "B"},
			wantNames:   []string{"", ""},
			wantRemoved: 0,
		},
		{
			name: "last occurrence wins",
			batch: []CandidateRecord{
				{SKU: "A", Name: "first"},
				{SKU: "B", Name: "other"},
				{SKU: "A", Name: "last"},
			},
			wantSKUs:    []string{"B", "A"},
			wantNames:   []string{"other", "last"},
			wantRemoved: 1,
		},
		{
			name: "all duplicates collapse to one",
			batch: []CandidateRecord{
				{SKU: "A", Name: "v1"},
				{SKU: "A", Name: "v2"},
				{SKU: "A", Name: "v3"},
			},
			wantSKUs:    []string{"A"},
			wantNames:   []string{"v3"},
			wantRemoved: 2,
		},
		{
			name:        "empty batch",
			batch:       nil,
			wantSKUs:    []string{},
			wantNames:   []string{},
			wantRemoved: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deduped, removed := Dedupe(tt.batch)

			assert.Equal(t, tt.wantRemoved, removed)
			require.Len(t, deduped, len(tt.wantSKUs))

			for i, record := range deduped {
				assert.Equal(t, tt.wantSKUs[i], record.SKU)
				assert.Equal(t, tt.wantNames[i], record.Name)
			}
		})
	}
}

// Dedupe output size plus removed count always equals the input size, and the
// Coordinator counts removed records as failed. This keeps the accounting law
// successful+failed == batch size intact for every batch.
func TestDedupePreservesAccounting(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	batch := []CandidateRecord{
		{SKU: "A"}, {SKU: "B"}, {SKU: "A"}, {SKU: "C"}, {SKU: "B"}, {SKU: "A"},
	}

	deduped, removed := Dedupe(batch)

	assert.Equal(t, len(batch), len(deduped)+removed)
}
