package ingest

import (
	"math"
	"slices"
)

// Batch sizing heuristic: target roughly one hundred batches per job so
// progress events stay granular without holding the whole file in memory.
// The value bounds memory and event volume; it is not correctness-critical.
const (
	smallSourceLimit  = 100
	mediumSourceLimit = 1000
	mediumBatchSize   = 200
	targetBatchCount  = 100
)

// BatchSize derives the batch size from the total valid record count.
//
//	total < 100          → total (single batch)
//	100 ≤ total < 1000   → 200
//	otherwise            → round(total / 100)
//
// The result is always ≥ 1, including for an empty source.
func BatchSize(total int) int {
	switch {
	case total < 1:
		return 1
	case total < smallSourceLimit:
		return total
	case total < mediumSourceLimit:
		return mediumBatchSize
	default:
		return int(math.Round(float64(total) / targetBatchCount))
	}
}

// Assembler accumulates validated candidate records into fixed-size batches.
//
// Append hands records in file order; a full batch is returned as soon as the
// configured size is reached. Flush drains the trailing partial batch at
// stream end. Deduplication is applied by the caller per emitted batch, not
// by the assembler, so duplicate counts stay attached to the batch they
// occurred in.
type Assembler struct {
	size    int
	pending []CandidateRecord
}

// NewAssembler creates an Assembler with the given batch size, clamped to ≥ 1.
func NewAssembler(size int) *Assembler {
	if size < 1 {
		size = 1
	}

	return &Assembler{
		size:    size,
		pending: make([]CandidateRecord, 0, size),
	}
}

// Append adds a record to the pending batch. When the batch reaches the
// configured size it is returned and a new batch is started; otherwise nil.
func (a *Assembler) Append(record CandidateRecord) []CandidateRecord {
	a.pending = append(a.pending, record)

	if len(a.pending) < a.size {
		return nil
	}

	batch := a.pending
	a.pending = make([]CandidateRecord, 0, a.size)

	return batch
}

// Flush returns the trailing partial batch, or nil when nothing is pending.
func (a *Assembler) Flush() []CandidateRecord {
	if len(a.pending) == 0 {
		return nil
	}

	batch := a.pending
	a.pending = make([]CandidateRecord, 0, a.size)

	return batch
}

// Dedupe removes records with repeated SKUs from a batch, keeping the last
// occurrence of each key. Records are returned ordered by the position of
// each key's final occurrence. The second return value is the number of
// records removed; the Coordinator counts these as failed.
//
// The last-occurrence-wins tie-break is load-bearing: downstream golden-output
// expectations depend on it, and it matches upsert semantics where a later row
// overwrites an earlier one.
func Dedupe(batch []CandidateRecord) ([]CandidateRecord, int) {
	if len(batch) == 0 {
		return nil, 0
	}

	seen := make(map[string]struct{}, len(batch))
	deduped := make([]CandidateRecord, 0, len(batch))

	for i := len(batch) - 1; i >= 0; i-- {
		if _, dup := seen[batch[i].SKU]; dup {
			continue
		}

		seen[batch[i].SKU] = struct{}{}
		deduped = append(deduped, batch[i])
	}

	slices.Reverse(deduped)

	return deduped, len(batch) - len(deduped)
}
