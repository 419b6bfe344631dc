// Package ingest provides the streaming catalog ingest pipeline: CSV parsing,
// batch assembly with in-batch deduplication, atomic batch upserts, and the
// job coordinator that owns the ingest lifecycle.
package ingest

import (
	"errors"
	"math"
	"strings"
	"time"
)

// Sentinel errors for ingest job processing (usable with errors.Is).
var (
	// ErrJobNotFound indicates the job identifier does not resolve to an existing job.
	ErrJobNotFound = errors.New("ingest job not found")

	// ErrUnsupportedFormat indicates the source format is not supported.
	// Only .csv sources are processed; any other value is fatal to the job.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrSourceUnavailable indicates the source stream could not be opened or read.
	ErrSourceUnavailable = errors.New("source stream unavailable")
)

// missingValue is the textual sentinel for "not available" cell values.
// Rows whose SKU or name equals this sentinel are dropped before batching.
const missingValue = "nan"

type (
	// JobStatus represents the lifecycle state of an ingest job.
	// Valid transitions: pending → processing → {completed, failed}.
	JobStatus string

	// Job tracks one ingest run of a single source file.
	//
	// Counters are monotonically non-decreasing while the job is processing.
	// Once the job reaches a terminal status the counters are frozen and
	// CompletedAt is set. The row is mutated exclusively by the Coordinator
	// that owns the job.
	Job struct {
		ID                string
		FileName          string
		SourceURI         string
		Status            JobStatus
		TotalRecords      int
		ProcessedRecords  int
		SuccessfulRecords int
		FailedRecords     int
		ErrorMessage      string
		StartedAt         time.Time
		CompletedAt       *time.Time
	}

	// CandidateRecord is one validated, normalized row from the source file.
	// SKU is the natural key: case-insensitive, stored uppercase.
	CandidateRecord struct {
		SKU         string
		Name        string
		Description string
		Active      bool
	}

	// UpsertResult is the outcome of applying one batch against the store.
	// Batches are all-or-nothing: Successful+Failed always equals the batch size.
	UpsertResult struct {
		Successful int
		Failed     int
	}
)

const (
	// StatusPending indicates the job row exists but processing has not started.
	StatusPending JobStatus = "pending"

	// StatusProcessing indicates the Coordinator is actively streaming the source.
	StatusProcessing JobStatus = "processing"

	// StatusCompleted indicates the job finished with zero failed records.
	// Terminal state.
	StatusCompleted JobStatus = "completed"

	// StatusFailed indicates the job finished with failed records or aborted
	// on an error. Terminal state.
	StatusFailed JobStatus = "failed"
)

// IsValid checks if the JobStatus is a known lifecycle state.
func (s JobStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true once the job has reached a final state.
// Terminal jobs have frozen counters and a completion timestamp.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// ProgressPercentage returns the rounded success percentage for the job.
// Returns 0 when the total is not yet known.
func (j *Job) ProgressPercentage() int {
	if j.TotalRecords == 0 {
		return 0
	}

	return int(math.Round(float64(j.SuccessfulRecords) / float64(j.TotalRecords) * 100))
}

// NewCandidate normalizes raw field values into a CandidateRecord.
//
// Normalization rules:
//   - SKU: trimmed and uppercased (case-insensitive uniqueness is enforced by
//     uppercasing on write, not by store-level collation)
//   - Name: trimmed
//   - Description: trimmed; the missing-value sentinel collapses to ""
//
// Returns ok=false when SKU or name is empty after trimming or equals the
// missing-value sentinel. Such rows are dropped silently: they are excluded
// from every counter, including the failed counter.
func NewCandidate(sku, name, description string) (CandidateRecord, bool) {
	sku = strings.ToUpper(strings.TrimSpace(sku))
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)

	if sku == "" || name == "" {
		return CandidateRecord{}, false
	}

	if strings.EqualFold(sku, missingValue) || name == missingValue {
		return CandidateRecord{}, false
	}

	if description == missingValue {
		description = ""
	}

	return CandidateRecord{
		SKU:         sku,
		Name:        name,
		Description: description,
		Active:      true,
	}, true
}
