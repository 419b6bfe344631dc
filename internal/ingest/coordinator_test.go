package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skuflow-io/skuflow/internal/progress"
	"github.com/skuflow-io/skuflow/internal/webhook"
)

// stringOpener serves the same content on every Open, mirroring the re-openable
// stream contract the two-pass pipeline relies on.
type stringOpener struct {
	content string
	opens   int
	err     error
}

func (o *stringOpener) Open(context.Context, string) (io.ReadCloser, error) {
	if o.err != nil {
		return nil, o.err
	}

	o.opens++

	return io.NopCloser(strings.NewReader(o.content)), nil
}

// memJobs is an in-memory Jobs implementation.
type memJobs struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	saves int
}

func newMemJobs(jobs ...*Job) *memJobs {
	m := &memJobs{jobs: make(map[string]*Job)}

	for _, job := range jobs {
		clone := *job
		m.jobs[job.ID] = &clone
	}

	return m
}

func (m *memJobs) Find(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}

	clone := *job

	return &clone, nil
}

func (m *memJobs) Save(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *job
	m.jobs[job.ID] = &clone
	m.saves++

	return nil
}

func (m *memJobs) get(id string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.jobs[id]
}

// memStore records upserted batches and can be told to fail.
type memStore struct {
	mu      sync.Mutex
	batches [][]CandidateRecord
	failOn  func(batch []CandidateRecord) error
}

func (m *memStore) UpsertBatch(_ context.Context, batch []CandidateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failOn != nil {
		if err := m.failOn(batch); err != nil {
			return err
		}
	}

	copied := make([]CandidateRecord, len(batch))
	copy(copied, batch)
	m.batches = append(m.batches, copied)

	return nil
}

func (m *memStore) all() []CandidateRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []CandidateRecord
	for _, batch := range m.batches {
		records = append(records, batch...)
	}

	return records
}

// memPublisher records progress events.
type memPublisher struct {
	mu     sync.Mutex
	events []progress.Event
}

func (m *memPublisher) Publish(_ context.Context, _ string, event progress.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, event)

	return nil
}

func (m *memPublisher) last() progress.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.events[len(m.events)-1]
}

// memNotifier records webhook notifications.
type memNotifier struct {
	mu       sync.Mutex
	events   []string
	payloads []map[string]interface{}
}

func (m *memNotifier) Notify(_ context.Context, eventType string, payload map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, eventType)
	m.payloads = append(m.payloads, payload)
}

type coordinatorFixture struct {
	coordinator *Coordinator
	jobs        *memJobs
	store       *memStore
	publisher   *memPublisher
	notifier    *memNotifier
	opener      *stringOpener
}

func newFixture(t *testing.T, content string, job *Job) *coordinatorFixture {
	t.Helper()

	f := &coordinatorFixture{
		jobs:      newMemJobs(job),
		store:     &memStore{},
		publisher: &memPublisher{},
		notifier:  &memNotifier{},
		opener:    &stringOpener{content: content},
	}

	f.coordinator = NewCoordinator(
		f.opener,
		NewParser(nil),
		f.store,
		f.jobs,
		f.publisher,
		f.notifier,
		slog.New(slog.DiscardHandler),
		WithCoordinatorClock(func() time.Time {
			return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
		}),
	)

	return f
}

func pendingJob(id string) *Job {
	return &Job{
		ID:        id,
		FileName:  "catalog.csv",
		SourceURI: "file:///tmp/catalog.csv",
		Status:    StatusPending,
		StartedAt: time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC),
	}
}

func TestCoordinatorRunWithDuplicatesAndInvalidRows(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	src := "sku,name,description\n" +
		"a1,Widget,First\n" +
		"A1,Widget v2,Updated\n" +
		",Widget v3,No SKU\n" +
		"b2,Gadget,Second\n"

	f := newFixture(t, src, pendingJob("job-1"))

	err := f.coordinator.Run(context.Background(), "job-1", "file:///tmp/catalog.csv", FormatCSV)
	require.NoError(t, err)
	f.coordinator.Wait()

	job := f.jobs.get("job-1")
	require.NotNil(t, job)

	// The empty-SKU row vanishes from every counter; the duplicate counts as failed.
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, 3, job.TotalRecords)
	assert.Equal(t, 3, job.ProcessedRecords)
	assert.Equal(t, 2, job.SuccessfulRecords)
	assert.Equal(t, 1, job.FailedRecords)
	assert.Contains(t, job.ErrorMessage, "1 records failed to import")
	require.NotNil(t, job.CompletedAt)

	// Last occurrence of the duplicated SKU wins.
	stored := f.store.all()
	require.Len(t, stored, 2)
	assert.Equal(t, "A1", stored[0].SKU)
	assert.Equal(t, "Widget v2", stored[0].Name)
	assert.Equal(t, "B2", stored[1].SKU)

	// Two passes over the source.
	assert.Equal(t, 2, f.opener.opens)

	require.Equal(t, []string{webhook.EventBulkUploadFailed}, f.notifier.events)
	payload := f.notifier.payloads[0]
	assert.Equal(t, "job-1", payload["upload_id"])
	assert.Equal(t, "catalog.csv", payload["file_name"])
	assert.Equal(t, 3, payload["total_records"])
	assert.Equal(t, 2, payload["successful_records"])
	assert.Equal(t, 1, payload["failed_records"])

	final := f.publisher.last()
	assert.Equal(t, "failed", final.Status)
	assert.Equal(t, 67, final.ProgressPercentage)
}

func TestCoordinatorRunAllSuccess(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	src := "sku,name\n" +
		"a1,One\n" +
		"a2,Two\n" +
		"a3,Three\n"

	f := newFixture(t, src, pendingJob("job-1"))

	err := f.coordinator.Run(context.Background(), "job-1", "file:///tmp/catalog.csv", FormatCSV)
	require.NoError(t, err)
	f.coordinator.Wait()

	job := f.jobs.get("job-1")
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 3, job.TotalRecords)
	assert.Equal(t, 3, job.SuccessfulRecords)
	assert.Zero(t, job.FailedRecords)
	assert.Empty(t, job.ErrorMessage)

	require.Equal(t, []string{webhook.EventBulkUploadComplete}, f.notifier.events)
	assert.NotContains(t, f.notifier.payloads[0], "error_message")

	final := f.publisher.last()
	assert.Equal(t, "completed", final.Status)
	assert.Equal(t, 100, final.ProgressPercentage)
}

func TestCoordinatorRunBatchFailureDoesNotAbortJob(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	src := "sku,name\n" +
		"a1,One\n" +
		"a2,Two\n"

	f := newFixture(t, src, pendingJob("job-1"))
	f.store.failOn = func([]CandidateRecord) error {
		return errors.New("deadlock detected")
	}

	err := f.coordinator.Run(context.Background(), "job-1", "file:///tmp/catalog.csv", FormatCSV)
	require.NoError(t, err)
	f.coordinator.Wait()

	job := f.jobs.get("job-1")

	// The whole batch counts as failed; the job still reaches a terminal state.
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, 2, job.TotalRecords)
	assert.Equal(t, 2, job.ProcessedRecords)
	assert.Zero(t, job.SuccessfulRecords)
	assert.Equal(t, 2, job.FailedRecords)
}

func TestCoordinatorRunJobNotFound(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newFixture(t, "", pendingJob("job-1"))

	err := f.coordinator.Run(context.Background(), "missing", "file:///x.csv", FormatCSV)
	require.ErrorIs(t, err, ErrJobNotFound)

	// Nothing was mutated and nothing was notified.
	assert.Zero(t, f.jobs.saves)
	assert.Empty(t, f.notifier.events)
	assert.Empty(t, f.publisher.events)
}

func TestCoordinatorRunUnsupportedFormat(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newFixture(t, "sku,name\na1,One\n", pendingJob("job-1"))

	err := f.coordinator.Run(context.Background(), "job-1", "file:///x.xlsx", ".xlsx")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	f.coordinator.Wait()

	job := f.jobs.get("job-1")
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "unsupported file format")

	require.Equal(t, []string{webhook.EventBulkUploadFailed}, f.notifier.events)
	assert.Equal(t, job.ErrorMessage, f.notifier.payloads[0]["error_message"])
}

func TestCoordinatorRunSourceUnavailable(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newFixture(t, "", pendingJob("job-1"))
	f.opener.err = errors.New("connection refused")

	err := f.coordinator.Run(context.Background(), "job-1", "s3://bucket/key.csv", FormatCSV)
	require.ErrorIs(t, err, ErrSourceUnavailable)
	f.coordinator.Wait()

	job := f.jobs.get("job-1")
	assert.Equal(t, StatusFailed, job.Status)
	require.Equal(t, []string{webhook.EventBulkUploadFailed}, f.notifier.events)
}

func TestCoordinatorRunIsIdempotentAcrossRedelivery(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	src := "sku,name\n" +
		"a1,One\n" +
		"a2,Two\n"

	f := newFixture(t, src, pendingJob("job-1"))

	require.NoError(t, f.coordinator.Run(context.Background(), "job-1", "file:///x.csv", FormatCSV))
	first := *f.jobs.get("job-1")

	// Redelivery of the same task resets the counters and reprocesses.
	require.NoError(t, f.coordinator.Run(context.Background(), "job-1", "file:///x.csv", FormatCSV))
	f.coordinator.Wait()

	second := f.jobs.get("job-1")
	assert.Equal(t, first.TotalRecords, second.TotalRecords)
	assert.Equal(t, first.SuccessfulRecords, second.SuccessfulRecords)
	assert.Equal(t, first.FailedRecords, second.FailedRecords)
	assert.Equal(t, first.Status, second.Status)
}

// Every batch preserves successful+failed == batch size, so at job end the
// counters reconcile exactly with the number of processed records.
func TestCoordinatorAccountingLaw(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var sb strings.Builder

	sb.WriteString("sku,name\n")

	// 150 rows with heavy SKU repetition across batch boundaries.
	for i := 0; i < 150; i++ {
		if i%3 == 0 {
			sb.WriteString("dup,Widget\n")
		} else {
			sb.WriteString("sku-")
			sb.WriteString(strings.Repeat("x", i%5+1))
			sb.WriteString(",Widget\n")
		}
	}

	f := newFixture(t, sb.String(), pendingJob("job-1"))

	require.NoError(t, f.coordinator.Run(context.Background(), "job-1", "file:///x.csv", FormatCSV))
	f.coordinator.Wait()

	job := f.jobs.get("job-1")
	assert.Equal(t, job.ProcessedRecords, job.SuccessfulRecords+job.FailedRecords)
	assert.Equal(t, job.TotalRecords, job.ProcessedRecords)
}
