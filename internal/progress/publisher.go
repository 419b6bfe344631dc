// Package progress emits live ingest progress events to a per-job named
// channel. Publication is a best-effort observability signal: absence of
// subscribers or transport unavailability must never fail the ingest job,
// so callers log and swallow publish errors.
package progress

import "context"

// Event is the structured progress payload emitted after every batch,
// including the final flush and the terminal event.
type Event struct {
	//nolint:tagliatelle // snake_case matches the event contract consumed by clients
	JobID              string `json:"upload_id"`
	Status             string `json:"status"`
	TotalRecords       int    `json:"total_records"`       //nolint:tagliatelle
	SuccessfulRecords  int    `json:"successful_records"`  //nolint:tagliatelle
	ProgressPercentage int    `json:"progress_percentage"` //nolint:tagliatelle
	Message            string `json:"message"`
}

// Publisher is a publish-only channel with fire-and-forget semantics.
// No acknowledgment or delivery guarantee is provided to the pipeline.
type Publisher interface {
	// Publish emits one event on the named channel.
	Publish(ctx context.Context, channel string, event Event) error
}

// Channel returns the per-job progress channel name.
func Channel(jobID string) string {
	return "upload.progress." + jobID
}
