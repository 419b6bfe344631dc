// Package source resolves source locators into readable byte streams.
//
// The ingest pipeline makes two independent passes over the same URI (one to
// count, one to process), so every Opener must support opening the same
// locator multiple times. Streams are sequential, forward-only reads; the
// pipeline never buffers a whole file.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
)

// Sentinel errors for source resolution.
var (
	// ErrUnsupportedScheme is returned when no opener handles the URI scheme.
	ErrUnsupportedScheme = errors.New("unsupported source scheme")

	// ErrEmptyURI is returned when the source locator is empty.
	ErrEmptyURI = errors.New("source URI cannot be empty")
)

// Opener resolves a source locator into an openable stream handle.
type Opener interface {
	// Open returns a sequential reader over the bytes at uri.
	// The caller owns the returned stream and must close it.
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// FileOpener serves file:// URIs and bare filesystem paths. Used in
// development and tests where object storage is not available.
type FileOpener struct{}

// Open opens the file at uri for sequential read.
func (FileOpener) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	if uri == "" {
		return nil, ErrEmptyURI
	}

	path := strings.TrimPrefix(uri, "file://")

	f, err := os.Open(path) //nolint:gosec // path is from a trusted job row
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}

	return f, nil
}

// Resolver dispatches Open calls to scheme-specific openers. S3-style URIs go
// to the object-store opener; everything else is treated as a local file.
type Resolver struct {
	object Opener
	file   Opener
}

// NewResolver creates a Resolver. The object opener may be nil when object
// storage is not configured, in which case s3:// URIs fail with
// ErrUnsupportedScheme.
func NewResolver(object Opener) *Resolver {
	return &Resolver{
		object: object,
		file:   FileOpener{},
	}
}

// Open resolves uri by scheme and opens the stream.
func (r *Resolver) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	if uri == "" {
		return nil, ErrEmptyURI
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid source URI %q: %w", uri, err)
	}

	switch parsed.Scheme {
	case "s3":
		if r.object == nil {
			return nil, fmt.Errorf("%w: s3 (object storage not configured)", ErrUnsupportedScheme)
		}

		return r.object.Open(ctx, uri)
	case "", "file":
		return r.file.Open(ctx, uri)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, parsed.Scheme)
	}
}
