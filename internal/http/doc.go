// Package http provides an HTTP client for large sequential downloads.
//
// This package handles:
//   - HEAD requests to get file metadata
//   - Streamed GET requests for whole-archive downloads
//   - Backoff with jitter for caller-driven retry loops
//   - Terminal-vs-transient error classification
//
// Retries for archive downloads live in the caller: a failed body stream
// cannot be resumed, so the whole transfer restarts from scratch. The
// client classifies errors (Retryable) and paces attempts (Backoff), but
// Get itself performs a single request. Head retries internally since a
// metadata probe is cheap and idempotent.
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	info, err := client.Head(ctx, url)
//	// info.Size, info.ETag
//
//	body, size, err := client.Get(ctx, url)
//	defer body.Close()
package http
