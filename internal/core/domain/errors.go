package domain

import "errors"

var (
	// ErrModelCallFailed means the model invocation failed even after the
	// raw fallback. Fatal to the current step only.
	ErrModelCallFailed = errors.New("model call failed")

	// ErrResponseSchema means the provider response violated the expected
	// payload shape. The loop retries once through the raw call path.
	ErrResponseSchema = errors.New("model response schema violation")

	// ErrUnparseableResponse means no normalization strategy yielded a
	// result. Callers treat it as zero tool invocations.
	ErrUnparseableResponse = errors.New("unparseable model response")

	// ErrUnknownTool means the model requested a tool the registry does
	// not carry. Surfaced to the model as a diagnostic tool result.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrExtractionEmpty marks a step that finished without candidates.
	// Soft: the step result is valid, the run continues.
	ErrExtractionEmpty = errors.New("no candidates extracted")

	// ErrDocumentNotFound means no corpus document matched closely enough.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrMalformedMetadata means the expected metadata structure was absent.
	ErrMalformedMetadata = errors.New("malformed aw metadata")

	// ErrCancelled wraps external cancellation during a blocking call.
	ErrCancelled = errors.New("run cancelled")
)
