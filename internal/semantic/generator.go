// Package semantic implements the optional model-backed classification
// layer. It is strictly best-effort: availability is probed once and
// cached, every call carries a hard deadline, and every failure mode
// (down endpoint, timeout, garbage output) collapses to the same
// needs-review fallback. The pipeline must produce correct results with
// this entire package turned off.
package semantic

import "context"

// Generator is a text-in, text-out language model endpoint.
type Generator interface {
	// Available probes the endpoint. The result is cached for the
	// process lifetime; implementations must not re-probe per call.
	Available(ctx context.Context) bool

	// Generate runs one completion with the implementation's deadline
	// and returns the raw response text.
	Generate(ctx context.Context, prompt string) (string, error)

	// Reset clears the cached availability so the next Available call
	// probes again. Used by the doctor command after fixing an endpoint.
	Reset()
}
