// Package errors provides standardized error handling for the intelligence pipeline.
//
// # Overview
//
// Errors carry two independent pieces of information:
//
//   - A class (Transient, Invalid, Fatal) that drives retry and shutdown decisions.
//   - A taxonomy Code ("invalid-domain", "plugin-not-found", "timeout", ...) that is
//     stable and surfaced to callers in reports and transport responses.
//
// Codes are derived from sentinel errors with errors.Is, so wrapping never loses them:
//
//	err := errors.New(errors.ErrInvalidEntityID, errors.ErrorInvalid,
//	    "Pipeline", "Execute", "entity id must be positive")
//	errors.CodeOf(err) // "invalid-entity-id"
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Component", "Method", "action")  // For retryable errors
//	errors.WrapInvalid(err, "Component", "Method", "action")    // For validation errors
//	errors.WrapFatal(err, "Component", "Method", "action")      // For unrecoverable errors
//
// # Retry Configuration
//
// RetryConfig converts into the pkg/retry configuration used by the gatherer
// circuit breaker:
//
//	cfg := errors.DefaultRetryConfig()
//	err := retry.Do(ctx, cfg.ToRetryConfig(), fetch)
package errors
