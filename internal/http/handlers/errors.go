// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable: clients branch on them, and the
// reroute codes are also persisted in the idempotency ledger, so a replayed
// rejection carries the same code as the original one.
//
// Every error response also carries a retry hint:
//
//   - as_is:   the same request may succeed later (lock held, rate limited)
//   - refetch: re-read the resource and resubmit with its current version
//   - never:   the request itself is wrong and will keep failing
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "version_conflict",
//	  "message": "version conflict: expected 2, current 3",
//	  "retry": "refetch"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_failed"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
	ErrCodeUnavailable      = "unavailable"

	// Wallet settings.
	ErrCodeVersionConflict  = "version_conflict"
	ErrCodeSettingsNotFound = "settings_not_found"
	ErrCodeOverrideNotFound = "override_not_found"

	// Directory and prescriptions.
	ErrCodePharmacyNotFound     = "pharmacy_not_found"
	ErrCodePrescriptionNotFound = "prescription_not_found"

	// Rerouting.
	ErrCodeIdempotencyKeyReuse = "idempotency_key_reuse"
	ErrCodeRequestInFlight     = "request_in_flight"
	ErrCodeConcurrentReroute   = "concurrent_reroute"
	ErrCodeIneligibleTarget    = "ineligible_target"
	ErrCodeNotReroutable       = "not_reroutable"
)

// Retry hints.
const (
	RetryAsIs    = "as_is"
	RetryRefetch = "refetch"
	RetryNever   = "never"
)
