// Package services defines the business logic for wallet settings,
// prescription rerouting and the pharmacy directory. This file centralizes
// the service-level error values so they can be returned consistently by
// service methods and checked by callers with errors.Is.
//
// Translation into HTTP status codes and retry hints happens in the handler
// layer.
package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrValidation marks malformed or out-of-range input. It is always
	// returned before any store access.
	ErrValidation = errors.New("validation failed")

	// ErrVersionConflict is a failed compare-and-swap; the caller must
	// re-read and resubmit with the current version.
	ErrVersionConflict = errors.New("version conflict")

	ErrSettingsNotFound     = errors.New("wallet settings not found")
	ErrOverrideNotFound     = errors.New("commission override not found")
	ErrPharmacyNotFound     = errors.New("pharmacy not found")
	ErrPrescriptionNotFound = errors.New("prescription not found")

	// ErrIdempotencyKeyReuse: the key was already used for a different body.
	ErrIdempotencyKeyReuse = errors.New("idempotency key reused with a different request")

	// ErrRequestInFlight: the same request (same key and body) is still
	// being executed.
	ErrRequestInFlight = errors.New("request with this idempotency key is still in progress")

	// ErrConcurrentRerouteInProgress: another reroute holds the prescription.
	ErrConcurrentRerouteInProgress = errors.New("another reroute is in progress for this prescription")

	// ErrIneligibleTarget: the target is suspended, closed or the current
	// assignment.
	ErrIneligibleTarget = errors.New("target pharmacy is not eligible")

	// ErrNotReroutable: the prescription is dispensed or cancelled.
	ErrNotReroutable = errors.New("prescription cannot be rerouted in its current status")
)

// ValidationError lists the offending fields and the rule each one broke.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, ", "))
}

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

// fromValidator converts validator.ValidationErrors into a ValidationError
// keyed by field name with the failed tag as the reason.
func fromValidator(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	out := &ValidationError{Fields: make(map[string]string, len(ves))}
	for _, ve := range ves {
		// decimal_lte=100 reads as lte=100 to clients.
		reason := strings.TrimPrefix(ve.Tag(), "decimal_")
		if ve.Param() != "" {
			reason += "=" + ve.Param()
		}
		out.Fields[ve.Field()] = reason
	}
	return out
}

// Stable codes persisted with FAILED ledger records. They must not change
// once written, since replays rebuild the error from them.
const (
	codeValidation           = "validation_failed"
	codePrescriptionNotFound = "prescription_not_found"
	codePharmacyNotFound     = "pharmacy_not_found"
	codeIneligibleTarget     = "ineligible_target"
	codeNotReroutable        = "not_reroutable"
)

var failureCodes = []struct {
	code string
	err  error
}{
	{codeValidation, ErrValidation},
	{codePrescriptionNotFound, ErrPrescriptionNotFound},
	{codePharmacyNotFound, ErrPharmacyNotFound},
	{codeIneligibleTarget, ErrIneligibleTarget},
	{codeNotReroutable, ErrNotReroutable},
}

// failureCode returns the ledger code for a business rejection, or "" when
// err is not one (infrastructure errors are never recorded as FAILED).
func failureCode(err error) string {
	for _, fc := range failureCodes {
		if errors.Is(err, fc.err) {
			return fc.code
		}
	}
	return ""
}

// ReplayedError is a rejection answered from the idempotency ledger. Its
// message is the one recorded by the original attempt and it unwraps to the
// same sentinel, so callers see an identical error.
type ReplayedError struct {
	Code    string
	Message string
	cause   error
}

func (e *ReplayedError) Error() string { return e.Message }
func (e *ReplayedError) Unwrap() error { return e.cause }

func replayedFailure(code, message string) error {
	cause := error(ErrValidation)
	for _, fc := range failureCodes {
		if fc.code == code {
			cause = fc.err
			break
		}
	}
	return &ReplayedError{Code: code, Message: message, cause: cause}
}
