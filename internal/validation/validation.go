// Package validation checks the shape of inbound request payloads before
// any quota is consumed or store is touched.
//
// Two contracts live here, deliberately different:
//
//   - Struct and the Validate* helpers REPORT: they return a Result and
//     never fail, so callers can surface every field problem at once.
//   - SanitizeFilename FAILS: an unsafe candidate name is hard-rejected
//     with an error, because callers that reach for it expect a rejected
//     name to stop the mutation, not to produce a warning list.
package validation

import (
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/wardenfs/warden/pkg/storage"
)

// validate is the process-wide validator instance. validator/v10 caches
// struct metadata internally, so sharing one instance is both safe and
// faster than constructing per call.
var validate = validator.New(validator.WithRequiredStructEnabled())

// MaxNameLength is the longest accepted display name, in bytes.
const MaxNameLength = 255

// maxIDLength bounds opaque identifiers (organisation, item, user ids).
const maxIDLength = 64

// Result is a soft validation report.
type Result struct {
	Valid  bool
	Errors []string
}

// merge appends the problems of another result.
func (r *Result) add(errs ...string) {
	if len(errs) > 0 {
		r.Valid = false
		r.Errors = append(r.Errors, errs...)
	}
}

// Struct validates a tagged request struct and reports every violation.
//
// Never panics or errors for malformed input; an internal validator error
// (a programming mistake in the tags) is reported as a single problem.
func Struct(payload any) Result {
	result := Result{Valid: true}

	err := validate.Struct(payload)
	if err == nil {
		return result
	}

	var fieldErrs validator.ValidationErrors
	if ok := asValidationErrors(err, &fieldErrs); !ok {
		result.add("payload could not be validated")
		return result
	}

	for _, fe := range fieldErrs {
		result.add(fe.Field() + ": failed " + fe.Tag() + " validation")
	}
	return result
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = ve
	return true
}

// ID reports whether an opaque identifier has an acceptable shape:
// non-empty, bounded, and limited to URL-safe characters.
func ID(value string) bool {
	if value == "" || len(value) > maxIDLength {
		return false
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// RequireIDs validates a set of named identifiers and reports each bad one.
func RequireIDs(fields map[string]string) Result {
	result := Result{Valid: true}
	for name, value := range fields {
		if !ID(value) {
			result.add(name + ": must be a non-empty identifier of at most 64 url-safe characters")
		}
	}
	return result
}

// SanitizeFilename normalizes a candidate display name and hard-rejects
// anything that cannot be made safe.
//
// Normalization: surrounding whitespace is trimmed. Rejection: empty or
// oversized names, path separators and traversal sequences, control
// characters, and names that are only dots. The sanitized name is returned
// so callers persist exactly what was checked.
func SanitizeFilename(name string) (string, error) {
	sanitized := strings.TrimSpace(name)

	fail := func(msg string) (string, error) {
		return "", &storage.StoreError{
			Code:    storage.ErrValidationFailed,
			Message: "invalid name",
			Fields:  []string{"name: " + msg},
		}
	}

	if sanitized == "" {
		return fail("must not be empty")
	}
	if len(sanitized) > MaxNameLength {
		return fail("must be at most 255 bytes")
	}
	if strings.ContainsAny(sanitized, "/\\") {
		return fail("must not contain path separators")
	}
	if strings.Contains(sanitized, "..") {
		return fail("must not contain traversal sequences")
	}
	if strings.Trim(sanitized, ".") == "" {
		return fail("must contain more than dots")
	}
	for _, r := range sanitized {
		if unicode.IsControl(r) {
			return fail("must not contain control characters")
		}
	}

	return sanitized, nil
}
