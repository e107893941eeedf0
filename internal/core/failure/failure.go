// Package failure classifies errors into a closed set of kinds once, at the
// boundary where they enter the orchestration core, so that downstream code
// matches on Kind instead of inspecting error strings.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the diagnosed category of a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindRateLimit
	KindNetwork
	KindQualityValidation
	KindMalformedMarkup
	KindContentTooLong
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate_limit"
	case KindNetwork:
		return "network"
	case KindQualityValidation:
		return "quality_validation"
	case KindMalformedMarkup:
		return "malformed_markup"
	case KindContentTooLong:
		return "content_too_long"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Code returns the taxonomy code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindTimeout:
		return CodeTimeout
	case KindRateLimit:
		return CodeRateLimit
	case KindNetwork:
		return CodeNetwork
	case KindQualityValidation:
		return CodeQualityValidation
	case KindMalformedMarkup:
		return CodeHTMLStructure
	case KindContentTooLong:
		return CodeContentTooLong
	case KindNotFound:
		return CodeResourceNotFound
	default:
		return CodeUnknown
	}
}

// Category groups kinds for reporting.
func (k Kind) Category() string {
	switch k {
	case KindTimeout, KindRateLimit, KindNetwork:
		return "infrastructure"
	case KindQualityValidation, KindMalformedMarkup, KindContentTooLong:
		return "content"
	case KindNotFound:
		return "terminal"
	default:
		return "unknown"
	}
}

// Transient reports whether the queue may retry the kind on its own with backoff.
func (k Kind) Transient() bool {
	return k == KindTimeout || k == KindRateLimit || k == KindNetwork
}

// Error codes used across the core.
const (
	CodeIncompleteContent  = "INCOMPLETE_CONTENT"
	CodeTimeout            = "TIMEOUT"
	CodeRateLimit          = "RATE_LIMIT"
	CodeNetwork            = "NETWORK"
	CodeQualityValidation  = "QUALITY_VALIDATION"
	CodeHTMLStructure      = "HTML_STRUCTURE"
	CodeContentTooLong     = "CONTENT_TOO_LONG"
	CodeResourceNotFound   = "RESOURCE_NOT_FOUND"
	CodeExceededRetryLimit = "EXCEEDED_RETRY_LIMIT"
	CodeUnknown            = "UNKNOWN"
)

// Error is a failure that already carries its kind, usually produced by an
// adapter that can tell from the transport (HTTP status, driver code).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New returns a typed failure.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns a typed failure wrapping cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind.Code(), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf returns the kind of a typed failure anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return KindUnknown, false
}

// FromRecord rebuilds a typed failure from a stored "CODE: message" string.
// Unrecognised codes come back untyped so Classify falls back to the message rules.
func FromRecord(record string) error {
	code, msg, ok := strings.Cut(record, ": ")
	if ok {
		for k := KindTimeout; k <= KindNotFound; k++ {
			if k.Code() == code {
				return New(k, msg)
			}
		}
	}
	return errors.New(record)
}

// Record formats a diagnosis for storage so that FromRecord can read it back.
func Record(d Diagnosis) string {
	if strings.HasPrefix(d.Message, d.Code+": ") {
		return d.Message
	}
	return d.Code + ": " + d.Message
}
