package failure

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Diagnosis is the classification of one error.
type Diagnosis struct {
	Kind       Kind
	Code       string
	Message    string
	Confidence float64
	Retryable  bool
}

type rule struct {
	kind       Kind
	confidence float64
	patterns   []string
}

// Rules are evaluated in order; the first match wins. More specific content
// problems are listed before generic transport ones so that e.g. a
// "request entity too large" response is not read as a network fault.
var rules = []rule{
	{KindNotFound, 0.95, []string{"not found", "404", "does not exist", "resource_not_found"}},
	{KindContentTooLong, 0.9, []string{"too long", "too large", "413", "max tokens", "maximum context", "token limit"}},
	{KindMalformedMarkup, 0.85, []string{"html", "unclosed tag", "malformed", "markup", "invalid json", "unbalanced"}},
	{KindQualityValidation, 0.8, []string{"quality", "validation", "untranslated", "422", "language mismatch"}},
	{KindRateLimit, 0.95, []string{"rate limit", "429", "too many requests", "throttled", "quota"}},
	{KindTimeout, 0.9, []string{"timeout", "timed out", "deadline exceeded", "408", "504"}},
	{KindNetwork, 0.8, []string{"connection refused", "connection reset", "econnreset", "no such host", "eof", "network", "502", "503", "unreachable"}},
}

// Classify diagnoses err. Typed failures are trusted as-is; otherwise
// well-known Go error values are checked before falling back to message rules.
func Classify(err error) Diagnosis {
	if err == nil {
		return Diagnosis{Kind: KindUnknown, Code: CodeUnknown}
	}

	msg := err.Error()
	if kind, ok := KindOf(err); ok {
		return newDiagnosis(kind, msg, 1.0)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newDiagnosis(KindTimeout, msg, 1.0)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return newDiagnosis(KindTimeout, msg, 0.95)
		}
		return newDiagnosis(KindNetwork, msg, 0.9)
	}

	lower := strings.ToLower(msg)
	for _, r := range rules {
		for _, p := range r.patterns {
			if strings.Contains(lower, p) {
				return newDiagnosis(r.kind, msg, r.confidence)
			}
		}
	}

	return newDiagnosis(KindUnknown, msg, 0.3)
}

func newDiagnosis(kind Kind, msg string, confidence float64) Diagnosis {
	return Diagnosis{
		Kind:       kind,
		Code:       kind.Code(),
		Message:    msg,
		Confidence: confidence,
		Retryable:  kind != KindNotFound,
	}
}
