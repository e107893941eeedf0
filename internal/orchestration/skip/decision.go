package skip

// Action is what should happen to a (resource, language) pair.
type Action string

const (
	ActionTranslate Action = "translate"
	ActionSkip      Action = "skip"
	ActionRetry     Action = "retry"
)

// Reason explains a decision.
type Reason string

const (
	ReasonNew               Reason = "NEW"
	ReasonForced            Reason = "FORCED"
	ReasonUpToDate          Reason = "UP_TO_DATE"
	ReasonStale             Reason = "STALE"
	ReasonLowQuality        Reason = "LOW_QUALITY"
	ReasonQualityCapReached Reason = "QUALITY_CAP_REACHED"
	ReasonRetryEligible     Reason = "RETRY_ELIGIBLE"
	ReasonRetryExhausted    Reason = "RETRY_EXHAUSTED"
	ReasonUnsynced          Reason = "UNSYNCED"
)

// Decision is the verdict for one pair.
type Decision struct {
	Action     Action
	Reason     Reason
	Confidence float64
}

func (d Decision) ShouldSkip() bool {
	return d.Action == ActionSkip
}

// NeedsWork reports whether the pair should be sent to the queue.
func (d Decision) NeedsWork() bool {
	return d.Action == ActionTranslate || d.Action == ActionRetry
}

func translate(r Reason, confidence float64) Decision {
	return Decision{Action: ActionTranslate, Reason: r, Confidence: confidence}
}

func skipped(r Reason, confidence float64) Decision {
	return Decision{Action: ActionSkip, Reason: r, Confidence: confidence}
}
