package recovery

import (
	"strconv"
	"time"

	"github.com/vietddude/transync/internal/core/failure"
)

// Strategy names a repair approach. Every failure kind maps to exactly one.
type Strategy string

const (
	StrategyLinearBackoff       Strategy = "linear_backoff"
	StrategyExponentialBackoff  Strategy = "exponential_backoff"
	StrategyParameterAdjustment Strategy = "parameter_adjustment"
	StrategyMarkupRepair        Strategy = "markup_repair"
	StrategyContentSplitting    Strategy = "content_splitting"
	StrategyTerminalSkip        Strategy = "terminal_skip"
)

// StrategyFor returns the strategy for a failure kind.
func StrategyFor(kind failure.Kind) Strategy {
	switch kind {
	case failure.KindTimeout, failure.KindNetwork, failure.KindUnknown:
		return StrategyLinearBackoff
	case failure.KindRateLimit:
		return StrategyExponentialBackoff
	case failure.KindQualityValidation:
		return StrategyParameterAdjustment
	case failure.KindMalformedMarkup:
		return StrategyMarkupRepair
	case failure.KindContentTooLong:
		return StrategyContentSplitting
	case failure.KindNotFound:
		return StrategyTerminalSkip
	default:
		return StrategyLinearBackoff
	}
}

// Executor parameters set by repair strategies.
const (
	ParamQualityMode    = "quality_mode"
	ParamTemperature    = "temperature"
	ParamMarkupMode     = "markup_mode"
	ParamMaxChunkChars  = "max_chunk_chars"
	ParamRecoveryReason = "recovery_reason"
)

const (
	baseChunkChars = 4000
	minChunkChars  = 500
)

// Action is the concrete step a strategy takes for one failure.
type Action struct {
	Strategy Strategy
	Requeue  bool
	Delay    time.Duration
	Params   map[string]string
}

// planner turns a strategy and the number of prior attempts into an Action.
type planner struct {
	linear      failure.RetryStrategy
	exponential failure.RetryStrategy
}

func (p planner) plan(s Strategy, attempt int, d failure.Diagnosis) Action {
	a := Action{
		Strategy: s,
		Requeue:  true,
		Params:   map[string]string{ParamRecoveryReason: d.Code},
	}
	switch s {
	case StrategyLinearBackoff:
		a.Delay = p.linear.GetDelay(attempt)
	case StrategyExponentialBackoff:
		a.Delay = p.exponential.GetDelay(attempt)
	case StrategyParameterAdjustment:
		// Each attempt asks for a more conservative rendering.
		temp := 0.3 / float64(attempt+1)
		a.Params[ParamQualityMode] = "strict"
		a.Params[ParamTemperature] = strconv.FormatFloat(temp, 'f', 2, 64)
	case StrategyMarkupRepair:
		a.Params[ParamMarkupMode] = "repair"
	case StrategyContentSplitting:
		a.Params[ParamMaxChunkChars] = strconv.Itoa(max(baseChunkChars>>attempt, minChunkChars))
	case StrategyTerminalSkip:
		a.Requeue = false
		a.Params = nil
	}
	return a
}
