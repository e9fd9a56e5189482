// Package chart turns one-minute candles into gap-filled series at any
// resolution and finds the most recent active trading session.
//
// Every function here is pure: inputs are read, never modified, and a new
// slice is returned. Invalid input degrades to an empty Result whose Reason
// says why; nothing panics and nothing returns an error.
package chart

import "github.com/yitech/perpchart/model/candle"

// DefaultLargeGap is the inactivity threshold (48h) used when a caller passes
// a non-positive gap.
const DefaultLargeGap int64 = 48 * 3600

// Reason explains why a Result is empty or partial.
type Reason int

const (
	ReasonOK Reason = iota
	ReasonEmptyInput
	ReasonInvalidResolution
	ReasonInvalidRange
	// ReasonNoPriorClose means every requested bucket preceded the first
	// known close, so nothing could be emitted.
	ReasonNoPriorClose
)

func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonEmptyInput:
		return "empty input"
	case ReasonInvalidResolution:
		return "invalid resolution"
	case ReasonInvalidRange:
		return "invalid range"
	case ReasonNoPriorClose:
		return "no prior close"
	default:
		return "unknown"
	}
}

// Result is the output of every engine call.
type Result struct {
	Candles []candle.Candle
	Reason  Reason
}

// Empty reports whether the result carries no candles.
func (r Result) Empty() bool { return len(r.Candles) == 0 }

func empty(reason Reason) Result { return Result{Reason: reason} }
