// Package costs enforces the run's three USD budgets: per-run, per-phase,
// and per-loop. It does no I/O of its own -- callers supply the current
// spend figures (typically read from internal/store) and get back a
// verdict the driver can act on before invoking the next phase.
package costs

import "fmt"

// LimitType identifies which of the three budgets was breached.
type LimitType string

const (
	LimitRun   LimitType = "run"
	LimitPhase LimitType = "phase"
	LimitLoop  LimitType = "loop"
)

// Limits holds the three configured budgets. A zero value means
// "unlimited" for that scope.
type Limits struct {
	PerRunMaxUsd   float64
	PerPhaseMaxUsd float64
	PerLoopMaxUsd  float64
}

// LoopSpend pairs a loop id with its current spend, for per-loop checks.
type LoopSpend struct {
	LoopID  string
	Current float64
}

// Verdict is the result of a single Check call.
type Verdict struct {
	Exceeded bool
	Type     LimitType
	Current  float64
	Limit    float64
	Phase    string
	LoopID   string
}

// Message renders the verdict in the exact human-readable form surfaced in
// phase history and CLI output. Callers should not call Message on a
// non-exceeded verdict.
func (v Verdict) Message() string {
	switch v.Type {
	case LimitRun:
		return fmt.Sprintf("Run cost limit exceeded: $%.2f ≥ $%.2f", v.Current, v.Limit)
	case LimitPhase:
		return fmt.Sprintf("Phase '%s' cost limit exceeded: $%.2f ≥ $%.2f", v.Phase, v.Current, v.Limit)
	case LimitLoop:
		return fmt.Sprintf("Loop '%s' cost limit exceeded: $%.2f ≥ $%.2f", v.LoopID, v.Current, v.Limit)
	default:
		return ""
	}
}

// ok is the shared "nothing exceeded" verdict.
var ok = Verdict{Exceeded: false}

// Check evaluates the run total, then the current phase's spend, then each
// loop's spend in iteration order, returning the first breach found. A
// limit of 0 in Limits disables that check. Comparison is current >= limit,
// not strict, per spec.
func Check(limits Limits, runTotal float64, phase string, phaseSpend float64, loops []LoopSpend) Verdict {
	if limits.PerRunMaxUsd > 0 && runTotal >= limits.PerRunMaxUsd {
		return Verdict{Exceeded: true, Type: LimitRun, Current: runTotal, Limit: limits.PerRunMaxUsd}
	}
	if limits.PerPhaseMaxUsd > 0 && phaseSpend >= limits.PerPhaseMaxUsd {
		return Verdict{Exceeded: true, Type: LimitPhase, Current: phaseSpend, Limit: limits.PerPhaseMaxUsd, Phase: phase}
	}
	if limits.PerLoopMaxUsd > 0 {
		for _, l := range loops {
			if l.Current >= limits.PerLoopMaxUsd {
				return Verdict{Exceeded: true, Type: LimitLoop, Current: l.Current, Limit: limits.PerLoopMaxUsd, LoopID: l.LoopID}
			}
		}
	}
	return ok
}
