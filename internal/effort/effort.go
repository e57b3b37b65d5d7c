// Package effort holds the fixed effort-level table that selects review
// cadence, review depth, the revision cap, and cost limits for a run. The
// table itself is data, not configuration: a run names one of four levels
// on the command line and gets the whole bundle of tuning knobs that go
// with it.
package effort

import (
	"fmt"

	"github.com/AbdelazizMoustafa10m/sq/internal/agentrt"
	"github.com/AbdelazizMoustafa10m/sq/internal/costs"
)

// Level names one of the four fixed presets.
type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
	Max    Level = "max"
)

// Depth names how thorough a review pass should be; it is surfaced to the
// review phase's prompt builder, not interpreted by this package.
type Depth string

const (
	DepthShallow       Depth = "shallow"
	DepthStandard      Depth = "standard"
	DepthDeep          Depth = "deep"
	DepthComprehensive Depth = "comprehensive"
)

// Profile bundles every tuning knob a single effort level selects.
type Profile struct {
	Level Level

	// ReviewAfterEnumerate and ReviewAfterPlan gate whether the phase
	// engine detours through review immediately after those singleton
	// phases, rather than proceeding straight to the next one.
	ReviewAfterEnumerate bool
	ReviewAfterPlan      bool

	// ReviewInterval is the build loop's checkpoint-review cadence, in
	// iterations.
	ReviewInterval int

	ReviewDepth Depth

	// MaxRevisions caps how many revise passes a run may complete. Once the
	// run's revision count reaches it, the revise phase ends the run at
	// phase "complete"; no task is marked failed.
	MaxRevisions int

	// ModelTier is the model requested for every agent call at this
	// effort level. The spec leaves per-phase tiering to configuration;
	// a single tier per level is the simplest table that satisfies it.
	ModelTier agentrt.ModelTier

	CostLimits costs.Limits
}

// table is the fixed effort-level table from the external-interfaces
// section: review-after-enumerate, review-after-plan, review-interval,
// review-depth, max-revisions, keyed by level.
var table = map[Level]Profile{
	Low: {
		Level:                Low,
		ReviewAfterEnumerate: false,
		ReviewAfterPlan:      false,
		ReviewInterval:       10,
		ReviewDepth:          DepthShallow,
		MaxRevisions:         2,
		ModelTier:            agentrt.TierHaiku,
		CostLimits:           costs.Limits{PerRunMaxUsd: 5, PerPhaseMaxUsd: 2, PerLoopMaxUsd: 1},
	},
	Medium: {
		Level:                Medium,
		ReviewAfterEnumerate: false,
		ReviewAfterPlan:      true,
		ReviewInterval:       5,
		ReviewDepth:          DepthStandard,
		MaxRevisions:         3,
		ModelTier:            agentrt.TierSonnet,
		CostLimits:           costs.Limits{PerRunMaxUsd: 15, PerPhaseMaxUsd: 6, PerLoopMaxUsd: 3},
	},
	High: {
		Level:                High,
		ReviewAfterEnumerate: true,
		ReviewAfterPlan:      true,
		ReviewInterval:       3,
		ReviewDepth:          DepthDeep,
		MaxRevisions:         5,
		ModelTier:            agentrt.TierSonnet,
		CostLimits:           costs.Limits{PerRunMaxUsd: 40, PerPhaseMaxUsd: 15, PerLoopMaxUsd: 8},
	},
	Max: {
		Level:                Max,
		ReviewAfterEnumerate: true,
		ReviewAfterPlan:      true,
		ReviewInterval:       1,
		ReviewDepth:          DepthComprehensive,
		MaxRevisions:         8,
		ModelTier:            agentrt.TierOpus,
		CostLimits:           costs.Limits{PerRunMaxUsd: 120, PerPhaseMaxUsd: 40, PerLoopMaxUsd: 20},
	},
}

// Lookup returns the Profile for level. It errors on any value outside the
// four recognized levels rather than silently defaulting, since a typo in
// --effort should fail the run, not quietly weaken its budgets.
func Lookup(level Level) (Profile, error) {
	p, ok := table[level]
	if !ok {
		return Profile{}, fmt.Errorf("effort: unknown level %q (want one of low, medium, high, max)", level)
	}
	return p, nil
}

// ParseLevel validates and normalizes a level string from the CLI.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if _, ok := table[l]; !ok {
		return "", fmt.Errorf("effort: invalid --effort %q (want one of low, medium, high, max)", s)
	}
	return l, nil
}
