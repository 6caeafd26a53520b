package engine

import "github.com/ashureev/spectral/internal/domain"

// Policy tunes how much information is required to leave each stage.
type Policy struct {
	// MinServices is how many distinct service facts must be known before
	// the conversation can leave ENUMERATION.
	MinServices int
	// AutoAssess treats VULNERABILITY_ASSESSMENT as satisfied as soon as
	// services are known; when false, the user must acknowledge the
	// assessment before methodology selection.
	AutoAssess bool
}

// DefaultPolicy reproduces the canonical conversation flow.
func DefaultPolicy() Policy {
	return Policy{MinServices: 1, AutoAssess: true}
}

// facts is the engine's mutable working state: the target record plus the
// assessment acknowledgement, which is conversation state rather than a
// target attribute.
type facts struct {
	target   domain.TargetContext
	assessed bool
}

// transition is one row of the stage table.
type transition struct {
	stage     domain.Stage
	satisfied func(p Policy, f *facts) bool
	next      domain.Stage
}

// stageTable drives progression. Each row advances exactly one stage, so a
// conversation can never skip ahead no matter how much information arrives
// in a single message.
var stageTable = []transition{
	{
		stage: domain.StageReconnaissance,
		satisfied: func(_ Policy, f *facts) bool {
			return f.target.Address != "" && f.target.OS != ""
		},
		next: domain.StageEnumeration,
	},
	{
		stage: domain.StageEnumeration,
		satisfied: func(p Policy, f *facts) bool {
			return f.target.ServiceCount() >= p.MinServices
		},
		next: domain.StageVulnerabilityAssessment,
	},
	{
		stage: domain.StageVulnerabilityAssessment,
		satisfied: func(p Policy, f *facts) bool {
			if p.AutoAssess {
				return f.target.ServiceCount() >= p.MinServices
			}
			return f.assessed
		},
		next: domain.StageMethodologySelection,
	},
	{
		stage: domain.StageMethodologySelection,
		satisfied: func(_ Policy, f *facts) bool {
			return f.target.Methodology != ""
		},
		next: domain.StageExploitation,
	},
}

// rowFor returns the table row for a stage. Terminal stages have none.
func rowFor(stage domain.Stage) (transition, bool) {
	for _, row := range stageTable {
		if row.stage == stage {
			return row, true
		}
	}
	return transition{}, false
}
