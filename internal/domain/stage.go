package domain

// Stage is a position in the ordered engagement methodology. A conversation
// may only advance forward one stage at a time and never skips a stage; the
// only backward movement is a full reset to StageReconnaissance.
type Stage string

const (
	// StageReconnaissance gathers the target address and operating system.
	StageReconnaissance Stage = "RECONNAISSANCE"
	// StageEnumeration gathers exposed services and ports.
	StageEnumeration Stage = "ENUMERATION"
	// StageVulnerabilityAssessment reviews weaknesses in the known services.
	StageVulnerabilityAssessment Stage = "VULNERABILITY_ASSESSMENT"
	// StageMethodologySelection captures the chosen delivery technique.
	StageMethodologySelection Stage = "METHODOLOGY_SELECTION"
	// StageExploitation means all prerequisites are satisfied. Terminal.
	StageExploitation Stage = "EXPLOITATION"
)

// stageOrder defines the total ordering of stages.
var stageOrder = [...]Stage{
	StageReconnaissance,
	StageEnumeration,
	StageVulnerabilityAssessment,
	StageMethodologySelection,
	StageExploitation,
}

// AllStages returns the stages in methodology order.
func AllStages() []Stage {
	return stageOrder[:]
}

// IsValid reports whether the stage is a member of the ordered set.
func (s Stage) IsValid() bool {
	return s.Rank() >= 0
}

// Rank returns the stage's position in the methodology order, or -1 for an
// unknown stage.
func (s Stage) Rank() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// Next returns the following stage. Terminal or unknown stages return
// themselves, so callers can advance unconditionally without skipping.
func (s Stage) Next() Stage {
	rank := s.Rank()
	if rank < 0 || rank >= len(stageOrder)-1 {
		return s
	}
	return stageOrder[rank+1]
}

// IsTerminal reports whether the stage has no successor.
func (s Stage) IsTerminal() bool {
	return s == StageExploitation
}
