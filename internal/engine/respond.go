package engine

import (
	"fmt"
	"strings"

	"github.com/ashureev/spectral/internal/domain"
)

// respondCleared acknowledges a context reset.
func respondCleared() string {
	return "Understood, I've dropped everything about the previous target. We're starting fresh from reconnaissance."
}

// conversationalDraft is the template reply for messages that do not touch
// the engagement: greetings, research questions, coding requests outside an
// assessment.
func conversationalDraft(intent domain.Intent) string {
	switch intent {
	case domain.IntentCode:
		return "Happy to help with a coding task. Tell me the language and what the program should do, and I'll sketch an approach."
	case domain.IntentResearch:
		return "That sounds like a research question. Give me the product and version, or a CVE identifier, and I'll summarize what's publicly known about it."
	default:
		return "Hi! I'm Spectral, a security assessment assistant. I can help you scope a target, enumerate its services, and plan an engagement. What are you working on?"
	}
}

// engagedResponse confirms newly captured facts and then asks for whatever
// the current stage still needs. It never produces tool output or artifacts;
// it only moves the conversation along.
func (e *Engine) engagedResponse(captured []string) string {
	var b strings.Builder
	if len(captured) > 0 {
		b.WriteString("Noted: ")
		b.WriteString(strings.Join(captured, ", "))
		b.WriteString(". ")
	}
	b.WriteString(stageAsk(e.stage, &e.facts, e.policy))
	return b.String()
}

// stageAsk is the question or confirmation for the current stage given the
// facts on record.
func stageAsk(stage domain.Stage, f *facts, p Policy) string {
	switch stage {
	case domain.StageReconnaissance:
		return askReconnaissance(f)
	case domain.StageEnumeration:
		return fmt.Sprintf(
			"The target is scoped: %s running %s. Which services or open ports did enumeration find? I need at least %d before we can assess anything.",
			f.target.Address, f.target.OS, p.MinServices)
	case domain.StageVulnerabilityAssessment:
		return fmt.Sprintf(
			"Services on record: %s. Which of these versions look weak to you? Confirm the assessment and we'll pick an approach.",
			strings.Join(f.target.Services(), ", "))
	case domain.StageMethodologySelection:
		return fmt.Sprintf(
			"Assessment covers %s on %s. How should access be delivered? Describe the technique you prefer, such as a shell type and transport.",
			strings.Join(f.target.Services(), ", "), f.target.Address)
	default:
		return fmt.Sprintf(
			"Everything I need is on record for %s (%s): services %s and a delivery technique. The methodology gate is open, so proceed with your assessment tooling when you're ready.",
			f.target.Address, f.target.OS, strings.Join(f.target.Services(), ", "))
	}
}

func askReconnaissance(f *facts) string {
	switch {
	case f.target.Address == "" && f.target.OS == "":
		return "Before we go any further I need to scope the target. What is its IP address, and which operating system is it running?"
	case f.target.Address == "":
		return "What is the target's IP address? A hostname works too if that's all you have."
	default:
		return "Which operating system is the target running? Version details help."
	}
}
