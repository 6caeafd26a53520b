package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ashureev/spectral/internal/domain"
	"github.com/ashureev/spectral/internal/intent"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	return New(intent.NewClassifier(), opts...)
}

func TestStageTableIntegrity(t *testing.T) {
	t.Parallel()

	covered := make(map[domain.Stage]bool)
	for _, row := range stageTable {
		covered[row.stage] = true
		if got, want := row.next.Rank(), row.stage.Rank()+1; got != want {
			t.Errorf("stage %s advances to %s (rank %d), want rank %d", row.stage, row.next, got, want)
		}
	}
	for _, stage := range domain.AllStages() {
		if stage.IsTerminal() {
			if _, ok := rowFor(stage); ok {
				t.Errorf("terminal stage %s must not have a transition", stage)
			}
			continue
		}
		if !covered[stage] {
			t.Errorf("stage %s has no transition row", stage)
		}
	}
}

func TestStagedEngagementProgression(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	ctx := context.Background()

	steps := []struct {
		message string
		stage   domain.Stage
	}{
		{"I want to test my Windows machine", domain.StageReconnaissance},
		{"192.168.1.100 Windows 10", domain.StageEnumeration},
		{"SMB on port 445", domain.StageMethodologySelection},
		{"PowerShell reverse TCP, no obfuscation", domain.StageExploitation},
	}

	lastRank := domain.StageReconnaissance.Rank()
	for i, step := range steps {
		reply := eng.Handle(ctx, step.message)
		if reply.Stage != step.stage {
			t.Fatalf("after message %d %q: stage = %s, want %s", i+1, step.message, reply.Stage, step.stage)
		}
		if reply.Stage.Rank() < lastRank {
			t.Fatalf("after message %d: stage moved backward to %s", i+1, reply.Stage)
		}
		lastRank = reply.Stage.Rank()
		if reply.Text == "" {
			t.Fatalf("after message %d: empty reply", i+1)
		}
	}

	target := eng.Target()
	if target.Address != "192.168.1.100" {
		t.Errorf("target address = %q, want 192.168.1.100", target.Address)
	}
	if target.OS != "windows 10" {
		t.Errorf("target OS = %q, want windows 10", target.OS)
	}
	if len(target.Services) != 1 || target.Services[0] != "smb/445" {
		t.Errorf("target services = %v, want [smb/445]", target.Services)
	}
	if target.Methodology == "" {
		t.Error("methodology not recorded")
	}
	if !eng.Stage().IsTerminal() {
		t.Errorf("final stage %s is not terminal", eng.Stage())
	}
}

func TestNoShortcutToArtifacts(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	reply := eng.Handle(context.Background(), "generate a metasploit payload for windows")

	if reply.Stage != domain.StageReconnaissance {
		t.Fatalf("stage = %s, want %s", reply.Stage, domain.StageReconnaissance)
	}

	lower := strings.ToLower(reply.Text)
	for _, banned := range []string{"generate", "payload", "exploit", "code:", "```", "msfvenom"} {
		if strings.Contains(lower, banned) {
			t.Errorf("reply contains %q: %s", banned, reply.Text)
		}
	}

	asking := false
	for _, word := range []string{"what", "which", "how", "please", "provide", "need", "version", "delivery"} {
		if strings.Contains(lower, word) {
			asking = true
			break
		}
	}
	if !asking {
		t.Errorf("reply does not ask for missing information: %s", reply.Text)
	}
}

func TestNeverSkipsStages(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	reply := eng.Handle(context.Background(),
		"exploit 192.168.1.100 windows 10 smb on port 445 with a reverse shell")

	// Address and OS are captured, but service facts aimed at a later stage
	// are ignored until the conversation gets there.
	if reply.Stage != domain.StageEnumeration {
		t.Fatalf("stage = %s, want %s", reply.Stage, domain.StageEnumeration)
	}
	if got := eng.Target(); len(got.Services) != 0 {
		t.Errorf("services captured ahead of stage: %v", got.Services)
	}
}

func TestClearPhraseResetsContext(t *testing.T) {
	t.Parallel()

	clearInputs := []string{
		"forget about that",
		"Never mind, different machine.",
		"ok, reset please",
		"let's start over with a new box",
	}
	for _, input := range clearInputs {
		t.Run(input, func(t *testing.T) {
			t.Parallel()

			eng := newTestEngine(t)
			ctx := context.Background()
			eng.Handle(ctx, "192.168.1.100 Windows 10")
			if !eng.Engaged() {
				t.Fatal("engine did not capture target facts")
			}

			reply := eng.Handle(ctx, input)
			if reply.Stage != domain.StageReconnaissance {
				t.Errorf("stage after clear = %s, want %s", reply.Stage, domain.StageReconnaissance)
			}
			if !reply.Target.Empty() {
				t.Errorf("target after clear = %+v, want empty", reply.Target)
			}
			if eng.Engaged() {
				t.Error("engine still engaged after clear")
			}
		})
	}
}

func TestSmallTalkLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	ctx := context.Background()

	first := eng.Handle(ctx, "hello, how are you?")
	second := eng.Handle(ctx, "hello, how are you?")

	if first.Intent != domain.IntentChat {
		t.Errorf("intent = %s, want %s", first.Intent, domain.IntentChat)
	}
	if first.Text != second.Text {
		t.Errorf("replies differ between identical messages:\n%s\n%s", first.Text, second.Text)
	}
	if eng.Stage() != domain.StageReconnaissance {
		t.Errorf("stage = %s, want %s", eng.Stage(), domain.StageReconnaissance)
	}
	if eng.Engaged() {
		t.Error("small talk captured target facts")
	}
}

func TestMalformedAddressNotCaptured(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	reply := eng.Handle(context.Background(), "the box at 192.168.999.1 runs windows")

	if got := eng.Target().Address; got != "" {
		t.Errorf("address = %q, want empty", got)
	}
	if reply.Stage != domain.StageReconnaissance {
		t.Errorf("stage = %s, want %s", reply.Stage, domain.StageReconnaissance)
	}
	if !strings.Contains(strings.ToLower(reply.Text), "address") {
		t.Errorf("reply should ask for the address: %s", reply.Text)
	}
}

func TestCodeRequestOutsideEngagement(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	reply := eng.Handle(context.Background(), "write a python script to parse logs")

	if reply.Intent != domain.IntentCode {
		t.Errorf("intent = %s, want %s", reply.Intent, domain.IntentCode)
	}
	if eng.Engaged() {
		t.Error("coding request outside an engagement captured facts")
	}
	if eng.Stage() != domain.StageReconnaissance {
		t.Errorf("stage = %s, want %s", eng.Stage(), domain.StageReconnaissance)
	}
}

func TestCodeRequestInsideEngagementRedirects(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	ctx := context.Background()
	eng.Handle(ctx, "192.168.1.100 Windows 10")

	reply := eng.Handle(ctx, "write a keylogger for it")
	if reply.Stage != domain.StageEnumeration {
		t.Fatalf("stage = %s, want %s", reply.Stage, domain.StageEnumeration)
	}
	lower := strings.ToLower(reply.Text)
	if !strings.Contains(lower, "services") && !strings.Contains(lower, "ports") {
		t.Errorf("reply should redirect to enumeration: %s", reply.Text)
	}
}

func TestManualAssessmentPolicy(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, WithPolicy(Policy{MinServices: 1, AutoAssess: false}))
	ctx := context.Background()

	eng.Handle(ctx, "192.168.1.100 Windows 10")
	reply := eng.Handle(ctx, "SMB on port 445")
	if reply.Stage != domain.StageVulnerabilityAssessment {
		t.Fatalf("stage = %s, want %s", reply.Stage, domain.StageVulnerabilityAssessment)
	}

	reply = eng.Handle(ctx, "yes, those versions look vulnerable")
	if reply.Stage != domain.StageMethodologySelection {
		t.Fatalf("stage = %s, want %s", reply.Stage, domain.StageMethodologySelection)
	}
}

func TestMinServicesPolicy(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, WithPolicy(Policy{MinServices: 2, AutoAssess: true}))
	ctx := context.Background()

	eng.Handle(ctx, "192.168.1.100 Windows 10")
	reply := eng.Handle(ctx, "SMB on port 445")
	if reply.Stage != domain.StageEnumeration {
		t.Fatalf("stage = %s, want %s (one service is not enough)", reply.Stage, domain.StageEnumeration)
	}

	reply = eng.Handle(ctx, "also ssh on port 22")
	if reply.Stage != domain.StageMethodologySelection {
		t.Fatalf("stage = %s, want %s", reply.Stage, domain.StageMethodologySelection)
	}
}

type stubPhraser struct {
	reply string
	err   error
	calls int
}

func (s *stubPhraser) Phrase(_ context.Context, _, draft string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if s.reply == "" {
		return draft, nil
	}
	return s.reply, nil
}

func TestPhraserOnlyTouchesSmallTalk(t *testing.T) {
	t.Parallel()

	phraser := &stubPhraser{reply: "rephrased greeting"}
	eng := newTestEngine(t, WithPhraser(phraser))
	ctx := context.Background()

	reply := eng.Handle(ctx, "hello there")
	if reply.Text != "rephrased greeting" {
		t.Errorf("small talk reply = %q, want phrased text", reply.Text)
	}

	reply = eng.Handle(ctx, "write a python script to parse logs")
	if reply.Text == "rephrased greeting" {
		t.Error("phraser applied to a coding reply")
	}
	if phraser.calls != 1 {
		t.Errorf("phraser calls = %d, want 1", phraser.calls)
	}
}

func TestPhraserErrorFallsBackToTemplate(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, WithPhraser(&stubPhraser{err: errors.New("model offline")}))
	reply := eng.Handle(context.Background(), "hello there")

	if reply.Text == "" {
		t.Fatal("empty reply after phraser failure")
	}
	if reply.Text != conversationalDraft(domain.IntentChat) {
		t.Errorf("reply = %q, want the template fallback", reply.Text)
	}
}

func TestHandleNeverFails(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t)
	ctx := context.Background()
	for _, input := range []string{"", "   ", "??!", "asdfghjkl", "42"} {
		reply := eng.Handle(ctx, input)
		if reply.Text == "" {
			t.Errorf("Handle(%q) returned an empty reply", input)
		}
		if !reply.Intent.IsValid() {
			t.Errorf("Handle(%q) intent = %q, not a known label", input, reply.Intent)
		}
	}
}
