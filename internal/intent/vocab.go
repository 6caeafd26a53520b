package intent

import "github.com/ashureev/spectral/internal/domain"

// matchMode selects how a vocabulary term is compared against the input.
type matchMode int

const (
	// modeExact requires a verbatim token match.
	modeExact matchMode = iota
	// modeFuzzy also accepts tokens within one edit of the term.
	modeFuzzy
	// modePhrase matches a multi-word term as a substring of the whole text.
	modePhrase
)

// term is a single vocabulary entry.
type term struct {
	text string
	mode matchMode
}

// vocabulary is the priority-ordered match table: the first intent with any
// hit decides the label. Attack/access vocabulary outranks programming
// vocabulary so that a request like "generate metasploit windows payload"
// is never treated as an ordinary coding task; programming vocabulary in
// turn outranks scanning vocabulary so that "write a script to scan ports"
// stays a coding task.
var vocabulary = []struct {
	intent domain.Intent
	terms  []term
}{
	{
		intent: domain.IntentExploitation,
		terms: []term{
			{"reverse shell", modePhrase},
			{"bind shell", modePhrase},
			{"remote access", modePhrase},
			{"gain access", modePhrase},
			{"break into", modePhrase},
			{"privilege escalation", modePhrase},
			{"exploit", modeFuzzy},
			{"metasploit", modeFuzzy},
			{"msfvenom", modeFuzzy},
			{"payload", modeFuzzy},
			{"meterpreter", modeFuzzy},
			{"backdoor", modeFuzzy},
			{"compromise", modeFuzzy},
			{"bruteforce", modeFuzzy},
			{"shell", modeExact},
			{"hack", modeExact},
			{"attack", modeExact},
			{"pwn", modeExact},
		},
	},
	{
		intent: domain.IntentCode,
		terms: []term{
			{"script", modeFuzzy},
			{"program", modeFuzzy},
			{"python", modeFuzzy},
			{"javascript", modeFuzzy},
			{"keylogger", modeFuzzy},
			{"application", modeFuzzy},
			{"function", modeFuzzy},
			{"generate", modeFuzzy},
			{"develop", modeFuzzy},
			{"implement", modeFuzzy},
			{"write", modeExact},
			{"create", modeExact},
			{"build", modeExact},
			{"code", modeExact},
			{"app", modeExact},
			{"java", modeExact},
			{"bash", modeExact},
		},
	},
	{
		intent: domain.IntentReconnaissance,
		terms: []term{
			{"open ports", modePhrase},
			{"port scan", modePhrase},
			{"scan", modeFuzzy},
			{"scanning", modeFuzzy},
			{"enumerate", modeFuzzy},
			{"enumeration", modeFuzzy},
			{"reconnaissance", modeFuzzy},
			{"fingerprint", modeFuzzy},
			{"nmap", modeExact},
			{"port", modeExact},
			{"ports", modeExact},
			{"recon", modeExact},
			{"services", modeExact},
			{"sweep", modeExact},
			{"probe", modeExact},
		},
	},
	{
		intent: domain.IntentResearch,
		terms: []term{
			{"security advisory", modePhrase},
			{"vulnerability", modeFuzzy},
			{"vulnerabilities", modeFuzzy},
			{"research", modeFuzzy},
			{"advisory", modeFuzzy},
			{"weakness", modeFuzzy},
			{"disclosure", modeFuzzy},
			{"cve", modeExact},
		},
	},
	{
		intent: domain.IntentChat,
		terms: []term{
			{"how are you", modePhrase},
			{"hello", modeExact},
			{"hi", modeExact},
			{"hey", modeExact},
			{"thanks", modeExact},
			{"thank", modeExact},
			{"joke", modeExact},
		},
	},
}
