package engine

import (
	"net"
	"regexp"
	"strings"
	"unicode"

	"github.com/ashureev/spectral/internal/domain"
)

var (
	ipv4Pattern        = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	servicePortPattern = regexp.MustCompile(`\b([a-z][a-z0-9+-]*)\s+(?:on\s+)?port\s+(\d{1,5})\b`)
	portPattern        = regexp.MustCompile(`\bport\s+(\d{1,5})\b`)
	versionPattern     = regexp.MustCompile(`^\d+(\.\d+)*$`)
)

var knownOS = map[string]bool{
	"windows": true, "linux": true, "ubuntu": true, "debian": true,
	"centos": true, "fedora": true, "redhat": true, "macos": true,
	"freebsd": true, "unix": true, "solaris": true,
}

var knownServices = map[string]bool{
	"smb": true, "http": true, "https": true, "ftp": true, "ssh": true,
	"rdp": true, "telnet": true, "smtp": true, "dns": true, "mysql": true,
	"postgres": true, "postgresql": true, "redis": true, "ldap": true,
	"vnc": true, "snmp": true, "nfs": true, "winrm": true, "mssql": true,
}

// techniqueWords mark a message as describing a delivery technique. The
// message itself becomes the recorded methodology.
var techniqueWords = map[string]bool{
	"reverse": true, "bind": true, "shell": true, "tcp": true, "udp": true,
	"http": true, "https": true, "powershell": true, "bash": true,
	"python": true, "meterpreter": true, "webshell": true, "staged": true,
	"stageless": true, "obfuscation": true, "obfuscated": true,
	"encoded": true, "phishing": true, "injection": true, "macro": true,
	"dll": true,
}

// assessmentWords acknowledge that the exposed services have been assessed.
// Only consulted when the policy does not auto-assess.
var assessmentWords = map[string]bool{
	"vulnerable": true, "vulnerability": true, "vulnerabilities": true,
	"weakness": true, "weaknesses": true, "assessed": true,
	"confirmed": true, "cve": true, "outdated": true, "unpatched": true,
	"exploitable": true,
}

// extracted carries the facts found in a single message.
type extracted struct {
	address     string
	os          string
	services    []string
	methodology string
	assessed    bool
}

func (e extracted) any() bool {
	return e.address != "" || e.os != "" || len(e.services) > 0 ||
		e.methodology != "" || e.assessed
}

// extractForStage pulls only the facts the current stage is waiting for.
// Information aimed at a later stage is ignored until the conversation
// gets there.
func extractForStage(stage domain.Stage, text string) extracted {
	var ex extracted
	switch stage {
	case domain.StageReconnaissance:
		ex.address = extractAddress(text)
		ex.os = extractOS(text)
	case domain.StageEnumeration:
		ex.services = extractServices(text)
	case domain.StageVulnerabilityAssessment:
		ex.assessed = extractAssessment(text)
	case domain.StageMethodologySelection:
		ex.methodology = extractMethodology(text)
	}
	return ex
}

// extractAddress returns the first well-formed IPv4 address in the text.
// Regex hits that fail net.ParseIP, such as 192.168.999.1, do not count.
func extractAddress(text string) string {
	for _, m := range ipv4Pattern.FindAllString(text, -1) {
		if net.ParseIP(m) != nil {
			return m
		}
	}
	return ""
}

// extractOS returns an operating system descriptor such as "windows 10",
// keeping a version token when one directly follows the OS name.
func extractOS(text string) string {
	words := splitWords(strings.ToLower(text))
	for i, w := range words {
		if !knownOS[w] {
			continue
		}
		if i+1 < len(words) && versionPattern.MatchString(words[i+1]) {
			return w + " " + words[i+1]
		}
		return w
	}
	return ""
}

// servicePortStopwords are words that precede "on port N" without naming a
// service, such as "listening on port 443".
var servicePortStopwords = map[string]bool{
	"on": true, "the": true, "a": true, "an": true, "is": true,
	"open": true, "listening": true, "running": true, "answers": true,
	"responds": true, "something": true, "service": true, "services": true,
}

// extractServices finds exposed services: "smb on port 445" style mentions,
// bare well-known service names, and as a last resort bare port numbers.
func extractServices(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	named := make(map[string]bool)

	for _, m := range servicePortPattern.FindAllStringSubmatch(lower, -1) {
		name := m[1]
		if servicePortStopwords[name] {
			continue
		}
		named[name] = true
		out = append(out, name+"/"+m[2])
	}
	for _, w := range splitWords(lower) {
		if knownServices[w] && !named[w] {
			named[w] = true
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		for _, m := range portPattern.FindAllStringSubmatch(lower, -1) {
			out = append(out, "port "+m[1])
		}
	}
	return out
}

// extractMethodology treats the whole message as the chosen delivery
// technique when it contains technique vocabulary.
func extractMethodology(text string) string {
	for _, w := range splitWords(strings.ToLower(text)) {
		if techniqueWords[w] {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

func extractAssessment(text string) bool {
	for _, w := range splitWords(strings.ToLower(text)) {
		if assessmentWords[w] {
			return true
		}
	}
	return false
}

// splitWords breaks text into word tokens. Dots survive inside a token so
// that version strings like 22.04 stay whole, but sentence punctuation is
// trimmed away.
func splitWords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.Trim(f, "."); f != "" {
			out = append(out, f)
		}
	}
	return out
}
