// Package tasks answers quick operational requests (local IP, folder
// listings, file contents, one-off commands) directly, without engaging the
// conversation engine. These are tasks that finish fast and return their
// result in the same reply.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxFileChars    = 2000
	maxCommandChars = 1000
)

var (
	ipPatterns      = []string{"ip", "ipconfig", "address", "network", "wifi", "connection"}
	listPatterns    = []string{"list", "files", "folder", "directory", "show me"}
	readPatterns    = []string{"read", "open", "show", "display", "view"}
	commandPatterns = []string{"run ", "execute ", "command "}
	knownFolders    = []string{"desktop", "downloads", "documents"}

	// complexKeywords mark a request as a real coding or build task, which
	// is out of scope here no matter what else the message contains.
	complexKeywords = []string{
		"write", "create", "generate", "build", "program", "app",
		"application", "script", "code", "develop", "implement",
	}

	// dangerousTokens block a command outright. Substring matching on
	// purpose: over-blocking is acceptable, under-blocking is not.
	dangerousTokens = []string{"rm", "del", "format", "shutdown", "reboot", "mkfs", "dd"}
)

var (
	quotedPathPattern    = regexp.MustCompile(`["']([^"']+)["']`)
	verbPathPattern      = regexp.MustCompile(`(?i)(?:show|read|open|display|view)\s+(?:the\s+)?(?:file\s+)?([\w\-./]+\.\w+)`)
	trailingPathPattern  = regexp.MustCompile(`([\w\-./]+\.\w+)$`)
	fileExtensionPattern = regexp.MustCompile(`\.(txt|md|py|go|js|html|css|json|xml|csv|log|yaml|yml|ini|cfg|conf|pdf|doc|docx|xls|xlsx|jpg|jpeg|png|gif|svg|mp3|mp4|wav|zip|tar|gz)\b`)
)

// Executor handles simple immediate tasks.
type Executor struct {
	runner         Runner
	home           string
	interfaceAddrs func() ([]net.Addr, error)
}

// Option configures an Executor.
type Option func(*Executor)

// WithRunner enables the run-command task. Without a runner those requests
// are not handled.
func WithRunner(r Runner) Option {
	return func(e *Executor) { e.runner = r }
}

// WithHomeDir overrides the home directory used to resolve folder listings.
func WithHomeDir(dir string) Option {
	return func(e *Executor) { e.home = dir }
}

// NewExecutor returns an executor for simple immediate tasks.
func NewExecutor(opts ...Option) *Executor {
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Debug("Home directory unavailable, folder listings disabled", "error", err)
	}
	e := &Executor{
		home:           home,
		interfaceAddrs: net.InterfaceAddrs,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CanHandle reports whether the message is a simple task this executor can
// answer immediately. Messages carrying coding vocabulary are never simple
// tasks, even when they also mention files or commands.
func (e *Executor) CanHandle(input string) bool {
	lower := strings.ToLower(input)

	if containsAny(lower, complexKeywords) {
		return false
	}
	if containsAny(lower, ipPatterns) {
		return true
	}
	if containsAny(lower, listPatterns) && containsAny(lower, knownFolders) {
		return true
	}
	if containsAny(lower, readPatterns) {
		if strings.Contains(lower, "file") || fileExtensionPattern.MatchString(lower) {
			return true
		}
	}
	if e.runner != nil && containsAny(lower, commandPatterns) {
		return true
	}
	return false
}

// Execute attempts the task and returns its result. The boolean is false
// when the message is not a simple task or every matching task failed, in
// which case the caller falls back to the conversation engine.
func (e *Executor) Execute(ctx context.Context, input string) (string, bool) {
	if !e.CanHandle(input) {
		return "", false
	}
	lower := strings.ToLower(input)

	if containsAny(lower, ipPatterns) {
		out, err := e.lookupIP()
		if err == nil {
			return out, true
		}
		slog.Debug("IP lookup failed", "error", err)
	}

	if containsAny(lower, listPatterns) {
		out, err := e.listFiles(lower)
		if err == nil {
			return out, true
		}
		slog.Debug("Folder listing failed", "error", err)
	}

	if containsAny(lower, readPatterns) {
		if strings.Contains(lower, "file") || fileExtensionPattern.MatchString(lower) {
			out, err := e.readFile(input)
			if err == nil {
				return out, true
			}
			slog.Debug("File read failed", "error", err)
		}
	}

	if e.runner != nil && containsAny(lower, commandPatterns) {
		out, err := e.runCommand(ctx, input)
		if err == nil {
			return out, true
		}
		slog.Debug("Command task failed", "error", err)
	}

	return "", false
}

// lookupIP reports the host's non-loopback IPv4 addresses.
func (e *Executor) lookupIP() (string, error) {
	addrs, err := e.interfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("interface addresses: %w", err)
	}

	var ips []string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			ips = append(ips, v4.String())
		}
	}
	if len(ips) == 0 {
		return "", errors.New("no non-loopback IPv4 address found")
	}
	if len(ips) == 1 {
		return "Your IP address is: " + ips[0], nil
	}

	var b strings.Builder
	b.WriteString("Your IP addresses:")
	for _, ip := range ips {
		b.WriteString("\n- " + ip)
	}
	return b.String(), nil
}

// listFiles lists a well-known home folder, directories first.
func (e *Executor) listFiles(lower string) (string, error) {
	var label string
	switch {
	case strings.Contains(lower, "desktop"):
		label = "Desktop"
	case strings.Contains(lower, "downloads"):
		label = "Downloads"
	case strings.Contains(lower, "documents"):
		label = "Documents"
	default:
		return "", errors.New("no known folder mentioned")
	}
	if e.home == "" {
		return "", errors.New("home directory unknown")
	}

	entries, err := os.ReadDir(filepath.Join(e.home, label))
	if err != nil {
		return "", fmt.Errorf("list %s: %w", label, err)
	}

	var dirs, files []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name()+"/")
		} else {
			files = append(files, entry.Name())
		}
	}
	names := append(dirs, files...)
	if len(names) == 0 {
		return "The " + label + " folder is empty.", nil
	}

	var b strings.Builder
	b.WriteString("Files in " + label + ":")
	for _, name := range names {
		b.WriteString("\n  - " + name)
	}
	return b.String(), nil
}

// readFile extracts a path from the message and returns the file contents,
// truncated for chat display.
func (e *Executor) readFile(input string) (string, error) {
	path := extractFilePath(input)
	if path == "" {
		return "", errors.New("no file path in message")
	}
	if strings.HasPrefix(path, "~") {
		path = filepath.Join(e.home, strings.TrimPrefix(path, "~"))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return "Contents of " + filepath.Base(path) + ":\n" + truncate(string(data), maxFileChars), nil
}

// runCommand extracts the command after a run/execute/command marker, checks
// it against the blocklist and hands it to the runner.
func (e *Executor) runCommand(ctx context.Context, input string) (string, error) {
	command := extractCommand(input)
	if command == "" {
		return "", errors.New("no command in message")
	}

	lower := strings.ToLower(command)
	for _, banned := range dangerousTokens {
		if strings.Contains(lower, banned) {
			slog.Warn("Blocked dangerous command", "command", command)
			return "", fmt.Errorf("command contains blocked token %q", banned)
		}
	}

	out, err := e.runner.Run(ctx, command)
	if err != nil {
		return "", fmt.Errorf("run command: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "Command executed successfully (no output)", nil
	}
	return truncate(out, maxCommandChars), nil
}

// extractFilePath finds a file path in the message: a quoted path first,
// then a path following a read verb, then a path ending the message.
func extractFilePath(input string) string {
	if m := quotedPathPattern.FindStringSubmatch(input); m != nil {
		return m[1]
	}
	if m := verbPathPattern.FindStringSubmatch(input); m != nil {
		return m[1]
	}
	if m := trailingPathPattern.FindStringSubmatch(strings.TrimSpace(input)); m != nil {
		return m[1]
	}
	return ""
}

func extractCommand(input string) string {
	lower := strings.ToLower(input)
	for _, marker := range commandPatterns {
		if idx := strings.Index(lower, marker); idx != -1 {
			return strings.TrimSpace(input[idx+len(marker):])
		}
	}
	return ""
}

func truncate(s string, maxChars int) string {
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars]) +
		fmt.Sprintf("\n... (truncated, showing first %d characters)", maxChars)
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
