// Package inputclassify decides, before a REPL line ever reaches the
// Agent Loop, whether it is a literal shell command, a natural-language
// goal for the LLM, or a shell-builtin/meta command. Routing literal
// commands straight to the shell skips the LLM round-trip entirely.
package inputclassify

import (
	"regexp"
	"strings"
)

// InputType is the classification a line of REPL input is routed under.
type InputType int

const (
	// Empty is blank or whitespace-only input.
	Empty InputType = iota
	// ShellCommand executes directly via the shell, bypassing the agent.
	ShellCommand
	// AgentGoal is sent to the Agent Loop as a natural-language goal.
	AgentGoal
	// MetaCommand is an internal REPL command (`:help`, `:reset`, ...).
	MetaCommand
)

func (t InputType) String() string {
	switch t {
	case Empty:
		return "EMPTY"
	case ShellCommand:
		return "SHELL_COMMAND"
	case AgentGoal:
		return "AGENT_GOAL"
	case MetaCommand:
		return "META_COMMAND"
	default:
		return "UNKNOWN"
	}
}

// Classified is the result of classifying one line of input.
type Classified struct {
	Type       InputType
	Content    string // processed content, prefix stripped
	Original   string
	Confidence float64
	Reason     string
}

// Options configures a Classifier's force-prefixes and ambiguous-input
// default.
type Options struct {
	ShellPrefix  string // forces ShellCommand, default "!"
	AgentPrefix  string // forces AgentGoal, default "ai "
	MetaPrefix   string // forces MetaCommand, default ":"
	DefaultAgent bool   // ambiguous input routes to AgentGoal instead of ShellCommand
}

// DefaultOptions matches the original shell wrapper's prefixes.
func DefaultOptions() Options {
	return Options{ShellPrefix: "!", AgentPrefix: "ai ", MetaPrefix: ":"}
}

// shellPatterns are anchored command-name/path/assignment heuristics;
// each match nudges the shell-likelihood score up.
var shellPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(ls|cd|pwd|mkdir|rm|cp|mv|cat|head|tail|less|more|grep|find|chmod|chown)\b`),
	regexp.MustCompile(`(?i)^(git|docker|kubectl|npm|yarn|pip|uv|cargo|make|cmake)\b`),
	regexp.MustCompile(`(?i)^(python|python3|node|ruby|perl|php|java|go|rust)\b`),
	regexp.MustCompile(`(?i)^(vim|nvim|nano|emacs|code|subl)\b`),
	regexp.MustCompile(`(?i)^(curl|wget|ssh|scp|rsync|tar|zip|unzip)\b`),
	regexp.MustCompile(`(?i)^(ps|top|htop|kill|pkill|sudo|su|which|whereis|type)\b`),
	regexp.MustCompile(`(?i)^(echo|printf|read|export|source|alias|unalias)\b`),
	regexp.MustCompile(`(?i)^(apt|apt-get|brew|yum|dnf|pacman)\b`),
	regexp.MustCompile(`(?i)^(systemctl|service|journalctl)\b`),
	regexp.MustCompile(`^(\./|/|~)`),
	regexp.MustCompile(`^[a-z_][a-z0-9_]*=`),
}

// naturalLanguagePatterns nudge the agent-goal-likelihood score up.
var naturalLanguagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(please|help|how|what|why|when|where|which|can you|could you)\b`),
	regexp.MustCompile(`(?i)\b(find|show|list|display|get|give|tell|explain)\s+me\b`),
	regexp.MustCompile(`(?i)\b(i want|i need|i'd like|let's|let me)\b`),
	regexp.MustCompile(`\?$`),
	regexp.MustCompile(`(?i)\b(all|every|any)\s+\w+\s+(files?|folders?|directories?)\b`),
}

// shellOperators, appearing anywhere in the line, are a strong shell
// signal regardless of the first token.
var shellOperators = []string{"|", ">", "<", "&&", "||", ";"}

// Classifier routes REPL input by force-prefix first, then heuristic
// shell-vs-natural-language scoring for everything else.
type Classifier struct {
	opts Options
}

// New returns a Classifier with opts; zero-value prefix fields fall
// back to DefaultOptions' values.
func New(opts Options) *Classifier {
	if opts.ShellPrefix == "" {
		opts.ShellPrefix = "!"
	}
	if opts.AgentPrefix == "" {
		opts.AgentPrefix = "ai "
	}
	if opts.MetaPrefix == "" {
		opts.MetaPrefix = ":"
	}
	return &Classifier{opts: opts}
}

// Classify routes one line of REPL input. Force prefixes are checked
// before any heuristic scoring; ShellPrefix is checked ahead of
// MetaPrefix so a line like "!:weird" is never mistaken for a meta
// command.
func (c *Classifier) Classify(input string) Classified {
	stripped := strings.TrimSpace(input)
	if stripped == "" {
		return Classified{Type: Empty, Original: input, Reason: "empty input"}
	}

	if rest, ok := strings.CutPrefix(stripped, c.opts.ShellPrefix); ok {
		return Classified{
			Type:     ShellCommand,
			Content:  strings.TrimSpace(rest),
			Original: input,
			Reason:   "forced by shell prefix",
		}
	}
	if rest, ok := strings.CutPrefix(stripped, c.opts.AgentPrefix); ok {
		return Classified{
			Type:     AgentGoal,
			Content:  strings.TrimSpace(rest),
			Original: input,
			Reason:   "forced by agent prefix",
		}
	}
	if rest, ok := strings.CutPrefix(stripped, c.opts.MetaPrefix); ok {
		return Classified{
			Type:     MetaCommand,
			Content:  strings.TrimSpace(rest),
			Original: input,
			Reason:   "meta command prefix",
		}
	}

	return c.heuristic(stripped, input)
}

func (c *Classifier) heuristic(text, original string) Classified {
	shellScore := shellLikelihood(text)
	nlScore := naturalLanguageLikelihood(text)

	switch {
	case shellScore > nlScore:
		return Classified{
			Type:       ShellCommand,
			Content:    text,
			Original:   original,
			Confidence: confidence(shellScore, nlScore),
			Reason:     "looks like a shell command",
		}
	case nlScore > shellScore:
		return Classified{
			Type:       AgentGoal,
			Content:    text,
			Original:   original,
			Confidence: confidence(nlScore, shellScore),
			Reason:     "looks like a natural-language goal",
		}
	default:
		t := ShellCommand
		if c.opts.DefaultAgent {
			t = AgentGoal
		}
		return Classified{
			Type:       t,
			Content:    text,
			Original:   original,
			Confidence: 0.5,
			Reason:     "ambiguous, using configured default",
		}
	}
}

func confidence(winner, loser float64) float64 {
	c := winner / (winner + loser + 0.1)
	if c > 1.0 {
		return 1.0
	}
	return c
}

func shellLikelihood(text string) float64 {
	score := 0.0
	for _, p := range shellPatterns {
		if p.MatchString(text) {
			score += 0.3
		}
	}

	fields := strings.Fields(text)
	if len(fields) > 0 {
		first := fields[0]
		if strings.HasPrefix(first, "./") || strings.HasPrefix(first, "/") || strings.HasPrefix(first, "~") || !strings.Contains(first, " ") {
			score += 0.2
		}
		for _, f := range fields[1:] {
			if strings.HasPrefix(f, "-") {
				score += 0.2
				break
			}
		}
	}

	for _, op := range shellOperators {
		if strings.Contains(text, op) {
			score += 0.3
			break
		}
	}

	if len(fields) <= 3 {
		score += 0.1
	}

	return min1(score)
}

func naturalLanguageLikelihood(text string) float64 {
	score := 0.0
	for _, p := range naturalLanguagePatterns {
		if p.MatchString(text) {
			score += 0.3
		}
	}

	wordCount := len(strings.Fields(text))
	if wordCount >= 5 {
		score += 0.2
	}
	if wordCount >= 8 {
		score += 0.2
	}

	if strings.ContainsAny(text, ".,?!") {
		score += 0.1
	}
	if text != "" && strings.ToUpper(text[:1]) == text[:1] && strings.ToLower(text[:1]) != text[:1] {
		score += 0.1
	}

	return min1(score)
}

func min1(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	return v
}
