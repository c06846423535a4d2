// Package security implements the Risk Classifier and Security
// Controller: ordered pattern-based command risk classification, the
// role x policy x risk decision table, the pluggable approval flow, and
// the append-only audit log.
package security

import (
	"regexp"
	"strings"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

type riskPattern struct {
	pattern *regexp.Regexp
	reason  string
}

// criticalPatterns are whole-line anchored; any match is an automatic
// CRITICAL classification regardless of what else appears on the line.
var criticalPatterns = []riskPattern{
	{regexp.MustCompile(`^\s*rm\s+-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*\s+/\s*$`), "recursive deletion of the root filesystem"},
	{regexp.MustCompile(`^\s*rm\s+-[a-zA-Z]*f[a-zA-Z]*r[a-zA-Z]*\s+/\s*$`), "recursive deletion of the root filesystem"},
	{regexp.MustCompile(`^\s*mkfs(\.\w+)?\s+`), "raw filesystem format"},
	{regexp.MustCompile(`^\s*dd\s+.*of=/dev/[a-z]+\d*\s*`), "dd writing directly to a device node"},
	{regexp.MustCompile(`^\s*:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:\s*$`), "fork bomb"},
	{regexp.MustCompile(`^\s*.*>\s*/dev/sd[a-z]\d*\s*$`), "redirection writing to a raw disk device"},
	{regexp.MustCompile(`^\s*chmod\s+-R\s+777\s+/\s*$`), "recursive world-writable permission change at root"},
}

// highPatterns may match anywhere in the command.
var highPatterns = []riskPattern{
	{regexp.MustCompile(`\brm\s+-[a-zA-Z]*r[a-zA-Z]*`), "recursive delete"},
	{regexp.MustCompile(`\brm\s+-[a-zA-Z]*R[a-zA-Z]*`), "recursive delete"},
	{regexp.MustCompile(`^\s*sudo\s+`), "privilege escalation via sudo"},
	{regexp.MustCompile(`\b(useradd|userdel|usermod|groupadd|groupdel|groupmod)\b`), "user or group management"},
	{regexp.MustCompile(`\bsystemctl\s+(stop|disable|mask)\b`), "service stop/disable/mask"},
	{regexp.MustCompile(`\b(service)\s+\S+\s+stop\b`), "service stop"},
	{regexp.MustCompile(`\b(reboot|shutdown|poweroff|halt)\b`), "system control"},
	{regexp.MustCompile(`\bchmod\s+-R\b`), "recursive chmod"},
	{regexp.MustCompile(`\bchown\s+-R\b`), "recursive chown"},
}

// mediumPatterns may match anywhere in the command.
var mediumPatterns = []riskPattern{
	{regexp.MustCompile(`\b(apt-get|apt|yum|dnf|pacman|apk)\s+install\b`), "package install"},
	{regexp.MustCompile(`\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(ba)?sh\b`), "piping a remote download into a shell"},
	{regexp.MustCompile(`\bsystemctl\s+(start|restart)\b`), "service start/restart"},
	{regexp.MustCompile(`\b(service)\s+\S+\s+(start|restart)\b`), "service start/restart"},
	{regexp.MustCompile(`>{1,2}\s*/etc/\S+`), "redirection writing under /etc"},
}

// Classify implements the Risk Classifier: a pure function mapping a
// command string to a RiskLevel and the human-readable reasons behind
// it. Three ordered pattern tables are evaluated from most to least
// dangerous; the first matching table determines the level, and every
// pattern that matches within that table contributes a reason. No
// match yields SAFE. Classification is order-stable and side-effect
// free.
func Classify(command string) (agentmodel.RiskLevel, []string) {
	if strings.TrimSpace(command) == "" {
		return agentmodel.RiskSafe, nil
	}

	if reasons := matchAll(criticalPatterns, command); len(reasons) > 0 {
		return agentmodel.RiskCritical, reasons
	}
	if reasons := matchAll(highPatterns, command); len(reasons) > 0 {
		return agentmodel.RiskHigh, reasons
	}
	if reasons := matchAll(mediumPatterns, command); len(reasons) > 0 {
		return agentmodel.RiskMedium, reasons
	}
	return agentmodel.RiskSafe, nil
}

func matchAll(patterns []riskPattern, command string) []string {
	var reasons []string
	for _, p := range patterns {
		if p.pattern.MatchString(command) {
			reasons = append(reasons, p.reason)
		}
	}
	return reasons
}
