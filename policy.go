package steward

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Decision is the outcome of an authorization check for one tool call.
type Decision int

const (
	// AutoExecute: the call runs without human involvement.
	AutoExecute Decision = iota
	// NeedsApproval: the call waits for an explicit approve/reject.
	NeedsApproval
	// Denied: the call never runs; a denial result is synthesized.
	Denied
)

func (d Decision) String() string {
	switch d {
	case AutoExecute:
		return "auto_execute"
	case NeedsApproval:
		return "needs_approval"
	case Denied:
		return "denied"
	}
	return "unknown"
}

// Ruling is a decision plus its human-readable reason.
type Ruling struct {
	Decision Decision
	Reason   string
}

// DenyList is a per-principal set of blocked tools. Entries are exact tool
// names or path.Match patterns ("shopping_*"). A matched tool is always
// denied regardless of autonomy level. Callers pass a snapshot taken at
// authorization time; the list itself is never mutated mid-decision.
type DenyList []string

// Matches reports whether tool is blocked by any entry.
func (d DenyList) Matches(tool string) bool {
	for _, entry := range d {
		if entry == tool {
			return true
		}
		if ok, err := path.Match(entry, tool); err == nil && ok {
			return true
		}
	}
	return false
}

// autoCeiling returns the highest risk tier the level auto-executes, or -1
// when nothing auto-executes (L0).
//
//	level | read | low write | high write | irreversible
//	L0    |  ⏸   |    ⏸      |     ⏸      |     ⏸
//	L1    |  ▶   |    ⏸      |     ⏸      |     ⏸
//	L2    |  ▶   |    ▶      |     ⏸      |     ⏸
//	L3    |  ▶   |    ▶      |     ▶      |     ▶
func autoCeiling(level AutonomyLevel) RiskTier {
	switch level {
	case AutonomyL1:
		return RiskRead
	case AutonomyL2:
		return RiskLowWrite
	case AutonomyL3:
		return RiskIrreversible
	}
	return RiskTier(-1)
}

// dangerousArgPatterns flag argument payloads that look like injection
// attempts independent of the tool's risk tier. Matching any one forces a
// denial.
var dangerousArgPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`\.\./|\.\.\\`), "path traversal sequence in arguments"},
	{regexp.MustCompile("`[^`]*`|\\$\\("), "shell command substitution in arguments"},
	{regexp.MustCompile(`(?i)[;&|]\s*(rm|curl|wget|sh|bash|nc|chmod|mkfs|shutdown|reboot)\b`), "shell command chaining in arguments"},
	{regexp.MustCompile(`(?i)\b(drop\s+table|delete\s+from|truncate\s+table)\b`), "SQL mutation statement in arguments"},
	{regexp.MustCompile(`(?i)('\s*or\s*'1'\s*=\s*'1|--\s*$)`), "SQL injection pattern in arguments"},
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`), "prompt injection phrase in arguments"},
}

// zeroWidthArgChars strips Unicode zero-width and invisible characters
// used to smuggle payloads past substring checks.
var zeroWidthArgChars = strings.NewReplacer(
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\ufeff", "", // zero-width no-break space (BOM)
	"\u2060", "", // word joiner
	"\u00ad", "", // soft hyphen
)

// Decide maps (autonomy level, tool risk, deny list, argument payload) to
// an authorization ruling. Pure and deterministic: same inputs always
// yield the same ruling, and no I/O is performed.
//
// Order of checks: deny list first, then dangerous argument patterns,
// then the autonomy × risk table.
func Decide(level AutonomyLevel, tool string, risk RiskTier, deny DenyList, args json.RawMessage) Ruling {
	if deny.Matches(tool) {
		return Ruling{Decision: Denied, Reason: fmt.Sprintf("tool %q is on the deny list", tool)}
	}
	if reason := scanArgs(args); reason != "" {
		return Ruling{Decision: Denied, Reason: reason}
	}
	if risk <= autoCeiling(level) {
		return Ruling{
			Decision: AutoExecute,
			Reason:   fmt.Sprintf("%s tier auto-executes at autonomy %s", risk, level),
		}
	}
	return Ruling{
		Decision: NeedsApproval,
		Reason:   fmt.Sprintf("%s tier requires approval at autonomy %s", risk, level),
	}
}

// scanArgs checks the normalized argument payload against the dangerous
// pattern set. Returns the matched reason, or "" when clean.
func scanArgs(args json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	normalized := norm.NFKC.String(zeroWidthArgChars.Replace(string(args)))
	for _, p := range dangerousArgPatterns {
		if p.re.MatchString(normalized) {
			return p.reason
		}
	}
	return ""
}
