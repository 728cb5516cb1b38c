package security

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// RiskLevel classifies a command or path into one of four tiers.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels: low < medium < high < critical.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return -1
	}
}

// Valid reports whether l is one of the four known tiers.
func (l RiskLevel) Valid() bool {
	return l.Rank() >= 0
}

// Score thresholds mapping a numeric score to a tier.
const (
	scoreCritical = 80
	scoreHigh     = 60
	scoreMedium   = 30
)

// RiskAssessment is the outcome of scoring a command or path. It is a pure
// function of the input: no hidden state, deterministic, reasons in the
// order the checks fired.
type RiskAssessment struct {
	Level   RiskLevel `json:"level"`
	Score   int       `json:"score"`
	Reasons []string  `json:"reasons"`
}

// Assessor scores shell commands and filesystem paths. The zero value is
// ready to use.
type Assessor struct{}

// NewAssessor creates a risk assessor.
func NewAssessor() *Assessor {
	return &Assessor{}
}

var (
	reRmCommand     = regexp.MustCompile(`(?:^|[;&|]\s*|\bsudo\s+)rm\s+((?:-\S+\s+)*)(\S+(?:\s+\S+)*?)(?:\s*(?:[;&|]|$))`)
	reDiskFormat    = regexp.MustCompile(`\bmkfs(\.\w+)?\b|\bdd\b[^|;]*\bof=/dev/|\bfdisk\b|\bparted\b.*\brm\b`)
	reShutdown      = regexp.MustCompile(`\b(shutdown|reboot|poweroff|halt)\b|\binit\s+0\b`)
	reSystemFile    = regexp.MustCompile(`/etc/(passwd|shadow|sudoers)\b`)
	reSystemMutator = regexp.MustCompile(`>|>>|\b(tee|chattr|chmod|chown|usermod|visudo)\b|\bsed\s+-i\b|\b(vi|vim|nano|emacs)\b|\becho\b`)
	rePipeToShell   = regexp.MustCompile(`\b(curl|wget|fetch)\b[^|;]*\|\s*(sudo\s+)?((ba|z|da|k)?sh|python3?|perl|node)\b`)

	reSudoRm       = regexp.MustCompile(`\bsudo\s+rm\b`)
	reForcePush    = regexp.MustCompile(`\bgit\s+push\b[^;|&]*(\s--force\b|\s-f\b)`)
	rePublish      = regexp.MustCompile(`\b(npm|yarn|pnpm)\s+publish\b|\bcargo\s+publish\b|\btwine\s+upload\b|\bgem\s+push\b`)
	reForceRemoveC = regexp.MustCompile(`\bdocker\s+(container\s+)?rm\s+[^;|&]*-f\b|\bdocker\s+(container\s+)?rm\s+-f\b`)
	reHardReset    = regexp.MustCompile(`\bgit\s+reset\s+[^;|&]*--hard\b`)
	reWorldWrite   = regexp.MustCompile(`\bchmod\s+(-R\s+)?(777|a\+w|o\+w)\b`)

	reInstall   = regexp.MustCompile(`\b(npm|pnpm)\s+(install|i|ci)\b|\byarn\s+(add|install)\b|\bpip3?\s+install\b|\bgo\s+(get|install)\b|\b(apt|apt-get|yum|dnf|apk|brew)\s+(install|add)\b|\bcargo\s+(add|install)\b`)
	rePlainPush = regexp.MustCompile(`\bgit\s+push\b`)
	reContainer = regexp.MustCompile(`\bdocker\s+(run|start)\b|\bdocker\s+compose\s+up\b|\bdocker-compose\s+up\b|\bpodman\s+(run|start)\b`)
	reRemoteSh  = regexp.MustCompile(`\bssh\b|\btelnet\b`)
	reFileSync  = regexp.MustCompile(`\brsync\b|\bscp\b|\bsftp\b`)

	reBareSudo     = regexp.MustCompile(`^\s*sudo\s*$`)
	rePathMutation = regexp.MustCompile(`\bPATH=|\bexport\s+PATH\b`)
	reBase64Decode = regexp.MustCompile(`\bbase64\s+(-d|--decode)\b`)
	reEval         = regexp.MustCompile(`\beval\b`)
)

// rootPaths are top-level directories whose recursive deletion is critical.
var rootPaths = map[string]struct{}{
	"/": {}, "/bin": {}, "/boot": {}, "/dev": {}, "/etc": {}, "/home": {},
	"/lib": {}, "/lib64": {}, "/opt": {}, "/proc": {}, "/root": {},
	"/sbin": {}, "/srv": {}, "/sys": {}, "/usr": {}, "/var": {},
}

// tempExempt paths are writable scratch locations excluded from the critical
// and high deletion tiers.
func isTempExempt(target string) bool {
	clean := path.Clean(target)
	return clean == "/tmp" || clean == "/var/tmp" ||
		strings.HasPrefix(clean, "/tmp/") || strings.HasPrefix(clean, "/var/tmp/")
}

func isRootPath(target string) bool {
	clean := path.Clean(target)
	if isTempExempt(clean) {
		return false
	}
	_, ok := rootPaths[clean]
	return ok
}

// Assess scores a shell command. The tier boundaries (critical >= 80,
// high >= 60, medium >= 30) and category membership are stable; heuristics
// add incremental score on top of the tier checks.
func (a *Assessor) Assess(command string) RiskAssessment {
	command = strings.TrimSpace(command)
	assessment := RiskAssessment{}

	add := func(score int, reason string) {
		assessment.Score += score
		assessment.Reasons = append(assessment.Reasons, reason)
	}

	// Destructive deletion family: the most severe match wins.
	if force, targets := parseForceDelete(command); force {
		switch {
		case anyTarget(targets, isRootPath):
			add(90, "recursive deletion of a root filesystem path")
		case reSudoRm.MatchString(command):
			add(70, "elevated-privilege file deletion")
		case allTargets(targets, isTempExempt):
			add(30, "recursive deletion limited to temp paths")
		default:
			add(65, "recursive force delete")
		}
	} else if reSudoRm.MatchString(command) {
		add(70, "elevated-privilege file deletion")
	}

	if reDiskFormat.MatchString(command) {
		add(90, "disk format or raw disk write")
	}
	if reShutdown.MatchString(command) {
		add(85, "system shutdown or reboot")
	}
	if reSystemFile.MatchString(command) && reSystemMutator.MatchString(command) {
		add(85, "modification of critical system files")
	}
	if rePipeToShell.MatchString(command) {
		add(85, "remote script piped directly into an interpreter")
	}

	// Version control and publishing family.
	if reForcePush.MatchString(command) {
		add(65, "force-push rewrites remote git history")
	} else if rePlainPush.MatchString(command) {
		add(35, "pushes commits to a remote")
	}
	if rePublish.MatchString(command) {
		add(60, "publishes a package to a registry")
	}
	if reHardReset.MatchString(command) {
		add(60, "hard git reset discards local changes")
	}

	// Container family.
	if reForceRemoveC.MatchString(command) {
		add(60, "force-removes a container")
	} else if reContainer.MatchString(command) {
		add(40, "starts a container")
	}

	if reWorldWrite.MatchString(command) {
		add(60, "grants world-writable permissions")
	}
	if reInstall.MatchString(command) {
		add(40, "installs dependencies")
	}
	if reRemoteSh.MatchString(command) {
		add(40, "opens a remote shell session")
	}
	if reFileSync.MatchString(command) {
		add(35, "synchronizes files with a remote host")
	}

	// Independent heuristics.
	if len(command) > 200 {
		add(10, "unusually long command")
	}
	if strings.Count(command, "&&") >= 3 {
		add(10, "many chained sub-commands")
	}
	if strings.Contains(command, ">") {
		add(5, "redirects output to a file")
	}
	if reBareSudo.MatchString(command) {
		add(10, "bare sudo with no target command")
	}
	if rePathMutation.MatchString(command) {
		add(10, "mutates PATH")
	}
	if reBase64Decode.MatchString(command) {
		add(15, "decodes base64 content")
	}
	if reEval.MatchString(command) {
		add(15, "uses eval")
	}

	assessment.Level = levelForScore(assessment.Score)
	return assessment
}

// AssessPath scores a filesystem write target.
func (a *Assessor) AssessPath(target string) RiskAssessment {
	assessment := RiskAssessment{}
	clean := path.Clean(strings.TrimSpace(target))

	switch {
	case reSystemFile.MatchString(clean):
		assessment.Score = 85
		assessment.Reasons = append(assessment.Reasons, "writes a critical system file")
	case strings.HasPrefix(clean, "/etc/") || strings.HasPrefix(clean, "/usr/") ||
		strings.HasPrefix(clean, "/bin/") || strings.HasPrefix(clean, "/sbin/") ||
		strings.HasPrefix(clean, "/boot/") || strings.HasPrefix(clean, "/lib/"):
		assessment.Score = 65
		assessment.Reasons = append(assessment.Reasons, "writes under a system directory")
	case strings.Contains(clean, "/.ssh/") || strings.HasSuffix(clean, "/.ssh"):
		assessment.Score = 60
		assessment.Reasons = append(assessment.Reasons, "writes SSH configuration or keys")
	default:
		assessment.Score = 5
	}

	assessment.Level = levelForScore(assessment.Score)
	return assessment
}

// IsAllowed evaluates a command against a caller-supplied allow list.
func (a *Assessor) IsAllowed(command string, allowList []string) bool {
	return matchList(command, allowList)
}

// IsBlocked evaluates a command against a caller-supplied deny list.
func (a *Assessor) IsBlocked(command string, denyList []string) bool {
	return matchList(command, denyList)
}

// matchList treats each entry as a regular expression when it compiles and as
// a literal prefix/substring match otherwise. A malformed entry never aborts
// the check.
func matchList(command string, entries []string) bool {
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if re, err := regexp.Compile(entry); err == nil {
			if re.MatchString(command) {
				return true
			}
			continue
		}
		if strings.HasPrefix(command, entry) || strings.Contains(command, entry) {
			return true
		}
	}
	return false
}

func levelForScore(score int) RiskLevel {
	switch {
	case score >= scoreCritical:
		return RiskCritical
	case score >= scoreHigh:
		return RiskHigh
	case score >= scoreMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// parseForceDelete reports whether command contains an rm invocation with
// both recursive and force flags, returning the delete targets.
func parseForceDelete(command string) (bool, []string) {
	matches := reRmCommand.FindAllStringSubmatch(command, -1)
	for _, m := range matches {
		flags := m[1]
		if !(strings.Contains(flags, "r") || strings.Contains(flags, "R")) || !strings.Contains(flags, "f") {
			continue
		}
		targets := strings.Fields(m[2])
		return true, targets
	}
	return false, nil
}

func anyTarget(targets []string, pred func(string) bool) bool {
	for _, t := range targets {
		if pred(t) {
			return true
		}
	}
	return false
}

func allTargets(targets []string, pred func(string) bool) bool {
	if len(targets) == 0 {
		return false
	}
	for _, t := range targets {
		if !pred(t) {
			return false
		}
	}
	return true
}

// ParseLevel converts a configuration string into a RiskLevel.
func ParseLevel(value string) (RiskLevel, error) {
	level := RiskLevel(strings.ToLower(strings.TrimSpace(value)))
	if !level.Valid() {
		return "", fmt.Errorf("unknown risk level %q", value)
	}
	return level, nil
}
