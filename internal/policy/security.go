package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// destructivePatterns match shell primitives no stage output has a
// legitimate reason to contain.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*r[a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*r)\s+[/~]`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\s`),
	regexp.MustCompile(`\bdd\s+[^\n]*of=/dev/`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;`),
	regexp.MustCompile(`\bchmod\s+(-R\s+)?777\s+/`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
}

// exfiltrationPatterns match content that uploads local data to an
// attacker-controlled endpoint.
var exfiltrationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(curl|wget)\b[^\n]*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\b(curl|wget)\b[^\n]*(--data|-d\s|--upload-file|-T\s)[^\n]*\$\(`),
	regexp.MustCompile(`\bnc\s+(-\w+\s+)*\d{1,3}(\.\d{1,3}){3}\s+\d+\s*<`),
	regexp.MustCompile(`base64\s[^\n]*\|\s*(curl|wget|nc)\b`),
}

// diffPathPattern pulls target paths out of unified diff headers.
var diffPathPattern = regexp.MustCompile(`(?m)^(?:\+\+\+|---)\s+(?:[ab]/)?(\S+)`)

// injectionPhrases are prompt-injection markers filtered out of issue text
// before any agent sees it.
var injectionPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts?|rules)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|your)\s+(instructions|guidelines|rules)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(in\s+)?(developer|dan|jailbreak)\s*mode`),
	regexp.MustCompile(`(?i)system\s*prompt\s*:`),
	regexp.MustCompile(`(?i)reveal\s+your\s+(system\s+)?(prompt|instructions)`),
}

// Allowlist carries patterns excluded from secret detection, loaded from a
// repo-local TOML file.
type Allowlist struct {
	Paths   []string `toml:"paths"`
	Regexes []string `toml:"regexes"`
}

// LoadAllowlist reads the [allowlist] table from path. A missing file yields
// an empty allowlist; invalid TOML or an invalid regex is an error.
func LoadAllowlist(path string) (*Allowlist, error) {
	var cfg struct {
		Allowlist Allowlist `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("parse allowlist %s: %w", path, err)
	}
	for _, p := range append(append([]string{}, cfg.Allowlist.Paths...), cfg.Allowlist.Regexes...) {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("invalid allowlist pattern %q: %w", p, err)
		}
	}
	return &cfg.Allowlist, nil
}

// Violation describes one security finding in a stage output.
type Violation struct {
	Rule   string
	Detail string
}

func (v Violation) String() string {
	return v.Rule + ": " + v.Detail
}

// Security inspects stage outputs for disallowed operations. Any violation
// forces escalation; retry logic can never override it.
type Security struct {
	detector  *detect.Detector
	allowlist *Allowlist
}

// NewSecurity builds the security policy. allowlist may be nil.
func NewSecurity(allowlist *Allowlist) (*Security, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("build secret detector: %w", err)
	}
	if allowlist != nil {
		applyAllowlist(&detector.Config, allowlist)
	}
	return &Security{detector: detector, allowlist: allowlist}, nil
}

func applyAllowlist(cfg *gitleaksconfig.Config, allowlist *Allowlist) {
	entry := &gitleaksconfig.Allowlist{Description: "patchsmith repo allowlist"}
	for _, p := range allowlist.Paths {
		entry.Paths = append(entry.Paths, (*gitleaksregexp.Regexp)(regexp.MustCompile(p)))
	}
	for _, p := range allowlist.Regexes {
		entry.Regexes = append(entry.Regexes, (*gitleaksregexp.Regexp)(regexp.MustCompile(p)))
	}
	cfg.Allowlists = append(cfg.Allowlists, entry)
}

// Inspect scans a stage output and returns every violation found. The scan
// covers path escapes in diff headers, destructive shell primitives,
// exfiltration-looking content, and embedded credentials.
func (s *Security) Inspect(output string) []Violation {
	var violations []Violation

	for _, m := range diffPathPattern.FindAllStringSubmatch(output, -1) {
		path := m[1]
		if path == "/dev/null" {
			continue
		}
		if escapesRepo(path) {
			violations = append(violations, Violation{
				Rule:   "path_escape",
				Detail: fmt.Sprintf("patch targets %s outside the repository tree", path),
			})
		}
	}

	for _, re := range destructivePatterns {
		if loc := re.FindString(output); loc != "" {
			violations = append(violations, Violation{
				Rule:   "destructive_command",
				Detail: fmt.Sprintf("destructive shell primitive %q", strings.TrimSpace(loc)),
			})
		}
	}

	for _, re := range exfiltrationPatterns {
		if loc := re.FindString(output); loc != "" {
			violations = append(violations, Violation{
				Rule:   "exfiltration",
				Detail: fmt.Sprintf("exfiltration-looking content %q", strings.TrimSpace(loc)),
			})
		}
	}

	for _, f := range s.detector.DetectString(output) {
		violations = append(violations, Violation{
			Rule:   "secret",
			Detail: fmt.Sprintf("embedded credential (%s) at line %d", f.RuleID, f.StartLine),
		})
	}

	return violations
}

// escapesRepo reports whether a diff target path points outside the
// repository's file tree.
func escapesRepo(path string) bool {
	if filepath.IsAbs(path) {
		return true
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	return clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator))
}

// SanitizeIssue filters prompt-injection phrases out of issue text before
// any agent sees it. Matches are replaced with "[filtered]".
func SanitizeIssue(text string) string {
	for _, re := range injectionPhrases {
		text = re.ReplaceAllString(text, "[filtered]")
	}
	return text
}
