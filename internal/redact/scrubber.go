package redact

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"

	"github.com/fyrsmithlabs/reviewd/internal/config"
	"github.com/fyrsmithlabs/reviewd/internal/review"
)

// Scrubber detects secrets and replaces them with markers of the form
// [REDACTED:rule-id:prefix]. The marker keeps the rule and a short
// prefix so a reviewer can tell which credential leaked without
// seeing its value.
//
// Construction compiles the full Gitleaks ruleset, so build one
// Scrubber and reuse it across runs. Scrub is safe for concurrent use.
type Scrubber struct {
	detector *detect.Detector
	enabled  bool
}

// NewScrubber builds a Scrubber from the default Gitleaks ruleset,
// extended with the allowlist file named in cfg (if any). A disabled
// config yields a pass-through Scrubber.
func NewScrubber(cfg *config.RedactionConfig) (*Scrubber, error) {
	if cfg == nil || !cfg.Enabled {
		return &Scrubber{enabled: false}, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("redact: build detector: %w", err)
	}

	if cfg.AllowlistPath != "" {
		allow, err := loadAllowlist(cfg.AllowlistPath)
		if err != nil {
			return nil, err
		}
		applyAllowlist(&detector.Config, allow)
	}

	return &Scrubber{detector: detector, enabled: true}, nil
}

// Scrub returns content with every detected secret replaced by a
// redaction marker. Clean content is returned unchanged.
func (s *Scrubber) Scrub(content string) string {
	if !s.enabled || content == "" {
		return content
	}

	findings := s.detector.DetectString(content)
	if len(findings) == 0 {
		return content
	}

	// Replace from the end of the content backwards so earlier
	// positions stay valid after each substitution.
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].StartLine != findings[j].StartLine {
			return findings[i].StartLine > findings[j].StartLine
		}
		return findings[i].StartColumn > findings[j].StartColumn
	})

	// DetectString reports zero-based line numbers.
	lines := strings.Split(content, "\n")
	for _, f := range findings {
		if f.StartLine < 0 || f.StartLine >= len(lines) {
			continue
		}
		line := lines[f.StartLine]
		idx := strings.Index(line, f.Secret)
		if idx < 0 {
			continue
		}
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview(f.Secret))
		lines[f.StartLine] = line[:idx] + marker + line[idx+len(f.Secret):]
	}
	return strings.Join(lines, "\n")
}

// ScrubReport redacts every free-text field of a report in place and
// returns it. Structured fields (ids, phases, timestamps) carry no
// diff content and are left alone.
func (s *Scrubber) ScrubReport(report *review.FinalReport) *review.FinalReport {
	if !s.enabled || report == nil {
		return report
	}

	report.Summary = s.Scrub(report.Summary)
	report.StopReason = s.Scrub(report.StopReason)
	for i := range report.Findings {
		report.Findings[i].Title = s.Scrub(report.Findings[i].Title)
		report.Findings[i].Detail = s.Scrub(report.Findings[i].Detail)
		scrubStrings(s, report.Findings[i].Evidence)
	}
	scrubStrings(s, report.Evidence)
	for i := range report.Results {
		report.Results[i].Summary = s.Scrub(report.Results[i].Summary)
		report.Results[i].Error = s.Scrub(report.Results[i].Error)
		scrubStrings(s, report.Results[i].Evidence)
	}
	for i := range report.Todos {
		report.Todos[i].Description = s.Scrub(report.Todos[i].Description)
	}
	return report
}

func scrubStrings(s *Scrubber, values []string) {
	for i := range values {
		values[i] = s.Scrub(values[i])
	}
}

func preview(secret string) string {
	if len(secret) <= 4 {
		return secret
	}
	return secret[:4]
}

func applyAllowlist(cfg *gitleaksconfig.Config, allow *Allowlist) {
	global := &gitleaksconfig.Allowlist{Description: "reviewd allowlist"}
	for _, pattern := range allow.Regexes {
		// Patterns are validated in loadAllowlist.
		re := regexp.MustCompile(pattern)
		global.Regexes = append(global.Regexes, (*gitleaksregexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allow.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}
