package redact

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// Allowlist carries patterns and literals excluded from detection.
// False positives are common in review diffs (test fixtures, example
// keys in docs), so operators can opt specific shapes out.
type Allowlist struct {
	Regexes   []string
	StopWords []string
}

// loadAllowlist reads the TOML allowlist file at path. A missing file
// is an error here: the path came from explicit configuration and a
// typo should not silently disable the allowlist.
func loadAllowlist(path string) (*Allowlist, error) {
	var doc struct {
		Allowlist struct {
			Regexes   []string
			Stopwords []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("redact: allowlist %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("redact: %w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("redact: %w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Regexes:   doc.Allowlist.Regexes,
		StopWords: doc.Allowlist.Stopwords,
	}, nil
}
