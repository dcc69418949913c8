// Package hasher normalizes document text and derives content fingerprints.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"

	"CorpusCurator/internal/domain"
)

// volatileLines match metadata lines that change between fetches of the
// same document. They are tested against each trimmed line.
var volatileLines = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(last\s+updated|updated(\s+on)?|last\s+modified)\s*:`),
	regexp.MustCompile(`(?i)^published(\s+on)?\s*:`),
	regexp.MustCompile(`(?i)^doi\s*:`),
	regexp.MustCompile(`(?i)^arxiv\s*:`),
	regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([ T]\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?)?$`),
}

// Normalize removes volatile metadata lines, collapses whitespace runs to a
// single space and trims the result. It rejects invalid UTF-8.
func Normalize(text string) (string, error) {
	if err := validate(text); err != nil {
		return "", err
	}

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isVolatile(trimmed) {
			continue
		}
		kept = append(kept, trimmed)
	}

	return strings.Join(strings.Fields(strings.Join(kept, " ")), " "), nil
}

// Fingerprint returns the lowercase hex SHA-256 of the normalized text.
func Fingerprint(text string) (string, error) {
	normalized, err := Normalize(text)
	if err != nil {
		return "", err
	}
	return FingerprintNormalized(normalized), nil
}

// FingerprintNormalized hashes text that has already been normalized.
func FingerprintNormalized(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Prefix returns at most n runes of s.
func Prefix(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func isVolatile(line string) bool {
	for _, expr := range volatileLines {
		if expr.MatchString(line) {
			return true
		}
	}
	return false
}

func validate(text string) error {
	if utf8.ValidString(text) {
		return nil
	}
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size <= 1 {
			return &domain.EncodingError{Offset: i}
		}
		i += size
	}
	return &domain.EncodingError{Offset: len(text)}
}
