// Package ipaddr holds the address predicates used when accepting an
// external address: a loose dotted-quad shape check, glob blacklists and the
// strict extraction pattern used on untrusted response bodies.
package ipaddr

import (
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// DefaultBlacklist excludes the common private ranges
const DefaultBlacklist = "192.168.*.*,10.*.*.*"

var (
	// shapePattern only checks digit counts, "999.1.1.1" passes
	shapePattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

	// octet is limited to 0-255
	octet = `(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)`

	extractPattern = regexp.MustCompile(octet + `\.` + octet + `\.` + octet + `\.` + octet)
)

// IsAddress reports whether s has the x.x.x.x shape
func IsAddress(s string) bool {
	return shapePattern.MatchString(s)
}

// ExtractIPv4 returns the first 0-255 dotted quad found in text
func ExtractIPv4(text string) (string, bool) {
	m := extractPattern.FindString(text)
	if m == "" {
		return "", false
	}
	return m, true
}

// Blacklist is an ordered set of shell-glob patterns
type Blacklist []string

// ParseBlacklist splits a comma separated field into patterns.
// Blank items are dropped.
func ParseBlacklist(field string) Blacklist {
	var bl Blacklist
	for _, p := range strings.Split(field, ",") {
		if p = strings.TrimSpace(p); p != "" {
			bl = append(bl, p)
		}
	}
	return bl
}

// Match returns the first pattern matching ip
func (bl Blacklist) Match(ip string) (string, bool) {
	for _, pattern := range bl {
		// IPv4 text never contains a separator, so path globbing behaves like fnmatch here
		if matched, err := path.Match(pattern, ip); err == nil && matched {
			return pattern, true
		}
	}
	return "", false
}

// String returns the comma separated form
func (bl Blacklist) String() string {
	return strings.Join(bl, ",")
}

// Validate returns the first malformed pattern, if any
func (bl Blacklist) Validate() error {
	for _, pattern := range bl {
		if _, err := path.Match(pattern, ""); err != nil {
			return &PatternError{Pattern: pattern, Err: err}
		}
	}
	return nil
}

// PatternError reports a malformed blacklist pattern
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "invalid blacklist pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// IsBlacklisted reports whether ip matches any pattern in bl and logs the
// matching pattern.
func IsBlacklisted(ip string, bl Blacklist, logger *zap.Logger) bool {
	pattern, ok := bl.Match(ip)
	if !ok {
		return false
	}
	if logger != nil {
		logger.Warn("Address rejected by blacklist",
			zap.String("ip", ip),
			zap.String("pattern", pattern))
	}
	return true
}
