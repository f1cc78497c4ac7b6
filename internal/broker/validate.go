package broker

import (
	"fmt"
	"regexp"
	"strings"
)

// ReservedSlug is the one slug literal that can never be bound (spec §3).
const ReservedSlug = "status"

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateSlug checks the syntax rule from spec §4.6: character class,
// length 1..50. It does not check the reserved-slug rule; callers apply
// that separately since the two rejections carry different log tags in
// some call sites (HTTP admission vs. control-channel registration).
func ValidateSlug(slug string) error {
	if len(slug) < 1 || len(slug) > 50 {
		return fmt.Errorf("slug length must be between 1 and 50, got %d", len(slug))
	}
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("slug %q contains characters outside [A-Za-z0-9_-]", slug)
	}
	return nil
}

// injectionPatterns are the case-insensitive needles from spec §4.6.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`(?i)eval\s*\(`),
	regexp.MustCompile(`(?i)expression\s*\(`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)data:text/html`),
}

// containsInjection reports whether s matches any of the injection
// patterns in spec §4.6.
func containsInjection(s string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// hopByHopHeaders is the exact drop set from spec §4.6, case-insensitive.
var hopByHopHeaders = map[string]struct{}{
	"host":                {},
	"content-length":      {},
	"transfer-encoding":   {},
	"connection":          {},
	"upgrade":             {},
	"proxy-connection":    {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
}

// SanitiseHeaders drops hop-by-hop/framing headers and any header whose
// value fails the injection-pattern test, preserving original case and
// order is not significant (the result is a map). Idempotent: applying it
// to its own output reproduces the same map (spec §8).
func SanitiseHeaders(headers map[string][]string) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if _, drop := hopByHopHeaders[strings.ToLower(name)]; drop {
			continue
		}
		value := strings.Join(values, ", ")
		if containsInjection(value) {
			continue
		}
		out[name] = value
	}
	return out
}

// ValidateTargetString rejects method/request-target strings that match an
// injection pattern (spec §4.6).
func ValidateTargetString(s string) error {
	if containsInjection(s) {
		return fmt.Errorf("value rejected: matches a disallowed pattern")
	}
	return nil
}
