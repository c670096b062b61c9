package rules

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/idna"
)

// maxDomainLength is the total-length bound for an inserted domain.
const maxDomainLength = 255

// ErrInvalidDomain is wrapped with a reason and returned for any rule
// that fails validation. The caller logs and drops the insertion; the
// engine keeps running.
var ErrInvalidDomain = errors.New("rules: invalid domain")

// validateDomain trims one trailing '.', IDNA-normalizes each label to
// ASCII (so internationalized domains validate the same way their ASCII
// form would), and checks every label invariant. It returns the
// normalized, left-to-right labels on success.
func validateDomain(domain string) ([]string, error) {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
	if domain == "" || len(domain) > maxDomainLength {
		return nil, errors.Wrapf(ErrInvalidDomain, "length of %q", domain)
	}

	labels := strings.Split(domain, ".")
	if len(labels) == 0 {
		return nil, errors.Wrapf(ErrInvalidDomain, "%q has no labels", domain)
	}

	normalized := make([]string, len(labels))
	for i, raw := range labels {
		label, err := idna.ToASCII(raw)
		if err != nil {
			// not representable as IDNA; fall back to the raw label so
			// plain-ASCII rules aren't rejected by an overzealous
			// normalizer.
			label = raw
		}
		if err := validateLabel(label); err != nil {
			return nil, errors.Wrapf(err, "label %q in %q", raw, domain)
		}
		normalized[i] = label
	}

	tld := normalized[len(normalized)-1]
	if len(tld) < 2 || !isAllAlpha(tld) {
		return nil, errors.Wrapf(ErrInvalidDomain, "tld %q must be alphabetic and len>=2", tld)
	}

	return normalized, nil
}

func validateLabel(label string) error {
	if len(label) == 0 || len(label) > 63 {
		return errors.Wrapf(ErrInvalidDomain, "label length %d", len(label))
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return errors.Wrap(ErrInvalidDomain, "label may not start or end with '-'")
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		default:
			return errors.Wrapf(ErrInvalidDomain, "disallowed character %q", c)
		}
	}
	return nil
}

func isAllAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return false
		}
	}
	return true
}
