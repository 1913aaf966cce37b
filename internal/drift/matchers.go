package drift

import (
	"bytes"
	"strings"
)

// KeywordMatcher builds a case-insensitive matcher that fires when any
// of the keywords occurs in the content.
func KeywordMatcher(name string, keywords ...string) Matcher {
	lowered := make([][]byte, len(keywords))
	for i, kw := range keywords {
		lowered[i] = []byte(strings.ToLower(kw))
	}
	return Matcher{
		Name: name,
		Match: func(content []byte) bool {
			haystack := bytes.ToLower(content)
			for _, kw := range lowered {
				if bytes.Contains(haystack, kw) {
					return true
				}
			}
			return false
		},
	}
}

// DefaultMatchers is the stock gating vocabulary, in evaluation order.
//
// The vocabulary is intentionally wide. A hit on a harmless path costs a
// WARNING the operator dismisses; a silent upstream gating change costs
// a fork whose overrides no longer apply.
func DefaultMatchers() []Matcher {
	return []Matcher{
		KeywordMatcher("premium-flag",
			"premium_user",
			"is_premium",
			"premium_request",
			"check_premium",
		),
		KeywordMatcher("license-object",
			"license_check",
			"licenseerror",
			"license_key",
			"license_str",
			"licensed_to",
			"verify_license",
		),
		KeywordMatcher("enterprise-gate",
			"enterprise_features",
			"enterprise_only",
			"commercial_license",
			"requires_enterprise",
		),
		KeywordMatcher("feature-toggle",
			"feature_flag",
			"feature_gate",
			"entitlement",
			"supported_features",
			"premium_features",
		),
		KeywordMatcher("trial-paywall",
			"trial_expired",
			"paywall",
			"upgrade_required",
			"free_tier_limit",
		),
	}
}
