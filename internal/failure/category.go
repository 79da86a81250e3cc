// Package failure decides what happens to a job after an execution attempt:
// retried on the next cycle, skipped permanently, or failed for an operator.
package failure

import "strings"

// Category is the normalized cause of a single failed attempt.
type Category string

const (
	CategoryInsufficientBalance Category = "insufficient_balance"
	CategoryBelowMinSize        Category = "below_min_size"
	CategoryMarketUnavailable   Category = "market_unavailable"
	CategoryNetwork             Category = "network"
	CategoryRateLimited         Category = "rate_limited"
	CategoryVenueUnavailable    Category = "venue_unavailable"
	CategoryUnknown             Category = "unknown"
)

type rule struct {
	permanent bool
	// specificity orders permanent categories when picking the skip reason.
	specificity int
	text        string
}

// rules is the complete category table. Every Category maps to exactly one
// entry, so classification is total and permanent/transient are disjoint.
var rules = map[Category]rule{
	CategoryMarketUnavailable:   {permanent: true, specificity: 3, text: "market not available on venue"},
	CategoryBelowMinSize:        {permanent: true, specificity: 2, text: "below venue minimum order size"},
	CategoryInsufficientBalance: {permanent: true, specificity: 1, text: "insufficient balance"},
	CategoryNetwork:             {text: "network error"},
	CategoryRateLimited:         {text: "rate limited"},
	CategoryVenueUnavailable:    {text: "venue temporarily unavailable"},
	CategoryUnknown:             {text: "unrecognized error"},
}

func (c Category) rule() rule {
	if r, ok := rules[c]; ok {
		return r
	}
	return rules[CategoryUnknown]
}

// Permanent reports whether retrying an attempt that failed with c can never
// succeed without outside action.
func (c Category) Permanent() bool {
	return c.rule().permanent
}

func (c Category) String() string {
	return c.rule().text
}

// Message patterns checked in order; the first table with a hit wins. Keyword
// lists follow the venue services' own error texts.
var patterns = []struct {
	category Category
	keywords []string
}{
	{CategoryMarketUnavailable, []string{
		"market not available", "is not available on", "not listed", "unsupported market",
		"market not found", "token not supported", "no market for", "pair index not found",
	}},
	{CategoryBelowMinSize, []string{
		"belowminlevpos", "0xeca695e1", "below minimum", "below min", "minimum order",
		"min order size", "order size too small", "position too small",
	}},
	{CategoryInsufficientBalance, []string{
		"insufficient balance", "insufficient funds", "insufficient collateral",
		"insufficient margin", "not enough balance", "exceeds balance",
		"insufficient eth", "insufficient gas", "insufficient_gas",
	}},
	{CategoryRateLimited, []string{
		"rate limit", "too many requests", "429",
	}},
	{CategoryVenueUnavailable, []string{
		"service unavailable", "503", "502", "bad gateway", "maintenance", "oracle",
	}},
	{CategoryNetwork, []string{
		"connection reset", "connection aborted", "connection refused", "reset by peer",
		"errno 104", "timeout", "timed out", "network", "peer", "eof", "connection",
	}},
}

// Normalize maps an attempt's machine reason and free-text message to a
// Category. An explicit reason naming a known category wins; otherwise both
// strings are matched against the keyword tables. Anything unmatched is
// CategoryUnknown.
func Normalize(reason, message string) Category {
	r := strings.ToLower(strings.TrimSpace(reason))
	if _, ok := rules[Category(r)]; ok {
		return Category(r)
	}

	text := r + " " + strings.ToLower(message)
	for _, p := range patterns {
		for _, kw := range p.keywords {
			if strings.Contains(text, kw) {
				return p.category
			}
		}
	}
	return CategoryUnknown
}
