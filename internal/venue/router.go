// Package venue picks the execution venue for a trade signal and records every
// routing decision in an append-only log.
package venue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Multi is the requested venue for agents that route across several venues.
const Multi = "MULTI"

// Market is the registry entry for a token on one venue.
type Market struct {
	Venue   string
	Token   string
	Name    string
	Active  bool
	MinSize float64
}

// MarketRegistry answers whether a venue lists a token. found is false when the
// venue has no market for the token at all.
type MarketRegistry interface {
	Lookup(ctx context.Context, venue, token string) (m Market, found bool, err error)
}

// DecisionLog persists routing decisions. Implementations only append.
type DecisionLog interface {
	Append(ctx context.Context, d Decision) error
}

type Request struct {
	SignalID  string
	Token     string
	Requested string
	// Policy is the agent's ordered venue list, used when Requested is Multi.
	Policy []string
	// Size is the intended order size; zero skips the minimum-size check.
	Size float64
}

type Rejection string

const (
	RejectNotListed  Rejection = "not listed"
	RejectInactive   Rejection = "inactive"
	RejectBelowMin   Rejection = "below minimum size"
	RejectLookupFail Rejection = "lookup failed"
)

type Check struct {
	Venue     string    `json:"venue"`
	Available bool      `json:"available"`
	Market    string    `json:"market,omitempty"`
	Rejection Rejection `json:"rejection,omitempty"`
}

type Decision struct {
	ID         string
	SignalID   string
	Token      string
	Candidates []string
	// Selected is empty when no candidate was acceptable.
	Selected string
	Checked  []Check
	Reason   string
	Elapsed  time.Duration
}

func (d Decision) HasVenue() bool {
	return d.Selected != ""
}

type Router struct {
	registry MarketRegistry
	log      DecisionLog
	defaults []string
	now      func() time.Time
}

// NewRouter builds a router. defaults is the priority order used for Multi
// requests whose agent has no venue policy.
func NewRouter(registry MarketRegistry, log DecisionLog, defaults []string) *Router {
	return &Router{
		registry: registry,
		log:      log,
		defaults: normalizeList(defaults),
		now:      time.Now,
	}
}

// Candidates returns the ordered venue list to try for req.
func (r *Router) Candidates(req Request) []string {
	requested := strings.ToUpper(strings.TrimSpace(req.Requested))
	if requested != "" && requested != Multi {
		return []string{requested}
	}
	if policy := normalizeList(req.Policy); len(policy) > 0 {
		return policy
	}
	return append([]string(nil), r.defaults...)
}

// Select walks the candidates in priority order and picks the first venue that
// lists the token as active with a sufficient minimum size. The decision is
// appended to the log whether or not a venue was found. A registry error stops
// routing and is returned after the partial decision has been logged.
func (r *Router) Select(ctx context.Context, req Request) (Decision, error) {
	start := r.now()
	token := strings.ToUpper(strings.TrimSpace(req.Token))

	d := Decision{
		SignalID:   req.SignalID,
		Token:      token,
		Candidates: r.Candidates(req),
	}

	var lookupErr error
	for _, v := range d.Candidates {
		m, found, err := r.registry.Lookup(ctx, v, token)
		if err != nil {
			lookupErr = fmt.Errorf("lookup %s/%s: %w", v, token, err)
			d.Checked = append(d.Checked, Check{Venue: v, Rejection: RejectLookupFail})
			break
		}

		c := evaluate(v, m, found, req.Size)
		d.Checked = append(d.Checked, c)
		if c.Available {
			d.Selected = v
			break
		}
	}

	d.Reason = reason(d, lookupErr)
	d.Elapsed = r.now().Sub(start)

	if err := r.log.Append(ctx, d); err != nil {
		slog.WarnContext(ctx, "failed to record routing decision", "signal_id", req.SignalID, "error", err)
	}

	if lookupErr != nil {
		return d, lookupErr
	}
	return d, nil
}

func evaluate(v string, m Market, found bool, size float64) Check {
	c := Check{Venue: v, Market: m.Name}
	switch {
	case !found:
		c.Rejection = RejectNotListed
	case !m.Active:
		c.Rejection = RejectInactive
	case size > 0 && m.MinSize > 0 && size < m.MinSize:
		c.Rejection = RejectBelowMin
	default:
		c.Available = true
	}
	return c
}

// reason depends only on the checks, so identical inputs produce identical text.
func reason(d Decision, lookupErr error) string {
	var rejected []string
	for _, c := range d.Checked {
		if !c.Available {
			rejected = append(rejected, fmt.Sprintf("%s: %s", c.Venue, c.Rejection))
		}
	}

	switch {
	case lookupErr != nil:
		return fmt.Sprintf("routing aborted: %v", lookupErr)
	case len(d.Candidates) == 0:
		return "no candidate venues configured"
	case d.Selected != "" && len(rejected) == 0:
		return fmt.Sprintf("%s selected as first available venue for %s", d.Selected, d.Token)
	case d.Selected != "":
		return fmt.Sprintf("%s selected for %s after rejecting %s", d.Selected, d.Token, strings.Join(rejected, "; "))
	default:
		return fmt.Sprintf("no venue available for %s (%s)", d.Token, strings.Join(rejected, "; "))
	}
}

func normalizeList(venues []string) []string {
	seen := make(map[string]bool, len(venues))
	out := make([]string, 0, len(venues))
	for _, v := range venues {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v == "" || v == Multi || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
