package failure

import (
	"fmt"
	"strings"
)

type Action string

const (
	ActionDone  Action = "DONE"
	ActionRetry Action = "RETRY"
	ActionSkip  Action = "SKIP"
	ActionFail  Action = "FAIL"
)

// Decision is the classifier's verdict for one execution attempt of a job.
type Decision struct {
	Action   Action
	Reason   string
	Category Category
	// Partial is set on DONE when some deployments failed.
	Partial bool
}

// Attempt is the result of placing the trade for one deployment.
type Attempt struct {
	DeploymentID string
	Message      string
	Category     Category
}

// TradeOutcome is everything the trade executor reported for one job.
type TradeOutcome struct {
	// TransportErr is set when no structured result was obtained at all.
	TransportErr     error
	PositionsCreated int
	Failures         []Attempt
}

// ClassifyTrade applies the trade-signal rule set to an outcome.
func ClassifyTrade(o TradeOutcome) Decision {
	if o.TransportErr != nil {
		return Decision{Action: ActionRetry, Category: CategoryNetwork, Reason: o.TransportErr.Error()}
	}

	if o.PositionsCreated > 0 {
		return Decision{Action: ActionDone, Partial: len(o.Failures) > 0}
	}

	if len(o.Failures) == 0 {
		return Decision{Action: ActionRetry, Category: CategoryUnknown, Reason: "no positions created and no errors reported"}
	}

	var worst *Attempt
	for i := range o.Failures {
		a := &o.Failures[i]
		if !a.Category.Permanent() {
			return Decision{Action: ActionRetry, Category: a.Category, Reason: attemptText(*a)}
		}
		if worst == nil || a.Category.rule().specificity > worst.Category.rule().specificity {
			worst = a
		}
	}

	return Decision{Action: ActionSkip, Category: worst.Category, Reason: attemptText(*worst)}
}

// ClassifyNoVenue is the verdict when routing found no venue for the token.
func ClassifyNoVenue(routingReason string) Decision {
	return Decision{
		Action:   ActionSkip,
		Category: CategoryMarketUnavailable,
		Reason:   fmt.Sprintf("%s: %s", CategoryMarketUnavailable, routingReason),
	}
}

// ClassifyProof maps a proof generation or submission error to a verdict.
// Proof jobs are never retried automatically.
func ClassifyProof(err error) Decision {
	if err == nil {
		return Decision{Action: ActionDone}
	}
	return Decision{Action: ActionFail, Category: CategoryUnknown, Reason: err.Error()}
}

func attemptText(a Attempt) string {
	msg := strings.TrimSpace(a.Message)
	if msg == "" {
		return a.Category.String()
	}
	return a.Category.String() + ": " + msg
}
