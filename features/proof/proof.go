package proof

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"maxxit/apps/worker/internal/jobqueue"
)

// Request asks for a zero-knowledge proof of a trader's record.
type Request struct {
	ID              string     `json:"id"`
	SubjectWallet   string     `json:"subject_wallet"`
	Mode            string     `json:"mode"`
	FeaturedTradeID *int64     `json:"featured_trade_id,omitempty"`
	Status          string     `json:"status"`
	Attempts        int        `json:"attempts"`
	FailReason      string     `json:"fail_reason,omitempty"`
	RequeuedFrom    string     `json:"requeued_from,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// Kind is the proof_requests job table. Every idle request is claimable.
var Kind = jobqueue.Kind{
	Name:  "proof_request",
	Table: "proof_requests",
}

var ErrInvalidWallet = errors.New("invalid wallet address")

var walletPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// WalletResolver turns a request's subject into the wallet address the proof
// is generated for.
type WalletResolver interface {
	Resolve(ctx context.Context, req *Request) (string, error)
}

// AddressResolver accepts subjects that already are EVM addresses and
// normalizes them to lower case.
type AddressResolver struct{}

func (AddressResolver) Resolve(_ context.Context, req *Request) (string, error) {
	w := strings.TrimSpace(req.SubjectWallet)
	if !walletPattern.MatchString(w) {
		return "", fmt.Errorf("%w: %q", ErrInvalidWallet, req.SubjectWallet)
	}
	return strings.ToLower(w), nil
}
