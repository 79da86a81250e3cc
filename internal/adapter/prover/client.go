package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrGenerationFailed is returned when the proving service answered but did not
// produce a proof.
var ErrGenerationFailed = errors.New("proof generation failed")

const (
	// ModeExecute runs the program without proving; the result is simulated.
	ModeExecute = "execute"
	ModeProve   = "prove"
)

type GenerateRequest struct {
	Wallet          string `json:"wallet"`
	Mode            string `json:"mode"`
	FeaturedTradeID *int64 `json:"featuredTradeId,omitempty"`
}

// Proof is a generated proof with its decoded public values.
type Proof struct {
	Mode         string
	Proof        []byte
	PublicValues []byte
	VKeyHash     string
	// TxHash is set when the proving service already submitted on-chain.
	TxHash string
	// Decoded holds the metrics read from PublicValues; nil when the service
	// returned no public values.
	Decoded  *PublicValues
	Reported Metrics
	Featured Featured
}

// Simulated reports whether the proof carries no verifiable bytes.
func (p *Proof) Simulated() bool {
	return p.Mode == ModeExecute || len(p.Proof) == 0
}

// Metrics prefers the values decoded from the proven bytes over the ones the
// service reported alongside them.
func (p *Proof) Metrics() Metrics {
	if p.Decoded != nil {
		return p.Decoded.Metrics
	}
	return p.Reported
}

type generateResponse struct {
	Success      bool     `json:"success"`
	Mode         string   `json:"mode"`
	Metrics      Metrics  `json:"metrics"`
	Featured     Featured `json:"featured"`
	Proof        *string  `json:"proof"`
	PublicValues *string  `json:"public_values"`
	VKeyHash     *string  `json:"vkey_hash"`
	TxHash       *string  `json:"tx_hash"`
	Error        *string  `json:"error"`
}

type Client struct {
	apiKey  string
	baseURL string
	mode    string
	client  *http.Client
}

func NewClient(baseURL, apiKey, mode string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if mode == "" {
		mode = ModeExecute
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		mode:    mode,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) SetBaseURL(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

// Generate asks the proving service for a proof of a wallet's trading record.
// An empty Mode uses the client's configured mode.
func (c *Client) Generate(ctx context.Context, r GenerateRequest) (*Proof, error) {
	if r.Mode == "" {
		r.Mode = c.mode
	}
	body, _ := json.Marshal(r)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read prover response: %w", err)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("prover api error: %d %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return nil, fmt.Errorf("decode prover response: %w", err)
	}
	if !out.Success || resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if out.Error != nil && *out.Error != "" {
			msg = *out.Error
		}
		return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, msg)
	}

	p := &Proof{Mode: out.Mode, Reported: out.Metrics, Featured: out.Featured}
	if p.Mode == "" {
		p.Mode = r.Mode
	}
	if out.VKeyHash != nil {
		p.VKeyHash = *out.VKeyHash
	}
	if out.TxHash != nil {
		p.TxHash = *out.TxHash
	}
	if out.Proof != nil && *out.Proof != "" {
		if p.Proof, err = decodeHex(*out.Proof); err != nil {
			return nil, fmt.Errorf("decode proof hex: %w", err)
		}
	}
	if out.PublicValues != nil && *out.PublicValues != "" {
		pv, raw, err := DecodePublicValuesHex(*out.PublicValues)
		if err != nil {
			return nil, err
		}
		p.PublicValues = raw
		p.Decoded = &pv
		p.Featured = pv.Featured
	}
	return p, nil
}
