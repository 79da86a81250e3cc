package registry

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client submits verified proofs to the on-chain registry through its relayer.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *Client) SetBaseURL(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

// Submit records the proof on-chain and returns the transaction hash.
func (c *Client) Submit(ctx context.Context, publicValues, proof []byte) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"publicValues": "0x" + hex.EncodeToString(publicValues),
		"proof":        "0x" + hex.EncodeToString(proof),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("registry api error: %d %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result struct {
		TxHash string `json:"txHash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.TxHash == "" {
		return "", fmt.Errorf("registry returned no transaction hash")
	}
	return result.TxHash, nil
}
