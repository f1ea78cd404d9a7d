// Package fourbyte looks up human-readable function names for 4-byte call
// selectors against a public signature registry.
package fourbyte

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrUnknownSelector means the registry has no entry for the selector.
var ErrUnknownSelector = errors.New("fourbyte: unknown selector")

type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

type signatureResponse struct {
	Count   int `json:"count"`
	Results []struct {
		TextSignature string `json:"text_signature"`
	} `json:"results"`
}

// FunctionName resolves a selector fingerprint (8 hex chars, no 0x) to its
// canonical "name(type1,type2)" signature. The oldest registered signature
// wins, matching registry convention for collision handling.
func (c *Client) FunctionName(ctx context.Context, selector string) (string, error) {
	query := url.Values{}
	query.Set("hex_signature", "0x"+strings.TrimPrefix(selector, "0x"))
	query.Set("ordering", "created_at")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/signatures/?"+query.Encode(), nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to build registry request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "registry lookup failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("registry lookup failed: status %d", resp.StatusCode)
	}

	var body signatureResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, "failed to decode registry response")
	}
	if body.Count == 0 || len(body.Results) == 0 {
		return "", ErrUnknownSelector
	}
	return body.Results[0].TextSignature, nil
}
