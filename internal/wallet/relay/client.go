// Package relay submits meta-transactions to the third-party relay service
// that pays gas on behalf of accounts with no native funds.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

type relayRequest struct {
	MetaSignedTx string `json:"metaSignedTx"`
	Address      string `json:"address"`
	MetaNonce    uint64 `json:"metaNonce"`
}

type relayResponse struct {
	Status string `json:"status"`
	TxHash string `json:"txHash"`
	Error  string `json:"message"`
}

// Relay submits a signed payload (hex, without the 0x prefix) for the given
// meta nonce and returns the resulting transaction hash.
func (c *Client) Relay(ctx context.Context, signedPayload, address string, metaNonce uint64) (string, error) {
	body := relayRequest{
		MetaSignedTx: strings.TrimPrefix(signedPayload, "0x"),
		Address:      address,
		MetaNonce:    metaNonce,
	}

	var resp relayResponse
	if err := c.post(ctx, "/relay", body, &resp); err != nil {
		return "", errors.Wrap(err, "relay submission failed")
	}
	if resp.Status != "success" || resp.TxHash == "" {
		if resp.Error != "" {
			return "", errors.Errorf("relay rejected transaction: %s", resp.Error)
		}
		return "", errors.New("relay rejected transaction")
	}
	return resp.TxHash, nil
}

// MetaNonce queries the relay's nonce lane for address.
func (c *Client) MetaNonce(ctx context.Context, address string) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/nonce?address=%s", c.baseURL, address), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "meta nonce query failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("meta nonce query failed: status %d", resp.StatusCode)
	}

	var body struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, errors.Wrap(err, "failed to decode meta nonce response")
	}
	return body.Nonce, nil
}

// Refuel asks the relay to top up an underfunded account so it can pay for
// its own transaction. Best effort: callers log failures and proceed with
// the primary broadcast regardless.
func (c *Client) Refuel(ctx context.Context, signedPayload, address string) error {
	body := relayRequest{
		MetaSignedTx: strings.TrimPrefix(signedPayload, "0x"),
		Address:      address,
	}
	var resp relayResponse
	if err := c.post(ctx, "/fuel", body, &resp); err != nil {
		return errors.Wrap(err, "refuel failed")
	}
	if resp.Status != "success" {
		return errors.New("refuel rejected")
	}
	log.Debug().Str("address", address).Msg("Refuel accepted")
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var failure relayResponse
		if json.Unmarshal(payload, &failure) == nil && failure.Error != "" {
			return errors.Errorf("status %d: %s", resp.StatusCode, failure.Error)
		}
		return errors.Errorf("status %d", resp.StatusCode)
	}
	return json.Unmarshal(payload, out)
}
