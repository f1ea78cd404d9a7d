// Package spot fetches the fiat spot price of the ledger's native unit.
// Unavailability is an expected condition, not an error to act on: callers
// omit fiat fields when the source is down.
package spot

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ErrUnavailable signals that no spot price could be fetched.
var ErrUnavailable = errors.New("spot: price source unavailable")

type Client struct {
	httpClient *http.Client
	url        string
}

func NewClient(url string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		url:        url,
	}
}

type priceResponse struct {
	Data struct {
		Amount string `json:"amount"`
	} `json:"data"`
}

// SpotPrice returns the current native-unit price in fiat.
func (c *Client) SpotPrice(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, errors.Wrap(ErrUnavailable, err.Error())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, errors.Wrap(ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errors.Wrapf(ErrUnavailable, "status %d", resp.StatusCode)
	}

	var body priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, errors.Wrap(ErrUnavailable, err.Error())
	}

	price, err := strconv.ParseFloat(body.Data.Amount, 64)
	if err != nil || price <= 0 {
		return 0, errors.Wrap(ErrUnavailable, "malformed price")
	}
	return price, nil
}
