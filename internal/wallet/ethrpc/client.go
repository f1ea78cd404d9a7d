// Package ethrpc wraps the network RPC collaborator behind a multi-URL
// failover client. Unreachable nodes are skipped and retried on later use.
package ethrpc

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Client is a failover wrapper over one or more RPC endpoints of a single
// network.
type Client struct {
	urls    []string
	mu      sync.Mutex
	clients []*ethclient.Client
	current int
}

// Dial connects to the given endpoints. Individual connection failures are
// tolerated as long as the URL list is non-empty; dead endpoints are retried
// lazily.
func Dial(urls []string) (*Client, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	clients := make([]*ethclient.Client, len(urls))
	for i, url := range urls {
		client, err := ethclient.Dial(url)
		if err != nil {
			log.Warn().Str("url", url).Err(err).Msg("Failed to connect to RPC node, will retry on use")
			continue
		}
		clients[i] = client
	}

	return &Client{urls: urls, clients: clients}, nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, client := range c.clients {
		if client != nil {
			client.Close()
		}
	}
}

// EstimateGas estimates the gas needed for the given call.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	client, err := c.getClient(ctx)
	if err != nil {
		return 0, err
	}
	gas, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, errors.Wrap(err, "failed to estimate gas")
	}
	return gas, nil
}

// GasPrice returns the node's suggested gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}
	price, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch gas price")
	}
	return price, nil
}

// SendRawTransaction broadcasts an already signed, RLP-encoded transaction
// and returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	client, err := c.getClient(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to decode signed transaction")
	}
	if err := client.SendTransaction(ctx, &tx); err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to send transaction")
	}
	return tx.Hash(), nil
}

// TransactionReceipt returns the receipt for hash, or ethereum.NotFound while
// the transaction is unmined.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (*types.Receipt, error) {
	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}
	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to get transaction receipt")
	}
	return receipt, nil
}

// NonceAt returns the pending nonce for address.
func (c *Client) NonceAt(ctx context.Context, address string) (uint64, error) {
	client, err := c.getClient(ctx)
	if err != nil {
		return 0, err
	}
	nonce, err := client.PendingNonceAt(ctx, common.HexToAddress(address))
	if err != nil {
		return 0, errors.Wrap(err, "failed to get pending nonce")
	}
	return nonce, nil
}

// BalanceAt returns the latest balance of address.
func (c *Client) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}
	balance, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get balance")
	}
	return balance, nil
}

// ChainID returns the connected network's chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chain id")
	}
	return id, nil
}

// Connected reports whether any endpoint currently answers.
func (c *Client) Connected(ctx context.Context) bool {
	_, err := c.ChainID(ctx)
	return err == nil
}

// getClient returns the current healthy client, rotating through and
// redialing endpoints as needed.
func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < len(c.clients); i++ {
		idx := (c.current + i) % len(c.clients)
		if c.clients[idx] == nil {
			client, err := ethclient.Dial(c.urls[idx])
			if err != nil {
				continue
			}
			c.clients[idx] = client
		}
		if _, err := c.clients[idx].ChainID(ctx); err != nil {
			log.Warn().Str("url", c.urls[idx]).Err(err).Msg("RPC health check failed")
			continue
		}
		c.current = idx
		return c.clients[idx], nil
	}

	return nil, errors.New("all RPC endpoints are unavailable")
}
