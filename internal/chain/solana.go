package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/commitment-pool/internal/circuitbreaker"
	"github.com/commitment-pool/internal/config"
	"github.com/commitment-pool/internal/logging"
)

// SolanaClient is a JSON-RPC client for Solana read paths. It fails over
// from the primary to the secondary endpoint and trips a circuit breaker
// per endpoint so a dead RPC does not stall verification sweeps.
type SolanaClient struct {
	endpoints  []string
	commitment string
	client     *http.Client
	breakers   *circuitbreaker.CircuitBreakerManager
	reqID      atomic.Int64
}

// NewSolanaClient creates a new Solana RPC client
func NewSolanaClient(cfg *config.SolanaConfig) *SolanaClient {
	endpoints := []string{cfg.RPCPrimary}
	if cfg.RPCSecondary != "" {
		endpoints = append(endpoints, cfg.RPCSecondary)
	}

	return &SolanaClient{
		endpoints:  endpoints,
		commitment: cfg.Commitment,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		breakers: circuitbreaker.NewCircuitBreakerManager(),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call issues a JSON-RPC request, trying each healthy endpoint in order
func (c *SolanaClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	var lastErr error

	for i, endpoint := range c.endpoints {
		cb := c.breakers.GetOrCreate(fmt.Sprintf("solana-rpc-%d", i), nil)

		err := cb.Execute(ctx, func() error {
			return c.callEndpoint(ctx, endpoint, method, params, out)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		logging.WithFields(map[string]interface{}{
			"endpoint": i,
			"method":   method,
			"error":    err.Error(),
		}).Warn("Solana RPC call failed, trying next endpoint")
	}

	return fmt.Errorf("%w: %v", ErrSourceUnavailable, lastErr)
}

func (c *SolanaClient) callEndpoint(ctx context.Context, endpoint, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) // nolint:errcheck // drain for connection reuse
		_ = resp.Body.Close()                 // nolint:errcheck
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, method)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return nil
}

// TokenBalance returns a wallet's balance. With an empty mint it reads the
// native SOL balance in lamports; otherwise it sums the wallet's token
// accounts for the mint, in the token's smallest unit.
func (c *SolanaClient) TokenBalance(ctx context.Context, wallet, tokenMint string) (int64, error) {
	if wallet == "" {
		return 0, ErrInvalidWallet
	}

	if tokenMint == "" {
		var result struct {
			Value int64 `json:"value"`
		}
		err := c.call(ctx, "getBalance",
			[]interface{}{wallet, map[string]string{"commitment": c.commitment}},
			&result,
		)
		if err != nil {
			return 0, err
		}
		return result.Value, nil
	}

	var result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								Amount string `json:"amount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}

	err := c.call(ctx, "getTokenAccountsByOwner",
		[]interface{}{
			wallet,
			map[string]string{"mint": tokenMint},
			map[string]string{"encoding": "jsonParsed", "commitment": c.commitment},
		},
		&result,
	)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, acc := range result.Value {
		amount, err := strconv.ParseInt(acc.Account.Data.Parsed.Info.TokenAmount.Amount, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt token amount for wallet %s: %w", wallet, err)
		}
		total += amount
	}
	return total, nil
}

type signatureInfo struct {
	Signature string `json:"signature"`
	BlockTime *int64 `json:"blockTime"`
	Err       any    `json:"err"`
}

// CountTransactions counts successful transactions signed by the wallet in
// [from, to). The signature list is paged newest first until it passes the
// window start.
func (c *SolanaClient) CountTransactions(ctx context.Context, wallet, tokenMint string, from, to time.Time) (int, error) {
	if wallet == "" {
		return 0, ErrInvalidWallet
	}

	address := wallet
	if tokenMint != "" {
		// Goals scoped to a token count signatures on the wallet's token
		// account for that mint
		tokenAccount, err := c.tokenAccountForMint(ctx, wallet, tokenMint)
		if err != nil {
			return 0, err
		}
		if tokenAccount == "" {
			return 0, nil
		}
		address = tokenAccount
	}

	count := 0
	var before string

	for {
		opts := map[string]interface{}{
			"limit":      1000,
			"commitment": c.commitment,
		}
		if before != "" {
			opts["before"] = before
		}

		var sigs []signatureInfo
		if err := c.call(ctx, "getSignaturesForAddress", []interface{}{address, opts}, &sigs); err != nil {
			return 0, err
		}
		if len(sigs) == 0 {
			return count, nil
		}

		for _, sig := range sigs {
			if sig.BlockTime == nil {
				continue
			}
			t := time.Unix(*sig.BlockTime, 0).UTC()
			if !t.Before(to) {
				continue
			}
			if t.Before(from) {
				return count, nil
			}
			if sig.Err == nil {
				count++
			}
		}

		before = sigs[len(sigs)-1].Signature
	}
}

// tokenAccountForMint resolves the wallet's first token account for a mint,
// or "" when the wallet holds none.
func (c *SolanaClient) tokenAccountForMint(ctx context.Context, wallet, tokenMint string) (string, error) {
	var result struct {
		Value []struct {
			Pubkey string `json:"pubkey"`
		} `json:"value"`
	}

	err := c.call(ctx, "getTokenAccountsByOwner",
		[]interface{}{
			wallet,
			map[string]string{"mint": tokenMint},
			map[string]string{"encoding": "jsonParsed", "commitment": c.commitment},
		},
		&result,
	)
	if err != nil {
		return "", err
	}
	if len(result.Value) == 0 {
		return "", nil
	}
	return result.Value[0].Pubkey, nil
}

// Ping checks RPC reachability
func (c *SolanaClient) Ping(ctx context.Context) error {
	var health string
	return c.call(ctx, "getHealth", nil, &health)
}
