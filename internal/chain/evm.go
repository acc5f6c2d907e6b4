package chain

import (
	"context"
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/commitment-pool/internal/config"
	"github.com/commitment-pool/internal/logging"
)

// Ethereum address regex pattern (0x followed by 40 hexadecimal characters)
var evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// balanceOf(address) selector
var erc20BalanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// EVMClient reads balances from an EVM chain for hodl goals whose token
// lives on Ethereum rather than Solana. It fails over from the primary to
// the secondary endpoint on connection errors.
type EVMClient struct {
	clients []*ethclient.Client
}

// NewEVMClient dials the configured endpoints
func NewEVMClient(cfg *config.EthereumConfig) (*EVMClient, error) {
	if cfg.RPCPrimary == "" {
		return nil, fmt.Errorf("ethereum RPC endpoint is required")
	}

	endpoints := []string{cfg.RPCPrimary}
	if cfg.RPCSecondary != "" {
		endpoints = append(endpoints, cfg.RPCSecondary)
	}

	var clients []*ethclient.Client
	for _, endpoint := range endpoints {
		client, err := ethclient.Dial(endpoint)
		if err != nil {
			if len(clients) > 0 {
				logging.WithError(err).Warn("Failed to dial secondary Ethereum endpoint, continuing with primary only")
				continue
			}
			return nil, fmt.Errorf("failed to connect to Ethereum endpoint: %w", err)
		}
		clients = append(clients, client)
	}

	return &EVMClient{clients: clients}, nil
}

// TokenBalance returns the wallet's balance in the token's smallest unit.
// An empty token mint reads the native ETH balance in wei. Balances beyond
// int64 range are capped rather than overflowed; hodl thresholds live well
// below that.
func (c *EVMClient) TokenBalance(ctx context.Context, wallet, tokenMint string) (int64, error) {
	if !evmAddressRegex.MatchString(wallet) {
		return 0, ErrInvalidWallet
	}
	if tokenMint != "" && !evmAddressRegex.MatchString(tokenMint) {
		return 0, fmt.Errorf("invalid token contract address: %s", tokenMint)
	}

	var lastErr error
	for _, client := range c.clients {
		balance, err := c.balanceFrom(ctx, client, wallet, tokenMint)
		if err == nil {
			return clampToInt64(balance), nil
		}
		lastErr = err
	}

	return 0, fmt.Errorf("%w: %v", ErrSourceUnavailable, lastErr)
}

func (c *EVMClient) balanceFrom(ctx context.Context, client *ethclient.Client, wallet, tokenMint string) (*big.Int, error) {
	addr := common.HexToAddress(wallet)

	if tokenMint == "" {
		return client.BalanceAt(ctx, addr, nil)
	}

	contract := common.HexToAddress(tokenMint)
	data := make([]byte, 0, 36)
	data = append(data, erc20BalanceOfSelector...)
	data = append(data, common.LeftPadBytes(addr.Bytes(), 32)...)

	result, err := client.CallContract(ctx, ethereum.CallMsg{
		To:   &contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty balanceOf response from %s", tokenMint)
	}

	return new(big.Int).SetBytes(result), nil
}

func clampToInt64(v *big.Int) int64 {
	if v.IsInt64() {
		return v.Int64()
	}
	return int64(^uint64(0) >> 1)
}

// Close releases the underlying RPC connections
func (c *EVMClient) Close() {
	for _, client := range c.clients {
		client.Close()
	}
}

var _ BalanceSource = (*EVMClient)(nil)
