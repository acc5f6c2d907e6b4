package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/commitment-pool/internal/config"
	"github.com/commitment-pool/internal/types"
)

// CustodyClient talks to the custody signing service that holds the escrow
// vault key. The service deduplicates transfers by reference, so submitting
// the same reference twice moves funds once.
//
// Timeouts and connection failures after a submit are reported as an unknown
// status: the transfer may or may not have landed, and only a later status
// query can say which.
type CustodyClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewCustodyClient creates a new custody client
func NewCustodyClient(cfg *config.SettleConfig) *CustodyClient {
	return &CustodyClient{
		baseURL: cfg.CustodyURL,
		apiKey:  cfg.CustodyAPIKey,
		client: &http.Client{
			Timeout: cfg.ConfirmTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

type transferRequest struct {
	ToWallet  string `json:"toWallet"`
	Lamports  int64  `json:"lamports"`
	Reference string `json:"reference"`
}

type transferResponse struct {
	TransferID string `json:"transferId"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// Transfer submits a vault transfer. The reference doubles as the
// deduplication key on the custody side.
func (c *CustodyClient) Transfer(ctx context.Context, toWallet string, lamports int64, reference string) (*TransferResult, error) {
	if toWallet == "" {
		return nil, ErrInvalidWallet
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(transferRequest{
		ToWallet:  toWallet,
		Lamports:  lamports,
		Reference: reference,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if isIndeterminate(err) {
			// The request may have reached the service before the failure
			return &TransferResult{Status: types.PayoutUnknown}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close() // nolint:errcheck
	}()

	var tr transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return &TransferResult{Status: types.PayoutUnknown}, nil
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return &TransferResult{
			TransferID: tr.TransferID,
			Status:     parseTransferStatus(tr.Status),
		}, nil
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrTransferRejected, tr.Error)
	default:
		return nil, fmt.Errorf("%w: custody returned status %d", ErrSourceUnavailable, resp.StatusCode)
	}
}

// TransferStatus resolves a submitted transfer by ID
func (c *CustodyClient) TransferStatus(ctx context.Context, transferID string) (types.PayoutStatus, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return types.PayoutUnknown, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/transfers/"+transferID, nil)
	if err != nil {
		return types.PayoutUnknown, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return types.PayoutUnknown, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close() // nolint:errcheck
	}()

	if resp.StatusCode == http.StatusNotFound {
		// The custody service never saw this transfer; it is safe to resubmit
		return types.PayoutFailed, nil
	}
	if resp.StatusCode != http.StatusOK {
		return types.PayoutUnknown, fmt.Errorf("%w: custody returned status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var tr transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return types.PayoutUnknown, fmt.Errorf("failed to decode status: %w", err)
	}
	return parseTransferStatus(tr.Status), nil
}

// VaultBalance reads the escrow vault balance in lamports
func (c *CustodyClient) VaultBalance(ctx context.Context) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/vault/balance", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close() // nolint:errcheck
	}()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body) // nolint:errcheck
		return 0, fmt.Errorf("%w: custody returned status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var result struct {
		Lamports int64 `json:"lamports"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode balance: %w", err)
	}
	return result.Lamports, nil
}

func parseTransferStatus(s string) types.PayoutStatus {
	switch s {
	case "pending":
		return types.PayoutPending
	case "submitted":
		return types.PayoutSubmitted
	case "confirmed":
		return types.PayoutConfirmed
	case "failed":
		return types.PayoutFailed
	default:
		return types.PayoutUnknown
	}
}

// isIndeterminate reports whether an HTTP error leaves the request outcome
// unknowable, as opposed to a failure before the request was sent.
func isIndeterminate(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

var _ Transferer = (*CustodyClient)(nil)
