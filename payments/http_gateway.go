// Package payments adapts payment providers to escrow.Gateway.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anjiri1684/rental_escrow/escrow"
)

type HTTPConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Client    *http.Client
	Logger    *slog.Logger
}

// HTTPGateway talks to an escrow-capable provider over JSON/HTTP with
// client-credentials bearer auth.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	tokens  *tokenSource
	logger  *slog.Logger
}

var _ escrow.Gateway = (*HTTPGateway)(nil)

func NewHTTPGateway(cfg HTTPConfig) *HTTPGateway {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPGateway{
		baseURL: base,
		client:  client,
		tokens: &tokenSource{
			url:    base + "/oauth/token",
			key:    cfg.APIKey,
			secret: cfg.APISecret,
			client: client,
			now:    time.Now,
		},
		logger: logger.With("component", "payment_gateway"),
	}
}

type escrowRequest struct {
	Reference string `json:"reference"`
	Account   string `json:"account"`
	Method    string `json:"method,omitempty"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

type escrowResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

func (g *HTTPGateway) Hold(ctx context.Context, req escrow.GatewayRequest) (string, error) {
	return g.post(ctx, "hold", "/escrow/holds", req)
}

func (g *HTTPGateway) Release(ctx context.Context, req escrow.GatewayRequest) (string, error) {
	return g.post(ctx, "release", fmt.Sprintf("/escrow/holds/%s/release", req.HoldTxnID), req)
}

func (g *HTTPGateway) Refund(ctx context.Context, req escrow.GatewayRequest) (string, error) {
	return g.post(ctx, "refund", fmt.Sprintf("/escrow/holds/%s/refund", req.HoldTxnID), req)
}

func (g *HTTPGateway) post(ctx context.Context, op, path string, gr escrow.GatewayRequest) (string, error) {
	account, err := accountFor(gr.Method, gr.Party)
	if err != nil {
		return "", fmt.Errorf("%w: %v", escrow.ErrDeclined, err)
	}
	body, err := json.Marshal(escrowRequest{
		Reference: gr.Reference,
		Account:   account,
		Method:    gr.Method,
		Amount:    fmt.Sprintf("%.2f", gr.Amount),
		Currency:  "KES",
	})
	if err != nil {
		return "", fmt.Errorf("marshal %s request: %w", op, err)
	}

	token, err := g.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", op+":"+gr.Reference)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send %s request: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read %s response: %w", op, err)
	}

	// Error bodies may not be JSON; only a success body must decode.
	var out escrowResponse
	decodeErr := json.Unmarshal(respBody, &out)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		g.tokens.Invalidate()
		return "", fmt.Errorf("%s: gateway rejected credentials", op)
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		g.logger.Warn("gateway declined", "op", op, "reference", gr.Reference, "message", out.Message)
		return "", fmt.Errorf("%w: %s", escrow.ErrDeclined, out.Message)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fmt.Errorf("%s: gateway returned %d", op, resp.StatusCode)
	}

	if decodeErr != nil {
		return "", fmt.Errorf("decode %s response: %w", op, decodeErr)
	}
	if out.TransactionID == "" {
		return "", fmt.Errorf("%s: gateway response has no transaction id", op)
	}
	g.logger.Info("gateway call succeeded", "op", op, "reference", gr.Reference, "txn", out.TransactionID)
	return out.TransactionID, nil
}
