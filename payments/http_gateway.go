package payments

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

	"eventhub/metrics"

	log "github.com/sirupsen/logrus"
)

// HTTPGateway talks to a card processor over a JSON REST API:
//
//	POST /v1/authorizations              {amount, currency, payment_method, description, metadata}
//	POST /v1/authorizations/{id}/confirm {}
//	POST /v1/refunds                     {transaction_id, amount, reason}
//
// Amounts are integer minor units. Every request carries the caller's
// Idempotency-Key header.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	hc      *http.Client
	breaker *Breaker
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: timeout},
		breaker: NewBreaker(5, 30*time.Second),
	}
}

type authorizeBody struct {
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"payment_method"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type refundBody struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason,omitempty"`
}

type gatewayReply struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Error         *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (g *HTTPGateway) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	var reply gatewayReply
	err := g.call(ctx, "authorize", "/v1/authorizations", req.IdempotencyKey, authorizeBody{
		Amount:        MinorUnits(req.Amount),
		Currency:      req.Currency,
		PaymentMethod: req.MethodRef,
		Description:   req.Description,
		Metadata:      req.Metadata,
	}, &reply)
	if err != nil {
		return Authorization{}, err
	}
	if reply.Status == "declined" {
		return Authorization{ID: reply.ID, Status: reply.Status}, fmt.Errorf("%w: authorization %s", ErrDeclined, reply.ID)
	}
	return Authorization{ID: reply.ID, Status: reply.Status}, nil
}

func (g *HTTPGateway) Confirm(ctx context.Context, authID, idempotencyKey string) (Confirmation, error) {
	var reply gatewayReply
	path := "/v1/authorizations/" + authID + "/confirm"
	if err := g.call(ctx, "confirm", path, idempotencyKey, struct{}{}, &reply); err != nil {
		return Confirmation{}, err
	}
	if reply.Status != "succeeded" && reply.Status != "captured" {
		return Confirmation{}, fmt.Errorf("%w: capture status %q", ErrDeclined, reply.Status)
	}
	return Confirmation{AuthID: authID, TxnID: reply.TransactionID, Status: reply.Status}, nil
}

func (g *HTTPGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	var reply gatewayReply
	err := g.call(ctx, "refund", "/v1/refunds", req.IdempotencyKey, refundBody{
		TransactionID: req.TxnID,
		Amount:        MinorUnits(req.Amount),
		Reason:        req.Reason,
	}, &reply)
	if err != nil {
		return RefundResult{}, err
	}
	return RefundResult{ID: reply.ID, Status: reply.Status}, nil
}

func (g *HTTPGateway) call(ctx context.Context, op, path, key string, body, out any) error {
	err := g.breaker.Execute(func() error {
		return g.do(ctx, path, key, body, out)
	}, func(err error) bool {
		return errors.Is(err, ErrGateway)
	})
	if errors.Is(err, ErrCircuitOpen) {
		err = fmt.Errorf("%w: %v", ErrGateway, err)
	}
	metrics.GatewayCall(op, err)
	if err != nil {
		log.WithFields(log.Fields{"op": op, "key": key, "breaker": g.breaker.State()}).WithError(err).Warn("gateway call failed")
	}
	return err
}

func (g *HTTPGateway) do(ctx context.Context, path, key string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode gateway request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Idempotency-Key", key)

	resp, err := g.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrGateway, err)
	}
	var reply gatewayReply
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &reply); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("%w: malformed response: %v", ErrGateway, err)
		}
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrGateway, resp.StatusCode)
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrDeclined, reasonOf(reply, resp.StatusCode))
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: rejected request: %s", ErrGateway, reasonOf(reply, resp.StatusCode))
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func reasonOf(reply gatewayReply, status int) string {
	if reply.Error != nil && reply.Error.Message != "" {
		return reply.Error.Message
	}
	return http.StatusText(status)
}
