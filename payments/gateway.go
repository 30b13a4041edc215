package payments

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrDeclined means the card network or provider refused the charge.
	ErrDeclined = errors.New("payment declined")
	// ErrGateway covers transport failures, timeouts and provider 5xx.
	ErrGateway = errors.New("payment gateway unavailable")
)

type AuthorizeRequest struct {
	Amount         decimal.Decimal
	Currency       string
	MethodRef      string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

type Authorization struct {
	ID     string
	Status string
}

type Confirmation struct {
	AuthID string
	TxnID  string
	Status string
}

type RefundRequest struct {
	TxnID          string
	Amount         decimal.Decimal
	Reason         string
	IdempotencyKey string
}

type RefundResult struct {
	ID     string
	Status string
}

// Gateway is the card processor. Every call carries an idempotency key and
// the processor returns the original outcome when a key is replayed.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error)
	Confirm(ctx context.Context, authID, idempotencyKey string) (Confirmation, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}
