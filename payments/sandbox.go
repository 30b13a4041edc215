package payments

import (
	"context"
	"fmt"
	"sync"

	"eventhub/utils"

	"github.com/shopspring/decimal"
)

// Test method refs understood by the sandbox.
const (
	MethodDeclined = "pm_card_declined"
	MethodError    = "pm_card_error"
)

type sandboxAuth struct {
	amount   decimal.Decimal
	captured string
}

type sandboxResult struct {
	value any
	err   error
}

// Sandbox is an in-process Gateway for development and tests. It replays
// the first outcome for a repeated idempotency key and counts distinct
// captures and refunds.
type Sandbox struct {
	mu      sync.Mutex
	results map[string]sandboxResult
	auths   map[string]*sandboxAuth
	refunds map[string]decimal.Decimal

	// Hooks run before the operation; a non-nil error fails the call
	// with ErrGateway wrapping it.
	BeforeAuthorize func(AuthorizeRequest) error
	BeforeConfirm   func(authID string) error
	BeforeRefund    func(RefundRequest) error
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		results: map[string]sandboxResult{},
		auths:   map[string]*sandboxAuth{},
		refunds: map[string]decimal.Decimal{},
	}
}

func (s *Sandbox) Authorize(_ context.Context, req AuthorizeRequest) (Authorization, error) {
	if s.BeforeAuthorize != nil {
		if err := s.BeforeAuthorize(req); err != nil {
			return Authorization{}, fmt.Errorf("%w: %v", ErrGateway, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.results[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		a, _ := r.value.(Authorization)
		return a, r.err
	}
	var res sandboxResult
	switch req.MethodRef {
	case MethodDeclined:
		res = sandboxResult{value: Authorization{ID: utils.NewID("auth"), Status: "declined"}, err: fmt.Errorf("%w: card was declined", ErrDeclined)}
	case MethodError:
		// transient; not remembered so a retry can succeed
		return Authorization{}, fmt.Errorf("%w: processor error", ErrGateway)
	default:
		if !req.Amount.IsPositive() {
			res = sandboxResult{err: fmt.Errorf("%w: amount must be positive", ErrDeclined)}
			break
		}
		id := utils.NewID("auth")
		s.auths[id] = &sandboxAuth{amount: req.Amount}
		res = sandboxResult{value: Authorization{ID: id, Status: "authorized"}}
	}
	s.results[req.IdempotencyKey] = res
	a, _ := res.value.(Authorization)
	return a, res.err
}

func (s *Sandbox) Confirm(_ context.Context, authID, key string) (Confirmation, error) {
	if s.BeforeConfirm != nil {
		if err := s.BeforeConfirm(authID); err != nil {
			return Confirmation{}, fmt.Errorf("%w: %v", ErrGateway, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.results[key]; ok && key != "" {
		c, _ := r.value.(Confirmation)
		return c, r.err
	}
	auth, ok := s.auths[authID]
	if !ok {
		return Confirmation{}, fmt.Errorf("%w: no such authorization %s", ErrDeclined, authID)
	}
	if auth.captured == "" {
		auth.captured = utils.NewID("txn")
	}
	c := Confirmation{AuthID: authID, TxnID: auth.captured, Status: "succeeded"}
	s.results[key] = sandboxResult{value: c}
	return c, nil
}

func (s *Sandbox) Refund(_ context.Context, req RefundRequest) (RefundResult, error) {
	if s.BeforeRefund != nil {
		if err := s.BeforeRefund(req); err != nil {
			return RefundResult{}, fmt.Errorf("%w: %v", ErrGateway, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.results[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		rr, _ := r.value.(RefundResult)
		return rr, r.err
	}
	captured := false
	for _, a := range s.auths {
		if a.captured == req.TxnID {
			captured = true
			break
		}
	}
	if !captured {
		return RefundResult{}, fmt.Errorf("%w: unknown transaction %s", ErrDeclined, req.TxnID)
	}
	id := utils.NewID("re")
	s.refunds[id] = req.Amount
	rr := RefundResult{ID: id, Status: "succeeded"}
	s.results[req.IdempotencyKey] = sandboxResult{value: rr}
	return rr, nil
}

// Captures is the number of distinct authorizations that were captured.
func (s *Sandbox) Captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.auths {
		if a.captured != "" {
			n++
		}
	}
	return n
}

// Authorizations is the number of distinct successful authorizations.
func (s *Sandbox) Authorizations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.auths)
}

// Refunds is the number of distinct refunds issued.
func (s *Sandbox) Refunds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refunds)
}
