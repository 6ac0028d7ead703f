package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"motelbooking/internal/common/money"
)

// DeclineTokenPrefix makes the simulated processor decline an authorization
const DeclineTokenPrefix = "tok_decline"

type simulatedHold struct {
	amount     money.Money
	captured   bool
	voided     bool
	refunded   int64
	// refundKeys makes a resent refund a no-op
	refundKeys map[string]bool
}

// Simulated approves every request except tokens starting with
// DeclineTokenPrefix. References look like AUTH-1A2B3C4D.
type Simulated struct {
	mu    sync.Mutex
	holds map[string]*simulatedHold
}

// NewSimulated creates a simulated processor
func NewSimulated() *Simulated {
	return &Simulated{holds: make(map[string]*simulatedHold)}
}

func (s *Simulated) Name() string { return "simulated" }

func (s *Simulated) Authorize(_ context.Context, req AuthorizeRequest) (string, error) {
	if strings.HasPrefix(req.Token, DeclineTokenPrefix) {
		return "", declined("card declined for payment %s", req.PaymentID)
	}
	ref := reference("AUTH")
	s.mu.Lock()
	s.holds[ref] = &simulatedHold{amount: req.Amount, refundKeys: make(map[string]bool)}
	s.mu.Unlock()
	return ref, nil
}

func (s *Simulated) Capture(_ context.Context, ref string, amount money.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[ref]
	if !ok {
		return fmt.Errorf("unknown authorization %s", ref)
	}
	if h.captured || h.voided {
		return fmt.Errorf("authorization %s is already settled", ref)
	}
	if amount.GreaterThan(h.amount) {
		return fmt.Errorf("capture of %s exceeds authorization of %s", amount, h.amount)
	}
	h.captured = true
	return nil
}

func (s *Simulated) Refund(_ context.Context, req RefundRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[req.Ref]
	if !ok {
		return fmt.Errorf("unknown authorization %s", req.Ref)
	}
	if !h.captured {
		return fmt.Errorf("authorization %s was never captured", req.Ref)
	}
	key := req.IdempotencyKey()
	if h.refundKeys[key] {
		return nil
	}
	if h.refunded+req.Amount.AmountMinor > h.amount.AmountMinor {
		return fmt.Errorf("refund of %s exceeds the captured amount", req.Amount)
	}
	h.refunded += req.Amount.AmountMinor
	h.refundKeys[key] = true
	return nil
}

func (s *Simulated) Void(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[ref]
	if !ok {
		return fmt.Errorf("unknown authorization %s", ref)
	}
	if h.captured {
		return fmt.Errorf("authorization %s is already captured", ref)
	}
	h.voided = true
	return nil
}
