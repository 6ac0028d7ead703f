package domain

import (
	"fmt"
	"time"

	"motelbooking/internal/common/money"
)

// The Apply functions move a payment to its next state and update the
// invoice in the same step. Each one checks everything before writing, so
// on error both values are unchanged.

// ApplyAuthorization holds p.Amount against the invoice. p must be a fresh
// AUTHORIZED payment for inv.
func ApplyAuthorization(inv *Invoice, p *Payment, now time.Time) error {
	if !inv.IsOpen() {
		return fmt.Errorf("%w: invoice %s is %s", ErrInvoiceNotOpen, inv.ID, inv.Status)
	}
	if p.InvoiceID != inv.ID || p.Status != PaymentAuthorized {
		return fmt.Errorf("%w: payment %s cannot be authorized against invoice %s", ErrInvalidPaymentState, p.ID, inv.ID)
	}
	if p.Amount.Currency != inv.Currency {
		return fmt.Errorf("%w: payment currency %s does not match invoice currency %s: %w",
			ErrValidation, p.Amount.Currency, inv.Currency, money.ErrCurrencyMismatch)
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if p.Amount.GreaterThan(inv.BalanceDue) {
		return fmt.Errorf("%w: %s requested, %s due", ErrInsufficientFunds, p.Amount, inv.BalanceDue)
	}
	return inv.set(inv.BalanceDue.MustSub(p.Amount), inv.AuthorizedHold.MustAdd(p.Amount), now)
}

// ApplyCapture settles an AUTHORIZED payment. The balance does not move;
// the hold becomes captured funds.
func ApplyCapture(inv *Invoice, p *Payment, now time.Time) error {
	if p.Status != PaymentAuthorized {
		return fmt.Errorf("%w: cannot capture %s payment", ErrInvalidPaymentState, p.Status)
	}
	if err := inv.set(inv.BalanceDue, inv.AuthorizedHold.MustSub(p.Amount), now); err != nil {
		return err
	}
	p.Status = PaymentCaptured
	p.UpdatedAt = now
	return nil
}

// ApplyRefund returns amount of a CAPTURED payment to the balance due. A
// refund of everything still captured moves the payment to REFUNDED; a
// smaller one leaves it CAPTURED with RefundedAmount raised.
func ApplyRefund(inv *Invoice, p *Payment, amount money.Money, now time.Time) error {
	if p.Status != PaymentCaptured {
		return fmt.Errorf("%w: cannot refund %s payment", ErrInvalidPaymentState, p.Status)
	}
	if amount.Currency != p.Amount.Currency {
		return fmt.Errorf("%w: refund currency %s does not match payment currency %s: %w",
			ErrValidation, amount.Currency, p.Amount.Currency, money.ErrCurrencyMismatch)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: refund amount must be positive", ErrValidation)
	}
	refundable := p.Refundable()
	if amount.GreaterThan(refundable) {
		return fmt.Errorf("%w: refund of %s exceeds the %s still captured", ErrValidation, amount, refundable)
	}
	if err := inv.set(inv.BalanceDue.MustAdd(amount), inv.AuthorizedHold, now); err != nil {
		return err
	}
	p.RefundedAmount = p.RefundedAmount.MustAdd(amount)
	if p.RefundedAmount.Equal(p.Amount) {
		p.Status = PaymentRefunded
	}
	p.UpdatedAt = now
	return nil
}

// ApplyVoid cancels an AUTHORIZED payment and releases its hold
func ApplyVoid(inv *Invoice, p *Payment, now time.Time) error {
	if p.Status != PaymentAuthorized {
		return fmt.Errorf("%w: cannot void %s payment", ErrInvalidPaymentState, p.Status)
	}
	if err := inv.set(inv.BalanceDue.MustAdd(p.Amount), inv.AuthorizedHold.MustSub(p.Amount), now); err != nil {
		return err
	}
	p.Status = PaymentVoided
	p.UpdatedAt = now
	return nil
}

// set installs new balances, restoring the old ones if they break the bounds
func (inv *Invoice) set(balance, hold money.Money, now time.Time) error {
	prevBalance, prevHold, prevStatus, prevUpdated := inv.BalanceDue, inv.AuthorizedHold, inv.Status, inv.UpdatedAt
	inv.BalanceDue, inv.AuthorizedHold = balance, hold
	if err := inv.recompute(now); err != nil {
		inv.BalanceDue, inv.AuthorizedHold, inv.Status, inv.UpdatedAt = prevBalance, prevHold, prevStatus, prevUpdated
		return err
	}
	return nil
}

// ExpectedBalance recomputes the balance due and hold from payment states
// alone. A consistent invoice matches it exactly.
func ExpectedBalance(inv *Invoice, payments []*Payment) (balance, hold money.Money, err error) {
	contributions := make([]money.Money, 0, len(payments))
	holds := make([]money.Money, 0, len(payments))
	for _, p := range payments {
		contributions = append(contributions, p.Contribution())
		holds = append(holds, p.Hold())
	}
	paid, err := money.Sum(inv.Currency, contributions...)
	if err != nil {
		return money.Money{}, money.Money{}, err
	}
	hold, err = money.Sum(inv.Currency, holds...)
	if err != nil {
		return money.Money{}, money.Money{}, err
	}
	balance, err = inv.GrandTotal.Sub(paid)
	return balance, hold, err
}
