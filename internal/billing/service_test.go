package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"motelbooking/internal/billing/domain"
	"motelbooking/internal/billing/gateway"
	"motelbooking/internal/billing/store"
	"motelbooking/internal/common/database"
	"motelbooking/internal/common/events"
	"motelbooking/internal/common/events/eventstest"
	"motelbooking/internal/common/middleware"
	"motelbooking/internal/common/money"
)

var testNow = time.Date(2030, time.March, 1, 12, 0, 0, 0, time.UTC)

func usd(s string) money.Money {
	return money.MustParse(s, money.USD)
}

type fixture struct {
	svc    *Service
	store  *store.Memory
	events *eventstest.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	rec := &eventstest.Recorder{}
	svc := NewService(st, gateway.NewSimulated(), rec,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return testNow }),
	)
	return &fixture{svc: svc, store: st, events: rec}
}

func (f *fixture) issue(t *testing.T, bookingID, total string) *domain.Invoice {
	t.Helper()
	inv, err := f.svc.IssueInvoice(context.Background(), IssueInvoiceRequest{
		BookingID:  bookingID,
		PropertyID: "prop-1",
		LineItems:  []LineItemRequest{{Description: "Room charge", Quantity: 1, UnitAmount: usd(total)}},
	})
	if err != nil {
		t.Fatalf("issue invoice: %v", err)
	}
	return inv
}

func (f *fixture) authorize(t *testing.T, invoiceID, amount string) *domain.Payment {
	t.Helper()
	p, _, err := f.svc.AuthorizePayment(context.Background(), AuthorizeRequest{
		InvoiceID:    invoiceID,
		Method:       domain.MethodCreditCard,
		Amount:       usd(amount),
		PaymentToken: "tok_visa",
	})
	if err != nil {
		t.Fatalf("authorize %s: %v", amount, err)
	}
	return p
}

func (f *fixture) reconcile(t *testing.T, invoiceID string) {
	t.Helper()
	rec, err := f.svc.ReconcileInvoice(context.Background(), invoiceID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rec.Consistent {
		t.Fatalf("ledger drifted: stored %s/%s, expected %s/%s",
			rec.StoredBalance, rec.StoredHold, rec.ExpectedBalance, rec.ExpectedHold)
	}
}

func TestIssueInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.IssueInvoice(ctx, IssueInvoiceRequest{
		BookingID:  "bk-1",
		PropertyID: "prop-1",
		LineItems: []LineItemRequest{
			{Description: "Room charge", Quantity: 3, UnitAmount: usd("100.00")},
		},
		TaxRateBasisPoint: 1000,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if inv.GrandTotal.AmountMinor != 33000 || !inv.BalanceDue.Equal(inv.GrandTotal) {
		t.Fatalf("grand %s balance %s", inv.GrandTotal, inv.BalanceDue)
	}
	if inv.Status != domain.InvoiceIssued {
		t.Fatalf("status = %s", inv.Status)
	}

	got, err := f.svc.GetInvoiceByBooking(ctx, "bk-1")
	if err != nil || got.ID != inv.ID {
		t.Fatalf("by booking: %v %v", got, err)
	}

	_, err = f.svc.IssueInvoice(ctx, IssueInvoiceRequest{
		BookingID:  "bk-1",
		PropertyID: "prop-1",
		LineItems:  []LineItemRequest{{Description: "Again", Quantity: 1, UnitAmount: usd("1.00")}},
	})
	if !errors.Is(err, database.ErrAlreadyExists) {
		t.Fatalf("second invoice for a booking: expected ErrAlreadyExists, got %v", err)
	}

	_, err = f.svc.IssueInvoice(ctx, IssueInvoiceRequest{BookingID: "bk-2", PropertyID: "prop-1"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("no line items: expected ErrValidation, got %v", err)
	}

	if types := f.events.Types(); len(types) != 1 || types[0] != events.EventInvoiceIssued {
		t.Fatalf("events = %v", types)
	}
}

func TestPaymentLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.WithValue(context.Background(), middleware.ActorIDKey, "clerk-7")
	inv := f.issue(t, "bk-1", "300.00")

	p, after, err := f.svc.AuthorizePayment(ctx, AuthorizeRequest{
		InvoiceID:    inv.ID,
		Method:       domain.MethodCreditCard,
		Amount:       usd("300.00"),
		PaymentToken: "tok_visa",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if p.InitiatedBy != "clerk-7" || p.Processor != "simulated" || !strings.HasPrefix(p.ProcessorRef, "AUTH-") {
		t.Fatalf("payment = %+v", p)
	}
	if !after.BalanceDue.IsZero() || after.Status != domain.InvoiceIssued {
		t.Fatalf("after authorize: balance %s status %s", after.BalanceDue, after.Status)
	}

	p, after, err = f.svc.CapturePayment(ctx, p.ID)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if p.Status != domain.PaymentCaptured || after.Status != domain.InvoicePaid {
		t.Fatalf("after capture: %s / %s", p.Status, after.Status)
	}

	p, after, err = f.svc.RefundPayment(ctx, p.ID, usd("100.00"))
	if err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	if p.Status != domain.PaymentCaptured || after.BalanceDue.AmountMinor != 10000 || after.Status != domain.InvoicePartiallyPaid {
		t.Fatalf("after partial refund: %s balance %s %s", p.Status, after.BalanceDue, after.Status)
	}

	p, after, err = f.svc.RefundPayment(ctx, p.ID, money.Money{})
	if err != nil {
		t.Fatalf("refund remainder: %v", err)
	}
	if p.Status != domain.PaymentRefunded || !after.BalanceDue.Equal(after.GrandTotal) || after.Status != domain.InvoiceIssued {
		t.Fatalf("after full refund: %s balance %s %s", p.Status, after.BalanceDue, after.Status)
	}

	if _, _, err := f.svc.RefundPayment(ctx, p.ID, usd("1.00")); !errors.Is(err, domain.ErrInvalidPaymentState) {
		t.Fatalf("refund of a refunded payment: expected ErrInvalidPaymentState, got %v", err)
	}
	f.reconcile(t, inv.ID)

	want := []string{
		events.EventInvoiceIssued,
		events.EventPaymentAuthorized,
		events.EventPaymentCaptured,
		events.EventPaymentRefunded,
		events.EventPaymentRefunded,
	}
	if got := f.events.Types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestAuthorizeRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issue(t, "bk-1", "100.00")

	cases := []struct {
		name string
		req  AuthorizeRequest
		want error
	}{
		{"declined", AuthorizeRequest{InvoiceID: inv.ID, Method: domain.MethodCreditCard, Amount: usd("50.00"), PaymentToken: "tok_decline_card"}, domain.ErrGatewayDeclined},
		{"overdraw", AuthorizeRequest{InvoiceID: inv.ID, Method: domain.MethodCreditCard, Amount: usd("100.01")}, domain.ErrInsufficientFunds},
		{"zero amount", AuthorizeRequest{InvoiceID: inv.ID, Method: domain.MethodCash, Amount: usd("0.00")}, domain.ErrValidation},
		{"wrong currency", AuthorizeRequest{InvoiceID: inv.ID, Method: domain.MethodCash, Amount: money.MustParse("10.00", money.EUR)}, domain.ErrValidation},
		{"unknown method", AuthorizeRequest{InvoiceID: inv.ID, Method: "CHEQUE", Amount: usd("10.00")}, domain.ErrValidation},
		{"unknown invoice", AuthorizeRequest{InvoiceID: "missing", Method: domain.MethodCash, Amount: usd("10.00")}, database.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := f.svc.AuthorizePayment(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	payments, err := f.svc.ListPayments(ctx, inv.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(payments) != 0 {
		t.Fatalf("rejected authorizations left %d payments", len(payments))
	}
	got, _ := f.svc.GetInvoice(ctx, inv.ID)
	if !got.BalanceDue.Equal(got.GrandTotal) || !got.AuthorizedHold.IsZero() {
		t.Fatalf("rejected authorizations moved the balance: %s hold %s", got.BalanceDue, got.AuthorizedHold)
	}
}

func TestConcurrentAuthorizationsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	inv := f.issue(t, "bk-1", "100.00")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.AuthorizePayment(context.Background(), AuthorizeRequest{
				InvoiceID: inv.ID,
				Method:    domain.MethodCreditCard,
				Amount:    usd("30.00"),
			})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 3 {
		t.Fatalf("accepted %d authorizations of 30.00 against 100.00, want 3", accepted)
	}
	got, _ := f.svc.GetInvoice(context.Background(), inv.ID)
	if got.BalanceDue.AmountMinor != 1000 {
		t.Fatalf("balance = %s, want 10.00", got.BalanceDue)
	}
	f.reconcile(t, inv.ID)
}

func TestVoidPaymentRestoresBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issue(t, "bk-1", "200.00")
	p := f.authorize(t, inv.ID, "150.00")

	p, after, err := f.svc.VoidPayment(ctx, p.ID)
	if err != nil {
		t.Fatalf("void: %v", err)
	}
	if p.Status != domain.PaymentVoided || !after.BalanceDue.Equal(after.GrandTotal) || !after.AuthorizedHold.IsZero() {
		t.Fatalf("after void: %s balance %s hold %s", p.Status, after.BalanceDue, after.AuthorizedHold)
	}
	if _, _, err := f.svc.CapturePayment(ctx, p.ID); !errors.Is(err, domain.ErrInvalidPaymentState) {
		t.Fatalf("capture after void: expected ErrInvalidPaymentState, got %v", err)
	}
	if _, _, err := f.svc.CapturePayment(ctx, "missing"); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("capture unknown payment: expected ErrNotFound, got %v", err)
	}
	f.reconcile(t, inv.ID)
}

func TestVoidInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issue(t, "bk-1", "200.00")
	p := f.authorize(t, inv.ID, "50.00")

	if _, err := f.svc.VoidInvoice(ctx, inv.ID); !errors.Is(err, domain.ErrInvoiceHasFunds) {
		t.Fatalf("void with a hold: expected ErrInvoiceHasFunds, got %v", err)
	}
	if _, _, err := f.svc.VoidPayment(ctx, p.ID); err != nil {
		t.Fatalf("void payment: %v", err)
	}

	voided, err := f.svc.VoidInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("void invoice: %v", err)
	}
	if voided.Status != domain.InvoiceVoid {
		t.Fatalf("status = %s", voided.Status)
	}
	if _, err := f.svc.VoidInvoice(ctx, inv.ID); err != nil {
		t.Fatalf("second void: %v", err)
	}
	if _, _, err := f.svc.AuthorizePayment(ctx, AuthorizeRequest{
		InvoiceID: inv.ID, Method: domain.MethodCash, Amount: usd("10.00"),
	}); !errors.Is(err, domain.ErrInvoiceNotOpen) {
		t.Fatalf("authorize on void invoice: expected ErrInvoiceNotOpen, got %v", err)
	}

	voids := 0
	for _, typ := range f.events.Types() {
		if typ == events.EventInvoiceVoided {
			voids++
		}
	}
	if voids != 1 {
		t.Fatalf("invoice.voided published %d times", voids)
	}
}
