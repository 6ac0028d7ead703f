package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/nats-io/nats.go"

	"motelbooking/internal/billing/domain"
	"motelbooking/internal/common/money"
)

func TestSimulatedLifecycle(t *testing.T) {
	ctx := context.Background()
	g := NewSimulated()
	amount := money.MustParse("300.00", money.USD)

	ref, err := g.Authorize(ctx, AuthorizeRequest{PaymentID: "p1", Amount: amount, Token: "tok_visa"})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !strings.HasPrefix(ref, "AUTH-") || len(ref) != len("AUTH-")+8 {
		t.Fatalf("unexpected reference %q", ref)
	}
	if err := g.Capture(ctx, ref, amount); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := g.Void(ctx, ref); err == nil {
		t.Fatal("void after capture should fail")
	}
	partial := RefundRequest{
		PaymentID:     "p1",
		Ref:           ref,
		Amount:        money.MustParse("100.00", money.USD),
		RefundedTotal: money.MustParse("100.00", money.USD),
	}
	if err := g.Refund(ctx, partial); err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	// A resent refund carries the same key and moves nothing.
	if err := g.Refund(ctx, partial); err != nil {
		t.Fatalf("resent refund: %v", err)
	}
	rest := RefundRequest{PaymentID: "p1", Ref: ref, Amount: money.MustParse("200.00", money.USD), RefundedTotal: amount}
	if err := g.Refund(ctx, rest); err != nil {
		t.Fatalf("refund of the remainder: %v", err)
	}
	over := RefundRequest{PaymentID: "p1", Ref: ref, Amount: money.MustParse("0.01", money.USD), RefundedTotal: money.MustParse("300.01", money.USD)}
	if err := g.Refund(ctx, over); err == nil {
		t.Fatal("refund beyond the captured amount should fail")
	}
}

func TestRefundIdempotencyKey(t *testing.T) {
	first := RefundRequest{PaymentID: "p1", Amount: money.MustParse("30.00", money.USD), RefundedTotal: money.MustParse("30.00", money.USD)}
	second := RefundRequest{PaymentID: "p1", Amount: money.MustParse("30.00", money.USD), RefundedTotal: money.MustParse("60.00", money.USD)}

	if first.IdempotencyKey() != "refund-p1-3000" {
		t.Fatalf("key = %q", first.IdempotencyKey())
	}
	if first.IdempotencyKey() == second.IdempotencyKey() {
		t.Fatal("two partial refunds of the same amount must not share a key")
	}
}

func TestSimulatedDecline(t *testing.T) {
	g := NewSimulated()
	_, err := g.Authorize(context.Background(), AuthorizeRequest{
		PaymentID: "p1",
		Amount:    money.MustParse("10.00", money.USD),
		Token:     DeclineTokenPrefix + "_insufficient",
	})
	if !errors.Is(err, domain.ErrGatewayDeclined) {
		t.Fatalf("expected ErrGatewayDeclined, got %v", err)
	}
}

type fakeRequester struct {
	subjects []string
	replies  map[string]interface{}
}

func (f *fakeRequester) RequestWithContext(_ context.Context, subj string, _ []byte) (*nats.Msg, error) {
	f.subjects = append(f.subjects, subj)
	reply, ok := f.replies[subj]
	if !ok {
		return nil, nats.ErrNoResponders
	}
	data, _ := json.Marshal(reply)
	return &nats.Msg{Subject: subj, Data: data}, nil
}

func TestAcquiringRoutesRequests(t *testing.T) {
	ctx := context.Background()
	nc := &fakeRequester{replies: map[string]interface{}{
		"acquiring.authorize": acquiringAuthorizeReply{Success: true, Approved: true, AuthCode: "123456"},
		"acquiring.capture":   acquiringReply{Success: true, Status: "CAPTURED"},
		"acquiring.void":      acquiringReply{Success: false, Error: "already captured"},
	}}
	g := NewAcquiring(nc, "acquiring", "merchant-1", slog.New(slog.NewTextHandler(io.Discard, nil)))
	amount := money.MustParse("50.00", money.USD)

	ref, err := g.Authorize(ctx, AuthorizeRequest{PaymentID: "p1", Amount: amount, Token: "tok_1234567890"})
	if err != nil || !strings.HasPrefix(ref, "TXN-") {
		t.Fatalf("authorize: %q %v", ref, err)
	}
	if err := g.Capture(ctx, ref, amount); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := g.Void(ctx, ref); err == nil || errors.Is(err, domain.ErrGatewayDeclined) {
		t.Fatalf("a failed void is an error but not a decline, got %v", err)
	}
	if err := g.Refund(ctx, RefundRequest{PaymentID: "p1", Ref: ref, Amount: amount, RefundedTotal: amount}); err == nil {
		t.Fatal("refund without responders should fail")
	}

	want := []string{"acquiring.authorize", "acquiring.capture", "acquiring.void", "acquiring.refund"}
	if strings.Join(nc.subjects, ",") != strings.Join(want, ",") {
		t.Fatalf("subjects %v, want %v", nc.subjects, want)
	}
}

func TestAcquiringDecline(t *testing.T) {
	nc := &fakeRequester{replies: map[string]interface{}{
		"acquiring.authorize": acquiringAuthorizeReply{Success: true, Approved: false, ResponseCode: "51", ResponseMessage: "Insufficient funds"},
	}}
	g := NewAcquiring(nc, "acquiring", "merchant-1", slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := g.Authorize(context.Background(), AuthorizeRequest{PaymentID: "p1", Amount: money.MustParse("50.00", money.USD)})
	if !errors.Is(err, domain.ErrGatewayDeclined) {
		t.Fatalf("expected ErrGatewayDeclined, got %v", err)
	}
}

func TestMaskToken(t *testing.T) {
	if got := maskToken("tok_1234567890"); got != "tok_****7890" {
		t.Fatalf("maskToken = %q", got)
	}
	if got := maskToken("short"); got != "****" {
		t.Fatalf("maskToken short = %q", got)
	}
}
