package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"motelbooking/internal/common/money"
)

// Requester is the request-reply half of a NATS connection
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

type acquiringAuthorize struct {
	TransactionID string            `json:"transactionId"`
	MerchantID    string            `json:"merchantId"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	CardToken     string            `json:"cardToken"`
	EntryMode     string            `json:"entryMode"`
	Capture       bool              `json:"capture"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type acquiringAuthorizeReply struct {
	Success         bool   `json:"success"`
	Approved        bool   `json:"approved"`
	AuthCode        string `json:"authCode"`
	ResponseCode    string `json:"responseCode"`
	ResponseMessage string `json:"responseMessage"`
	Error           string `json:"error,omitempty"`
}

type acquiringTxn struct {
	TransactionID  string `json:"transactionId"`
	Amount         int64  `json:"amount,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type acquiringReply struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Acquiring forwards card operations to an acquiring service over NATS
// request-reply on <prefix>.authorize, .capture, .refund and .void.
type Acquiring struct {
	nc         Requester
	prefix     string
	merchantID string
	logger     *slog.Logger
}

// NewAcquiring creates an acquiring gateway
func NewAcquiring(nc Requester, prefix, merchantID string, logger *slog.Logger) *Acquiring {
	return &Acquiring{nc: nc, prefix: prefix, merchantID: merchantID, logger: logger}
}

func (a *Acquiring) Name() string { return "acquiring" }

func (a *Acquiring) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	txnID := reference("TXN")
	a.logger.Info("authorizing card",
		"payment_id", req.PaymentID,
		"transaction_id", txnID,
		"amount", req.Amount.StringFixed(),
		"card_token", maskToken(req.Token),
	)

	var reply acquiringAuthorizeReply
	err := a.request(ctx, "authorize", acquiringAuthorize{
		TransactionID: txnID,
		MerchantID:    a.merchantID,
		Amount:        req.Amount.AmountMinor,
		Currency:      string(req.Amount.Currency),
		CardToken:     req.Token,
		EntryMode:     "ECOMMERCE",
		Metadata: map[string]string{
			"payment_id": req.PaymentID,
			"invoice_id": req.InvoiceID,
		},
	}, &reply)
	if err != nil {
		return "", err
	}
	if !reply.Success {
		return "", fmt.Errorf("acquiring authorize failed: %s", reply.Error)
	}
	if !reply.Approved {
		return "", declined("%s - %s", reply.ResponseCode, reply.ResponseMessage)
	}
	return txnID, nil
}

func (a *Acquiring) Capture(ctx context.Context, ref string, amount money.Money) error {
	return a.settle(ctx, "capture", acquiringTxn{TransactionID: ref, Amount: amount.AmountMinor})
}

func (a *Acquiring) Refund(ctx context.Context, req RefundRequest) error {
	return a.settle(ctx, "refund", acquiringTxn{
		TransactionID:  req.Ref,
		Amount:         req.Amount.AmountMinor,
		IdempotencyKey: req.IdempotencyKey(),
	})
}

func (a *Acquiring) Void(ctx context.Context, ref string) error {
	return a.settle(ctx, "void", acquiringTxn{TransactionID: ref})
}

func (a *Acquiring) settle(ctx context.Context, op string, req acquiringTxn) error {
	var reply acquiringReply
	if err := a.request(ctx, op, req, &reply); err != nil {
		return err
	}
	if !reply.Success {
		return fmt.Errorf("acquiring %s failed: %s", op, reply.Error)
	}
	a.logger.Info("acquiring "+op+" completed", "transaction_id", req.TransactionID, "status", reply.Status)
	return nil
}

func (a *Acquiring) request(ctx context.Context, op string, req, reply interface{}) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}
	msg, err := a.nc.RequestWithContext(ctx, a.prefix+"."+op, data)
	if err != nil {
		return fmt.Errorf("nats %s request: %w", op, err)
	}
	if err := json.Unmarshal(msg.Data, reply); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", op, err)
	}
	return nil
}

func maskToken(token string) string {
	if len(token) > 8 {
		return token[:4] + "****" + token[len(token)-4:]
	}
	return "****"
}
