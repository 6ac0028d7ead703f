package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"motelbooking/internal/billing"
	"motelbooking/internal/billing/gateway"
	"motelbooking/internal/billing/store"
	"motelbooking/internal/common/events"
	"motelbooking/internal/common/middleware"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type moneyBody struct {
	Amount      string `json:"amount"`
	AmountMinor int64  `json:"amount_minor"`
}

type invoiceBody struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	GrandTotal moneyBody `json:"grand_total"`
	BalanceDue moneyBody `json:"balance_due"`
}

type paymentBody struct {
	Payment struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		InitiatedBy string `json:"initiated_by"`
	} `json:"payment"`
	Invoice invoiceBody `json:"invoice"`
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := billing.NewService(store.NewMemory(), gateway.NewSimulated(), events.Nop{}, logger)
	return middleware.ActorExtractor(NewHandler(svc, logger).Routes())
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Actor-ID", "clerk-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding %s %s response %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, env
}

func decodeData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decoding data %s: %v", env.Data, err)
	}
}

func issue(t *testing.T, h http.Handler, bookingID string) invoiceBody {
	t.Helper()
	code, env := do(t, h, http.MethodPost, "/invoices", `{"booking_id":"`+bookingID+`","property_id":"prop-1",`+
		`"line_items":[{"description":"Room charge","quantity":3,"unit_amount":{"amount":"100.00","currency":"USD"}}],`+
		`"tax_rate_basis_points":1000}`)
	if code != http.StatusCreated {
		t.Fatalf("issue: expected 201, got %d (%+v)", code, env.Error)
	}
	var inv invoiceBody
	decodeData(t, env, &inv)
	return inv
}

func TestPaymentFlowOverHTTP(t *testing.T) {
	h := newTestRouter(t)
	inv := issue(t, h, "bk-1")
	if inv.GrandTotal.Amount != "330.00" || inv.Status != "ISSUED" {
		t.Fatalf("invoice = %+v", inv)
	}

	code, env := do(t, h, http.MethodGet, "/invoices?booking_id=bk-1", "")
	if code != http.StatusOK {
		t.Fatalf("by booking: expected 200, got %d", code)
	}

	code, env = do(t, h, http.MethodPost, "/payments", `{"invoice_id":"`+inv.ID+`","method":"CREDIT_CARD",`+
		`"amount":{"amount":"330.00","currency":"USD"},"payment_token":"tok_visa"}`)
	if code != http.StatusCreated {
		t.Fatalf("authorize: expected 201, got %d (%+v)", code, env.Error)
	}
	var authorized paymentBody
	decodeData(t, env, &authorized)
	if authorized.Payment.Status != "AUTHORIZED" || authorized.Payment.InitiatedBy != "clerk-7" || authorized.Invoice.BalanceDue.AmountMinor != 0 {
		t.Fatalf("authorized = %+v", authorized)
	}

	code, env = do(t, h, http.MethodPost, "/payments/"+authorized.Payment.ID+"/capture", "")
	if code != http.StatusOK {
		t.Fatalf("capture: expected 200, got %d (%+v)", code, env.Error)
	}
	var captured paymentBody
	decodeData(t, env, &captured)
	if captured.Payment.Status != "CAPTURED" || captured.Invoice.Status != "PAID" {
		t.Fatalf("captured = %+v", captured)
	}

	code, env = do(t, h, http.MethodPost, "/invoices/"+inv.ID+"/void", "")
	if code != http.StatusConflict || env.Error.Code != "INVALID_STATE" {
		t.Fatalf("void paid invoice: expected 409 INVALID_STATE, got %d (%+v)", code, env.Error)
	}

	code, env = do(t, h, http.MethodPost, "/payments/"+authorized.Payment.ID+"/refund", `{"amount":{"amount":"30.00","currency":"USD"}}`)
	if code != http.StatusOK {
		t.Fatalf("partial refund: expected 200, got %d (%+v)", code, env.Error)
	}
	var refunded paymentBody
	decodeData(t, env, &refunded)
	if refunded.Invoice.Status != "PARTIALLY_PAID" || refunded.Invoice.BalanceDue.Amount != "30.00" {
		t.Fatalf("refunded = %+v", refunded)
	}

	code, env = do(t, h, http.MethodPost, "/payments/"+authorized.Payment.ID+"/refund", "")
	if code != http.StatusOK {
		t.Fatalf("full refund: expected 200, got %d (%+v)", code, env.Error)
	}
	decodeData(t, env, &refunded)
	if refunded.Payment.Status != "REFUNDED" || refunded.Invoice.Status != "ISSUED" {
		t.Fatalf("refunded = %+v", refunded)
	}

	code, env = do(t, h, http.MethodGet, "/invoices/"+inv.ID+"/reconcile", "")
	if code != http.StatusOK {
		t.Fatalf("reconcile: expected 200, got %d", code)
	}
	var rec struct {
		Consistent bool `json:"consistent"`
	}
	decodeData(t, env, &rec)
	if !rec.Consistent {
		t.Fatal("reconcile reported drift")
	}

	code, env = do(t, h, http.MethodGet, "/invoices/"+inv.ID+"/payments", "")
	if code != http.StatusOK {
		t.Fatalf("list payments: expected 200, got %d", code)
	}
	var payments []json.RawMessage
	decodeData(t, env, &payments)
	if len(payments) != 1 {
		t.Fatalf("payments = %d", len(payments))
	}
}

func TestErrorResponses(t *testing.T) {
	h := newTestRouter(t)
	inv := issue(t, h, "bk-1")

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"declined", http.MethodPost, "/payments", `{"invoice_id":"` + inv.ID + `","method":"CREDIT_CARD","amount":{"amount":"10.00","currency":"USD"},"payment_token":"tok_decline"}`, http.StatusPaymentRequired, "PAYMENT_DECLINED"},
		{"overdraw", http.MethodPost, "/payments", `{"invoice_id":"` + inv.ID + `","method":"CASH","amount":{"amount":"330.01","currency":"USD"}}`, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
		{"missing method", http.MethodPost, "/payments", `{"invoice_id":"` + inv.ID + `","amount":{"amount":"10.00","currency":"USD"}}`, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"malformed body", http.MethodPost, "/payments", `{"invoice_id":`, http.StatusBadRequest, "BAD_REQUEST"},
		{"duplicate invoice", http.MethodPost, "/invoices", `{"booking_id":"bk-1","property_id":"prop-1","line_items":[{"description":"x","quantity":1,"unit_amount":{"amount":"1.00","currency":"USD"}}]}`, http.StatusConflict, "CONFLICT"},
		{"unknown invoice", http.MethodGet, "/invoices/missing", "", http.StatusNotFound, "NOT_FOUND"},
		{"unknown payment", http.MethodPost, "/payments/missing/capture", "", http.StatusNotFound, "NOT_FOUND"},
		{"booking id required", http.MethodGet, "/invoices", "", http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, env := do(t, h, tc.method, tc.path, tc.body)
			if code != tc.status || env.Error == nil || env.Error.Code != tc.code {
				t.Fatalf("expected %d %s, got %d (%+v)", tc.status, tc.code, code, env.Error)
			}
		})
	}
}
