package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Kushmakov/rental-marketplace-iubv3k-sub004/services/payment-service/internal/payment"
)

const testWebhookSecret = "whsec_test_secret"

type recorded struct {
	method, path, idempotencyKey string
	form                         map[string]string
}

type stripeStub struct {
	t      *testing.T
	mu     sync.Mutex
	calls  []recorded
	routes map[string]func(w http.ResponseWriter, r *http.Request)
}

func (s *stripeStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	require.NoError(s.t, r.ParseForm())
	rec := recorded{method: r.Method, path: r.URL.Path, idempotencyKey: r.Header.Get("Idempotency-Key"), form: map[string]string{}}
	for k, v := range r.Form {
		rec.form[k] = v[0]
	}
	s.mu.Lock()
	s.calls = append(s.calls, rec)
	s.mu.Unlock()

	route, ok := s.routes[r.Method+" "+r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"no route"}}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	route(w, r)
}

func respond(status int, body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}
}

func newTestGateway(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) (*Gateway, *stripeStub) {
	t.Helper()
	stub := &stripeStub{t: t, routes: routes}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	g, err := NewGateway(Config{SecretKey: "sk_test_123", WebhookSecret: testWebhookSecret, BackendURL: srv.URL}, nil)
	require.NoError(t, err)
	return g, stub
}

func rentCharge() payment.ChargeRequest {
	return payment.ChargeRequest{
		Amount:         payment.Money{Amount: 240000, Currency: "USD"},
		Customer:       "cus_1",
		Method:         "pm_1",
		IdempotencyKey: "txn_tx-1_attempt_1",
		Description:    "RENT payment for property prop-17",
		Metadata:       map[string]string{payment.MetaTransactionID: "tx-1", "note": "line\nbreak"},
	}
}

func TestNewGateway_RequiresSecrets(t *testing.T) {
	_, err := NewGateway(Config{WebhookSecret: "whsec"}, nil)
	assert.Error(t, err)
	_, err = NewGateway(Config{SecretKey: "sk_test"}, nil)
	assert.Error(t, err)
}

func TestCharge_SendsOffSessionIntent(t *testing.T) {
	g, stub := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /v1/payment_intents": respond(http.StatusOK, `{"id":"pi_123","object":"payment_intent","status":"succeeded"}`),
	})

	res, err := g.Charge(context.Background(), rentCharge())
	require.NoError(t, err)
	assert.Equal(t, &payment.ChargeResult{ExternalRef: "pi_123", Status: payment.ChargeSucceeded}, res)

	require.Len(t, stub.calls, 1)
	call := stub.calls[0]
	assert.Equal(t, "txn_tx-1_attempt_1", call.idempotencyKey)
	assert.Equal(t, "240000", call.form["amount"])
	assert.Equal(t, "usd", call.form["currency"])
	assert.Equal(t, "true", call.form["confirm"])
	assert.Equal(t, "true", call.form["off_session"])
	assert.Equal(t, "tx-1", call.form["metadata[transaction_id]"])
	assert.Equal(t, "linebreak", call.form["metadata[note]"])
}

func TestCharge_LogsMaskedMetadata(t *testing.T) {
	g, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /v1/payment_intents": respond(http.StatusOK, `{"id":"pi_123","object":"payment_intent","status":"succeeded"}`),
	})
	core, logs := observer.New(zapcore.DebugLevel)
	g.logger = zap.New(core)

	req := rentCharge()
	req.Metadata["payer_email"] = "jane.doe@example.com"
	_, err := g.Charge(context.Background(), req)
	require.NoError(t, err)

	entries := logs.FilterMessage("[Stripe] creating payment intent").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "****us_1", fields["customer_ref"])
	md, ok := fields["metadata"].(map[string]string)
	require.True(t, ok, "metadata is logged as a map")
	assert.Equal(t, "j******e@example.com", md["payer_email"])
	assert.Equal(t, "tx-1", md[payment.MetaTransactionID])
}

func TestCharge_IntentStatuses(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		want      payment.ChargeStatus
		wantCode  string
		wantError bool
	}{
		{name: "bank debit settles later", body: `{"id":"pi_1","status":"processing"}`, want: payment.ChargeProcessing},
		{name: "3ds cannot complete off-session", body: `{"id":"pi_1","status":"requires_action"}`, wantError: true, wantCode: payment.CodeRequiresAction},
		{
			name:      "declined intent",
			body:      `{"id":"pi_1","status":"requires_payment_method","last_payment_error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}`,
			wantError: true,
			wantCode:  payment.CodeInsufficientFunds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
				"POST /v1/payment_intents": respond(http.StatusOK, tt.body),
			})
			res, err := g.Charge(context.Background(), rentCharge())
			if tt.wantError {
				require.ErrorIs(t, err, payment.ErrProcessorRejected)
				assert.Equal(t, tt.wantCode, payment.ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
		})
	}
}

func TestCharge_MapsStripeErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  error
		wantCode  string
		retryable bool
	}{
		{
			name:     "insufficient funds",
			status:   http.StatusPaymentRequired,
			body:     `{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}`,
			wantKind: payment.ErrProcessorRejected,
			wantCode: payment.CodeInsufficientFunds,
		},
		{
			name:     "expired card",
			status:   http.StatusPaymentRequired,
			body:     `{"error":{"type":"card_error","code":"expired_card","message":"Your card has expired."}}`,
			wantKind: payment.ErrProcessorRejected,
			wantCode: payment.CodeExpiredCard,
		},
		{
			name:      "stripe outage",
			status:    http.StatusInternalServerError,
			body:      `{"error":{"type":"api_error","message":"Something went wrong."}}`,
			wantKind:  payment.ErrProcessorUnavailable,
			wantCode:  payment.CodeProcessorError,
			retryable: true,
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			body:      `{"error":{"type":"invalid_request_error","code":"rate_limit","message":"Too many requests."}}`,
			wantKind:  payment.ErrProcessorUnavailable,
			wantCode:  payment.CodeRateLimited,
			retryable: true,
		},
		{
			name:     "idempotency key reused with other parameters",
			status:   http.StatusBadRequest,
			body:     `{"error":{"type":"idempotency_error","message":"Keys for idempotent requests can only be used with the same parameters."}}`,
			wantKind: payment.ErrProcessorRejected,
			wantCode: payment.CodeIdempotencyCollision,
		},
		{
			name:     "bad request",
			status:   http.StatusBadRequest,
			body:     `{"error":{"type":"invalid_request_error","code":"parameter_invalid_integer","message":"Invalid integer."}}`,
			wantKind: payment.ErrProcessorRejected,
			wantCode: payment.CodeInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
				"POST /v1/payment_intents": respond(tt.status, tt.body),
			})
			_, err := g.Charge(context.Background(), rentCharge())
			require.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.wantCode, payment.ErrorCode(err))
			assert.Equal(t, tt.retryable, payment.IsRetryAbleError(err))
		})
	}
}

func TestMapStripeError_TransportFailures(t *testing.T) {
	err := mapStripeError(fmt.Errorf("post: %w", context.DeadlineExceeded))
	assert.Equal(t, payment.CodeTimeout, payment.ErrorCode(err))
	assert.True(t, payment.IsRetryAbleError(err))

	err = mapStripeError(errors.New("connection reset by peer"))
	assert.Equal(t, payment.CodeNetwork, payment.ErrorCode(err))
	assert.True(t, payment.IsRetryAbleError(err))
}

func TestCharge_ValidatesBeforeCallingOut(t *testing.T) {
	g, stub := newTestGateway(t, nil)
	req := rentCharge()
	req.Method = ""
	_, err := g.Charge(context.Background(), req)
	assert.ErrorIs(t, err, payment.ErrValidation)
	assert.Empty(t, stub.calls)
}

func TestCreateCustomer(t *testing.T) {
	profile := payment.CustomerProfile{PayerID: "payer-42", Email: "jane.doe@example.com", Name: "Jane Doe"}

	t.Run("reuses the customer tagged with the payer id", func(t *testing.T) {
		g, stub := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
			"GET /v1/customers/search": respond(http.StatusOK, `{"object":"search_result","has_more":false,"data":[{"id":"cus_existing","object":"customer"}]}`),
		})
		ref, err := g.CreateCustomer(context.Background(), profile)
		require.NoError(t, err)
		assert.Equal(t, payment.CustomerRef("cus_existing"), ref)
		require.Len(t, stub.calls, 1)
		assert.Equal(t, "metadata['payer_id']:'payer-42'", stub.calls[0].form["query"])
	})

	t.Run("creates with an idempotency key", func(t *testing.T) {
		g, stub := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
			"GET /v1/customers/search": respond(http.StatusOK, `{"object":"search_result","has_more":false,"data":[]}`),
			"POST /v1/customers":       respond(http.StatusOK, `{"id":"cus_new","object":"customer"}`),
		})
		ref, err := g.CreateCustomer(context.Background(), profile)
		require.NoError(t, err)
		assert.Equal(t, payment.CustomerRef("cus_new"), ref)
		require.Len(t, stub.calls, 2)
		create := stub.calls[1]
		assert.True(t, strings.HasPrefix(create.idempotencyKey, "create_customer_"))
		assert.Equal(t, "payer-42", create.form["metadata[payer_id]"])
		assert.Equal(t, "jane.doe@example.com", create.form["email"])
	})

	t.Run("invalid email is rejected", func(t *testing.T) {
		g, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
			"GET /v1/customers/search": respond(http.StatusOK, `{"object":"search_result","has_more":false,"data":[]}`),
			"POST /v1/customers":       respond(http.StatusBadRequest, `{"error":{"type":"invalid_request_error","code":"email_invalid","message":"Invalid email address"}}`),
		})
		_, err := g.CreateCustomer(context.Background(), profile)
		assert.ErrorIs(t, err, payment.ErrProcessorRejected)
	})
}

func TestAttachPaymentMethod(t *testing.T) {
	card := payment.MethodSpec{Type: payment.MethodCard, Token: "pm_card_visa"}

	t.Run("attached", func(t *testing.T) {
		g, stub := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
			"POST /v1/payment_methods/pm_card_visa/attach": respond(http.StatusOK, `{"id":"pm_card_visa","object":"payment_method","type":"card"}`),
		})
		ref, err := g.AttachPaymentMethod(context.Background(), "cus_1", card)
		require.NoError(t, err)
		assert.Equal(t, payment.MethodRef("pm_card_visa"), ref)
		assert.Equal(t, "cus_1", stub.calls[0].form["customer"])
	})

	t.Run("unknown token", func(t *testing.T) {
		g, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
			"POST /v1/payment_methods/pm_card_visa/attach": respond(http.StatusNotFound, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such PaymentMethod"}}`),
		})
		_, err := g.AttachPaymentMethod(context.Background(), "cus_1", card)
		require.ErrorIs(t, err, payment.ErrInvalidPaymentMethod)
		assert.False(t, payment.IsRetryAbleError(err))
	})

	t.Run("type mismatch", func(t *testing.T) {
		g, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
			"POST /v1/payment_methods/pm_card_visa/attach": respond(http.StatusOK, `{"id":"pm_card_visa","object":"payment_method","type":"us_bank_account"}`),
		})
		_, err := g.AttachPaymentMethod(context.Background(), "cus_1", card)
		assert.ErrorIs(t, err, payment.ErrInvalidPaymentMethod)
	})

	t.Run("malformed spec never calls out", func(t *testing.T) {
		g, stub := newTestGateway(t, nil)
		_, err := g.AttachPaymentMethod(context.Background(), "cus_1", payment.MethodSpec{Type: "paypal", Token: "pm_x"})
		assert.ErrorIs(t, err, payment.ErrInvalidPaymentMethod)
		assert.Empty(t, stub.calls)
	})
}

func TestRefund(t *testing.T) {
	g, stub := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /v1/refunds": respond(http.StatusOK, `{"id":"re_1","object":"refund","status":"succeeded"}`),
	})
	res, err := g.Refund(context.Background(), payment.RefundRequest{
		ChargeRef:      "pi_123",
		Amount:         payment.Money{Amount: 100000, Currency: "USD"},
		Reason:         payment.RefundRequestedByCustomer,
		IdempotencyKey: "txn_re-1_attempt_1",
	})
	require.NoError(t, err)
	assert.Equal(t, &payment.RefundResult{ExternalRef: "re_1", Status: payment.ChargeSucceeded}, res)
	call := stub.calls[0]
	assert.Equal(t, "pi_123", call.form["payment_intent"])
	assert.Equal(t, "100000", call.form["amount"])
	assert.Equal(t, "requested_by_customer", call.form["reason"])
	assert.Equal(t, "txn_re-1_attempt_1", call.idempotencyKey)
}

func TestRefund_FailedStatusIsRejected(t *testing.T) {
	g, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /v1/refunds": respond(http.StatusOK, `{"id":"re_1","object":"refund","status":"failed","failure_reason":"expired_or_canceled_card"}`),
	})
	_, err := g.Refund(context.Background(), payment.RefundRequest{ChargeRef: "pi_123", Amount: payment.Money{Amount: 100, Currency: "USD"}})
	require.ErrorIs(t, err, payment.ErrProcessorRejected)
	assert.Equal(t, "expired_or_canceled_card", payment.ErrorCode(err))
}

func TestQueryStatus(t *testing.T) {
	t.Run("by external ref", func(t *testing.T) {
		g, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
			"GET /v1/payment_intents/pi_1": respond(http.StatusOK, `{"id":"pi_1","object":"payment_intent","status":"succeeded"}`),
		})
		res, err := g.QueryStatus(context.Background(), payment.StatusQuery{TransactionID: "tx-1", Type: payment.TxCapture, ExternalRef: "pi_1"})
		require.NoError(t, err)
		assert.Equal(t, &payment.StatusResult{ExternalRef: "pi_1", Status: payment.ProcessorSucceeded}, res)
	})

	t.Run("unknown ref", func(t *testing.T) {
		g, _ := newTestGateway(t, nil)
		res, err := g.QueryStatus(context.Background(), payment.StatusQuery{TransactionID: "tx-1", Type: payment.TxCapture, ExternalRef: "pi_gone"})
		require.NoError(t, err)
		assert.Equal(t, payment.ProcessorNotFound, res.Status)
	})

	t.Run("searches by transaction id when the ref was never recorded", func(t *testing.T) {
		g, stub := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
			"GET /v1/payment_intents/search": respond(http.StatusOK, `{"object":"search_result","has_more":false,"data":[
				{"id":"pi_a1","object":"payment_intent","status":"requires_payment_method","created":100},
				{"id":"pi_a2","object":"payment_intent","status":"succeeded","created":200}
			]}`),
		})
		res, err := g.QueryStatus(context.Background(), payment.StatusQuery{TransactionID: "tx-1", Type: payment.TxCapture})
		require.NoError(t, err)
		assert.Equal(t, &payment.StatusResult{ExternalRef: "pi_a2", Status: payment.ProcessorSucceeded}, res)
		assert.Equal(t, "metadata['transaction_id']:'tx-1'", stub.calls[0].form["query"])
	})

	t.Run("declined intent", func(t *testing.T) {
		g, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
			"GET /v1/payment_intents/pi_1": respond(http.StatusOK, `{"id":"pi_1","object":"payment_intent","status":"requires_payment_method","last_payment_error":{"type":"card_error","code":"card_declined","message":"declined"}}`),
		})
		res, err := g.QueryStatus(context.Background(), payment.StatusQuery{Type: payment.TxCapture, ExternalRef: "pi_1"})
		require.NoError(t, err)
		assert.Equal(t, payment.ProcessorFailed, res.Status)
		assert.Equal(t, payment.CodeCardDeclined, res.ErrorCode)
	})

	t.Run("refund found through its parent charge", func(t *testing.T) {
		g, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
			"GET /v1/refunds": respond(http.StatusOK, `{"object":"list","has_more":false,"data":[
				{"id":"re_other","object":"refund","status":"succeeded","metadata":{"transaction_id":"tx-0"}},
				{"id":"re_2","object":"refund","status":"pending","metadata":{"transaction_id":"tx-2"}}
			]}`),
		})
		res, err := g.QueryStatus(context.Background(), payment.StatusQuery{TransactionID: "tx-2", Type: payment.TxRefund, ParentExternalRef: "pi_1"})
		require.NoError(t, err)
		assert.Equal(t, &payment.StatusResult{ExternalRef: "re_2", Status: payment.ProcessorProcessing}, res)
	})

	t.Run("outage is an error, not an answer", func(t *testing.T) {
		g, _ := newTestGateway(t, map[string]func(http.ResponseWriter, *http.Request){
			"GET /v1/payment_intents/pi_1": respond(http.StatusServiceUnavailable, `{"error":{"type":"api_error","message":"unavailable"}}`),
		})
		_, err := g.QueryStatus(context.Background(), payment.StatusQuery{Type: payment.TxCapture, ExternalRef: "pi_1"})
		assert.ErrorIs(t, err, payment.ErrProcessorUnavailable)
	})
}

func signed(t *testing.T, body string) string {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: []byte(body), Secret: testWebhookSecret})
	return sp.Header
}

func TestVerifyWebhookSignature(t *testing.T) {
	g, _ := newTestGateway(t, nil)

	t.Run("charge succeeded carries our metadata", func(t *testing.T) {
		body := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","created":1709283600,
			"data":{"object":{"id":"pi_1","object":"payment_intent","status":"succeeded","metadata":{"transaction_id":"tx-1","attempt":"2"}}}}`
		ev, err := g.VerifyWebhookSignature([]byte(body), signed(t, body))
		require.NoError(t, err)
		require.IsType(t, &payment.ChargeSucceededEvent{}, ev)
		meta := ev.Meta()
		assert.Equal(t, "evt_1", meta.EventID)
		assert.Equal(t, Provider, meta.Provider)
		assert.Equal(t, "tx-1", meta.TransactionID)
		assert.Equal(t, 2, meta.Attempt)
		assert.Equal(t, "pi_1", meta.ExternalRef)
		assert.Equal(t, int64(1709283600), meta.OccurredAt.Unix())
	})

	t.Run("payment failed", func(t *testing.T) {
		body := `{"id":"evt_2","object":"event","type":"payment_intent.payment_failed","created":1709283600,
			"data":{"object":{"id":"pi_1","object":"payment_intent","status":"requires_payment_method",
			"last_payment_error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Insufficient funds"}}}}`
		ev, err := g.VerifyWebhookSignature([]byte(body), signed(t, body))
		require.NoError(t, err)
		failed, ok := ev.(*payment.ChargeFailedEvent)
		require.True(t, ok)
		assert.Equal(t, payment.CodeInsufficientFunds, failed.ErrorCode)
		assert.Equal(t, "Insufficient funds", failed.ErrorMessage)
	})

	t.Run("refund updated", func(t *testing.T) {
		body := `{"id":"evt_3","object":"event","type":"refund.updated","created":1709283600,
			"data":{"object":{"id":"re_1","object":"refund","status":"succeeded","metadata":{"transaction_id":"tx-9"}}}}`
		ev, err := g.VerifyWebhookSignature([]byte(body), signed(t, body))
		require.NoError(t, err)
		require.IsType(t, &payment.RefundSucceededEvent{}, ev)
		assert.Equal(t, "tx-9", ev.Meta().TransactionID)
	})

	t.Run("dispute", func(t *testing.T) {
		body := `{"id":"evt_4","object":"event","type":"charge.dispute.created","created":1709283600,
			"data":{"object":{"id":"dp_1","object":"dispute","amount":240000,"currency":"usd","reason":"fraudulent","payment_intent":"pi_1"}}}`
		ev, err := g.VerifyWebhookSignature([]byte(body), signed(t, body))
		require.NoError(t, err)
		d, ok := ev.(*payment.ChargeDisputedEvent)
		require.True(t, ok)
		assert.Equal(t, "pi_1", d.ExternalRef)
		assert.Equal(t, "dp_1", d.DisputeID)
		assert.Equal(t, payment.Money{Amount: 240000, Currency: "USD"}, d.Amount)
		assert.Equal(t, "fraudulent", d.Reason)
	})

	t.Run("dispute won", func(t *testing.T) {
		body := `{"id":"evt_4b","object":"event","type":"charge.dispute.funds_reinstated","created":1709283600,
			"data":{"object":{"id":"dp_1","object":"dispute","amount":50000,"currency":"usd","status":"won","payment_intent":"pi_1"}}}`
		ev, err := g.VerifyWebhookSignature([]byte(body), signed(t, body))
		require.NoError(t, err)
		d, ok := ev.(*payment.DisputeFundsReinstatedEvent)
		require.True(t, ok)
		assert.Equal(t, "dp_1", d.ExternalRef)
		assert.Equal(t, payment.Money{Amount: 50000, Currency: "USD"}, d.Amount)
	})

	t.Run("uninteresting event", func(t *testing.T) {
		body := `{"id":"evt_5","object":"event","type":"customer.updated","created":1709283600,"data":{"object":{"id":"cus_1","object":"customer"}}}`
		ev, err := g.VerifyWebhookSignature([]byte(body), signed(t, body))
		require.NoError(t, err)
		ignored, ok := ev.(*payment.IgnoredEvent)
		require.True(t, ok)
		assert.Equal(t, "customer.updated", ignored.Type)
	})

	t.Run("bad signature", func(t *testing.T) {
		body := `{"id":"evt_6","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`
		_, err := g.VerifyWebhookSignature([]byte(body), "t=1,v1=deadbeef")
		assert.ErrorIs(t, err, payment.ErrInvalidSignature)
	})

	t.Run("tampered payload", func(t *testing.T) {
		body := `{"id":"evt_7","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`
		header := signed(t, body)
		_, err := g.VerifyWebhookSignature([]byte(strings.Replace(body, "evt_7", "evt_8", 1)), header)
		assert.ErrorIs(t, err, payment.ErrInvalidSignature)
	})
}
