package moov

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/tontine/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/tontine/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRequestPayment(t *testing.T) {
	var got paymentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/request", r.URL.Path)
		assert.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transactionId":"MOOV-77","status":"PENDING"}`))
	}))
	defer srv.Close()

	adapter, err := NewAdapter(Config{BaseURL: srv.URL, APIKey: "api-key", Timeout: time.Second}, zap.NewNop())
	require.NoError(t, err)

	resp, err := adapter.RequestPayment(context.Background(), paymentdomain.PaymentRequest{
		TransactionID: "TXN02",
		Amount:        200,
		Phone:         "+22996000000",
	})
	require.NoError(t, err)
	assert.Equal(t, "MOOV-77", resp.ExternalID)
	assert.Equal(t, int64(200), got.Amount)
	assert.Equal(t, "TXN02", got.Reference)
	assert.Equal(t, "+22996000000", got.Subscriber)
	assert.Equal(t, "XOF", got.Currency)
}

func TestRequestPaymentWithoutTransactionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"PENDING"}`))
	}))
	defer srv.Close()

	adapter, err := NewAdapter(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	_, err = adapter.RequestPayment(context.Background(), paymentdomain.PaymentRequest{TransactionID: "TXN", Amount: 1, Phone: "1"})
	require.Error(t, err)
}

func TestParseWebhook(t *testing.T) {
	adapter, err := NewAdapter(Config{BaseURL: "http://moov.invalid"}, zap.NewNop())
	require.NoError(t, err)

	evt, err := adapter.ParseWebhook([]byte(`{"transactionId":"MOOV-1","status":"SUCCESS"}`))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeSuccess, evt.Outcome)

	evt, err = adapter.ParseWebhook([]byte(`{"transactionId":"MOOV-2","status":"FAILED","message":"insufficient balance"}`))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeFailure, evt.Outcome)
	assert.Equal(t, "insufficient balance", evt.Reason)

	_, err = adapter.ParseWebhook([]byte(`not json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func TestVerifyWithoutSecretAcceptsAll(t *testing.T) {
	adapter, err := NewAdapter(Config{BaseURL: "http://moov.invalid"}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, adapter.Verify([]byte(`{}`), http.Header{}))

	signed, err := NewAdapter(Config{BaseURL: "http://moov.invalid", WebhookSecret: "s"}, zap.NewNop())
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set(adapters.SignatureHeader, "sha256="+adapters.Sign("s", []byte(`{}`)))
	require.NoError(t, signed.Verify([]byte(`{}`), headers))
}
