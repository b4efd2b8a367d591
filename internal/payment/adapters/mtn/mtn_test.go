package mtn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/tontine/internal/clock"
	"github.com/smallbiznis/tontine/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/tontine/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticTokens struct {
	invalidated atomic.Int32
}

func (s *staticTokens) Token(context.Context, string) (string, error) { return "tok", nil }

func (s *staticTokens) Invalidate(context.Context, string) error {
	s.invalidated.Add(1)
	return nil
}

func newTestAdapter(t *testing.T, baseURL string, tokens TokenSource) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(Config{
		BaseURL:           baseURL,
		SubscriptionKey:   "sub-key",
		TargetEnvironment: "sandbox",
		WebhookSecret:     "whsec",
		Timeout:           time.Second,
	}, tokens, zap.NewNop())
	require.NoError(t, err)
	adapter.newRef = func() string { return "ref-123" }
	return adapter
}

func TestRequestPayment(t *testing.T) {
	var got requestToPay
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collection/v1_0/requesttopay", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "ref-123", r.Header.Get("X-Reference-Id"))
		assert.Equal(t, "sandbox", r.Header.Get("X-Target-Environment"))
		assert.Equal(t, "sub-key", r.Header.Get("Ocp-Apim-Subscription-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL, &staticTokens{})
	resp, err := adapter.RequestPayment(context.Background(), paymentdomain.PaymentRequest{
		TransactionID: "TXN01",
		Amount:        300,
		Phone:         "+22997000000",
	})
	require.NoError(t, err)

	assert.Equal(t, "ref-123", resp.ExternalID)
	assert.True(t, json.Valid(resp.Raw))
	assert.Equal(t, "300", got.Amount)
	assert.Equal(t, "XOF", got.Currency)
	assert.Equal(t, "TXN01", got.ExternalID)
	assert.Equal(t, "MSISDN", got.Payer.PartyIDType)
	assert.Equal(t, "22997000000", got.Payer.PartyID)
}

func TestRequestPaymentUsesReservedReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ref-reserved", r.Header.Get("X-Reference-Id"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL, &staticTokens{})
	var allocator paymentdomain.ReferenceAllocator = adapter
	assert.Equal(t, "ref-123", allocator.NewReference())

	resp, err := adapter.RequestPayment(context.Background(), paymentdomain.PaymentRequest{
		TransactionID: "TXN01",
		Amount:        300,
		Phone:         "+22997000000",
		ReferenceID:   "ref-reserved",
	})
	require.NoError(t, err)
	assert.Equal(t, "ref-reserved", resp.ExternalID)
}

func TestRequestPaymentUnauthorizedInvalidatesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &staticTokens{}
	adapter := newTestAdapter(t, srv.URL, tokens)
	_, err := adapter.RequestPayment(context.Background(), paymentdomain.PaymentRequest{TransactionID: "TXN01", Amount: 100, Phone: "1"})
	require.Error(t, err)
	assert.Equal(t, int32(1), tokens.invalidated.Load())
}

func TestRequestPaymentIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL, &staticTokens{})
	_, err := adapter.RequestPayment(context.Background(), paymentdomain.PaymentRequest{TransactionID: "TXN01", Amount: 100, Phone: "1"})
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestParseWebhook(t *testing.T) {
	adapter := newTestAdapter(t, "http://mtn.invalid", &staticTokens{})

	evt, err := adapter.ParseWebhook([]byte(`{"referenceId":"ref-1","status":"SUCCESSFUL"}`))
	require.NoError(t, err)
	assert.Equal(t, "ref-1", evt.ExternalID)
	assert.Equal(t, paymentdomain.OutcomeSuccess, evt.Outcome)

	evt, err = adapter.ParseWebhook([]byte(`{"referenceId":"ref-2","status":"FAILED","reason":{"code":"PAYER_NOT_FOUND","message":"payer not found"}}`))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeFailure, evt.Outcome)
	assert.Equal(t, "payer not found", evt.Reason)

	evt, err = adapter.ParseWebhook([]byte(`{"referenceId":"ref-3","status":"PENDING"}`))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeFailure, evt.Outcome)

	_, err = adapter.ParseWebhook([]byte(`{"status":"SUCCESSFUL"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func TestVerify(t *testing.T) {
	adapter := newTestAdapter(t, "http://mtn.invalid", &staticTokens{})
	payload := []byte(`{"referenceId":"ref-1","status":"SUCCESSFUL"}`)

	headers := http.Header{}
	headers.Set(adapters.SignatureHeader, adapters.Sign("whsec", payload))
	require.NoError(t, adapter.Verify(payload, headers))

	headers.Set(adapters.SignatureHeader, adapters.Sign("wrong", payload))
	assert.ErrorIs(t, adapter.Verify(payload, headers), paymentdomain.ErrInvalidSignature)

	assert.ErrorIs(t, adapter.Verify(payload, http.Header{}), paymentdomain.ErrInvalidSignature)
}

func TestPollStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collection/v1_0/requesttopay/ref-9", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"externalId":"TXN01","status":"PENDING"}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL, &staticTokens{})
	evt, raw, err := adapter.PollStatus(context.Background(), "ref-9")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomePending, evt.Outcome)
	assert.NotEmpty(t, raw)
}

func TestRenewer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collection/token/", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"access_token"}`))
	}))
	defer srv.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	renewer := NewRenewer(Config{BaseURL: srv.URL, APIKey: "key", APISecret: "secret", Timeout: time.Second}, clock.NewFakeClock(now), zap.NewNop())
	token, err := renewer.Renew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token.AccessToken)
	assert.Equal(t, now.Add(time.Hour), token.ExpiresAt)
}

func TestRenewerWithoutCredentials(t *testing.T) {
	renewer := NewRenewer(Config{BaseURL: "http://mtn.invalid"}, clock.NewFakeClock(time.Now()), zap.NewNop())
	_, err := renewer.Renew(context.Background())
	require.Error(t, err)
}
