// Package moov implements the Moov Money payment request API.
package moov

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/smallbiznis/tontine/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/tontine/internal/payment/domain"
	"github.com/smallbiznis/tontine/pkg/httpclient"
	"go.uber.org/zap"
)

const (
	Provider = "moov"

	description  = "Paiement commission"
	maxBodyBytes = 1 << 20
)

type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

type Adapter struct {
	cfg    Config
	client *retryablehttp.Client
}

func NewAdapter(cfg Config, log *zap.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Adapter{
		cfg:    cfg,
		client: httpclient.New(log.Named("payment.moov"), httpclient.Options{Timeout: cfg.Timeout, NoRetry: true}),
	}, nil
}

func (a *Adapter) Provider() string { return Provider }

type paymentRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
	Subscriber  string `json:"subscriber"`
	Description string `json:"description"`
}

type paymentResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

func (a *Adapter) RequestPayment(ctx context.Context, req paymentdomain.PaymentRequest) (paymentdomain.PaymentResponse, error) {
	currency := req.Currency
	if currency == "" {
		currency = paymentdomain.DefaultCurrency
	}
	body, err := json.Marshal(paymentRequest{
		Amount:      req.Amount,
		Currency:    currency,
		Reference:   req.TransactionID,
		Subscriber:  strings.TrimSpace(req.Phone),
		Description: description,
	})
	if err != nil {
		return paymentdomain.PaymentResponse{}, err
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/payments/request", bytes.NewReader(body))
	if err != nil {
		return paymentdomain.PaymentResponse{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return paymentdomain.PaymentResponse{}, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return paymentdomain.PaymentResponse{}, fmt.Errorf("moov payment request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed paymentResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return paymentdomain.PaymentResponse{}, fmt.Errorf("moov payment request: %w", err)
	}
	if strings.TrimSpace(parsed.TransactionID) == "" {
		return paymentdomain.PaymentResponse{}, fmt.Errorf("moov payment request: missing transactionId")
	}
	return paymentdomain.PaymentResponse{ExternalID: parsed.TransactionID, Raw: raw}, nil
}

type webhookPayload struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

func (a *Adapter) Verify(payload []byte, headers http.Header) error {
	return adapters.VerifySignature(a.cfg.WebhookSecret, payload, headers)
}

func (a *Adapter) ParseWebhook(payload []byte) (paymentdomain.WebhookEvent, error) {
	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return paymentdomain.WebhookEvent{}, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(body.TransactionID) == "" {
		return paymentdomain.WebhookEvent{}, paymentdomain.ErrInvalidPayload
	}
	outcome := paymentdomain.OutcomeFailure
	if strings.EqualFold(strings.TrimSpace(body.Status), "SUCCESS") {
		outcome = paymentdomain.OutcomeSuccess
	}
	return paymentdomain.WebhookEvent{
		ExternalID: strings.TrimSpace(body.TransactionID),
		Outcome:    outcome,
		Reason:     body.Message,
	}, nil
}
