// Package mtn implements the MTN MoMo collection API.
package mtn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/smallbiznis/tontine/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/tontine/internal/payment/domain"
	"github.com/smallbiznis/tontine/pkg/httpclient"
	"go.uber.org/zap"
)

const (
	Provider = "mtn"

	payerMessage = "Paiement commission"
	maxBodyBytes = 1 << 20
)

type Config struct {
	BaseURL           string
	APIKey            string
	APISecret         string
	SubscriptionKey   string
	TargetEnvironment string
	WebhookSecret     string
	Timeout           time.Duration
}

// TokenSource hands out bearer tokens for the collection API.
type TokenSource interface {
	Token(ctx context.Context, provider string) (string, error)
	Invalidate(ctx context.Context, provider string) error
}

type Adapter struct {
	cfg    Config
	tokens TokenSource
	client *retryablehttp.Client
	newRef func() string
}

func NewAdapter(cfg Config, tokens TokenSource, log *zap.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	if cfg.TargetEnvironment == "" {
		cfg.TargetEnvironment = "sandbox"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Adapter{
		cfg:    cfg,
		tokens: tokens,
		// Collection requests are never retried, a retry may charge twice.
		client: httpclient.New(log.Named("payment.mtn"), httpclient.Options{Timeout: cfg.Timeout, NoRetry: true}),
		newRef: func() string { return uuid.NewString() },
	}, nil
}

func (a *Adapter) Provider() string { return Provider }

type requestToPay struct {
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	ExternalID   string `json:"externalId"`
	Payer        payer  `json:"payer"`
	PayerMessage string `json:"payerMessage"`
	PayeeNote    string `json:"payeeNote"`
}

type payer struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

// NewReference reserves the X-Reference-Id of the next request-to-pay.
func (a *Adapter) NewReference() string {
	return a.newRef()
}

func (a *Adapter) RequestPayment(ctx context.Context, req paymentdomain.PaymentRequest) (paymentdomain.PaymentResponse, error) {
	token, err := a.tokens.Token(ctx, Provider)
	if err != nil {
		return paymentdomain.PaymentResponse{}, err
	}

	currency := req.Currency
	if currency == "" {
		currency = paymentdomain.DefaultCurrency
	}
	body, err := json.Marshal(requestToPay{
		Amount:     strconv.FormatInt(req.Amount, 10),
		Currency:   currency,
		ExternalID: req.TransactionID,
		Payer: payer{
			PartyIDType: "MSISDN",
			PartyID:     strings.TrimPrefix(strings.TrimSpace(req.Phone), "+"),
		},
		PayerMessage: payerMessage,
		PayeeNote:    "Commission collecteur - " + req.TransactionID,
	})
	if err != nil {
		return paymentdomain.PaymentResponse{}, err
	}

	referenceID := req.ReferenceID
	if referenceID == "" {
		referenceID = a.newRef()
	}
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/collection/v1_0/requesttopay", bytes.NewReader(body))
	if err != nil {
		return paymentdomain.PaymentResponse{}, err
	}
	a.setHeaders(httpReq.Header, token)
	httpReq.Header.Set("X-Reference-Id", referenceID)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return paymentdomain.PaymentResponse{}, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode == http.StatusUnauthorized {
		_ = a.tokens.Invalidate(ctx, Provider)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return paymentdomain.PaymentResponse{}, fmt.Errorf("mtn requesttopay: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	// 202 Accepted carries no body.
	if len(bytes.TrimSpace(raw)) == 0 || !json.Valid(raw) {
		raw, _ = json.Marshal(map[string]any{"referenceId": referenceID, "statusCode": resp.StatusCode})
	}
	return paymentdomain.PaymentResponse{ExternalID: referenceID, Raw: raw}, nil
}

type statusResponse struct {
	ExternalID             string          `json:"externalId"`
	FinancialTransactionID string          `json:"financialTransactionId"`
	Status                 string          `json:"status"`
	Reason                 json.RawMessage `json:"reason"`
}

func (a *Adapter) PollStatus(ctx context.Context, externalID string) (paymentdomain.WebhookEvent, []byte, error) {
	token, err := a.tokens.Token(ctx, Provider)
	if err != nil {
		return paymentdomain.WebhookEvent{}, nil, err
	}
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/collection/v1_0/requesttopay/"+externalID, nil)
	if err != nil {
		return paymentdomain.WebhookEvent{}, nil, err
	}
	a.setHeaders(httpReq.Header, token)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return paymentdomain.WebhookEvent{}, nil, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode == http.StatusUnauthorized {
		_ = a.tokens.Invalidate(ctx, Provider)
	}
	if resp.StatusCode != http.StatusOK {
		return paymentdomain.WebhookEvent{}, nil, fmt.Errorf("mtn status: status %d", resp.StatusCode)
	}

	var status statusResponse
	if err := json.Unmarshal(raw, &status); err != nil {
		return paymentdomain.WebhookEvent{}, nil, paymentdomain.ErrInvalidPayload
	}
	return paymentdomain.WebhookEvent{
		ExternalID: externalID,
		Outcome:    outcome(status.Status, true),
		Reason:     reason(status.Reason),
	}, raw, nil
}

type webhookPayload struct {
	ReferenceID string          `json:"referenceId"`
	ExternalID  string          `json:"externalId"`
	Status      string          `json:"status"`
	Reason      json.RawMessage `json:"reason"`
}

func (a *Adapter) Verify(payload []byte, headers http.Header) error {
	return adapters.VerifySignature(a.cfg.WebhookSecret, payload, headers)
}

func (a *Adapter) ParseWebhook(payload []byte) (paymentdomain.WebhookEvent, error) {
	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return paymentdomain.WebhookEvent{}, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(body.ReferenceID) == "" {
		return paymentdomain.WebhookEvent{}, paymentdomain.ErrInvalidPayload
	}
	return paymentdomain.WebhookEvent{
		ExternalID: strings.TrimSpace(body.ReferenceID),
		Outcome:    outcome(body.Status, false),
		Reason:     reason(body.Reason),
	}, nil
}

func (a *Adapter) setHeaders(h http.Header, token string) {
	h.Set("Authorization", "Bearer "+token)
	h.Set("X-Target-Environment", a.cfg.TargetEnvironment)
	h.Set("Ocp-Apim-Subscription-Key", a.cfg.SubscriptionKey)
}

// outcome maps MTN statuses. Callbacks are final, so anything other than
// SUCCESSFUL is a failure there; polls may still report PENDING.
func outcome(status string, poll bool) paymentdomain.Outcome {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESSFUL":
		return paymentdomain.OutcomeSuccess
	case "PENDING", "":
		if poll {
			return paymentdomain.OutcomePending
		}
	}
	return paymentdomain.OutcomeFailure
}

// reason accepts both the plain string and the {code, message} object forms.
func reason(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Code
	}
	return string(raw)
}
