package mtn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/smallbiznis/tontine/internal/clock"
	"github.com/smallbiznis/tontine/internal/providertoken"
	"github.com/smallbiznis/tontine/pkg/httpclient"
	"go.uber.org/zap"
)

const defaultExpiresIn = 3600

var errMissingCredentials = errors.New("mtn api credentials are not configured")

// Renewer fetches collection API access tokens. Token requests are
// idempotent so its client retries.
type Renewer struct {
	cfg    Config
	clock  clock.Clock
	client *retryablehttp.Client
}

func NewRenewer(cfg Config, clk clock.Clock, log *zap.Logger) *Renewer {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Renewer{
		cfg:    cfg,
		clock:  clk,
		client: httpclient.New(log.Named("providertoken.mtn"), httpclient.Options{Timeout: cfg.Timeout}),
	}
}

func (r *Renewer) Provider() string { return Provider }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (r *Renewer) Renew(ctx context.Context) (providertoken.Token, error) {
	if r.cfg.APIKey == "" || r.cfg.APISecret == "" {
		return providertoken.Token{}, errMissingCredentials
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/collection/token/", nil)
	if err != nil {
		return providertoken.Token{}, err
	}
	req.SetBasicAuth(r.cfg.APIKey, r.cfg.APISecret)
	req.Header.Set("Ocp-Apim-Subscription-Key", r.cfg.SubscriptionKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return providertoken.Token{}, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode != http.StatusOK {
		return providertoken.Token{}, fmt.Errorf("mtn token: status %d", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return providertoken.Token{}, fmt.Errorf("mtn token: %w", err)
	}
	if body.AccessToken == "" {
		return providertoken.Token{}, fmt.Errorf("mtn token: empty access_token")
	}
	expiresIn := body.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	return providertoken.Token{
		AccessToken: body.AccessToken,
		ExpiresAt:   r.clock.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}
