package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	agentdomain "github.com/smallbiznis/tontine/internal/agent/domain"
	clientdomain "github.com/smallbiznis/tontine/internal/client/domain"
	"github.com/smallbiznis/tontine/internal/clock"
	enforcementdomain "github.com/smallbiznis/tontine/internal/enforcement/domain"
	obligationdomain "github.com/smallbiznis/tontine/internal/obligation/domain"
	"github.com/smallbiznis/tontine/internal/observability"
	paymentdomain "github.com/smallbiznis/tontine/internal/payment/domain"
	"github.com/smallbiznis/tontine/internal/providertoken"
	"github.com/smallbiznis/tontine/internal/ratelimit"
	"github.com/smallbiznis/tontine/internal/schedule"
	"go.uber.org/zap"
)

type fakeAgentService struct {
	agentdomain.Service
	agents map[snowflake.ID]agentdomain.Agent
}

func (f *fakeAgentService) GetByID(_ context.Context, id snowflake.ID) (agentdomain.Agent, error) {
	agent, ok := f.agents[id]
	if !ok {
		return agentdomain.Agent{}, agentdomain.ErrAgentNotFound
	}
	return agent, nil
}

type fakeEnforcementService struct {
	enforcementdomain.Service
	shouldBlock map[snowflake.ID]bool
	calls       int
}

func (f *fakeEnforcementService) Evaluate(_ context.Context, agentID snowflake.ID, asOf time.Time) (enforcementdomain.Decision, error) {
	f.calls++
	return enforcementdomain.Decision{
		AgentID:     agentID,
		AgentStatus: agentdomain.StatusActive,
		ShouldBlock: f.shouldBlock[agentID],
		EvaluatedAt: asOf,
	}, nil
}

type fakeClientService struct {
	clientdomain.Service
	created int
}

func (f *fakeClientService) Create(_ context.Context, req clientdomain.CreateRequest) (clientdomain.Client, bool, error) {
	f.created++
	return clientdomain.Client{ID: 42, AgentID: req.AgentID, FullName: req.FullName, Phone: req.Phone}, true, nil
}

type fakeObligationService struct {
	obligationdomain.Service
	err error
}

func (f *fakeObligationService) Mark(_ context.Context, req obligationdomain.MarkRequest) (obligationdomain.MarkResult, error) {
	if f.err != nil {
		return obligationdomain.MarkResult{}, f.err
	}
	return obligationdomain.MarkResult{Marked: req.DayNumbers}, nil
}

type fakePaymentService struct {
	paymentdomain.Service
	initiateErr error
	webhookErr  error
}

func (f *fakePaymentService) Initiate(_ context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.Attempt, error) {
	attempt := &paymentdomain.Attempt{ID: 7, AgentID: req.AgentID, TransactionID: "TXN1", Provider: req.Provider}
	if f.initiateErr != nil {
		return attempt, f.initiateErr
	}
	return attempt, nil
}

func (f *fakePaymentService) ApplyWebhook(_ context.Context, _ string, _ []byte, _ http.Header) (paymentdomain.WebhookResult, error) {
	if f.webhookErr != nil {
		return paymentdomain.WebhookResult{}, f.webhookErr
	}
	return paymentdomain.WebhookResult{Settled: true}, nil
}

type testServer struct {
	srv         *Server
	agents      *fakeAgentService
	enforcement *fakeEnforcementService
	clients     *fakeClientService
	obligations *fakeObligationService
	payments    *fakePaymentService
}

const (
	activeAgent  = snowflake.ID(100)
	blockedAgent = snowflake.ID(200)
	overdueAgent = snowflake.ID(300)
)

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := testServer{
		agents: &fakeAgentService{agents: map[snowflake.ID]agentdomain.Agent{
			activeAgent:  {ID: activeAgent, Status: agentdomain.StatusActive},
			blockedAgent: {ID: blockedAgent, Status: agentdomain.StatusBlocked},
			overdueAgent: {ID: overdueAgent, Status: agentdomain.StatusActive},
		}},
		enforcement: &fakeEnforcementService{shouldBlock: map[snowflake.ID]bool{overdueAgent: true}},
		clients:     &fakeClientService{},
		obligations: &fakeObligationService{},
		payments:    &fakePaymentService{},
	}
	ts.srv = NewServer(ServerParams{
		Gin:            NewEngine(observability.Config{}, nil),
		Log:            zap.NewNop(),
		Clock:          clock.NewFakeClock(time.Date(2024, 1, 17, 8, 0, 0, 0, time.UTC)),
		AgentSvc:       ts.agents,
		ClientSvc:      ts.clients,
		ObligationSvc:  ts.obligations,
		EnforcementSvc: ts.enforcement,
		PaymentSvc:     ts.payments,
	})
	ts.srv.RegisterRoutes()
	return ts
}

func (ts testServer) do(t *testing.T, method, path string, agentID snowflake.ID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if agentID != 0 {
		req.Header.Set(HeaderAgentID, agentID.String())
	}
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", 0, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAgentHeaderRequired(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/clients", 0, map[string]string{"full_name": "A", "phone": "1"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if ts.clients.created != 0 {
		t.Fatalf("expected no client creation")
	}
}

func TestAgentGate(t *testing.T) {
	tests := []struct {
		name       string
		agentID    snowflake.ID
		wantStatus int
	}{
		{name: "active agent passes", agentID: activeAgent, wantStatus: http.StatusCreated},
		{name: "stored blocked status refuses", agentID: blockedAgent, wantStatus: http.StatusForbidden},
		{name: "overdue commission refuses", agentID: overdueAgent, wantStatus: http.StatusForbidden},
		{name: "unknown agent", agentID: 999, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.do(t, http.MethodPost, "/api/clients", tt.agentID, map[string]string{
				"full_name": "Awa",
				"phone":     "22991000001",
			})
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus == http.StatusForbidden {
				if got := decodeError(t, rec).Code; got != "agent_blocked" {
					t.Fatalf("expected agent_blocked, got %q", got)
				}
				if ts.clients.created != 0 {
					t.Fatalf("blocked agent reached the service")
				}
			}
		})
	}
}

func TestAgentGateAllowsPayments(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/payments", blockedAgent, map[string]any{
		"provider":       "mtn",
		"phone":          "22997000000",
		"amount":         100,
		"commission_ids": []string{"11"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestInitiatePaymentProviderFailureReturnsAttempt(t *testing.T) {
	ts := newTestServer(t)
	ts.payments.initiateErr = fmt.Errorf("%w: %w", paymentdomain.ErrProviderUnavailable, providertoken.ErrCredentialRenewalFailed)

	rec := ts.do(t, http.MethodPost, "/api/payments", activeAgent, map[string]any{
		"provider":       "mtn",
		"phone":          "22997000000",
		"amount":         100,
		"commission_ids": []string{"11"},
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var body struct {
		Data paymentdomain.Attempt `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.TransactionID != "TXN1" {
		t.Fatalf("expected attempt in body, got %s", rec.Body.String())
	}
}

func TestInitiatePaymentRejectsBadCommissionIDs(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/payments", activeAgent, map[string]any{
		"provider":       "mtn",
		"commission_ids": []string{"abc"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSameAgentGuard(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/agents/"+blockedAgent.String()+"/enforcement", activeAgent, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/agents/"+activeAgent.String()+"/enforcement", activeAgent, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMarkConflictMapsTo409(t *testing.T) {
	ts := newTestServer(t)
	ts.obligations.err = obligationdomain.ErrNoPendingObligations

	rec := ts.do(t, http.MethodPost, "/api/subscriptions/55/obligations/mark", activeAgent, map[string]any{
		"day_numbers": []int{1, 2},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if got := decodeError(t, rec).Code; got != "no_pending_obligations" {
		t.Fatalf("unexpected code %q", got)
	}
}

func TestWebhookBenignOutcomesReturn200(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "settled", wantStatus: http.StatusOK},
		{name: "duplicate", err: paymentdomain.ErrDuplicateWebhook, wantStatus: http.StatusOK},
		{name: "unknown attempt", err: paymentdomain.ErrUnknownAttempt, wantStatus: http.StatusOK},
		{name: "bad signature", err: paymentdomain.ErrInvalidSignature, wantStatus: http.StatusBadRequest},
		{name: "unknown provider", err: paymentdomain.ErrProviderNotFound, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.payments.webhookErr = tt.err
			rec := ts.do(t, http.MethodPost, "/webhooks/payments/mtn", 0, map[string]string{"referenceId": "x"})
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{err: schedule.ErrInvalidCycle, wantStatus: http.StatusBadRequest},
		{err: fmt.Errorf("mark: %w", obligationdomain.ErrNotPaid), wantStatus: http.StatusConflict},
		{err: obligationdomain.ErrNotPending, wantStatus: http.StatusConflict},
		{err: clientdomain.ErrClientNotFound, wantStatus: http.StatusNotFound},
		{err: agentdomain.ErrAgentBlocked, wantStatus: http.StatusForbidden},
		{err: fmt.Errorf("%w: timeout", paymentdomain.ErrProviderUnavailable), wantStatus: http.StatusBadGateway},
		{err: providertoken.ErrCredentialRenewalFailed, wantStatus: http.StatusBadGateway},
		{err: ratelimit.ErrRateLimited, wantStatus: http.StatusTooManyRequests},
		{err: fmt.Errorf("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if status, _ := mapError(tt.err); status != tt.wantStatus {
			t.Fatalf("%v: expected %d, got %d", tt.err, tt.wantStatus, status)
		}
	}
}
