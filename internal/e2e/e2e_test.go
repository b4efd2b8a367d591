package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tontine/internal/agent"
	"github.com/smallbiznis/tontine/internal/client"
	"github.com/smallbiznis/tontine/internal/clock"
	"github.com/smallbiznis/tontine/internal/commission"
	"github.com/smallbiznis/tontine/internal/config"
	"github.com/smallbiznis/tontine/internal/dashboard"
	"github.com/smallbiznis/tontine/internal/dbtest"
	"github.com/smallbiznis/tontine/internal/enforcement"
	"github.com/smallbiznis/tontine/internal/events"
	"github.com/smallbiznis/tontine/internal/obligation"
	"github.com/smallbiznis/tontine/internal/observability"
	"github.com/smallbiznis/tontine/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/tontine/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/tontine/internal/payment/repository"
	paymentservice "github.com/smallbiznis/tontine/internal/payment/service"
	"github.com/smallbiznis/tontine/internal/ratelimit"
	"github.com/smallbiznis/tontine/internal/scheduler"
	"github.com/smallbiznis/tontine/internal/server"
	"github.com/smallbiznis/tontine/internal/subscription"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const agentPhone = "+22990000001"

// stubProvider answers every collection request with the next external id and
// accepts {"id": external id, "status": "ok"|"ko"} callbacks.
type stubProvider struct {
	mu  sync.Mutex
	seq int
}

func (p *stubProvider) Provider() string { return "stub" }

func (p *stubProvider) RequestPayment(ctx context.Context, req paymentdomain.PaymentRequest) (paymentdomain.PaymentResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	return paymentdomain.PaymentResponse{
		ExternalID: fmt.Sprintf("STUB-%d", p.seq),
		Raw:        []byte(`{"accepted":true}`),
	}, nil
}

func (p *stubProvider) Verify(payload []byte, headers http.Header) error {
	return adapters.VerifySignature("", payload, headers)
}

func (p *stubProvider) ParseWebhook(payload []byte) (paymentdomain.WebhookEvent, error) {
	var body struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.ID == "" {
		return paymentdomain.WebhookEvent{}, paymentdomain.ErrInvalidPayload
	}
	outcome := paymentdomain.OutcomeFailure
	if body.Status == "ok" {
		outcome = paymentdomain.OutcomeSuccess
	}
	return paymentdomain.WebhookEvent{ExternalID: body.ID, Outcome: outcome, Reason: "declined"}, nil
}

type testEnv struct {
	db        *gorm.DB
	clock     *clock.FakeClock
	scheduler *scheduler.Scheduler
	baseURL   string
	node      *snowflake.Node
	agentID   snowflake.ID
}

func startEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbConn := dbtest.Open(t)
	node := dbtest.Node(t, 1)
	fake := clock.NewFakeClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	provider := &stubProvider{}

	var (
		srv   *server.Server
		sched *scheduler.Scheduler
	)
	app := fxtest.New(t,
		fx.Supply(dbConn, node, zap.NewNop()),
		fx.Supply(config.Config{ProviderTimeout: time.Second}),
		fx.Supply(config.NewStaticRulesHolder(config.DefaultRules())),
		fx.Provide(func() clock.Clock { return fake }),
		fx.Provide(func() events.Dispatcher { return events.NopDispatcher{} }),
		fx.Provide(func() ratelimit.KeyLocker { return ratelimit.NewLocalKeyLocker() }),
		events.Module,

		agent.Module,
		client.Module,
		subscription.Module,
		obligation.Module,
		commission.Module,
		enforcement.Module,
		dashboard.Module,

		fx.Provide(paymentrepo.Provide),
		fx.Provide(func() *adapters.Registry { return adapters.NewRegistry(provider) }),
		fx.Provide(paymentservice.NewService),

		fx.Provide(func() *gin.Engine { return server.NewEngine(observability.Config{}, nil) }),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) { s.RegisterRoutes() }),
		fx.Supply(scheduler.Config{BatchSize: 50}),
		fx.Provide(scheduler.New),
		fx.Populate(&srv, &sched),
	)
	app.RequireStart()
	t.Cleanup(app.RequireStop)

	httpSrv := httptest.NewServer(srv.Engine())
	t.Cleanup(httpSrv.Close)

	return &testEnv{
		db:        dbConn,
		clock:     fake,
		scheduler: sched,
		baseURL:   httpSrv.URL,
		node:      node,
		agentID:   dbtest.InsertAgent(t, dbConn, node, agentPhone),
	}
}

func TestE2E_HealthCheck(t *testing.T) {
	env := startEnv(t)

	resp, body := doJSON(t, http.MethodGet, env.baseURL+"/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d: %s", resp.StatusCode, string(body))
	}
}

func TestE2E_CollectionLifecycle(t *testing.T) {
	env := startEnv(t)
	headers := env.agentHeaders()

	clientID := env.enrollClient(t, "Awa Koné", "+22997000001")

	// Enrolling the same phone again hands back the existing client.
	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/api/clients", map[string]any{
		"full_name": "Awa Koné",
		"phone":     "+22997000001",
	}, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-enroll: %d: %s", resp.StatusCode, string(body))
	}
	var again struct {
		Data     struct{ ID string } `json:"data"`
		Existing bool                `json:"existing"`
	}
	decode(t, body, &again)
	if !again.Existing || again.Data.ID != clientID {
		t.Fatalf("expected existing client %s, got %+v", clientID, again)
	}

	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/api/subscriptions", map[string]any{
		"client_id":    clientID,
		"cycle":        "31_jours",
		"daily_amount": 500,
		"start_date":   "2024-03-01",
	}, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create subscription: %d: %s", resp.StatusCode, string(body))
	}
	var sub struct {
		Data struct {
			ID          string `json:"id"`
			TotalDays   int    `json:"total_days"`
			TotalAmount int64  `json:"total_amount"`
		} `json:"data"`
	}
	decode(t, body, &sub)
	if sub.Data.TotalDays != 31 || sub.Data.TotalAmount != 15500 {
		t.Fatalf("unexpected subscription terms: %+v", sub.Data)
	}
	if got := countRows(t, env.db, "obligations", "subscription_id = ?", mustParseID(t, sub.Data.ID)); got != 31 {
		t.Fatalf("expected 31 obligations, got %d", got)
	}

	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/api/subscriptions/"+sub.Data.ID+"/obligations/mark", map[string]any{
		"day_numbers": []int{1, 2, 3},
	}, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark: %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodGet, env.baseURL+"/api/subscriptions/"+sub.Data.ID+"/progress", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("progress: %d: %s", resp.StatusCode, string(body))
	}
	var progress struct {
		Data struct {
			PaidDays      int   `json:"paid_days"`
			PaidAmount    int64 `json:"paid_amount"`
			DaysRemaining int   `json:"days_remaining"`
		} `json:"data"`
	}
	decode(t, body, &progress)
	if progress.Data.PaidDays != 3 || progress.Data.PaidAmount != 1500 || progress.Data.DaysRemaining != 28 {
		t.Fatalf("unexpected progress: %+v", progress.Data)
	}

	// Marking a paid day twice is a conflict and leaves the totals alone.
	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/api/subscriptions/"+sub.Data.ID+"/obligations/mark", map[string]any{
		"day_numbers": []int{2},
	}, headers)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict on re-mark, got %d: %s", resp.StatusCode, string(body))
	}
	if got := countRows(t, env.db, "subscriptions", "id = ? AND paid_days = 3", mustParseID(t, sub.Data.ID)); got != 1 {
		t.Fatalf("paid days changed after re-mark")
	}
}

func TestE2E_CommissionEnforcementAndPayment(t *testing.T) {
	env := startEnv(t)
	headers := env.agentHeaders()

	env.enrollClient(t, "Moussa Diallo", "+22997000002")
	if got := countRows(t, env.db, "commissions", "agent_id = ? AND status = ?", env.agentID, "pending"); got != 1 {
		t.Fatalf("expected one pending commission, got %d", got)
	}

	// Past the grace period the sweep blocks the agent.
	env.clock.Advance(8 * 24 * time.Hour)
	if err := env.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("run scheduler: %v", err)
	}
	if got := countRows(t, env.db, "agents", "id = ? AND status = ?", env.agentID, "blocked"); got != 1 {
		t.Fatalf("expected agent to be blocked")
	}

	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/api/clients", map[string]any{
		"full_name": "Fatou Sow",
		"phone":     "+22997000003",
	}, headers)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected blocked agent to be refused, got %d: %s", resp.StatusCode, string(body))
	}
	var refusal struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, body, &refusal)
	if refusal.Error.Code != "agent_blocked" {
		t.Fatalf("unexpected refusal code: %s", refusal.Error.Code)
	}

	resp, body = doJSON(t, http.MethodGet, env.baseURL+"/api/agents/"+env.agentID.String()+"/commissions", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list commissions: %d: %s", resp.StatusCode, string(body))
	}
	var commissions struct {
		Data []struct {
			ID     string `json:"id"`
			Amount int64  `json:"amount"`
		} `json:"data"`
	}
	decode(t, body, &commissions)
	if len(commissions.Data) != 1 {
		t.Fatalf("expected one commission, got %d", len(commissions.Data))
	}

	// Blocked agents can still pay what they owe.
	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/api/payments", map[string]any{
		"provider":       "stub",
		"phone":          agentPhone,
		"amount":         commissions.Data[0].Amount,
		"commission_ids": []string{commissions.Data[0].ID},
	}, headers)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("initiate payment: %d: %s", resp.StatusCode, string(body))
	}
	var attempt struct {
		Data struct {
			TransactionID string `json:"transaction_id"`
			ExternalID    string `json:"external_id"`
			Status        string `json:"status"`
		} `json:"data"`
	}
	decode(t, body, &attempt)
	if attempt.Data.Status != "pending" || attempt.Data.ExternalID == "" {
		t.Fatalf("unexpected attempt: %+v", attempt.Data)
	}

	callback := map[string]any{"id": attempt.Data.ExternalID, "status": "ok"}
	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/webhooks/payments/stub", callback, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Fatalf("webhook: %d: %s", resp.StatusCode, string(body))
	}
	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/webhooks/payments/stub", callback, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "duplicate") {
		t.Fatalf("replayed webhook: %d: %s", resp.StatusCode, string(body))
	}
	if got := countRows(t, env.db, "commissions", "agent_id = ? AND status = ?", env.agentID, "paid"); got != 1 {
		t.Fatalf("expected commission to be paid")
	}
	if got := countRows(t, env.db, "payment_attempts", "transaction_id = ? AND status = ?", attempt.Data.TransactionID, "successful"); got != 1 {
		t.Fatalf("expected attempt to be successful")
	}

	resp, body = doJSON(t, http.MethodGet, env.baseURL+"/api/payments/"+attempt.Data.TransactionID, nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("payment status: %d: %s", resp.StatusCode, string(body))
	}

	if err := env.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("run scheduler: %v", err)
	}
	if got := countRows(t, env.db, "agents", "id = ? AND status = ?", env.agentID, "active"); got != 1 {
		t.Fatalf("expected agent to be unblocked")
	}

	env.enrollClient(t, "Fatou Sow", "+22997000003")
}

func TestE2E_SubscriptionsAreScopedToOwningAgent(t *testing.T) {
	env := startEnv(t)
	clientID := env.enrollClient(t, "Ibrahim Traoré", "+22997000004")

	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/api/subscriptions", map[string]any{
		"client_id":    clientID,
		"cycle":        "31_jours",
		"daily_amount": 500,
		"start_date":   "2024-03-01",
	}, env.agentHeaders())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create subscription: %d: %s", resp.StatusCode, string(body))
	}
	var sub struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	decode(t, body, &sub)

	otherID := dbtest.InsertAgent(t, env.db, env.node, "+22990000002")
	other := map[string]string{server.HeaderAgentID: otherID.String()}

	cases := []struct {
		name    string
		method  string
		path    string
		payload any
	}{
		{"mark", http.MethodPost, "/api/subscriptions/" + sub.Data.ID + "/obligations/mark", map[string]any{"day_numbers": []int{1, 2}}},
		{"get", http.MethodGet, "/api/subscriptions/" + sub.Data.ID, nil},
		{"progress", http.MethodGet, "/api/subscriptions/" + sub.Data.ID + "/progress", nil},
		{"obligations", http.MethodGet, "/api/subscriptions/" + sub.Data.ID + "/obligations", nil},
		{"daily amount", http.MethodPatch, "/api/subscriptions/" + sub.Data.ID + "/daily-amount", map[string]any{"daily_amount": 1000}},
		{"client", http.MethodGet, "/api/clients/" + clientID, nil},
		{"loan", http.MethodGet, "/api/clients/" + clientID + "/loan", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := doJSON(t, tc.method, env.baseURL+tc.path, tc.payload, other)
			if resp.StatusCode != http.StatusNotFound {
				t.Fatalf("expected 404 for another agent, got %d: %s", resp.StatusCode, string(body))
			}
		})
	}

	var obligationID string
	if err := env.db.Raw(`SELECT CAST(id AS TEXT) FROM obligations WHERE subscription_id = ? AND day_number = 1`, mustParseID(t, sub.Data.ID)).Scan(&obligationID).Error; err != nil {
		t.Fatalf("load obligation: %v", err)
	}
	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/api/obligations/"+obligationID+"/write-off", nil, other)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on foreign write-off, got %d: %s", resp.StatusCode, string(body))
	}

	if got := countRows(t, env.db, "obligations", "subscription_id = ? AND status = ?", mustParseID(t, sub.Data.ID), "pending"); got != 31 {
		t.Fatalf("foreign agent changed obligations: %d pending", got)
	}
	if got := countRows(t, env.db, "subscriptions", "id = ? AND daily_amount = 500", mustParseID(t, sub.Data.ID)); got != 1 {
		t.Fatalf("foreign agent changed the daily amount")
	}
}

func TestE2E_AgentRoutesAreScoped(t *testing.T) {
	env := startEnv(t)

	resp, body := doJSON(t, http.MethodGet, env.baseURL+"/api/agents/"+env.agentID.String()+"/dashboard", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without agent header, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodGet, env.baseURL+"/api/agents/12345/dashboard", nil, env.agentHeaders())
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for another agent, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodGet, env.baseURL+"/api/agents/"+env.agentID.String()+"/dashboard", nil, env.agentHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard: %d: %s", resp.StatusCode, string(body))
	}
}

func (e *testEnv) agentHeaders() map[string]string {
	return map[string]string{server.HeaderAgentID: e.agentID.String()}
}

func (e *testEnv) enrollClient(t *testing.T, name, phone string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, e.baseURL+"/api/clients", map[string]any{
		"full_name": name,
		"phone":     phone,
	}, e.agentHeaders())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("enroll client: %d: %s", resp.StatusCode, string(body))
	}
	var created struct {
		Data struct {
			ID   string `json:"id"`
			Code string `json:"code"`
		} `json:"data"`
	}
	decode(t, body, &created)
	if created.Data.ID == "" || !strings.HasPrefix(created.Data.Code, "CLT-") {
		t.Fatalf("unexpected client: %s", string(body))
	}
	return created.Data.ID
}

func countRows(t *testing.T, dbConn *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := dbConn.Table(table).Where(where, args...).Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func mustParseID(t *testing.T, value string) snowflake.ID {
	t.Helper()
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed == 0 {
		t.Fatalf("invalid snowflake id: %s", value)
	}
	return parsed
}

func decode(t *testing.T, body []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("decode response: %v: %s", err, string(body))
	}
}

func doJSON(t *testing.T, method, reqURL string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}
