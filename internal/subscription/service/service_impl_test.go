package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/smallbiznis/tontine/internal/client/domain"
	clientrepository "github.com/smallbiznis/tontine/internal/client/repository"
	"github.com/smallbiznis/tontine/internal/clock"
	commissiondomain "github.com/smallbiznis/tontine/internal/commission/domain"
	commissionrepository "github.com/smallbiznis/tontine/internal/commission/repository"
	commissionservice "github.com/smallbiznis/tontine/internal/commission/service"
	"github.com/smallbiznis/tontine/internal/config"
	"github.com/smallbiznis/tontine/internal/dbtest"
	obligationdomain "github.com/smallbiznis/tontine/internal/obligation/domain"
	obligationrepository "github.com/smallbiznis/tontine/internal/obligation/repository"
	"github.com/smallbiznis/tontine/internal/ratelimit"
	"github.com/smallbiznis/tontine/internal/schedule"
	subscriptiondomain "github.com/smallbiznis/tontine/internal/subscription/domain"
	"github.com/smallbiznis/tontine/internal/subscription/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	svc      *Service
	agentID  snowflake.ID
	clientID snowflake.ID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t)
	node := dbtest.Node(t, 3)
	fake := clock.NewFakeClock(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC))
	rules := config.NewStaticRulesHolder(config.DefaultRules())

	svc := NewService(ServiceParam{
		DB:             db,
		Log:            zap.NewNop(),
		GenID:          node,
		Clock:          fake,
		Repo:           repository.Provide(),
		ObligationRepo: obligationrepository.Provide(),
		ClientRepo:     clientrepository.Provide(),
		CommissionSvc: commissionservice.NewService(commissionservice.ServiceParam{
			DB:    db,
			Log:   zap.NewNop(),
			GenID: node,
			Clock: fake,
			Repo:  commissionrepository.Provide(),
			Rules: rules,
		}),
		Locker: ratelimit.NewLocalKeyLocker(),
		Rules:  rules,
	}).(*Service)

	agentID := dbtest.InsertAgent(t, db, node, "22990000001")
	clientID := dbtest.InsertClient(t, db, node, agentID, "22991000001")
	return fixture{db: db, node: node, clock: fake, svc: svc, agentID: agentID, clientID: clientID}
}

func (f fixture) create(t *testing.T, cycle schedule.Cycle, amount int64) subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.svc.Create(context.Background(), subscriptiondomain.CreateSubscriptionRequest{
		AgentID:     f.agentID,
		ClientID:    f.clientID,
		Cycle:       string(cycle),
		DailyAmount: amount,
		StartDate:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return sub
}

func TestCreateGeneratesScheduleAndCommission(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, schedule.Cycle90, 300)

	if sub.TotalDays != 90 || sub.TotalAmount != 27000 {
		t.Fatalf("expected 90 days / 27000, got %d / %d", sub.TotalDays, sub.TotalAmount)
	}
	if want := time.Date(2024, 3, 30, 0, 0, 0, 0, time.UTC); !sub.EndDate.Equal(want) {
		t.Fatalf("expected end date %s, got %s", want, sub.EndDate)
	}
	if !sub.StartDate.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected start date normalized to midnight, got %s", sub.StartDate)
	}
	dbtest.AssertCount(t, f.db, "obligations", "subscription_id = ?", 90, sub.ID)
	dbtest.AssertCount(t, f.db, "obligations", "subscription_id = ? AND status = 'pending'", 90, sub.ID)
	dbtest.AssertCount(t, f.db, "commissions", "agent_id = ? AND client_id = ?", 1, f.agentID, f.clientID)

	f.create(t, schedule.Cycle31, 300)
	dbtest.AssertCount(t, f.db, "commissions", "agent_id = ? AND client_id = ?", 1, f.agentID, f.clientID)
}

type failingCommissions struct {
	commissiondomain.Service
}

func (failingCommissions) EnsureCommission(context.Context, *gorm.DB, commissiondomain.EnsureRequest) (commissiondomain.Commission, bool, error) {
	return commissiondomain.Commission{}, false, errors.New("commission store down")
}

func TestCreateRollsBackWhenCommissionFails(t *testing.T) {
	f := newFixture(t)
	f.svc.commissionsvc = failingCommissions{}

	_, err := f.svc.Create(context.Background(), subscriptiondomain.CreateSubscriptionRequest{
		AgentID:     f.agentID,
		ClientID:    f.clientID,
		Cycle:       string(schedule.Cycle31),
		DailyAmount: 500,
	})
	if err == nil {
		t.Fatalf("expected commission failure to surface")
	}
	dbtest.AssertCount(t, f.db, "subscriptions", "client_id = ?", 0, f.clientID)
	dbtest.AssertCount(t, f.db, "obligations", "", 0)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := subscriptiondomain.CreateSubscriptionRequest{
		AgentID:     f.agentID,
		ClientID:    f.clientID,
		Cycle:       string(schedule.Cycle31),
		DailyAmount: 500,
	}

	bad := base
	bad.Cycle = "12_jours"
	if _, err := f.svc.Create(ctx, bad); !errors.Is(err, schedule.ErrInvalidCycle) {
		t.Fatalf("expected ErrInvalidCycle, got %v", err)
	}

	bad = base
	bad.DailyAmount = 150
	if _, err := f.svc.Create(ctx, bad); !errors.Is(err, schedule.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	bad = base
	bad.ClientID = f.node.Generate()
	if _, err := f.svc.Create(ctx, bad); !errors.Is(err, clientdomain.ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}

	bad = base
	bad.AgentID = dbtest.InsertAgent(t, f.db, f.node, "22990000009")
	if _, err := f.svc.Create(ctx, bad); !errors.Is(err, subscriptiondomain.ErrClientAgentMismatch) {
		t.Fatalf("expected ErrClientAgentMismatch, got %v", err)
	}
	dbtest.AssertCount(t, f.db, "subscriptions", "", 0)
}

func TestUpdateDailyAmountRewritesPendingOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.create(t, schedule.Cycle31, 500)

	if err := f.db.Exec(
		`UPDATE obligations SET status = 'paid', paid_at = ? WHERE subscription_id = ? AND day_number IN (1, 2)`,
		f.clock.Now(), sub.ID,
	).Error; err != nil {
		t.Fatalf("seed paid: %v", err)
	}

	updated, err := f.svc.UpdateDailyAmount(ctx, subscriptiondomain.UpdateDailyAmountRequest{
		SubscriptionID: sub.ID,
		AgentID:        f.agentID,
		DailyAmount:    1000,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.DailyAmount != 1000 || updated.TotalAmount != 2*500+29*1000 {
		t.Fatalf("unexpected totals %d / %d", updated.DailyAmount, updated.TotalAmount)
	}
	dbtest.AssertCount(t, f.db, "obligations", "subscription_id = ? AND amount = 500 AND status = 'paid'", 2, sub.ID)
	dbtest.AssertCount(t, f.db, "obligations", "subscription_id = ? AND amount = 1000 AND status = 'pending'", 29, sub.ID)

	if _, err := f.svc.UpdateDailyAmount(ctx, subscriptiondomain.UpdateDailyAmountRequest{
		SubscriptionID: sub.ID,
		DailyAmount:    100,
	}); !errors.Is(err, schedule.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := f.svc.UpdateDailyAmount(ctx, subscriptiondomain.UpdateDailyAmountRequest{
		SubscriptionID: sub.ID,
		AgentID:        f.node.Generate(),
		DailyAmount:    400,
	}); !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound for a foreign agent, got %v", err)
	}
}

func TestProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.create(t, schedule.Cycle31, 500)

	if err := f.db.Exec(
		`UPDATE obligations SET status = ?, paid_at = ? WHERE subscription_id = ? AND day_number IN (1, 2, 3)`,
		obligationdomain.StatusPaid, f.clock.Now(), sub.ID,
	).Error; err != nil {
		t.Fatalf("seed paid: %v", err)
	}
	if err := repository.Provide().UpdateAggregates(ctx, f.db, sub.ID, 3, 1500, subscriptiondomain.SubscriptionStatusActive, f.clock.Now()); err != nil {
		t.Fatalf("seed aggregates: %v", err)
	}

	f.clock.Set(time.Date(2024, 1, 6, 9, 0, 0, 0, time.UTC))
	progress, err := f.svc.Progress(ctx, sub.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if progress.DaysPercent != 9.68 || progress.AmountPercent != 9.68 {
		t.Fatalf("expected 9.68%%, got %v / %v", progress.DaysPercent, progress.AmountPercent)
	}
	if progress.DaysRemaining != 28 {
		t.Fatalf("expected 28 days remaining, got %d", progress.DaysRemaining)
	}
	if progress.LateCount != 2 {
		t.Fatalf("expected days 4 and 5 late, got %d", progress.LateCount)
	}
}
