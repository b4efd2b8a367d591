package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/tontine/internal/clock"
	enforcementdomain "github.com/smallbiznis/tontine/internal/enforcement/domain"
	obligationdomain "github.com/smallbiznis/tontine/internal/obligation/domain"
	obsmetrics "github.com/smallbiznis/tontine/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/tontine/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePayments struct {
	paymentdomain.Service
	calls     int
	olderThan time.Duration
	flagged   []paymentdomain.Attempt
	err       error
}

func (f *fakePayments) FlagStaleAttempts(_ context.Context, olderThan time.Duration, _ int) ([]paymentdomain.Attempt, error) {
	f.calls++
	f.olderThan = olderThan
	return f.flagged, f.err
}

type fakeEnforcement struct {
	enforcementdomain.Service
	calls int
	asOf  time.Time
	limit int
	res   enforcementdomain.SweepResult
}

func (f *fakeEnforcement) Sweep(_ context.Context, asOf time.Time, limit int) (enforcementdomain.SweepResult, error) {
	f.calls++
	f.asOf = asOf
	f.limit = limit
	return f.res, nil
}

type fakeObligations struct {
	obligationdomain.Service
	calls int
	query obligationdomain.LateQuery
	late  []obligationdomain.LateObligation
}

func (f *fakeObligations) LateObligations(_ context.Context, query obligationdomain.LateQuery) ([]obligationdomain.LateObligation, error) {
	f.calls++
	f.query = query
	return f.late, nil
}

type fixture struct {
	sched       *Scheduler
	clock       *clock.FakeClock
	payments    *fakePayments
	enforcement *fakeEnforcement
	obligations *fakeObligations
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := fixture{
		clock:       clock.NewFakeClock(time.Date(2024, 1, 17, 8, 0, 0, 0, time.UTC)),
		payments:    &fakePayments{},
		enforcement: &fakeEnforcement{},
		obligations: &fakeObligations{},
	}
	f.sched, err = New(Params{
		Log:            zap.NewNop(),
		GenID:          node,
		Clock:          f.clock,
		PaymentSvc:     f.payments,
		EnforcementSvc: f.enforcement,
		ObligationSvc:  f.obligations,
		Config:         cfg,
	})
	require.NoError(t, err)
	return f
}

func useTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "tontine", Environment: "test"})
	return registry
}

func TestNewRequiresServices(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnceRunsEveryJobByDefault(t *testing.T) {
	registry := useTestRegistry(t)
	f := newFixture(t, Config{BatchSize: 25})

	f.payments.flagged = []paymentdomain.Attempt{{}, {}}
	f.enforcement.res = enforcementdomain.SweepResult{
		Blocked:   []snowflake.ID{1},
		Unblocked: []snowflake.ID{2, 3},
	}

	require.NoError(t, f.sched.RunOnce(context.Background()))

	assert.Equal(t, 1, f.payments.calls)
	assert.Equal(t, 1, f.enforcement.calls)
	assert.Equal(t, 1, f.obligations.calls)
	assert.Equal(t, 25, f.enforcement.limit)
	assert.True(t, f.enforcement.asOf.Equal(f.clock.Now()))
	assert.True(t, f.obligations.query.AsOf.Equal(f.clock.Now()))
	assert.Equal(t, 25, f.obligations.query.Limit)

	labels := map[string]string{"service": "tontine", "env": "test", "job": JobEnforcementSweep, "resource": "agent"}
	assert.Equal(t, float64(3), getCounterValue(t, registry, "tontine_scheduler_batch_processed_total", labels))
	labels = map[string]string{"service": "tontine", "env": "test", "job": JobStaleAttempts, "resource": "payment_attempt"}
	assert.Equal(t, float64(2), getCounterValue(t, registry, "tontine_scheduler_batch_processed_total", labels))
}

func TestRunOnceSkipsDisabledJobs(t *testing.T) {
	useTestRegistry(t)
	f := newFixture(t, Config{EnabledJobs: []string{" Enforcement_Sweep "}})

	require.NoError(t, f.sched.RunOnce(context.Background()))

	assert.Equal(t, 0, f.payments.calls)
	assert.Equal(t, 1, f.enforcement.calls)
	assert.Equal(t, 0, f.obligations.calls)
}

func TestRunOnceReturnsJobErrors(t *testing.T) {
	useTestRegistry(t)
	f := newFixture(t, Config{StaleAttemptAfter: 45 * time.Minute})
	boom := errors.New("boom")
	f.payments.err = boom

	err := f.sched.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), JobStaleAttempts)
	assert.Equal(t, 45*time.Minute, f.payments.olderThan)

	// Remaining jobs still run.
	assert.Equal(t, 1, f.enforcement.calls)
	assert.Equal(t, 1, f.obligations.calls)
}

func TestSummarizeLateGroupsByAgent(t *testing.T) {
	late := func(agent snowflake.ID, amount int64, days int) obligationdomain.LateObligation {
		item := obligationdomain.LateObligation{AgentID: agent}
		item.Amount = amount
		item.DaysLate = days
		return item
	}

	got := summarizeLate([]obligationdomain.LateObligation{
		late(1, 200, 1),
		late(1, 200, 3),
		late(2, 500, 2),
	})

	require.Len(t, got, 2)
	assert.Equal(t, lateSummary{count: 2, amount: 400, maxDaysLate: 3}, got[1])
	assert.Equal(t, lateSummary{count: 1, amount: 500, maxDaysLate: 2}, got[2])
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := useTestRegistry(t)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "tontine",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "tontine_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "tontine",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "tontine_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
