package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tontine/internal/clock"
	enforcementdomain "github.com/smallbiznis/tontine/internal/enforcement/domain"
	obligationdomain "github.com/smallbiznis/tontine/internal/obligation/domain"
	obsmetrics "github.com/smallbiznis/tontine/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/tontine/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	PaymentSvc     paymentdomain.Service
	EnforcementSvc enforcementdomain.Service
	ObligationSvc  obligationdomain.Service
	Config         Config `optional:"true"`
}

type Scheduler struct {
	log   *zap.Logger
	cfg   Config
	genID *snowflake.Node
	clock clock.Clock

	paymentSvc     paymentdomain.Service
	enforcementSvc enforcementdomain.Service
	obligationSvc  obligationdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.PaymentSvc == nil || p.EnforcementSvc == nil || p.ObligationSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:   p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:   p.Config.withDefaults(),
		genID: p.GenID,
		clock: p.Clock,

		paymentSvc:     p.PaymentSvc,
		enforcementSvc: p.EnforcementSvc,
		obligationSvc:  p.ObligationSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// Deadlines are soft: the next tick picks up the remainder.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobStaleAttempts, s.StaleAttemptsJob},
		{JobEnforcementSweep, s.EnforcementSweepJob},
		{JobLateObligations, s.LateObligationsJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// StaleAttemptsJob flags attempts the provider never acknowledged.
func (s *Scheduler) StaleAttemptsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobStaleAttempts, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	flagged, err := s.paymentSvc.FlagStaleAttempts(ctx, s.cfg.StaleAttemptAfter, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.payment.flag.failed", JobStaleAttempts, err)
		return err
	}
	run.AddProcessed(len(flagged))
	obsmetrics.Scheduler().AddBatchProcessed(JobStaleAttempts, "payment_attempt", len(flagged))
	return nil
}

// EnforcementSweepJob applies the blocking policy to stored agent status.
func (s *Scheduler) EnforcementSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobEnforcementSweep, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	result, err := s.enforcementSvc.Sweep(ctx, s.clock.Now(), s.cfg.BatchSize)
	processed := len(result.Blocked) + len(result.Unblocked)
	run.AddProcessed(processed)
	obsmetrics.Scheduler().AddBatchProcessed(JobEnforcementSweep, "agent", processed)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.enforcement.sweep.failed", JobEnforcementSweep, err)
		return err
	}
	if processed > 0 {
		s.logger(ctx).Info("scheduler.enforcement.applied",
			zap.Int("blocked", len(result.Blocked)),
			zap.Int("unblocked", len(result.Unblocked)),
		)
	}
	return nil
}

// LateObligationsJob reports late obligations per agent. It does not write.
func (s *Scheduler) LateObligationsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobLateObligations, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	late, err := s.obligationSvc.LateObligations(ctx, obligationdomain.LateQuery{
		AsOf:  s.clock.Now(),
		Limit: s.cfg.BatchSize,
	})
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.obligation.late.failed", JobLateObligations, err)
		return err
	}
	run.AddProcessed(len(late))
	obsmetrics.Scheduler().AddBatchProcessed(JobLateObligations, "obligation", len(late))

	for agentID, summary := range summarizeLate(late) {
		s.logger(ctx).Info("scheduler.obligation.late",
			zap.String("agent_id", idString(agentID)),
			zap.Int("late_count", summary.count),
			zap.Int64("late_amount", summary.amount),
			zap.Int("max_days_late", summary.maxDaysLate),
		)
	}
	return nil
}

type lateSummary struct {
	count       int
	amount      int64
	maxDaysLate int
}

func summarizeLate(late []obligationdomain.LateObligation) map[snowflake.ID]lateSummary {
	out := make(map[snowflake.ID]lateSummary)
	for _, item := range late {
		summary := out[item.AgentID]
		summary.count++
		summary.amount += item.Amount
		if item.DaysLate > summary.maxDaysLate {
			summary.maxDaysLate = item.DaysLate
		}
		out[item.AgentID] = summary
	}
	return out
}
