package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"github.com/smallbiznis/tontine/internal/clock"
	commissiondomain "github.com/smallbiznis/tontine/internal/commission/domain"
	"github.com/smallbiznis/tontine/internal/config"
	"github.com/smallbiznis/tontine/internal/events"
	"github.com/smallbiznis/tontine/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tontine/internal/observability/metrics"
	"github.com/smallbiznis/tontine/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/tontine/internal/payment/domain"
	"github.com/smallbiznis/tontine/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	transactionPrefix      = "TXN"
	defaultProviderTimeout = 30 * time.Second
	defaultListLimit       = 50
	maxListLimit           = 200
	defaultStaleLimit      = 100
)

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Config        config.Config
	Rules         *config.RulesHolder
	Repo          paymentdomain.Repository
	Adapters      *adapters.Registry
	CommissionSvc commissiondomain.Service
	Outbox        *events.Outbox
	Dispatcher    events.Dispatcher
	Limiter       *ratelimit.PaymentLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics       `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	rules    *config.RulesHolder
	validate *validator.Validate

	repo            paymentdomain.Repository
	adapters        *adapters.Registry
	commissionSvc   commissiondomain.Service
	outbox          *events.Outbox
	dispatcher      events.Dispatcher
	limiter         *ratelimit.PaymentLimiter
	metrics         *obsmetrics.Metrics
	providerTimeout time.Duration
}

func NewService(p ServiceParam) paymentdomain.Service {
	timeout := p.Config.ProviderTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	dispatcher := p.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NopDispatcher{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		rules:    p.Rules,
		validate: validator.New(),

		repo:            p.Repo,
		adapters:        p.Adapters,
		commissionSvc:   p.CommissionSvc,
		outbox:          p.Outbox,
		dispatcher:      dispatcher,
		limiter:         p.Limiter,
		metrics:         p.ObsMetrics,
		providerTimeout: timeout,
	}
}

// Initiate persists a pending attempt for a set of the agent's pending
// commissions and asks the provider to collect it. The outbound call is made
// once. A failure leaves the attempt pending with its initiate error, and
// with the reserved reference when the adapter allocates one.
func (s *Service) Initiate(ctx context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.Attempt, error) {
	req.Provider = adapters.Normalize(req.Provider)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := s.validateInitiate(req); err != nil {
		return nil, err
	}

	adapter, err := s.adapters.Adapter(req.Provider)
	if err != nil {
		return nil, err
	}

	ids := lo.Uniq(req.CommissionIDs)
	if lo.Contains(ids, snowflake.ID(0)) {
		return nil, paymentdomain.ErrInvalidCommissionSet
	}

	if err := s.limiter.AllowAgent(ctx, req.AgentID.String()); err != nil {
		return nil, err
	}

	commissions, err := s.commissionSvc.GetByIDs(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	if !validCommissionSet(commissions, ids, req.AgentID) {
		return nil, paymentdomain.ErrInvalidCommissionSet
	}

	encoded, err := paymentdomain.EncodeCommissionIDs(ids)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	attempt := paymentdomain.Attempt{
		ID:            s.genID.Generate(),
		TransactionID: newTransactionID(),
		AgentID:       req.AgentID,
		Provider:      req.Provider,
		Amount:        req.Amount,
		Currency:      paymentdomain.DefaultCurrency,
		Phone:         req.Phone,
		CommissionIDs: encoded,
		Status:        paymentdomain.AttemptStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if allocator, ok := adapter.(paymentdomain.ReferenceAllocator); ok {
		reference := allocator.NewReference()
		attempt.ExternalID = &reference
	}
	if err := s.repo.Insert(ctx, s.db, &attempt); err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("transaction_id", attempt.TransactionID),
		zap.String("provider", attempt.Provider),
		zap.String("agent_id", attempt.AgentID.String()),
	)

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	resp, callErr := adapter.RequestPayment(callCtx, paymentdomain.PaymentRequest{
		TransactionID: attempt.TransactionID,
		Amount:        attempt.Amount,
		Currency:      attempt.Currency,
		Phone:         attempt.Phone,
		ReferenceID:   lo.FromPtr(attempt.ExternalID),
	})
	cancel()

	writeCtx := context.WithoutCancel(ctx)
	if callErr != nil {
		message := callErr.Error()
		if err := s.repo.SetInitiateError(writeCtx, s.db, attempt.ID, message, s.clock.Now()); err != nil {
			log.Error("failed to record initiate error", zap.Error(err))
		}
		attempt.InitiateError = &message
		s.metrics.RecordPaymentAttempt(ctx, attempt.Provider, "initiate_failed")
		log.Warn("payment initiation failed", zap.Error(callErr))
		return &attempt, fmt.Errorf("%w: %w", paymentdomain.ErrProviderUnavailable, callErr)
	}

	raw := resp.Raw
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	reserved := attempt.ExternalID != nil && *attempt.ExternalID == resp.ExternalID
	if err := s.repo.SetExternalID(writeCtx, s.db, attempt.ID, resp.ExternalID, datatypes.JSON(raw), s.clock.Now()); err != nil {
		log.Error("failed to store external id", zap.String("external_id", resp.ExternalID), zap.Error(err))
		if !reserved {
			return &attempt, err
		}
	}
	externalID := resp.ExternalID
	attempt.ExternalID = &externalID
	attempt.ProviderResponse = datatypes.JSON(raw)

	s.metrics.RecordPaymentAttempt(ctx, attempt.Provider, "initiated")
	log.Info("payment initiated", zap.String("external_id", externalID))
	return &attempt, nil
}

func (s *Service) validateInitiate(req paymentdomain.InitiateRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return paymentdomain.ErrInvalidRequest
	}
	switch verrs[0].Field() {
	case "Provider":
		return paymentdomain.ErrInvalidProvider
	case "Phone":
		return paymentdomain.ErrInvalidPhone
	case "Amount":
		return paymentdomain.ErrInvalidAmount
	case "CommissionIDs":
		return paymentdomain.ErrInvalidCommissionSet
	default:
		return paymentdomain.ErrInvalidRequest
	}
}

func validCommissionSet(commissions []commissiondomain.Commission, ids []snowflake.ID, agentID snowflake.ID) bool {
	if len(commissions) != len(ids) {
		return false
	}
	return lo.EveryBy(commissions, func(c commissiondomain.Commission) bool {
		return c.AgentID == agentID && c.Status == commissiondomain.StatusPending
	})
}

func (s *Service) ApplyWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.WebhookResult, error) {
	provider = adapters.Normalize(provider)
	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return paymentdomain.WebhookResult{}, err
	}
	if err := adapter.Verify(payload, headers); err != nil {
		s.metrics.RecordWebhook(ctx, provider, "invalid_signature")
		return paymentdomain.WebhookResult{}, err
	}
	evt, err := adapter.ParseWebhook(payload)
	if err != nil {
		s.metrics.RecordWebhook(ctx, provider, "invalid_payload")
		return paymentdomain.WebhookResult{}, err
	}
	return s.settle(ctx, provider, evt, payload, true)
}

// settle applies a normalized provider outcome. The status compare-and-swap
// and commission writes share one transaction, so a concurrent replay either
// observes the terminal status or loses the swap.
func (s *Service) settle(ctx context.Context, provider string, evt paymentdomain.WebhookEvent, raw []byte, fromWebhook bool) (paymentdomain.WebhookResult, error) {
	log := logger.WithContext(ctx, s.log).With(
		zap.String("provider", provider),
		zap.String("external_id", evt.ExternalID),
		zap.String("outcome", string(evt.Outcome)),
	)

	var (
		result  paymentdomain.WebhookResult
		emitted []events.Event
	)
	now := s.clock.Now()
	status := paymentdomain.AttemptStatusFailed
	if evt.Outcome == paymentdomain.OutcomeSuccess {
		status = paymentdomain.AttemptStatusSuccessful
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempt, err := s.repo.FindByExternalID(ctx, tx, provider, evt.ExternalID)
		if err != nil {
			return err
		}
		if attempt == nil {
			result.Unknown = true
			return paymentdomain.ErrUnknownAttempt
		}
		result.Attempt = attempt
		if attempt.IsTerminal() {
			result.Duplicate = true
			return paymentdomain.ErrDuplicateWebhook
		}

		var reason *string
		if status == paymentdomain.AttemptStatusFailed && strings.TrimSpace(evt.Reason) != "" {
			reason = lo.ToPtr(evt.Reason)
		}
		swapped, err := s.repo.Settle(ctx, tx, attempt.ID, status, reason, datatypes.JSON(raw), fromWebhook, now)
		if err != nil {
			return err
		}
		if !swapped {
			result.Duplicate = true
			return paymentdomain.ErrDuplicateWebhook
		}

		attempt.Status = status
		attempt.FailureReason = reason
		attempt.ProviderResponse = datatypes.JSON(raw)
		attempt.WebhookReceived = attempt.WebhookReceived || fromWebhook
		attempt.ProcessedAt = &now
		attempt.UpdatedAt = now

		if status != paymentdomain.AttemptStatusSuccessful {
			return nil
		}

		ids, err := attempt.CommissionIDList()
		if err != nil {
			return err
		}
		for _, commissionID := range ids {
			err := s.commissionSvc.MarkPaid(ctx, tx, commissionID, attempt.ID, now)
			if errors.Is(err, commissiondomain.ErrAlreadyPaid) {
				log.Debug("commission already paid", zap.String("commission_id", commissionID.String()))
				continue
			}
			if err != nil {
				return err
			}
			emitted = append(emitted, s.outbox.New(events.CommissionPaid, events.AggregateCommission, commissionID, map[string]any{
				"commission_id":      commissionID.String(),
				"agent_id":           attempt.AgentID.String(),
				"payment_attempt_id": attempt.ID.String(),
				"transaction_id":     attempt.TransactionID,
				"provider":           attempt.Provider,
			}, now))
		}
		return s.outbox.Append(ctx, tx, emitted...)
	})

	switch {
	case errors.Is(err, paymentdomain.ErrUnknownAttempt):
		s.metrics.RecordWebhook(ctx, provider, "unknown")
		log.Info("outcome for unknown payment attempt discarded")
		return result, err
	case errors.Is(err, paymentdomain.ErrDuplicateWebhook):
		s.metrics.RecordWebhook(ctx, provider, "duplicate")
		log.Debug("duplicate payment outcome discarded")
		return result, err
	case err != nil:
		s.metrics.RecordWebhook(ctx, provider, "error")
		log.Error("payment settlement failed", zap.Error(err))
		return paymentdomain.WebhookResult{}, err
	}

	result.Settled = true
	s.metrics.RecordWebhook(ctx, provider, "settled")
	s.metrics.RecordPaymentAttempt(ctx, provider, string(status))
	if len(emitted) > 0 {
		s.metrics.RecordCommissionsPaid(ctx, provider, len(emitted))
		s.dispatcher.Dispatch(ctx, emitted...)
	}
	log.Info("payment attempt settled",
		zap.String("transaction_id", result.Attempt.TransactionID),
		zap.String("status", string(status)),
		zap.Int("commissions_paid", len(emitted)),
	)
	return result, nil
}

// CheckStatus returns the attempt, first polling the provider when the
// attempt is still awaiting its outcome and the provider supports it.
func (s *Service) CheckStatus(ctx context.Context, transactionID string) (*paymentdomain.Attempt, error) {
	attempt, err := s.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != paymentdomain.AttemptStatusPending || attempt.AwaitingProvider() {
		return attempt, nil
	}

	adapter, err := s.adapters.Adapter(attempt.Provider)
	if err != nil {
		return attempt, nil
	}
	poller, ok := adapter.(paymentdomain.StatusPoller)
	if !ok {
		return attempt, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	evt, raw, err := poller.PollStatus(callCtx, *attempt.ExternalID)
	cancel()
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("payment status poll failed",
			zap.String("transaction_id", attempt.TransactionID),
			zap.Error(err),
		)
		return attempt, nil
	}
	if evt.Outcome == paymentdomain.OutcomePending {
		return attempt, nil
	}

	result, err := s.settle(ctx, attempt.Provider, evt, raw, false)
	if err != nil && !errors.Is(err, paymentdomain.ErrDuplicateWebhook) {
		return nil, err
	}
	if result.Settled && result.Attempt != nil {
		return result.Attempt, nil
	}
	return s.GetByTransactionID(ctx, transactionID)
}

// FlagStaleAttempts marks pending attempts the provider never acknowledged
// for operator review. They are never retried automatically.
func (s *Service) FlagStaleAttempts(ctx context.Context, olderThan time.Duration, limit int) ([]paymentdomain.Attempt, error) {
	if olderThan <= 0 {
		olderThan = s.rules.Get().StaleAttemptAfter
	}
	if limit <= 0 {
		limit = defaultStaleLimit
	}
	now := s.clock.Now()
	flagged, err := s.repo.FlagStale(ctx, s.db, now.Add(-olderThan), limit, now)
	if err != nil {
		return nil, err
	}
	for _, attempt := range flagged {
		s.log.Warn("payment attempt flagged for review",
			zap.String("transaction_id", attempt.TransactionID),
			zap.String("provider", attempt.Provider),
			zap.String("agent_id", attempt.AgentID.String()),
			zap.Time("created_at", attempt.CreatedAt),
		)
		s.metrics.RecordPaymentAttempt(ctx, attempt.Provider, "flagged")
	}
	return flagged, nil
}

func (s *Service) ListByAgent(ctx context.Context, agentID snowflake.ID, limit int) ([]paymentdomain.Attempt, error) {
	if agentID == 0 {
		return nil, paymentdomain.ErrInvalidRequest
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListByAgent(ctx, s.db, agentID, limit)
}

func (s *Service) GetByTransactionID(ctx context.Context, transactionID string) (*paymentdomain.Attempt, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, paymentdomain.ErrAttemptNotFound
	}
	attempt, err := s.repo.FindByTransactionID(ctx, s.db, transactionID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, paymentdomain.ErrAttemptNotFound
	}
	return attempt, nil
}

func newTransactionID() string {
	return transactionPrefix + ulid.Make().String()
}
