package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Rules are the business parameters operators may tune without a restart.
type Rules struct {
	MinDailyAmount      int64         `mapstructure:"minDailyAmount"`
	CommissionAmount    int64         `mapstructure:"commissionAmount"`
	CommissionGraceDays int           `mapstructure:"commissionGraceDays"`
	TokenSafetyMargin   time.Duration `mapstructure:"tokenSafetyMargin"`
	StaleAttemptAfter   time.Duration `mapstructure:"staleAttemptAfter"`
	LoanRatioPercent    int64         `mapstructure:"loanRatioPercent"`
}

func DefaultRules() Rules {
	return Rules{
		MinDailyAmount:      200,
		CommissionAmount:    100,
		CommissionGraceDays: 6,
		TokenSafetyMargin:   60 * time.Second,
		StaleAttemptAfter:   30 * time.Minute,
		LoanRatioPercent:    80,
	}
}

type RulesHolder struct {
	current atomic.Value // holds Rules
}

// NewStaticRulesHolder returns a holder that never reloads.
func NewStaticRulesHolder(rules Rules) *RulesHolder {
	holder := &RulesHolder{}
	holder.current.Store(rules)
	return holder
}

func NewRulesHolder(log *zap.Logger) (*RulesHolder, error) {
	log = log.Named("config.rules")
	v := viper.New()

	v.SetConfigName("rules")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tontine/config")
	v.AddConfigPath("/etc/tontine")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TONTINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRules()
	v.SetDefault("rules.minDailyAmount", defaults.MinDailyAmount)
	v.SetDefault("rules.commissionAmount", defaults.CommissionAmount)
	v.SetDefault("rules.commissionGraceDays", defaults.CommissionGraceDays)
	v.SetDefault("rules.tokenSafetyMargin", defaults.TokenSafetyMargin)
	v.SetDefault("rules.staleAttemptAfter", defaults.StaleAttemptAfter)
	v.SetDefault("rules.loanRatioPercent", defaults.LoanRatioPercent)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var rules Rules
	if err := v.UnmarshalKey("rules", &rules); err != nil {
		return nil, err
	}
	if err := validateRules(rules); err != nil {
		return nil, err
	}

	holder := NewStaticRulesHolder(rules)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Rules
		if err := v.UnmarshalKey("rules", &updated); err != nil {
			log.Warn("rules reload failed", zap.Error(err))
			return
		}
		if err := validateRules(updated); err != nil {
			log.Warn("invalid rules ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("rules reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *RulesHolder) Get() Rules {
	if h == nil {
		return DefaultRules()
	}
	return h.current.Load().(Rules)
}

func validateRules(r Rules) error {
	if r.MinDailyAmount <= 0 {
		return errors.New("rules.minDailyAmount must be positive")
	}
	if r.CommissionAmount <= 0 {
		return errors.New("rules.commissionAmount must be positive")
	}
	if r.CommissionGraceDays < 0 {
		return errors.New("rules.commissionGraceDays cannot be negative")
	}
	if r.TokenSafetyMargin < 0 {
		return errors.New("rules.tokenSafetyMargin cannot be negative")
	}
	if r.StaleAttemptAfter <= 0 {
		return errors.New("rules.staleAttemptAfter must be positive")
	}
	if r.LoanRatioPercent < 0 || r.LoanRatioPercent > 100 {
		return errors.New("rules.loanRatioPercent must be within 0..100")
	}
	return nil
}
