package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptStatusPending    AttemptStatus = "pending"
	AttemptStatusSuccessful AttemptStatus = "successful"
	AttemptStatusFailed     AttemptStatus = "failed"
)

const DefaultCurrency = "XOF"

// Attempt is one outbound request asking an agent's wallet to settle a set
// of commissions. Successful and failed are terminal.
type Attempt struct {
	ID               snowflake.ID   `json:"id" gorm:"primaryKey"`
	TransactionID    string         `json:"transaction_id" gorm:"type:text;not null;uniqueIndex:ux_payment_attempts_transaction"`
	AgentID          snowflake.ID   `json:"agent_id" gorm:"not null;index:idx_payment_attempts_agent"`
	Provider         string         `json:"provider" gorm:"type:text;not null"`
	Amount           int64          `json:"amount" gorm:"not null"`
	Currency         string         `json:"currency" gorm:"type:text;not null;default:'XOF'"`
	Phone            string         `json:"phone" gorm:"type:text;not null"`
	CommissionIDs    datatypes.JSON `json:"commission_ids" gorm:"not null"`
	ExternalID       *string        `json:"external_id,omitempty" gorm:"type:text"`
	Status           AttemptStatus  `json:"status" gorm:"type:text;not null;default:'pending'"`
	FailureReason    *string        `json:"failure_reason,omitempty" gorm:"type:text"`
	ProviderResponse datatypes.JSON `json:"provider_response,omitempty"`
	InitiateError    *string        `json:"initiate_error,omitempty" gorm:"type:text"`
	WebhookReceived  bool           `json:"webhook_received" gorm:"not null;default:false"`
	FlaggedAt        *time.Time     `json:"flagged_at,omitempty"`
	ProcessedAt      *time.Time     `json:"processed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time      `json:"updated_at" gorm:"not null"`
}

func (Attempt) TableName() string { return "payment_attempts" }

func (a Attempt) IsTerminal() bool {
	return a.Status == AttemptStatusSuccessful || a.Status == AttemptStatusFailed
}

// AwaitingProvider is true while the provider never acknowledged the attempt.
func (a Attempt) AwaitingProvider() bool {
	return a.Status == AttemptStatusPending && (a.ExternalID == nil || *a.ExternalID == "")
}

// CommissionIDList decodes the stored commission ids. Ids are stored as
// strings to survive JSON number precision.
func (a Attempt) CommissionIDList() ([]snowflake.ID, error) {
	if len(a.CommissionIDs) == 0 {
		return nil, nil
	}
	var raw []string
	if err := json.Unmarshal(a.CommissionIDs, &raw); err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, 0, len(raw))
	for _, value := range raw {
		id, err := snowflake.ParseString(value)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func EncodeCommissionIDs(ids []snowflake.ID) (datatypes.JSON, error) {
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(payload), nil
}
