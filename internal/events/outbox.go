package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Record is the persisted form of an Event.
type Record struct {
	ID            snowflake.ID   `gorm:"primaryKey"`
	EventType     string         `gorm:"type:text;not null;index:idx_domain_events_type_time"`
	AggregateType string         `gorm:"type:text;not null;index:idx_domain_events_aggregate"`
	AggregateID   snowflake.ID   `gorm:"not null;index:idx_domain_events_aggregate"`
	Payload       datatypes.JSON `gorm:"not null"`
	OccurredAt    time.Time      `gorm:"not null;index:idx_domain_events_type_time"`
}

func (Record) TableName() string { return "domain_events" }

type Outbox struct {
	genID *snowflake.Node
}

func NewOutbox(genID *snowflake.Node) *Outbox {
	return &Outbox{genID: genID}
}

func (o *Outbox) New(typ Type, aggregateType string, aggregateID snowflake.ID, payload map[string]any, at time.Time) Event {
	return Event{
		ID:            o.genID.Generate(),
		Type:          typ,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payload,
		OccurredAt:    at.UTC(),
	}
}

// Append writes events using the caller's transaction handle.
func (o *Outbox) Append(ctx context.Context, tx *gorm.DB, evts ...Event) error {
	for _, evt := range evts {
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", evt.Type, err)
		}
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO domain_events (id, event_type, aggregate_type, aggregate_id, payload, occurred_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			evt.ID,
			string(evt.Type),
			evt.AggregateType,
			evt.AggregateID,
			datatypes.JSON(payload),
			evt.OccurredAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (o *Outbox) ListByAggregate(ctx context.Context, db *gorm.DB, aggregateType string, aggregateID snowflake.ID) ([]Record, error) {
	var records []Record
	err := db.WithContext(ctx).Raw(
		`SELECT id, event_type, aggregate_type, aggregate_id, payload, occurred_at
		 FROM domain_events
		 WHERE aggregate_type = ? AND aggregate_id = ?
		 ORDER BY occurred_at ASC, id ASC`,
		aggregateType,
		aggregateID,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// CountByType is used by reporting and tests.
func (o *Outbox) CountByType(ctx context.Context, db *gorm.DB, typ Type) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM domain_events WHERE event_type = ?`,
		string(typ),
	).Scan(&count).Error
	return count, err
}
