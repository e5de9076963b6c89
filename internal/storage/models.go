package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TriggerRecord is one archived alert trigger.
type TriggerRecord struct {
	ID         int64
	EventID    string
	Category   string
	SourceID   string
	MetricKey  string
	Severity   string
	Current    decimal.Decimal
	Previous   decimal.Decimal
	ChangePct  decimal.Decimal
	Payload    json.RawMessage
	OccurredAt time.Time
	CreatedAt  time.Time
}
