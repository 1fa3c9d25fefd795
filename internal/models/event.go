package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"almejal/eldorado/internal/timeframe"
)

// EventType describes the work an event row asks for.
type EventType string

const (
	EventBackfill    EventType = "backfill"
	EventForwardFill EventType = "forwardfill"
	EventRevalidate  EventType = "revalidate"
)

// ParseEventType validates an event type read from the database.
func ParseEventType(s string) (EventType, error) {
	switch et := EventType(strings.ToLower(s)); et {
	case EventBackfill, EventForwardFill, EventRevalidate:
		return et, nil
	default:
		return "", fmt.Errorf("%q is not a supported event type", s)
	}
}

// EventStatus is the lifecycle of a queued work item: created new, claimed
// open, resolved done or error.
type EventStatus string

const (
	EventNew   EventStatus = "new"
	EventOpen  EventStatus = "open"
	EventDone  EventStatus = "done"
	EventError EventStatus = "error"
)

// Event is a durable work item on the database-backed queue. An event with a
// nil Droplet may be claimed by any instance; otherwise only by the named one.
// Delivery is at least once, so all consumers must be idempotent.
type Event struct {
	EventID      uuid.UUID
	Droplet      *string
	EventType    EventType
	ExchangeName string
	MarketID     uuid.UUID
	StartTs      *time.Time
	EndTs        *time.Time
	CreatedTs    time.Time
	ProcessedTs  *time.Time
	Status       EventStatus
	Notes        *string
}

// ValidationType distinguishes how a candle validation was raised.
type ValidationType string

const (
	ValidationAuto    ValidationType = "auto"
	ValidationManual  ValidationType = "manual"
	ValidationArchive ValidationType = "archive"
)

// CandleValidation is a queued assertion that a candle must be re-checked or
// repaired, keyed by (exchange, market, datetime, duration).
type CandleValidation struct {
	ExchangeName string
	MarketID     uuid.UUID
	Datetime     time.Time
	Duration     int64 // bucket length in seconds
	Type         ValidationType
	CreatedTs    time.Time
	ProcessedTs  *time.Time
	Status       EventStatus
	Notes        *string
}

// TimeFrame resolves the validation's duration to a timeframe.
func (v *CandleValidation) TimeFrame() (timeframe.TimeFrame, error) {
	return timeframe.FromSeconds(v.Duration)
}
