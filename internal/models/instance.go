package models

import (
	"time"

	"github.com/google/uuid"

	"almejal/eldorado/internal/timeframe"
)

// InstanceType partitions instances by role: a mita owns markets on one
// exchange, an ig manages the event queue and validations platform-wide.
type InstanceType string

const (
	InstanceMita InstanceType = "mita"
	InstanceIg   InstanceType = "ig"
)

// InstanceStatus is the reported state of a running process.
type InstanceStatus string

const (
	InstanceNew        InstanceStatus = "new"
	InstanceSync       InstanceStatus = "sync"
	InstanceActive     InstanceStatus = "active"
	InstanceRestart    InstanceStatus = "restart"
	InstancePaused     InstanceStatus = "paused"
	InstanceTerminated InstanceStatus = "terminated"
)

// Instance is a row in the instances table. It doubles as the market lease:
// an instance holding a fresh (droplet, exchange) row owns that exchange's
// mita markets, and other instances must not act on them until the lease
// expires.
type Instance struct {
	Type          InstanceType
	Droplet       string
	ExchangeName  *string
	Status        InstanceStatus
	Restart       bool
	LastRestartTs *time.Time
	RestartCount  int
	NumMarkets    int
	LastUpdateTs  time.Time
	LastMessageTs *time.Time
}

// LeaseExpired reports whether the instance's heartbeat is stale. Expiry is
// a multiple of the base timeframe; the default multiple is 2.
func (i *Instance) LeaseExpired(tf timeframe.TimeFrame, multiple int, now time.Time) bool {
	if multiple <= 0 {
		multiple = 2
	}
	return now.Sub(i.LastUpdateTs) > time.Duration(multiple)*tf.Duration()
}

// Alert is an insert-only notification row carrying instance context.
type Alert struct {
	AlertID      uuid.UUID
	InstanceType InstanceType
	Droplet      string
	ExchangeName *string
	Timestamp    time.Time
	Message      string
}
