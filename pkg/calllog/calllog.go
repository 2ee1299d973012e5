package calllog

import (
	"context"
	"time"
)

// Outcome is how a handled channel ended, or the provisional state of an
// outbound dial.
type Outcome string

const (
	OutcomeFinished  Outcome = "finished"
	OutcomeFailed    Outcome = "failed"
	OutcomeRinging   Outcome = "ringing"
	OutcomeAbandoned Outcome = "abandoned"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Record is written once per handled channel and once per originated call.
type Record struct {
	ChannelID string    `json:"channel_id" bson:"channel_id"`
	Outcome   Outcome   `json:"outcome" bson:"outcome"`
	StartedAt time.Time `json:"started_at" bson:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
	Direction Direction `json:"direction" bson:"direction"`
	Endpoint  string    `json:"endpoint,omitempty" bson:"endpoint,omitempty"`
	Detail    string    `json:"detail,omitempty" bson:"detail,omitempty"`
}

// Sink is the append-only call log handed to channel handlers.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// Lister returns the newest records first.
type Lister interface {
	Recent(ctx context.Context, offset, limit int) ([]Record, error)
}

// Store is a sink that can also be listed.
type Store interface {
	Sink
	Lister
}
