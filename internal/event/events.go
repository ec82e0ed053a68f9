package event

import (
	"context"

	"trailing_go/internal/domain"
)

// Type defines the type of event.
type Type uint16

const (
	EvPriceUpdate Type = iota + 1
	EvCommand
	EvSystemHalt
)

func (t Type) String() string {
	switch t {
	case EvPriceUpdate:
		return "price_update"
	case EvCommand:
		return "command"
	case EvSystemHalt:
		return "system_halt"
	default:
		return "unknown"
	}
}

// Event is the interface for all sequencer events.
type Event interface {
	GetSeq() uint64
	GetTs() int64
	GetType() Type
}

// BaseEvent contains common fields for all events.
// Ts is unix microseconds.
type BaseEvent struct {
	Seq uint64 `json:"seq"`
	Ts  int64  `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64 { return e.Seq }
func (e BaseEvent) GetTs() int64   { return e.Ts }

// PriceUpdateEvent is the venue's post-swap callback for one market.
// Seq is assigned by the venue feed; Sender is the account whose swap moved
// the price.
type PriceUpdateEvent struct {
	BaseEvent
	Market domain.MarketID `json:"market"`
	Tick   int32           `json:"tick"`
	Sender domain.Account  `json:"sender,omitempty"`
	Source string          `json:"source,omitempty"`
}

func (e PriceUpdateEvent) GetType() Type { return EvPriceUpdate }

// Result is the reply to a CommandEvent.
type Result struct {
	Value any
	Err   error
}

// CommandEvent runs Fn on the sequencer goroutine, serialized with price
// updates. Commands are not part of the feed sequence; Seq is ignored.
type CommandEvent struct {
	BaseEvent
	Name  string
	Fn    func(ctx context.Context) (any, error)
	Reply chan Result
}

func (e CommandEvent) GetType() Type { return EvCommand }

// NewCommand creates a command with a buffered reply channel.
func NewCommand(name string, fn func(ctx context.Context) (any, error)) *CommandEvent {
	return &CommandEvent{Name: name, Fn: fn, Reply: make(chan Result, 1)}
}

// HaltEvent stops the sequencer loop after the events queued before it.
type HaltEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

func (e HaltEvent) GetType() Type { return EvSystemHalt }
