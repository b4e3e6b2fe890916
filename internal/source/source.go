// Package source defines the transport contract. A Source subscribes to a
// feed of encoded sensor payloads and emits them as Messages; it knows
// nothing about decoding, validation, or sinks.
package source

import (
	"context"
	"log/slog"
	"time"
)

// Message is one payload received from a transport.
type Message struct {
	// Topic the payload arrived on. Empty when the transport has no
	// topic concept.
	Topic string
	// Payload is the raw encoded reading, untouched.
	Payload []byte
	// ReceivedAt is when the source received the payload.
	ReceivedAt time.Time
	// SourceID identifies the emitting source instance.
	SourceID string
}

// Source is a subscription to a feed of sensor payloads.
// Implementations must select on ctx.Done() at every suspension point so
// shutdown is prompt, and return nil on normal cancellation.
type Source interface {
	// Run subscribes and emits messages to out. Run blocks until ctx is
	// cancelled or an unrecoverable transport error occurs.
	Run(ctx context.Context, out chan<- Message) error
}

// Factory creates a Source from configuration parameters. Factories
// validate required params, apply defaults, and return a fully constructed
// source or a descriptive error. Factories must not start goroutines or
// perform I/O beyond validation.
//
// The logger is optional; a nil logger disables logging. Factories scope
// it with component identity before handing it to the source.
type Factory func(id string, params map[string]string, logger *slog.Logger) (Source, error)
