// Package broker carries dispatched progress snapshots to every server
// instance that may hold followers of the task.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/common"
)

// ErrClosed is returned when publishing on a closed broker
var ErrClosed = errors.New("broker is closed")

// Envelope is one snapshot addressed to the followers of a task
type Envelope struct {
	TaskID  string          `json:"task_id"`
	Payload json.RawMessage `json:"payload"`
}

// Handler receives envelopes delivered by a broker
type Handler func(ctx context.Context, envelope Envelope)

// Broker publishes envelopes and delivers them to subscribed handlers.
// Envelopes published from one goroutine are delivered in publish order.
type Broker interface {
	Publish(ctx context.Context, envelope Envelope) error
	Subscribe(handler Handler)
	Close() error
}

// New creates the broker selected by config
func New(config *common.BrokerConfig, logger arbor.ILogger) (Broker, error) {
	switch config.Type {
	case "", "local":
		logger.Debug().Msg("Using in-process broker")
		return NewLocalBroker(), nil
	case "amqp":
		return NewAMQPBroker(config.URL, config.Exchange, logger)
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", config.Type)
	}
}
