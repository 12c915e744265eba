// Package reconcile holds the queue row state machine.
//
//	pending --(delivered)-----------------------> sent
//	pending --(failed, retry_count+1 < 3)-------> pending
//	pending --(failed, retry_count+1 >= 3)------> failed
//	pending --(channel disabled or missing)-----> cancelled
package reconcile

import (
	"errors"
	"fmt"

	"github.com/aasha-care/aasha-relay/internal/model"
)

type Outcome int

const (
	Delivered Outcome = iota + 1
	DeliveryFailed
	ChannelUnavailable
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case DeliveryFailed:
		return "delivery_failed"
	case ChannelUnavailable:
		return "channel_unavailable"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

var ErrTerminal = errors.New("message is in a terminal status")

type Transition struct {
	Status     model.Status
	RetryCount int
}

func Next(current model.Status, retryCount int, outcome Outcome) (Transition, error) {
	if current.Terminal() {
		return Transition{}, fmt.Errorf("%w: %s", ErrTerminal, current)
	}
	if current != model.Pending {
		return Transition{}, fmt.Errorf("unknown status %q", current)
	}

	switch outcome {
	case Delivered:
		return Transition{Status: model.Sent, RetryCount: retryCount}, nil
	case ChannelUnavailable:
		return Transition{Status: model.Cancelled, RetryCount: retryCount}, nil
	case DeliveryFailed:
		n := retryCount + 1
		if n >= model.MaxRetries {
			return Transition{Status: model.Failed, RetryCount: n}, nil
		}
		return Transition{Status: model.Pending, RetryCount: n}, nil
	}
	return Transition{}, fmt.Errorf("unknown outcome %s", outcome)
}
