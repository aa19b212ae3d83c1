package notify

import (
	"errors"

	"shipyard/pkg/cloudevent"
)

// FanOut queues the payload for every destination. Full-buffer drops are
// already counted and logged by the notifier, so only unexpected errors are
// returned, joined.
func FanOut(n Notifier, destinations []string, signingKey string, payload *cloudevent.CloudEvent) error {
	var errs []error
	for _, dest := range destinations {
		err := n.Publish(&Event{
			Payload:     payload,
			Destination: dest,
			SigningKey:  signingKey,
		})
		if err != nil && !errors.Is(err, ErrBufferFull) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
