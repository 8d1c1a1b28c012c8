package notify

import (
	"context"
	"fmt"

	pubnub "github.com/pubnub/go/v7"
)

// ChannelPrefix prefixes the per-event availability channel.
const ChannelPrefix = "event-availability-"

type publishFunc func(channel string, message map[string]any) error

// PubNubPublisher broadcasts the remaining capacity of an event after every
// completed booking, so open booking pages can update live.
type PubNubPublisher struct {
	publish publishFunc
}

// NewPubNubPublisher creates a publisher with the given keys.
func NewPubNubPublisher(publishKey, subscribeKey, userID string) *PubNubPublisher {
	cfg := pubnub.NewConfigWithUserId(pubnub.UserId(userID))
	cfg.PublishKey = publishKey
	cfg.SubscribeKey = subscribeKey
	pn := pubnub.NewPubNub(cfg)

	return &PubNubPublisher{
		publish: func(channel string, message map[string]any) error {
			_, status, err := pn.Publish().
				Channel(channel).
				Message(message).
				Execute()
			if err != nil {
				return err
			}
			if status.StatusCode != 0 && (status.StatusCode < 200 || status.StatusCode > 299) {
				return fmt.Errorf("status %d", status.StatusCode)
			}
			return nil
		},
	}
}

// Channel returns the availability channel for an event.
func Channel(eventID string) string {
	return ChannelPrefix + eventID
}

func (p *PubNubPublisher) Notify(_ context.Context, c Completion) error {
	msg := map[string]any{
		"type":      "availability",
		"event_id":  c.Event.ID,
		"capacity":  c.Event.Capacity,
		"remaining": c.Event.Remaining(),
		"sold_out":  c.Event.IsFull(),
	}
	if err := p.publish(Channel(c.Event.ID), msg); err != nil {
		return fmt.Errorf("pubnub publish: %w", err)
	}
	return nil
}
