package subscription

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-room/domain"
)

// EventApplier consumes REST-side board events.
type EventApplier interface {
	ApplyBoardEvent(ctx context.Context, ev domain.BoardEvent) error
}

var reconnectDelay = time.Second

// SubscribeBoardEvents listens on channel and applies every board event to the hub.
// It resubscribes when the pub/sub channel closes and returns when ctx is done.
func SubscribeBoardEvents(
	ctx context.Context,
	logger *log.Logger,
	rc *redis.Client,
	channel string,
	hub EventApplier,
) {
	for {
		sub := rc.Subscribe(ctx, channel)
		consume(ctx, logger, sub.Channel(), hub)
		_ = sub.Close()

		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func consume(ctx context.Context, logger *log.Logger, ch <-chan *redis.Message, hub EventApplier) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := domain.DecodeBoardEvent([]byte(msg.Payload))
			if err != nil {
				logger.Errorf("unable to parse board event: %v", err)
				continue
			}
			if err := hub.ApplyBoardEvent(ctx, ev); err != nil {
				logger.WithFields(log.Fields{"board": ev.BoardID, "event": ev.Type}).
					WithError(err).Error("apply board event")
			}
		}
	}
}
