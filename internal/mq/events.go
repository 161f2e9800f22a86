package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/libraryd/apiserver/types"
)

const attrEventType = "event_type"

// BorrowEventPublisher serializes borrow lifecycle events onto one channel.
type BorrowEventPublisher struct {
	backend Backend
	channel string
}

func NewBorrowEventPublisher(backend Backend, channel string) *BorrowEventPublisher {
	return &BorrowEventPublisher{backend: backend, channel: channel}
}

func (p *BorrowEventPublisher) PublishBorrowEvent(ctx context.Context, event types.BorrowEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode borrow event: %w", err)
	}
	_, err = p.backend.Publish(ctx, p.channel, data, map[string]string{attrEventType: string(event.Type)})
	return err
}

// DecodeBorrowEvent parses a message produced by BorrowEventPublisher.
func DecodeBorrowEvent(msg Message) (types.BorrowEvent, error) {
	var event types.BorrowEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return types.BorrowEvent{}, fmt.Errorf("decode borrow event %s: %w", msg.ID, err)
	}
	if event.Type == "" || event.BorrowID < 1 {
		return types.BorrowEvent{}, fmt.Errorf("decode borrow event %s: missing type or borrow id", msg.ID)
	}
	return event, nil
}

// AuditHandler writes one audit log line per borrow event. Undecodable
// messages are logged and acknowledged so they are not redelivered forever.
func AuditHandler(logger *zap.Logger) Handler {
	return func(_ context.Context, msg Message) error {
		event, err := DecodeBorrowEvent(msg)
		if err != nil {
			logger.Error("dropping malformed borrow event", zap.String("message_id", msg.ID), zap.Error(err))
			return nil
		}
		logger.Info("borrow event",
			zap.String("type", string(event.Type)),
			zap.Int("borrow_id", event.BorrowID),
			zap.Int("book_id", event.BookID),
			zap.Int("user_id", event.UserID),
			zap.Int("actor_id", event.ActorID),
			zap.String("status", string(event.Status)),
			zap.Time("occurred_at", event.OccurredAt),
		)
		return nil
	}
}
