package testutil

import (
	"context"
	"sync"

	"github.com/libraryd/apiserver/types"
)

// EventRecorder collects published borrow events. Err, when set, is
// returned from every publish after the event is recorded.
type EventRecorder struct {
	mu     sync.Mutex
	events []types.BorrowEvent
	Err    error
}

func (r *EventRecorder) PublishBorrowEvent(_ context.Context, event types.BorrowEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.Err
}

func (r *EventRecorder) Events() []types.BorrowEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.BorrowEvent(nil), r.events...)
}
