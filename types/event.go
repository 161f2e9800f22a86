package types

import "time"

// BorrowEventType names a transition of the borrow lifecycle.
type BorrowEventType string

const (
	BorrowEventCreated         BorrowEventType = "borrow.created"
	BorrowEventReturnRequested BorrowEventType = "borrow.return_requested"
	BorrowEventReturned        BorrowEventType = "borrow.returned"
)

// BorrowEvent is published on the message queue after a committed transition.
type BorrowEvent struct {
	Type       BorrowEventType `json:"type"`
	BorrowID   int             `json:"borrow_id"`
	BookID     int             `json:"book_id"`
	UserID     int             `json:"user_id"`
	ActorID    int             `json:"actor_id"`
	Status     BorrowStatus    `json:"status"`
	OccurredAt time.Time       `json:"occurred_at"`
}
