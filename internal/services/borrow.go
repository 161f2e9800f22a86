package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/libraryd/apiserver/types"
)

// BorrowRepository defines persistence operations for borrows.
type BorrowRepository interface {
	Get(ctx context.Context, id int) (types.Borrow, error)
	Create(ctx context.Context, bookID, userID int, at time.Time) (types.Borrow, error)
	MarkReturnRequested(ctx context.Context, id, userID int) (types.Borrow, error)
	CompleteReturn(ctx context.Context, id int, at time.Time, requireRequest bool) (types.Borrow, error)
	LatestByBook(ctx context.Context, onlyUnavailable bool) (map[int]types.Borrow, error)
	ListByUser(ctx context.Context, userID int) ([]types.Borrow, error)
}

// EventPublisher receives borrow lifecycle events after they commit.
type EventPublisher interface {
	PublishBorrowEvent(ctx context.Context, event types.BorrowEvent) error
}

// CatalogEntry is a book together with its most recent borrow, if any.
type CatalogEntry struct {
	Book   types.Book    `json:"book"`
	Borrow *types.Borrow `json:"borrow,omitempty"`
}

// BorrowService runs the borrow lifecycle:
// borrowed -> return requested -> returned, plus the direct return path.
type BorrowService struct {
	borrows  BorrowRepository
	books    BookRepository
	events   EventPublisher
	logger   *zap.Logger
	now      func() time.Time
	attempts int
	delay    time.Duration
}

// BorrowServiceOption configures a BorrowService.
type BorrowServiceOption func(*BorrowService)

// WithEventPublisher publishes lifecycle events through p.
func WithEventPublisher(p EventPublisher) BorrowServiceOption {
	return func(s *BorrowService) {
		s.events = p
	}
}

// WithClock overrides the source of borrow and return timestamps.
func WithClock(now func() time.Time) BorrowServiceOption {
	return func(s *BorrowService) {
		s.now = now
	}
}

// WithConflictRetry sets how often a transition that lost a race is re-decided.
func WithConflictRetry(attempts int, baseDelay time.Duration) BorrowServiceOption {
	return func(s *BorrowService) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if baseDelay >= 0 {
			s.delay = baseDelay
		}
	}
}

func NewBorrowService(borrows BorrowRepository, books BookRepository, logger *zap.Logger, opts ...BorrowServiceOption) *BorrowService {
	s := &BorrowService{
		borrows:  borrows,
		books:    books,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		attempts: defaultConflictAttempts,
		delay:    defaultConflictDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BorrowService) Get(ctx context.Context, id int) (types.Borrow, error) {
	return s.borrows.Get(ctx, id)
}

// Borrow lends an available book to the user.
func (s *BorrowService) Borrow(ctx context.Context, bookID, userID int) (types.Borrow, error) {
	var created types.Borrow
	err := retryOnConflict(ctx, s.attempts, s.delay, func(ctx context.Context) error {
		book, err := s.books.Get(ctx, bookID)
		if err != nil {
			return err
		}
		if err := decideBorrow(book); err != nil {
			return err
		}
		created, err = s.borrows.Create(ctx, bookID, userID, s.now())
		return err
	})
	if err != nil {
		return types.Borrow{}, err
	}

	s.publish(ctx, types.BorrowEventCreated, created, userID)
	return created, nil
}

// RequestReturn flags the user's open borrow for librarian approval.
func (s *BorrowService) RequestReturn(ctx context.Context, borrowID, userID int) (types.Borrow, error) {
	var updated types.Borrow
	err := retryOnConflict(ctx, s.attempts, s.delay, func(ctx context.Context) error {
		current, err := s.borrows.Get(ctx, borrowID)
		if err != nil {
			return err
		}
		if err := decideRequestReturn(current, userID); err != nil {
			return err
		}
		updated, err = s.borrows.MarkReturnRequested(ctx, borrowID, userID)
		return err
	})
	if err != nil {
		return types.Borrow{}, err
	}

	s.publish(ctx, types.BorrowEventReturnRequested, updated, userID)
	return updated, nil
}

// ApproveReturn completes a requested return and makes the book available.
func (s *BorrowService) ApproveReturn(ctx context.Context, borrowID, librarianID int) (types.Borrow, error) {
	var updated types.Borrow
	err := retryOnConflict(ctx, s.attempts, s.delay, func(ctx context.Context) error {
		current, err := s.borrows.Get(ctx, borrowID)
		if err != nil {
			return err
		}
		if err := decideApproveReturn(current); err != nil {
			return err
		}
		updated, err = s.borrows.CompleteReturn(ctx, borrowID, s.now(), true)
		return err
	})
	if err != nil {
		return types.Borrow{}, err
	}

	s.publish(ctx, types.BorrowEventReturned, updated, librarianID)
	return updated, nil
}

// ForceReturn closes an open borrow without a return request.
func (s *BorrowService) ForceReturn(ctx context.Context, borrowID, actorID int, actorRole types.RoleName) (types.Borrow, error) {
	var updated types.Borrow
	err := retryOnConflict(ctx, s.attempts, s.delay, func(ctx context.Context) error {
		current, err := s.borrows.Get(ctx, borrowID)
		if err != nil {
			return err
		}
		if err := decideForceReturn(current, actorID, actorRole); err != nil {
			return err
		}
		updated, err = s.borrows.CompleteReturn(ctx, borrowID, s.now(), false)
		return err
	})
	if err != nil {
		return types.Borrow{}, err
	}

	s.publish(ctx, types.BorrowEventReturned, updated, actorID)
	return updated, nil
}

// LibrarianCatalog lists every book, attaching the current borrow to books out on loan.
func (s *BorrowService) LibrarianCatalog(ctx context.Context) ([]CatalogEntry, error) {
	return s.catalog(ctx, true)
}

// StudentCatalog lists every book with its most recent borrow.
func (s *BorrowService) StudentCatalog(ctx context.Context) ([]CatalogEntry, error) {
	return s.catalog(ctx, false)
}

func (s *BorrowService) catalog(ctx context.Context, onlyUnavailable bool) ([]CatalogEntry, error) {
	books, err := s.books.List(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := s.borrows.LatestByBook(ctx, onlyUnavailable)
	if err != nil {
		return nil, err
	}

	entries := make([]CatalogEntry, 0, len(books))
	for _, book := range books {
		entry := CatalogEntry{Book: book}
		if borrow, ok := latest[book.ID]; ok {
			entry.Borrow = &borrow
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *BorrowService) ListByUser(ctx context.Context, userID int) ([]types.Borrow, error) {
	return s.borrows.ListByUser(ctx, userID)
}

func (s *BorrowService) publish(ctx context.Context, eventType types.BorrowEventType, borrow types.Borrow, actorID int) {
	s.logger.Info("borrow transition",
		zap.String("event", string(eventType)),
		zap.Int("borrow_id", borrow.ID),
		zap.Int("book_id", borrow.BookID),
		zap.Int("actor_id", actorID),
	)
	if s.events == nil {
		return
	}

	event := types.BorrowEvent{
		Type:       eventType,
		BorrowID:   borrow.ID,
		BookID:     borrow.BookID,
		UserID:     borrow.UserID,
		ActorID:    actorID,
		Status:     borrow.Status(),
		OccurredAt: s.now(),
	}
	if err := s.events.PublishBorrowEvent(ctx, event); err != nil {
		s.logger.Warn("publish borrow event failed", zap.String("event", string(eventType)), zap.Int("borrow_id", borrow.ID), zap.Error(err))
	}
}
