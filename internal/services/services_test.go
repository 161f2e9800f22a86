package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/libraryd/apiserver/internal/testutil"
	"github.com/libraryd/apiserver/types"
)

// clock advances by one minute on every call so borrow dates are ordered.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

type fixture struct {
	db      *testutil.DB
	covers  *testutil.ObjectStore
	events  *testutil.EventRecorder
	users   *UserService
	books   *BookService
	borrows *BorrowService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB()
	clk := newClock()
	db.Now = clk.Now

	f := &fixture{
		db:     db,
		covers: testutil.NewObjectStore(),
		events: &testutil.EventRecorder{},
	}
	logger := zap.NewNop()
	f.users = NewUserService(db.Users(), db.Roles(), logger, WithBcryptCost(bcrypt.MinCost))
	f.books = NewBookService(db.Books(), f.covers, logger)
	f.borrows = NewBorrowService(db.Borrows(), db.Books(), logger,
		WithEventPublisher(f.events),
		WithClock(clk.Now),
		WithConflictRetry(3, time.Millisecond),
	)

	require.NoError(t, f.users.SeedRoles(context.Background()))
	return f
}

func (f *fixture) user(t *testing.T, username string, role types.RoleName) types.User {
	t.Helper()
	user, err := f.users.CreateUser(context.Background(), NewUser{
		Username: username,
		Email:    username + "@example.com",
		Password: "secret-" + username,
		Role:     role,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) book(t *testing.T, title, isbn string) types.Book {
	t.Helper()
	book, err := f.books.Create(context.Background(), title, "Author of "+title, isbn)
	require.NoError(t, err)
	return book
}
