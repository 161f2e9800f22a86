package services

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/libraryd/apiserver/internal/store"
	"github.com/libraryd/apiserver/internal/testutil"
	"github.com/libraryd/apiserver/types"
)

func TestCreateBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	book, err := f.books.Create(ctx, " Dune ", "Frank Herbert", "978-0441013593")
	require.NoError(t, err)
	assert.Equal(t, "Dune", book.Title)
	assert.True(t, book.IsAvailable)

	_, err = f.books.Create(ctx, "Dune Messiah", "Frank Herbert", "978-0441013593")
	assert.ErrorIs(t, err, ErrISBNInUse)

	_, err = f.books.Create(ctx, "", "Frank Herbert", "isbn-2")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)
}

func TestDeleteBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", types.RoleStudent)
	book := f.book(t, "Dune", "isbn-1")

	borrow, err := f.borrows.Borrow(ctx, book.ID, alice.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, f.books.Delete(ctx, book.ID), ErrBookOnLoan)

	_, err = f.borrows.ForceReturn(ctx, borrow.ID, alice.ID, types.RoleStudent)
	require.NoError(t, err)
	require.NoError(t, f.books.Delete(ctx, book.ID))

	_, err = f.books.Get(ctx, book.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	history, err := f.borrows.ListByUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	assert.ErrorIs(t, f.books.Delete(ctx, book.ID), store.ErrNotFound)
}

func TestCoverUploadAndOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, "Dune", "isbn-1")

	_, _, err := f.books.OpenCover(ctx, book.ID)
	assert.ErrorIs(t, err, ErrNoCover)

	updated, err := f.books.UploadCover(ctx, book.ID, strings.NewReader("png-bytes"), 9, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "covers/1.png", updated.CoverKey)

	replaced, err := f.books.UploadCover(ctx, book.ID, strings.NewReader("jpeg-bytes"), 10, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "covers/1.jpg", replaced.CoverKey)
	assert.Equal(t, 1, f.covers.Len())

	rc, contentType, err := f.books.OpenCover(ctx, book.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
	assert.Equal(t, "image/jpeg", contentType)

	require.NoError(t, f.books.Delete(ctx, book.ID))
	assert.Equal(t, 0, f.covers.Len())
}

func TestCoverRejectsUnsupportedType(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "Dune", "isbn-1")

	_, err := f.books.UploadCover(context.Background(), book.ID, strings.NewReader("%PDF"), 4, "application/pdf")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cover", verr.Field)
}

func TestCoversDisabled(t *testing.T) {
	db := testutil.NewDB()
	books := NewBookService(db.Books(), nil, zap.NewNop())
	book, err := books.Create(context.Background(), "Dune", "Frank Herbert", "isbn-1")
	require.NoError(t, err)

	_, err = books.UploadCover(context.Background(), book.ID, strings.NewReader("x"), 1, "image/png")
	assert.ErrorIs(t, err, ErrCoversDisabled)
	_, _, err = books.OpenCover(context.Background(), book.ID)
	assert.ErrorIs(t, err, ErrCoversDisabled)
}
