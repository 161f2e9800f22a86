package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/libraryd/apiserver/types"
)

var bookUniqueFields = map[string]string{
	"books_isbn_key": "isbn",
}

const bookColumns = `id, title, author, isbn, is_available, cover_key, created_at, updated_at`

// BookRepository handles persistence for books.
type BookRepository struct {
	db *sql.DB
}

func NewBookRepository(db *sql.DB) *BookRepository {
	return &BookRepository{db: db}
}

func scanBook(row interface{ Scan(...any) error }) (types.Book, error) {
	var book types.Book
	var coverKey sql.NullString
	err := row.Scan(
		&book.ID,
		&book.Title,
		&book.Author,
		&book.ISBN,
		&book.IsAvailable,
		&coverKey,
		&book.CreatedAt,
		&book.UpdatedAt,
	)
	book.CoverKey = coverKey.String
	return book, err
}

func (r *BookRepository) List(ctx context.Context) ([]types.Book, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []types.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

func (r *BookRepository) Get(ctx context.Context, id int) (types.Book, error) {
	book, err := scanBook(r.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Book{}, ErrNotFound
		}
		return types.Book{}, err
	}
	return book, nil
}

// Create inserts a new book. New books are always available.
func (r *BookRepository) Create(ctx context.Context, book types.Book) (types.Book, error) {
	now := time.Now()
	book.CreatedAt = now
	book.UpdatedAt = now
	book.IsAvailable = true

	const query = `
		INSERT INTO books (title, author, isbn, is_available, cover_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		book.Title,
		book.Author,
		book.ISBN,
		book.IsAvailable,
		nullableString(book.CoverKey),
		book.CreatedAt,
		book.UpdatedAt,
	).Scan(&book.ID); err != nil {
		return types.Book{}, translateUnique(err, bookUniqueFields)
	}
	return book, nil
}

func (r *BookRepository) SetCoverKey(ctx context.Context, id int, key string) error {
	const query = `UPDATE books SET cover_key = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, nullableString(key), time.Now(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the book and its closed borrow history. It returns
// ErrConflict while the book is out on loan.
func (r *BookRepository) Delete(ctx context.Context, id int) error {
	const query = `
		DELETE FROM books
		WHERE id = $1
			AND NOT EXISTS (
				SELECT 1 FROM borrows WHERE book_id = $1 AND return_date IS NULL
			)`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}
