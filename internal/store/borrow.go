package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/libraryd/apiserver/types"
)

const borrowColumns = `b.id, b.user_id, b.book_id, u.username, b.borrow_date, b.return_date, b.return_requested`

// BorrowRepository handles persistence for borrows. Every state transition
// is a conditional update, so a transition that lost a race reports
// ErrConflict instead of overwriting the winner.
type BorrowRepository struct {
	db *sql.DB
}

func NewBorrowRepository(db *sql.DB) *BorrowRepository {
	return &BorrowRepository{db: db}
}

func scanBorrow(row interface{ Scan(...any) error }) (types.Borrow, error) {
	var borrow types.Borrow
	var returnDate sql.NullTime
	err := row.Scan(
		&borrow.ID,
		&borrow.UserID,
		&borrow.BookID,
		&borrow.Username,
		&borrow.BorrowDate,
		&returnDate,
		&borrow.ReturnRequested,
	)
	if returnDate.Valid {
		t := returnDate.Time
		borrow.ReturnDate = &t
	}
	return borrow, err
}

func (r *BorrowRepository) Get(ctx context.Context, id int) (types.Borrow, error) {
	return getBorrow(ctx, r.db, id)
}

func getBorrow(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id int) (types.Borrow, error) {
	query := `SELECT ` + borrowColumns + `
		FROM borrows b
		JOIN users u ON u.id = b.user_id
		WHERE b.id = $1`
	borrow, err := scanBorrow(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Borrow{}, ErrNotFound
		}
		return types.Borrow{}, err
	}
	return borrow, nil
}

// Create lends the book to the user: it flips the book's availability from
// true to false and inserts the open borrow in one transaction. It returns
// ErrNotFound for a missing book and ErrConflict when the book is not
// available.
func (r *BorrowRepository) Create(ctx context.Context, bookID, userID int, at time.Time) (types.Borrow, error) {
	var created types.Borrow
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE books
			SET is_available = FALSE, updated_at = $2
			WHERE id = $1 AND is_available`, bookID, at)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`, bookID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return ErrConflict
		}

		var id int
		err = tx.QueryRowContext(ctx, `
			INSERT INTO borrows (user_id, book_id, borrow_date, return_requested)
			VALUES ($1, $2, $3, FALSE)
			RETURNING id`, userID, bookID, at).Scan(&id)
		if err != nil {
			if errors.Is(translateUnique(err, nil), ErrDuplicate) {
				return ErrConflict
			}
			return err
		}

		created, err = getBorrow(ctx, tx, id)
		return err
	})
	if err != nil {
		return types.Borrow{}, err
	}
	return created, nil
}

// MarkReturnRequested sets the return request flag on an open borrow owned
// by userID with no pending request.
func (r *BorrowRepository) MarkReturnRequested(ctx context.Context, id, userID int) (types.Borrow, error) {
	var updated types.Borrow
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE borrows
			SET return_requested = TRUE
			WHERE id = $1
				AND user_id = $2
				AND return_date IS NULL
				AND NOT return_requested`, id, userID)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrConflict
		}
		updated, err = getBorrow(ctx, tx, id)
		return err
	})
	if err != nil {
		return types.Borrow{}, err
	}
	return updated, nil
}

// CompleteReturn closes an open borrow at the given time and makes its book
// available again. With requireRequest set, only a borrow with a pending
// return request is closed.
func (r *BorrowRepository) CompleteReturn(ctx context.Context, id int, at time.Time, requireRequest bool) (types.Borrow, error) {
	query := `
		UPDATE borrows
		SET return_date = $2, return_requested = FALSE
		WHERE id = $1 AND return_date IS NULL`
	if requireRequest {
		query += ` AND return_requested`
	}
	query += ` RETURNING book_id`

	var updated types.Borrow
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var bookID int
		if err := tx.QueryRowContext(ctx, query, id, at).Scan(&bookID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrConflict
			}
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE books
			SET is_available = TRUE, updated_at = $2
			WHERE id = $1`, bookID, at); err != nil {
			return err
		}

		var err error
		updated, err = getBorrow(ctx, tx, id)
		return err
	})
	if err != nil {
		return types.Borrow{}, err
	}
	return updated, nil
}

// LatestByBook returns the most recent borrow of every book that has been
// borrowed at least once, keyed by book ID. With onlyUnavailable set, only
// books currently out on loan are included.
func (r *BorrowRepository) LatestByBook(ctx context.Context, onlyUnavailable bool) (map[int]types.Borrow, error) {
	query := `
		SELECT DISTINCT ON (b.book_id) ` + borrowColumns + `
		FROM borrows b
		JOIN users u ON u.id = b.user_id
		JOIN books bk ON bk.id = b.book_id`
	if onlyUnavailable {
		query += `
		WHERE NOT bk.is_available`
	}
	query += `
		ORDER BY b.book_id, b.borrow_date DESC, b.id DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	latest := make(map[int]types.Borrow)
	for rows.Next() {
		borrow, err := scanBorrow(rows)
		if err != nil {
			return nil, err
		}
		latest[borrow.BookID] = borrow
	}
	return latest, rows.Err()
}

// ListByUser returns the user's borrows, newest first.
func (r *BorrowRepository) ListByUser(ctx context.Context, userID int) ([]types.Borrow, error) {
	query := `SELECT ` + borrowColumns + `
		FROM borrows b
		JOIN users u ON u.id = b.user_id
		WHERE b.user_id = $1
		ORDER BY b.borrow_date DESC, b.id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var borrows []types.Borrow
	for rows.Next() {
		borrow, err := scanBorrow(rows)
		if err != nil {
			return nil, err
		}
		borrows = append(borrows, borrow)
	}
	return borrows, rows.Err()
}
