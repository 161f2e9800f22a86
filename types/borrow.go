package types

import "time"

// BorrowStatus is the lifecycle state of a borrow, derived from its columns.
type BorrowStatus string

const (
	BorrowStatusBorrowed        BorrowStatus = "borrowed"
	BorrowStatusReturnRequested BorrowStatus = "return_requested"
	BorrowStatusReturned        BorrowStatus = "returned"
)

// Borrow links one user to one book for a lending period.
type Borrow struct {
	ID     int `json:"id" db:"id"`
	UserID int `json:"user_id" db:"user_id"`
	BookID int `json:"book_id" db:"book_id"`

	// Username of the borrower, populated by dashboard queries.
	Username string `json:"username,omitempty" db:"username"`

	BorrowDate time.Time `json:"borrow_date" db:"borrow_date"`

	// ReturnDate is nil while the borrow is open.
	ReturnDate *time.Time `json:"return_date" db:"return_date"`

	// ReturnRequested is set by the borrower and cleared when the return completes.
	ReturnRequested bool `json:"return_requested" db:"return_requested"`
}

// Open reports whether the book is still out on this borrow.
func (b Borrow) Open() bool {
	return b.ReturnDate == nil
}

// Status derives the lifecycle state of the borrow.
func (b Borrow) Status() BorrowStatus {
	switch {
	case b.ReturnDate != nil:
		return BorrowStatusReturned
	case b.ReturnRequested:
		return BorrowStatusReturnRequested
	default:
		return BorrowStatusBorrowed
	}
}
