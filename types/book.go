package types

import "time"

// Book is a single lendable title in the catalogue.
type Book struct {
	// ID is the unique identifier of the book.
	ID int `json:"id" db:"id"`

	Title  string `json:"title" db:"title"`
	Author string `json:"author" db:"author"`

	// ISBN is unique across the catalogue.
	ISBN string `json:"isbn" db:"isbn"`

	// IsAvailable is false while the book has an open borrow.
	IsAvailable bool `json:"is_available" db:"is_available"`

	// CoverKey is the object storage key of the uploaded cover, if any.
	CoverKey string `json:"cover_key,omitempty" db:"cover_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
