package services

import "errors"

var (
	ErrBookUnavailable        = errors.New("this book is currently unavailable")
	ErrReturnAlreadyRequested = errors.New("you have already requested a return for this book")
	ErrNoReturnRequested      = errors.New("no return requested for this book")
	ErrAlreadyReturned        = errors.New("this book has already been returned")
	ErrNotBorrower            = errors.New("this borrow belongs to another user")

	ErrInvalidCredentials = errors.New("login unsuccessful, please check email and password")
	ErrEmailInUse         = errors.New("email already in use")
	ErrUsernameInUse      = errors.New("username already in use")
	ErrRoleNotFound       = errors.New("role not found")
	ErrAdminRoleSelection = errors.New("unauthorized role selection")
	ErrUserHasLoans       = errors.New("user has books on loan")

	ErrISBNInUse      = errors.New("isbn already in use")
	ErrBookOnLoan     = errors.New("book is currently borrowed")
	ErrCoversDisabled = errors.New("cover storage is not configured")
	ErrNoCover        = errors.New("book has no cover")
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func required(field, value string) error {
	if value == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}
