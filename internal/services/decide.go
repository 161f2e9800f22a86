package services

import "github.com/libraryd/apiserver/types"

// The decide functions hold the borrow lifecycle rules. They only inspect
// state; the repository applies the transition with a conditional update
// that re-checks the same preconditions.

func decideBorrow(book types.Book) error {
	if !book.IsAvailable {
		return ErrBookUnavailable
	}
	return nil
}

func decideRequestReturn(borrow types.Borrow, userID int) error {
	if borrow.UserID != userID {
		return ErrNotBorrower
	}
	switch borrow.Status() {
	case types.BorrowStatusReturned:
		return ErrAlreadyReturned
	case types.BorrowStatusReturnRequested:
		return ErrReturnAlreadyRequested
	}
	return nil
}

func decideApproveReturn(borrow types.Borrow) error {
	if borrow.Status() != types.BorrowStatusReturnRequested {
		return ErrNoReturnRequested
	}
	return nil
}

// decideForceReturn allows librarians to close any open borrow and students
// to close their own, bypassing the request/approval steps.
func decideForceReturn(borrow types.Borrow, actorID int, actorRole types.RoleName) error {
	if actorRole != types.RoleLibrarian && borrow.UserID != actorID {
		return ErrNotBorrower
	}
	if borrow.Status() == types.BorrowStatusReturned {
		return ErrAlreadyReturned
	}
	return nil
}
