package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBorrowStatus(t *testing.T) {
	now := time.Now()

	assert.Equal(t, BorrowStatusBorrowed, Borrow{}.Status())
	assert.Equal(t, BorrowStatusReturnRequested, Borrow{ReturnRequested: true}.Status())
	assert.Equal(t, BorrowStatusReturned, Borrow{ReturnDate: &now}.Status())
	assert.Equal(t, BorrowStatusReturned, Borrow{ReturnDate: &now, ReturnRequested: true}.Status())
	assert.True(t, Borrow{ReturnRequested: true}.Open())
	assert.False(t, Borrow{ReturnDate: &now}.Open())
}

func TestRoleNameValid(t *testing.T) {
	assert.True(t, RoleStudent.Valid())
	assert.True(t, RoleLibrarian.Valid())
	assert.True(t, RoleAdministrator.Valid())
	assert.False(t, RoleName("admin").Valid())
	assert.False(t, RoleName("").Valid())
}
