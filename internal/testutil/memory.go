// Package testutil provides in-memory stand-ins for the PostgreSQL
// repositories and the object store. They enforce the same uniqueness and
// conditional-update rules as the SQL they replace.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/libraryd/apiserver/internal/store"
	"github.com/libraryd/apiserver/types"
)

// DB is a single in-memory database shared by all repositories built from it.
type DB struct {
	mu      sync.Mutex
	roles   []types.Role
	users   map[int]types.User
	books   map[int]types.Book
	borrows map[int]types.Borrow
	nextID  map[string]int

	// Now stamps created_at and updated_at.
	Now func() time.Time
}

func NewDB() *DB {
	return &DB{
		users:   make(map[int]types.User),
		books:   make(map[int]types.Book),
		borrows: make(map[int]types.Borrow),
		nextID:  make(map[string]int),
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

func (db *DB) id(table string) int {
	db.nextID[table]++
	return db.nextID[table]
}

func (db *DB) Roles() *RoleRepository     { return &RoleRepository{db: db} }
func (db *DB) Users() *UserRepository     { return &UserRepository{db: db} }
func (db *DB) Books() *BookRepository     { return &BookRepository{db: db} }
func (db *DB) Borrows() *BorrowRepository { return &BorrowRepository{db: db} }

// Book returns the stored row, for assertions.
func (db *DB) Book(id int) (types.Book, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	b, ok := db.books[id]
	return b, ok
}

// OpenBorrows counts borrows of bookID without a return date.
func (db *DB) OpenBorrows(bookID int) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, b := range db.borrows {
		if b.BookID == bookID && b.Open() {
			n++
		}
	}
	return n
}

type RoleRepository struct{ db *DB }

func (r *RoleRepository) EnsureRoles(_ context.Context, names []types.RoleName) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	added := 0
	for _, name := range names {
		if _, ok := r.db.roleByName(name); ok {
			continue
		}
		r.db.roles = append(r.db.roles, types.Role{ID: r.db.id("roles"), Name: name})
		added++
	}
	return added, nil
}

func (r *RoleRepository) List(context.Context) ([]types.Role, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return append([]types.Role(nil), r.db.roles...), nil
}

func (r *RoleRepository) GetByName(_ context.Context, name types.RoleName) (types.Role, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	role, ok := r.db.roleByName(name)
	if !ok {
		return types.Role{}, store.ErrNotFound
	}
	return role, nil
}

func (db *DB) roleByName(name types.RoleName) (types.Role, bool) {
	for _, role := range db.roles {
		if role.Name == name {
			return role, true
		}
	}
	return types.Role{}, false
}

func (db *DB) roleName(id int) types.RoleName {
	for _, role := range db.roles {
		if role.ID == id {
			return role.Name
		}
	}
	return ""
}

type UserRepository struct{ db *DB }

func (r *UserRepository) GetByID(_ context.Context, id int) (types.User, error) {
	return r.find(func(u types.User) bool { return u.ID == id })
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (types.User, error) {
	return r.find(func(u types.User) bool { return u.Email == email })
}

func (r *UserRepository) GetByUsername(_ context.Context, username string) (types.User, error) {
	return r.find(func(u types.User) bool { return u.Username == username })
}

func (r *UserRepository) find(match func(types.User) bool) (types.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if match(u) {
			u.Role = r.db.roleName(u.RoleID)
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) List(context.Context) ([]types.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	users := make([]types.User, 0, len(r.db.users))
	for _, u := range r.db.users {
		u.Role = r.db.roleName(u.RoleID)
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r *UserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.unique(user); err != nil {
		return types.User{}, err
	}
	if r.db.roleName(user.RoleID) == "" {
		return types.User{}, store.ErrNotFound
	}
	now := r.db.Now()
	user.ID = r.db.id("users")
	user.CreatedAt = now
	user.UpdatedAt = now
	r.db.users[user.ID] = user
	user.Role = r.db.roleName(user.RoleID)
	return user, nil
}

func (r *UserRepository) Update(_ context.Context, user types.User) (types.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	if err := r.unique(user); err != nil {
		return types.User{}, err
	}
	user.UpdatedAt = r.db.Now()
	r.db.users[user.ID] = user
	user.Role = r.db.roleName(user.RoleID)
	return user, nil
}

func (r *UserRepository) unique(user types.User) error {
	for _, u := range r.db.users {
		if u.ID == user.ID {
			continue
		}
		if u.Username == user.Username {
			return &store.DuplicateError{Field: "username"}
		}
		if u.Email == user.Email {
			return &store.DuplicateError{Field: "email"}
		}
	}
	return nil
}

func (r *UserRepository) Delete(_ context.Context, id int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.users[id]; !ok {
		return store.ErrNotFound
	}
	for _, b := range r.db.borrows {
		if b.UserID == id && b.Open() {
			return store.ErrConflict
		}
	}
	for bid, b := range r.db.borrows {
		if b.UserID == id {
			delete(r.db.borrows, bid)
		}
	}
	delete(r.db.users, id)
	return nil
}

type BookRepository struct{ db *DB }

func (r *BookRepository) List(context.Context) ([]types.Book, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	books := make([]types.Book, 0, len(r.db.books))
	for _, b := range r.db.books {
		books = append(books, b)
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books, nil
}

func (r *BookRepository) Get(_ context.Context, id int) (types.Book, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	b, ok := r.db.books[id]
	if !ok {
		return types.Book{}, store.ErrNotFound
	}
	return b, nil
}

func (r *BookRepository) Create(_ context.Context, book types.Book) (types.Book, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, b := range r.db.books {
		if strings.EqualFold(b.ISBN, book.ISBN) {
			return types.Book{}, &store.DuplicateError{Field: "isbn"}
		}
	}
	now := r.db.Now()
	book.ID = r.db.id("books")
	book.IsAvailable = true
	book.CreatedAt = now
	book.UpdatedAt = now
	r.db.books[book.ID] = book
	return book, nil
}

func (r *BookRepository) SetCoverKey(_ context.Context, id int, key string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	b, ok := r.db.books[id]
	if !ok {
		return store.ErrNotFound
	}
	b.CoverKey = key
	b.UpdatedAt = r.db.Now()
	r.db.books[id] = b
	return nil
}

func (r *BookRepository) Delete(_ context.Context, id int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.books[id]; !ok {
		return store.ErrNotFound
	}
	for _, b := range r.db.borrows {
		if b.BookID == id && b.Open() {
			return store.ErrConflict
		}
	}
	for bid, b := range r.db.borrows {
		if b.BookID == id {
			delete(r.db.borrows, bid)
		}
	}
	delete(r.db.books, id)
	return nil
}

type BorrowRepository struct{ db *DB }

func (r *BorrowRepository) withUsername(b types.Borrow) types.Borrow {
	b.Username = r.db.users[b.UserID].Username
	return b
}

func (r *BorrowRepository) Get(_ context.Context, id int) (types.Borrow, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	b, ok := r.db.borrows[id]
	if !ok {
		return types.Borrow{}, store.ErrNotFound
	}
	return r.withUsername(b), nil
}

func (r *BorrowRepository) Create(_ context.Context, bookID, userID int, at time.Time) (types.Borrow, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	book, ok := r.db.books[bookID]
	if !ok {
		return types.Borrow{}, store.ErrNotFound
	}
	if !book.IsAvailable {
		return types.Borrow{}, store.ErrConflict
	}
	book.IsAvailable = false
	book.UpdatedAt = at
	r.db.books[bookID] = book

	borrow := types.Borrow{
		ID:         r.db.id("borrows"),
		UserID:     userID,
		BookID:     bookID,
		BorrowDate: at,
	}
	r.db.borrows[borrow.ID] = borrow
	return r.withUsername(borrow), nil
}

func (r *BorrowRepository) MarkReturnRequested(_ context.Context, id, userID int) (types.Borrow, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	b, ok := r.db.borrows[id]
	if !ok || b.UserID != userID || !b.Open() || b.ReturnRequested {
		return types.Borrow{}, store.ErrConflict
	}
	b.ReturnRequested = true
	r.db.borrows[id] = b
	return r.withUsername(b), nil
}

func (r *BorrowRepository) CompleteReturn(_ context.Context, id int, at time.Time, requireRequest bool) (types.Borrow, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	b, ok := r.db.borrows[id]
	if !ok || !b.Open() || (requireRequest && !b.ReturnRequested) {
		return types.Borrow{}, store.ErrConflict
	}
	returned := at
	b.ReturnDate = &returned
	b.ReturnRequested = false
	r.db.borrows[id] = b

	if book, ok := r.db.books[b.BookID]; ok {
		book.IsAvailable = true
		book.UpdatedAt = at
		r.db.books[b.BookID] = book
	}
	return r.withUsername(b), nil
}

func (r *BorrowRepository) LatestByBook(_ context.Context, onlyUnavailable bool) (map[int]types.Borrow, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	latest := make(map[int]types.Borrow)
	for _, b := range r.db.borrows {
		if onlyUnavailable && r.db.books[b.BookID].IsAvailable {
			continue
		}
		cur, ok := latest[b.BookID]
		if !ok || b.BorrowDate.After(cur.BorrowDate) || (b.BorrowDate.Equal(cur.BorrowDate) && b.ID > cur.ID) {
			latest[b.BookID] = r.withUsername(b)
		}
	}
	return latest, nil
}

func (r *BorrowRepository) ListByUser(_ context.Context, userID int) ([]types.Borrow, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var borrows []types.Borrow
	for _, b := range r.db.borrows {
		if b.UserID == userID {
			borrows = append(borrows, r.withUsername(b))
		}
	}
	sort.Slice(borrows, func(i, j int) bool {
		if borrows[i].BorrowDate.Equal(borrows[j].BorrowDate) {
			return borrows[i].ID > borrows[j].ID
		}
		return borrows[i].BorrowDate.After(borrows[j].BorrowDate)
	})
	return borrows, nil
}
