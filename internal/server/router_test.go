package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/libraryd/apiserver/config"
	"github.com/libraryd/apiserver/internal/auth"
	"github.com/libraryd/apiserver/internal/services"
	"github.com/libraryd/apiserver/internal/testutil"
	"github.com/libraryd/apiserver/types"
)

type denyLimiter struct{ calls int }

func (l *denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	l.calls++
	return l.calls <= 1, nil
}

type testApp struct {
	router http.Handler
	users  *services.UserService
	db     *testutil.DB
}

func newTestApp(t *testing.T, limiter *denyLimiter) *testApp {
	t.Helper()
	logger := zap.NewNop()
	db := testutil.NewDB()

	users := services.NewUserService(db.Users(), db.Roles(), logger, services.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, users.SeedRoles(context.Background()))

	deps := Dependencies{
		Users:   users,
		Books:   services.NewBookService(db.Books(), testutil.NewObjectStore(), logger),
		Borrows: services.NewBorrowService(db.Borrows(), db.Books(), logger, services.WithConflictRetry(3, time.Millisecond)),
		Tokens:  auth.NewTokenManager("0123456789abcdef0123", time.Hour),
		Revoker: auth.NewMemoryRevoker(),
		Auth:    config.AuthConfig{LoginRateLimit: 1, LoginRateWindow: time.Minute},
		Logger:  logger,
	}
	if limiter != nil {
		deps.Limiter = limiter
	}
	return &testApp{router: NewRouter(deps), users: users, db: db}
}

func (a *testApp) createUser(t *testing.T, username string, role types.RoleName) types.User {
	t.Helper()
	user, err := a.users.CreateUser(context.Background(), services.NewUser{
		Username: username,
		Email:    username + "@example.com",
		Password: "pw-" + username,
		Role:     role,
	})
	require.NoError(t, err)
	return user
}

func (a *testApp) login(t *testing.T, username string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/login", "", map[string]string{
		"email":    username + "@example.com",
		"password": "pw-" + username,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorBody struct {
	Error string `json:"error"`
}

type messageBody struct {
	Message   string `json:"message"`
	LoggedOut bool   `json:"logged_out"`
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t, nil)
	rec := app.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterLoginLogout(t *testing.T) {
	app := newTestApp(t, nil)

	rec := app.do(t, http.MethodGet, "/register", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	roles := decode[struct {
		Roles []types.Role `json:"roles"`
	}](t, rec)
	assert.Len(t, roles.Roles, 3)

	form := url.Values{"username": {"alice"}, "email": {"alice@example.com"}, "password": {"pw-alice"}}
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = app.do(t, http.MethodPost, "/register", "", map[string]string{
		"username": "alice2", "email": "alice@example.com", "password": "x",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email already in use", decode[errorBody](t, rec).Error)

	rec = app.do(t, http.MethodPost, "/login", "", map[string]string{"email": "alice@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := app.login(t, "alice")

	rec = app.do(t, http.MethodGet, "/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[types.User](t, rec)
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, types.RoleStudent, me.Role)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = app.do(t, http.MethodGet, "/", token, nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/student_dashboard", rec.Header().Get("Location"))

	rec = app.do(t, http.MethodGet, "/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[messageBody](t, rec).LoggedOut)

	rec = app.do(t, http.MethodGet, "/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(t, http.MethodGet, "/", token, nil)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestRegisterAdministratorSelection(t *testing.T) {
	app := newTestApp(t, nil)
	body := map[string]string{"username": "root", "email": "root@example.com", "password": "pw", "role": "Administrator"}

	rec := app.do(t, http.MethodPost, "/register", "", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized role selection", decode[errorBody](t, rec).Error)

	app.createUser(t, "admin", types.RoleAdministrator)
	rec = app.do(t, http.MethodPost, "/register", app.login(t, "admin"), body)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = app.do(t, http.MethodPost, "/register", "", map[string]string{
		"username": "x", "email": "x@example.com", "password": "pw", "role": "Janitor",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoleGuards(t *testing.T) {
	app := newTestApp(t, nil)
	app.createUser(t, "alice", types.RoleStudent)
	student := app.login(t, "alice")

	rec := app.do(t, http.MethodGet, "/admin", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(t, http.MethodGet, "/admin", student, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, http.MethodGet, "/librarian_dashboard", student, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, http.MethodGet, "/student_dashboard", "Bearer-less", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBorrowLifecycleOverHTTP(t *testing.T) {
	app := newTestApp(t, nil)
	app.createUser(t, "alice", types.RoleStudent)
	app.createUser(t, "bob", types.RoleStudent)
	app.createUser(t, "libby", types.RoleLibrarian)
	alice := app.login(t, "alice")
	bob := app.login(t, "bob")
	librarian := app.login(t, "libby")

	rec := app.do(t, http.MethodPost, "/librarian/add_book", librarian, map[string]string{
		"title": "Dune", "author": "Frank Herbert", "isbn": "978-0441013593",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	book := decode[struct {
		Book types.Book `json:"book"`
	}](t, rec).Book
	assert.True(t, book.IsAvailable)

	rec = app.do(t, http.MethodPost, "/librarian/add_book", librarian, map[string]string{
		"title": "Dune", "author": "Frank Herbert", "isbn": "978-0441013593",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	bookPath := strconv.Itoa(book.ID)
	rec = app.do(t, http.MethodPost, "/borrow_book/"+bookPath, alice, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	borrow := decode[struct {
		Borrow types.Borrow `json:"borrow"`
	}](t, rec).Borrow
	borrowPath := strconv.Itoa(borrow.ID)

	rec = app.do(t, http.MethodPost, "/borrow_book/"+bookPath, bob, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "this book is currently unavailable", decode[errorBody](t, rec).Error)

	rec = app.do(t, http.MethodPost, "/delete_book/"+bookPath, librarian, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = app.do(t, http.MethodGet, "/librarian_dashboard", librarian, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	catalog := decode[struct {
		Books []services.CatalogEntry `json:"books"`
	}](t, rec)
	require.Len(t, catalog.Books, 1)
	require.NotNil(t, catalog.Books[0].Borrow)
	assert.Equal(t, "alice", catalog.Books[0].Borrow.Username)

	rec = app.do(t, http.MethodPost, "/approve_return/"+borrowPath, librarian, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no return requested for this book", decode[errorBody](t, rec).Error)

	rec = app.do(t, http.MethodPost, "/request_return/"+borrowPath, bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, http.MethodPost, "/request_return/"+borrowPath, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(t, http.MethodPost, "/request_return/"+borrowPath, alice, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "you have already requested a return for this book", decode[errorBody](t, rec).Error)

	rec = app.do(t, http.MethodPost, "/approve_return/"+borrowPath, librarian, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Return approved. Book is now available.", decode[messageBody](t, rec).Message)

	rec = app.do(t, http.MethodGet, "/student/borrows", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[struct {
		Borrows []types.Borrow `json:"borrows"`
	}](t, rec)
	require.Len(t, mine.Borrows, 1)
	assert.NotNil(t, mine.Borrows[0].ReturnDate)

	rec = app.do(t, http.MethodPost, "/borrow_book/"+bookPath, bob, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decode[struct {
		Borrow types.Borrow `json:"borrow"`
	}](t, rec).Borrow

	rec = app.do(t, http.MethodPost, "/return_book/"+strconv.Itoa(second.ID), alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, http.MethodPost, "/return_book/"+strconv.Itoa(second.ID), bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(t, http.MethodPost, "/return_book/"+strconv.Itoa(second.ID), librarian, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = app.do(t, http.MethodPost, "/delete_book/"+bookPath, librarian, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(t, http.MethodPost, "/borrow_book/"+bookPath, alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoleChangeAppliesToIssuedTokens(t *testing.T) {
	app := newTestApp(t, nil)
	app.createUser(t, "admin", types.RoleAdministrator)
	libby := app.createUser(t, "libby", types.RoleLibrarian)
	admin := app.login(t, "admin")
	librarian := app.login(t, "libby")

	rec := app.do(t, http.MethodGet, "/librarian_dashboard", librarian, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(t, http.MethodPost, "/edit_user/"+strconv.Itoa(libby.ID), admin, map[string]string{"role": "Student"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[messageBody](t, rec).LoggedOut)

	rec = app.do(t, http.MethodGet, "/librarian_dashboard", librarian, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = app.do(t, http.MethodGet, "/student_dashboard", librarian, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(t, http.MethodPost, "/delete_user/"+strconv.Itoa(libby.ID), admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = app.do(t, http.MethodGet, "/student_dashboard", librarian, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminSelfServiceLogsOut(t *testing.T) {
	app := newTestApp(t, nil)
	root := app.createUser(t, "root", types.RoleAdministrator)
	token := app.login(t, "root")

	rec := app.do(t, http.MethodGet, "/edit_user/"+strconv.Itoa(root.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(t, http.MethodPost, "/edit_user/"+strconv.Itoa(root.ID), token, map[string]string{"role": "Librarian"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[messageBody](t, rec).LoggedOut)

	rec = app.do(t, http.MethodGet, "/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAddUser(t *testing.T) {
	app := newTestApp(t, nil)
	app.createUser(t, "root", types.RoleAdministrator)
	token := app.login(t, "root")

	rec := app.do(t, http.MethodGet, "/admin/add_user_form", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Roles are seeded Student, Administrator, Librarian, so ID 3 is Librarian.
	rec = app.do(t, http.MethodPost, "/admin/add_user", token, map[string]string{
		"username": "libby", "email": "libby@example.com", "password": "pw", "role": "3",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		User types.User `json:"user"`
	}](t, rec).User
	assert.Equal(t, types.RoleLibrarian, created.Role)

	rec = app.do(t, http.MethodPost, "/admin/add_user", token, map[string]string{
		"username": "other", "email": "libby@example.com", "password": "pw", "role": "Student",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email already in use", decode[errorBody](t, rec).Error)

	rec = app.do(t, http.MethodGet, "/admin", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[struct {
		Users []types.User `json:"users"`
	}](t, rec)
	assert.Len(t, listed.Users, 2)
}

func TestLoginRateLimit(t *testing.T) {
	app := newTestApp(t, &denyLimiter{})
	app.createUser(t, "alice", types.RoleStudent)

	app.login(t, "alice")
	rec := app.do(t, http.MethodPost, "/login", "", map[string]string{"email": "alice@example.com", "password": "pw-alice"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCoverUploadAndDownload(t *testing.T) {
	app := newTestApp(t, nil)
	app.createUser(t, "libby", types.RoleLibrarian)
	app.createUser(t, "alice", types.RoleStudent)
	librarian := app.login(t, "libby")
	student := app.login(t, "alice")

	rec := app.do(t, http.MethodPost, "/librarian/add_book", librarian, map[string]string{
		"title": "Dune", "author": "Frank Herbert", "isbn": "isbn-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="cover"; filename="dune.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/librarian/books/1/cover", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+librarian)
	rec = httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = app.do(t, http.MethodGet, "/books/1/cover", student, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG\r\n\x1a\nfake", rec.Body.String())

	rec = app.do(t, http.MethodGet, "/books/1/cover", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
