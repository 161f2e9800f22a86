package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/libraryd/apiserver/internal/auth"
	"github.com/libraryd/apiserver/internal/services"
	"github.com/libraryd/apiserver/types"
)

// LibrarianHandler serves catalogue management and return approval.
type LibrarianHandler struct {
	books   *services.BookService
	borrows *services.BorrowService
	logger  *zap.Logger
}

func NewLibrarianHandler(books *services.BookService, borrows *services.BorrowService, logger *zap.Logger) *LibrarianHandler {
	return &LibrarianHandler{books: books, borrows: borrows, logger: logger}
}

// LibrarianRouter registers the Librarian routes and the return route shared
// with Students.
func LibrarianRouter(r chi.Router, h *LibrarianHandler, authn *Authenticator) {
	r.Group(func(r chi.Router) {
		r.Use(authn.RequireRole(types.RoleLibrarian))

		r.Get("/librarian_dashboard", h.Dashboard)
		r.Get("/librarian/add_book", h.AddBookForm)
		r.Post("/librarian/add_book", h.AddBook)
		r.Post("/delete_book/{bookID}", h.DeleteBook)
		r.Post("/approve_return/{borrowID}", h.ApproveReturn)
	})
	r.With(authn.RequireRole(types.RoleLibrarian, types.RoleStudent)).
		Post("/return_book/{borrowID}", h.ReturnBook)
}

// Dashboard lists every book with the current borrow of those on loan.
func (h *LibrarianHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.borrows.LibrarianCatalog(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "books")
		return
	}
	writeJSON(w, http.StatusOK, CatalogResponse{Books: entries})
}

func (h *LibrarianHandler) AddBookForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, FormResponse{Fields: []string{"title", "author", "isbn"}})
}

func (h *LibrarianHandler) AddBook(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	book, err := h.books.Create(r.Context(), req.Title, req.Author, req.ISBN)
	if err != nil {
		writeServiceError(w, h.logger, err, "book")
		return
	}
	writeJSON(w, http.StatusCreated, BookResponse{Message: "Book added successfully!", Book: book})
}

func (h *LibrarianHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "bookID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.books.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "book")
		return
	}
	writeMessage(w, http.StatusOK, "Book deleted successfully!")
}

func (h *LibrarianHandler) ApproveReturn(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "borrowID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := auth.FromContext(r.Context())

	borrow, err := h.borrows.ApproveReturn(r.Context(), id, caller.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err, "borrow")
		return
	}
	writeJSON(w, http.StatusOK, BorrowResponse{Message: "Return approved. Book is now available.", Borrow: borrow})
}

// ReturnBook closes a borrow directly. Librarians may return any borrow,
// Students only their own.
func (h *LibrarianHandler) ReturnBook(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "borrowID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := auth.FromContext(r.Context())

	borrow, err := h.borrows.ForceReturn(r.Context(), id, caller.UserID, caller.Role)
	if err != nil {
		writeServiceError(w, h.logger, err, "borrow")
		return
	}
	writeJSON(w, http.StatusOK, BorrowResponse{Message: "Book returned successfully!", Borrow: borrow})
}

type BookRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN   string `json:"isbn"`
}

func (req *BookRequest) decodeForm(form url.Values) {
	req.Title = form.Get("title")
	req.Author = form.Get("author")
	req.ISBN = form.Get("isbn")
}

type BookResponse struct {
	Message string     `json:"message"`
	Book    types.Book `json:"book"`
}

type BorrowResponse struct {
	Message string       `json:"message"`
	Borrow  types.Borrow `json:"borrow"`
}

type CatalogResponse struct {
	Books []services.CatalogEntry `json:"books"`
}

type FormResponse struct {
	Fields []string `json:"fields"`
}
