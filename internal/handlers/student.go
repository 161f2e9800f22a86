package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/libraryd/apiserver/internal/auth"
	"github.com/libraryd/apiserver/internal/services"
	"github.com/libraryd/apiserver/types"
)

// StudentHandler serves borrowing for Students.
type StudentHandler struct {
	borrows *services.BorrowService
	logger  *zap.Logger
}

func NewStudentHandler(borrows *services.BorrowService, logger *zap.Logger) *StudentHandler {
	return &StudentHandler{borrows: borrows, logger: logger}
}

// StudentRouter registers the Student routes.
func StudentRouter(r chi.Router, h *StudentHandler, authn *Authenticator) {
	r.Group(func(r chi.Router) {
		r.Use(authn.RequireRole(types.RoleStudent))

		r.Get("/student_dashboard", h.Dashboard)
		r.Post("/borrow_book/{bookID}", h.BorrowBook)
		r.Post("/request_return/{borrowID}", h.RequestReturn)
		r.Get("/student/borrows", h.MyBorrows)
	})
}

// Dashboard lists every book with its most recent borrow.
func (h *StudentHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.borrows.StudentCatalog(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "books")
		return
	}
	writeJSON(w, http.StatusOK, CatalogResponse{Books: entries})
}

func (h *StudentHandler) BorrowBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := parseIDParam(r, "bookID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := auth.FromContext(r.Context())

	borrow, err := h.borrows.Borrow(r.Context(), bookID, caller.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err, "book")
		return
	}
	writeJSON(w, http.StatusCreated, BorrowResponse{Message: "You have successfully borrowed the book.", Borrow: borrow})
}

func (h *StudentHandler) RequestReturn(w http.ResponseWriter, r *http.Request) {
	borrowID, err := parseIDParam(r, "borrowID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := auth.FromContext(r.Context())

	borrow, err := h.borrows.RequestReturn(r.Context(), borrowID, caller.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err, "borrow")
		return
	}
	writeJSON(w, http.StatusOK, BorrowResponse{Message: "Return requested. Please wait for librarian approval.", Borrow: borrow})
}

// MyBorrows lists the caller's borrows, newest first.
func (h *StudentHandler) MyBorrows(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())

	borrows, err := h.borrows.ListByUser(r.Context(), caller.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err, "borrows")
		return
	}
	if borrows == nil {
		borrows = []types.Borrow{}
	}
	writeJSON(w, http.StatusOK, BorrowsResponse{Borrows: borrows})
}

type BorrowsResponse struct {
	Borrows []types.Borrow `json:"borrows"`
}
