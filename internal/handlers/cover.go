package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/libraryd/apiserver/internal/services"
	"github.com/libraryd/apiserver/types"
)

const maxCoverBytes = 5 << 20

// CoverHandler uploads and serves book cover images.
type CoverHandler struct {
	books  *services.BookService
	logger *zap.Logger
}

func NewCoverHandler(books *services.BookService, logger *zap.Logger) *CoverHandler {
	return &CoverHandler{books: books, logger: logger}
}

// CoverRouter registers the cover routes.
func CoverRouter(r chi.Router, h *CoverHandler, authn *Authenticator) {
	r.With(authn.RequireRole(types.RoleLibrarian)).Put("/librarian/books/{bookID}/cover", h.Upload)
	r.With(authn.RequireRole()).Get("/books/{bookID}/cover", h.Download)
}

// Upload stores the multipart "cover" file as the book's cover.
func (h *CoverHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "bookID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCoverBytes+maxFormMemory)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "cover exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("cover")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing cover file")
		return
	}
	defer file.Close()

	if header.Size > maxCoverBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "cover exceeds size limit")
		return
	}

	contentType := header.Header.Get("Content-Type")
	var body io.Reader = file
	if contentType == "" || contentType == "application/octet-stream" {
		head := make([]byte, 512)
		n, err := io.ReadFull(file, head)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "failed to read cover")
			return
		}
		contentType = http.DetectContentType(head[:n])
		body = io.MultiReader(bytes.NewReader(head[:n]), file)
	}

	book, err := h.books.UploadCover(r.Context(), id, body, header.Size, contentType)
	if err != nil {
		writeServiceError(w, h.logger, err, "book")
		return
	}
	writeJSON(w, http.StatusOK, BookResponse{Message: "Cover uploaded successfully.", Book: book})
}

// Download streams the book's cover.
func (h *CoverHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "bookID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rc, contentType, err := h.books.OpenCover(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "book")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("stream cover", zap.Int("book_id", id), zap.Error(err))
	}
}
