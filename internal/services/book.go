package services

import (
	"context"
	"errors"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/libraryd/apiserver/internal/storage"
	"github.com/libraryd/apiserver/internal/store"
	"github.com/libraryd/apiserver/types"
)

// BookRepository defines persistence operations for books.
type BookRepository interface {
	List(ctx context.Context) ([]types.Book, error)
	Get(ctx context.Context, id int) (types.Book, error)
	Create(ctx context.Context, book types.Book) (types.Book, error)
	SetCoverKey(ctx context.Context, id int, key string) error
	Delete(ctx context.Context, id int) error
}

var coverExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// BookService encapsulates catalogue use-cases.
type BookService struct {
	repo   BookRepository
	covers storage.ObjectStorage
	logger *zap.Logger
}

// NewBookService constructs a BookService. covers may be nil, which
// disables cover uploads.
func NewBookService(repo BookRepository, covers storage.ObjectStorage, logger *zap.Logger) *BookService {
	return &BookService{repo: repo, covers: covers, logger: logger}
}

func (s *BookService) List(ctx context.Context) ([]types.Book, error) {
	return s.repo.List(ctx)
}

func (s *BookService) Get(ctx context.Context, id int) (types.Book, error) {
	return s.repo.Get(ctx, id)
}

// Create adds a book to the catalogue. New books are available.
func (s *BookService) Create(ctx context.Context, title, author, isbn string) (types.Book, error) {
	book := types.Book{
		Title:  strings.TrimSpace(title),
		Author: strings.TrimSpace(author),
		ISBN:   strings.TrimSpace(isbn),
	}
	for _, err := range []error{
		required("title", book.Title),
		required("author", book.Author),
		required("isbn", book.ISBN),
	} {
		if err != nil {
			return types.Book{}, err
		}
	}

	created, err := s.repo.Create(ctx, book)
	if errors.Is(err, store.ErrDuplicate) {
		return types.Book{}, ErrISBNInUse
	}
	return created, err
}

// Delete removes a book that is not out on loan.
func (s *BookService) Delete(ctx context.Context, id int) error {
	book, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrBookOnLoan
		}
		return err
	}

	if book.CoverKey != "" && s.covers != nil {
		if err := s.covers.Delete(ctx, book.CoverKey); err != nil {
			s.logger.Warn("delete cover failed", zap.Int("book_id", id), zap.String("key", book.CoverKey), zap.Error(err))
		}
	}
	return nil
}

// UploadCover stores an image as the book's cover, replacing any previous one.
func (s *BookService) UploadCover(ctx context.Context, id int, r io.Reader, size int64, contentType string) (types.Book, error) {
	if s.covers == nil {
		return types.Book{}, ErrCoversDisabled
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return types.Book{}, &ValidationError{Field: "cover", Message: "unsupported content type"}
	}
	ext, ok := coverExtensions[mediaType]
	if !ok {
		return types.Book{}, &ValidationError{Field: "cover", Message: "unsupported content type"}
	}

	book, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Book{}, err
	}

	key := storage.CoverKey(id, ext)
	if err := s.covers.Put(ctx, key, r, size, mediaType); err != nil {
		return types.Book{}, err
	}
	if err := s.repo.SetCoverKey(ctx, id, key); err != nil {
		return types.Book{}, err
	}
	if book.CoverKey != "" && book.CoverKey != key {
		if err := s.covers.Delete(ctx, book.CoverKey); err != nil {
			s.logger.Warn("delete previous cover failed", zap.Int("book_id", id), zap.Error(err))
		}
	}

	book.CoverKey = key
	return book, nil
}

// OpenCover returns a reader for the book's cover and its content type.
func (s *BookService) OpenCover(ctx context.Context, id int) (io.ReadCloser, string, error) {
	if s.covers == nil {
		return nil, "", ErrCoversDisabled
	}
	book, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if book.CoverKey == "" {
		return nil, "", ErrNoCover
	}

	rc, err := s.covers.Get(ctx, book.CoverKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, "", ErrNoCover
		}
		return nil, "", err
	}

	contentType := mime.TypeByExtension(filepath.Ext(book.CoverKey))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return rc, contentType, nil
}
