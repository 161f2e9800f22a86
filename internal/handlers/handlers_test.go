package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/libraryd/apiserver/internal/services"
	"github.com/libraryd/apiserver/internal/store"
)

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        BookRequest
		wantErr     bool
	}{
		{
			name:        "json",
			contentType: "application/json; charset=utf-8",
			body:        `{"title":"Dune","author":"Frank Herbert","isbn":"1"}`,
			want:        BookRequest{Title: "Dune", Author: "Frank Herbert", ISBN: "1"},
		},
		{
			name:        "urlencoded",
			contentType: "application/x-www-form-urlencoded",
			body:        "title=Dune&author=Frank+Herbert&isbn=1",
			want:        BookRequest{Title: "Dune", Author: "Frank Herbert", ISBN: "1"},
		},
		{
			name:        "malformed json",
			contentType: "application/json",
			body:        `{"title":`,
			wantErr:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/librarian/add_book", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)

			var got BookRequest
			err := decodeRequest(req, &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantBody   string
	}{
		{services.ErrBookUnavailable, http.StatusConflict, "this book is currently unavailable"},
		{fmt.Errorf("wrapped: %w", services.ErrNotBorrower), http.StatusForbidden, "this borrow belongs to another user"},
		{services.ErrInvalidCredentials, http.StatusUnauthorized, "login unsuccessful, please check email and password"},
		{&services.ValidationError{Field: "isbn", Message: "is required"}, http.StatusBadRequest, "isbn: is required"},
		{store.ErrNotFound, http.StatusNotFound, "book not found"},
		{fmt.Errorf("gave up after 3 attempts: %w", store.ErrConflict), http.StatusConflict, "the request conflicted with a concurrent update, please retry"},
		{errors.New("connection reset"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			core, logs := observer.New(zap.ErrorLevel)
			rec := httptest.NewRecorder()
			writeServiceError(rec, zap.New(core), tt.err, "book")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, fmt.Sprintf(`{"error":%q}`, tt.wantBody), rec.Body.String())
			if tt.wantStatus == http.StatusInternalServerError {
				assert.Equal(t, 1, logs.Len())
			} else {
				assert.Equal(t, 0, logs.Len())
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	_, err := bearerToken(req)
	assert.ErrorIs(t, err, errMissingToken)

	req.Header.Set("Authorization", "Basic abc")
	_, err = bearerToken(req)
	assert.Error(t, err)

	req.Header.Set("Authorization", "bearer  tok ")
	token, err := bearerToken(req)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
}
