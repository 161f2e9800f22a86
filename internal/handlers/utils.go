package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

const maxFormMemory = 1 << 20

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse reports the outcome of an action.
type MessageResponse struct {
	Message   string `json:"message"`
	LoggedOut bool   `json:"logged_out,omitempty"`
}

// formDecoder is implemented by request bodies that may also arrive as
// URL-encoded or multipart form fields.
type formDecoder interface {
	decodeForm(form url.Values)
}

// decodeRequest fills dst from a JSON body, or from form fields for any
// other content type.
func decodeRequest(r *http.Request, dst formDecoder) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return errors.New("invalid request")
		}
		return nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return errors.New("invalid multipart form")
		}
	default:
		if err := r.ParseForm(); err != nil {
			return errors.New("invalid form")
		}
	}
	dst.decodeForm(r.Form)
	return nil
}

func parseIDParam(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageResponse{Message: message})
}
