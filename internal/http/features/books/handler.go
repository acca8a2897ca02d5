package books

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bookloop/circulation/internal/httputil"
	"github.com/bookloop/circulation/pkg/domain"
	"github.com/bookloop/circulation/pkg/repository"
)

// Handler handles book endpoints.
type Handler struct {
	logger *slog.Logger
	books  *repository.BooksRepository
}

// NewHandler creates a new books handler.
func NewHandler(logger *slog.Logger, books *repository.BooksRepository) *Handler {
	return &Handler{logger: logger, books: books}
}

// CreateRequest represents a book creation request.
type CreateRequest struct {
	Title  string  `json:"title"`
	Author string  `json:"author"`
	ISBN   *string `json:"isbn,omitempty"`
}

// BookResponse represents a book in API responses.
type BookResponse struct {
	ID         int64   `json:"id"`
	Title      string  `json:"title"`
	Author     string  `json:"author"`
	ISBN       *string `json:"isbn,omitempty"`
	CheckedOut bool    `json:"checked_out"`
}

// Create registers a new book.
// POST /v1/books
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		httputil.Error(w, http.StatusBadRequest, "title is required")
		return
	}

	book := &domain.Book{
		Title:     req.Title,
		Author:    req.Author,
		ISBN:      req.ISBN,
		CreatedAt: time.Now(),
	}
	id, err := h.books.Create(r.Context(), book)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	book.ID = id
	httputil.JSON(w, http.StatusCreated, BookResponse{
		ID: book.ID, Title: book.Title, Author: book.Author, ISBN: book.ISBN,
	})
}

// Get retrieves a single book with its current checked-out status.
// GET /v1/books/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	book, err := h.books.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrBookNotFound) {
		httputil.Error(w, http.StatusNotFound, "book not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	checkedOut, err := h.books.IsCheckedOut(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, BookResponse{
		ID: book.ID, Title: book.Title, Author: book.Author, ISBN: book.ISBN, CheckedOut: checkedOut,
	})
}

// List retrieves every book.
// GET /v1/books
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.books.GetAll(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	out := make([]BookResponse, 0, len(list))
	for _, book := range list {
		out = append(out, BookResponse{
			ID: book.ID, Title: book.Title, Author: book.Author, ISBN: book.ISBN,
		})
	}
	httputil.JSON(w, http.StatusOK, out)
}

// Delete removes a book. Books with any loan history are kept so closed
// loans stay resolvable.
// DELETE /v1/books/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	hasHistory, err := h.books.HasLoanHistory(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if hasHistory {
		httputil.Error(w, http.StatusConflict, "book has loan history and cannot be deleted")
		return
	}

	err = h.books.Delete(r.Context(), id)
	if errors.Is(err, domain.ErrBookNotFound) {
		httputil.Error(w, http.StatusNotFound, "book not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("book operation failed", "error", err, "path", r.URL.Path)
	httputil.Error(w, http.StatusInternalServerError, "internal server error")
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.Error(w, http.StatusBadRequest, "invalid book id")
		return 0, false
	}
	return id, true
}
