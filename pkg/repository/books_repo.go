package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/bookloop/circulation/pkg/domain"
)

// BooksRepository handles book persistence and the lookups the loan
// subsystem consumes.
type BooksRepository struct {
	db *sqlx.DB
}

// NewBooksRepository creates a new books repository.
func NewBooksRepository(db *sqlx.DB) *BooksRepository {
	return &BooksRepository{db: db}
}

// Create inserts a new book and returns the generated id.
func (r *BooksRepository) Create(ctx context.Context, book *domain.Book) (int64, error) {
	query := `
		INSERT INTO books (title, author, isbn, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowContext(ctx, query, book.Title, book.Author, book.ISBN, book.CreatedAt).Scan(&id)
	return id, err
}

// GetByID retrieves a book by id.
func (r *BooksRepository) GetByID(ctx context.Context, id int64) (*domain.Book, error) {
	query := `SELECT id, title, author, isbn, created_at FROM books WHERE id = $1`
	book := &domain.Book{}
	err := r.db.GetContext(ctx, book, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBookNotFound
	}
	if err != nil {
		return nil, err
	}
	return book, nil
}

// GetAll retrieves every book.
func (r *BooksRepository) GetAll(ctx context.Context) ([]*domain.Book, error) {
	query := `SELECT id, title, author, isbn, created_at FROM books ORDER BY id`
	books := []*domain.Book{}
	if err := r.db.SelectContext(ctx, &books, query); err != nil {
		return nil, err
	}
	return books, nil
}

// Exists checks whether a book exists.
func (r *BooksRepository) Exists(ctx context.Context, id int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM books WHERE id = $1)`
	var exists bool
	err := r.db.GetContext(ctx, &exists, query, id)
	return exists, err
}

// IsCheckedOut checks whether the book currently has an active loan.
func (r *BooksRepository) IsCheckedOut(ctx context.Context, id int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM loans WHERE book_id = $1 AND return_date IS NULL)`
	var out bool
	err := r.db.GetContext(ctx, &out, query, id)
	return out, err
}

// HasLoanHistory checks whether any loan, active or closed, references
// the book.
func (r *BooksRepository) HasLoanHistory(ctx context.Context, id int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM loans WHERE book_id = $1)`
	var out bool
	err := r.db.GetContext(ctx, &out, query, id)
	return out, err
}

// Delete removes a book. Returns ErrBookNotFound when no row matched.
// Callers are expected to check HasLoanHistory first; the FK constraint
// on loans is the backstop.
func (r *BooksRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrBookNotFound
	}
	return nil
}
