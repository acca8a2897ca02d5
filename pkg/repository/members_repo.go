package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/bookloop/circulation/pkg/domain"
)

// MembersRepository handles member persistence and the lookups the loan
// subsystem consumes.
type MembersRepository struct {
	db *sqlx.DB
}

// NewMembersRepository creates a new members repository.
func NewMembersRepository(db *sqlx.DB) *MembersRepository {
	return &MembersRepository{db: db}
}

// Create inserts a new member and returns the generated id.
func (r *MembersRepository) Create(ctx context.Context, member *domain.Member) (int64, error) {
	query := `
		INSERT INTO members (name, email, joined_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowContext(ctx, query, member.Name, member.Email, member.JoinedAt).Scan(&id)
	return id, err
}

// GetByID retrieves a member by id.
func (r *MembersRepository) GetByID(ctx context.Context, id int64) (*domain.Member, error) {
	query := `SELECT id, name, email, joined_at FROM members WHERE id = $1`
	member := &domain.Member{}
	err := r.db.GetContext(ctx, member, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return member, nil
}

// GetAll retrieves every member.
func (r *MembersRepository) GetAll(ctx context.Context) ([]*domain.Member, error) {
	query := `SELECT id, name, email, joined_at FROM members ORDER BY id`
	members := []*domain.Member{}
	if err := r.db.SelectContext(ctx, &members, query); err != nil {
		return nil, err
	}
	return members, nil
}

// Exists checks whether a member exists.
func (r *MembersRepository) Exists(ctx context.Context, id int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM members WHERE id = $1)`
	var exists bool
	err := r.db.GetContext(ctx, &exists, query, id)
	return exists, err
}

// HasLoanHistory checks whether any loan, active or closed, references
// the member.
func (r *MembersRepository) HasLoanHistory(ctx context.Context, id int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM loans WHERE member_id = $1)`
	var out bool
	err := r.db.GetContext(ctx, &out, query, id)
	return out, err
}

// HasActiveLoans checks whether the member has any loan that has not
// been returned.
func (r *MembersRepository) HasActiveLoans(ctx context.Context, id int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM loans WHERE member_id = $1 AND return_date IS NULL)`
	var out bool
	err := r.db.GetContext(ctx, &out, query, id)
	return out, err
}

// Delete removes a member. Returns ErrMemberNotFound when no row matched.
func (r *MembersRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM members WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrMemberNotFound
	}
	return nil
}
