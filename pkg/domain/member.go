package domain

import "time"

// Member represents a registered borrower.
type Member struct {
	ID       int64     `db:"id"`
	Name     string    `db:"name"`
	Email    *string   `db:"email"`
	JoinedAt time.Time `db:"joined_at"`
}
