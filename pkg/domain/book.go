package domain

import "time"

// Book represents a single physical copy in the collection. The loan
// subsystem only consumes its identity and current checked-out status.
type Book struct {
	ID        int64     `db:"id"`
	Title     string    `db:"title"`
	Author    string    `db:"author"`
	ISBN      *string   `db:"isbn"`
	CreatedAt time.Time `db:"created_at"`
}
