package store

import "time"

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Board struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Member is an explicit (board, user, role) grant. The board owner is
// never stored as a member row.
type Member struct {
	ID      string
	BoardID string
	UserID  string
	Role    string
	// Joined fields for API responses
	UserName  string
	UserEmail string
}

type List struct {
	ID        string
	BoardID   string
	Title     string
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Card struct {
	ID          string
	ListID      string
	Title       string
	Description string
	DueDate     *time.Time
	Position    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Label struct {
	ID      string
	BoardID string
	Name    string
	Color   string
}

type Comment struct {
	ID        string
	CardID    string
	UserID    string
	Content   string
	CreatedAt time.Time
	// Joined field for API responses
	UserName string
}

type Assignee struct {
	CardID string
	UserID string
	// Joined fields for API responses
	UserName  string
	UserEmail string
}
